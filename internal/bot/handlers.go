package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"veebee/internal/premium"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	switch data.Name {
	case "premium":
		b.handlePremium(ctx, session, interaction, data)
	case "minecraft":
		b.handleMinecraft(ctx, session, interaction, data)
	}
}

func (b *Bot) handlePremium(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if interaction.GuildID == "" || interaction.Member == nil || interaction.Member.User == nil {
		b.respond(session, interaction, "This command must be used in a server.", true)
		return
	}
	if len(data.Options) == 0 {
		return
	}

	top := data.Options[0]
	if top.Type == discordgo.ApplicationCommandOptionSubCommandGroup {
		if !b.isOperator(interaction) {
			b.respond(session, interaction, "You do not have permission to use this command.", true)
			return
		}
		if len(top.Options) == 0 {
			return
		}
		sub := top.Options[0]
		switch top.Name {
		case "servers":
			b.handleServersGroup(ctx, session, interaction, sub)
		case "users":
			b.handleUsersGroup(ctx, session, interaction, sub)
		case "roles":
			b.handleRolesGroup(ctx, session, interaction, sub)
		case "system":
			b.handleSystemGroup(ctx, session, interaction, sub)
		}
		return
	}

	switch top.Name {
	case "status":
		b.handleStatus(ctx, session, interaction, top)
	case "server":
		b.handleServerSelfGrant(ctx, session, interaction)
	case "server-remove":
		b.handleServerSelfRemove(ctx, session, interaction)
	case "server-info":
		b.handleServerInfo(ctx, session, interaction, interaction.GuildID)
	}
}

// isOperator gates the management groups: they only work in the premium guild,
// for administrators holding the operator role when one is configured.
func (b *Bot) isOperator(interaction *discordgo.InteractionCreate) bool {
	if interaction.GuildID != b.cfg.Premium.GuildID {
		return false
	}
	member := interaction.Member
	if member.Permissions&discordgo.PermissionAdministrator == 0 {
		return false
	}
	if b.cfg.Premium.OperatorRoleID == "" {
		return true
	}
	for _, roleID := range member.Roles {
		if roleID == b.cfg.Premium.OperatorRoleID {
			return true
		}
	}
	return false
}

func (b *Bot) handleServersGroup(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	actorID := interaction.Member.User.ID
	opts := optionMap(sub.Options)

	switch sub.Name {
	case "add":
		guildID := opts["guild-id"].StringValue()
		days := 0
		if opt, ok := opts["days"]; ok {
			days = int(opt.IntValue())
		}
		if err := b.manager.AddServer(ctx, guildID, days, actorID); err != nil {
			b.respondError(session, interaction, "Failed to grant server premium", err)
			return
		}
		detail := "permanently"
		if days > 0 {
			detail = fmt.Sprintf("for %d days", days)
		}
		b.respond(session, interaction, fmt.Sprintf("Granted premium to server %s %s.", guildID, detail), true)
	case "remove":
		guildID := opts["guild-id"].StringValue()
		if err := b.manager.RemoveServer(ctx, guildID, actorID); err != nil {
			b.respondError(session, interaction, "Failed to remove server premium", err)
			return
		}
		b.respond(session, interaction, fmt.Sprintf("Removed premium from server %s.", guildID), true)
	case "list":
		servers, err := b.store.ListPremiumServers(ctx)
		if err != nil {
			b.respondError(session, interaction, "Failed to list premium servers", err)
			return
		}
		if len(servers) == 0 {
			b.respond(session, interaction, "No premium servers.", true)
			return
		}
		var sb strings.Builder
		for _, server := range servers {
			fmt.Fprintf(&sb, "`%s`: %s, added by <@%s>\n",
				server.GuildID, formatExpiry(server.ExpiresAt, server.IsPermanent), server.AddedBy)
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Premium Servers", sb.String(), colorInfo, nil), true)
	case "info":
		b.handleServerInfo(ctx, session, interaction, opts["guild-id"].StringValue())
	}
}

func (b *Bot) handleUsersGroup(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	actorID := interaction.Member.User.ID
	opts := optionMap(sub.Options)

	switch sub.Name {
	case "add":
		user := opts["user"].UserValue(session)
		days := 0
		if opt, ok := opts["days"]; ok {
			days = int(opt.IntValue())
		}
		if err := b.manager.AddUser(ctx, user.ID, days, actorID); err != nil {
			b.respondError(session, interaction, "Failed to grant premium", err)
			return
		}
		if opt, ok := opts["permanent"]; ok && opt.BoolValue() {
			if err := b.manager.MakeUserPermanent(ctx, user.ID, actorID); err != nil {
				b.respondError(session, interaction, "Failed to make grant permanent", err)
				return
			}
			b.respond(session, interaction, fmt.Sprintf("Granted permanent premium to <@%s>.", user.ID), true)
			return
		}
		b.respond(session, interaction, fmt.Sprintf("Granted premium to <@%s>.", user.ID), true)
	case "remove":
		user := opts["user"].UserValue(session)
		if err := b.manager.RemoveUser(ctx, user.ID, actorID); err != nil {
			b.respondError(session, interaction, "Failed to remove premium", err)
			return
		}
		b.respond(session, interaction, fmt.Sprintf("Removed premium from <@%s>.", user.ID), true)
	case "list":
		users, err := b.store.ListActivePremiumUsers(ctx, time.Now())
		if err != nil {
			b.respondError(session, interaction, "Failed to list premium users", err)
			return
		}
		if len(users) == 0 {
			b.respond(session, interaction, "No active premium users.", true)
			return
		}
		var sb strings.Builder
		for _, user := range users {
			fmt.Fprintf(&sb, "<@%s>: %s\n", user.UserID, formatExpiry(user.ExpiresAt, user.IsPermanent))
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Premium Users", sb.String(), colorInfo, nil), true)
	case "info":
		user := opts["user"].UserValue(session)
		grant, err := b.store.GetPremiumUser(ctx, user.ID)
		if err != nil {
			b.respondError(session, interaction, "Failed to load premium details", err)
			return
		}
		sources, err := b.manager.Sources(ctx, interaction.GuildID, user.ID)
		if err != nil {
			b.respondError(session, interaction, "Failed to resolve premium sources", err)
			return
		}
		fields := []*discordgo.MessageEmbedField{}
		if grant != nil {
			fields = append(fields,
				&discordgo.MessageEmbedField{Name: "Manual grant", Value: formatExpiry(grant.ExpiresAt, grant.IsPermanent), Inline: true},
				&discordgo.MessageEmbedField{Name: "Granted by", Value: "<@" + grant.GrantedBy + ">", Inline: true},
				&discordgo.MessageEmbedField{Name: "Times extended", Value: fmt.Sprintf("%d", grant.TimesExtended), Inline: true},
			)
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Sources", Value: formatSources(sources)})
		b.respondEmbed(session, interaction, b.commandEmbed(
			fmt.Sprintf("Premium info: %s", user.Username), "", colorInfo, fields), true)
	case "extend":
		user := opts["user"].UserValue(session)
		days := int(opts["days"].IntValue())
		if err := b.manager.ExtendUser(ctx, user.ID, days, actorID); err != nil {
			b.respondError(session, interaction, "Failed to extend premium", err)
			return
		}
		b.respond(session, interaction, fmt.Sprintf("Extended <@%s>'s premium by %d days.", user.ID, days), true)
	}
}

func (b *Bot) handleRolesGroup(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	actorID := interaction.Member.User.ID
	opts := optionMap(sub.Options)

	switch sub.Name {
	case "add":
		role := opts["role"].RoleValue(session, interaction.GuildID)
		autoSync := true
		if opt, ok := opts["auto-sync"]; ok {
			autoSync = opt.BoolValue()
		}
		if err := b.manager.AddRole(ctx, interaction.GuildID, role.ID, autoSync, actorID); err != nil {
			b.respondError(session, interaction, "Failed to register premium role", err)
			return
		}
		b.respond(session, interaction, fmt.Sprintf("Registered <@&%s> as a premium role.", role.ID), true)
	case "remove":
		role := opts["role"].RoleValue(session, interaction.GuildID)
		if err := b.manager.RemoveRole(ctx, interaction.GuildID, role.ID, actorID); err != nil {
			b.respondError(session, interaction, "Failed to unregister premium role", err)
			return
		}
		b.respond(session, interaction, fmt.Sprintf("Unregistered premium role <@&%s>.", role.ID), true)
	case "list":
		roles, err := b.store.ListPremiumRoles(ctx, interaction.GuildID)
		if err != nil {
			b.respondError(session, interaction, "Failed to list premium roles", err)
			return
		}
		if len(roles) == 0 {
			b.respond(session, interaction, "No premium roles registered in this server.", true)
			return
		}
		var sb strings.Builder
		for _, role := range roles {
			sync := "manual"
			if role.AutoSync {
				sync = "auto-sync"
			}
			fmt.Fprintf(&sb, "<@&%s>: %s, added by <@%s>\n", role.RoleID, sync, role.AddedBy)
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Premium Roles", sb.String(), colorInfo, nil), true)
	case "sync":
		b.startSync(ctx)
		b.respond(session, interaction, "Premium role sync started.", true)
	}
}

func (b *Bot) handleSystemGroup(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(sub.Options)

	switch sub.Name {
	case "settings":
		cfg := b.cfg.Premium
		fields := []*discordgo.MessageEmbedField{
			{Name: "Premium guild", Value: cfg.GuildID, Inline: true},
			{Name: "Premium role", Value: "<@&" + cfg.RoleID + ">", Inline: true},
			{Name: "Global roles", Value: fmt.Sprintf("%d configured", len(cfg.GlobalRoleIDs)), Inline: true},
			{Name: "Default duration", Value: fmt.Sprintf("%d days", cfg.DefaultDays), Inline: true},
			{Name: "Sync interval", Value: cfg.SyncInterval.String(), Inline: true},
			{Name: "Batch size", Value: fmt.Sprintf("%d", cfg.BatchSize), Inline: true},
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Premium Settings", "", colorInfo, fields), true)
	case "sync-all":
		b.startSync(ctx)
		b.respond(session, interaction, "Full premium sync started.", true)
	case "stats":
		stats, err := b.manager.Stats(ctx)
		if err != nil {
			b.respondError(session, interaction, "Failed to load premium statistics", err)
			return
		}
		fields := []*discordgo.MessageEmbedField{
			{Name: "Users", Value: fmt.Sprintf("%d total, %d active, %d permanent",
				stats.TotalUsers, stats.ActiveUsers, stats.PermanentUsers), Inline: false},
			{Name: "Servers", Value: fmt.Sprintf("%d total, %d active, %d permanent",
				stats.TotalServers, stats.ActiveServers, stats.PermanentServers), Inline: false},
			{Name: "Roles", Value: fmt.Sprintf("%d registered, %d auto-sync",
				stats.TotalRoles, stats.AutoSyncRoles), Inline: false},
			{Name: "Average grant", Value: fmt.Sprintf("users %s, servers %s",
				stats.AvgUserDuration.Round(time.Hour), stats.AvgServerDuration.Round(time.Hour)), Inline: false},
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Premium Statistics", "", colorInfo, fields), true)
	case "audit-log":
		days := 7
		if opt, ok := opts["days"]; ok {
			days = int(opt.IntValue())
		}
		prefix := ""
		if opt, ok := opts["type"]; ok {
			prefix = opt.StringValue()
		}
		entries, err := b.store.ListAuditLog(ctx, days, prefix)
		if err != nil {
			b.respondError(session, interaction, "Failed to read audit log", err)
			return
		}
		if len(entries) == 0 {
			b.respond(session, interaction, "No audit entries in that window.", true)
			return
		}
		const maxShown = 15
		var sb strings.Builder
		for i, entry := range entries {
			if i == maxShown {
				fmt.Fprintf(&sb, "… and %d more", len(entries)-maxShown)
				break
			}
			fmt.Fprintf(&sb, "<t:%d:R> `%s` by %s %s\n",
				entry.Timestamp.Unix(), entry.ActionType, formatActor(entry.PerformedBy), entry.Details)
		}
		b.respondEmbed(session, interaction, b.commandEmbed(
			fmt.Sprintf("Audit log, last %d days", days), sb.String(), colorInfo, nil), true)
	}
}

func (b *Bot) handleStatus(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	target := interaction.Member.User
	if opt, ok := optionMap(sub.Options)["user"]; ok {
		target = opt.UserValue(session)
	}

	ok, err := b.manager.HasPremiumAccess(ctx, interaction.GuildID, target.ID)
	if err != nil {
		b.respondError(session, interaction, "Failed to resolve premium status", err)
		return
	}
	if !ok {
		b.respondEmbed(session, interaction, b.commandEmbed("Premium Status",
			fmt.Sprintf("<@%s> does not have premium access.", target.ID), colorError, nil), true)
		return
	}

	sources, err := b.manager.Sources(ctx, interaction.GuildID, target.ID)
	if err != nil {
		b.respondError(session, interaction, "Failed to resolve premium sources", err)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Premium Status",
		fmt.Sprintf("<@%s> has premium access.\n\n%s", target.ID, formatSources(sources)), colorSuccess, nil), true)
}

// handleServerSelfGrant lets a premium user turn on premium for the current
// server with their own entitlement. Only the granter can undo it.
func (b *Bot) handleServerSelfGrant(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	member := interaction.Member
	if member.Permissions&discordgo.PermissionManageServer == 0 {
		b.respond(session, interaction, "You need the Manage Server permission to grant premium to this server.", true)
		return
	}

	ok, err := b.manager.HasPremiumAccess(ctx, "", member.User.ID)
	if err != nil {
		b.respondError(session, interaction, "Failed to verify your premium status", err)
		return
	}
	if !ok {
		b.respond(session, interaction, "You must have premium access yourself to grant it to a server.", true)
		return
	}

	already, err := b.manager.IsPremiumServer(ctx, interaction.GuildID)
	if err != nil {
		b.respondError(session, interaction, "Failed to check this server's premium", err)
		return
	}
	if already {
		b.respond(session, interaction, "This server already has premium. Use `/premium server-info` for details.", true)
		return
	}

	if err := b.manager.AddServer(ctx, interaction.GuildID, 0, member.User.ID); err != nil {
		b.respondError(session, interaction, "Failed to grant premium to this server", err)
		return
	}
	b.respond(session, interaction,
		"Granted premium to this server. Only you, as the granter, can remove it with `/premium server-remove`.", true)
}

func (b *Bot) handleServerSelfRemove(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	member := interaction.Member
	if member.Permissions&discordgo.PermissionManageServer == 0 {
		b.respond(session, interaction, "You need the Manage Server permission to use this command.", true)
		return
	}

	server, err := b.store.GetPremiumServer(ctx, interaction.GuildID)
	if err != nil {
		b.respondError(session, interaction, "Failed to check this server's premium", err)
		return
	}
	if server == nil {
		b.respond(session, interaction, "This server does not have premium.", true)
		return
	}
	if server.AddedBy != member.User.ID {
		b.respond(session, interaction, "Only the user who granted premium can remove it.", true)
		return
	}

	if err := b.manager.RemoveServer(ctx, interaction.GuildID, member.User.ID); err != nil {
		b.respondError(session, interaction, "Failed to remove this server's premium", err)
		return
	}
	b.respond(session, interaction, "Removed this server's premium.", true)
}

func (b *Bot) handleServerInfo(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, guildID string) {
	server, err := b.store.GetPremiumServer(ctx, guildID)
	if err != nil {
		b.respondError(session, interaction, "Failed to load server premium details", err)
		return
	}
	if server == nil {
		b.respond(session, interaction, "That server does not have premium.", true)
		return
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Status", Value: formatExpiry(server.ExpiresAt, server.IsPermanent), Inline: true},
		{Name: "Granted by", Value: "<@" + server.AddedBy + ">", Inline: true},
		{Name: "Granted", Value: fmt.Sprintf("<t:%d:R>", server.AddedAt.Unix()), Inline: true},
		{Name: "Times extended", Value: fmt.Sprintf("%d", server.TimesExtended), Inline: true},
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Server Premium", "", colorInfo, fields), true)
}

func (b *Bot) handleMinecraft(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	opts := optionMap(data.Options)
	username := opts["username"].StringValue()

	profile, err := b.lookup.Profile(ctx, username)
	if err != nil {
		b.respondError(session, interaction, "Failed to look up that profile", err)
		return
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Username", Value: profile.Name, Inline: true},
		{Name: "UUID", Value: profile.UUID, Inline: true},
	}
	if len(profile.NameHistory) > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Name history",
			Value: strings.Join(profile.NameHistory, "\n"),
		})
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Minecraft Profile", "", colorInfo, fields), true)
}

// startSync kicks off a convergence pass without blocking the interaction
// response. A pass already in flight is left to finish.
func (b *Bot) startSync(ctx context.Context) {
	go func() {
		if _, err := b.manager.SyncPremiumRoles(ctx); err != nil && !errors.Is(err, premium.ErrSyncInFlight) {
			b.logger.Error("on-demand premium sync failed", zap.Error(err))
		}
	}()
}

func (b *Bot) respondError(session *discordgo.Session, interaction *discordgo.InteractionCreate, message string, err error) {
	b.logger.Warn("command failed", zap.String("message", message), zap.Error(err))
	switch {
	case errors.Is(err, premium.ErrNotPremium),
		errors.Is(err, premium.ErrPermanentGrant),
		errors.Is(err, premium.ErrRoleNotManageable):
		b.respond(session, interaction, fmt.Sprintf("%s: %v", message, err), true)
	default:
		b.respond(session, interaction, message+".", true)
	}
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, option := range options {
		out[option.Name] = option
	}
	return out
}

func formatExpiry(expiresAt *time.Time, permanent bool) string {
	if permanent {
		return "permanent"
	}
	if expiresAt == nil {
		return "no expiry recorded"
	}
	return fmt.Sprintf("expires <t:%d:R>", expiresAt.Unix())
}

func formatActor(actor string) string {
	if actor == premium.ActorSystem {
		return premium.ActorSystem
	}
	return "<@" + actor + ">"
}

func formatSources(sources []premium.Source) string {
	if len(sources) == 0 {
		return "No sources."
	}
	var sb strings.Builder
	for i, source := range sources {
		marker := ""
		if i == 0 {
			marker = " (primary)"
		}
		switch source.Type {
		case "role":
			fmt.Fprintf(&sb, "role <@&%s>%s\n", source.SourceID, marker)
		case "server":
			fmt.Fprintf(&sb, "server-wide, %s%s\n", formatExpiry(source.ExpiresAt, source.IsPermanent), marker)
		default:
			fmt.Fprintf(&sb, "manual grant, %s%s\n", formatExpiry(source.ExpiresAt, source.IsPermanent), marker)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
