package bot

import "github.com/bwmarrin/discordgo"

func premiumCommand() *discordgo.ApplicationCommand {
	manageGuild := int64(discordgo.PermissionManageServer)
	return &discordgo.ApplicationCommand{
		Name:                     "premium",
		Description:              "Premium access management",
		DefaultMemberPermissions: &manageGuild,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
				Name:        "servers",
				Description: "Manage premium servers",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "add",
						Description: "Grant premium to a server",
						Options: []*discordgo.ApplicationCommandOption{
							{Type: discordgo.ApplicationCommandOptionString, Name: "guild-id", Description: "Target server id", Required: true},
							{Type: discordgo.ApplicationCommandOptionInteger, Name: "days", Description: "Duration in days (omit for permanent)"},
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "remove",
						Description: "Remove premium from a server",
						Options: []*discordgo.ApplicationCommandOption{
							{Type: discordgo.ApplicationCommandOptionString, Name: "guild-id", Description: "Target server id", Required: true},
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "list",
						Description: "List premium servers",
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "info",
						Description: "Show premium details for a server",
						Options: []*discordgo.ApplicationCommandOption{
							{Type: discordgo.ApplicationCommandOptionString, Name: "guild-id", Description: "Target server id", Required: true},
						},
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
				Name:        "users",
				Description: "Manage premium users",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "add",
						Description: "Grant premium to a user",
						Options: []*discordgo.ApplicationCommandOption{
							{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Target user", Required: true},
							{Type: discordgo.ApplicationCommandOptionInteger, Name: "days", Description: "Duration in days"},
							{Type: discordgo.ApplicationCommandOptionBoolean, Name: "permanent", Description: "Grant permanently"},
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "remove",
						Description: "Remove premium from a user",
						Options: []*discordgo.ApplicationCommandOption{
							{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Target user", Required: true},
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "list",
						Description: "List active premium users",
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "info",
						Description: "Show premium details for a user",
						Options: []*discordgo.ApplicationCommandOption{
							{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Target user", Required: true},
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "extend",
						Description: "Extend a user's premium",
						Options: []*discordgo.ApplicationCommandOption{
							{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Target user", Required: true},
							{Type: discordgo.ApplicationCommandOptionInteger, Name: "days", Description: "Days to add", Required: true},
						},
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
				Name:        "roles",
				Description: "Manage premium role registrations",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "add",
						Description: "Register a role that grants premium",
						Options: []*discordgo.ApplicationCommandOption{
							{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role to register", Required: true},
							{Type: discordgo.ApplicationCommandOptionBoolean, Name: "auto-sync", Description: "Include in automatic syncing"},
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "remove",
						Description: "Unregister a premium role",
						Options: []*discordgo.ApplicationCommandOption{
							{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role to unregister", Required: true},
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "list",
						Description: "List registered premium roles",
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "sync",
						Description: "Run a premium role sync pass now",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
				Name:        "system",
				Description: "Premium system maintenance",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "settings",
						Description: "Show premium system settings",
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "sync-all",
						Description: "Run a full premium sync pass now",
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "stats",
						Description: "Show premium statistics",
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "audit-log",
						Description: "Show recent premium audit entries",
						Options: []*discordgo.ApplicationCommandOption{
							{Type: discordgo.ApplicationCommandOptionInteger, Name: "days", Description: "Window in days (default 7)"},
							{Type: discordgo.ApplicationCommandOptionString, Name: "type", Description: "Action type prefix filter"},
						},
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Check premium status",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to check (defaults to you)"},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "server",
				Description: "Grant premium to this server using your own premium",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "server-remove",
				Description: "Remove the premium you granted to this server",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "server-info",
				Description: "Show this server's premium details",
			},
		},
	}
}

func minecraftCommand() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "minecraft",
		Description: "Look up a Minecraft profile",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "username", Description: "Minecraft username", Required: true},
		},
	}
}

func (b *Bot) registerCommands() error {
	commands := []*discordgo.ApplicationCommand{
		premiumCommand(),
		minecraftCommand(),
	}

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}

	return nil
}
