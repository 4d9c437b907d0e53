package premium

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"veebee/internal/config"
	"veebee/internal/storage"
)

var (
	// ErrNotPremium is returned when an operation requires an existing grant.
	ErrNotPremium = errors.New("target has no premium grant")
	// ErrPermanentGrant is returned when extending a grant that has no expiry.
	ErrPermanentGrant = errors.New("grant is already permanent")
	// ErrRoleNotManageable is returned when the bot's role position or
	// permissions are insufficient to manage a role.
	ErrRoleNotManageable = errors.New("bot cannot manage this role")
)

// Source describes one reason a user currently has premium. A user may have
// several at once; the first in precedence order (role, server, manual) is the
// primary source.
type Source struct {
	Type        string // "role", "server" or "manual"
	SourceID    string // role id or guild id, empty for manual
	ExpiresAt   *time.Time
	IsPermanent bool
	GrantedAt   time.Time
	GrantedBy   string
}

// Manager owns all premium entitlement state transitions. Every mutation
// writes exactly one audit entry alongside the store write.
type Manager struct {
	store  *storage.Store
	audit  *Auditor
	dir    Directory
	logger *zap.Logger
	cfg    config.PremiumConfig
	now    func() time.Time

	limiter *rate.Limiter
	syncing atomic.Bool
}

func NewManager(store *storage.Store, audit *Auditor, dir Directory, logger *zap.Logger, cfg config.PremiumConfig) *Manager {
	return &Manager{
		store:   store,
		audit:   audit,
		dir:     dir,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Every(cfg.BatchDelay), 1),
	}
}

// AddUser grants manual premium for the given number of days, replacing any
// prior grant outright. Zero or negative days fall back to the configured
// default duration.
func (m *Manager) AddUser(ctx context.Context, userID string, days int, grantedBy string) error {
	if days <= 0 {
		days = m.cfg.DefaultDays
	}
	now := m.now()
	duration := time.Duration(days) * 24 * time.Hour
	expires := now.Add(duration)

	err := m.store.ReplacePremiumUser(ctx, storage.PremiumUser{
		UserID:        userID,
		ExpiresAt:     &expires,
		StartedAt:     now,
		GrantedBy:     grantedBy,
		TotalTime:     duration,
		TimesExtended: 1,
	})
	if err != nil {
		return err
	}
	m.audit.Log(ctx, ActionAddUser, Ref{UserID: userID}, grantedBy,
		fmt.Sprintf("granted %d days", days))
	return nil
}

// RemoveUser deletes a manual grant. Removing a user who has none is not an
// error.
func (m *Manager) RemoveUser(ctx context.Context, userID, removedBy string) error {
	if err := m.store.DeletePremiumUser(ctx, userID); err != nil {
		return err
	}
	m.audit.Log(ctx, ActionRemoveUser, Ref{UserID: userID}, removedBy, "")
	return nil
}

// AddServer grants server-wide premium. Zero or negative days means the grant
// is permanent.
func (m *Manager) AddServer(ctx context.Context, guildID string, days int, addedBy string) error {
	now := m.now()
	server := storage.PremiumServer{
		GuildID:       guildID,
		AddedBy:       addedBy,
		AddedAt:       now,
		TimesExtended: 1,
	}
	details := "permanent grant"
	if days > 0 {
		duration := time.Duration(days) * 24 * time.Hour
		expires := now.Add(duration)
		server.ExpiresAt = &expires
		server.TotalTime = duration
		details = fmt.Sprintf("granted %d days", days)
	} else {
		server.IsPermanent = true
	}

	if err := m.store.ReplacePremiumServer(ctx, server); err != nil {
		return err
	}
	m.audit.Log(ctx, ActionAddServer, Ref{GuildID: guildID}, addedBy, details)
	return nil
}

func (m *Manager) RemoveServer(ctx context.Context, guildID, removedBy string) error {
	if err := m.store.DeletePremiumServer(ctx, guildID); err != nil {
		return err
	}
	m.audit.Log(ctx, ActionRemoveServer, Ref{GuildID: guildID}, removedBy, "")
	return nil
}

// ExtendUser pushes a manual grant's expiry forward. The new expiry is
// computed from the current expiry when it is still in the future, otherwise
// from now, so extending an expired grant always yields the full requested
// window.
func (m *Manager) ExtendUser(ctx context.Context, userID string, days int, extendedBy string) error {
	user, err := m.store.GetPremiumUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("extend user %s: %w", userID, ErrNotPremium)
	}
	if user.IsPermanent {
		return fmt.Errorf("extend user %s: %w", userID, ErrPermanentGrant)
	}

	now := m.now()
	duration := time.Duration(days) * 24 * time.Hour
	base := now
	if user.ExpiresAt != nil && user.ExpiresAt.After(now) {
		base = *user.ExpiresAt
	}
	expires := base.Add(duration)

	user.ExpiresAt = &expires
	user.TotalTime += duration
	user.TimesExtended++
	user.LastExtendedAt = &now
	user.LastExtendedBy = extendedBy

	if err := m.store.ReplacePremiumUser(ctx, *user); err != nil {
		return err
	}
	m.audit.Log(ctx, ActionExtendUser, Ref{UserID: userID}, extendedBy,
		fmt.Sprintf("extended by %d days", days))
	return nil
}

func (m *Manager) ExtendServer(ctx context.Context, guildID string, days int, extendedBy string) error {
	server, err := m.store.GetPremiumServer(ctx, guildID)
	if err != nil {
		return err
	}
	if server == nil {
		return fmt.Errorf("extend server %s: %w", guildID, ErrNotPremium)
	}
	if server.IsPermanent {
		return fmt.Errorf("extend server %s: %w", guildID, ErrPermanentGrant)
	}

	now := m.now()
	duration := time.Duration(days) * 24 * time.Hour
	base := now
	if server.ExpiresAt != nil && server.ExpiresAt.After(now) {
		base = *server.ExpiresAt
	}
	expires := base.Add(duration)

	server.ExpiresAt = &expires
	server.TotalTime += duration
	server.TimesExtended++
	server.LastExtendedAt = &now
	server.LastExtendedBy = extendedBy

	if err := m.store.ReplacePremiumServer(ctx, *server); err != nil {
		return err
	}
	m.audit.Log(ctx, ActionExtendServer, Ref{GuildID: guildID}, extendedBy,
		fmt.Sprintf("extended by %d days", days))
	return nil
}

// MakeUserPermanent clears the expiry on an existing grant. A missing grant is
// a no-op update, not an error.
func (m *Manager) MakeUserPermanent(ctx context.Context, userID, setBy string) error {
	if err := m.store.MakePremiumUserPermanent(ctx, userID); err != nil {
		return err
	}
	m.audit.Log(ctx, ActionMakePermanentUser, Ref{UserID: userID}, setBy, "")
	return nil
}

func (m *Manager) MakeServerPermanent(ctx context.Context, guildID, setBy string) error {
	if err := m.store.MakePremiumServerPermanent(ctx, guildID); err != nil {
		return err
	}
	m.audit.Log(ctx, ActionMakePermanentServer, Ref{GuildID: guildID}, setBy, "")
	return nil
}

// AddRole registers a role whose members get premium in that guild. The bot
// must be able to manage the role so a later sync pass can act on it.
func (m *Manager) AddRole(ctx context.Context, guildID, roleID string, autoSync bool, addedBy string) error {
	if err := m.CanManageRole(ctx, guildID, roleID); err != nil {
		return err
	}
	err := m.store.UpsertPremiumRole(ctx, storage.PremiumRole{
		GuildID:  guildID,
		RoleID:   roleID,
		AutoSync: autoSync,
		AddedBy:  addedBy,
		AddedAt:  m.now(),
	})
	if err != nil {
		return err
	}
	m.audit.Log(ctx, ActionAddRole, Ref{GuildID: guildID, RoleID: roleID}, addedBy, "")
	return nil
}

// RemoveRole unregisters a premium role. A registration whose Discord role was
// deleted upstream is removed without the manageability check, so it never gets
// stuck.
func (m *Manager) RemoveRole(ctx context.Context, guildID, roleID, removedBy string) error {
	roles, err := m.dir.GuildRoles(ctx, guildID)
	if err != nil {
		return err
	}
	exists := false
	for _, role := range roles {
		if role.ID == roleID {
			exists = true
			break
		}
	}
	if exists {
		if err := m.CanManageRole(ctx, guildID, roleID); err != nil {
			return err
		}
	}
	if err := m.store.DeletePremiumRole(ctx, guildID, roleID); err != nil {
		return err
	}
	details := ""
	if !exists {
		details = "role no longer exists"
	}
	m.audit.Log(ctx, ActionRemoveRole, Ref{GuildID: guildID, RoleID: roleID}, removedBy, details)
	return nil
}

// CanManageRole checks that the bot's highest role sits strictly above the
// target role and that it holds the manage-roles permission.
func (m *Manager) CanManageRole(ctx context.Context, guildID, roleID string) error {
	roles, err := m.dir.GuildRoles(ctx, guildID)
	if err != nil {
		return err
	}
	bot, err := m.dir.BotMember(ctx, guildID)
	if err != nil {
		return err
	}
	if bot == nil {
		return fmt.Errorf("bot is not a member of guild %s: %w", guildID, ErrRoleNotManageable)
	}

	byID := make(map[string]*discordgo.Role, len(roles))
	for _, role := range roles {
		byID[role.ID] = role
	}
	target, ok := byID[roleID]
	if !ok {
		return fmt.Errorf("role %s not found in guild %s: %w", roleID, guildID, ErrRoleNotManageable)
	}

	var highest int
	var perms int64
	for _, id := range bot.Roles {
		role, ok := byID[id]
		if !ok {
			continue
		}
		if role.Position > highest {
			highest = role.Position
		}
		perms |= role.Permissions
	}

	canManage := perms&discordgo.PermissionAdministrator != 0 ||
		perms&discordgo.PermissionManageRoles != 0
	if !canManage {
		return fmt.Errorf("missing manage-roles permission in guild %s: %w", guildID, ErrRoleNotManageable)
	}
	if highest <= target.Position {
		return fmt.Errorf("role %s is at or above the bot's highest role: %w", roleID, ErrRoleNotManageable)
	}
	return nil
}

// IsPremiumUser reports whether a manual grant is currently valid. Observing
// an expired grant emits a PREMIUM_EXPIRED audit entry; repeated observations
// emit repeated entries.
func (m *Manager) IsPremiumUser(ctx context.Context, userID string) (bool, error) {
	user, err := m.store.GetPremiumUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	if user.IsPermanent {
		return true, nil
	}
	// No expiry on a non-permanent row means the grant was never valid, so
	// there is no expiry transition to log.
	if user.ExpiresAt == nil {
		return false, nil
	}
	if user.ExpiresAt.After(m.now()) {
		return true, nil
	}
	m.audit.Log(ctx, ActionPremiumExpired, Ref{UserID: userID}, ActorSystem, "manual grant expired")
	return false, nil
}

func (m *Manager) IsPremiumServer(ctx context.Context, guildID string) (bool, error) {
	server, err := m.store.GetPremiumServer(ctx, guildID)
	if err != nil {
		return false, err
	}
	if server == nil {
		return false, nil
	}
	if server.IsPermanent {
		return true, nil
	}
	if server.ExpiresAt == nil {
		return false, nil
	}
	if server.ExpiresAt.After(m.now()) {
		return true, nil
	}
	m.audit.Log(ctx, ActionPremiumExpired, Ref{GuildID: guildID}, ActorSystem, "server grant expired")
	return false, nil
}

// HasPremiumAccess resolves entitlement for a member of the given guild.
// Resolution order, first match wins: server-wide grant, global premium role,
// registered guild role, manual grant. A manual grant made redundant by global
// role premium is pruned on detection.
func (m *Manager) HasPremiumAccess(ctx context.Context, guildID, userID string) (bool, error) {
	if guildID != "" {
		ok, err := m.IsPremiumServer(ctx, guildID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	global, err := m.dir.Member(ctx, m.cfg.GuildID, userID)
	if err != nil {
		return false, err
	}
	if global != nil && hasAnyRole(global.Roles, m.cfg.GlobalRoleIDs) {
		if err := m.revokeManualGrant(ctx, userID); err != nil {
			return false, err
		}
		return true, nil
	}

	if guildID != "" {
		registered, err := m.store.ListPremiumRoles(ctx, guildID)
		if err != nil {
			return false, err
		}
		if len(registered) > 0 {
			member, err := m.dir.Member(ctx, guildID, userID)
			if err != nil {
				return false, err
			}
			if member != nil {
				ids := make([]string, 0, len(registered))
				for _, role := range registered {
					ids = append(ids, role.RoleID)
				}
				if hasAnyRole(member.Roles, ids) {
					// A guild-local role only entitles within that guild; the
					// manual grant is pruned only when global role premium
					// makes it redundant.
					if _, err := m.CheckAndRevokeNonRolePremium(ctx, userID); err != nil {
						return false, err
					}
					return true, nil
				}
			}
		}
	}

	return m.IsPremiumUser(ctx, userID)
}

// CheckAndRevokeNonRolePremium reports whether the user holds role-based
// premium in the global premium guild, pruning any redundant manual grant when
// they do. A user absent from the guild is simply not role-premium.
func (m *Manager) CheckAndRevokeNonRolePremium(ctx context.Context, userID string) (bool, error) {
	member, err := m.dir.Member(ctx, m.cfg.GuildID, userID)
	if err != nil {
		return false, err
	}
	if member == nil || !hasAnyRole(member.Roles, m.cfg.GlobalRoleIDs) {
		return false, nil
	}
	if err := m.revokeManualGrant(ctx, userID); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) revokeManualGrant(ctx context.Context, userID string) error {
	user, err := m.store.GetPremiumUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	if err := m.store.DeletePremiumUser(ctx, userID); err != nil {
		return err
	}
	m.audit.Log(ctx, ActionRevokeManualPremium, Ref{UserID: userID}, ActorSystem,
		"manual grant superseded by role premium")
	return nil
}

// Sources lists every reason the user currently has premium, primary source
// first.
func (m *Manager) Sources(ctx context.Context, guildID, userID string) ([]Source, error) {
	var sources []Source

	global, err := m.dir.Member(ctx, m.cfg.GuildID, userID)
	if err != nil {
		return nil, err
	}
	if global != nil {
		for _, roleID := range m.cfg.GlobalRoleIDs {
			if hasAnyRole(global.Roles, []string{roleID}) {
				sources = append(sources, Source{Type: "role", SourceID: roleID, IsPermanent: true})
			}
		}
	}

	if guildID != "" {
		registered, err := m.store.ListPremiumRoles(ctx, guildID)
		if err != nil {
			return nil, err
		}
		if len(registered) > 0 {
			member, err := m.dir.Member(ctx, guildID, userID)
			if err != nil {
				return nil, err
			}
			if member != nil {
				for _, role := range registered {
					if hasAnyRole(member.Roles, []string{role.RoleID}) {
						sources = append(sources, Source{
							Type:      "role",
							SourceID:  role.RoleID,
							GrantedAt: role.AddedAt,
							GrantedBy: role.AddedBy,
						})
					}
				}
			}
		}
	}

	if guildID != "" {
		server, err := m.store.GetPremiumServer(ctx, guildID)
		if err != nil {
			return nil, err
		}
		if server != nil && (server.IsPermanent || (server.ExpiresAt != nil && server.ExpiresAt.After(m.now()))) {
			sources = append(sources, Source{
				Type:        "server",
				SourceID:    guildID,
				ExpiresAt:   server.ExpiresAt,
				IsPermanent: server.IsPermanent,
				GrantedAt:   server.AddedAt,
				GrantedBy:   server.AddedBy,
			})
		}
	}

	user, err := m.store.GetPremiumUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user != nil && (user.IsPermanent || (user.ExpiresAt != nil && user.ExpiresAt.After(m.now()))) {
		sources = append(sources, Source{
			Type:        "manual",
			ExpiresAt:   user.ExpiresAt,
			IsPermanent: user.IsPermanent,
			GrantedAt:   user.StartedAt,
			GrantedBy:   user.GrantedBy,
		})
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sourceRank(sources[i].Type) < sourceRank(sources[j].Type)
	})
	return sources, nil
}

func sourceRank(sourceType string) int {
	switch sourceType {
	case "role":
		return 0
	case "server":
		return 1
	default:
		return 2
	}
}

func (m *Manager) Stats(ctx context.Context) (storage.PremiumStats, error) {
	return m.store.GetPremiumStats(ctx, m.now())
}

func hasAnyRole(held []string, wanted []string) bool {
	for _, have := range held {
		for _, want := range wanted {
			if have == want {
				return true
			}
		}
	}
	return false
}
