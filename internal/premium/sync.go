package premium

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"veebee/internal/utils"
)

// ErrSyncInFlight is returned when a sync pass is requested while another is
// still running. The running pass will converge on the same state, so the
// caller can treat this as success.
var ErrSyncInFlight = errors.New("premium role sync already in progress")

// SyncResult summarizes one convergence pass.
type SyncResult struct {
	Entitled int
	Added    int
	Removed  int
	Demoted  int
	Failed   int
}

// SyncPremiumRoles runs one convergence pass over the premium role in the
// global premium guild: members entitled via allow-listed roles or manual
// grants end up holding the role, everyone else loses it. The pass is
// idempotent; per-member failures are logged and retried by the next pass.
func (m *Manager) SyncPremiumRoles(ctx context.Context) (SyncResult, error) {
	if !m.syncing.CompareAndSwap(false, true) {
		return SyncResult{}, ErrSyncInFlight
	}
	defer m.syncing.Store(false)

	var result SyncResult

	rolePremium, err := m.rolePremiumSet(ctx)
	if err != nil {
		return result, err
	}

	demoted, err := m.demoteRedundantGrants(ctx, rolePremium)
	if err != nil {
		return result, err
	}
	result.Demoted = demoted

	// Authoritative set: role premium plus whatever manual grants survived
	// demotion, permanent ones included.
	entitled := make(map[string]struct{}, len(rolePremium))
	for id := range rolePremium {
		entitled[id] = struct{}{}
	}
	manual, err := m.store.ListActivePremiumUsers(ctx, m.now())
	if err != nil {
		return result, err
	}
	for _, user := range manual {
		entitled[user.UserID] = struct{}{}
	}
	result.Entitled = len(entitled)

	holders, err := m.dir.RoleMemberIDs(ctx, m.cfg.GuildID, m.cfg.RoleID)
	if err != nil {
		return result, err
	}
	holderSet := make(map[string]struct{}, len(holders))
	for _, id := range holders {
		holderSet[id] = struct{}{}
	}

	targets := make([]string, 0, len(entitled))
	for id := range entitled {
		targets = append(targets, id)
	}
	sort.Strings(targets)

	for _, batch := range utils.Chunk(targets, m.cfg.BatchSize) {
		if err := m.limiter.Wait(ctx); err != nil {
			return result, err
		}
		members, err := m.dir.Members(ctx, m.cfg.GuildID, batch)
		if err != nil {
			m.logger.Warn("premium sync batch fetch failed",
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			result.Failed += len(batch)
			continue
		}
		for _, member := range members {
			if hasAnyRole(member.Roles, []string{m.cfg.RoleID}) {
				continue
			}
			if err := m.dir.AddRole(ctx, m.cfg.GuildID, member.User.ID, m.cfg.RoleID); err != nil {
				m.logger.Warn("premium role add failed",
					zap.String("user_id", member.User.ID),
					zap.Error(err))
				result.Failed++
				continue
			}
			result.Added++
		}
	}

	for _, id := range holders {
		if _, ok := entitled[id]; ok {
			continue
		}
		if err := m.dir.RemoveRole(ctx, m.cfg.GuildID, id, m.cfg.RoleID); err != nil {
			m.logger.Warn("premium role remove failed",
				zap.String("user_id", id),
				zap.Error(err))
			result.Failed++
			continue
		}
		result.Removed++
	}

	m.logger.Info("premium role sync complete",
		zap.Int("entitled", result.Entitled),
		zap.Int("added", result.Added),
		zap.Int("removed", result.Removed),
		zap.Int("demoted", result.Demoted),
		zap.Int("failed", result.Failed))
	return result, nil
}

// DemoteRedundantGrants prunes manual grants held by users who already have
// role-based premium. Run between full sync passes to keep the audit trail
// close to real time.
func (m *Manager) DemoteRedundantGrants(ctx context.Context) (int, error) {
	rolePremium, err := m.rolePremiumSet(ctx)
	if err != nil {
		return 0, err
	}
	return m.demoteRedundantGrants(ctx, rolePremium)
}

// rolePremiumSet is the union of member ids across all allow-listed global
// premium roles.
func (m *Manager) rolePremiumSet(ctx context.Context) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for _, roleID := range m.cfg.GlobalRoleIDs {
		ids, err := m.dir.RoleMemberIDs(ctx, m.cfg.GuildID, roleID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}
	return set, nil
}

func (m *Manager) demoteRedundantGrants(ctx context.Context, rolePremium map[string]struct{}) (int, error) {
	manual, err := m.store.ListActivePremiumUsers(ctx, m.now())
	if err != nil {
		return 0, err
	}
	demoted := 0
	for _, user := range manual {
		if _, ok := rolePremium[user.UserID]; !ok {
			continue
		}
		if err := m.revokeManualGrant(ctx, user.UserID); err != nil {
			return demoted, err
		}
		demoted++
	}
	return demoted, nil
}
