package premium

import (
	"context"
	"time"

	"go.uber.org/zap"

	"veebee/internal/storage"
)

// Audit action types. REVOKE_MANUAL_PREMIUM and PREMIUM_EXPIRED are written
// with ActorSystem because no human performs them.
const (
	ActionAddUser             = "ADD_USER"
	ActionRemoveUser          = "REMOVE_USER"
	ActionExtendUser          = "EXTEND_USER"
	ActionMakePermanentUser   = "MAKE_PERMANENT_USER"
	ActionAddServer           = "ADD_SERVER"
	ActionRemoveServer        = "REMOVE_SERVER"
	ActionExtendServer        = "EXTEND_SERVER"
	ActionMakePermanentServer = "MAKE_PERMANENT_SERVER"
	ActionAddRole             = "ADD_ROLE"
	ActionRemoveRole          = "REMOVE_ROLE"
	ActionPremiumExpired      = "PREMIUM_EXPIRED"
	ActionRevokeManualPremium = "REVOKE_MANUAL_PREMIUM"
)

const ActorSystem = "SYSTEM"

// Ref names the subject of an audit entry. Unset fields are stored as NULL.
type Ref struct {
	UserID  string
	GuildID string
	RoleID  string
}

// Auditor appends entries to the premium audit log. Failures are logged and
// swallowed so a broken log never blocks the operation being recorded.
type Auditor struct {
	store  *storage.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewAuditor(store *storage.Store, logger *zap.Logger) *Auditor {
	return &Auditor{store: store, logger: logger, now: time.Now}
}

func (a *Auditor) Log(ctx context.Context, action string, ref Ref, performedBy, details string) {
	err := a.store.AppendAuditLog(ctx, storage.AuditEntry{
		Timestamp:   a.now(),
		ActionType:  action,
		UserID:      ref.UserID,
		GuildID:     ref.GuildID,
		RoleID:      ref.RoleID,
		PerformedBy: performedBy,
		Details:     details,
	})
	if err != nil {
		a.logger.Warn("audit log write failed",
			zap.String("action", action),
			zap.Error(err))
	}
}
