package storage

import (
	"context"
	"database/sql"
	"time"
)

type AuditEntry struct {
	ID          int64
	Timestamp   time.Time
	ActionType  string
	UserID      string
	GuildID     string
	RoleID      string
	PerformedBy string
	Details     string
}

// AppendAuditLog records an entry; rows are never updated or deleted.
func (s *Store) AppendAuditLog(ctx context.Context, entry AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO premium_audit_log (timestamp, action_type, user_id, guild_id, role_id, performed_by, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.Timestamp.Unix(),
		entry.ActionType,
		nullString(entry.UserID),
		nullString(entry.GuildID),
		nullString(entry.RoleID),
		entry.PerformedBy,
		nullString(entry.Details),
	)
	return err
}

// ListAuditLog returns entries from the last N days, newest first. A non-empty
// typePrefix restricts results to action types starting with it.
func (s *Store) ListAuditLog(ctx context.Context, days int, typePrefix string) ([]AuditEntry, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Unix()

	var rows *sql.Rows
	var err error
	if typePrefix != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, timestamp, action_type,
				COALESCE(user_id, ''), COALESCE(guild_id, ''), COALESCE(role_id, ''),
				performed_by, COALESCE(details, '')
			FROM premium_audit_log
			WHERE timestamp >= ? AND action_type LIKE ? || '%'
			ORDER BY timestamp DESC
		`, cutoff, typePrefix)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, timestamp, action_type,
				COALESCE(user_id, ''), COALESCE(guild_id, ''), COALESCE(role_id, ''),
				performed_by, COALESCE(details, '')
			FROM premium_audit_log
			WHERE timestamp >= ?
			ORDER BY timestamp DESC
		`, cutoff)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var ts int64
		if err := rows.Scan(
			&entry.ID, &ts, &entry.ActionType,
			&entry.UserID, &entry.GuildID, &entry.RoleID,
			&entry.PerformedBy, &entry.Details,
		); err != nil {
			return nil, err
		}
		entry.Timestamp = time.Unix(ts, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
