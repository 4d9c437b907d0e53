package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type PremiumUser struct {
	UserID         string
	ExpiresAt      *time.Time
	StartedAt      time.Time
	GrantedBy      string
	IsPermanent    bool
	TotalTime      time.Duration
	TimesExtended  int
	LastExtendedAt *time.Time
	LastExtendedBy string
}

type PremiumServer struct {
	GuildID        string
	AddedBy        string
	AddedAt        time.Time
	ExpiresAt      *time.Time
	IsPermanent    bool
	TotalTime      time.Duration
	TimesExtended  int
	LastExtendedAt *time.Time
	LastExtendedBy string
}

type PremiumRole struct {
	GuildID  string
	RoleID   string
	AutoSync bool
	AddedBy  string
	AddedAt  time.Time
}

type PremiumStats struct {
	TotalUsers        int
	ActiveUsers       int
	PermanentUsers    int
	TotalServers      int
	ActiveServers     int
	PermanentServers  int
	TotalRoles        int
	AutoSyncRoles     int
	AvgUserDuration   time.Duration
	AvgServerDuration time.Duration
}

// GetPremiumUser returns nil when no row exists for the user.
func (s *Store) GetPremiumUser(ctx context.Context, userID string) (*PremiumUser, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, expires_at, started_at, granted_by, is_permanent,
		total_time, times_extended, last_extended_at, COALESCE(last_extended_by, '')
		FROM premium_users WHERE user_id = ?`, userID)

	var user PremiumUser
	var expiresAt, lastExtendedAt sql.NullInt64
	var startedAt, totalTime int64
	var permanent int
	err := row.Scan(
		&user.UserID,
		&expiresAt,
		&startedAt,
		&user.GrantedBy,
		&permanent,
		&totalTime,
		&user.TimesExtended,
		&lastExtendedAt,
		&user.LastExtendedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.StartedAt = time.Unix(startedAt, 0)
	user.IsPermanent = permanent == 1
	user.TotalTime = time.Duration(totalTime) * time.Second
	user.ExpiresAt = unixPtr(expiresAt)
	user.LastExtendedAt = unixPtr(lastExtendedAt)
	return &user, nil
}

// ReplacePremiumUser overwrites the entire row for the user; a prior grant is
// replaced, not merged.
func (s *Store) ReplacePremiumUser(ctx context.Context, user PremiumUser) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO premium_users (
			user_id, expires_at, started_at, granted_by, is_permanent,
			total_time, times_extended, last_extended_at, last_extended_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			expires_at = excluded.expires_at,
			started_at = excluded.started_at,
			granted_by = excluded.granted_by,
			is_permanent = excluded.is_permanent,
			total_time = excluded.total_time,
			times_extended = excluded.times_extended,
			last_extended_at = excluded.last_extended_at,
			last_extended_by = excluded.last_extended_by
	`,
		user.UserID,
		unixValue(user.ExpiresAt),
		user.StartedAt.Unix(),
		user.GrantedBy,
		boolToInt(user.IsPermanent),
		int64(user.TotalTime/time.Second),
		user.TimesExtended,
		unixValue(user.LastExtendedAt),
		nullString(user.LastExtendedBy),
	)
	return err
}

func (s *Store) DeletePremiumUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM premium_users WHERE user_id = ?`, userID)
	return err
}

// MakePremiumUserPermanent is a no-op when the user has no row; callers that
// need a precondition must check first.
func (s *Store) MakePremiumUserPermanent(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE premium_users SET is_permanent = 1, expires_at = NULL WHERE user_id = ?
	`, userID)
	return err
}

// ListActivePremiumUsers returns every manual grant that is permanent or not
// yet expired at the given instant.
func (s *Store) ListActivePremiumUsers(ctx context.Context, now time.Time) ([]PremiumUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, expires_at, started_at, granted_by, is_permanent,
		total_time, times_extended, last_extended_at, COALESCE(last_extended_by, '')
		FROM premium_users
		WHERE is_permanent = 1 OR expires_at > ?
		ORDER BY user_id
	`, now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []PremiumUser
	for rows.Next() {
		var user PremiumUser
		var expiresAt, lastExtendedAt sql.NullInt64
		var startedAt, totalTime int64
		var permanent int
		if err := rows.Scan(
			&user.UserID, &expiresAt, &startedAt, &user.GrantedBy, &permanent,
			&totalTime, &user.TimesExtended, &lastExtendedAt, &user.LastExtendedBy,
		); err != nil {
			return nil, err
		}
		user.StartedAt = time.Unix(startedAt, 0)
		user.IsPermanent = permanent == 1
		user.TotalTime = time.Duration(totalTime) * time.Second
		user.ExpiresAt = unixPtr(expiresAt)
		user.LastExtendedAt = unixPtr(lastExtendedAt)
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) GetPremiumServer(ctx context.Context, guildID string) (*PremiumServer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT guild_id, added_by, added_at, expires_at, is_permanent,
		total_time, times_extended, last_extended_at, COALESCE(last_extended_by, '')
		FROM premium_servers WHERE guild_id = ?`, guildID)

	var server PremiumServer
	var expiresAt, lastExtendedAt sql.NullInt64
	var addedAt, totalTime int64
	var permanent int
	err := row.Scan(
		&server.GuildID,
		&server.AddedBy,
		&addedAt,
		&expiresAt,
		&permanent,
		&totalTime,
		&server.TimesExtended,
		&lastExtendedAt,
		&server.LastExtendedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	server.AddedAt = time.Unix(addedAt, 0)
	server.IsPermanent = permanent == 1
	server.TotalTime = time.Duration(totalTime) * time.Second
	server.ExpiresAt = unixPtr(expiresAt)
	server.LastExtendedAt = unixPtr(lastExtendedAt)
	return &server, nil
}

func (s *Store) ReplacePremiumServer(ctx context.Context, server PremiumServer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO premium_servers (
			guild_id, added_by, added_at, expires_at, is_permanent,
			total_time, times_extended, last_extended_at, last_extended_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			added_by = excluded.added_by,
			added_at = excluded.added_at,
			expires_at = excluded.expires_at,
			is_permanent = excluded.is_permanent,
			total_time = excluded.total_time,
			times_extended = excluded.times_extended,
			last_extended_at = excluded.last_extended_at,
			last_extended_by = excluded.last_extended_by
	`,
		server.GuildID,
		server.AddedBy,
		server.AddedAt.Unix(),
		unixValue(server.ExpiresAt),
		boolToInt(server.IsPermanent),
		int64(server.TotalTime/time.Second),
		server.TimesExtended,
		unixValue(server.LastExtendedAt),
		nullString(server.LastExtendedBy),
	)
	return err
}

func (s *Store) DeletePremiumServer(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM premium_servers WHERE guild_id = ?`, guildID)
	return err
}

func (s *Store) MakePremiumServerPermanent(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE premium_servers SET is_permanent = 1, expires_at = NULL WHERE guild_id = ?
	`, guildID)
	return err
}

func (s *Store) ListPremiumServers(ctx context.Context) ([]PremiumServer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guild_id, added_by, added_at, expires_at, is_permanent,
		total_time, times_extended, last_extended_at, COALESCE(last_extended_by, '')
		FROM premium_servers ORDER BY added_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []PremiumServer
	for rows.Next() {
		var server PremiumServer
		var expiresAt, lastExtendedAt sql.NullInt64
		var addedAt, totalTime int64
		var permanent int
		if err := rows.Scan(
			&server.GuildID, &server.AddedBy, &addedAt, &expiresAt, &permanent,
			&totalTime, &server.TimesExtended, &lastExtendedAt, &server.LastExtendedBy,
		); err != nil {
			return nil, err
		}
		server.AddedAt = time.Unix(addedAt, 0)
		server.IsPermanent = permanent == 1
		server.TotalTime = time.Duration(totalTime) * time.Second
		server.ExpiresAt = unixPtr(expiresAt)
		server.LastExtendedAt = unixPtr(lastExtendedAt)
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

func (s *Store) UpsertPremiumRole(ctx context.Context, role PremiumRole) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO premium_roles (guild_id, role_id, auto_sync, added_by, added_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, role_id) DO UPDATE SET
			auto_sync = excluded.auto_sync,
			added_by = excluded.added_by,
			added_at = excluded.added_at
	`, role.GuildID, role.RoleID, boolToInt(role.AutoSync), role.AddedBy, role.AddedAt.Unix())
	return err
}

func (s *Store) DeletePremiumRole(ctx context.Context, guildID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM premium_roles WHERE guild_id = ? AND role_id = ?
	`, guildID, roleID)
	return err
}

func (s *Store) ListPremiumRoles(ctx context.Context, guildID string) ([]PremiumRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guild_id, role_id, auto_sync, added_by, added_at
		FROM premium_roles WHERE guild_id = ? ORDER BY role_id
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []PremiumRole
	for rows.Next() {
		var role PremiumRole
		var autoSync int
		var addedAt int64
		if err := rows.Scan(&role.GuildID, &role.RoleID, &autoSync, &role.AddedBy, &addedAt); err != nil {
			return nil, err
		}
		role.AutoSync = autoSync == 1
		role.AddedAt = time.Unix(addedAt, 0)
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *Store) GetPremiumStats(ctx context.Context, now time.Time) (PremiumStats, error) {
	var stats PremiumStats
	var avgUser, avgServer sql.NullFloat64

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(CASE WHEN expires_at > ? OR is_permanent = 1 THEN 1 END),
			COUNT(CASE WHEN is_permanent = 1 THEN 1 END),
			AVG(total_time)
		FROM premium_users
	`, now.Unix()).Scan(&stats.TotalUsers, &stats.ActiveUsers, &stats.PermanentUsers, &avgUser)
	if err != nil {
		return PremiumStats{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(CASE WHEN expires_at > ? OR is_permanent = 1 THEN 1 END),
			COUNT(CASE WHEN is_permanent = 1 THEN 1 END),
			AVG(total_time)
		FROM premium_servers
	`, now.Unix()).Scan(&stats.TotalServers, &stats.ActiveServers, &stats.PermanentServers, &avgServer)
	if err != nil {
		return PremiumStats{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(CASE WHEN auto_sync = 1 THEN 1 END)
		FROM premium_roles
	`).Scan(&stats.TotalRoles, &stats.AutoSyncRoles)
	if err != nil {
		return PremiumStats{}, err
	}

	if avgUser.Valid {
		stats.AvgUserDuration = time.Duration(avgUser.Float64) * time.Second
	}
	if avgServer.Valid {
		stats.AvgServerDuration = time.Duration(avgServer.Float64) * time.Second
	}
	return stats, nil
}

func unixPtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := time.Unix(value.Int64, 0)
	return &t
}

func unixValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
