package storage

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestReplacePremiumUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	expires := now.Add(30 * 24 * time.Hour)

	user := PremiumUser{
		UserID:        "u1",
		ExpiresAt:     &expires,
		StartedAt:     now,
		GrantedBy:     "admin",
		TotalTime:     30 * 24 * time.Hour,
		TimesExtended: 1,
	}
	if err := store.ReplacePremiumUser(ctx, user); err != nil {
		t.Fatalf("replace premium user: %v", err)
	}

	got, err := store.GetPremiumUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get premium user: %v", err)
	}
	if got == nil {
		t.Fatal("expected a row for u1")
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry %v, got %v", expires, got.ExpiresAt)
	}
	if got.TotalTime != 30*24*time.Hour {
		t.Fatalf("expected total time 720h, got %v", got.TotalTime)
	}

	// A second grant replaces the row outright.
	later := now.Add(7 * 24 * time.Hour)
	user.ExpiresAt = &later
	user.TotalTime = 7 * 24 * time.Hour
	user.GrantedBy = "admin2"
	if err := store.ReplacePremiumUser(ctx, user); err != nil {
		t.Fatalf("replace premium user again: %v", err)
	}

	got, err = store.GetPremiumUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get premium user: %v", err)
	}
	if !got.ExpiresAt.Equal(later) {
		t.Fatalf("expected expiry %v, got %v", later, got.ExpiresAt)
	}
	if got.TimesExtended != 1 {
		t.Fatalf("expected times_extended reset to 1, got %d", got.TimesExtended)
	}
}

func TestGetPremiumUserMissing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetPremiumUser(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get premium user: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing user, got %+v", got)
	}
}

func TestMakePremiumUserPermanent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	expires := now.Add(24 * time.Hour)

	if err := store.ReplacePremiumUser(ctx, PremiumUser{
		UserID:    "u1",
		ExpiresAt: &expires,
		StartedAt: now,
		GrantedBy: "admin",
	}); err != nil {
		t.Fatalf("replace premium user: %v", err)
	}

	if err := store.MakePremiumUserPermanent(ctx, "u1"); err != nil {
		t.Fatalf("make permanent: %v", err)
	}

	got, err := store.GetPremiumUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get premium user: %v", err)
	}
	if !got.IsPermanent {
		t.Fatal("expected permanent grant")
	}
	if got.ExpiresAt != nil {
		t.Fatalf("permanent grant must have no expiry, got %v", got.ExpiresAt)
	}

	// Missing rows are left alone.
	if err := store.MakePremiumUserPermanent(ctx, "ghost"); err != nil {
		t.Fatalf("make permanent on missing row: %v", err)
	}
	got, err = store.GetPremiumUser(ctx, "ghost")
	if err != nil {
		t.Fatalf("get premium user: %v", err)
	}
	if got != nil {
		t.Fatal("no row should have been created")
	}
}

func TestListActivePremiumUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	for _, user := range []PremiumUser{
		{UserID: "active", ExpiresAt: &future, StartedAt: now, GrantedBy: "admin"},
		{UserID: "expired", ExpiresAt: &past, StartedAt: now, GrantedBy: "admin"},
		{UserID: "forever", StartedAt: now, GrantedBy: "admin", IsPermanent: true},
	} {
		if err := store.ReplacePremiumUser(ctx, user); err != nil {
			t.Fatalf("replace premium user %s: %v", user.UserID, err)
		}
	}

	users, err := store.ListActivePremiumUsers(ctx, now)
	if err != nil {
		t.Fatalf("list active premium users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 active users, got %d", len(users))
	}
	if users[0].UserID != "active" || users[1].UserID != "forever" {
		t.Fatalf("unexpected active set: %q, %q", users[0].UserID, users[1].UserID)
	}
}

func TestPremiumRolesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	role := PremiumRole{GuildID: "g1", RoleID: "r1", AutoSync: true, AddedBy: "admin", AddedAt: now}
	if err := store.UpsertPremiumRole(ctx, role); err != nil {
		t.Fatalf("upsert premium role: %v", err)
	}
	role.AutoSync = false
	if err := store.UpsertPremiumRole(ctx, role); err != nil {
		t.Fatalf("update premium role: %v", err)
	}

	roles, err := store.ListPremiumRoles(ctx, "g1")
	if err != nil {
		t.Fatalf("list premium roles: %v", err)
	}
	if len(roles) != 1 {
		t.Fatalf("expected 1 role, got %d", len(roles))
	}
	if roles[0].AutoSync {
		t.Fatal("expected auto_sync updated to false")
	}

	if err := store.DeletePremiumRole(ctx, "g1", "r1"); err != nil {
		t.Fatalf("delete premium role: %v", err)
	}
	roles, err = store.ListPremiumRoles(ctx, "g1")
	if err != nil {
		t.Fatalf("list premium roles: %v", err)
	}
	if len(roles) != 0 {
		t.Fatalf("expected no roles, got %d", len(roles))
	}
}

func TestListAuditLogWindowAndPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	entries := []AuditEntry{
		{Timestamp: now, ActionType: "ADD_USER", UserID: "u1", PerformedBy: "admin"},
		{Timestamp: now.Add(-time.Hour), ActionType: "ADD_SERVER", GuildID: "g1", PerformedBy: "admin"},
		{Timestamp: now.AddDate(0, 0, -8), ActionType: "ADD_USER", UserID: "u2", PerformedBy: "admin"},
	}
	for _, entry := range entries {
		if err := store.AppendAuditLog(ctx, entry); err != nil {
			t.Fatalf("append audit log: %v", err)
		}
	}

	got, err := store.ListAuditLog(ctx, 7, "")
	if err != nil {
		t.Fatalf("list audit log: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries within 7 days, got %d", len(got))
	}
	if got[0].ActionType != "ADD_USER" {
		t.Fatalf("expected newest entry first, got %q", got[0].ActionType)
	}

	got, err = store.ListAuditLog(ctx, 7, "ADD_SERVER")
	if err != nil {
		t.Fatalf("list audit log with prefix: %v", err)
	}
	if len(got) != 1 || got[0].GuildID != "g1" {
		t.Fatalf("unexpected prefix filter result: %+v", got)
	}
}

func TestGetPremiumStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	for _, user := range []PremiumUser{
		{UserID: "u1", ExpiresAt: &future, StartedAt: now, GrantedBy: "a", TotalTime: 48 * time.Hour},
		{UserID: "u2", ExpiresAt: &past, StartedAt: now, GrantedBy: "a", TotalTime: 24 * time.Hour},
		{UserID: "u3", StartedAt: now, GrantedBy: "a", IsPermanent: true},
	} {
		if err := store.ReplacePremiumUser(ctx, user); err != nil {
			t.Fatalf("replace premium user: %v", err)
		}
	}
	if err := store.UpsertPremiumRole(ctx, PremiumRole{GuildID: "g1", RoleID: "r1", AutoSync: true, AddedBy: "a", AddedAt: now}); err != nil {
		t.Fatalf("upsert premium role: %v", err)
	}

	stats, err := store.GetPremiumStats(ctx, now)
	if err != nil {
		t.Fatalf("get premium stats: %v", err)
	}
	if stats.TotalUsers != 3 || stats.ActiveUsers != 2 || stats.PermanentUsers != 1 {
		t.Fatalf("unexpected user stats: %+v", stats)
	}
	if stats.TotalRoles != 1 || stats.AutoSyncRoles != 1 {
		t.Fatalf("unexpected role stats: %+v", stats)
	}
	if stats.AvgUserDuration != 24*time.Hour {
		t.Fatalf("expected 24h average, got %v", stats.AvgUserDuration)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	store := newTestStore(t)

	// Running migrations again must not fail or disturb existing data.
	if err := store.AppendAuditLog(context.Background(), AuditEntry{
		Timestamp: time.Now(), ActionType: "ADD_USER", UserID: "u1", PerformedBy: "admin",
	}); err != nil {
		t.Fatalf("append audit log: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	entries, err := store.ListAuditLog(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("list audit log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after re-migrate, got %d", len(entries))
	}
}
