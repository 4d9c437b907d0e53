package premium

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestSyncConvergesRoleMembership(t *testing.T) {
	manager, dir, _ := newTestManager(t)
	ctx := context.Background()

	// A already holds the premium role, B is entitled but lacks it, C is a
	// manual grant, D holds the role without any entitlement.
	dir.putMember(hubGuild, "A", globalRole, premiumRole)
	dir.putMember(hubGuild, "B", globalRole)
	dir.putMember(hubGuild, "C")
	dir.putMember(hubGuild, "D", premiumRole)
	if err := manager.AddUser(ctx, "C", 10, "admin"); err != nil {
		t.Fatalf("add user: %v", err)
	}

	result, err := manager.SyncPremiumRoles(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Entitled != 3 || result.Added != 2 || result.Removed != 1 || result.Failed != 0 {
		t.Fatalf("unexpected sync result: %+v", result)
	}

	holders, err := dir.RoleMemberIDs(ctx, hubGuild, premiumRole)
	if err != nil {
		t.Fatalf("role member ids: %v", err)
	}
	if !slices.Equal(holders, []string{"A", "B", "C"}) {
		t.Fatalf("expected holders A,B,C, got %v", holders)
	}

	// A second pass finds nothing to do.
	result, err = manager.SyncPremiumRoles(ctx)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if result.Added != 0 || result.Removed != 0 || result.Demoted != 0 || result.Failed != 0 {
		t.Fatalf("second pass must be a no-op, got %+v", result)
	}
}

func TestSyncDemotesRedundantManualGrant(t *testing.T) {
	manager, dir, store := newTestManager(t)
	ctx := context.Background()

	dir.putMember(hubGuild, "A", globalRole)
	if err := manager.AddUser(ctx, "A", 10, "admin"); err != nil {
		t.Fatalf("add user: %v", err)
	}

	result, err := manager.SyncPremiumRoles(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Demoted != 1 {
		t.Fatalf("expected 1 demotion, got %+v", result)
	}

	user, err := store.GetPremiumUser(ctx, "A")
	if err != nil {
		t.Fatalf("get premium user: %v", err)
	}
	if user != nil {
		t.Fatal("redundant manual grant must be deleted")
	}
	entries := auditActions(t, store, ActionRevokeManualPremium)
	if len(entries) != 1 || entries[0].PerformedBy != ActorSystem {
		t.Fatalf("expected one SYSTEM demotion entry, got %+v", entries)
	}

	// A keeps the premium role through the role source.
	holders, err := dir.RoleMemberIDs(ctx, hubGuild, premiumRole)
	if err != nil {
		t.Fatalf("role member ids: %v", err)
	}
	if !slices.Equal(holders, []string{"A"}) {
		t.Fatalf("expected A to keep the role, got %v", holders)
	}
}

func TestSyncIncludesPermanentManualGrants(t *testing.T) {
	manager, dir, _ := newTestManager(t)
	ctx := context.Background()

	dir.putMember(hubGuild, "P")
	if err := manager.AddUser(ctx, "P", 10, "admin"); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if err := manager.MakeUserPermanent(ctx, "P", "admin"); err != nil {
		t.Fatalf("make permanent: %v", err)
	}

	result, err := manager.SyncPremiumRoles(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Entitled != 1 || result.Added != 1 {
		t.Fatalf("permanent grant must be part of the entitled set, got %+v", result)
	}
}

func TestSyncSkipsWhenPassInFlight(t *testing.T) {
	manager, _, _ := newTestManager(t)

	manager.syncing.Store(true)
	_, err := manager.SyncPremiumRoles(context.Background())
	if !errors.Is(err, ErrSyncInFlight) {
		t.Fatalf("expected ErrSyncInFlight, got %v", err)
	}

	manager.syncing.Store(false)
	if _, err := manager.SyncPremiumRoles(context.Background()); err != nil {
		t.Fatalf("sync after release: %v", err)
	}
}

func TestSyncToleratesMissingMembers(t *testing.T) {
	manager, dir, _ := newTestManager(t)
	ctx := context.Background()

	// Entitled user who left the guild: the batch fetch simply omits them.
	if err := manager.AddUser(ctx, "gone", 10, "admin"); err != nil {
		t.Fatalf("add user: %v", err)
	}
	dir.putMember(hubGuild, "here", globalRole)

	result, err := manager.SyncPremiumRoles(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Entitled != 2 || result.Added != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
