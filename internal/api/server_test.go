package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"veebee/internal/config"
	"veebee/internal/premium"
	"veebee/internal/storage"
)

type staticVerifier struct {
	userID string
	err    error
}

func (v staticVerifier) Verify(context.Context, string) (string, error) {
	return v.userID, v.err
}

type emptyDirectory struct{}

func (emptyDirectory) Member(context.Context, string, string) (*discordgo.Member, error) {
	return nil, nil
}

func (emptyDirectory) Members(context.Context, string, []string) ([]*discordgo.Member, error) {
	return nil, nil
}

func (emptyDirectory) RoleMemberIDs(context.Context, string, string) ([]string, error) {
	return nil, nil
}

func (emptyDirectory) GuildRoles(context.Context, string) ([]*discordgo.Role, error) {
	return nil, nil
}

func (emptyDirectory) BotMember(context.Context, string) (*discordgo.Member, error) {
	return nil, nil
}

func (emptyDirectory) AddRole(context.Context, string, string, string) error    { return nil }
func (emptyDirectory) RemoveRole(context.Context, string, string, string) error { return nil }

func newTestServer(t *testing.T, verifier Verifier) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := zap.NewNop()
	manager := premium.NewManager(store, premium.NewAuditor(store, logger), emptyDirectory{}, logger,
		config.PremiumConfig{GuildID: "hub", RoleID: "r", DefaultDays: 30})
	return NewServer(config.APIConfig{Addr: ":0"}, logger, store, manager, verifier), store
}

func doRequest(t *testing.T, server *Server, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestSubscribeGrantsPremium(t *testing.T) {
	server, store := newTestServer(t, staticVerifier{userID: "caller"})

	rec := doRequest(t, server, http.MethodPost, "/api/premium/subscribe",
		`{"userId":"u1","durationDays":30,"paymentId":"pay-1","amount":4.99,"currency":"EUR"}`, "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("expected success, got %v", body)
	}

	user, err := store.GetPremiumUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get premium user: %v", err)
	}
	if user == nil || user.GrantedBy != "API_SUBSCRIPTION" {
		t.Fatalf("expected API grant, got %+v", user)
	}
}

func TestSubscribeRejectsBadPayload(t *testing.T) {
	server, _ := newTestServer(t, staticVerifier{userID: "caller"})

	rec := doRequest(t, server, http.MethodPost, "/api/premium/subscribe",
		`{"userId":"u1"}`, "tok")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStatusReflectsGrant(t *testing.T) {
	server, store := newTestServer(t, staticVerifier{userID: "caller"})
	expires := time.Now().Add(time.Hour)
	if err := store.ReplacePremiumUser(context.Background(), storage.PremiumUser{
		UserID: "u1", ExpiresAt: &expires, StartedAt: time.Now(), GrantedBy: "admin",
	}); err != nil {
		t.Fatalf("seed grant: %v", err)
	}

	rec := doRequest(t, server, http.MethodGet, "/api/premium/status/u1", "", "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["isPremium"] != true {
		t.Fatalf("expected premium true, got %v", body)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/premium/status/nobody", "", "tok")
	body = decodeBody(t, rec)
	if body["isPremium"] != false {
		t.Fatalf("expected premium false, got %v", body)
	}
}

func TestCancelRemovesGrant(t *testing.T) {
	server, store := newTestServer(t, staticVerifier{userID: "caller"})
	ctx := context.Background()

	rec := doRequest(t, server, http.MethodPost, "/api/premium/subscribe",
		`{"userId":"u1","durationDays":30,"paymentId":"pay-1"}`, "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribe failed: %d", rec.Code)
	}

	rec = doRequest(t, server, http.MethodDelete, "/api/premium/cancel/u1", "", "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	user, err := store.GetPremiumUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get premium user: %v", err)
	}
	if user != nil {
		t.Fatal("cancel must delete the grant")
	}
	count, err := store.ExpireSubscriptions(ctx, "u1", time.Now())
	if err != nil {
		t.Fatalf("expire subscriptions: %v", err)
	}
	if count != 0 {
		t.Fatal("cancel must have already expired the subscription")
	}
}

func TestRequiresToken(t *testing.T) {
	server, _ := newTestServer(t, staticVerifier{err: ErrInvalidToken})

	rec := doRequest(t, server, http.MethodGet, "/api/premium/status/u1", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/premium/status/u1", "", "bad")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for rejected token, got %d", rec.Code)
	}
}
