package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"veebee/internal/config"
)

func TestFetchDecodesReport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"up","uptime":99.95,"ping":42,"message":"OK"}`))
	}))
	defer server.Close()

	poller := New(config.StatusConfig{Interval: time.Minute}, zap.NewNop(), nil)
	report, err := poller.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !report.Up() {
		t.Fatalf("expected up report, got %+v", report)
	}
	if report.Uptime != 99.95 || report.Ping != 42 || report.Message != "OK" {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestFetchRejectsNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	poller := New(config.StatusConfig{Interval: time.Minute}, zap.NewNop(), nil)
	if _, err := poller.Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for bad status code")
	}
}

func TestObserveNotifiesOnTransitions(t *testing.T) {
	var calls []bool
	poller := New(config.StatusConfig{Interval: time.Minute}, zap.NewNop(),
		func(monitor config.MonitorConfig, up bool, report Report) {
			calls = append(calls, up)
		})
	monitor := config.MonitorConfig{Name: "api"}

	poller.observe(monitor, true, Report{Status: "up"})
	poller.observe(monitor, true, Report{Status: "up"})
	poller.observe(monitor, false, Report{})
	poller.observe(monitor, false, Report{})
	poller.observe(monitor, true, Report{Status: "up"})

	want := []bool{true, false, true}
	if len(calls) != len(want) {
		t.Fatalf("expected %d notifications, got %d", len(want), len(calls))
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("notification %d: expected %t, got %t", i, want[i], calls[i])
		}
	}
}
