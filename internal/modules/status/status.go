package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"veebee/internal/config"
)

// Report is the uptime-kuma style payload a monitored status endpoint serves.
type Report struct {
	Status  string  `json:"status"`
	Uptime  float64 `json:"uptime"`
	Ping    float64 `json:"ping"`
	Message string  `json:"message"`
}

// Up reports whether the payload describes a healthy service.
func (r Report) Up() bool {
	return r.Status == "up"
}

// Notifier receives monitor state transitions. An unreachable endpoint counts
// as down with an empty report.
type Notifier func(monitor config.MonitorConfig, up bool, report Report)

// Poller polls configured status endpoints and notifies on state changes.
type Poller struct {
	cfg    config.StatusConfig
	logger *zap.Logger
	client *http.Client
	notify Notifier

	mu   sync.Mutex
	seen map[string]bool
	stop chan struct{}
	done chan struct{}
}

func New(cfg config.StatusConfig, logger *zap.Logger, notify Notifier) *Poller {
	return &Poller{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
		notify: notify,
		seen:   make(map[string]bool),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (p *Poller) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()

		p.pollAll(ctx)
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.pollAll(ctx)
			}
		}
	}()
}

func (p *Poller) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Poller) pollAll(ctx context.Context) {
	for _, monitor := range p.cfg.Monitors {
		report, err := p.Fetch(ctx, monitor.URL)
		up := err == nil && report.Up()
		if err != nil {
			p.logger.Debug("status poll failed",
				zap.String("monitor", monitor.Name),
				zap.Error(err))
		}
		p.observe(monitor, up, report)
	}
}

// observe notifies on the first observation of a monitor and on every state
// change after that.
func (p *Poller) observe(monitor config.MonitorConfig, up bool, report Report) {
	p.mu.Lock()
	last, known := p.seen[monitor.Name]
	p.seen[monitor.Name] = up
	p.mu.Unlock()

	if known && last == up {
		return
	}
	if p.notify != nil {
		p.notify(monitor, up, report)
	}
}

func (p *Poller) Fetch(ctx context.Context, url string) (Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Report{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Report{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Report{}, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return Report{}, err
	}
	return report, nil
}
