package premium

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"veebee/internal/config"
)

// Scheduler owns the recurring sync passes: a full convergence pass on the
// sync interval and a cheaper demotion-only pass on the role sync interval.
// An initial full pass runs at Start so a restart converges immediately.
type Scheduler struct {
	manager *Manager
	logger  *zap.Logger
	cfg     config.PremiumConfig
	cron    *cron.Cron
}

func NewScheduler(manager *Manager, logger *zap.Logger, cfg config.PremiumConfig) *Scheduler {
	return &Scheduler{
		manager: manager,
		logger:  logger,
		cfg:     cfg,
		cron:    cron.New(),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.SyncInterval), func() {
		s.runFullSync(ctx)
	})
	if err != nil {
		return err
	}
	_, err = s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.RoleSyncInterval), func() {
		if _, err := s.manager.DemoteRedundantGrants(ctx); err != nil {
			s.logger.Warn("premium demotion pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	go s.runFullSync(ctx)
	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for any running job to return. An in-flight
// sync pass is abandoned at the next context check; the next start converges
// from scratch.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runFullSync(ctx context.Context) {
	if _, err := s.manager.SyncPremiumRoles(ctx); err != nil {
		if errors.Is(err, ErrSyncInFlight) {
			s.logger.Debug("premium sync skipped, pass already running")
			return
		}
		s.logger.Error("premium sync failed", zap.Error(err))
	}
}
