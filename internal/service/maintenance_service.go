package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/storage"
	"github.com/chronoshq/chronos-api/pkg/config"
)

// MaintenanceService runs periodic cleanup jobs, currently the purge of
// expired tombstones. Tombstones must outlive the longest sync interval of
// any client, so the retention horizon is configuration, not policy.
type MaintenanceService struct {
	store   storage.Calendar
	cfg     config.MaintenanceConfig
	metrics *MetricsService
	logger  *zap.Logger
	cron    *cron.Cron
}

// NewMaintenanceService constructs the service; Start arms the schedule.
func NewMaintenanceService(store storage.Calendar, cfg config.MaintenanceConfig, metrics *MetricsService, logger *zap.Logger) *MaintenanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceService{
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Start schedules the cleanup job. A disabled service is a no-op.
func (s *MaintenanceService) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("maintenance disabled")
		return nil
	}
	spec := s.cfg.CronSpec
	if spec == "" {
		spec = "0 3 * * *"
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("maintenance scheduled",
		zap.String("cron", spec),
		zap.Duration("tombstone_retention", s.cfg.TombstoneRetention))
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *MaintenanceService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *MaintenanceService) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	horizon := time.Now().UTC().Add(-s.cfg.TombstoneRetention)
	purged, err := s.store.Events().PurgeTombstones(ctx, horizon)
	if err != nil {
		s.logger.Error("tombstone purge failed", zap.Error(err))
		return
	}
	s.metrics.RecordTombstonesPurged(purged)
	if purged > 0 {
		s.logger.Info("tombstones purged",
			zap.Int64("count", purged),
			zap.Time("horizon", horizon))
	}
}
