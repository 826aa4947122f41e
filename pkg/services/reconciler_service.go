package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/config"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/repositories"
)

// StatsReconciler derives the per-source statistics rows from raw shard
// contents. It is the only writer of those rows; the ingestion path never
// touches counters, so the numbers lag live writes by up to one cycle.
type StatsReconciler interface {
	// ReconcileCampaign recomputes statistics for every (participant, data
	// source) pair of one campaign. A pair that fails is logged and skipped;
	// it does not stop the rest of the campaign.
	ReconcileCampaign(ctx context.Context, campaign *models.Campaign) error

	// RunScheduler starts the background reconciliation loop. It runs one
	// cycle immediately, then repeats on the interval. Campaigns still being
	// reconciled from a previous cycle are skipped, never run twice at once.
	// Cancel the context to stop.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type statsReconciler struct {
	campaignRepo repositories.CampaignRepository
	bindingRepo  repositories.BindingRepository
	shards       repositories.ShardStore
	statsRepo    repositories.StatsRepository
	bulkTimeout  time.Duration
	sem          *semaphore.Weighted
	logger       *zap.Logger

	mu      sync.Mutex
	running map[int64]bool
}

func NewStatsReconciler(
	campaignRepo repositories.CampaignRepository,
	bindingRepo repositories.BindingRepository,
	shards repositories.ShardStore,
	statsRepo repositories.StatsRepository,
	cfg config.StatsConfig,
	bulkTimeout time.Duration,
	logger *zap.Logger,
) StatsReconciler {
	return &statsReconciler{
		campaignRepo: campaignRepo,
		bindingRepo:  bindingRepo,
		shards:       shards,
		statsRepo:    statsRepo,
		bulkTimeout:  bulkTimeout,
		sem:          semaphore.NewWeighted(cfg.MaxConcurrentCampaigns),
		logger:       logger.Named("stats-reconciler"),
		running:      make(map[int64]bool),
	}
}

var _ StatsReconciler = (*statsReconciler)(nil)

func (s *statsReconciler) ReconcileCampaign(ctx context.Context, campaign *models.Campaign) error {
	participantIDs, err := s.bindingRepo.ListParticipantIDs(ctx, campaign.ID)
	if err != nil {
		return err
	}

	var failed int
	for _, userID := range participantIDs {
		h := repositories.ShardHandle{CampaignID: campaign.ID, UserID: userID}
		for _, entry := range campaign.DataSourceConfigs {
			if err := s.reconcilePair(ctx, h, entry.DataSourceID); err != nil {
				failed++
				s.logger.Warn("Failed to reconcile pair",
					zap.Int64("campaign_id", campaign.ID),
					zap.Int64("user_id", userID),
					zap.Int64("data_source_id", entry.DataSourceID),
					zap.Error(err))
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}

	if failed > 0 {
		s.logger.Info("Reconciliation cycle finished with failures",
			zap.Int64("campaign_id", campaign.ID),
			zap.Int("participants", len(participantIDs)),
			zap.Int("failed_pairs", failed))
	}
	return nil
}

// reconcilePair recomputes one counter row from the shard. Counting and
// upserting are not atomic together; a stale row is overwritten by the next
// cycle, so the result is the same once writes quiesce.
func (s *statsReconciler) reconcilePair(ctx context.Context, h repositories.ShardHandle, dataSourceID int64) error {
	opCtx, cancel := context.WithTimeout(ctx, s.bulkTimeout)
	defer cancel()

	count, maxTS, err := s.shards.CountAndMaxTS(opCtx, h, dataSourceID)
	if err != nil {
		return err
	}

	return s.statsRepo.Upsert(opCtx, &models.PerSourceStat{
		CampaignID:      h.CampaignID,
		UserID:          h.UserID,
		DataSourceID:    dataSourceID,
		AmountOfSamples: count,
		SyncTimestamp:   maxTS,
	})
}

func (s *statsReconciler) RunScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Stats reconciler started", zap.Duration("interval", interval))

		s.runCycle(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Stats reconciler stopped")
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// runCycle fans out one reconciliation pass over the campaigns still active
// right now; an ended campaign keeps its last counters forever. Concurrency
// is bounded by the semaphore so background scans cannot drain the shared
// connection pool. Cycles may overlap when a campaign is slow; the running
// map guarantees no campaign is ever reconciled by two passes at once.
func (s *statsReconciler) runCycle(ctx context.Context) {
	campaigns, err := s.campaignRepo.List(ctx, nil, time.Now().UnixMilli())
	if err != nil {
		s.logger.Error("Failed to list campaigns for reconciliation", zap.Error(err))
		return
	}

	for _, campaign := range campaigns {
		if !s.tryStart(campaign.ID) {
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.finish(campaign.ID)
			return
		}

		go func(c *models.Campaign) {
			defer s.sem.Release(1)
			defer s.finish(c.ID)

			if err := s.ReconcileCampaign(ctx, c); err != nil && ctx.Err() == nil {
				s.logger.Error("Campaign reconciliation failed",
					zap.Int64("campaign_id", c.ID),
					zap.Error(err))
			}
		}(campaign)
	}
}

func (s *statsReconciler) tryStart(campaignID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[campaignID] {
		return false
	}
	s.running[campaignID] = true
	return true
}

func (s *statsReconciler) finish(campaignID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, campaignID)
}
