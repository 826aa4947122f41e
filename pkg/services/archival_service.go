package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/config"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/export"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/repositories"
)

// ArchivalService periodically exports every campaign's shards to durable
// files. Participants within a campaign export serially; campaigns export
// independently, and a campaign whose previous run is still going is skipped
// rather than run twice.
type ArchivalService interface {
	// ArchiveCampaign exports every participant shard of the campaign to the
	// archive directory and writes a run manifest beside the dumps. One
	// failed shard is recorded in the manifest and does not stop the run.
	ArchiveCampaign(ctx context.Context, campaign *models.Campaign) (*export.Manifest, error)

	// RunScheduler starts the background archival loop. First run happens
	// after one interval, not at startup, so boot stays cheap. Cancel the
	// context to stop.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type archivalService struct {
	campaignRepo repositories.CampaignRepository
	bindingRepo  repositories.BindingRepository
	shards       repositories.ShardStore
	dir          string
	bulkTimeout  time.Duration
	sem          *semaphore.Weighted
	logger       *zap.Logger

	mu       sync.Mutex
	inFlight map[int64]bool
}

func NewArchivalService(
	campaignRepo repositories.CampaignRepository,
	bindingRepo repositories.BindingRepository,
	shards repositories.ShardStore,
	cfg config.ArchivalConfig,
	bulkTimeout time.Duration,
	logger *zap.Logger,
) ArchivalService {
	return &archivalService{
		campaignRepo: campaignRepo,
		bindingRepo:  bindingRepo,
		shards:       shards,
		dir:          cfg.Dir,
		bulkTimeout:  bulkTimeout,
		sem:          semaphore.NewWeighted(cfg.MaxConcurrentCampaigns),
		logger:       logger.Named("archival-service"),
		inFlight:     make(map[int64]bool),
	}
}

var _ ArchivalService = (*archivalService)(nil)

func (s *archivalService) ArchiveCampaign(ctx context.Context, campaign *models.Campaign) (*export.Manifest, error) {
	participantIDs, err := s.bindingRepo.ListParticipantIDs(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}

	runDir := filepath.Join(s.dir, fmt.Sprintf("campaign_%d", campaign.ID))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}

	manifest := &export.Manifest{
		RunID:      uuid.NewString(),
		CampaignID: campaign.ID,
		StartedAt:  time.Now().UTC(),
	}

	for _, userID := range participantIDs {
		sm := export.ShardManifest{
			UserID: userID,
			File:   fmt.Sprintf("participant_%d.csv", userID),
		}
		n, err := s.archiveShard(ctx, campaign.ID, userID, filepath.Join(runDir, sm.File))
		sm.Records = n
		if err != nil {
			sm.Error = err.Error()
			manifest.FailedCount++
			s.logger.Warn("Shard export failed",
				zap.Int64("campaign_id", campaign.ID),
				zap.Int64("user_id", userID),
				zap.Error(err))
		}
		manifest.Shards = append(manifest.Shards, sm)

		if ctx.Err() != nil {
			return manifest, ctx.Err()
		}
	}

	manifest.FinishedAt = time.Now().UTC()
	if err := export.WriteManifest(filepath.Join(runDir, "manifest.yaml"), manifest); err != nil {
		return manifest, err
	}

	s.logger.Info("Campaign archived",
		zap.Int64("campaign_id", campaign.ID),
		zap.String("run_id", manifest.RunID),
		zap.Int("shards", len(manifest.Shards)),
		zap.Int("failed", manifest.FailedCount))
	return manifest, nil
}

// archiveShard streams one shard into a dump file. The file is written to a
// temp name and renamed so a crashed run never leaves a half dump under the
// final name.
func (s *archivalService) archiveShard(ctx context.Context, campaignID, userID int64, path string) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.bulkTimeout)
	defer cancel()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create dump file: %w", err)
	}

	enc, err := export.NewWriter(f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, err
	}

	h := repositories.ShardHandle{CampaignID: campaignID, UserID: userID}
	if err := s.shards.StreamShard(opCtx, h, enc.Write); err != nil {
		f.Close()
		os.Remove(tmp)
		return enc.Count(), err
	}
	if err := enc.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return enc.Count(), err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return enc.Count(), err
	}
	return enc.Count(), os.Rename(tmp, path)
}

func (s *archivalService) RunScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Archival scheduler started",
			zap.Duration("interval", interval),
			zap.String("dir", s.dir))

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Archival scheduler stopped")
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// runCycle exports every campaign still active right now; an ended campaign
// keeps its last archive. Exports are bounded by the semaphore so a pile of
// big campaigns cannot monopolize the connection pool or disk bandwidth.
func (s *archivalService) runCycle(ctx context.Context) {
	campaigns, err := s.campaignRepo.List(ctx, nil, time.Now().UnixMilli())
	if err != nil {
		s.logger.Error("Failed to list campaigns for archival", zap.Error(err))
		return
	}

	for _, campaign := range campaigns {
		if !s.tryStart(campaign.ID) {
			s.logger.Debug("Previous archival run still alive, skipping",
				zap.Int64("campaign_id", campaign.ID))
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.finish(campaign.ID)
			return
		}

		go func(c *models.Campaign) {
			defer s.sem.Release(1)
			defer s.finish(c.ID)
			if _, err := s.ArchiveCampaign(ctx, c); err != nil && ctx.Err() == nil {
				s.logger.Error("Campaign archival failed",
					zap.Int64("campaign_id", c.ID),
					zap.Error(err))
			}
		}(campaign)
	}
}

func (s *archivalService) tryStart(campaignID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[campaignID] {
		return false
	}
	s.inFlight[campaignID] = true
	return true
}

func (s *archivalService) finish(campaignID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, campaignID)
}
