package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/apperrors"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/config"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/repositories"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/retry"
)

// IngestionService is the write path for device-submitted records. It
// validates the caller's binding, bounds every storage call with the
// interactive timeout, and retries transient failures.
type IngestionService interface {
	// SubmitRecord appends one record to the caller's shard. Resubmitting the
	// same (dataSourceId, timestamp) key is last-write-wins, so device-side
	// retries are safe.
	SubmitRecord(ctx context.Context, campaignID, userID int64, rec models.Record) error

	// SubmitRecords appends a batch. The batch is split into payload-bounded
	// sub-batches committed independently; on failure the returned count says
	// how many records are durable, and the device resubmits the rest.
	SubmitRecords(ctx context.Context, campaignID, userID int64, recs []models.Record) (int, error)
}

type ingestionService struct {
	shards      repositories.ShardStore
	bindingRepo repositories.BindingRepository
	limits      config.LimitsConfig
	timeout     time.Duration
	retryCfg    *retry.Config
	logger      *zap.Logger
}

func NewIngestionService(
	shards repositories.ShardStore,
	bindingRepo repositories.BindingRepository,
	limits config.LimitsConfig,
	interactiveTimeout time.Duration,
	logger *zap.Logger,
) IngestionService {
	return &ingestionService{
		shards:      shards,
		bindingRepo: bindingRepo,
		limits:      limits,
		timeout:     interactiveTimeout,
		retryCfg:    retry.DefaultConfig(),
		logger:      logger.Named("ingestion-service"),
	}
}

var _ IngestionService = (*ingestionService)(nil)

func (s *ingestionService) SubmitRecord(ctx context.Context, campaignID, userID int64, rec models.Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	h, err := s.shardFor(ctx, campaignID, userID)
	if err != nil {
		return err
	}

	return retry.Do(ctx, s.retryCfg, func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.shards.WriteRecord(opCtx, h, rec)
	})
}

func (s *ingestionService) SubmitRecords(ctx context.Context, campaignID, userID int64, recs []models.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	for i, rec := range recs {
		if err := validateRecord(rec); err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
	}
	h, err := s.shardFor(ctx, campaignID, userID)
	if err != nil {
		return 0, err
	}

	// Each sub-batch already commits independently inside WriteBatch, so the
	// retry wraps the whole call: records committed before a transient
	// failure are rewritten with identical keys, which is a no-op.
	var written int
	err = retry.Do(ctx, s.retryCfg, func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		n, werr := s.shards.WriteBatch(opCtx, h, recs, s.limits.BatchPayloadLimitBytes)
		if n > written {
			written = n
		}
		return werr
	})
	if err != nil {
		s.logger.Warn("Batch write incomplete",
			zap.Int64("campaign_id", campaignID),
			zap.Int64("user_id", userID),
			zap.Int("submitted", len(recs)),
			zap.Int("written", written),
			zap.Error(err))
		return written, err
	}
	return written, nil
}

// shardFor authorizes the write and resolves the target shard. A missing
// binding is terminal: the device must bind before submitting.
func (s *ingestionService) shardFor(ctx context.Context, campaignID, userID int64) (repositories.ShardHandle, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	bound, err := s.bindingRepo.IsBound(opCtx, campaignID, userID)
	if err != nil {
		return repositories.ShardHandle{}, err
	}
	if !bound {
		return repositories.ShardHandle{}, apperrors.ErrNotBound
	}
	return repositories.ShardHandle{CampaignID: campaignID, UserID: userID}, nil
}

func validateRecord(rec models.Record) error {
	if rec.DataSourceID <= 0 {
		return fmt.Errorf("%w: dataSourceId must be positive", apperrors.ErrValidation)
	}
	if rec.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp must be positive", apperrors.ErrValidation)
	}
	return nil
}
