package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/apperrors"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/config"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/export"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/repositories"
)

// QueryService is the read path over shard contents. Bounded reads run under
// the interactive timeout; full-shard dumps run under the bulk timeout and
// stream rows without buffering the shard in memory.
type QueryService interface {
	// FetchNextK returns up to k records of one data source with
	// timestamp >= fromTS, oldest first. k above the configured cap is
	// rejected with apperrors.ErrValidation.
	FetchNextK(ctx context.Context, callerID, campaignID, userID, dataSourceID, fromTS int64, k int) ([]models.Record, error)

	// FetchRange returns records in [from, till); nil bounds are open. When
	// truncate is set, values above the threshold are replaced with a
	// "[N] bytes" placeholder so dashboards don't pull raw payloads.
	FetchRange(ctx context.Context, callerID, campaignID, userID, dataSourceID int64, from, till *int64, truncate bool) ([]models.Record, error)

	// DumpShard streams the participant's full shard to w in the portable
	// dump encoding and returns the number of rows written. Creator and
	// granted researchers only.
	DumpShard(ctx context.Context, callerID, campaignID, userID int64, w io.Writer) (int64, error)
}

type queryService struct {
	shards       repositories.ShardStore
	bindingRepo  repositories.BindingRepository
	campaignRepo repositories.CampaignRepository
	limits       config.LimitsConfig
	interactive  time.Duration
	bulk         time.Duration
	logger       *zap.Logger
}

func NewQueryService(
	shards repositories.ShardStore,
	bindingRepo repositories.BindingRepository,
	campaignRepo repositories.CampaignRepository,
	limits config.LimitsConfig,
	interactiveTimeout, bulkTimeout time.Duration,
	logger *zap.Logger,
) QueryService {
	return &queryService{
		shards:       shards,
		bindingRepo:  bindingRepo,
		campaignRepo: campaignRepo,
		limits:       limits,
		interactive:  interactiveTimeout,
		bulk:         bulkTimeout,
		logger:       logger.Named("query-service"),
	}
}

var _ QueryService = (*queryService)(nil)

func (s *queryService) FetchNextK(ctx context.Context, callerID, campaignID, userID, dataSourceID, fromTS int64, k int) ([]models.Record, error) {
	if k <= 0 || k > s.limits.MaxKRecords {
		return nil, fmt.Errorf("%w: k must be in 1..%d, got %d", apperrors.ErrValidation, s.limits.MaxKRecords, k)
	}
	h, err := s.authorizeRead(ctx, callerID, campaignID, userID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.interactive)
	defer cancel()
	return s.shards.ReadKNext(opCtx, h, dataSourceID, fromTS, k)
}

func (s *queryService) FetchRange(ctx context.Context, callerID, campaignID, userID, dataSourceID int64, from, till *int64, truncate bool) ([]models.Record, error) {
	h, err := s.authorizeRead(ctx, callerID, campaignID, userID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.interactive)
	defer cancel()
	recs, err := s.shards.ReadRange(opCtx, h, dataSourceID, from, till, s.limits.DefaultRangePageSize)
	if err != nil {
		return nil, err
	}

	if truncate {
		for i := range recs {
			if len(recs[i].Value) > s.limits.TruncateThresholdBytes {
				recs[i].Value = []byte(fmt.Sprintf("[%d] bytes", len(recs[i].Value)))
			}
		}
	}
	return recs, nil
}

func (s *queryService) DumpShard(ctx context.Context, callerID, campaignID, userID int64, w io.Writer) (int64, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if campaign.CreatorID != callerID {
		isResearcher, err := s.campaignRepo.IsResearcher(ctx, campaignID, callerID)
		if err != nil {
			return 0, err
		}
		if !isResearcher {
			return 0, apperrors.ErrPermissionDenied
		}
	}
	if _, err := s.bindingRepo.Get(ctx, campaignID, userID); err != nil {
		return 0, err
	}

	enc, err := export.NewWriter(w)
	if err != nil {
		return 0, err
	}

	h := repositories.ShardHandle{CampaignID: campaignID, UserID: userID}
	opCtx, cancel := context.WithTimeout(ctx, s.bulk)
	defer cancel()

	start := time.Now()
	if err := s.shards.StreamShard(opCtx, h, enc.Write); err != nil {
		return enc.Count(), err
	}
	if err := enc.Flush(); err != nil {
		return enc.Count(), err
	}

	s.logger.Info("Shard dump completed",
		zap.Int64("campaign_id", campaignID),
		zap.Int64("user_id", userID),
		zap.Int64("rows", enc.Count()),
		zap.Duration("elapsed", time.Since(start)))
	return enc.Count(), nil
}

// authorizeRead checks that the caller may read the target shard: the
// participant reading their own data, the campaign creator, or a granted
// researcher. The target must actually be bound.
func (s *queryService) authorizeRead(ctx context.Context, callerID, campaignID, userID int64) (repositories.ShardHandle, error) {
	var zero repositories.ShardHandle

	bound, err := s.bindingRepo.IsBound(ctx, campaignID, userID)
	if err != nil {
		return zero, err
	}
	if !bound {
		return zero, apperrors.ErrNotBound
	}

	if callerID != userID {
		campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
		if err != nil {
			return zero, err
		}
		if campaign.CreatorID != callerID {
			isResearcher, err := s.campaignRepo.IsResearcher(ctx, campaignID, callerID)
			if err != nil {
				return zero, err
			}
			if !isResearcher {
				return zero, apperrors.ErrPermissionDenied
			}
		}
	}
	return repositories.ShardHandle{CampaignID: campaignID, UserID: userID}, nil
}
