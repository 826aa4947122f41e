package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/apperrors"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/repositories"
)

// RegistryService owns campaign lifecycle, participant bindings, and the
// researcher access lists. Every mutating call authorizes against the caller
// before touching storage.
type RegistryService interface {
	// RegisterOrUpdateCampaign creates the campaign when ID is zero, otherwise
	// rewrites the existing definition. Only the creator may update.
	RegisterOrUpdateCampaign(ctx context.Context, callerID int64, c *models.Campaign) (*models.Campaign, error)

	// GetCampaign retrieves a campaign the caller may see: its creator, a
	// granted researcher, or a bound participant.
	GetCampaign(ctx context.Context, callerID, campaignID int64) (*models.Campaign, error)

	// DeleteCampaign removes the campaign definition. Creator only. Bindings,
	// shards, and derived statistics are left in place.
	DeleteCampaign(ctx context.Context, callerID, campaignID int64) error

	// ListCampaigns returns campaigns visible to the caller: ones they
	// created plus ones they were granted researcher access to. When
	// activeOnly is set, campaigns that already ended are filtered out.
	ListCampaigns(ctx context.Context, callerID int64, activeOnly bool) ([]*models.Campaign, error)

	// Bind makes the caller a participant of the campaign and provisions
	// their shard. Idempotent; repeat binds report IsNewBinding=false.
	Bind(ctx context.Context, campaignID, userID int64) (*models.BindResult, error)

	// Unbind removes the caller's binding. Shard data stays.
	Unbind(ctx context.Context, campaignID, userID int64) error

	// IsBound reports whether the user participates in the campaign.
	IsBound(ctx context.Context, campaignID, userID int64) (bool, error)

	// SubmitHeartbeat records the device's liveness signal.
	SubmitHeartbeat(ctx context.Context, campaignID, userID, ts int64) error

	// ListParticipants returns the user ids bound to the campaign. Creator or
	// researcher only. Bindings whose account no longer exists are pruned.
	ListParticipants(ctx context.Context, callerID, campaignID int64) ([]int64, error)

	// GetParticipantStats assembles the dashboard view for one participant.
	// Accessible to the creator, granted researchers, and the participant.
	GetParticipantStats(ctx context.Context, callerID, campaignID, userID int64) (*models.ParticipantStats, error)

	// GrantResearcher and RevokeResearcher manage the campaign's read-access
	// list. Creator only; grants are addressed by username.
	GrantResearcher(ctx context.Context, callerID, campaignID int64, researcherUsername string) error
	RevokeResearcher(ctx context.Context, callerID, campaignID int64, researcherUsername string) error

	// GetOrCreateDataSource resolves a data source by name, creating it on
	// first reference. Safe under concurrent first references.
	GetOrCreateDataSource(ctx context.Context, callerID int64, name, iconName string) (*models.DataSource, error)

	// ListDataSources returns every known data source.
	ListDataSources(ctx context.Context) ([]*models.DataSource, error)
}

type registryService struct {
	campaignRepo repositories.CampaignRepository
	bindingRepo  repositories.BindingRepository
	userRepo     repositories.UserRepository
	dsRepo       repositories.DataSourceRepository
	statsRepo    repositories.StatsRepository
	logger       *zap.Logger
}

func NewRegistryService(
	campaignRepo repositories.CampaignRepository,
	bindingRepo repositories.BindingRepository,
	userRepo repositories.UserRepository,
	dsRepo repositories.DataSourceRepository,
	statsRepo repositories.StatsRepository,
	logger *zap.Logger,
) RegistryService {
	return &registryService{
		campaignRepo: campaignRepo,
		bindingRepo:  bindingRepo,
		userRepo:     userRepo,
		dsRepo:       dsRepo,
		statsRepo:    statsRepo,
		logger:       logger.Named("registry-service"),
	}
}

var _ RegistryService = (*registryService)(nil)

func (s *registryService) RegisterOrUpdateCampaign(ctx context.Context, callerID int64, c *models.Campaign) (*models.Campaign, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	for _, entry := range c.DataSourceConfigs {
		if _, err := s.dsRepo.GetByID(ctx, entry.DataSourceID); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown data source %d", apperrors.ErrValidation, entry.DataSourceID)
			}
			return nil, err
		}
	}

	if c.ID == 0 {
		c.CreatorID = callerID
		if err := s.campaignRepo.Create(ctx, c); err != nil {
			return nil, err
		}
		s.logger.Info("Campaign created",
			zap.Int64("campaign_id", c.ID),
			zap.Int64("creator_id", callerID),
			zap.String("name", c.Name))
		return c, nil
	}

	existing, err := s.campaignRepo.GetByID(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if existing.CreatorID != callerID {
		return nil, apperrors.ErrPermissionDenied
	}
	c.CreatorID = existing.CreatorID
	if err := s.campaignRepo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("Campaign updated", zap.Int64("campaign_id", c.ID))
	return c, nil
}

func (s *registryService) GetCampaign(ctx context.Context, callerID, campaignID int64) (*models.Campaign, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	ok, err := s.canRead(ctx, callerID, campaign)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrPermissionDenied
	}
	return campaign, nil
}

func (s *registryService) DeleteCampaign(ctx context.Context, callerID, campaignID int64) error {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.CreatorID != callerID {
		return apperrors.ErrPermissionDenied
	}
	if err := s.campaignRepo.Delete(ctx, campaignID); err != nil {
		return err
	}
	s.logger.Info("Campaign deleted", zap.Int64("campaign_id", campaignID))
	return nil
}

func (s *registryService) ListCampaigns(ctx context.Context, callerID int64, activeOnly bool) ([]*models.Campaign, error) {
	var activeAfter int64
	if activeOnly {
		activeAfter = time.Now().UnixMilli()
	}

	owned, err := s.campaignRepo.List(ctx, &callerID, activeAfter)
	if err != nil {
		return nil, err
	}

	grantedIDs, err := s.campaignRepo.ListResearcherCampaignIDs(ctx, callerID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(owned))
	for _, c := range owned {
		seen[c.ID] = true
	}
	for _, id := range grantedIDs {
		if seen[id] {
			continue
		}
		c, err := s.campaignRepo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				continue // grant outlived the campaign
			}
			return nil, err
		}
		if activeOnly && !c.IsActive(activeAfter) {
			continue
		}
		owned = append(owned, c)
	}
	return owned, nil
}

func (s *registryService) Bind(ctx context.Context, campaignID, userID int64) (*models.BindResult, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.IsActive(time.Now().UnixMilli()) {
		return nil, fmt.Errorf("%w: campaign %d has ended", apperrors.ErrValidation, campaignID)
	}

	isNew, err := s.bindingRepo.Bind(ctx, campaignID, userID, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	if isNew {
		s.logger.Info("Participant bound",
			zap.Int64("campaign_id", campaignID),
			zap.Int64("user_id", userID))
	}
	return &models.BindResult{
		IsNewBinding:           isNew,
		CampaignStartTimestamp: campaign.StartTimestamp,
	}, nil
}

func (s *registryService) Unbind(ctx context.Context, campaignID, userID int64) error {
	return s.bindingRepo.Remove(ctx, campaignID, userID)
}

func (s *registryService) IsBound(ctx context.Context, campaignID, userID int64) (bool, error) {
	return s.bindingRepo.IsBound(ctx, campaignID, userID)
}

func (s *registryService) SubmitHeartbeat(ctx context.Context, campaignID, userID, ts int64) error {
	return s.bindingRepo.UpdateHeartbeat(ctx, campaignID, userID, ts)
}

func (s *registryService) ListParticipants(ctx context.Context, callerID, campaignID int64) ([]int64, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.CreatorID != callerID {
		isResearcher, err := s.campaignRepo.IsResearcher(ctx, campaignID, callerID)
		if err != nil {
			return nil, err
		}
		if !isResearcher {
			return nil, apperrors.ErrPermissionDenied
		}
	}

	ids, err := s.bindingRepo.ListParticipantIDs(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	// Bindings can outlive deleted accounts; drop those rows as we see them.
	live := ids[:0]
	for _, id := range ids {
		exists, err := s.userRepo.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			if err := s.bindingRepo.Remove(ctx, campaignID, id); err != nil {
				s.logger.Warn("Failed to prune orphaned binding",
					zap.Int64("campaign_id", campaignID),
					zap.Int64("user_id", id),
					zap.Error(err))
			}
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

func (s *registryService) GetParticipantStats(ctx context.Context, callerID, campaignID, userID int64) (*models.ParticipantStats, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if callerID != userID && campaign.CreatorID != callerID {
		isResearcher, err := s.campaignRepo.IsResearcher(ctx, campaignID, callerID)
		if err != nil {
			return nil, err
		}
		if !isResearcher {
			return nil, apperrors.ErrPermissionDenied
		}
	}

	binding, err := s.bindingRepo.Get(ctx, campaignID, userID)
	if err != nil {
		return nil, err
	}

	perSource, err := s.statsRepo.ListForParticipant(ctx, campaignID, userID)
	if err != nil {
		return nil, err
	}

	stats := &models.ParticipantStats{
		CampaignID:             campaignID,
		UserID:                 userID,
		JoinTimestamp:          binding.JoinTimestamp,
		LastHeartbeatTimestamp: binding.LastHeartbeatTimestamp,
		PerSource:              perSource,
	}
	for _, st := range perSource {
		stats.AmountOfSamples += st.AmountOfSamples
		if st.SyncTimestamp > stats.LastSyncTimestamp {
			stats.LastSyncTimestamp = st.SyncTimestamp
		}
	}
	return stats, nil
}

func (s *registryService) GrantResearcher(ctx context.Context, callerID, campaignID int64, researcherUsername string) error {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.CreatorID != callerID {
		return apperrors.ErrPermissionDenied
	}
	researcher, err := s.userRepo.GetByUsername(ctx, researcherUsername)
	if err != nil {
		return err
	}
	return s.campaignRepo.GrantResearcher(ctx, campaignID, researcher.ID)
}

func (s *registryService) RevokeResearcher(ctx context.Context, callerID, campaignID int64, researcherUsername string) error {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.CreatorID != callerID {
		return apperrors.ErrPermissionDenied
	}
	researcher, err := s.userRepo.GetByUsername(ctx, researcherUsername)
	if err != nil {
		return err
	}
	return s.campaignRepo.RevokeResearcher(ctx, campaignID, researcher.ID)
}

func (s *registryService) GetOrCreateDataSource(ctx context.Context, callerID int64, name, iconName string) (*models.DataSource, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: data source name is required", apperrors.ErrValidation)
	}
	return s.dsRepo.GetOrCreate(ctx, callerID, name, iconName)
}

func (s *registryService) ListDataSources(ctx context.Context) ([]*models.DataSource, error) {
	return s.dsRepo.List(ctx)
}

// canRead reports whether the caller may see the campaign: its creator, a
// granted researcher, or a bound participant.
func (s *registryService) canRead(ctx context.Context, callerID int64, campaign *models.Campaign) (bool, error) {
	if campaign.CreatorID == callerID {
		return true, nil
	}
	isResearcher, err := s.campaignRepo.IsResearcher(ctx, campaign.ID, callerID)
	if err != nil {
		return false, err
	}
	if isResearcher {
		return true, nil
	}
	return s.bindingRepo.IsBound(ctx, campaign.ID, callerID)
}
