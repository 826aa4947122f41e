package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/apperrors"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/repositories"
)

// MessagingService handles direct messages between users and campaign-wide
// notifications. Delivery is pull-based: devices poll and drain their unread
// queue; a drained message is never delivered again.
type MessagingService interface {
	// SendDirectMessage delivers a message from the caller to one user,
	// addressed by username.
	SendDirectMessage(ctx context.Context, srcUserID int64, dstUsername, subject, content string) error

	// TakeDirectMessages returns the caller's unread messages, oldest first,
	// and marks them read in the same step.
	TakeDirectMessages(ctx context.Context, userID int64) ([]models.DirectMessage, error)

	// NotifyCampaign fans a notification out to every bound participant of
	// the campaign. Creator only.
	NotifyCampaign(ctx context.Context, callerID, campaignID int64, subject, content string) (int, error)

	// TakeNotifications returns and drains the caller's unread notifications.
	TakeNotifications(ctx context.Context, userID int64) ([]models.Notification, error)
}

type messagingService struct {
	messageRepo  repositories.MessageRepository
	userRepo     repositories.UserRepository
	campaignRepo repositories.CampaignRepository
	bindingRepo  repositories.BindingRepository
	logger       *zap.Logger
}

func NewMessagingService(
	messageRepo repositories.MessageRepository,
	userRepo repositories.UserRepository,
	campaignRepo repositories.CampaignRepository,
	bindingRepo repositories.BindingRepository,
	logger *zap.Logger,
) MessagingService {
	return &messagingService{
		messageRepo:  messageRepo,
		userRepo:     userRepo,
		campaignRepo: campaignRepo,
		bindingRepo:  bindingRepo,
		logger:       logger.Named("messaging-service"),
	}
}

var _ MessagingService = (*messagingService)(nil)

func (s *messagingService) SendDirectMessage(ctx context.Context, srcUserID int64, dstUsername, subject, content string) error {
	if subject == "" && content == "" {
		return fmt.Errorf("%w: message subject or content is required", apperrors.ErrValidation)
	}
	dst, err := s.userRepo.GetByUsername(ctx, dstUsername)
	if err != nil {
		return err
	}

	return s.messageRepo.CreateDirectMessage(ctx, &models.DirectMessage{
		SrcUserID: srcUserID,
		DstUserID: dst.ID,
		Timestamp: time.Now().UnixMilli(),
		Subject:   subject,
		Content:   content,
	})
}

func (s *messagingService) TakeDirectMessages(ctx context.Context, userID int64) ([]models.DirectMessage, error) {
	return s.messageRepo.TakeUnreadDirectMessages(ctx, userID)
}

func (s *messagingService) NotifyCampaign(ctx context.Context, callerID, campaignID int64, subject, content string) (int, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if campaign.CreatorID != callerID {
		return 0, apperrors.ErrPermissionDenied
	}

	participantIDs, err := s.bindingRepo.ListParticipantIDs(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if len(participantIDs) == 0 {
		return 0, nil
	}

	ts := time.Now().UnixMilli()
	if err := s.messageRepo.CreateNotifications(ctx, campaignID, participantIDs, ts, subject, content); err != nil {
		return 0, err
	}

	s.logger.Info("Campaign notification sent",
		zap.Int64("campaign_id", campaignID),
		zap.Int("recipients", len(participantIDs)))
	return len(participantIDs), nil
}

func (s *messagingService) TakeNotifications(ctx context.Context, userID int64) ([]models.Notification, error) {
	return s.messageRepo.TakeUnreadNotifications(ctx, userID)
}
