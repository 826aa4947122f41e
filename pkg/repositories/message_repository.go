package repositories

import (
	"context"
	"fmt"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/database"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
)

// MessageRepository defines data access for direct messages and notifications.
type MessageRepository interface {
	// CreateDirectMessage inserts a message and fills in its id.
	CreateDirectMessage(ctx context.Context, msg *models.DirectMessage) error

	// TakeUnreadDirectMessages returns the recipient's unread messages and
	// marks them read in the same transaction.
	TakeUnreadDirectMessages(ctx context.Context, dstUserID int64) ([]models.DirectMessage, error)

	// CreateNotifications fans one announcement out to all listed recipients.
	CreateNotifications(ctx context.Context, campaignID int64, dstUserIDs []int64, ts int64, subject, content string) error

	// TakeUnreadNotifications returns the recipient's unread notifications
	// and marks them read in the same transaction.
	TakeUnreadNotifications(ctx context.Context, dstUserID int64) ([]models.Notification, error)
}

type messageRepository struct {
	db *database.DB
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db *database.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) CreateDirectMessage(ctx context.Context, msg *models.DirectMessage) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO direct_messages (src_user_id, dst_user_id, ts, subject, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		msg.SrcUserID, msg.DstUserID, msg.Timestamp, msg.Subject, msg.Content).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to create direct message: %w", err)
	}
	return nil
}

func (r *messageRepository) TakeUnreadDirectMessages(ctx context.Context, dstUserID int64) ([]models.DirectMessage, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE direct_messages dm SET read = true
		FROM users u
		WHERE dm.dst_user_id = $1 AND NOT dm.read AND u.id = dm.src_user_id
		RETURNING dm.id, dm.src_user_id, dm.dst_user_id, dm.ts, dm.subject, dm.content, u.username`,
		dstUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to take unread direct messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.DirectMessage
	for rows.Next() {
		var m models.DirectMessage
		if err := rows.Scan(&m.ID, &m.SrcUserID, &m.DstUserID, &m.Timestamp, &m.Subject, &m.Content, &m.SrcUsername); err != nil {
			return nil, fmt.Errorf("failed to scan direct message: %w", err)
		}
		m.Read = true
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *messageRepository) CreateNotifications(ctx context.Context, campaignID int64, dstUserIDs []int64, ts int64, subject, content string) error {
	if len(dstUserIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO notifications (campaign_id, dst_user_id, ts, subject, content)
		SELECT $1, unnest($2::bigint[]), $3, $4, $5`,
		campaignID, dstUserIDs, ts, subject, content)
	if err != nil {
		return fmt.Errorf("failed to create notifications: %w", err)
	}
	return nil
}

func (r *messageRepository) TakeUnreadNotifications(ctx context.Context, dstUserID int64) ([]models.Notification, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE notifications SET read = true
		WHERE dst_user_id = $1 AND NOT read
		RETURNING id, campaign_id, dst_user_id, ts, subject, content`,
		dstUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to take unread notifications: %w", err)
	}
	defer rows.Close()

	var notes []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.CampaignID, &n.DstUserID, &n.Timestamp, &n.Subject, &n.Content); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Read = true
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
