package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/apperrors"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/database"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
)

// BindingRepository defines data access for participant bindings.
type BindingRepository interface {
	// Bind creates the (campaign, user) binding if absent and provisions the
	// pair's shard in the same transaction. The check-then-act is a single
	// conditional insert, so concurrent binds of the same pair see exactly
	// one isNew=true. Idempotent: a repeat call reports isNew=false.
	Bind(ctx context.Context, campaignID, userID, joinTS int64) (isNew bool, err error)

	// IsBound reports whether the binding exists.
	IsBound(ctx context.Context, campaignID, userID int64) (bool, error)

	// Get retrieves one binding. Returns apperrors.ErrNotBound if absent.
	Get(ctx context.Context, campaignID, userID int64) (*models.Binding, error)

	// ListParticipantIDs returns the user ids bound to the campaign.
	ListParticipantIDs(ctx context.Context, campaignID int64) ([]int64, error)

	// CountParticipants returns the number of bindings for the campaign.
	CountParticipants(ctx context.Context, campaignID int64) (int, error)

	// UpdateHeartbeat sets last_heartbeat_ts for an existing binding.
	UpdateHeartbeat(ctx context.Context, campaignID, userID, ts int64) error

	// Remove deletes the binding. The shard and its data stay.
	Remove(ctx context.Context, campaignID, userID int64) error
}

type bindingRepository struct {
	db *database.DB
}

// NewBindingRepository creates a new binding repository.
func NewBindingRepository(db *database.DB) BindingRepository {
	return &bindingRepository{db: db}
}

func (r *bindingRepository) Bind(ctx context.Context, campaignID, userID, joinTS int64) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin bind transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	ct, err := tx.Exec(ctx, `
		INSERT INTO campaign_participants (campaign_id, user_id, join_ts)
		VALUES ($1, $2, $3)
		ON CONFLICT (campaign_id, user_id) DO NOTHING`,
		campaignID, userID, joinTS)
	if err != nil {
		return false, fmt.Errorf("failed to insert binding: %w", err)
	}

	isNew := ct.RowsAffected() == 1
	if isNew {
		// Shard provisioning rides the binding transaction so the first bind
		// either yields both rows and table, or neither.
		if _, err := tx.Exec(ctx, shardDDL(ShardHandle{CampaignID: campaignID, UserID: userID})); err != nil {
			return false, fmt.Errorf("failed to provision shard: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit bind transaction: %w", err)
	}
	return isNew, nil
}

func (r *bindingRepository) IsBound(ctx context.Context, campaignID, userID int64) (bool, error) {
	var bound bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM campaign_participants WHERE campaign_id = $1 AND user_id = $2)`,
		campaignID, userID).Scan(&bound)
	if err != nil {
		return false, fmt.Errorf("failed to check binding: %w", err)
	}
	return bound, nil
}

func (r *bindingRepository) Get(ctx context.Context, campaignID, userID int64) (*models.Binding, error) {
	var b models.Binding
	err := r.db.QueryRow(ctx, `
		SELECT campaign_id, user_id, join_ts, last_heartbeat_ts
		FROM campaign_participants WHERE campaign_id = $1 AND user_id = $2`,
		campaignID, userID).
		Scan(&b.CampaignID, &b.UserID, &b.JoinTimestamp, &b.LastHeartbeatTimestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotBound
		}
		return nil, fmt.Errorf("failed to get binding: %w", err)
	}
	return &b, nil
}

func (r *bindingRepository) ListParticipantIDs(ctx context.Context, campaignID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id FROM campaign_participants WHERE campaign_id = $1 ORDER BY user_id`,
		campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan participant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *bindingRepository) CountParticipants(ctx context.Context, campaignID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM campaign_participants WHERE campaign_id = $1`, campaignID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return count, nil
}

func (r *bindingRepository) UpdateHeartbeat(ctx context.Context, campaignID, userID, ts int64) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE campaign_participants SET last_heartbeat_ts = $1
		WHERE campaign_id = $2 AND user_id = $3`,
		ts, campaignID, userID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotBound
	}
	return nil
}

func (r *bindingRepository) Remove(ctx context.Context, campaignID, userID int64) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM campaign_participants WHERE campaign_id = $1 AND user_id = $2`,
		campaignID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove binding: %w", err)
	}
	return nil
}
