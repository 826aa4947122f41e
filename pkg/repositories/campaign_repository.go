package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/apperrors"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/database"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
)

// CampaignRepository defines data access for campaigns and researcher grants.
type CampaignRepository interface {
	// Create inserts a new campaign and fills in its id.
	Create(ctx context.Context, c *models.Campaign) error

	// Update rewrites a campaign's mutable fields. The creator check happens
	// in the service layer; the repository just matches on id.
	Update(ctx context.Context, c *models.Campaign) error

	// GetByID retrieves a campaign. Returns apperrors.ErrNotFound if absent.
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)

	// Delete removes the campaign row only. Bindings, shards, and statistics
	// are deliberately left in place (documented non-cascade).
	Delete(ctx context.Context, id int64) error

	// List retrieves campaigns, optionally restricted to one creator and to
	// campaigns that have not yet ended.
	List(ctx context.Context, creatorID *int64, activeOnlyAfterMS int64) ([]*models.Campaign, error)

	// GrantResearcher / RevokeResearcher manage read-access grants.
	GrantResearcher(ctx context.Context, campaignID, researcherID int64) error
	RevokeResearcher(ctx context.Context, campaignID, researcherID int64) error

	// IsResearcher reports whether the user holds a grant for the campaign.
	IsResearcher(ctx context.Context, campaignID, researcherID int64) (bool, error)

	// ListResearcherCampaignIDs returns ids of campaigns the user holds grants for.
	ListResearcherCampaignIDs(ctx context.Context, researcherID int64) ([]int64, error)
}

type campaignRepository struct {
	db *database.DB
}

// NewCampaignRepository creates a new campaign repository.
func NewCampaignRepository(db *database.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

func (r *campaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	cfg, err := json.Marshal(c.DataSourceConfigs)
	if err != nil {
		return fmt.Errorf("failed to marshal data source configs: %w", err)
	}

	query := `
		INSERT INTO campaigns (creator_id, name, notes, config_json, start_ts, end_ts, remove_inactive_after_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err = r.db.QueryRow(ctx, query,
		c.CreatorID, c.Name, c.Notes, cfg, c.StartTimestamp, c.EndTimestamp, c.RemoveInactiveAfterMS,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

func (r *campaignRepository) Update(ctx context.Context, c *models.Campaign) error {
	cfg, err := json.Marshal(c.DataSourceConfigs)
	if err != nil {
		return fmt.Errorf("failed to marshal data source configs: %w", err)
	}

	ct, err := r.db.Exec(ctx, `
		UPDATE campaigns
		SET name = $1, notes = $2, config_json = $3, start_ts = $4, end_ts = $5, remove_inactive_after_ms = $6
		WHERE id = $7`,
		c.Name, c.Notes, cfg, c.StartTimestamp, c.EndTimestamp, c.RemoveInactiveAfterMS, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *campaignRepository) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, creator_id, name, notes, config_json, start_ts, end_ts, remove_inactive_after_ms
		FROM campaigns WHERE id = $1`, id)

	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

func (r *campaignRepository) Delete(ctx context.Context, id int64) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *campaignRepository) List(ctx context.Context, creatorID *int64, activeOnlyAfterMS int64) ([]*models.Campaign, error) {
	query := `
		SELECT id, creator_id, name, notes, config_json, start_ts, end_ts, remove_inactive_after_ms
		FROM campaigns WHERE ($1::bigint IS NULL OR creator_id = $1) AND end_ts > $2
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, creatorID, activeOnlyAfterMS)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var c models.Campaign
	var cfg []byte
	if err := row.Scan(&c.ID, &c.CreatorID, &c.Name, &c.Notes, &cfg,
		&c.StartTimestamp, &c.EndTimestamp, &c.RemoveInactiveAfterMS); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &c.DataSourceConfigs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data source configs: %w", err)
	}
	return &c, nil
}

func (r *campaignRepository) GrantResearcher(ctx context.Context, campaignID, researcherID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO campaign_researchers (campaign_id, researcher_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		campaignID, researcherID)
	if err != nil {
		return fmt.Errorf("failed to grant researcher: %w", err)
	}
	return nil
}

func (r *campaignRepository) RevokeResearcher(ctx context.Context, campaignID, researcherID int64) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM campaign_researchers WHERE campaign_id = $1 AND researcher_id = $2`,
		campaignID, researcherID)
	if err != nil {
		return fmt.Errorf("failed to revoke researcher: %w", err)
	}
	return nil
}

func (r *campaignRepository) IsResearcher(ctx context.Context, campaignID, researcherID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM campaign_researchers WHERE campaign_id = $1 AND researcher_id = $2)`,
		campaignID, researcherID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check researcher grant: %w", err)
	}
	return exists, nil
}

func (r *campaignRepository) ListResearcherCampaignIDs(ctx context.Context, researcherID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT campaign_id FROM campaign_researchers WHERE researcher_id = $1 ORDER BY campaign_id`,
		researcherID)
	if err != nil {
		return nil, fmt.Errorf("failed to list researcher campaigns: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
