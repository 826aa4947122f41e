package repositories

import (
	"context"
	"fmt"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/database"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
)

// StatsRepository defines data access for derived per-source statistics.
// Only the statistics reconciler writes through this interface.
type StatsRepository interface {
	// Upsert replaces the stat row for its (campaign, user, dataSource) key.
	Upsert(ctx context.Context, stat *models.PerSourceStat) error

	// ListForParticipant returns the stat rows for one binding, ordered by
	// data source id. Sources never reconciled yet simply have no row.
	ListForParticipant(ctx context.Context, campaignID, userID int64) ([]models.PerSourceStat, error)
}

type statsRepository struct {
	db *database.DB
}

// NewStatsRepository creates a new stats repository.
func NewStatsRepository(db *database.DB) StatsRepository {
	return &statsRepository{db: db}
}

func (r *statsRepository) Upsert(ctx context.Context, stat *models.PerSourceStat) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO per_source_stats (campaign_id, user_id, data_source_id, amount_of_samples, sync_ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (campaign_id, user_id, data_source_id)
		DO UPDATE SET amount_of_samples = EXCLUDED.amount_of_samples, sync_ts = EXCLUDED.sync_ts`,
		stat.CampaignID, stat.UserID, stat.DataSourceID, stat.AmountOfSamples, stat.SyncTimestamp)
	if err != nil {
		return fmt.Errorf("failed to upsert per-source stat: %w", err)
	}
	return nil
}

func (r *statsRepository) ListForParticipant(ctx context.Context, campaignID, userID int64) ([]models.PerSourceStat, error) {
	rows, err := r.db.Query(ctx, `
		SELECT campaign_id, user_id, data_source_id, amount_of_samples, sync_ts
		FROM per_source_stats
		WHERE campaign_id = $1 AND user_id = $2
		ORDER BY data_source_id`,
		campaignID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list per-source stats: %w", err)
	}
	defer rows.Close()

	var stats []models.PerSourceStat
	for rows.Next() {
		var s models.PerSourceStat
		if err := rows.Scan(&s.CampaignID, &s.UserID, &s.DataSourceID, &s.AmountOfSamples, &s.SyncTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan per-source stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
