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

// DataSourceRepository defines data access for data source definitions.
type DataSourceRepository interface {
	// GetOrCreate resolves a data source by name, creating it on first
	// reference. Concurrent first-time creators converge on a single row:
	// the insert uses ON CONFLICT DO NOTHING against the unique name index
	// and every caller re-selects the surviving row.
	GetOrCreate(ctx context.Context, creatorID int64, name, iconName string) (*models.DataSource, error)

	// GetByID retrieves a data source by id. Returns apperrors.ErrNotFound if absent.
	GetByID(ctx context.Context, id int64) (*models.DataSource, error)

	// GetByName retrieves a data source by name. Returns apperrors.ErrNotFound if absent.
	GetByName(ctx context.Context, name string) (*models.DataSource, error)

	// List retrieves all data sources ordered by id.
	List(ctx context.Context) ([]*models.DataSource, error)
}

type dataSourceRepository struct {
	db *database.DB
}

// NewDataSourceRepository creates a new data source repository.
func NewDataSourceRepository(db *database.DB) DataSourceRepository {
	return &dataSourceRepository{db: db}
}

func (r *dataSourceRepository) GetOrCreate(ctx context.Context, creatorID int64, name, iconName string) (*models.DataSource, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO data_sources (creator_id, name, icon_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING`,
		creatorID, name, iconName)
	if err != nil {
		return nil, fmt.Errorf("failed to create data source %q: %w", name, err)
	}
	return r.GetByName(ctx, name)
}

func (r *dataSourceRepository) GetByID(ctx context.Context, id int64) (*models.DataSource, error) {
	return r.get(ctx, `SELECT id, creator_id, name, icon_name FROM data_sources WHERE id = $1`, id)
}

func (r *dataSourceRepository) GetByName(ctx context.Context, name string) (*models.DataSource, error) {
	return r.get(ctx, `SELECT id, creator_id, name, icon_name FROM data_sources WHERE name = $1`, name)
}

func (r *dataSourceRepository) get(ctx context.Context, query string, arg any) (*models.DataSource, error) {
	var ds models.DataSource
	err := r.db.QueryRow(ctx, query, arg).Scan(&ds.ID, &ds.CreatorID, &ds.Name, &ds.IconName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get data source: %w", err)
	}
	return &ds, nil
}

func (r *dataSourceRepository) List(ctx context.Context) ([]*models.DataSource, error) {
	rows, err := r.db.Query(ctx, `SELECT id, creator_id, name, icon_name FROM data_sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.DataSource
	for rows.Next() {
		var ds models.DataSource
		if err := rows.Scan(&ds.ID, &ds.CreatorID, &ds.Name, &ds.IconName); err != nil {
			return nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		sources = append(sources, &ds)
	}
	return sources, rows.Err()
}
