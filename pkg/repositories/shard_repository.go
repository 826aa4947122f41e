package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/database"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
)

// ShardHandle identifies one storage partition. Exactly one shard exists per
// (campaign, participant) pair; all record traffic for the pair flows through
// it. Handles are the only way to address a shard - table naming lives here
// and nowhere else.
type ShardHandle struct {
	CampaignID int64
	UserID     int64
}

// table returns the backing table name. Both components are int64 database
// ids, so the generated identifier is injection-safe by construction.
func (h ShardHandle) table() string {
	return fmt.Sprintf("shard_c%d_p%d", h.CampaignID, h.UserID)
}

func (h ShardHandle) String() string {
	return h.table()
}

// ShardStore defines the append/read contract of the per-owner shard store.
// Partitioning by owner keeps one runaway device's writes contained to its
// own table and makes per-participant export a plain single-table scan.
type ShardStore interface {
	// CreateShard provisions the partition. Idempotent create-if-absent.
	CreateShard(ctx context.Context, h ShardHandle) error

	// WriteRecord appends one record; rewriting an existing
	// (dataSourceID, timestamp) key is last-write-wins.
	WriteRecord(ctx context.Context, h ShardHandle, rec models.Record) error

	// WriteBatch appends records split into sub-batches whose payload bytes
	// stay under payloadLimit. Sub-batches are submitted and awaited
	// independently and the whole call is NOT atomic: a failure partway
	// through leaves earlier sub-batches durably committed, and no further
	// sub-batches are submitted. Returns the number of records committed.
	WriteBatch(ctx context.Context, h ShardHandle, recs []models.Record, payloadLimit int) (int, error)

	// ReadKNext returns up to k records for one data source with
	// timestamp >= fromTS, ascending. Callers cap k before getting here.
	ReadKNext(ctx context.Context, h ShardHandle, dataSourceID, fromTS int64, k int) ([]models.Record, error)

	// ReadRange returns records in the half-open interval [from, till),
	// ascending. A nil bound is unbounded on that side; when both bounds are
	// nil the scan is still capped at defaultLimit rows.
	ReadRange(ctx context.Context, h ShardHandle, dataSourceID int64, from, till *int64, defaultLimit int) ([]models.Record, error)

	// CountAndMaxTS returns the number of records and the maximum timestamp
	// (0 when empty) for one data source. Used by the reconciler.
	CountAndMaxTS(ctx context.Context, h ShardHandle, dataSourceID int64) (int64, int64, error)

	// StreamShard invokes fn for every record in the shard in
	// (data_source_id, timestamp) order. Rows are visited as they arrive
	// from the server, so memory stays bounded for arbitrarily large shards.
	StreamShard(ctx context.Context, h ShardHandle, fn func(models.Record) error) error
}

type shardStore struct {
	db *database.DB
}

// NewShardStore creates a new shard store over the shared pool.
func NewShardStore(db *database.DB) ShardStore {
	return &shardStore{db: db}
}

// shardDDL is the create-if-absent statement for a shard table. Also executed
// inside the binding transaction on first bind (see BindingRepository).
func shardDDL(h ShardHandle) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		data_source_id BIGINT NOT NULL,
		ts             BIGINT NOT NULL,
		value          BYTEA NOT NULL,
		PRIMARY KEY (data_source_id, ts)
	)`, h.table())
}

func (s *shardStore) CreateShard(ctx context.Context, h ShardHandle) error {
	if _, err := s.db.Exec(ctx, shardDDL(h)); err != nil {
		return fmt.Errorf("failed to create shard %s: %w", h, err)
	}
	return nil
}

func upsertRecordSQL(h ShardHandle) string {
	return fmt.Sprintf(`INSERT INTO %s (data_source_id, ts, value) VALUES ($1, $2, $3)
		ON CONFLICT (data_source_id, ts) DO UPDATE SET value = EXCLUDED.value`, h.table())
}

func (s *shardStore) WriteRecord(ctx context.Context, h ShardHandle, rec models.Record) error {
	if _, err := s.db.Exec(ctx, upsertRecordSQL(h), rec.DataSourceID, rec.Timestamp, rec.Value); err != nil {
		return fmt.Errorf("failed to write record to shard %s: %w", h, err)
	}
	return nil
}

func (s *shardStore) WriteBatch(ctx context.Context, h ShardHandle, recs []models.Record, payloadLimit int) (int, error) {
	committed := 0
	for len(recs) > 0 {
		sub := nextSubBatch(recs, payloadLimit)

		if err := s.writeSubBatch(ctx, h, sub); err != nil {
			return committed, fmt.Errorf("sub-batch of %d records failed after %d committed: %w", len(sub), committed, err)
		}
		committed += len(sub)
		recs = recs[len(sub):]
	}
	return committed, nil
}

// nextSubBatch takes the longest prefix whose payload bytes fit the limit.
// A single record larger than the limit still travels alone rather than
// being rejected.
func nextSubBatch(recs []models.Record, payloadLimit int) []models.Record {
	size := 0
	for i, rec := range recs {
		size += rec.PayloadSize()
		if size > payloadLimit && i > 0 {
			return recs[:i]
		}
	}
	return recs
}

// writeSubBatch submits one sub-batch as a single pgx batch round trip. Once
// submitted it runs to completion or failure; cancellation between sub-batches
// is the caller's only lever.
func (s *shardStore) writeSubBatch(ctx context.Context, h ShardHandle, recs []models.Record) error {
	batch := &pgx.Batch{}
	sql := upsertRecordSQL(h)
	for _, rec := range recs {
		batch.Queue(sql, rec.DataSourceID, rec.Timestamp, rec.Value)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := range recs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("record %d/%d in sub-batch: %w", i+1, len(recs), err)
		}
	}
	return nil
}

func (s *shardStore) ReadKNext(ctx context.Context, h ShardHandle, dataSourceID, fromTS int64, k int) ([]models.Record, error) {
	query := fmt.Sprintf(`SELECT data_source_id, ts, value FROM %s
		WHERE data_source_id = $1 AND ts >= $2
		ORDER BY ts ASC LIMIT $3`, h.table())

	return s.queryRecords(ctx, query, dataSourceID, fromTS, k)
}

func (s *shardStore) ReadRange(ctx context.Context, h ShardHandle, dataSourceID int64, from, till *int64, defaultLimit int) ([]models.Record, error) {
	limit := int64(defaultLimit)
	if from != nil || till != nil {
		// A bounded interval is already finite; no defensive cap needed.
		limit = int64(^uint64(0) >> 1)
	}

	query := fmt.Sprintf(`SELECT data_source_id, ts, value FROM %s
		WHERE data_source_id = $1
		  AND ($2::bigint IS NULL OR ts >= $2)
		  AND ($3::bigint IS NULL OR ts < $3)
		ORDER BY ts ASC LIMIT $4`, h.table())

	return s.queryRecords(ctx, query, dataSourceID, from, till, limit)
}

func (s *shardStore) queryRecords(ctx context.Context, query string, args ...any) ([]models.Record, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read shard records: %w", err)
	}
	defer rows.Close()

	var recs []models.Record
	for rows.Next() {
		var rec models.Record
		if err := rows.Scan(&rec.DataSourceID, &rec.Timestamp, &rec.Value); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *shardStore) CountAndMaxTS(ctx context.Context, h ShardHandle, dataSourceID int64) (int64, int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*), COALESCE(MAX(ts), 0) FROM %s WHERE data_source_id = $1`, h.table())

	var count, maxTS int64
	if err := s.db.QueryRow(ctx, query, dataSourceID).Scan(&count, &maxTS); err != nil {
		return 0, 0, fmt.Errorf("failed to scan shard %s stats: %w", h, err)
	}
	return count, maxTS, nil
}

func (s *shardStore) StreamShard(ctx context.Context, h ShardHandle, fn func(models.Record) error) error {
	query := fmt.Sprintf(`SELECT data_source_id, ts, value FROM %s
		ORDER BY data_source_id ASC, ts ASC`, h.table())

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to stream shard %s: %w", h, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.Record
		if err := rows.Scan(&rec.DataSourceID, &rec.Timestamp, &rec.Value); err != nil {
			return fmt.Errorf("failed to scan record: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}
