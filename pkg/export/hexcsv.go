// Package export implements the dump format shared by the download endpoint
// and the archival exporter: CSV with one logical row per record and payloads
// hex-encoded so arbitrary binary survives any textual transport. Encode and
// Decode are exact inverses; re-ingestion paths rely on that.
package export

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
)

var header = []string{"id", "timestamp", "value", "data_source_id"}

// Writer streams records as hexcsv rows. Rows are flushed as they are
// written, so memory stays bounded regardless of shard size.
type Writer struct {
	w     *csv.Writer
	rowID int64
}

// NewWriter writes the header row and returns a Writer over w.
func NewWriter(w io.Writer) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write dump header: %w", err)
	}
	return &Writer{w: cw}, nil
}

// Write appends one record. The id column is the ordinal of the row within
// this dump; it carries no meaning beyond giving downstream consumers a
// stable row reference.
func (w *Writer) Write(rec models.Record) error {
	row := []string{
		strconv.FormatInt(w.rowID, 10),
		strconv.FormatInt(rec.Timestamp, 10),
		hex.EncodeToString(rec.Value),
		strconv.FormatInt(rec.DataSourceID, 10),
	}
	if err := w.w.Write(row); err != nil {
		return fmt.Errorf("failed to write dump row %d: %w", w.rowID, err)
	}
	w.rowID++
	return nil
}

// Flush writes buffered rows to the underlying writer and reports any error.
func (w *Writer) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

// Count returns the number of records written so far.
func (w *Writer) Count() int64 {
	return w.rowID
}

// Reader decodes a hexcsv stream produced by Writer.
type Reader struct {
	r *csv.Reader
}

// NewReader consumes the header row and returns a Reader over r.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	got, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read dump header: %w", err)
	}
	for i, name := range header {
		if got[i] != name {
			return nil, fmt.Errorf("unexpected dump header column %q, want %q", got[i], name)
		}
	}
	return &Reader{r: cr}, nil
}

// Read returns the next record, or io.EOF at the end of the stream.
func (r *Reader) Read() (models.Record, error) {
	row, err := r.r.Read()
	if err != nil {
		if err == io.EOF {
			return models.Record{}, io.EOF
		}
		return models.Record{}, fmt.Errorf("failed to read dump row: %w", err)
	}

	ts, err := strconv.ParseInt(row[1], 10, 64)
	if err != nil {
		return models.Record{}, fmt.Errorf("bad timestamp %q: %w", row[1], err)
	}
	value, err := hex.DecodeString(row[2])
	if err != nil {
		return models.Record{}, fmt.Errorf("bad value encoding: %w", err)
	}
	dsID, err := strconv.ParseInt(row[3], 10, 64)
	if err != nil {
		return models.Record{}, fmt.Errorf("bad data source id %q: %w", row[3], err)
	}

	return models.Record{DataSourceID: dsID, Timestamp: ts, Value: value}, nil
}
