// Package importer feeds rows read from JSON lines into a store.Database.
//
// Each line holds one row:
//
//	{"height": 12, "table": "transfers", "row": {"blockNumber": 12, "amount": "1000"}}
//
// Heights must not decrease. Rows are grouped into windows of consecutive
// heights, one Transact call per window, followed by Advance.
package importer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/chainexport/csvstore/store"
	"github.com/chainexport/csvstore/table"
	"github.com/chainexport/csvstore/util/metrics"
)

// Database is the part of store.Database the importer drives.
type Database interface {
	Transact(ctx context.Context, from, to int64, fn func(*store.Store) error) error
	Advance(ctx context.Context, height int64) error
	Flush(ctx context.Context, height int64) error
}

type inputRow struct {
	Height *int64                     `json:"height"`
	Table  string                     `json:"table"`
	Row    map[string]json.RawMessage `json:"row"`
}

type row struct {
	table  *table.Table
	record table.Record
}

// Stats summarizes one Import call.
type Stats struct {
	Rows         int
	Skipped      int
	Transactions int
	LastHeight   int64
}

// Importer converts JSON lines into table records.
type Importer struct {
	db     Database
	tables map[string]*table.Table
	window int64
	log    *log.Logger
}

// New returns an importer writing the given tables. window is the number of
// heights grouped into one transaction.
func New(db Database, tables []*table.Table, window int64, logger *log.Logger) (*Importer, error) {
	if window <= 0 {
		return nil, fmt.Errorf("importer window (%d) must be positive", window)
	}
	if logger == nil {
		logger = log.New()
		logger.SetOutput(io.Discard)
	}
	m := make(map[string]*table.Table, len(tables))
	for _, t := range tables {
		m[t.Name()] = t
	}
	return &Importer{db: db, tables: m, window: window, log: logger}, nil
}

// batch is the window being collected.
type batch struct {
	from int64
	last int64
	rows []row
}

// Import reads r to the end. Rows at or below resume are skipped since they
// were already flushed. At the end of input the pending chunk is flushed up
// to the last height read.
func (imp *Importer) Import(ctx context.Context, r io.Reader, resume int64) (Stats, error) {
	stats := Stats{LastHeight: resume}
	reader := bufio.NewReader(r)
	var cur *batch
	lineNo := 0

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return stats, fmt.Errorf("Import(): %w", readErr)
		}
		lineNo++
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			height, rw, err := imp.decode(line)
			if err != nil {
				return stats, fmt.Errorf("Import(): line %d: %w", lineNo, err)
			}
			switch {
			case height <= resume:
				stats.Skipped++
			case cur != nil && height < cur.last:
				return stats, fmt.Errorf("Import(): line %d: height %d is below %d", lineNo, height, cur.last)
			default:
				if cur != nil && height >= cur.from+imp.window {
					// every height up to the end of the window is complete
					if err := imp.commit(ctx, cur, cur.from+imp.window-1, &stats); err != nil {
						return stats, err
					}
					cur = nil
				}
				if cur == nil {
					cur = &batch{from: height}
				}
				cur.last = height
				cur.rows = append(cur.rows, rw)
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
	}

	if cur != nil {
		if err := imp.transact(ctx, cur, cur.last, &stats); err != nil {
			return stats, err
		}
		if err := imp.db.Flush(ctx, cur.last); err != nil {
			return stats, fmt.Errorf("Import(): %w", err)
		}
		stats.LastHeight = cur.last
	}
	imp.log.Infof("imported %d rows in %d transactions, skipped %d, last height %d",
		stats.Rows, stats.Transactions, stats.Skipped, stats.LastHeight)
	return stats, nil
}

func (imp *Importer) decode(line []byte) (int64, row, error) {
	var in inputRow
	if err := json.Unmarshal(line, &in); err != nil {
		return 0, row{}, err
	}
	if in.Height == nil {
		return 0, row{}, errors.New("missing height")
	}
	t, ok := imp.tables[in.Table]
	if !ok {
		return 0, row{}, fmt.Errorf("%w: %q", store.ErrMissingTable, in.Table)
	}
	record := make(table.Record, len(in.Row))
	for _, c := range t.Columns() {
		raw, present := in.Row[c.Name]
		if !present {
			continue
		}
		v, err := coerce(c.Type, raw)
		if err != nil {
			return 0, row{}, fmt.Errorf("table %s: column %s: %w", t.Name(), c.Name, err)
		}
		record[c.Name] = v
	}
	return *in.Height, row{table: t, record: record}, nil
}

func (imp *Importer) transact(ctx context.Context, b *batch, to int64, stats *Stats) error {
	err := imp.db.Transact(ctx, b.from, to, func(s *store.Store) error {
		for _, r := range b.rows {
			if err := s.Write(r.table, r.record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Import(): %w", err)
	}
	for _, r := range b.rows {
		metrics.ImportedRowsCount.WithLabelValues(r.table.Name()).Inc()
	}
	stats.Rows += len(b.rows)
	stats.Transactions++
	return nil
}

func (imp *Importer) commit(ctx context.Context, b *batch, to int64, stats *Stats) error {
	if err := imp.transact(ctx, b, to, stats); err != nil {
		return err
	}
	if err := imp.db.Advance(ctx, to); err != nil {
		return fmt.Errorf("Import(): %w", err)
	}
	stats.LastHeight = to
	imp.log.Debugf("transacted heights %d-%d, %d rows", b.from, to, len(b.rows))
	return nil
}
