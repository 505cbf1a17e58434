// Package store buffers typed rows into chunks keyed by block height ranges
// and flushes them to a storage backend.
//
// The caller drives a Database in non-decreasing height order:
//
//	height, err := db.Connect(ctx)
//	err = db.Transact(ctx, from, to, func(s *store.Store) error { ... })
//	err = db.Advance(ctx, to)
//	...
//	err = db.Flush(ctx, last)
//	err = db.Close()
//
// Transact only buffers. Advance flushes once the pending chunk reaches the
// flush threshold; Flush writes it regardless. Close drops whatever was not
// flushed.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/algorand/go-deadlock"
	log "github.com/sirupsen/logrus"

	"github.com/chainexport/csvstore/charset"
	"github.com/chainexport/csvstore/storage"
	"github.com/chainexport/csvstore/table"
	"github.com/chainexport/csvstore/util/metrics"
)

const (
	// DefaultExtension is the file extension of table and status files.
	DefaultExtension = "csv"

	// DefaultFlushThreshold is the buffered size, in bytes, that triggers a
	// flush from Advance.
	DefaultFlushThreshold = 20 * 1024 * 1024

	// DefaultRetries is the number of extra attempts after a storage
	// conflict.
	DefaultRetries = 3
)

// Options configures a Database.
type Options struct {
	// Tables are the registered tables, in file order. Required.
	Tables []*table.Table

	// Dialect defaults to table.DefaultDialect when zero.
	Dialect table.Dialect

	// Encoding defaults to UTF-8.
	Encoding charset.Encoding

	// Extension defaults to "csv".
	Extension string

	// FlushThreshold in encoded bytes. Zero selects DefaultFlushThreshold.
	FlushThreshold int

	// Retries after a storage conflict. Zero selects DefaultRetries, a
	// negative value disables retrying.
	Retries int

	Logger *log.Logger
}

// Status is a snapshot of the database state.
type Status struct {
	Connected       bool     `json:"connected"`
	CommittedHeight int64    `json:"committed-height"`
	Pending         *Pending `json:"pending,omitempty"`
}

// Pending describes the chunk waiting to be flushed.
type Pending struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
	Rows int   `json:"rows"`
}

// Database owns the pending chunk, the committed height and the storage
// backend.
type Database struct {
	mu deadlock.Mutex

	fs        storage.FS
	tables    []*table.Table
	dialect   table.Dialect
	enc       charset.Encoding
	ext       string
	threshold int
	retries   int
	log       *log.Logger

	connected bool
	height    int64
	chunk     *Chunk
}

// NewDatabase validates opts and returns a disconnected Database.
func NewDatabase(fs storage.FS, opts Options) (*Database, error) {
	if fs == nil {
		return nil, errors.New("NewDatabase(): storage backend is nil")
	}
	if len(opts.Tables) == 0 {
		return nil, errors.New("NewDatabase(): no tables registered")
	}
	seen := make(map[string]bool, len(opts.Tables))
	for _, t := range opts.Tables {
		if t == nil {
			return nil, errors.New("NewDatabase(): nil table")
		}
		if seen[t.Name()] {
			return nil, fmt.Errorf("NewDatabase(): duplicate table %s", t.Name())
		}
		seen[t.Name()] = true
	}
	if seen[statusTable.Name()] {
		return nil, fmt.Errorf("NewDatabase(): table name %s is reserved", statusTable.Name())
	}

	if opts.Dialect == (table.Dialect{}) {
		opts.Dialect = table.DefaultDialect
	}
	if err := opts.Dialect.Validate(); err != nil {
		return nil, fmt.Errorf("NewDatabase(): %w", err)
	}
	enc, err := charset.Parse(string(opts.Encoding))
	if err != nil {
		return nil, fmt.Errorf("NewDatabase(): %w", err)
	}
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
	}
	if opts.FlushThreshold <= 0 {
		opts.FlushThreshold = DefaultFlushThreshold
	}
	switch {
	case opts.Retries == 0:
		opts.Retries = DefaultRetries
	case opts.Retries < 0:
		opts.Retries = 0
	}
	if opts.Logger == nil {
		opts.Logger = log.New()
		opts.Logger.SetOutput(io.Discard)
	}

	tables := make([]*table.Table, len(opts.Tables))
	copy(tables, opts.Tables)
	return &Database{
		fs:        fs,
		tables:    tables,
		dialect:   opts.Dialect,
		enc:       enc,
		ext:       opts.Extension,
		threshold: opts.FlushThreshold,
		retries:   opts.Retries,
		log:       opts.Logger,
		height:    -1,
	}, nil
}

func (db *Database) statusFile() string {
	return fmt.Sprintf("%s.%s", statusTable.Name(), db.ext)
}

// Connect reads the committed height from the status record, creating the
// record with -1 when it does not exist.
func (db *Database) Connect(ctx context.Context) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	name := db.statusFile()
	exist, err := db.fs.Exist(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("Connect(): %w", err)
	}
	height := int64(-1)
	if exist {
		data, err := db.fs.ReadFile(ctx, name, db.enc)
		if err != nil {
			return 0, fmt.Errorf("Connect(): %w", err)
		}
		height, err = parseStatus(data, db.dialect)
		if err != nil {
			return 0, fmt.Errorf("Connect(): %s: %w", name, err)
		}
	} else if err := db.writeStatus(ctx, height); err != nil {
		return 0, fmt.Errorf("Connect(): %w", err)
	}

	db.connected = true
	db.height = height
	metrics.CommittedHeightGauge.Set(float64(height))
	db.log.Infof("connected, committed height %d", height)
	return height, nil
}

func (db *Database) writeStatus(ctx context.Context, height int64) error {
	data, err := renderStatus(height, db.dialect, db.enc)
	if err != nil {
		return err
	}
	return db.fs.WriteFile(ctx, db.statusFile(), data, db.enc)
}

// Transact hands fn a Store bound to the pending chunk, creating the chunk
// for [from, to] or widening it to to. Nothing is flushed.
//
// When fn fails, the rows it appended stay in the chunk and the error is
// returned. A storage.ErrConflict is the exception: the attempt's rows are
// dropped and fn runs again, up to the configured number of retries.
func (db *Database) Transact(ctx context.Context, from, to int64, fn func(*Store) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.connected {
		return ErrNotConnected
	}

	prev := db.chunk
	var m mark
	if prev != nil {
		m = prev.mark()
	}

	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if db.chunk == nil {
			db.chunk = newChunk(from, to, db.tables, db.dialect, db.enc)
		} else {
			db.chunk.ChangeRange(to)
		}

		s := &Store{chunk: db.chunk}
		err := fn(s)
		s.close()

		if !storage.IsConflict(err) {
			if count > 0 {
				db.log.Infof("transaction was retried %d times", count)
			}
			if err != nil {
				return fmt.Errorf("Transact(%d, %d): %w", from, to, err)
			}
			return nil
		}

		if prev == nil {
			db.chunk = nil
		} else if rerr := prev.reset(m); rerr != nil {
			return errors.Join(err, rerr)
		}

		if count >= db.retries {
			return fmt.Errorf("Transact(%d, %d): giving up after %d retries: %w", from, to, count, err)
		}
		count++
		metrics.TransactRetryCount.Inc()
		db.log.Infof("retrying transaction, count: %d", count)
	}
}

// Advance flushes the pending chunk up to height once its size reaches the
// flush threshold. Below the threshold it does nothing.
func (db *Database) Advance(ctx context.Context, height int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.connected {
		return ErrNotConnected
	}
	if db.chunk == nil {
		return nil
	}
	size, err := db.chunk.TotalSize()
	if err != nil {
		return fmt.Errorf("Advance(%d): %w", height, err)
	}
	metrics.PendingBytesGauge.Set(float64(size))
	if size < db.threshold {
		return nil
	}
	return db.flush(ctx, height)
}

// Flush writes the pending chunk up to height regardless of its size.
func (db *Database) Flush(ctx context.Context, height int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.connected {
		return ErrNotConnected
	}
	if db.chunk == nil {
		return nil
	}
	return db.flush(ctx, height)
}

type tableFile struct {
	name string
	data string
	size int
}

func (db *Database) flush(ctx context.Context, height int64) error {
	start := time.Now()
	chunk := db.chunk
	if height > db.height {
		chunk.ChangeRange(height)
	}

	files := make([]tableFile, 0, len(chunk.order))
	total := 0
	for _, b := range chunk.Builders() {
		data, err := b.Data()
		if err != nil {
			return fmt.Errorf("flush(): %w", err)
		}
		size, err := b.Size()
		if err != nil {
			return fmt.Errorf("flush(): %w", err)
		}
		files = append(files, tableFile{
			name: fmt.Sprintf("%s.%s", b.Table().Name(), db.ext),
			data: data,
			size: size,
		})
		total += size
	}

	count := 0
	for {
		err := db.writeChunk(ctx, chunk.Name(), files, height)
		if err == nil {
			break
		}
		if !storage.IsConflict(err) || count >= db.retries {
			return fmt.Errorf("flush(): chunk %s: %w", chunk.Name(), err)
		}
		count++
		metrics.FlushRetryCount.Inc()
		db.log.Infof("retrying flush of %s, count: %d", chunk.Name(), count)
	}

	dt := time.Since(start)
	metrics.FlushCount.Inc()
	metrics.FlushedBytes.Add(float64(total))
	metrics.FlushTimeSeconds.Observe(dt.Seconds())
	metrics.CumulativeFlushTime.Add(dt.Seconds())
	metrics.CommittedHeightGauge.Set(float64(height))
	metrics.PendingBytesGauge.Set(0)
	db.log.Infof("flushed chunk %s: %d rows, %d bytes in %s", chunk.Name(), chunk.Rows(), total, dt)

	db.height = height
	db.chunk = nil
	return nil
}

// writeChunk writes one file per table in a backend transaction, then the
// status record.
func (db *Database) writeChunk(ctx context.Context, dir string, files []tableFile, height int64) error {
	tx, err := db.fs.Begin(ctx, dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := tx.WriteFile(ctx, f.name, f.data, db.enc); err != nil {
			return tx.Rollback(ctx, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if err := db.writeStatus(ctx, height); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	return nil
}

// Close drops any pending chunk without flushing it and disconnects.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.chunk != nil {
		if rows := db.chunk.Rows(); rows > 0 {
			db.log.Warnf("closing with %d unflushed rows in chunk %s", rows, db.chunk.Name())
		}
	}
	db.chunk = nil
	db.connected = false
	metrics.PendingBytesGauge.Set(0)
	return nil
}

// Status returns a snapshot for monitoring. It is safe to call concurrently
// with the writer.
func (db *Database) Status() Status {
	db.mu.Lock()
	defer db.mu.Unlock()

	s := Status{
		Connected:       db.connected,
		CommittedHeight: db.height,
	}
	if db.chunk != nil {
		s.Pending = &Pending{
			From: db.chunk.From(),
			To:   db.chunk.To(),
			Rows: db.chunk.Rows(),
		}
	}
	return s
}
