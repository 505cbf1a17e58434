package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainexport/csvstore/charset"
	"github.com/chainexport/csvstore/storage"
	"github.com/chainexport/csvstore/storage/local"
	"github.com/chainexport/csvstore/storage/s3"
	"github.com/chainexport/csvstore/table"
	"github.com/chainexport/csvstore/types"
)

var (
	transfers = table.MustNew("transfers",
		table.Column{Name: "id", Type: types.Int},
		table.Column{Name: "memo", Type: types.Nullable(types.String)})
	events = table.MustNew("events",
		table.Column{Name: "id", Type: types.Int})
)

func makeDatabase(t *testing.T, fs storage.FS, opts Options) (*Database, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	if opts.Tables == nil {
		opts.Tables = []*table.Table{transfers, events}
	}
	opts.Logger = logger
	db, err := NewDatabase(fs, opts)
	require.NoError(t, err)
	return db, hook
}

func makeLocal(t *testing.T) (*local.FS, string) {
	root := t.TempDir()
	logger, _ := test.NewNullLogger()
	return local.New(root, logger), root
}

func readFile(t *testing.T, p string) string {
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func writeRows(n int) func(*Store) error {
	return func(s *Store) error {
		for i := 0; i < n; i++ {
			if err := s.Write(transfers, table.Record{"id": i}); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestConnectEmptyDestination(t *testing.T) {
	lfs, root := makeLocal(t)
	db, _ := makeDatabase(t, lfs, Options{})

	height, err := db.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(-1), height)
	assert.Equal(t, "height\nint\n-1", readFile(t, filepath.Join(root, "status.csv")))

	height, err = db.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(-1), height)
	assert.Equal(t, "height\nint\n-1", readFile(t, filepath.Join(root, "status.csv")))
}

func TestConnectExistingStatus(t *testing.T) {
	lfs, root := makeLocal(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "status.csv"), []byte("height\nint\n42"), 0644))
	db, _ := makeDatabase(t, lfs, Options{})

	height, err := db.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), height)
	assert.Equal(t, int64(42), db.Status().CommittedHeight)
}

func TestConnectCorruptStatus(t *testing.T) {
	testcases := []struct {
		name string
		data string
	}{
		{"missing row", "height\nint"},
		{"extra row", "height\nint\n1\n2"},
		{"not a number", "height\nint\nten"},
		{"empty", ""},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			lfs, root := makeLocal(t)
			require.NoError(t, os.WriteFile(filepath.Join(root, "status.csv"), []byte(tc.data), 0644))
			db, _ := makeDatabase(t, lfs, Options{})

			_, err := db.Connect(context.Background())
			assert.ErrorIs(t, err, ErrCorruptStatus)
		})
	}
}

func TestNotConnected(t *testing.T) {
	lfs, _ := makeLocal(t)
	db, _ := makeDatabase(t, lfs, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, db.Transact(ctx, 0, 10, writeRows(1)), ErrNotConnected)
	assert.ErrorIs(t, db.Advance(ctx, 10), ErrNotConnected)
	assert.ErrorIs(t, db.Flush(ctx, 10), ErrNotConnected)
}

func TestAdvanceThreshold(t *testing.T) {
	ctx := context.Background()
	lfs, root := makeLocal(t)
	db, _ := makeDatabase(t, lfs, Options{FlushThreshold: 1 << 20})
	_, err := db.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Transact(ctx, 0, 10, writeRows(5)))
	require.NoError(t, db.Advance(ctx, 10))

	// below the threshold nothing is written
	assert.NoDirExists(t, filepath.Join(root, "0-10"))
	assert.Equal(t, "height\nint\n-1", readFile(t, filepath.Join(root, "status.csv")))
	require.NotNil(t, db.Status().Pending)

	size, err := db.chunk.TotalSize()
	require.NoError(t, err)
	db.threshold = size - 1

	require.NoError(t, db.Advance(ctx, 10))
	assert.Equal(t,
		"id,memo\nint,nullable<string>\n0,null\n1,null\n2,null\n3,null\n4,null",
		readFile(t, filepath.Join(root, "0-10", "transfers.csv")))
	assert.Equal(t, "id\nint", readFile(t, filepath.Join(root, "0-10", "events.csv")))
	assert.Equal(t, "height\nint\n10", readFile(t, filepath.Join(root, "status.csv")))

	status := db.Status()
	assert.Equal(t, int64(10), status.CommittedHeight)
	assert.Nil(t, status.Pending)

	// reconnecting resumes from the flushed height
	db2, _ := makeDatabase(t, lfs, Options{})
	height, err := db2.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), height)
}

func TestAdvanceWithoutChunk(t *testing.T) {
	ctx := context.Background()
	lfs, root := makeLocal(t)
	db, _ := makeDatabase(t, lfs, Options{FlushThreshold: 1})
	_, err := db.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Advance(ctx, 10))
	require.NoError(t, db.Flush(ctx, 10))
	assert.Equal(t, "height\nint\n-1", readFile(t, filepath.Join(root, "status.csv")))
}

func TestTransactAccumulatesIntoOneChunk(t *testing.T) {
	ctx := context.Background()
	lfs, root := makeLocal(t)
	db, _ := makeDatabase(t, lfs, Options{})
	_, err := db.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Transact(ctx, 0, 10, writeRows(2)))
	require.NoError(t, db.Advance(ctx, 10))
	require.NoError(t, db.Transact(ctx, 10, 20, writeRows(3)))
	require.NoError(t, db.Advance(ctx, 20))

	pending := db.Status().Pending
	require.NotNil(t, pending)
	assert.Equal(t, Pending{From: 0, To: 20, Rows: 5}, *pending)

	require.NoError(t, db.Flush(ctx, 20))
	assert.DirExists(t, filepath.Join(root, "0-20"))
	assert.NoDirExists(t, filepath.Join(root, "0-10"))
	assert.NoDirExists(t, filepath.Join(root, "10-20"))
	assert.Equal(t, "height\nint\n20", readFile(t, filepath.Join(root, "status.csv")))

	// the next transact starts a fresh chunk
	require.NoError(t, db.Transact(ctx, 20, 30, writeRows(1)))
	assert.Equal(t, Pending{From: 20, To: 30, Rows: 1}, *db.Status().Pending)
}

func TestTransactFailureKeepsPartialRows(t *testing.T) {
	ctx := context.Background()
	lfs, root := makeLocal(t)
	db, _ := makeDatabase(t, lfs, Options{})
	_, err := db.Connect(ctx)
	require.NoError(t, err)

	boom := errors.New("decoder failed")
	calls := 0
	err = db.Transact(ctx, 0, 10, func(s *Store) error {
		calls++
		require.NoError(t, s.Write(transfers, table.Record{"id": 1}, table.Record{"id": 2}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, db.Status().Pending.Rows)

	require.NoError(t, db.Flush(ctx, 10))
	assert.Equal(t,
		"id,memo\nint,nullable<string>\n1,null\n2,null",
		readFile(t, filepath.Join(root, "0-10", "transfers.csv")))
}

func TestStoreUseAfterClose(t *testing.T) {
	ctx := context.Background()
	lfs, _ := makeLocal(t)
	db, _ := makeDatabase(t, lfs, Options{})
	_, err := db.Connect(ctx)
	require.NoError(t, err)

	var kept *Store
	require.NoError(t, db.Transact(ctx, 0, 10, func(s *Store) error {
		kept = s
		return nil
	}))
	assert.ErrorIs(t, kept.Write(transfers, table.Record{"id": 1}), ErrStoreClosed)

	err = db.Transact(ctx, 10, 20, func(s *Store) error {
		kept = s
		return errors.New("failed")
	})
	require.Error(t, err)
	assert.ErrorIs(t, kept.WriteTo("events", table.Record{"id": 1}), ErrStoreClosed)
}

func TestStoreMissingTable(t *testing.T) {
	ctx := context.Background()
	lfs, _ := makeLocal(t)
	db, _ := makeDatabase(t, lfs, Options{})
	_, err := db.Connect(ctx)
	require.NoError(t, err)

	other := table.MustNew("other", table.Column{Name: "id", Type: types.Int})
	err = db.Transact(ctx, 0, 10, func(s *Store) error {
		return s.Write(other, table.Record{"id": 1})
	})
	assert.ErrorIs(t, err, ErrMissingTable)
	assert.Contains(t, err.Error(), "other")
}

func TestTransactRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	lfs, _ := makeLocal(t)
	db, hook := makeDatabase(t, lfs, Options{})
	_, err := db.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Transact(ctx, 0, 10, writeRows(2)))

	calls := 0
	err = db.Transact(ctx, 10, 20, func(s *Store) error {
		calls++
		require.NoError(t, s.Write(transfers, table.Record{"id": 100 + calls}))
		if calls < 3 {
			return fmt.Errorf("optimistic write: %w", storage.ErrConflict)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	// rows of the abandoned attempts are gone
	assert.Equal(t, Pending{From: 0, To: 20, Rows: 3}, *db.Status().Pending)
	data, err := db.chunk.builders["transfers"].Data()
	require.NoError(t, err)
	assert.Equal(t, "id,memo\nint,nullable<string>\n0,null\n1,null\n103,null", data)

	var messages []string
	for _, e := range hook.AllEntries() {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "retrying transaction, count: 1")
	assert.Contains(t, messages, "retrying transaction, count: 2")
	assert.Contains(t, messages, "transaction was retried 2 times")
}

func TestTransactConflictExhausted(t *testing.T) {
	ctx := context.Background()
	lfs, _ := makeLocal(t)
	db, _ := makeDatabase(t, lfs, Options{})
	_, err := db.Connect(ctx)
	require.NoError(t, err)

	calls := 0
	err = db.Transact(ctx, 0, 10, func(s *Store) error {
		calls++
		require.NoError(t, s.Write(transfers, table.Record{"id": calls}))
		return storage.ErrConflict
	})
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.Equal(t, DefaultRetries+1, calls)
	assert.Nil(t, db.Status().Pending)
}

func TestTransactRetriesDisabled(t *testing.T) {
	ctx := context.Background()
	lfs, _ := makeLocal(t)
	db, _ := makeDatabase(t, lfs, Options{Retries: -1})
	_, err := db.Connect(ctx)
	require.NoError(t, err)

	calls := 0
	err = db.Transact(ctx, 0, 10, func(s *Store) error {
		calls++
		return storage.ErrConflict
	})
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.Equal(t, 1, calls)
}

func TestTransactDoesNotRetryOtherErrors(t *testing.T) {
	ctx := context.Background()
	lfs, _ := makeLocal(t)
	db, _ := makeDatabase(t, lfs, Options{})
	_, err := db.Connect(ctx)
	require.NoError(t, err)

	calls := 0
	err = db.Transact(ctx, 0, 10, func(s *Store) error {
		calls++
		return s.WriteTo("missing")
	})
	assert.ErrorIs(t, err, ErrMissingTable)
	assert.Equal(t, 1, calls)
}

// flakyFS fails Begin with the queued errors before delegating.
type flakyFS struct {
	storage.FS
	beginErrs []error
	begins    int
}

func (f *flakyFS) Begin(ctx context.Context, dir string) (storage.Transaction, error) {
	f.begins++
	if len(f.beginErrs) > 0 {
		err := f.beginErrs[0]
		f.beginErrs = f.beginErrs[1:]
		return nil, err
	}
	return f.FS.Begin(ctx, dir)
}

func TestFlushRetriesConflict(t *testing.T) {
	ctx := context.Background()
	lfs, root := makeLocal(t)
	ffs := &flakyFS{FS: lfs, beginErrs: []error{storage.ErrConflict, storage.ErrConflict}}
	db, _ := makeDatabase(t, ffs, Options{})
	_, err := db.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Transact(ctx, 0, 10, writeRows(1)))
	require.NoError(t, db.Flush(ctx, 10))
	assert.Equal(t, 3, ffs.begins)
	assert.FileExists(t, filepath.Join(root, "0-10", "transfers.csv"))
	assert.Equal(t, "height\nint\n10", readFile(t, filepath.Join(root, "status.csv")))
}

func TestFlushFailureKeepsChunk(t *testing.T) {
	ctx := context.Background()
	lfs, root := makeLocal(t)
	boom := errors.New("disk full")
	ffs := &flakyFS{FS: lfs, beginErrs: []error{boom}}
	db, _ := makeDatabase(t, ffs, Options{})
	_, err := db.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Transact(ctx, 0, 10, writeRows(2)))
	err = db.Flush(ctx, 10)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ffs.begins)
	assert.Equal(t, 2, db.Status().Pending.Rows)
	assert.Equal(t, int64(-1), db.Status().CommittedHeight)

	require.NoError(t, db.Flush(ctx, 10))
	assert.FileExists(t, filepath.Join(root, "0-10", "transfers.csv"))
}

func TestFlushRenderFailureKeepsChunk(t *testing.T) {
	ctx := context.Background()
	lfs, root := makeLocal(t)
	db, _ := makeDatabase(t, lfs, Options{})
	_, err := db.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Transact(ctx, 0, 10, func(s *Store) error {
		return s.Write(transfers, table.Record{"id": 1.5})
	}))
	err = db.Flush(ctx, 10)
	assert.ErrorIs(t, err, types.ErrNotInteger)
	assert.NoDirExists(t, filepath.Join(root, "0-10"))
	assert.NotNil(t, db.Status().Pending)
}

func TestFlushWithDialectAndEncoding(t *testing.T) {
	ctx := context.Background()
	lfs, root := makeLocal(t)
	db, _ := makeDatabase(t, lfs, Options{
		Dialect:   table.Dialect{Delimiter: "\t", LineTerminator: "\r\n", Header: false},
		Encoding:  charset.UTF16LE,
		Extension: "tsv",
	})
	_, err := db.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Transact(ctx, 5, 7, func(s *Store) error {
		return s.Write(transfers, table.Record{"id": 1, "memo": "é"})
	}))
	require.NoError(t, db.Flush(ctx, 7))

	data, err := lfs.ReadFile(ctx, "5-7/transfers.tsv", charset.UTF16LE)
	require.NoError(t, err)
	assert.Equal(t, "1\té", data)

	status, err := lfs.ReadFile(ctx, "status.tsv", charset.UTF16LE)
	require.NoError(t, err)
	assert.Equal(t, "height\r\nint\r\n7", status)
	assert.NoFileExists(t, filepath.Join(root, "status.csv"))
}

func TestCloseDropsPendingChunk(t *testing.T) {
	ctx := context.Background()
	lfs, root := makeLocal(t)
	db, hook := makeDatabase(t, lfs, Options{})
	_, err := db.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Transact(ctx, 0, 10, writeRows(3)))
	require.NoError(t, db.Close())

	status := db.Status()
	assert.False(t, status.Connected)
	assert.Nil(t, status.Pending)
	assert.NoDirExists(t, filepath.Join(root, "0-10"))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.ErrorIs(t, db.Transact(ctx, 10, 20, writeRows(1)), ErrNotConnected)
}

// objectClient is an in-memory S3 whose puts start failing after okPuts.
type objectClient struct {
	s3iface.S3API
	objects map[string]string
	okPuts  int
}

func (c *objectClient) ListObjectsV2WithContext(_ aws.Context, in *awss3.ListObjectsV2Input, _ ...request.Option) (*awss3.ListObjectsV2Output, error) {
	out := &awss3.ListObjectsV2Output{}
	for k := range c.objects {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			out.Contents = append(out.Contents, &awss3.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func (c *objectClient) GetObjectWithContext(_ aws.Context, in *awss3.GetObjectInput, _ ...request.Option) (*awss3.GetObjectOutput, error) {
	v, ok := c.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.NewRequestFailure(awserr.New(awss3.ErrCodeNoSuchKey, "", nil), http.StatusNotFound, "r")
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(v))}, nil
}

func (c *objectClient) PutObjectWithContext(_ aws.Context, in *awss3.PutObjectInput, _ ...request.Option) (*awss3.PutObjectOutput, error) {
	if c.okPuts == 0 {
		return nil, awserr.NewRequestFailure(awserr.New("AccessDenied", "", nil), http.StatusForbidden, "r")
	}
	c.okPuts--
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, in.Body); err != nil {
		return nil, err
	}
	c.objects[aws.StringValue(in.Key)] = buf.String()
	return &awss3.PutObjectOutput{}, nil
}

// On object storage a flush that fails after the first table leaves that
// table written for the new range while the status keeps the old height.
func TestObjectStoragePartialFlush(t *testing.T) {
	ctx := context.Background()
	client := &objectClient{objects: make(map[string]string), okPuts: 2}
	logger, _ := test.NewNullLogger()
	db, _ := makeDatabase(t, s3.New(client, "bucket", "", logger), Options{})

	height, err := db.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), height)
	require.Contains(t, client.objects, "status.csv")

	require.NoError(t, db.Transact(ctx, 0, 10, writeRows(1)))
	err = db.Flush(ctx, 10)
	require.Error(t, err)
	assert.False(t, storage.IsConflict(err))

	assert.Equal(t, "id,memo\nint,nullable<string>\n0,null", client.objects["0-10/transfers.csv"])
	assert.NotContains(t, client.objects, "0-10/events.csv")
	assert.Equal(t, "height\nint\n-1", client.objects["status.csv"])
	assert.NotNil(t, db.Status().Pending)

	// replaying the flush once storage recovers completes the chunk
	client.okPuts = 10
	require.NoError(t, db.Flush(ctx, 10))
	assert.Contains(t, client.objects, "0-10/events.csv")
	assert.Equal(t, "height\nint\n10", client.objects["status.csv"])
}

func TestNewDatabaseValidation(t *testing.T) {
	lfs, _ := makeLocal(t)
	status := table.MustNew("status", table.Column{Name: "height", Type: types.Int})

	testcases := []struct {
		name string
		fs   storage.FS
		opts Options
		err  string
	}{
		{"nil backend", nil, Options{Tables: []*table.Table{transfers}}, "storage backend is nil"},
		{"no tables", lfs, Options{}, "no tables registered"},
		{"duplicate", lfs, Options{Tables: []*table.Table{transfers, transfers}}, "duplicate table transfers"},
		{"reserved", lfs, Options{Tables: []*table.Table{status}}, "reserved"},
		{"dialect", lfs, Options{Tables: []*table.Table{transfers}, Dialect: table.Dialect{Delimiter: ","}}, "line terminator is empty"},
		{"encoding", lfs, Options{Tables: []*table.Table{transfers}, Encoding: "ebcdic"}, "unsupported encoding"},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDatabase(tc.fs, tc.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestNewDatabaseDefaults(t *testing.T) {
	lfs, _ := makeLocal(t)
	db, err := NewDatabase(lfs, Options{Tables: []*table.Table{transfers}})
	require.NoError(t, err)
	assert.Equal(t, table.DefaultDialect, db.dialect)
	assert.Equal(t, charset.UTF8, db.enc)
	assert.Equal(t, "csv", db.ext)
	assert.Equal(t, DefaultFlushThreshold, db.threshold)
	assert.Equal(t, DefaultRetries, db.retries)
	assert.Equal(t, int64(-1), db.Status().CommittedHeight)
}
