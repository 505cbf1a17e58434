// Package local implements storage.FS on a local directory.
//
// Transactions are staged in a sibling directory and merged into the target
// on Commit, one rename per file. A crash during the merge leaves the target
// with a subset of the staged files applied. Each file is replaced by a
// rename, so no file is ever left half written.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/chainexport/csvstore/charset"
	"github.com/chainexport/csvstore/storage"
)

// Replaced in tests to simulate a crash in the middle of a merge.
var rename = os.Rename

// FS is a storage.FS rooted at a local directory.
type FS struct {
	root string
	log  *log.Logger
}

// New returns a backend rooted at root. The directory is created lazily.
func New(root string, logger *log.Logger) *FS {
	if logger == nil {
		logger = log.New()
	}
	return &FS{root: filepath.Clean(root), log: logger}
}

// Root returns the destination directory.
func (l *FS) Root() string {
	return l.root
}

func (l *FS) path(name string) string {
	return filepath.Join(l.root, filepath.FromSlash(name))
}

// Exist is part of storage.FS.
func (l *FS) Exist(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(l.path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("Exist(): %w", err)
}

// ReadFile is part of storage.FS.
func (l *FS) ReadFile(_ context.Context, name string, enc charset.Encoding) (string, error) {
	b, err := os.ReadFile(l.path(name))
	if err != nil {
		return "", fmt.Errorf("ReadFile(): %w", err)
	}
	return enc.Decode(b)
}

// WriteFile is part of storage.FS. The file is replaced atomically.
func (l *FS) WriteFile(ctx context.Context, name string, data string, enc charset.Encoding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := enc.Encode(data)
	if err != nil {
		return fmt.Errorf("WriteFile(): %w", err)
	}
	return writeFileAtomic(l.path(name), b)
}

// Begin is part of storage.FS.
func (l *FS) Begin(ctx context.Context, dir string) (storage.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target := l.path(dir)
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, fmt.Errorf("Begin(): %w", err)
	}
	staging := filepath.Join(parent, fmt.Sprintf("%s-temp-%s", filepath.Base(target), uuid.NewString()))
	if err := os.Mkdir(staging, 0755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("Begin(): staging directory %s: %w", staging, storage.ErrConflict)
		}
		return nil, fmt.Errorf("Begin(): %w", err)
	}
	return &Transaction{dir: target, staging: staging, open: true, log: l.log}, nil
}

// Transaction stages files in a temporary directory until Commit.
type Transaction struct {
	dir     string
	staging string
	open    bool
	files   int
	log     *log.Logger
}

// Staging returns the temporary directory holding uncommitted files.
func (tx *Transaction) Staging() string {
	return tx.staging
}

// WriteFile is part of storage.Transaction. A failed write rolls the
// transaction back.
func (tx *Transaction) WriteFile(ctx context.Context, name string, data string, enc charset.Encoding) error {
	if !tx.open {
		return storage.ErrTransactionClosed
	}
	if err := ctx.Err(); err != nil {
		return tx.Rollback(ctx, err)
	}
	b, err := enc.Encode(data)
	if err != nil {
		return tx.Rollback(ctx, fmt.Errorf("WriteFile(): %w", err))
	}
	p := filepath.Join(tx.staging, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return tx.Rollback(ctx, fmt.Errorf("WriteFile(): %w", err))
	}
	if err := os.WriteFile(p, b, 0644); err != nil {
		return tx.Rollback(ctx, fmt.Errorf("WriteFile(): %w", err))
	}
	tx.files++
	return nil
}

// Commit is part of storage.Transaction.
func (tx *Transaction) Commit(ctx context.Context) error {
	if !tx.open {
		return storage.ErrTransactionClosed
	}
	if err := merge(ctx, tx.staging, tx.dir); err != nil {
		return tx.Rollback(ctx, fmt.Errorf("Commit(): merge into %s: %w", tx.dir, err))
	}
	tx.open = false
	if err := os.RemoveAll(tx.staging); err != nil {
		return fmt.Errorf("Commit(): remove staging directory: %w", err)
	}
	tx.log.Debugf("committed %d files to %s", tx.files, tx.dir)
	return nil
}

// Rollback is part of storage.Transaction.
func (tx *Transaction) Rollback(_ context.Context, cause error) error {
	tx.open = false
	if err := os.RemoveAll(tx.staging); err != nil {
		return errors.Join(cause, fmt.Errorf("Rollback(): %w", err))
	}
	return cause
}

// merge moves every file under src to the same relative path under dst,
// replacing same-named files and merging subdirectories recursively.
func merge(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := filepath.Join(src, e.Name())
		d := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := merge(ctx, s, d); err != nil {
				return err
			}
			continue
		}
		// rename replaces an existing file in one step, so d is always either
		// the old or the new file.
		if err := rename(s, d); err != nil {
			return err
		}
	}
	return nil
}

// writeFileAtomic writes to a temp file next to p and renames it into place.
func writeFileAtomic(p string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("WriteFile(): %w", err)
	}
	tempFilename := fmt.Sprintf("%s.temp", p)
	if err := os.WriteFile(tempFilename, b, 0644); err != nil {
		return fmt.Errorf("WriteFile(): failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFilename, p); err != nil {
		return fmt.Errorf("WriteFile(): failed to replace %s: %w", p, err)
	}
	return nil
}

type localFactory struct{}

func (localFactory) Name() string {
	return "local"
}

func (localFactory) Build(dest *url.URL, opts storage.Options) (storage.FS, error) {
	return New(dest.Path, opts.Logger), nil
}

func init() {
	storage.Register(storage.LocalScheme, localFactory{})
}
