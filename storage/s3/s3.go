// Package s3 implements storage.FS on an S3-compatible object store.
//
// Objects are written straight to their final keys. A transaction is only a
// key prefix: Commit and Rollback have nothing to undo, so a flush that fails
// partway leaves the objects it already wrote in place.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	log "github.com/sirupsen/logrus"

	"github.com/chainexport/csvstore/charset"
	"github.com/chainexport/csvstore/storage"
)

// Scheme selects this backend in a destination URL.
const Scheme = "s3"

// Error codes reported by S3 and compatible stores for requests that may
// succeed when repeated.
var conflictCodes = map[string]bool{
	"SlowDown":                   true,
	"OperationAborted":           true,
	"ConditionalRequestConflict": true,
	"RequestTimeout":             true,
}

// FS is a storage.FS backed by one bucket and key prefix.
type FS struct {
	client s3iface.S3API
	bucket string
	prefix string
	log    *log.Logger
}

// New returns a backend writing under prefix in bucket.
func New(client s3iface.S3API, bucket, prefix string, logger *log.Logger) *FS {
	if logger == nil {
		logger = log.New()
	}
	return &FS{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    logger,
	}
}

// Bucket returns the bucket name.
func (s *FS) Bucket() string {
	return s.bucket
}

// Prefix returns the key prefix, without leading or trailing slashes.
func (s *FS) Prefix() string {
	return s.prefix
}

func (s *FS) key(name string) string {
	return path.Join(s.prefix, name)
}

// Exist is part of storage.FS. It lists at most one key under name.
func (s *FS) Exist(ctx context.Context, name string) (bool, error) {
	out, err := s.client.ListObjectsV2WithContext(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.key(name)),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return false, fmt.Errorf("Exist(): %w", mapError(err))
	}
	return len(out.Contents) > 0, nil
}

// ReadFile is part of storage.FS.
func (s *FS) ReadFile(ctx context.Context, name string, enc charset.Encoding) (string, error) {
	out, err := s.client.GetObjectWithContext(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return "", fmt.Errorf("ReadFile(): %w", mapError(err))
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("ReadFile(): %w", err)
	}
	return enc.Decode(b)
}

// WriteFile is part of storage.FS.
func (s *FS) WriteFile(ctx context.Context, name string, data string, enc charset.Encoding) error {
	b, err := enc.Encode(data)
	if err != nil {
		return fmt.Errorf("WriteFile(): %w", err)
	}
	_, err = s.client.PutObjectWithContext(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(name)),
		Body:          bytes.NewReader(b),
		ContentLength: aws.Int64(int64(len(b))),
		ContentType:   aws.String(contentType(enc)),
	})
	if err != nil {
		return fmt.Errorf("WriteFile(): put %s: %w", s.key(name), mapError(err))
	}
	return nil
}

// Begin is part of storage.FS. Nothing is staged.
func (s *FS) Begin(_ context.Context, dir string) (storage.Transaction, error) {
	return &Transaction{fs: s, dir: dir, open: true}, nil
}

// Transaction writes each file immediately under its directory.
type Transaction struct {
	fs      *FS
	dir     string
	open    bool
	written []string
}

// Written returns the keys put so far, in order.
func (tx *Transaction) Written() []string {
	return tx.written
}

// WriteFile is part of storage.Transaction.
func (tx *Transaction) WriteFile(ctx context.Context, name string, data string, enc charset.Encoding) error {
	if !tx.open {
		return storage.ErrTransactionClosed
	}
	p := path.Join(tx.dir, name)
	if err := tx.fs.WriteFile(ctx, p, data, enc); err != nil {
		return err
	}
	tx.written = append(tx.written, tx.fs.key(p))
	return nil
}

// Commit is part of storage.Transaction. Every file is already durable.
func (tx *Transaction) Commit(_ context.Context) error {
	if !tx.open {
		return storage.ErrTransactionClosed
	}
	tx.open = false
	return nil
}

// Rollback is part of storage.Transaction. Objects already written stay.
func (tx *Transaction) Rollback(_ context.Context, cause error) error {
	tx.open = false
	if len(tx.written) > 0 {
		tx.fs.log.Warnf("rollback of %s leaves %d objects written", tx.dir, len(tx.written))
	}
	return cause
}

func contentType(enc charset.Encoding) string {
	return fmt.Sprintf("text/csv; charset=%s", enc)
}

// mapError translates SDK errors into the storage error vocabulary.
func mapError(err error) error {
	var rf awserr.RequestFailure
	if errors.As(err, &rf) {
		switch rf.StatusCode() {
		case http.StatusConflict, http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %s", storage.ErrConflict, err.Error())
		}
	}
	var ae awserr.Error
	if errors.As(err, &ae) {
		switch {
		case ae.Code() == awss3.ErrCodeNoSuchKey:
			return fmt.Errorf("%w: %s", fs.ErrNotExist, err.Error())
		case conflictCodes[ae.Code()]:
			return fmt.Errorf("%w: %s", storage.ErrConflict, err.Error())
		}
	}
	return err
}

// NewSession builds an SDK session from static settings.
func NewSession(opts storage.S3Options) (*session.Session, error) {
	if opts.Region == "" || opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, fmt.Errorf("s3 needs region, access-key and secret-key: %w", storage.ErrMissingCredentials)
	}
	cfg := &aws.Config{
		Region:           aws.String(opts.Region),
		Credentials:      credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(opts.ForcePathStyle),
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
	}
	return session.NewSession(cfg)
}

type s3Factory struct{}

func (s3Factory) Name() string {
	return "s3"
}

func (s3Factory) Build(dest *url.URL, opts storage.Options) (storage.FS, error) {
	if dest.Host == "" {
		return nil, fmt.Errorf("s3 destination %q has no bucket", dest.String())
	}
	sess, err := NewSession(opts.S3)
	if err != nil {
		return nil, err
	}
	return New(awss3.New(sess), dest.Host, dest.Path, opts.Logger), nil
}

func init() {
	storage.Register(Scheme, s3Factory{})
}
