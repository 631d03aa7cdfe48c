package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// SentinelSuffix names the file that marks a store as held by a writer
	SentinelSuffix = ".lock"

	// journalSuffix is the engine's rollback journal, present while a commit is in flight
	journalSuffix = "-journal"
)

// Mode selects how a store file is opened
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// Datastore wraps a GORM handle on one sqlite store file and provides transaction support.
// A write-mode Datastore owns the store's sentinel until Close.
type Datastore struct {
	db       *gorm.DB
	path     string
	mode     Mode
	sentinel string

	closeOnce sync.Once
	closeErr  error
}

// Open opens the store file at path.
//
// Write mode admits at most one writer per file: it atomically creates <path>.lock
// and fails with ErrStoreLocked if the sentinel (or a rollback journal) already
// exists. There is no waiting and no retry; a sentinel left by a crashed writer
// must be removed by an operator.
//
// Read mode never creates the file and fails with ErrStoreMissing if it is absent.
// Readers do not take the sentinel and may observe the state before an in-flight commit.
func Open(path string, mode Mode) (*Datastore, error) {
	ds := &Datastore{path: path, mode: mode}

	switch mode {
	case ModeWrite:
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		sentinel, err := acquireSentinel(path)
		if err != nil {
			return nil, err
		}
		ds.sentinel = sentinel
	case ModeRead:
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrStoreMissing, path)
			}
			return nil, fmt.Errorf("failed to stat store %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unknown store mode %d", mode)
	}

	db, err := openGorm(path, mode)
	if err != nil {
		ds.releaseSentinel()
		return nil, err
	}
	ds.db = db
	return ds, nil
}

func openGorm(path string, mode Mode) (*gorm.DB, error) {
	// Per-entity failures are logged by the writer, so GORM only reports slow statements
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn(path, mode)), &gorm.Config{
		Logger:                 newLogger,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get generic database object: %w", err)
	}

	// A store file has one writer; one connection keeps the batch transaction and
	// its savepoints on the same handle.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	return db, nil
}

// dsn builds a sqlite URI for path. Each path segment is escaped so that '?',
// '#' and '%' in a directory or file name stay part of the path.
func dsn(path string, mode Mode) string {
	segments := strings.Split(filepath.ToSlash(path), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	query := url.Values{"_busy_timeout": {"2000"}}
	if mode == ModeRead {
		query.Set("mode", "ro")
	}
	return "file:" + strings.Join(segments, "/") + "?" + query.Encode()
}

// acquireSentinel creates the sentinel with O_EXCL so that two writers racing on
// the same file cannot both succeed.
func acquireSentinel(path string) (string, error) {
	sentinel := path + SentinelSuffix

	f, err := os.OpenFile(sentinel, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s is held by %s", ErrStoreLocked, path, sentinelOwner(sentinel))
		}
		return "", fmt.Errorf("failed to create sentinel %s: %w", sentinel, err)
	}

	host, _ := os.Hostname()
	_, werr := fmt.Fprintf(f, "%s %d %s\n", host, os.Getpid(), time.Now().Format(time.RFC3339))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(sentinel)
		return "", fmt.Errorf("failed to write sentinel %s: %w", sentinel, err)
	}

	// A journal without a sentinel means a writer died mid-commit; the engine
	// will roll it back on the next open, but not underneath a live reader.
	if _, err := os.Stat(path + journalSuffix); err == nil {
		_ = os.Remove(sentinel)
		return "", fmt.Errorf("%w: %s has a pending journal", ErrStoreLocked, path)
	}

	return sentinel, nil
}

func sentinelOwner(sentinel string) string {
	data, err := os.ReadFile(sentinel)
	if err != nil {
		return "unknown owner"
	}
	owner := strings.TrimSpace(string(data))
	if owner == "" {
		return "unknown owner"
	}
	return owner
}

func (ds *Datastore) releaseSentinel() error {
	if ds.sentinel == "" {
		return nil
	}
	err := os.Remove(ds.sentinel)
	ds.sentinel = ""
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove sentinel: %w", err)
	}
	return nil
}

// Close closes the database connection and releases the sentinel.
// It is safe to call more than once.
func (ds *Datastore) Close() error {
	ds.closeOnce.Do(func() {
		var dbErr error
		if sqlDB, err := ds.db.DB(); err != nil {
			dbErr = err
		} else {
			dbErr = sqlDB.Close()
		}
		ds.closeErr = errors.Join(dbErr, ds.releaseSentinel())
	})
	return ds.closeErr
}

// Path returns the store file path
func (ds *Datastore) Path() string {
	return ds.path
}

// Mode returns the mode the store was opened in
func (ds *Datastore) Mode() Mode {
	return ds.mode
}

// Transaction support using context
type contextTxKey struct{}

// ExecTx executes a function within a transaction
// If the function returns an error, the transaction is rolled back
// Otherwise, the transaction is committed
func (ds *Datastore) ExecTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ctx = context.WithValue(ctx, contextTxKey{}, tx)
		return fn(ctx)
	})
}

// DB returns the GORM DB instance for the current context
// If a transaction is active in the context, it returns the transaction DB
func (ds *Datastore) DB(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(contextTxKey{}).(*gorm.DB)
	if ok {
		return tx.WithContext(ctx)
	}
	return ds.db.WithContext(ctx)
}
