// Package store persists program images by name.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/vmkernel/image"
)

var log = commonlog.GetLogger("vmkernel.store")

// ErrNotFound indicates the requested program doesn't exist.
var ErrNotFound = errors.New("store: program not found")

// Store is a named collection of program images.
type Store interface {
	// Put inserts or replaces the image stored under img.Name.
	Put(ctx context.Context, img *image.Image) error

	// Get returns the image stored under name, or ErrNotFound.
	Get(ctx context.Context, name string) (*image.Image, error)

	// List returns the stored names in ascending order.
	List(ctx context.Context) ([]string, error)

	// Delete removes name. Deleting a missing name returns ErrNotFound.
	Delete(ctx context.Context, name string) error

	Close() error
}

// Open selects a backend by DSN scheme:
//
//	sqlite:<path>      SQLite database file (":memory:" for a private in-memory db)
//	leveldb:<dir>      LevelDB directory (empty for in-memory storage)
func Open(dsn string) (Store, error) {
	scheme, rest, ok := strings.Cut(dsn, ":")
	if !ok {
		return nil, fmt.Errorf("store: dsn %q has no scheme", dsn)
	}
	var s Store
	var err error
	switch scheme {
	case "sqlite":
		s, err = OpenSQLite(rest)
	case "leveldb":
		s, err = OpenLevel(rest)
	default:
		return nil, fmt.Errorf("store: unknown scheme %q in dsn %q", scheme, dsn)
	}
	if err != nil {
		log.Errorf("opening %s: %v", dsn, err)
		return nil, err
	}
	log.Infof("opened %s store at %q", scheme, rest)
	return s, nil
}

func checkName(name string) error {
	if name == "" {
		return errors.New("store: empty program name")
	}
	return nil
}
