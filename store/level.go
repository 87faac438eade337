package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/vmkernel/image"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const levelPrefix = "prog/"

// LevelStore keeps images in LevelDB under "prog/<name>" keys.
// LevelDB handles its own synchronization.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevel opens or creates a LevelDB database in dir. An empty dir
// uses in-memory storage.
func OpenLevel(dir string) (*LevelStore, error) {
	var db *leveldb.DB
	var err error

	if dir == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(dir, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", dir, err)
	}
	return &LevelStore{db: db}, nil
}

func levelKey(name string) []byte {
	return []byte(levelPrefix + name)
}

// Put implements Store.
func (s *LevelStore) Put(_ context.Context, img *image.Image) error {
	if err := checkName(img.Name); err != nil {
		return err
	}
	data, err := image.Marshal(img)
	if err != nil {
		return err
	}
	return s.db.Put(levelKey(img.Name), data, nil)
}

// Get implements Store.
func (s *LevelStore) Get(_ context.Context, name string) (*image.Image, error) {
	data, err := s.db.Get(levelKey(name), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", name, err)
	}
	return image.Unmarshal(data)
}

// List implements Store.
func (s *LevelStore) List(_ context.Context) ([]string, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(levelPrefix)), nil)
	defer iter.Release()

	var names []string
	for iter.Next() {
		names = append(names, string(iter.Key()[len(levelPrefix):]))
	}
	return names, iter.Error()
}

// Delete implements Store.
func (s *LevelStore) Delete(_ context.Context, name string) error {
	ok, err := s.db.Has(levelKey(name), nil)
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return s.db.Delete(levelKey(name), nil)
}

// Close implements Store.
func (s *LevelStore) Close() error {
	return s.db.Close()
}
