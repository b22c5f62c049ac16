package objstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	badgerDataPrefix = "data/"
	badgerMetaPrefix = "meta/"
)

// BadgerStore is a local object store used for development and offline runs. Object metadata and
// bodies are stored under separate key prefixes so listing never loads object bodies.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a store in dir. If dir is empty the store is kept in memory.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to open local object store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meta, err := json.Marshal(ObjectInfo{
		Key:          key,
		Size:         int64(len(data)),
		ETag:         ETagFor(data),
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		LastModified: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(badgerDataPrefix+key), data); err != nil {
			return err
		}
		return txn.Set([]byte(badgerMetaPrefix+key), meta)
	})
}

func (s *BadgerStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obj := &Object{}
	err := s.db.View(func(txn *badger.Txn) error {
		info, err := getMeta(txn, key)
		if err != nil {
			return err
		}
		item, err := txn.Get([]byte(badgerDataPrefix + key))
		if err != nil {
			return err
		}
		obj.ObjectInfo = *info
		obj.Body, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	} else if err != nil {
		return nil, err
	}
	return obj, nil
}

func (s *BadgerStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var info *ObjectInfo
	err := s.db.View(func(txn *badger.Txn) (err error) {
		info, err = getMeta(txn, key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	} else if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *BadgerStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	infos := []ObjectInfo{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerMetaPrefix + prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var info ObjectInfo
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			}); err != nil {
				return err
			}
			infos = append(infos, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func getMeta(txn *badger.Txn, key string) (*ObjectInfo, error) {
	item, err := txn.Get([]byte(badgerMetaPrefix + key))
	if err != nil {
		return nil, err
	}
	info := &ObjectInfo{}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, info)
	}); err != nil {
		return nil, err
	}
	return info, nil
}
