package objstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemStore keeps objects in memory. It is used by tests and supports injecting failures per key.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
	puts    int
	gets    []string
	// FailPut, FailGet and FailList return an error to simulate store failures. They are consulted
	// before the operation is applied.
	FailPut  func(key string) error
	FailGet  func(key string) error
	FailList func(prefix string) error
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string]*Object)}
}

func (s *MemStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPut != nil {
		if err := s.FailPut(key); err != nil {
			return err
		}
	}
	s.puts++
	s.objects[key] = &Object{
		ObjectInfo: ObjectInfo{
			Key:          key,
			Size:         int64(len(data)),
			ETag:         ETagFor(data),
			ContentType:  opts.ContentType,
			CacheControl: opts.CacheControl,
			LastModified: time.Now(),
		},
		Body: slices.Clone(data),
	}
	return nil
}

func (s *MemStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets = append(s.gets, key)
	if s.FailGet != nil {
		if err := s.FailGet(key); err != nil {
			return nil, err
		}
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return &Object{ObjectInfo: obj.ObjectInfo, Body: slices.Clone(obj.Body)}, nil
}

func (s *MemStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	obj, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &obj.ObjectInfo, nil
}

func (s *MemStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailList != nil {
		if err := s.FailList(prefix); err != nil {
			return nil, err
		}
	}
	infos := []ObjectInfo{}
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, obj.ObjectInfo)
		}
	}
	slices.SortFunc(infos, func(a, b ObjectInfo) int { return strings.Compare(a.Key, b.Key) })
	return infos, nil
}

// Puts returns the number of successful writes.
func (s *MemStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// Gets returns the keys passed to Get (and Head) in call order.
func (s *MemStore) Gets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.gets)
}

// Keys returns all stored keys in lexical order.
func (s *MemStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
