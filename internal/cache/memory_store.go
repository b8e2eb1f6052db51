package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// NewMemoryStorage 返回进程内存储，主要用于测试替身与无状态部署。
func NewMemoryStorage() Storage {
	return &memoryStorage{stores: make(map[string]*memoryStore)}
}

type memoryStorage struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
}

type memoryStore struct {
	name    string
	mu      sync.RWMutex
	entries map[Key]*Response
	removed bool
}

func (s *memoryStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	store, ok := s.stores[name]
	if !ok {
		store = &memoryStore{name: name, entries: make(map[Key]*Response)}
		s.stores[name] = store
	}
	return store, nil
}

func (s *memoryStorage) Lookup(ctx context.Context, name string) (Store, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	store, ok := s.stores[name]
	if !ok {
		return nil, false, nil
	}
	return store, true, nil
}

func (s *memoryStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.stores[name]
	return ok, nil
}

func (s *memoryStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.stores))
	for name := range s.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	store, ok := s.stores[name]
	if !ok {
		return false, nil
	}
	delete(s.stores, name)

	// 已取得句柄的写入方随后会收到 ErrStoreNotFound。
	store.mu.Lock()
	store.removed = true
	store.entries = make(map[Key]*Response)
	store.mu.Unlock()
	return true, nil
}

func (s *memoryStorage) DeleteFunc(ctx context.Context, pred func(string) bool) ([]string, error) {
	return deleteMatching(ctx, s, pred)
}

func (s *memoryStorage) Match(ctx context.Context, key Key) (*Response, error) {
	return matchAcross(ctx, s, key)
}

func (s *memoryStorage) Close() error {
	return nil
}

func (m *memoryStore) Name() string {
	return m.name
}

func (m *memoryStore) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if !key.Cacheable() {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return resp.Clone(), nil
}

func (m *memoryStore) Put(ctx context.Context, key Key, resp *Response) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if !key.Cacheable() {
		return ErrMethodNotCacheable
	}
	if resp == nil {
		return errors.New("nil response")
	}
	stored := resp.Clone()
	stored.StoredAt = nowUTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed {
		return fmt.Errorf("%w: %s", ErrStoreNotFound, m.name)
	}
	m.entries[key] = stored
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key Key) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *memoryStore) Keys(ctx context.Context) ([]Key, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]Key, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// deleteMatching 是 DeleteFunc 的通用实现：逐个删除，失败汇总但不中断。
func deleteMatching(ctx context.Context, s Storage, pred func(string) bool) ([]string, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	var (
		deleted []string
		errs    []error
	)
	for _, name := range names {
		if pred != nil && !pred(name) {
			continue
		}
		ok, err := s.Delete(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			deleted = append(deleted, name)
		}
	}
	return deleted, errors.Join(errs...)
}

// matchAcross 按 store 名称顺序查找第一个命中。
func matchAcross(ctx context.Context, s Storage, key Key) (*Response, error) {
	if !key.Cacheable() {
		return nil, ErrNotFound
	}
	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		// 枚举与读取之间 store 可能已被删除，跳过即可。
		store, ok, err := s.Lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		resp, err := store.Match(ctx, key)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}
