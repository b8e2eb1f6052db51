package cache

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// entrySuffix 文件格式：首行是 JSON 元数据，换行之后是原始正文。
// 元数据与正文同处一个文件，一次 rename 即完成整条写入。
const entrySuffix = ".entry"

// NewFSStorage 以 basePath 为根目录构建磁盘存储，每个 store 对应一个子目录。
func NewFSStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fsStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fsStorage 通过 entryLock 避免同一条目并发写入，所有 store 共享一把锁表。
type fsStorage struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fsStore struct {
	storage *fsStorage
	name    string
	dir     string
}

// entryMeta 是条目文件首行的内容。
type entryMeta struct {
	Key      Key `json:"key"`
	Response
}

func (s *fsStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	dir, err := s.storeDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store %s: %w", name, err)
	}
	return &fsStore{storage: s, name: name, dir: dir}, nil
}

func (s *fsStorage) Lookup(ctx context.Context, name string) (Store, bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return nil, false, err
	}
	dir, err := s.storeDir(name)
	if err != nil {
		return nil, false, err
	}
	return &fsStore{storage: s, name: name, dir: dir}, true, nil
}

func (s *fsStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	dir, err := s.storeDir(name)
	if err != nil {
		return false, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fsStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fsStorage) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	dir, err := s.storeDir(name)
	if err != nil {
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fsStorage) DeleteFunc(ctx context.Context, pred func(string) bool) ([]string, error) {
	return deleteMatching(ctx, s, pred)
}

func (s *fsStorage) Match(ctx context.Context, key Key) (*Response, error) {
	return matchAcross(ctx, s, key)
}

func (s *fsStorage) Close() error {
	return nil
}

func (s *fsStorage) storeDir(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	dir := filepath.Join(s.basePath, name)
	if !strings.HasPrefix(dir, s.basePath+string(filepath.Separator)) {
		return "", ErrInvalidName
	}
	return dir, nil
}

func (s *fsStorage) lockEntry(lockKey string) func() {
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

func (st *fsStore) Name() string {
	return st.name
}

func (st *fsStore) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if !key.Cacheable() {
		return nil, ErrNotFound
	}
	raw, err := os.ReadFile(st.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	header, body, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok {
		return nil, fmt.Errorf("decode cache entry %s: missing header", key)
	}
	meta, err := decodeMeta(header)
	if err != nil {
		return nil, err
	}
	if meta.Key != key {
		// 哈希碰撞时视为未命中。
		return nil, ErrNotFound
	}
	resp := meta.Response
	resp.Body = body
	return resp.Clone(), nil
}

func (st *fsStore) Put(ctx context.Context, key Key, resp *Response) error {
	if !key.Cacheable() {
		return ErrMethodNotCacheable
	}
	if resp == nil {
		return errors.New("nil response")
	}
	unlock := st.storage.lockEntry(st.name + "::" + string(key))
	defer unlock()

	stored := resp.Clone()
	stored.StoredAt = nowUTC()

	header, err := json.Marshal(entryMeta{Key: key, Response: *stored})
	if err != nil {
		return err
	}
	payload := io.MultiReader(bytes.NewReader(header), bytes.NewReader([]byte{'\n'}), bytes.NewReader(stored.Body))

	// store 目录被删除后不再重建，写入直接失败。
	if err := writeAtomic(ctx, st.dir, st.entryPath(key), payload); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrStoreNotFound, st.name)
		}
		return err
	}
	return nil
}

func (st *fsStore) Delete(ctx context.Context, key Key) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	unlock := st.storage.lockEntry(st.name + "::" + string(key))
	defer unlock()

	if err := os.Remove(st.entryPath(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (st *fsStore) Keys(ctx context.Context) ([]Key, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]Key, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), entrySuffix) {
			continue
		}
		meta, err := readEntryHeader(filepath.Join(st.dir, entry.Name()))
		if err != nil {
			continue
		}
		keys = append(keys, meta.Key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

func (st *fsStore) entryPath(key Key) string {
	return filepath.Join(st.dir, strconv.FormatUint(xxhash.Sum64String(string(key)), 16)+entrySuffix)
}

// readEntryHeader 只读取首行元数据，不加载正文。
func readEntryHeader(path string) (*entryMeta, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer file.Close()

	line, err := bufio.NewReader(file).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", filepath.Base(path), err)
	}
	return decodeMeta(bytes.TrimSuffix(line, []byte{'\n'}))
}

func decodeMeta(raw []byte) (*entryMeta, error) {
	var meta entryMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode cache meta: %w", err)
	}
	return &meta, nil
}

// writeAtomic 通过临时文件 + rename 保证单文件写入的原子性。
func writeAtomic(ctx context.Context, dir, target string, body io.Reader) error {
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
