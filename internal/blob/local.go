package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"voicegrade/internal/evalerr"
)

const (
	localMetaDir   = ".voicegrade-meta"
	localLockName  = ".voicegrade.lock"
	localTempMark  = ".tmp-"
	lockRetryDelay = 10 * time.Millisecond
	maxAutorename  = 1000
)

// LocalStore implements Store on a directory tree. Revisions live in sidecar
// metadata files under a hidden directory. Mutations are serialized within the
// process by a mutex and across processes by a lock file.
type LocalStore struct {
	root string
	now  func() time.Time

	mu   sync.Mutex
	lock *flock.Flock
}

type localMeta struct {
	Rev            string    `json:"rev"`
	ServerModified time.Time `json:"server_modified"`
}

// NewLocalStore prepares root for use as a blob store.
func NewLocalStore(root string) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, evalerr.Wrap(evalerr.ErrValidation, "local store", "root directory is required", nil)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve local store root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, localMetaDir), 0o755); err != nil {
		return nil, fmt.Errorf("ensure local store root: %w", err)
	}
	return &LocalStore{
		root: abs,
		now:  time.Now,
		lock: flock.New(filepath.Join(abs, localLockName)),
	}, nil
}

// Root returns the backing directory.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) Upload(ctx context.Context, p string, data []byte) (Metadata, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return Metadata{}, err
	}
	defer unlock()

	p = CleanPath(p)
	target := p
	for i := 1; s.exists(target); i++ {
		if i > maxAutorename {
			return Metadata{}, evalerr.Wrap(evalerr.ErrConflict, "upload", p, nil)
		}
		target = autorenamed(p, i)
	}
	return s.writeLocked("upload", target, data)
}

func (s *LocalStore) Overwrite(ctx context.Context, p string, data []byte) (Metadata, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return Metadata{}, err
	}
	defer unlock()
	return s.writeLocked("overwrite", CleanPath(p), data)
}

func (s *LocalStore) ConditionalOverwrite(ctx context.Context, p string, data []byte, expectedRev string) (Metadata, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return Metadata{}, err
	}
	defer unlock()

	p = CleanPath(p)
	expectedRev = strings.TrimSpace(expectedRev)
	current := ""
	if s.exists(p) {
		meta, err := s.readMeta(p)
		if err != nil {
			return Metadata{}, err
		}
		current = meta.Rev
		if current == "" {
			current = "unknown"
		}
	}
	if current != expectedRev {
		return Metadata{}, evalerr.Wrap(evalerr.ErrConcurrencyConflict, "conditional overwrite",
			fmt.Sprintf("%s: expected rev %q, found %q", p, expectedRev, current), nil)
	}
	return s.writeLocked("conditional overwrite", p, data)
}

func (s *LocalStore) Download(ctx context.Context, p string) ([]byte, Metadata, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, Metadata{}, err
	}
	defer unlock()

	p = CleanPath(p)
	data, err := os.ReadFile(s.filePath(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Metadata{}, evalerr.Wrap(evalerr.ErrNotFound, "download", p, nil)
		}
		return nil, Metadata{}, evalerr.Wrap(evalerr.ErrTransientIO, "download", p, err)
	}
	meta, err := s.metadataLocked(p)
	if err != nil {
		return nil, Metadata{}, err
	}
	return data, meta, nil
}

func (s *LocalStore) ListFolder(ctx context.Context, p string) ([]Metadata, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p = CleanPath(p)
	entries, err := os.ReadDir(s.filePath(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, evalerr.Wrap(evalerr.ErrNotFound, "list folder", p, nil)
		}
		return nil, evalerr.Wrap(evalerr.ErrTransientIO, "list folder", p, err)
	}
	out := make([]Metadata, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == localMetaDir || name == localLockName || strings.HasPrefix(name, localTempMark) {
			continue
		}
		child := path.Join(p, name)
		if e.IsDir() {
			out = append(out, Metadata{Name: name, Path: child, IsFolder: true})
			continue
		}
		meta, err := s.metadataLocked(child)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *LocalStore) Move(ctx context.Context, from, to string) (Metadata, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return Metadata{}, err
	}
	defer unlock()

	from, to = CleanPath(from), CleanPath(to)
	op := "move"
	if !s.exists(from) {
		return Metadata{}, evalerr.Wrap(evalerr.ErrNotFound, op, from, nil)
	}
	if s.exists(to) {
		return Metadata{}, evalerr.Wrap(evalerr.ErrConflict, op, to, nil)
	}
	meta, err := s.readMeta(from)
	if err != nil {
		return Metadata{}, err
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath(to)), 0o755); err != nil {
		return Metadata{}, evalerr.Wrap(evalerr.ErrTransientIO, op, to, err)
	}
	if err := os.Rename(s.filePath(from), s.filePath(to)); err != nil {
		return Metadata{}, evalerr.Wrap(evalerr.ErrTransientIO, op, from+" -> "+to, err)
	}
	_ = os.Remove(s.metaPath(from))
	if err := s.writeMeta(to, meta); err != nil {
		return Metadata{}, err
	}
	return s.metadataLocked(to)
}

func (s *LocalStore) Delete(ctx context.Context, p string) error {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	p = CleanPath(p)
	if err := os.Remove(s.filePath(p)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return evalerr.Wrap(evalerr.ErrNotFound, "delete", p, nil)
		}
		return evalerr.Wrap(evalerr.ErrTransientIO, "delete", p, err)
	}
	_ = os.Remove(s.metaPath(p))
	return nil
}

func (s *LocalStore) acquire(ctx context.Context) (func(), error) {
	s.mu.Lock()
	ok, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		s.mu.Unlock()
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return nil, evalerr.Wrap(evalerr.ErrTransientIO, "local store", "acquire lock", err)
	}
	return func() {
		_ = s.lock.Unlock()
		s.mu.Unlock()
	}, nil
}

func (s *LocalStore) writeLocked(op, p string, data []byte) (Metadata, error) {
	if p == "/" {
		return Metadata{}, evalerr.Wrap(evalerr.ErrValidation, op, "cannot write to root", nil)
	}
	target := s.filePath(p)
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return Metadata{}, evalerr.Wrap(evalerr.ErrConflict, op, p+" is a folder", nil)
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Metadata{}, evalerr.Wrap(evalerr.ErrTransientIO, op, p, err)
	}
	tmp, err := os.CreateTemp(dir, localTempMark+"*")
	if err != nil {
		return Metadata{}, evalerr.Wrap(evalerr.ErrTransientIO, op, p, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return Metadata{}, evalerr.Wrap(evalerr.ErrTransientIO, op, p, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return Metadata{}, evalerr.Wrap(evalerr.ErrTransientIO, op, p, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return Metadata{}, evalerr.Wrap(evalerr.ErrTransientIO, op, p, err)
	}
	meta := localMeta{Rev: newRev(), ServerModified: s.now().UTC().Truncate(time.Second)}
	if err := s.writeMeta(p, meta); err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Name:           path.Base(p),
		Path:           p,
		Rev:            meta.Rev,
		Size:           int64(len(data)),
		ServerModified: meta.ServerModified,
	}, nil
}

func (s *LocalStore) metadataLocked(p string) (Metadata, error) {
	info, err := os.Stat(s.filePath(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, evalerr.Wrap(evalerr.ErrNotFound, "stat", p, nil)
		}
		return Metadata{}, evalerr.Wrap(evalerr.ErrTransientIO, "stat", p, err)
	}
	meta, err := s.readMeta(p)
	if err != nil {
		return Metadata{}, err
	}
	if meta.ServerModified.IsZero() {
		meta.ServerModified = info.ModTime().UTC().Truncate(time.Second)
	}
	return Metadata{
		Name:           path.Base(p),
		Path:           p,
		Rev:            meta.Rev,
		Size:           info.Size(),
		ServerModified: meta.ServerModified,
	}, nil
}

// readMeta returns the sidecar metadata. Files written outside the store get a
// revision assigned on first access.
func (s *LocalStore) readMeta(p string) (localMeta, error) {
	data, err := os.ReadFile(s.metaPath(p))
	if errors.Is(err, fs.ErrNotExist) {
		meta := localMeta{Rev: newRev()}
		if info, statErr := os.Stat(s.filePath(p)); statErr == nil {
			meta.ServerModified = info.ModTime().UTC().Truncate(time.Second)
		}
		return meta, s.writeMeta(p, meta)
	}
	if err != nil {
		return localMeta{}, evalerr.Wrap(evalerr.ErrTransientIO, "read metadata", p, err)
	}
	var meta localMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return localMeta{}, evalerr.Wrap(evalerr.ErrTransientIO, "decode metadata", p, err)
	}
	return meta, nil
}

func (s *LocalStore) writeMeta(p string, meta localMeta) error {
	target := s.metaPath(p)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return evalerr.Wrap(evalerr.ErrTransientIO, "write metadata", p, err)
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return evalerr.Wrap(evalerr.ErrTransientIO, "encode metadata", p, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return evalerr.Wrap(evalerr.ErrTransientIO, "write metadata", p, err)
	}
	return nil
}

func (s *LocalStore) exists(p string) bool {
	info, err := os.Stat(s.filePath(p))
	return err == nil && !info.IsDir()
}

func (s *LocalStore) filePath(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(CleanPath(p)))
}

func (s *LocalStore) metaPath(p string) string {
	return filepath.Join(s.root, localMetaDir, filepath.FromSlash(CleanPath(p))+".json")
}

func newRev() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// autorenamed inserts " (n)" before the extension, matching Dropbox.
func autorenamed(p string, n int) string {
	dir, base := path.Split(p)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return path.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
}
