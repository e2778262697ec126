package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/avmerge/internal/store"
)

const (
	outputExt     = ".mp4"
	partialPrefix = ".partial-"
)

// OutputStore implements store.OutputStore over a single directory.
//
// Published files are named <task-id>.mp4. In-flight files carry a leading
// dot and are ignored by every listing. mu is the structural lock: publishing
// (rename into place), deletion and eviction passes are serialized on it.
type OutputStore struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

var _ store.OutputStore = (*OutputStore)(nil)

// NewOutputStore creates the directory if needed and removes partial files
// left behind by an interrupted process.
func NewOutputStore(dir string, logger *slog.Logger) (*OutputStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, store.NewStorageError("output", "init", err)
	}

	s := &OutputStore{
		dir:    dir,
		logger: logger.With(slog.String("component", "output_store"), slog.String("dir", dir)),
	}
	s.removeStalePartials()
	return s, nil
}

// Reserve allocates a hidden temp file for the task's output. The file is
// created empty so that its name is unique.
func (s *OutputStore) Reserve(ctx context.Context, taskID uuid.UUID) (store.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(s.dir, partialPrefix+taskID.String()+"-*"+outputExt)
	if err != nil {
		return nil, store.NewStorageError("output", "reserve", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, store.NewStorageError("output", "reserve", err)
	}

	return &reservation{store: s, taskID: taskID, path: path}, nil
}

// Write streams r into a new output for taskID and publishes it.
func (s *OutputStore) Write(ctx context.Context, taskID uuid.UUID, r io.Reader) (store.OutputFile, error) {
	res, err := s.Reserve(ctx, taskID)
	if err != nil {
		return store.OutputFile{}, err
	}

	if err := copyInto(res.Path(), r); err != nil {
		_ = res.Discard()
		return store.OutputFile{}, store.NewStorageError("output", "write", err)
	}

	out, err := res.Commit(ctx)
	if err != nil {
		_ = res.Discard()
		return store.OutputFile{}, err
	}
	return out, nil
}

// Open returns the published output for taskID. The caller closes the file.
// An open file stays readable even if it is evicted while being served.
func (s *OutputStore) Open(ctx context.Context, taskID uuid.UUID) (*os.File, store.OutputFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.OutputFile{}, err
	}

	f, err := os.Open(s.finalPath(taskID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, store.OutputFile{}, store.ErrOutputNotFound
		}
		return nil, store.OutputFile{}, store.NewStorageError("output", "open", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, store.OutputFile{}, store.NewStorageError("output", "open", err)
	}

	return f, s.describe(info), nil
}

// Delete removes the output for taskID.
func (s *OutputStore) Delete(ctx context.Context, taskID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeName(filepath.Base(s.finalPath(taskID)))
}

// ListByAge returns published files ordered oldest first.
func (s *OutputStore) ListByAge(ctx context.Context) ([]store.OutputFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listByAge(ctx)
}

// Count returns the number of published files.
func (s *OutputStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, err := s.listByAge(ctx)
	return len(files), err
}

// Remove deletes a published file, including orphans that carry no task ID.
func (s *OutputStore) Remove(ctx context.Context, f store.OutputFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeName(f.Name)
}

// Exclusive runs fn with the structural lock held.
func (s *OutputStore) Exclusive(ctx context.Context, fn func(view store.OutputView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(lockedView{s})
}

func (s *OutputStore) listByAge(ctx context.Context) ([]store.OutputFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, store.NewStorageError("output", "list", err)
	}

	files := make([]store.OutputFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, store.NewStorageError("output", "list", err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, s.describe(info))
	}

	slices.SortFunc(files, func(a, b store.OutputFile) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return files, nil
}

func (s *OutputStore) removeName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return store.NewStoreError("output", "delete", fmt.Sprintf("invalid output name %q", name), store.ErrInvalidEntity)
	}

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store.ErrOutputNotFound
		}
		return store.NewStorageError("output", "delete", err)
	}

	s.logger.Debug("output file removed", "file", name)
	return nil
}

// publish renames a completed partial file to its final name.
func (s *OutputStore) publish(ctx context.Context, taskID uuid.UUID, partial string) (store.OutputFile, error) {
	if err := ctx.Err(); err != nil {
		return store.OutputFile{}, err
	}

	if err := os.Chmod(partial, 0o644); err != nil {
		return store.OutputFile{}, store.NewStorageError("output", "publish", err)
	}
	// Flush before taking the lock; large files can take a while.
	if err := syncFile(partial); err != nil {
		return store.OutputFile{}, store.NewStorageError("output", "publish", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Age is publish order, not engine finish order.
	now := time.Now()
	if err := os.Chtimes(partial, now, now); err != nil {
		return store.OutputFile{}, store.NewStorageError("output", "publish", err)
	}

	final := s.finalPath(taskID)
	if err := os.Rename(partial, final); err != nil {
		return store.OutputFile{}, store.NewStorageError("output", "publish", err)
	}
	syncDir(s.dir)

	info, err := os.Stat(final)
	if err != nil {
		return store.OutputFile{}, store.NewStorageError("output", "publish", err)
	}

	out := s.describe(info)
	s.logger.Info("output file published", "task_id", taskID, "file", out.Name, "size", out.Size)
	return out, nil
}

func (s *OutputStore) describe(info fs.FileInfo) store.OutputFile {
	name := info.Name()
	f := store.OutputFile{
		Name:    name,
		Path:    filepath.Join(s.dir, name),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if strings.HasSuffix(name, outputExt) {
		if id, err := uuid.Parse(strings.TrimSuffix(name, outputExt)); err == nil {
			f.TaskID = id
		}
	}
	return f
}

func (s *OutputStore) finalPath(taskID uuid.UUID) string {
	return filepath.Join(s.dir, taskID.String()+outputExt)
}

func (s *OutputStore) removeStalePartials() {
	matches, err := filepath.Glob(filepath.Join(s.dir, partialPrefix+"*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			s.logger.Info("removed stale partial output", "file", filepath.Base(m))
		}
	}
}

// lockedView exposes the unlocked internals while Exclusive holds mu.
type lockedView struct {
	s *OutputStore
}

func (v lockedView) ListByAge(ctx context.Context) ([]store.OutputFile, error) {
	return v.s.listByAge(ctx)
}

func (v lockedView) Count(ctx context.Context) (int, error) {
	files, err := v.s.listByAge(ctx)
	return len(files), err
}

func (v lockedView) Remove(ctx context.Context, f store.OutputFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return v.s.removeName(f.Name)
}

type reservation struct {
	store  *OutputStore
	taskID uuid.UUID
	path   string

	mu        sync.Mutex
	committed bool
	discarded bool
}

func (r *reservation) Path() string {
	return r.path
}

// Commit publishes the reserved file. It fails if the file is empty, since an
// engine that exits cleanly without output has not produced a result.
func (r *reservation) Commit(ctx context.Context) (store.OutputFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.committed || r.discarded {
		return store.OutputFile{}, store.NewStoreError("output", "publish", "reservation already closed", store.ErrInvalidEntity)
	}

	info, err := os.Stat(r.path)
	if err != nil {
		return store.OutputFile{}, store.NewStorageError("output", "publish", err)
	}
	if info.Size() == 0 {
		return store.OutputFile{}, store.NewStoreError("output", "publish", "output file is empty", store.ErrInvalidEntity)
	}

	out, err := r.store.publish(ctx, r.taskID, r.path)
	if err != nil {
		return store.OutputFile{}, err
	}
	r.committed = true
	return out, nil
}

// Discard removes the reserved file. It is a no-op after Commit.
func (r *reservation) Discard() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.committed || r.discarded {
		return nil
	}
	r.discarded = true
	if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return store.NewStorageError("output", "discard", err)
	}
	return nil
}

func copyInto(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
