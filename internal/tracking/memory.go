package tracking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spachava753/kedro-neptune/internal/models"
)

// MemoryStore keeps runs in process memory. It backs the debug mode and is
// shared between runs opened against the same instance, so a custom run id
// resumes the same run for as long as the store lives.
type MemoryStore struct {
	mu     sync.RWMutex
	seq    map[string]int64 // per project key
	custom map[string]string
	infos  map[string]models.RunInfo
	runs   map[string]*memoryRun
}

type memoryRun struct {
	fields map[string]Field
	series map[string][]Point
	files  map[string]File
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seq:    make(map[string]int64),
		custom: make(map[string]string),
		infos:  make(map[string]models.RunInfo),
		runs:   make(map[string]*memoryRun),
	}
}

func (s *MemoryStore) OpenRun(ctx context.Context, req RunRequest) (models.RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := req.Project + "\x00" + req.CustomRunID
	if req.CustomRunID != "" {
		if id, ok := s.custom[key]; ok {
			info := s.infos[id]
			info.Resumed = true
			info.Mode = req.Mode
			return info, nil
		}
	}

	pk := projectKey(req.Project)
	s.seq[pk]++
	info := models.RunInfo{
		ID:          formatRunID(req.Project, s.seq[pk]),
		CustomRunID: req.CustomRunID,
		Project:     req.Project,
		Mode:        req.Mode,
		CreatedAt:   time.Now().UTC(),
	}
	s.infos[info.ID] = info
	s.runs[info.ID] = &memoryRun{
		fields: make(map[string]Field),
		series: make(map[string][]Point),
		files:  make(map[string]File),
	}
	if req.CustomRunID != "" {
		s.custom[key] = info.ID
	}
	return info, nil
}

func (s *MemoryStore) run(runID string) (*memoryRun, error) {
	r, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, models.ErrPathNotFound)
	}
	return r, nil
}

func (s *MemoryStore) PutField(ctx context.Context, runID string, f Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.run(runID)
	if err != nil {
		return err
	}
	r.fields[f.Path] = f
	return nil
}

func (s *MemoryStore) Fields(ctx context.Context, runID, path string) ([]Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	var out []Field
	for p, f := range r.fields {
		if isUnder(p, path) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *MemoryStore) AppendPoint(ctx context.Context, runID, path string, p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.run(runID)
	if err != nil {
		return err
	}
	p.Step = int64(len(r.series[path]))
	r.series[path] = append(r.series[path], p)
	return nil
}

func (s *MemoryStore) Points(ctx context.Context, runID, path string) ([]Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	points, ok := r.series[path]
	if !ok {
		return nil, fmt.Errorf("series %s: %w", path, models.ErrPathNotFound)
	}
	return append([]Point(nil), points...), nil
}

func (s *MemoryStore) PutFile(ctx context.Context, runID, path string, f File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.run(runID)
	if err != nil {
		return err
	}
	f.Content = append([]byte(nil), f.Content...)
	r.files[path] = f
	return nil
}

func (s *MemoryStore) GetFile(ctx context.Context, runID, path string) (File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := s.run(runID)
	if err != nil {
		return File{}, err
	}
	f, ok := r.files[path]
	if !ok {
		return File{}, fmt.Errorf("file %s: %w", path, models.ErrPathNotFound)
	}
	return f, nil
}

func (s *MemoryStore) Exists(ctx context.Context, runID, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := s.run(runID)
	if err != nil {
		return false, err
	}
	for p := range r.fields {
		if isUnder(p, path) {
			return true, nil
		}
	}
	for p := range r.series {
		if isUnder(p, path) {
			return true, nil
		}
	}
	for p := range r.files {
		if isUnder(p, path) {
			return true, nil
		}
	}
	return false, nil
}

// Close is a no-op; the data lives as long as the store value.
func (s *MemoryStore) Close() error {
	return nil
}
