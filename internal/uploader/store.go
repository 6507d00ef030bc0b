package uploader

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/pitchbox/pitchbox/internal/utils"
)

// PlanStore persists upload plans across process restarts so an interrupted
// transfer can resume with its completed parts intact. Implementations must
// treat corrupt data as "not found" rather than failing.
type PlanStore interface {
	Save(plan *UploadPlan) error
	Load(matchID int64, uploadID string) (*UploadPlan, error)
	// Find locates a resumable plan for the same match and source file,
	// before the upload id is known to a fresh orchestrator.
	Find(matchID int64, fileName string, fileSize int64) (*UploadPlan, error)
	Clear(matchID int64, uploadID string) error
	List() ([]*UploadPlan, error)
}

// FileStore keeps one JSON file per (matchID, uploadID) under a session
// directory, with a flock guarding writers across processes.
type FileStore struct {
	dir string
}

var _ PlanStore = (*FileStore)(nil)

func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "pitchbox-upload-sessions")
	}
	return &FileStore{dir: dir}
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Save(plan *UploadPlan) error {
	if plan == nil || plan.UploadID == "" {
		return nil
	}
	if err := utils.EnsureDir(s.dir); err != nil {
		return fmt.Errorf("ensure session dir: %w", err)
	}

	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	path := s.planPath(plan.MatchID, plan.UploadID)
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err == nil {
		defer lock.Unlock()
	}

	return os.WriteFile(path, data, 0o644)
}

func (s *FileStore) Load(matchID int64, uploadID string) (*UploadPlan, error) {
	return s.readPlan(s.planPath(matchID, uploadID))
}

func (s *FileStore) Find(matchID int64, fileName string, fileSize int64) (*UploadPlan, error) {
	plans, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, plan := range plans {
		if plan.MatchID == matchID && plan.FileName == fileName && plan.FileSize == fileSize {
			return plan, nil
		}
	}
	return nil, ErrPlanNotFound
}

func (s *FileStore) Clear(matchID int64, uploadID string) error {
	path := s.planPath(matchID, uploadID)
	_ = os.Remove(path + ".lock")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) List() ([]*UploadPlan, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var plans []*UploadPlan
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		plan, err := s.readPlan(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func (s *FileStore) readPlan(path string) (*UploadPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}

	var plan UploadPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		// Unparseable session files are dropped, not surfaced.
		slog.Warn("upload session corrupted, discarding", "path", path, "error", err)
		_ = os.Remove(path)
		return nil, ErrPlanNotFound
	}

	if plan.UploadID == "" || len(plan.Parts) != int(partCount(plan.FileSize, plan.ChunkSize)) {
		slog.Warn("upload session inconsistent, discarding", "path", path)
		_ = os.Remove(path)
		return nil, ErrPlanNotFound
	}

	// Recompute the counter instead of trusting the stored value.
	plan.CompletedParts = 0
	for _, part := range plan.Parts {
		if part.Uploaded {
			plan.CompletedParts++
		}
	}

	return &plan, nil
}

func (s *FileStore) planPath(matchID int64, uploadID string) string {
	hash := sha1.Sum([]byte(fmt.Sprintf("%d|%s", matchID, uploadID)))
	return filepath.Join(s.dir, hex.EncodeToString(hash[:])+".json")
}

// MemoryStore is an in-memory PlanStore for tests and for sessions where
// durable storage is unavailable. Safe for concurrent use; the orchestrator's
// workers persist from several goroutines.
type MemoryStore struct {
	mu    sync.Mutex
	plans map[string]*UploadPlan
}

var _ PlanStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: make(map[string]*UploadPlan)}
}

func (s *MemoryStore) key(matchID int64, uploadID string) string {
	return fmt.Sprintf("%d|%s", matchID, uploadID)
}

func (s *MemoryStore) Save(plan *UploadPlan) error {
	if plan == nil || plan.UploadID == "" {
		return nil
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	var clone UploadPlan
	if err := json.Unmarshal(data, &clone); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[s.key(plan.MatchID, plan.UploadID)] = &clone
	return nil
}

func (s *MemoryStore) Load(matchID int64, uploadID string) (*UploadPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[s.key(matchID, uploadID)]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}

func (s *MemoryStore) Find(matchID int64, fileName string, fileSize int64) (*UploadPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, plan := range s.plans {
		if plan.MatchID == matchID && plan.FileName == fileName && plan.FileSize == fileSize {
			return plan, nil
		}
	}
	return nil, ErrPlanNotFound
}

func (s *MemoryStore) Clear(matchID int64, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, s.key(matchID, uploadID))
	return nil
}

func (s *MemoryStore) List() ([]*UploadPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plans := make([]*UploadPlan, 0, len(s.plans))
	for _, plan := range s.plans {
		plans = append(plans, plan)
	}
	return plans, nil
}
