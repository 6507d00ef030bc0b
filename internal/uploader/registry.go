package uploader

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// UploadStatus is the registry-level lifecycle of a tracked upload, coarser
// than the orchestrator's state machine.
type UploadStatus string

const (
	UploadStatusActive    UploadStatus = "active"
	UploadStatusResumable UploadStatus = "resumable"
	UploadStatusCompleted UploadStatus = "completed"
	UploadStatusError     UploadStatus = "error"
	UploadStatusCancelled UploadStatus = "cancelled"
)

// UploadInfo is a read-only snapshot of one tracked upload.
type UploadInfo struct {
	ID             string       `json:"id"`
	MatchID        int64        `json:"matchId"`
	FilePath       string       `json:"filePath"`
	Status         UploadStatus `json:"status"`
	Size           int64        `json:"size"`
	UploadedBytes  int64        `json:"uploadedBytes"`
	CompletedParts int          `json:"completedParts"`
	TotalParts     int          `json:"totalParts"`
	Progress       float64      `json:"progress"`
	Error          string       `json:"error,omitempty"`
	StartedAt      time.Time    `json:"startedAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

type registryEntry struct {
	mu     sync.RWMutex
	info   *UploadInfo
	cancel context.CancelFunc
}

// Registry tracks the uploads of one process and surfaces persisted sessions
// as resumable entries. It hands each registered upload the cancellation
// context shared by all of its in-flight work.
type Registry struct {
	mu      sync.RWMutex
	uploads map[string]*registryEntry
	store   PlanStore
}

func NewRegistry(store PlanStore) *Registry {
	return &Registry{
		uploads: make(map[string]*registryEntry),
		store:   store,
	}
}

func (r *Registry) generateID(matchID int64, filePath string) string {
	hash := sha1.Sum([]byte(fmt.Sprintf("%d|%s", matchID, filePath)))
	return hex.EncodeToString(hash[:8])
}

// Register tracks a new upload attempt and returns its cancellation context.
// Re-registering an id that is still active returns ErrUploadActive.
func (r *Registry) Register(matchID int64, filePath string, size int64) (*UploadInfo, context.Context, context.CancelFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.generateID(matchID, filePath)

	if existing, ok := r.uploads[id]; ok {
		existing.mu.RLock()
		status := existing.info.Status
		existing.mu.RUnlock()
		if status == UploadStatusActive {
			return nil, nil, nil, ErrUploadActive
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	info := &UploadInfo{
		ID:        id,
		MatchID:   matchID,
		FilePath:  filePath,
		Status:    UploadStatusActive,
		Size:      size,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	r.uploads[id] = &registryEntry{info: info, cancel: cancel}

	snapshot := *info
	return &snapshot, ctx, cancel, nil
}

// UpdateProgress folds an orchestrator progress sample into the entry.
func (r *Registry) UpdateProgress(id string, progress Progress) {
	entry := r.entry(id)
	if entry == nil {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.info.UploadedBytes = progress.UploadedBytes
	entry.info.CompletedParts = progress.CompletedParts
	entry.info.TotalParts = progress.TotalParts
	entry.info.Progress = progress.Percent()
	entry.info.UpdatedAt = time.Now()
}

func (r *Registry) SetCompleted(id string) {
	entry := r.entry(id)
	if entry == nil {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.info.Status = UploadStatusCompleted
	entry.info.Progress = 100.0
	entry.info.UploadedBytes = entry.info.Size
	entry.info.UpdatedAt = time.Now()
}

func (r *Registry) SetError(id string, err error) {
	entry := r.entry(id)
	if entry == nil {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if IsCancellation(err) {
		entry.info.Status = UploadStatusCancelled
	} else {
		entry.info.Status = UploadStatusError
		if err != nil {
			entry.info.Error = err.Error()
		}
	}
	entry.info.UpdatedAt = time.Now()
}

// Cancel fires the shared cancellation signal of an active upload. The
// persisted session is left intact for a later resume.
func (r *Registry) Cancel(id string) error {
	entry := r.entry(id)
	if entry == nil {
		return ErrPlanNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.cancel != nil {
		entry.cancel()
	}
	entry.info.Status = UploadStatusCancelled
	entry.info.UpdatedAt = time.Now()
	return nil
}

func (r *Registry) Get(id string) (*UploadInfo, error) {
	entry := r.entry(id)
	if entry == nil {
		return nil, ErrPlanNotFound
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	snapshot := *entry.info
	return &snapshot, nil
}

// List returns snapshots of all tracked uploads.
func (r *Registry) List() []*UploadInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]*UploadInfo, 0, len(r.uploads))
	for _, entry := range r.uploads {
		entry.mu.RLock()
		snapshot := *entry.info
		entry.mu.RUnlock()
		infos = append(infos, &snapshot)
	}
	return infos
}

// LoadFromStore surfaces persisted sessions as resumable entries, without a
// live cancellation context. They get one when re-registered.
func (r *Registry) LoadFromStore() error {
	if r.store == nil {
		return nil
	}

	plans, err := r.store.List()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, plan := range plans {
		id := r.generateID(plan.MatchID, plan.FileName)
		if _, ok := r.uploads[id]; ok {
			continue
		}

		info := &UploadInfo{
			ID:             id,
			MatchID:        plan.MatchID,
			FilePath:       plan.FileName,
			Status:         UploadStatusResumable,
			Size:           plan.FileSize,
			UploadedBytes:  plan.UploadedBytes(),
			CompletedParts: plan.CompletedParts,
			TotalParts:     len(plan.Parts),
			UpdatedAt:      plan.LastUpdated,
		}
		if info.Size > 0 {
			info.Progress = float64(info.UploadedBytes) / float64(info.Size) * 100.0
		}
		r.uploads[id] = &registryEntry{info: info}
	}

	return nil
}

// Close cancels every active upload.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.uploads {
		entry.mu.Lock()
		if entry.cancel != nil {
			entry.cancel()
		}
		entry.mu.Unlock()
	}
	r.uploads = make(map[string]*registryEntry)
}

func (r *Registry) entry(id string) *registryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.uploads[id]
}
