package uploader

import (
	"fmt"
	"time"
)

const (
	// MinChunkSize keeps request overhead sane for small files.
	MinChunkSize = int64(5 * 1024 * 1024)
	// MaxChunkSize bounds per-request memory and server body limits.
	MaxChunkSize = int64(128 * 1024 * 1024)
	// DefaultChunkSize is used when the caller doesn't propose one.
	DefaultChunkSize = int64(10 * 1024 * 1024)

	// MaxParts caps the part count for very large files.
	MaxParts = 10000

	// MaxFileSize is the server-enforced upload cap, checked client-side too.
	MaxFileSize = int64(2 * 1024 * 1024 * 1024)
)

// PartDescriptor is one contiguous byte range [Start, End) of the source file,
// uploaded as an independent request.
type PartDescriptor struct {
	PartNumber int    `json:"partNumber"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
	Uploaded   bool   `json:"uploaded"`
	ETag       string `json:"etag,omitempty"`
}

// Size returns the byte length of the part.
func (p *PartDescriptor) Size() int64 {
	return p.End - p.Start
}

// UploadPlan holds everything needed to transfer one file and to resume the
// transfer after an interruption. UploadID, FileName, FileSize, ChunkSize and
// the partition boundaries are fixed at creation; only the per-part completion
// state, CompletedParts and LastUpdated mutate.
type UploadPlan struct {
	UploadID       string            `json:"uploadId"`
	MatchID        int64             `json:"matchId"`
	FileName       string            `json:"fileName"`
	FileSize       int64             `json:"fileSize"`
	ChunkSize      int64             `json:"chunkSize"`
	Parts          []*PartDescriptor `json:"parts"`
	CompletedParts int               `json:"completedParts"`
	LastUpdated    time.Time         `json:"lastUpdated"`
}

// AdaptiveChunkSize picks a chunk size for the given file size. Larger files
// get larger chunks, clamped to [MinChunkSize, MaxChunkSize], then doubled
// until the part count fits under MaxParts.
func AdaptiveChunkSize(fileSize int64) int64 {
	chunkSize := fileSize / 200
	if chunkSize < MinChunkSize {
		chunkSize = MinChunkSize
	}
	if chunkSize > MaxChunkSize {
		chunkSize = MaxChunkSize
	}

	for partCount(fileSize, chunkSize) > MaxParts {
		chunkSize *= 2
	}

	return chunkSize
}

// PlanParts partitions [0, fileSize) into ordered, contiguous part stubs.
// A zero fileSize yields an empty part list. A non-positive chunkSize falls
// back to the adaptive policy.
func PlanParts(fileSize, chunkSize int64) []*PartDescriptor {
	if fileSize <= 0 {
		return []*PartDescriptor{}
	}
	if chunkSize <= 0 {
		chunkSize = AdaptiveChunkSize(fileSize)
	}

	parts := make([]*PartDescriptor, 0, partCount(fileSize, chunkSize))
	for start := int64(0); start < fileSize; start += chunkSize {
		end := start + chunkSize
		if end > fileSize {
			end = fileSize
		}
		parts = append(parts, &PartDescriptor{
			PartNumber: len(parts) + 1,
			Start:      start,
			End:        end,
		})
	}
	return parts
}

// NewPlan builds a fresh plan for the given file. The plan has no UploadID
// until the session service issues one.
func NewPlan(matchID int64, fileName string, fileSize, chunkSize int64) *UploadPlan {
	if chunkSize <= 0 {
		chunkSize = AdaptiveChunkSize(fileSize)
	}
	return &UploadPlan{
		MatchID:     matchID,
		FileName:    fileName,
		FileSize:    fileSize,
		ChunkSize:   chunkSize,
		Parts:       PlanParts(fileSize, chunkSize),
		LastUpdated: time.Now().UTC(),
	}
}

// Rechunk rebuilds the partition with a server-adjusted chunk size. It must
// only be called before any part has been uploaded.
func (p *UploadPlan) Rechunk(chunkSize int64) error {
	if p.CompletedParts > 0 {
		return fmt.Errorf("plan %s: cannot rechunk with %d completed parts", p.UploadID, p.CompletedParts)
	}
	p.ChunkSize = chunkSize
	p.Parts = PlanParts(p.FileSize, chunkSize)
	p.LastUpdated = time.Now().UTC()
	return nil
}

// Clone returns a deep copy that is safe to read or serialize while the
// original keeps mutating under its owner's lock.
func (p *UploadPlan) Clone() *UploadPlan {
	clone := *p
	clone.Parts = make([]*PartDescriptor, len(p.Parts))
	for i, part := range p.Parts {
		cp := *part
		clone.Parts[i] = &cp
	}
	return &clone
}

// Part returns the descriptor for a 1-based part number, or nil if out of range.
func (p *UploadPlan) Part(partNumber int) *PartDescriptor {
	if partNumber < 1 || partNumber > len(p.Parts) {
		return nil
	}
	return p.Parts[partNumber-1]
}

// MarkUploaded records a server-acknowledged part. The false→true transition
// happens at most once; repeat calls only refresh the etag.
func (p *UploadPlan) MarkUploaded(partNumber int, etag string) bool {
	part := p.Part(partNumber)
	if part == nil {
		return false
	}
	if etag != "" {
		part.ETag = etag
	}
	p.LastUpdated = time.Now().UTC()
	if part.Uploaded {
		return false
	}
	part.Uploaded = true
	p.CompletedParts++
	return true
}

// Reconcile marks the server-known parts as uploaded without re-transferring
// them. Etags the server reports win over locally recorded ones. Calling it
// twice with the same input is a no-op the second time.
func (p *UploadPlan) Reconcile(uploadedParts []int, etags map[int]string) {
	for _, partNumber := range uploadedParts {
		p.MarkUploaded(partNumber, etags[partNumber])
	}
}

// PendingParts returns the parts not yet acknowledged, in part-number order.
func (p *UploadPlan) PendingParts() []*PartDescriptor {
	pending := make([]*PartDescriptor, 0, len(p.Parts)-p.CompletedParts)
	for _, part := range p.Parts {
		if !part.Uploaded {
			pending = append(pending, part)
		}
	}
	return pending
}

// Complete reports whether every part has been acknowledged. A zero-part plan
// is complete by definition.
func (p *UploadPlan) Complete() bool {
	return p.CompletedParts == len(p.Parts)
}

// UploadedBytes sums the sizes of acknowledged parts.
func (p *UploadPlan) UploadedBytes() int64 {
	var total int64
	for _, part := range p.Parts {
		if part.Uploaded {
			total += part.Size()
		}
	}
	return total
}

func partCount(fileSize, chunkSize int64) int64 {
	if chunkSize <= 0 {
		return 0
	}
	count := fileSize / chunkSize
	if fileSize%chunkSize != 0 {
		count++
	}
	return count
}
