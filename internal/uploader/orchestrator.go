package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pitchbox/pitchbox/internal/sdk"
)

const (
	// DefaultConcurrency bounds in-flight part uploads.
	DefaultConcurrency = 5

	// SingleUploadThreshold is the size at or below which a file goes up in
	// one request instead of engaging the multipart machinery.
	SingleUploadThreshold = int64(32 * 1024 * 1024)
)

// UseSingleUpload reports whether a file of the given size should take the
// single-request path. Zero-byte files go through the multipart flow, which
// finalizes an empty plan; the single endpoint rejects empty bodies.
func UseSingleUpload(fileSize int64) bool {
	return fileSize > 0 && fileSize <= SingleUploadThreshold
}

// State of one upload attempt.
type State string

const (
	StateIdle          State = "idle"
	StateInitializing  State = "initializing"
	StateReconciling   State = "reconciling"
	StateTransferring  State = "transferring"
	StateRetryingParts State = "retrying_parts"
	StateFinalizing    State = "finalizing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateCancelled     State = "cancelled"
)

// SessionClient is the slice of the upload-session service the orchestrator
// needs. *sdk.UploadAPI implements it.
type SessionClient interface {
	Init(ctx context.Context, params *sdk.InitUploadParams) (*sdk.InitUploadResponse, error)
	Status(ctx context.Context, uploadID string) (*sdk.UploadStatusResponse, error)
	UploadPart(ctx context.Context, params *sdk.UploadPartParams) (*sdk.UploadPartResponse, error)
	Complete(ctx context.Context, params *sdk.CompleteUploadParams) (*sdk.CompleteUploadResponse, error)
}

// VideoClient covers the transcode and analysis collaborators. *sdk.VideoAPI
// implements it.
type VideoClient interface {
	Transcode(ctx context.Context, params *sdk.TranscodeParams) (*sdk.TranscodeResponse, error)
	Analyze(ctx context.Context, params *sdk.AnalyzeParams) (*sdk.AnalyzeResponse, error)
}

// UploadRequest is one user-submitted match video upload.
type UploadRequest struct {
	MatchID         int64
	FilePath        string
	Provider        string
	LeftSideTeam    string // which team defends the left half: "home" or "away"
	TeamLeftID      int64
	TeamRightID     int64
	AttackDirection string
	Transcode       bool
	Normalize       bool
}

// Options tune one orchestrator. Zero values pick the defaults.
type Options struct {
	Concurrency    int
	PartRetries    int
	RetryBaseDelay time.Duration
	PartTimeout    time.Duration
	// ChunkSize proposed to the server; 0 means adaptive. The server's
	// answer wins either way.
	ChunkSize  int64
	OnProgress func(Progress)
	OnState    func(State)
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.PartRetries <= 0 {
		o.PartRetries = DefaultRetryAttempts
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	return o
}

// Result of a completed upload flow.
type Result struct {
	UploadID  string
	VideoPath string
	Analysis  *sdk.Analysis
	// AnalyzeErr is set when the upload finished but the analysis
	// submission failed.
	AnalyzeErr error
}

// Orchestrator drives one upload attempt through the
// initialize → reconcile → transfer → finalize flow, with bounded-parallel
// part transfer and resume support. It owns the plan exclusively for the
// duration of the attempt.
type Orchestrator struct {
	session SessionClient
	video   VideoClient
	store   PlanStore
	opts    Options

	mu      sync.Mutex
	state   State
	plan    *UploadPlan
	tracker *ProgressTracker
}

func New(session SessionClient, video VideoClient, store PlanStore, opts Options) *Orchestrator {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Orchestrator{
		session: session,
		video:   video,
		store:   store,
		opts:    opts.withDefaults(),
		state:   StateIdle,
	}
}

// State returns the current state of the attempt.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Plan returns a snapshot of the active plan, or nil before initialization.
func (o *Orchestrator) Plan() *UploadPlan {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.plan == nil {
		return nil
	}
	return o.plan.Clone()
}

// Run executes the full flow for one request. Cancellation of ctx aborts
// in-flight transfers and leaves the persisted plan intact for a later
// resume; every other failure is surfaced per the taxonomy in errors.go.
//
// A resumed session the server has since forgotten is not an error the user
// can act on: the stale plan is discarded and the upload restarts with a
// fresh session.
func (o *Orchestrator) Run(ctx context.Context, req *UploadRequest) (*Result, error) {
	if err := ValidateRequest(req); err != nil {
		o.setState(StateFailed)
		return nil, err
	}

	file, err := os.Open(req.FilePath)
	if err != nil {
		o.setState(StateFailed)
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		o.setState(StateFailed)
		return nil, fmt.Errorf("stat video: %w", err)
	}

	videoPath, resumed, err := o.attempt(ctx, req, file, info.Size(), true)
	if err != nil && resumed && ctx.Err() == nil && isSessionGone(err) {
		slog.Warn("stored session unknown to server, restarting fresh", "error", err)
		o.discardPlan()
		videoPath, _, err = o.attempt(ctx, req, file, info.Size(), false)
	}
	if err != nil {
		return nil, o.fail(ctx, err)
	}

	o.setState(StateCompleted)
	return o.postProcess(ctx, req, videoPath), nil
}

// attempt drives one initialize → reconcile → transfer → finalize pass and
// reports whether it ran against a resumed session.
func (o *Orchestrator) attempt(ctx context.Context, req *UploadRequest, file *os.File, fileSize int64, allowResume bool) (string, bool, error) {
	o.setState(StateInitializing)

	fileName := filepath.Base(req.FilePath)
	plan, resumed, err := o.initialize(ctx, req.MatchID, fileName, fileSize, allowResume)
	if err != nil {
		return "", resumed, err
	}

	o.mu.Lock()
	o.plan = plan
	o.tracker = NewProgressTracker(plan.FileSize, len(plan.Parts), time.Now())
	o.mu.Unlock()

	o.setState(StateReconciling)
	if err := o.reconcile(ctx, resumed); err != nil {
		return "", resumed, err
	}

	o.setState(StateTransferring)
	if err := o.transfer(ctx, file, o.pendingParts()); err != nil {
		var partsErr *PartsFailedError
		if errors.As(err, &partsErr) {
			// One explicit second pass over exactly the stubborn parts.
			o.setState(StateRetryingParts)
			err = o.transfer(ctx, file, o.partsByNumber(partsErr.Parts))
		}
		if err != nil {
			return "", resumed, err
		}
	}

	o.setState(StateFinalizing)
	videoPath, err := o.finalize(ctx)
	if err != nil {
		return "", resumed, err
	}
	return videoPath, resumed, nil
}

// RunSingle uploads a small file in one request, then runs the same
// post-processing as the multipart flow.
func (o *Orchestrator) RunSingle(ctx context.Context, req *UploadRequest, single func(ctx context.Context) (string, error)) (*Result, error) {
	if err := ValidateRequest(req); err != nil {
		o.setState(StateFailed)
		return nil, err
	}

	o.setState(StateTransferring)
	videoPath, err := single(ctx)
	if err != nil {
		return nil, o.fail(ctx, err)
	}

	o.setState(StateCompleted)
	return o.postProcess(ctx, req, videoPath), nil
}

// initialize loads a resumable plan for the same match/file, or creates a
// fresh one through the session service.
func (o *Orchestrator) initialize(ctx context.Context, matchID int64, fileName string, fileSize int64, allowResume bool) (*UploadPlan, bool, error) {
	if allowResume {
		if plan, err := o.store.Find(matchID, fileName, fileSize); err == nil {
			slog.Info("resuming upload session", "uploadId", plan.UploadID, "completed", plan.CompletedParts, "parts", len(plan.Parts))
			return plan, true, nil
		}
	}

	chunkSize := o.opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = AdaptiveChunkSize(fileSize)
	}

	resp, err := o.session.Init(ctx, &sdk.InitUploadParams{
		MatchID:   matchID,
		FileName:  fileName,
		FileSize:  fileSize,
		ChunkSize: chunkSize,
	})
	if err != nil {
		return nil, false, err
	}

	plan := NewPlan(matchID, fileName, fileSize, chunkSize)
	plan.UploadID = resp.UploadID
	if resp.ChunkSize != chunkSize {
		// Server is authoritative on chunk size.
		if err := plan.Rechunk(resp.ChunkSize); err != nil {
			return nil, false, err
		}
	}

	o.persist(plan)
	return plan, false, nil
}

// reconcile folds the server-known parts into the plan so they are not
// re-transferred. With no prior state this is a pass-through.
func (o *Orchestrator) reconcile(ctx context.Context, resumed bool) error {
	o.mu.Lock()
	uploadID := o.plan.UploadID
	o.mu.Unlock()

	status, err := o.session.Status(ctx, uploadID)
	if err != nil {
		if resumed {
			return err
		}
		// A fresh session with no status data simply has no parts yet.
		slog.Debug("upload status unavailable, assuming empty", "uploadId", uploadID, "error", err)
		return nil
	}

	o.mu.Lock()
	before := o.plan.CompletedParts
	o.plan.Reconcile(status.UploadedParts, status.ETags)
	after := o.plan.CompletedParts
	snapshot := o.plan.Clone()
	o.mu.Unlock()

	if after > before {
		slog.Info("reconciled parts from server", "uploadId", uploadID, "skipped", after-before)
	}
	o.persist(snapshot)
	return nil
}

// transfer uploads the given parts with a bounded worker pool. Workers claim
// parts from a shared queue, so no part is claimed twice. Exhausted retries
// for one part never abort the pass; the failed parts come back in a
// *PartsFailedError.
func (o *Orchestrator) transfer(ctx context.Context, file *os.File, parts []*PartDescriptor) error {
	if len(parts) == 0 {
		return ctx.Err()
	}

	queue := make(chan *PartDescriptor)

	var failMu sync.Mutex
	var failed []int
	var lastErr error

	g, gctx := errgroup.WithContext(ctx)

	workers := o.opts.Concurrency
	if workers > len(parts) {
		workers = len(parts)
	}

	for range workers {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case part, ok := <-queue:
					if !ok {
						return nil
					}
					etag, err := o.uploadPart(gctx, file, part)
					if err != nil {
						if gctx.Err() != nil {
							return gctx.Err()
						}
						slog.Warn("part failed after retries", "part", part.PartNumber, "error", err)
						failMu.Lock()
						failed = append(failed, part.PartNumber)
						lastErr = err
						failMu.Unlock()
						continue
					}
					o.completePart(part.PartNumber, etag)
				}
			}
		})
	}

	g.Go(func() error {
		defer close(queue)
		for _, part := range parts {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case queue <- part:
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if len(failed) > 0 {
		return &PartsFailedError{Parts: failed, LastErr: lastErr}
	}
	return nil
}

// uploadPart transfers one byte range through the retry policy. The section
// reader is rebuilt per attempt so retries start from the part boundary.
func (o *Orchestrator) uploadPart(ctx context.Context, file *os.File, part *PartDescriptor) (string, error) {
	o.mu.Lock()
	uploadID := o.plan.UploadID
	o.mu.Unlock()

	var etag string
	err := Retry(ctx, o.opts.PartRetries, o.opts.RetryBaseDelay, func() error {
		resp, err := o.session.UploadPart(ctx, &sdk.UploadPartParams{
			UploadID:   uploadID,
			PartNumber: part.PartNumber,
			Body:       io.NewSectionReader(file, part.Start, part.Size()),
			Size:       part.Size(),
			Timeout:    o.opts.PartTimeout,
		})
		if err != nil {
			return err
		}
		etag = resp.ETag
		return nil
	}, retriablePartError)

	return etag, err
}

// completePart records an acknowledged part, persists the plan and publishes
// a progress sample. The snapshot is taken under the lock so the store never
// serializes a plan another worker is mutating.
func (o *Orchestrator) completePart(partNumber int, etag string) {
	o.mu.Lock()
	o.plan.MarkUploaded(partNumber, etag)
	snapshot := o.plan.Clone()
	progress := o.tracker.Sample(snapshot.UploadedBytes(), snapshot.CompletedParts, time.Now())
	o.mu.Unlock()

	o.persist(snapshot)

	if o.opts.OnProgress != nil {
		o.opts.OnProgress(progress)
	}
}

// finalize submits the ordered (partNumber, etag) list. Persisted state is
// cleared only after the server confirms assembly, so a failed finalize stays
// resumable.
func (o *Orchestrator) finalize(ctx context.Context) (string, error) {
	o.mu.Lock()
	plan := o.plan
	if !plan.Complete() {
		pending := len(plan.Parts) - plan.CompletedParts
		o.mu.Unlock()
		return "", fmt.Errorf("finalize: %d part(s) still pending", pending)
	}

	parts := make([]*sdk.CompletedPart, 0, len(plan.Parts))
	for _, part := range plan.Parts {
		parts = append(parts, &sdk.CompletedPart{PartNumber: part.PartNumber, ETag: part.ETag})
	}
	uploadID := plan.UploadID
	fileName := plan.FileName
	matchID := plan.MatchID
	o.mu.Unlock()

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	resp, err := o.session.Complete(ctx, &sdk.CompleteUploadParams{
		UploadID: uploadID,
		FileName: fileName,
		Parts:    parts,
	})
	if err != nil {
		return "", err
	}

	if err := o.store.Clear(matchID, uploadID); err != nil {
		slog.Warn("clear upload session", "uploadId", uploadID, "error", err)
	}
	return resp.VideoPath, nil
}

// postProcess runs the best-effort transcode and the analysis submission.
// Transcode failure downgrades to the original path; it never fails the flow.
func (o *Orchestrator) postProcess(ctx context.Context, req *UploadRequest, videoPath string) *Result {
	result := &Result{VideoPath: videoPath}
	o.mu.Lock()
	if o.plan != nil {
		result.UploadID = o.plan.UploadID
	}
	o.mu.Unlock()

	if o.video == nil {
		return result
	}

	if req.Transcode {
		resp, err := o.video.Transcode(ctx, &sdk.TranscodeParams{VideoPath: videoPath})
		if err != nil {
			slog.Warn("transcode failed, analyzing original", "videoPath", videoPath, "error", err)
		} else {
			result.VideoPath = resp.VideoPath
		}
	}

	analysis, err := o.video.Analyze(ctx, &sdk.AnalyzeParams{
		VideoPath:       result.VideoPath,
		Provider:        req.Provider,
		LeftSideTeam:    req.LeftSideTeam,
		TeamLeftID:      req.TeamLeftID,
		TeamRightID:     req.TeamRightID,
		AttackDirection: req.AttackDirection,
		Normalize:       req.Normalize,
	})
	if err != nil {
		result.AnalyzeErr = err
		return result
	}
	result.Analysis = analysis.Analysis
	return result
}

func (o *Orchestrator) pendingParts() []*PartDescriptor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.plan.PendingParts()
}

func (o *Orchestrator) partsByNumber(numbers []int) []*PartDescriptor {
	o.mu.Lock()
	defer o.mu.Unlock()
	parts := make([]*PartDescriptor, 0, len(numbers))
	sort.Ints(numbers)
	for _, n := range numbers {
		if part := o.plan.Part(n); part != nil && !part.Uploaded {
			parts = append(parts, part)
		}
	}
	return parts
}

// discardPlan drops the stored plan for a session the server no longer knows,
// so the next attempt starts clean instead of hitting the same wall.
func (o *Orchestrator) discardPlan() {
	o.mu.Lock()
	plan := o.plan
	o.plan = nil
	o.tracker = nil
	o.mu.Unlock()

	if plan == nil {
		return
	}
	if err := o.store.Clear(plan.MatchID, plan.UploadID); err != nil {
		slog.Warn("clear stale upload session", "uploadId", plan.UploadID, "error", err)
	}
}

// isSessionGone reports whether err means the server has no record of the
// upload session the client is working against.
func isSessionGone(err error) bool {
	var partErr *sdk.PartUploadError
	if errors.As(err, &partErr) {
		return partErr.StatusCode == http.StatusNotFound
	}
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == sdk.CodeUploadNotFound
	}
	return false
}

// fail resolves the terminal state for an error: cancellation is its own
// non-error terminal state and keeps the session resumable.
func (o *Orchestrator) fail(ctx context.Context, err error) error {
	if IsCancellation(err) || ctx.Err() != nil {
		o.setState(StateCancelled)
		if ctx.Err() != nil && !IsCancellation(err) {
			return ctx.Err()
		}
		return err
	}
	o.setState(StateFailed)
	return err
}

func (o *Orchestrator) setState(state State) {
	o.mu.Lock()
	prev := o.state
	o.state = state
	o.mu.Unlock()
	if prev != state {
		slog.Debug("upload state", "from", prev, "to", state)
		if o.opts.OnState != nil {
			o.opts.OnState(state)
		}
	}
}

// persist saves the plan, degrading to in-memory-only on storage errors. The
// upload itself never fails because the session file could not be written.
func (o *Orchestrator) persist(plan *UploadPlan) {
	if err := o.store.Save(plan); err != nil {
		slog.Warn("persist upload session", "uploadId", plan.UploadID, "error", err)
	}
}

func retriablePartError(err error) bool {
	var partErr *sdk.PartUploadError
	if errors.As(err, &partErr) {
		return partErr.Retriable()
	}
	return true
}
