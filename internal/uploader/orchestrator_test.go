package uploader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchbox/pitchbox/internal/sdk"
)

type fakeSession struct {
	mu sync.Mutex

	initCalls int
	chunkSize int64 // returned by Init; 0 echoes the request

	statusParts []int
	statusEtags map[int]string
	statusErr   error

	partCalls map[int]int
	received  map[int][]byte
	partFail  map[int]int // remaining failures per part; -1 fails forever
	partErr   error       // error used for injected failures
	onPart    func(partNumber int)

	// rejectUploadID simulates a server that expired the session: parts and
	// finalize for this upload id answer 404.
	rejectUploadID string

	completeCalls  int
	completeParams *sdk.CompleteUploadParams
	completeErr    error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		partCalls: make(map[int]int),
		received:  make(map[int][]byte),
		partFail:  make(map[int]int),
	}
}

func (f *fakeSession) Init(ctx context.Context, params *sdk.InitUploadParams) (*sdk.InitUploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	chunkSize := f.chunkSize
	if chunkSize == 0 {
		chunkSize = params.ChunkSize
	}
	return &sdk.InitUploadResponse{OK: true, UploadID: "fake-upload", ChunkSize: chunkSize}, nil
}

func (f *fakeSession) Status(ctx context.Context, uploadID string) (*sdk.UploadStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &sdk.UploadStatusResponse{
		OK:            true,
		UploadID:      uploadID,
		UploadedParts: f.statusParts,
		ETags:         f.statusEtags,
	}, nil
}

func (f *fakeSession) UploadPart(ctx context.Context, params *sdk.UploadPartParams) (*sdk.UploadPartResponse, error) {
	f.mu.Lock()
	f.partCalls[params.PartNumber]++
	if f.rejectUploadID != "" && params.UploadID == f.rejectUploadID {
		f.mu.Unlock()
		return nil, &sdk.PartUploadError{PartNumber: params.PartNumber, StatusCode: 404, Message: "unknown upload session"}
	}
	remaining := f.partFail[params.PartNumber]
	if remaining != 0 {
		if remaining > 0 {
			f.partFail[params.PartNumber]--
		}
		err := f.partErr
		if err == nil {
			err = &sdk.PartUploadError{PartNumber: params.PartNumber, StatusCode: 503}
		}
		hook := f.onPart
		f.mu.Unlock()
		if hook != nil {
			hook(params.PartNumber)
		}
		return nil, err
	}
	f.mu.Unlock()

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.received[params.PartNumber] = data
	hook := f.onPart
	f.mu.Unlock()
	if hook != nil {
		hook(params.PartNumber)
	}

	return &sdk.UploadPartResponse{OK: true, ETag: etagFor(params.PartNumber)}, nil
}

func (f *fakeSession) Complete(ctx context.Context, params *sdk.CompleteUploadParams) (*sdk.CompleteUploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	f.completeParams = params
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &sdk.CompleteUploadResponse{OK: true, VideoPath: "videos/7/fake-upload.mp4"}, nil
}

func (f *fakeSession) calls(partNumber int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.partCalls[partNumber]
}

func (f *fakeSession) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.partCalls {
		total += n
	}
	return total
}

func etagFor(partNumber int) string {
	return "etag-" + strconv.Itoa(partNumber)
}

type fakeVideo struct {
	mu             sync.Mutex
	transcodeErr   error
	transcodedPath string
	analyzeErr     error
	analyzeCalls   int
	lastAnalyze    *sdk.AnalyzeParams
}

func (f *fakeVideo) Transcode(ctx context.Context, params *sdk.TranscodeParams) (*sdk.TranscodeResponse, error) {
	if f.transcodeErr != nil {
		return nil, f.transcodeErr
	}
	path := f.transcodedPath
	if path == "" {
		path = params.VideoPath
	}
	return &sdk.TranscodeResponse{OK: true, VideoPath: path}, nil
}

func (f *fakeVideo) Analyze(ctx context.Context, params *sdk.AnalyzeParams) (*sdk.AnalyzeResponse, error) {
	f.mu.Lock()
	f.analyzeCalls++
	f.lastAnalyze = params
	f.mu.Unlock()
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return &sdk.AnalyzeResponse{
		OK:       true,
		Analysis: &sdk.Analysis{Provider: params.Provider, Events: []*sdk.MatchEvent{{Type: "goal", Minute: 23}}},
	}, nil
}

func writeTempVideo(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "match.mp4")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func testRequest(filePath string) *UploadRequest {
	return &UploadRequest{
		MatchID:      7,
		FilePath:     filePath,
		Provider:     "pitchbox",
		LeftSideTeam: SideHome,
		TeamLeftID:   1,
		TeamRightID:  2,
	}
}

func testOptions(chunkSize int64) Options {
	return Options{
		ChunkSize:      chunkSize,
		RetryBaseDelay: 1, // nanosecond backoff keeps tests fast
	}
}

func TestOrchestrator_HappyPath(t *testing.T) {
	filePath := writeTempVideo(t, 25)
	session := newFakeSession()
	video := &fakeVideo{}
	store := NewMemoryStore()

	var states []State
	orc := New(session, video, store, Options{
		ChunkSize:      10,
		RetryBaseDelay: 1,
		OnState:        func(s State) { states = append(states, s) },
	})

	result, err := orc.Run(context.Background(), testRequest(filePath))
	require.NoError(t, err)

	assert.Equal(t, "fake-upload", result.UploadID)
	assert.Equal(t, "videos/7/fake-upload.mp4", result.VideoPath)
	require.NotNil(t, result.Analysis)
	assert.Len(t, result.Analysis.Events, 1)

	// Every part uploaded exactly once.
	for partNumber := 1; partNumber <= 3; partNumber++ {
		assert.Equal(t, 1, session.calls(partNumber), "part %d", partNumber)
	}

	// Received parts reassemble the exact source bytes.
	original, _ := os.ReadFile(filePath)
	var assembled bytes.Buffer
	for partNumber := 1; partNumber <= 3; partNumber++ {
		assembled.Write(session.received[partNumber])
	}
	assert.Equal(t, original, assembled.Bytes())

	// Finalize got all parts in ascending order with their etags.
	require.NotNil(t, session.completeParams)
	require.Len(t, session.completeParams.Parts, 3)
	for i, part := range session.completeParams.Parts {
		assert.Equal(t, i+1, part.PartNumber)
		assert.Equal(t, etagFor(i+1), part.ETag)
	}

	// Session cleared after a confirmed finalize.
	_, err = store.Load(7, "fake-upload")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	assert.Equal(t, StateCompleted, orc.State())
	assert.Equal(t, []State{
		StateInitializing, StateReconciling, StateTransferring, StateFinalizing, StateCompleted,
	}, states)
}

func TestOrchestrator_ProgressMonotonic(t *testing.T) {
	filePath := writeTempVideo(t, 50)
	session := newFakeSession()
	store := NewMemoryStore()

	var mu sync.Mutex
	var samples []Progress
	opts := testOptions(10)
	// One worker keeps the sample order deterministic.
	opts.Concurrency = 1
	opts.OnProgress = func(p Progress) {
		mu.Lock()
		samples = append(samples, p)
		mu.Unlock()
	}

	orc := New(session, nil, store, opts)
	_, err := orc.Run(context.Background(), testRequest(filePath))
	require.NoError(t, err)

	require.Len(t, samples, 5)
	var lastBytes int64
	for _, p := range samples {
		assert.GreaterOrEqual(t, p.UploadedBytes, lastBytes)
		assert.Equal(t, int64(50), p.TotalBytes)
		assert.Equal(t, 5, p.TotalParts)
		lastBytes = p.UploadedBytes
	}
	assert.Equal(t, int64(50), lastBytes)
}

func TestOrchestrator_NoDuplicateClaimsUnderConcurrency(t *testing.T) {
	filePath := writeTempVideo(t, 200)
	session := newFakeSession()
	store := NewMemoryStore()

	opts := testOptions(10)
	opts.Concurrency = 5

	orc := New(session, nil, store, opts)
	_, err := orc.Run(context.Background(), testRequest(filePath))
	require.NoError(t, err)

	for partNumber := 1; partNumber <= 20; partNumber++ {
		assert.Equal(t, 1, session.calls(partNumber), "part %d claimed more than once", partNumber)
	}
}

func TestOrchestrator_ConcurrentCompletionsPersistSafely(t *testing.T) {
	filePath := writeTempVideo(t, 200)
	session := newFakeSession()
	store := NewMemoryStore()

	opts := testOptions(10)
	opts.Concurrency = 5
	// Read the store while workers are still completing parts; the persisted
	// snapshots must never be mutated under a reader.
	opts.OnProgress = func(p Progress) {
		plans, err := store.List()
		assert.NoError(t, err)
		for _, plan := range plans {
			_ = plan.UploadedBytes()
		}
	}

	orc := New(session, nil, store, opts)
	_, err := orc.Run(context.Background(), testRequest(filePath))
	require.NoError(t, err)

	for partNumber := 1; partNumber <= 20; partNumber++ {
		assert.Equal(t, 1, session.calls(partNumber), "part %d", partNumber)
	}
	assert.Equal(t, 1, session.completeCalls)
}

func TestOrchestrator_PlanReturnsSnapshot(t *testing.T) {
	filePath := writeTempVideo(t, 25)
	session := newFakeSession()
	orc := New(session, nil, NewMemoryStore(), testOptions(10))

	_, err := orc.Run(context.Background(), testRequest(filePath))
	require.NoError(t, err)

	snapshot := orc.Plan()
	require.NotNil(t, snapshot)
	snapshot.Parts[0].Uploaded = false
	snapshot.CompletedParts = 0

	again := orc.Plan()
	assert.True(t, again.Parts[0].Uploaded)
	assert.Equal(t, 3, again.CompletedParts)
}

func TestOrchestrator_ReconcileSkipsServerKnownParts(t *testing.T) {
	filePath := writeTempVideo(t, 25)
	session := newFakeSession()
	session.statusParts = []int{1, 3}
	session.statusEtags = map[int]string{1: "srv-1", 3: "srv-3"}
	store := NewMemoryStore()

	orc := New(session, nil, store, testOptions(10))
	_, err := orc.Run(context.Background(), testRequest(filePath))
	require.NoError(t, err)

	assert.Equal(t, 0, session.calls(1))
	assert.Equal(t, 1, session.calls(2))
	assert.Equal(t, 0, session.calls(3))

	// Finalize mixes server-reported etags with the fresh one.
	require.Len(t, session.completeParams.Parts, 3)
	assert.Equal(t, "srv-1", session.completeParams.Parts[0].ETag)
	assert.Equal(t, etagFor(2), session.completeParams.Parts[1].ETag)
	assert.Equal(t, "srv-3", session.completeParams.Parts[2].ETag)
}

func TestOrchestrator_ResumeSkipsInit(t *testing.T) {
	filePath := writeTempVideo(t, 25)
	session := newFakeSession()
	session.statusParts = []int{1}
	store := NewMemoryStore()

	// A previous attempt persisted this plan.
	prior := NewPlan(7, "match.mp4", 25, 10)
	prior.UploadID = "fake-upload"
	prior.MarkUploaded(1, "e1")
	require.NoError(t, store.Save(prior))

	orc := New(session, nil, store, testOptions(10))
	_, err := orc.Run(context.Background(), testRequest(filePath))
	require.NoError(t, err)

	assert.Equal(t, 0, session.initCalls)
	assert.Equal(t, 0, session.calls(1))
	assert.Equal(t, 1, session.calls(2))
	assert.Equal(t, 1, session.calls(3))
}

func TestOrchestrator_StaleSessionRestartsFresh(t *testing.T) {
	filePath := writeTempVideo(t, 25)
	session := newFakeSession()
	session.rejectUploadID = "expired-upload"
	store := NewMemoryStore()

	// A previous attempt persisted this plan, but the server has since
	// expired the session. Status answers empty, parts answer 404.
	prior := NewPlan(7, "match.mp4", 25, 10)
	prior.UploadID = "expired-upload"
	prior.MarkUploaded(1, "e1")
	require.NoError(t, store.Save(prior))

	orc := New(session, nil, store, testOptions(10))
	result, err := orc.Run(context.Background(), testRequest(filePath))
	require.NoError(t, err)

	// The stale plan was discarded and a fresh session carried the upload.
	assert.Equal(t, 1, session.initCalls)
	assert.Equal(t, "fake-upload", result.UploadID)
	assert.Equal(t, 1, session.completeCalls)
	assert.Len(t, session.received, 3)

	_, loadErr := store.Load(7, "expired-upload")
	assert.ErrorIs(t, loadErr, ErrPlanNotFound)
}

func TestOrchestrator_ResumedStatusErrorIsFatal(t *testing.T) {
	filePath := writeTempVideo(t, 25)
	session := newFakeSession()
	session.statusErr = errors.New("status down")
	store := NewMemoryStore()

	prior := NewPlan(7, "match.mp4", 25, 10)
	prior.UploadID = "fake-upload"
	require.NoError(t, store.Save(prior))

	orc := New(session, nil, store, testOptions(10))
	_, err := orc.Run(context.Background(), testRequest(filePath))
	require.Error(t, err)
	assert.Equal(t, StateFailed, orc.State())
	assert.Zero(t, session.totalCalls())
}

func TestOrchestrator_FreshSessionToleratesStatusError(t *testing.T) {
	filePath := writeTempVideo(t, 25)
	session := newFakeSession()
	session.statusErr = errors.New("status down")
	store := NewMemoryStore()

	orc := New(session, nil, store, testOptions(10))
	_, err := orc.Run(context.Background(), testRequest(filePath))
	require.NoError(t, err)
	assert.Equal(t, 3, session.totalCalls())
}

func TestOrchestrator_ServerChunkSizeWins(t *testing.T) {
	filePath := writeTempVideo(t, 100)
	session := newFakeSession()
	session.chunkSize = 25
	store := NewMemoryStore()

	orc := New(session, nil, store, testOptions(10))
	_, err := orc.Run(context.Background(), testRequest(filePath))
	require.NoError(t, err)

	assert.Equal(t, 4, session.totalCalls())
	require.Len(t, session.completeParams.Parts, 4)
}

func TestOrchestrator_RetryPassRecoversStubbornParts(t *testing.T) {
	filePath := writeTempVideo(t, 25)
	session := newFakeSession()
	// Part 2 fails the whole first pass (3 attempts), then succeeds in the
	// explicit retry pass.
	session.partFail[2] = DefaultRetryAttempts
	store := NewMemoryStore()

	var states []State
	opts := testOptions(10)
	opts.OnState = func(s State) { states = append(states, s) }

	orc := New(session, nil, store, opts)
	_, err := orc.Run(context.Background(), testRequest(filePath))
	require.NoError(t, err)

	assert.Equal(t, DefaultRetryAttempts+1, session.calls(2))
	assert.Contains(t, states, StateRetryingParts)
	assert.Equal(t, StateCompleted, orc.State())
	assert.Equal(t, 1, session.completeCalls)
}

func TestOrchestrator_ExhaustedPartsFailTheRun(t *testing.T) {
	filePath := writeTempVideo(t, 25)
	session := newFakeSession()
	session.partFail[2] = -1
	store := NewMemoryStore()

	orc := New(session, nil, store, testOptions(10))
	_, err := orc.Run(context.Background(), testRequest(filePath))
	require.Error(t, err)

	var partsErr *PartsFailedError
	require.ErrorAs(t, err, &partsErr)
	assert.Equal(t, []int{2}, partsErr.Parts)

	assert.Equal(t, StateFailed, orc.State())
	assert.Zero(t, session.completeCalls)

	// The session survives for a later resume, with parts 1 and 3 recorded.
	plan, loadErr := store.Load(7, "fake-upload")
	require.NoError(t, loadErr)
	assert.Equal(t, 2, plan.CompletedParts)
}

func TestOrchestrator_NonRetriablePartFailsFast(t *testing.T) {
	filePath := writeTempVideo(t, 25)
	session := newFakeSession()
	session.partFail[2] = -1
	session.partErr = &sdk.PartUploadError{PartNumber: 2, StatusCode: 400, Message: "bad part"}
	store := NewMemoryStore()

	orc := New(session, nil, store, testOptions(10))
	_, err := orc.Run(context.Background(), testRequest(filePath))
	require.Error(t, err)

	// One attempt in the main pass, one in the retry pass. No backoff loops.
	assert.Equal(t, 2, session.calls(2))
}

func TestOrchestrator_CancellationHaltsWork(t *testing.T) {
	filePath := writeTempVideo(t, 50)
	session := newFakeSession()
	store := NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session.onPart = func(partNumber int) {
		cancel() // abort as soon as the first part lands
	}

	opts := testOptions(10)
	opts.Concurrency = 1

	orc := New(session, nil, store, opts)
	_, err := orc.Run(ctx, testRequest(filePath))
	require.Error(t, err)
	assert.True(t, IsCancellation(err))
	assert.Equal(t, StateCancelled, orc.State())

	callsAtCancel := session.totalCalls()
	assert.LessOrEqual(t, callsAtCancel, 2)
	assert.Zero(t, session.completeCalls)

	// No further transfers happen after Run returns.
	assert.Equal(t, callsAtCancel, session.totalCalls())

	// The persisted session remains for a resume.
	_, loadErr := store.Load(7, "fake-upload")
	assert.NoError(t, loadErr)
}

func TestOrchestrator_TranscodeFailureIsNonFatal(t *testing.T) {
	filePath := writeTempVideo(t, 25)
	session := newFakeSession()
	video := &fakeVideo{transcodeErr: errors.New("codec exploded")}
	store := NewMemoryStore()

	req := testRequest(filePath)
	req.Transcode = true

	orc := New(session, video, store, testOptions(10))
	result, err := orc.Run(context.Background(), req)
	require.NoError(t, err)

	// Falls back to the original upload path and still analyzes.
	assert.Equal(t, "videos/7/fake-upload.mp4", result.VideoPath)
	assert.NotNil(t, result.Analysis)
	assert.Equal(t, 1, video.analyzeCalls)
}

func TestOrchestrator_AnalyzeFailureReportedInResult(t *testing.T) {
	filePath := writeTempVideo(t, 25)
	session := newFakeSession()
	video := &fakeVideo{analyzeErr: errors.New("provider down")}
	store := NewMemoryStore()

	orc := New(session, video, store, testOptions(10))
	result, err := orc.Run(context.Background(), testRequest(filePath))
	require.NoError(t, err)

	assert.Nil(t, result.Analysis)
	assert.Error(t, result.AnalyzeErr)
	assert.Equal(t, StateCompleted, orc.State())
}

func TestOrchestrator_ZeroByteFileFinalizesImmediately(t *testing.T) {
	filePath := writeTempVideo(t, 0)
	session := newFakeSession()
	store := NewMemoryStore()

	orc := New(session, nil, store, testOptions(10))
	result, err := orc.Run(context.Background(), testRequest(filePath))
	require.NoError(t, err)

	assert.Zero(t, session.totalCalls())
	assert.Equal(t, 1, session.completeCalls)
	assert.Empty(t, session.completeParams.Parts)
	assert.NotEmpty(t, result.VideoPath)
}

func TestOrchestrator_ValidationFailsBeforeAnyCall(t *testing.T) {
	session := newFakeSession()
	orc := New(session, nil, NewMemoryStore(), testOptions(10))

	req := testRequest("match.txt")
	_, err := orc.Run(context.Background(), req)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, StateFailed, orc.State())
	assert.Zero(t, session.initCalls)
}

func TestUseSingleUpload(t *testing.T) {
	assert.False(t, UseSingleUpload(0), "empty files finalize through the multipart flow")
	assert.True(t, UseSingleUpload(1))
	assert.True(t, UseSingleUpload(SingleUploadThreshold))
	assert.False(t, UseSingleUpload(SingleUploadThreshold+1))
}

func TestOrchestrator_RunSingle(t *testing.T) {
	filePath := writeTempVideo(t, 25)
	video := &fakeVideo{}

	orc := New(newFakeSession(), video, NewMemoryStore(), Options{})
	result, err := orc.RunSingle(context.Background(), testRequest(filePath), func(ctx context.Context) (string, error) {
		return "videos/7/single.mp4", nil
	})
	require.NoError(t, err)

	assert.Equal(t, "videos/7/single.mp4", result.VideoPath)
	assert.NotNil(t, result.Analysis)
	assert.Equal(t, StateCompleted, orc.State())
}

func TestOrchestrator_RunSingleCancelled(t *testing.T) {
	filePath := writeTempVideo(t, 25)

	orc := New(newFakeSession(), nil, NewMemoryStore(), Options{})
	_, err := orc.RunSingle(context.Background(), testRequest(filePath), func(ctx context.Context) (string, error) {
		return "", context.Canceled
	})
	require.Error(t, err)
	assert.True(t, IsCancellation(err))
	assert.Equal(t, StateCancelled, orc.State())
}
