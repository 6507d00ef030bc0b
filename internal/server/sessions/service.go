package sessions

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/pitchbox/pitchbox/internal/uploader"
	"github.com/pitchbox/pitchbox/internal/utils"
)

var (
	ErrFileTooLarge   = errors.New("sessions: file exceeds the upload size limit")
	ErrDiskPressure   = errors.New("sessions: not enough free disk space for upload")
	ErrPartOutOfRange = errors.New("sessions: part number outside session range")
	ErrIncomplete     = errors.New("sessions: upload has missing or mismatched parts")
	ErrCompleted      = errors.New("sessions: upload session already completed")
)

// CompletedPart is a client-acknowledged part at finalize time.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// Service owns server-side upload sessions. Part payloads are staged as
// individual files under dataDir/staging/<uploadID>/ and stitched into
// dataDir/videos/ on completion; part metadata lives in the SQLite store.
type Service struct {
	store        *Store
	dataDir      string
	maxFileSize  int64
	minFreeBytes uint64
}

func NewService(store *Store, dataDir string, maxFileSize int64, minFreeBytes uint64) (*Service, error) {
	if maxFileSize <= 0 {
		maxFileSize = uploader.MaxFileSize
	}
	for _, dir := range []string{stagingRoot(dataDir), videosRoot(dataDir)} {
		if err := utils.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("prepare data dir: %w", err)
		}
	}
	return &Service{
		store:        store,
		dataDir:      dataDir,
		maxFileSize:  maxFileSize,
		minFreeBytes: minFreeBytes,
	}, nil
}

func stagingRoot(dataDir string) string {
	return filepath.Join(dataDir, "staging")
}

func videosRoot(dataDir string) string {
	return filepath.Join(dataDir, "videos")
}

// Init opens a new upload session. The returned chunk size is authoritative;
// a client proposal outside the accepted range is clamped, not rejected.
func (s *Service) Init(ctx context.Context, matchID int64, fileName string, fileSize, chunkSize int64) (*UploadSession, error) {
	if fileSize > s.maxFileSize {
		return nil, ErrFileTooLarge
	}
	if err := s.checkHeadroom(fileSize); err != nil {
		return nil, err
	}

	if chunkSize <= 0 {
		chunkSize = uploader.AdaptiveChunkSize(fileSize)
	}
	if chunkSize < uploader.MinChunkSize {
		chunkSize = uploader.MinChunkSize
	}
	if chunkSize > uploader.MaxChunkSize {
		chunkSize = uploader.MaxChunkSize
	}

	partCount := 0
	if fileSize > 0 {
		partCount = int((fileSize + chunkSize - 1) / chunkSize)
	}

	session := &UploadSession{
		UploadID:  uuid.NewString(),
		MatchID:   matchID,
		FileName:  filepath.Base(fileName),
		FileSize:  fileSize,
		ChunkSize: chunkSize,
		PartCount: partCount,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(s.partDir(session.UploadID)); err != nil {
		return nil, fmt.Errorf("prepare staging dir: %w", err)
	}

	slog.Info("upload session opened",
		"uploadId", session.UploadID,
		"matchId", matchID,
		"fileSize", fileSize,
		"chunkSize", chunkSize,
		"parts", partCount)
	return session, nil
}

// Status reports which parts the server holds, with their etags.
func (s *Service) Status(ctx context.Context, uploadID string) ([]int, map[int]string, error) {
	if _, err := s.store.GetSession(ctx, uploadID); err != nil {
		return nil, nil, err
	}
	parts, err := s.store.ListParts(ctx, uploadID)
	if err != nil {
		return nil, nil, err
	}

	numbers := make([]int, 0, len(parts))
	etags := make(map[int]string, len(parts))
	for _, part := range parts {
		numbers = append(numbers, part.PartNumber)
		etags[part.PartNumber] = part.ETag
	}
	return numbers, etags, nil
}

// StorePart stages one part payload and records its md5 etag. Re-sending a
// part overwrites the previous payload, so retries after a half-written chunk
// are safe.
func (s *Service) StorePart(ctx context.Context, uploadID string, partNumber int, body io.Reader) (string, error) {
	session, err := s.store.GetSession(ctx, uploadID)
	if err != nil {
		return "", err
	}
	if session.Status == StatusCompleted {
		return "", ErrCompleted
	}
	if partNumber < 1 || partNumber > session.PartCount {
		return "", ErrPartOutOfRange
	}

	maxPartSize := session.ChunkSize
	if partNumber == session.PartCount {
		maxPartSize = session.FileSize - session.ChunkSize*int64(session.PartCount-1)
	}

	partPath := s.partPath(uploadID, partNumber)
	tmp, err := os.CreateTemp(s.partDir(uploadID), fmt.Sprintf("%d.*.tmp", partNumber))
	if err != nil {
		return "", fmt.Errorf("stage part: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := md5.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(body, maxPartSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("stage part: %w", err)
	}
	if written != maxPartSize {
		return "", fmt.Errorf("part %d: got %d bytes, want %d", partNumber, written, maxPartSize)
	}
	if err := os.Rename(tmp.Name(), partPath); err != nil {
		return "", fmt.Errorf("stage part: %w", err)
	}

	etag := hex.EncodeToString(hasher.Sum(nil))
	err = s.store.PutPart(ctx, &UploadPart{
		UploadID:   uploadID,
		PartNumber: partNumber,
		Size:       written,
		ETag:       etag,
	})
	if err != nil {
		return "", err
	}
	return etag, nil
}

// Complete verifies the part set against the client's view and assembles the
// final video file in ascending part order.
func (s *Service) Complete(ctx context.Context, uploadID string, clientParts []*CompletedPart) (string, error) {
	session, err := s.store.GetSession(ctx, uploadID)
	if err != nil {
		return "", err
	}
	if session.Status == StatusCompleted {
		return s.relPath(s.videoPath(session)), nil
	}

	stored, err := s.store.ListParts(ctx, uploadID)
	if err != nil {
		return "", err
	}
	if err := verifyParts(session, stored, clientParts); err != nil {
		return "", err
	}

	videoPath := s.videoPath(session)
	if err := s.assemble(stored, uploadID, videoPath); err != nil {
		return "", err
	}
	if err := s.store.MarkCompleted(ctx, uploadID); err != nil {
		return "", err
	}
	if err := os.RemoveAll(s.partDir(uploadID)); err != nil {
		slog.Warn("failed to remove staging dir", "uploadId", uploadID, "error", err)
	}

	slog.Info("upload session completed", "uploadId", uploadID, "video", videoPath)
	return s.relPath(videoPath), nil
}

// StoreSingle writes a small single-shot upload directly to the video dir.
func (s *Service) StoreSingle(ctx context.Context, matchID int64, fileName string, body io.Reader) (string, error) {
	if err := s.checkHeadroom(0); err != nil {
		return "", err
	}

	session := &UploadSession{
		UploadID: uuid.NewString(),
		MatchID:  matchID,
		FileName: filepath.Base(fileName),
	}
	videoPath := s.videoPath(session)
	if err := utils.EnsureParent(videoPath); err != nil {
		return "", err
	}

	out, err := os.Create(videoPath)
	if err != nil {
		return "", fmt.Errorf("store video: %w", err)
	}
	written, err := io.Copy(out, io.LimitReader(body, s.maxFileSize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(videoPath)
		return "", fmt.Errorf("store video: %w", err)
	}
	if written > s.maxFileSize {
		os.Remove(videoPath)
		return "", ErrFileTooLarge
	}

	session.FileSize = written
	session.PartCount = 1
	session.ChunkSize = written
	session.Status = StatusCompleted
	if err := s.store.CreateSession(ctx, session); err != nil {
		os.Remove(videoPath)
		return "", err
	}
	return s.relPath(videoPath), nil
}

// Abort drops a pending session and its staged parts.
func (s *Service) Abort(ctx context.Context, uploadID string) error {
	if err := s.store.DeleteSession(ctx, uploadID); err != nil {
		return err
	}
	return os.RemoveAll(s.partDir(uploadID))
}

func (s *Service) assemble(stored []*UploadPart, uploadID, videoPath string) error {
	if err := utils.EnsureParent(videoPath); err != nil {
		return err
	}

	tmpPath := videoPath + ".partial"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("assemble video: %w", err)
	}
	defer os.Remove(tmpPath)

	sort.Slice(stored, func(i, j int) bool { return stored[i].PartNumber < stored[j].PartNumber })
	for _, part := range stored {
		if err := appendPart(out, s.partPath(uploadID, part.PartNumber)); err != nil {
			out.Close()
			return err
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("assemble video: %w", err)
	}
	return os.Rename(tmpPath, videoPath)
}

func appendPart(out *os.File, partPath string) error {
	in, err := os.Open(partPath)
	if err != nil {
		return fmt.Errorf("assemble video: %w", err)
	}
	defer in.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("assemble video: %w", err)
	}
	return nil
}

func verifyParts(session *UploadSession, stored []*UploadPart, clientParts []*CompletedPart) error {
	if len(stored) != session.PartCount || len(clientParts) != session.PartCount {
		return ErrIncomplete
	}

	byNumber := make(map[int]*UploadPart, len(stored))
	var total int64
	for _, part := range stored {
		byNumber[part.PartNumber] = part
		total += part.Size
	}
	if total != session.FileSize {
		return ErrIncomplete
	}

	for _, claimed := range clientParts {
		part, ok := byNumber[claimed.PartNumber]
		if !ok || !strings.EqualFold(part.ETag, claimed.ETag) {
			return ErrIncomplete
		}
	}
	return nil
}

func (s *Service) checkHeadroom(incoming int64) error {
	if s.minFreeBytes == 0 {
		return nil
	}
	usage, err := disk.Usage(s.dataDir)
	if err != nil {
		slog.Warn("disk usage probe failed", "path", s.dataDir, "error", err)
		return nil
	}
	if usage.Free < s.minFreeBytes+uint64(incoming) {
		return ErrDiskPressure
	}
	return nil
}

func (s *Service) partDir(uploadID string) string {
	return filepath.Join(stagingRoot(s.dataDir), uploadID)
}

func (s *Service) partPath(uploadID string, partNumber int) string {
	return filepath.Join(s.partDir(uploadID), strconv.Itoa(partNumber)+".part")
}

func (s *Service) videoPath(session *UploadSession) string {
	name := session.UploadID + strings.ToLower(filepath.Ext(session.FileName))
	return filepath.Join(videosRoot(s.dataDir), strconv.FormatInt(session.MatchID, 10), name)
}

// relPath converts an on-disk path into the dataDir-relative form used in API
// responses.
func (s *Service) relPath(fullPath string) string {
	rel, err := filepath.Rel(s.dataDir, fullPath)
	if err != nil {
		return fullPath
	}
	return filepath.ToSlash(rel)
}
