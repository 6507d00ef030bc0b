package uploader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// Video formats the analysis pipeline accepts.
var acceptedExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".mov":  true,
	".avi":  true,
}

const (
	SideHome = "home"
	SideAway = "away"

	AttackLeftToRight = "leftToRight"
	AttackRightToLeft = "rightToLeft"
)

// ValidateRequest checks everything that can be rejected before a single
// network call: file type, size cap and the mandatory team-side selection.
func ValidateRequest(req *UploadRequest) error {
	if req == nil {
		return &ValidationError{Field: "request", Reason: "missing"}
	}
	if req.MatchID <= 0 {
		return &ValidationError{Field: "matchId", Reason: "must be a positive match reference"}
	}

	ext := strings.ToLower(filepath.Ext(req.FilePath))
	if !acceptedExtensions[ext] {
		return &ValidationError{Field: "file", Reason: fmt.Sprintf("unsupported format %q, want mp4/webm/mov/avi", ext)}
	}

	info, err := os.Stat(req.FilePath)
	if err != nil {
		return &ValidationError{Field: "file", Reason: "not readable"}
	}
	if info.IsDir() {
		return &ValidationError{Field: "file", Reason: "is a directory"}
	}
	if info.Size() > MaxFileSize {
		return &ValidationError{
			Field:  "file",
			Reason: fmt.Sprintf("%s exceeds the %s limit", humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(MaxFileSize))),
		}
	}

	// The side selection gates submission entirely: analysis cannot orient
	// events without knowing which team defends the left half.
	if req.LeftSideTeam != SideHome && req.LeftSideTeam != SideAway {
		return &ValidationError{Field: "leftSideTeam", Reason: `must be "home" or "away"`}
	}
	if req.TeamLeftID <= 0 || req.TeamRightID <= 0 {
		return &ValidationError{Field: "teams", Reason: "both team ids are required"}
	}
	if req.TeamLeftID == req.TeamRightID {
		return &ValidationError{Field: "teams", Reason: "left and right team must differ"}
	}
	if req.AttackDirection != "" && req.AttackDirection != AttackLeftToRight && req.AttackDirection != AttackRightToLeft {
		return &ValidationError{Field: "attackDirection", Reason: `must be "leftToRight" or "rightToLeft"`}
	}

	return nil
}
