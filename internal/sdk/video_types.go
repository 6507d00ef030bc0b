package sdk

type TranscodeParams struct {
	VideoPath string `json:"videoPath"`
}

type TranscodeResponse struct {
	OK        bool   `json:"ok"`
	VideoPath string `json:"videoPath"`
}

// AnalyzeParams describes one analysis run. Exactly one of VideoPath or
// VideoURL must be set. LeftSideTeam picks which team defends the left half
// at kickoff; the analysis provider needs it to orient events.
type AnalyzeParams struct {
	VideoPath       string `json:"videoPath,omitempty"`
	VideoURL        string `json:"videoUrl,omitempty"`
	Provider        string `json:"provider"`
	LeftSideTeam    string `json:"leftSideTeam"`
	TeamLeftID      int64  `json:"teamLeftId"`
	TeamRightID     int64  `json:"teamRightId"`
	AttackDirection string `json:"attackDirection"`
	Normalize       bool   `json:"normalize"`
}

// MatchEvent is one detected event (shot, pass, ...) in pitch coordinates.
type MatchEvent struct {
	Type     string  `json:"type"`
	Minute   float64 `json:"minute"`
	TeamID   int64   `json:"teamId"`
	PlayerID int64   `json:"playerId,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	XG       float64 `json:"xg,omitempty"`
}

type Analysis struct {
	Provider string        `json:"provider"`
	Events   []*MatchEvent `json:"events"`
}

type AnalyzeResponse struct {
	OK       bool      `json:"ok"`
	Analysis *Analysis `json:"analysis"`
}
