package video

type TranscodeRequest struct {
	VideoPath string `json:"videoPath" binding:"required"`
}

type TranscodeResponse struct {
	OK        bool   `json:"ok"`
	VideoPath string `json:"videoPath"`
}

type AnalyzeRequest struct {
	VideoPath       string `json:"videoPath"`
	VideoURL        string `json:"videoUrl"`
	Provider        string `json:"provider"`
	LeftSideTeam    string `json:"leftSideTeam" binding:"required,oneof=home away"`
	TeamLeftID      int64  `json:"teamLeftId" binding:"required,gt=0"`
	TeamRightID     int64  `json:"teamRightId" binding:"required,gt=0"`
	AttackDirection string `json:"attackDirection" binding:"omitempty,oneof=leftToRight rightToLeft"`
	Normalize       bool   `json:"normalize"`
}

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
