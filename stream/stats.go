package stream

import (
	"fmt"
	"strings"
)

// Mode selects the render engine.
type Mode string

const (
	ModePreBuffer Mode = "prebuffer"
	ModeDirect    Mode = "direct"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePreBuffer, "":
		return ModePreBuffer, nil
	case ModeDirect:
		return ModeDirect, nil
	default:
		return "", fmt.Errorf("unknown render mode %q", s)
	}
}

// Stats is the playback report produced by every poll.
type Stats struct {
	Mode              Mode       `json:"mode"`
	FramesDelivered   uint64     `json:"frames_delivered"`
	FramesSkipped     uint64     `json:"frames_skipped"`
	SkipRate          float64    `json:"skip_rate"`
	WorkerUtilization float64    `json:"worker_utilization"`
	RenderFailures    uint64     `json:"render_failures"`
	CacheLen          int        `json:"cache_len"`
	Generation        uint64     `json:"generation"`
	Position          float64    `json:"position"`
	Rate              float64    `json:"rate"`
	Paused            bool       `json:"paused"`
	Finished          bool       `json:"finished"`
	Stall             StallState `json:"stall"`
	FrameIndex        int64      `json:"frame_index"`
	SceneFrame        int        `json:"scene_frame"`
	// FPS and FrameTime (milliseconds) average the interval between
	// delivered frames over the last deliveryWindow deliveries.
	FPS        float64 `json:"fps"`
	FrameTime  float64 `json:"avg_frame_time"`
	FrameCount int     `json:"total_frames"`
	Duration   float64 `json:"total_duration"`
	Source     string  `json:"loaded_file,omitempty"`
}

// deliveryWindow is the number of delivery intervals averaged for FPS.
const deliveryWindow = 120

func skipRate(delivered, skipped uint64) float64 {
	total := delivered + skipped
	if total == 0 {
		return 0
	}
	return float64(skipped) / float64(total)
}
