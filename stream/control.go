package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matt-g-everett/animtx/source"
	"github.com/matt-g-everett/animtx/timeline"
)

// Command is a control action run on the control goroutine.
type Command func(o *Orchestrator) error

// ControlMessage is the JSON form of a remote control request.
//
//	{"type": "seek", "time": "1.5s"}
//	{"type": "rate", "rate": -0.5}
//	{"type": "repeat", "repeat": "count:3"}
//	{"type": "mode", "mode": "direct"}
//	{"type": "load", "path": "anim.yaml"}
type ControlMessage struct {
	Type   string   `json:"type"`
	Time   string   `json:"time,omitempty"`
	Rate   *float64 `json:"rate,omitempty"`
	Repeat string   `json:"repeat,omitempty"`
	Mode   string   `json:"mode,omitempty"`
	Path   string   `json:"path,omitempty"`
}

// ParseCommand decodes a control message into a Command.
func ParseCommand(data []byte) (Command, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode control message: %w", err)
	}
	return msg.Command()
}

// Command validates the message and returns the action it requests. A load
// message reads and parses its file here, on the caller's goroutine, so the
// returned command only swaps the source in.
func (m ControlMessage) Command() (Command, error) {
	switch m.Type {
	case "play":
		return (*Orchestrator).Play, nil
	case "pause":
		return (*Orchestrator).Pause, nil
	case "stop":
		return (*Orchestrator).Stop, nil
	case "toggle":
		return (*Orchestrator).TogglePlay, nil
	case "quit":
		return func(*Orchestrator) error { return ErrQuit }, nil
	case "screenshot":
		path := m.Path
		return func(o *Orchestrator) error {
			_, err := o.Screenshot(path)
			return err
		}, nil
	case "load":
		if m.Path == "" {
			return nil, fmt.Errorf("load: missing path")
		}
		src, err := source.Load(m.Path)
		if err != nil {
			return nil, err
		}
		return func(o *Orchestrator) error { return o.Reload(src) }, nil
	case "restart":
		return (*Orchestrator).Restart, nil
	case "reset-stats":
		return (*Orchestrator).ResetStats, nil
	case "seek":
		t, err := time.ParseDuration(m.Time)
		if err != nil {
			return nil, fmt.Errorf("seek: %w", err)
		}
		if t < 0 {
			return nil, fmt.Errorf("seek: negative time %v", t)
		}
		return func(o *Orchestrator) error { return o.Seek(t) }, nil
	case "rate":
		if m.Rate == nil {
			return nil, fmt.Errorf("rate: missing value")
		}
		rate := *m.Rate
		return func(o *Orchestrator) error { return o.SetRate(rate) }, nil
	case "repeat":
		mode, err := timeline.ParseRepeat(m.Repeat)
		if err != nil {
			return nil, err
		}
		return func(o *Orchestrator) error { return o.SetRepeatMode(mode) }, nil
	case "mode":
		mode, err := ParseMode(m.Mode)
		if err != nil {
			return nil, err
		}
		return func(o *Orchestrator) error { return o.SetMode(mode) }, nil
	default:
		return nil, fmt.Errorf("unknown control message type %q", m.Type)
	}
}
