package stream

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the YAML configuration of the player.
type Config struct {
	Source   string `yaml:"source"`
	Playback struct {
		Mode        string        `yaml:"mode"`
		Workers     int           `yaml:"workers"`
		Lookahead   int           `yaml:"lookahead"`
		TickRate    time.Duration `yaml:"tickRate"`
		Rate        float64       `yaml:"rate"`
		Repeat      string        `yaml:"repeat"`
		StartPaused bool          `yaml:"startPaused"`
	} `yaml:"playback"`
	Stall struct {
		Warn  time.Duration `yaml:"warn"`
		Fatal time.Duration `yaml:"fatal"`
	} `yaml:"stall"`
	Mqtt struct {
		URL      string `yaml:"url"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		ClientID string `yaml:"clientId"`
		Topics   struct {
			Stream  string `yaml:"stream"`
			Control string `yaml:"control"`
			Stats   string `yaml:"stats"`
		} `yaml:"topics"`
	} `yaml:"mqtt"`
	Sink struct {
		Kind       string `yaml:"kind"`
		Dir        string `yaml:"dir"`
		Width      int    `yaml:"width"`
		Height     int    `yaml:"height"`
		Serpentine bool   `yaml:"serpentine"`
	} `yaml:"sink"`
	Api struct {
		Addr          string        `yaml:"addr"`
		StatsInterval time.Duration `yaml:"statsInterval"`
	} `yaml:"api"`
	Log struct {
		Level      string `yaml:"level"`
		TimeFormat string `yaml:"timeFormat"`
	} `yaml:"log"`
	Watch bool `yaml:"watch"`
}

const (
	DefaultLookahead = 4
	DefaultTickRate  = 33 * time.Millisecond
)

// ReadConfig decodes the YAML file at path and fills in defaults.
func ReadConfig(path string) (Config, error) {
	var c Config
	f, err := os.Open(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&c); err != nil {
		return c, fmt.Errorf("decode config %s: %w", path, err)
	}
	c.Defaults()
	return c, nil
}

// Defaults fills every unset value.
func (c *Config) Defaults() {
	if c.Playback.Mode == "" {
		c.Playback.Mode = string(ModePreBuffer)
	}
	if c.Playback.Workers <= 0 {
		c.Playback.Workers = DefaultWorkers()
	}
	if c.Playback.Lookahead <= 0 {
		c.Playback.Lookahead = DefaultLookahead
	}
	if c.Playback.TickRate <= 0 {
		c.Playback.TickRate = DefaultTickRate
	}
	if c.Playback.Rate == 0 {
		c.Playback.Rate = 1
	}
	if c.Stall.Warn <= 0 {
		c.Stall.Warn = DefaultStallWarn
	}
	if c.Stall.Fatal <= 0 {
		c.Stall.Fatal = DefaultStallFatal
	}
	if c.Mqtt.ClientID == "" {
		c.Mqtt.ClientID = "animtx"
	}
	if c.Mqtt.Topics.Control == "" {
		c.Mqtt.Topics.Control = "animtx/control"
	}
	if c.Mqtt.Topics.Stats == "" {
		c.Mqtt.Topics.Stats = "animtx/stats"
	}
	if c.Sink.Kind == "" {
		c.Sink.Kind = "none"
	}
	if c.Sink.Dir == "" {
		c.Sink.Dir = "frames"
	}
	if c.Api.StatsInterval <= 0 {
		c.Api.StatsInterval = time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.TimeFormat == "" {
		c.Log.TimeFormat = time.Kitchen
	}
}

// CacheSize is the pre-buffer capacity: workers times lookahead.
func (c *Config) CacheSize() int {
	return c.Playback.Workers * c.Playback.Lookahead
}

func (c *Config) LogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
