package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/matt-g-everett/animtx/stream"
)

// CommandSink accepts parsed control commands.
type CommandSink interface {
	Submit(cmd stream.Command) bool
}

// StatsSource reports the current playback stats.
type StatsSource interface {
	Stats() stream.Stats
}

// Control takes control messages from an MQTT topic and publishes playback
// stats to another.
type Control struct {
	client       mqtt.Client
	controlTopic string
	statsTopic   string
	commands     CommandSink
	stats        StatsSource
	log          *slog.Logger
}

// NewControl creates an instance of a Control.
func NewControl(client mqtt.Client, controlTopic, statsTopic string, commands CommandSink, stats StatsSource, log *slog.Logger) *Control {
	if log == nil {
		log = slog.Default()
	}
	return &Control{
		client:       client,
		controlTopic: controlTopic,
		statsTopic:   statsTopic,
		commands:     commands,
		stats:        stats,
		log:          log.With("topic", controlTopic),
	}
}

// Subscribe registers for control messages. Call it from the client's
// OnConnect handler so the subscription survives reconnects.
func (c *Control) Subscribe() error {
	if token := c.client.Subscribe(c.controlTopic, 0, c.handleClientMessages); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", c.controlTopic, token.Error())
	}
	c.log.Info("subscribed to control topic")
	return nil
}

func (c *Control) handleClientMessages(client mqtt.Client, msg mqtt.Message) {
	c.log.Debug("control message", "id", msg.MessageID(), "payload", string(msg.Payload()))

	cmd, err := stream.ParseCommand(msg.Payload())
	if err != nil {
		c.log.Warn("rejected control message", "err", err)
		return
	}
	if !c.commands.Submit(cmd) {
		c.log.Warn("control queue full, dropped message", "id", msg.MessageID())
	}
}

// PublishStats sends the current stats as JSON.
func (c *Control) PublishStats() error {
	b, err := json.Marshal(c.stats.Stats())
	if err != nil {
		return err
	}

	token := c.client.Publish(c.statsTopic, 0, false, b)
	token.Wait()
	return token.Error()
}

// Run publishes stats every interval until ctx is done. Ticks while the
// client is disconnected are skipped.
func (c *Control) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.client.IsConnected() {
				continue
			}
			if err := c.PublishStats(); err != nil {
				c.log.Warn("stats publish failed", "err", err)
			}
		}
	}
}
