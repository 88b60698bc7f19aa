package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gogpu/gg"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/matt-g-everett/animtx/api"
	"github.com/matt-g-everett/animtx/remote"
	"github.com/matt-g-everett/animtx/render"
	"github.com/matt-g-everett/animtx/source"
	"github.com/matt-g-everett/animtx/stream"
	"github.com/matt-g-everett/animtx/timeline"
)

type app struct {
	Config   stream.Config
	Client   mqtt.Client
	Control  *remote.Control
	Streamer *stream.Streamer
	log      *slog.Logger
}

func (a *app) handleOnConnect(client mqtt.Client) {
	a.log.Info("connected", "broker", a.Config.Mqtt.URL)
	if err := a.Control.Subscribe(); err != nil {
		a.log.Error("control subscription failed", "err", err)
	}
}

func (a *app) newClient() mqtt.Client {
	options := mqtt.NewClientOptions().
		AddBroker(a.Config.Mqtt.URL).
		SetClientID(a.Config.Mqtt.ClientID + "-" + uuid.NewString()[:8]).
		SetUsername(a.Config.Mqtt.Username).
		SetPassword(a.Config.Mqtt.Password).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(5 * time.Second).
		SetOnConnectHandler(a.handleOnConnect)
	return mqtt.NewClient(options)
}

func (a *app) newSink() (render.Sink, error) {
	switch a.Config.Sink.Kind {
	case "none":
		return &render.DiscardSink{}, nil
	case "png":
		return render.NewPNGSink(a.Config.Sink.Dir)
	case "mqtt":
		if a.Client == nil {
			return nil, errors.New("mqtt sink needs mqtt.url")
		}
		if a.Config.Mqtt.Topics.Stream == "" || a.Config.Sink.Width <= 0 || a.Config.Sink.Height <= 0 {
			return nil, errors.New("mqtt sink needs mqtt.topics.stream, sink.width and sink.height")
		}
		return remote.NewLEDSink(a.Client, a.Config.Mqtt.Topics.Stream,
			a.Config.Sink.Width, a.Config.Sink.Height, a.Config.Sink.Serpentine), nil
	default:
		return nil, fmt.Errorf("unknown sink %q", a.Config.Sink.Kind)
	}
}

// newOrchestrator loads the source and starts the render engine with the
// configured playback state applied.
func (a *app) newOrchestrator() (*stream.Orchestrator, error) {
	cfg := a.Config
	src, err := source.Load(cfg.Source)
	if err != nil {
		return nil, err
	}
	var repeat *timeline.RepeatMode
	if cfg.Playback.Repeat != "" {
		m, err := timeline.ParseRepeat(cfg.Playback.Repeat)
		if err != nil {
			return nil, err
		}
		repeat = &m
	}
	mode, err := stream.ParseMode(cfg.Playback.Mode)
	if err != nil {
		return nil, err
	}

	sess, err := stream.NewSession(render.NewVectorEngine(a.log), src, cfg.CacheSize(), stream.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	orch, err := stream.NewOrchestrator(sess, stream.OrchestratorConfig{
		Mode:    mode,
		Workers: cfg.Playback.Workers,
		Stall: stream.StallConfig{
			WarnAfter:  cfg.Stall.Warn,
			FatalAfter: cfg.Stall.Fatal,
			OnFatal:    stream.ExitOnStall(sess.Logger()),
		},
	})
	if err != nil {
		return nil, err
	}

	// Applied as an override so reloads keep it.
	if repeat != nil {
		orch.SetRepeatMode(*repeat)
	}
	orch.SetRate(cfg.Playback.Rate)
	if !cfg.Playback.StartPaused {
		orch.Play()
	}
	return orch, nil
}

func (a *app) run(ctx context.Context) error {
	if a.Client != nil {
		if token := a.Client.Connect(); token.Wait() && token.Error() != nil {
			return fmt.Errorf("mqtt connect: %w", token.Error())
		}
		defer a.Client.Disconnect(250)
		go a.Control.Run(ctx, a.Config.Api.StatsInterval)
	}

	if a.Config.Api.Addr != "" {
		server := api.NewApi(a.Streamer, a.Streamer, a.Config.Api.StatsInterval, a.log)
		go func() {
			if err := server.Serve(ctx, a.Config.Api.Addr); err != nil {
				a.log.Error("api stopped", "err", err)
			}
		}()
	}

	if a.Config.Watch {
		if err := watchSource(ctx, a.Config.Source, a.Streamer, a.log); err != nil {
			a.log.Warn("source watch disabled", "err", err)
		}
	}

	a.Streamer.Run(ctx)
	return nil
}

func main() {
	// Parse command line parameters
	configPath := flag.String("config", "config.yaml", "YAML config file.")
	sourcePath := flag.String("source", "", "Animation document, overrides the config.")
	flag.Parse()

	a := new(app)
	config, err := stream.ReadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *sourcePath != "" {
		config.Source = *sourcePath
	}
	a.Config = config

	a.log = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      config.LogLevel(),
		TimeFormat: config.Log.TimeFormat,
	}))
	slog.SetDefault(a.log)
	gg.SetLogger(a.log)
	mqtt.ERROR = slog.NewLogLogger(a.log.Handler(), slog.LevelError)

	orch, err := a.newOrchestrator()
	if err != nil {
		var le *source.LoadError
		if errors.As(err, &le) {
			a.log.Error("cannot load animation", "path", le.Path, "err", le.Err)
		} else {
			a.log.Error("cannot start playback", "err", err)
		}
		os.Exit(1)
	}

	if config.Mqtt.URL != "" {
		a.Client = a.newClient()
	}
	sink, err := a.newSink()
	if err != nil {
		orch.Close()
		a.log.Error("cannot create sink", "err", err)
		os.Exit(1)
	}
	a.Streamer = stream.NewStreamer(orch, sink, config.Playback.TickRate, a.log)
	if a.Client != nil {
		a.Control = remote.NewControl(a.Client, config.Mqtt.Topics.Control, config.Mqtt.Topics.Stats,
			a.Streamer, a.Streamer, a.log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The signal goroutine only raises the quit flag; the display loop
	// shuts the engine down itself.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signals
		a.log.Info("signal received", "signal", sig)
		a.Streamer.Quit()
	}()

	if err := a.run(ctx); err != nil {
		a.log.Error("playback failed", "err", err)
		os.Exit(1)
	}
}
