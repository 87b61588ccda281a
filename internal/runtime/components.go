package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/loqalabs/carevoice/internal/bus"
	"github.com/loqalabs/carevoice/internal/config"
	"github.com/loqalabs/carevoice/internal/eventstore"
	"github.com/loqalabs/carevoice/internal/forward"
	"github.com/loqalabs/carevoice/internal/llm"
	"github.com/loqalabs/carevoice/internal/natsserver"
	"github.com/loqalabs/carevoice/internal/status"
	"github.com/loqalabs/carevoice/internal/stt"
	"github.com/loqalabs/carevoice/internal/transcribe"
	"github.com/loqalabs/carevoice/internal/tts"
)

const eventStream = "CARE_EVENTS"

// components holds everything the runtime owns between Handler and Close.
type components struct {
	embedded   *natsserver.EmbeddedServer
	bus        *bus.Client
	store      *eventstore.Store
	google     *stt.GoogleRecognizer
	transcribe *transcribe.Handler
	llm        *llm.Service
	tts        *tts.Service
	status     *status.Monitor
	cancel     context.CancelFunc
}

func buildComponents(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *components, err error) {
	ctx, cancel := context.WithCancel(ctx)
	c := &components{cancel: cancel}
	defer func() {
		if err != nil {
			_ = c.close()
		}
	}()

	if cfg.Bus.Enabled {
		busCfg := cfg.Bus
		c.embedded, err = natsserver.Start(busCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("start embedded nats: %w", err)
		}
		if c.embedded != nil {
			busCfg.Servers = []string{c.embedded.ClientURL()}
		}
		c.bus, err = bus.Connect(ctx, busCfg, logger)
		if err != nil {
			return nil, err
		}
		if err := c.bus.EnsureStream(eventStream, []string{"care.>"}); err != nil {
			logger.Warn("event stream unavailable", slog.String("error", err.Error()))
		}
	}

	c.store, err = eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	if cfg.STT.Enabled {
		recognizer, err := c.newRecognizer(ctx, cfg.STT)
		if err != nil {
			return nil, err
		}
		var sinks []transcribe.Sink
		if c.bus != nil {
			sinks = append(sinks, transcribe.NewBusSink(c.bus, logger))
		}
		if c.store.Enabled() {
			sinks = append(sinks, transcribe.NewAuditSink(c.store, logger))
		}
		orch := transcribe.NewOrchestrator(recognizer, forward.New(cfg.Forward, nil, logger), transcribe.Options{
			Language:        cfg.STT.Language,
			DomainModel:     cfg.STT.DomainModel,
			FallbackModel:   cfg.STT.FallbackModel,
			AutoPunctuation: cfg.STT.AutoPunctuation,
			ContinueOnEmpty: cfg.STT.ContinueOnEmpty,
		}, logger)
		c.transcribe = transcribe.NewHandler(orch, cfg.STT, sinks, logger)
		logger.Info("transcription enabled",
			slog.String("mode", cfg.STT.Mode),
			slog.String("forward", cfg.Forward.Endpoint),
			slog.Int("sinks", len(sinks)))
	}

	if cfg.LLM.Enabled {
		generator, err := llm.NewGenerator(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("init llm: %w", err)
		}
		c.llm = llm.NewService(cfg.LLM, generator, logger)
		logger.Info("llm responder enabled", slog.String("mode", cfg.LLM.Mode), slog.String("model", cfg.LLM.Model))
	}

	if cfg.TTS.Enabled {
		engines, err := tts.NewEngines(cfg.TTS)
		if err != nil {
			return nil, fmt.Errorf("init tts: %w", err)
		}
		c.tts = tts.NewService(cfg.TTS, engines, logger)
		logger.Info("tts enabled", slog.String("default_engine", cfg.TTS.DefaultEngine), slog.Int("engines", len(engines)))
	}

	if cfg.Status.Enabled {
		c.status = status.NewMonitor(cfg.Status, nil, logger)
		c.status.Start(ctx)
	}

	return c, nil
}

func (c *components) newRecognizer(ctx context.Context, cfg config.STTConfig) (stt.Recognizer, error) {
	switch cfg.Mode {
	case "google":
		g, err := stt.NewGoogleRecognizer(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.google = g
		return g, nil
	case "whisper":
		r, err := stt.NewWhisperRecognizer(cfg)
		if err != nil {
			return nil, fmt.Errorf("init whisper recognizer: %w", err)
		}
		return r, nil
	case "mock", "":
		return stt.NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}

func (c *components) register(mux *http.ServeMux) {
	if c.transcribe != nil {
		c.transcribe.Register(mux)
	}
	if c.llm != nil {
		c.llm.Register(mux)
	}
	if c.tts != nil {
		c.tts.Register(mux)
	}
	if c.status != nil {
		c.status.Register(mux)
	}
}

func (c *components) healthy() bool {
	return c.bus == nil || c.bus.Healthy()
}

func (c *components) close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.status != nil {
		c.status.Close()
	}
	var errs []error
	if c.google != nil {
		errs = append(errs, c.google.Close())
	}
	if c.bus != nil {
		c.bus.Close()
	}
	if c.embedded != nil {
		c.embedded.Shutdown()
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	return errors.Join(errs...)
}
