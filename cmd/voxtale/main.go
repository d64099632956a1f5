// Command voxtale is the client core for the voice companion: it manages the
// conversation session, resolves character profiles, and streams synthesised
// speech through the local playback pipeline.
//
// Utterances are read line by line from stdin; the line "scan <id>" simulates
// an identity token scan and "quit" exits.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/voxtale/voxtale/internal/app"
	"github.com/voxtale/voxtale/internal/backend"
	"github.com/voxtale/voxtale/internal/config"
	"github.com/voxtale/voxtale/internal/directory"
	"github.com/voxtale/voxtale/internal/fault"
	"github.com/voxtale/voxtale/internal/health"
	"github.com/voxtale/voxtale/internal/observe"
	"github.com/voxtale/voxtale/internal/session"
	"github.com/voxtale/voxtale/internal/synth"
	"github.com/voxtale/voxtale/pkg/audio"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxtale: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxtale: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxtale starting",
		"config", *configPath,
		"backend", cfg.Backend.BaseURL,
		"synthesis_transport", cfg.Synthesis.Transport,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxtale"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Backend clients ───────────────────────────────────────────────────────
	clientOpts := []backend.Option{
		backend.WithTimeout(cfg.Client.Timeout),
		backend.WithMaxRetries(cfg.Client.MaxRetries),
		backend.WithBackoff(cfg.Client.RetryBackoff),
		backend.WithMetrics(metrics),
	}
	client, err := backend.New(cfg.Backend.BaseURL, clientOpts...)
	if err != nil {
		slog.Error("failed to create backend client", "err", err)
		return 1
	}

	characters := characterAPI{current: client}
	if cfg.Backend.LegacyBaseURL != "" {
		legacy, err := backend.New(cfg.Backend.LegacyBaseURL, clientOpts...)
		if err != nil {
			slog.Error("failed to create legacy backend client", "err", err)
			return 1
		}
		characters.legacy = legacy
	}

	// ── Session manager ───────────────────────────────────────────────────────
	store, err := session.OpenStore(cfg.Session.DBPath)
	if err != nil {
		slog.Error("failed to open session store", "err", err, "path", cfg.Session.DBPath)
		return 1
	}
	defer store.Close()

	sessions, err := session.NewManager(session.ManagerConfig{API: client, Store: store})
	if err != nil {
		slog.Error("failed to create session manager", "err", err)
		return 1
	}

	// ── Character directory ───────────────────────────────────────────────────
	dir, err := directory.New(directory.Config{API: characters, Metrics: metrics})
	if err != nil {
		slog.Error("failed to create character directory", "err", err)
		return 1
	}

	// ── Playback + synthesis ──────────────────────────────────────────────────
	engineFactory, closeOutput, err := newEngineFactory(cfg.Playback.Output)
	if err != nil {
		slog.Error("failed to open playback output", "err", err)
		return 1
	}
	defer closeOutput()

	transport, err := newTransport(cfg.Synthesis, metrics)
	if err != nil {
		slog.Error("failed to create synthesis transport", "err", err)
		return 1
	}

	speech, err := synth.NewSession(synth.Config{
		Transport: transport,
		Engine:    engineFactory,
		Format: audio.Format{
			SampleRate: cfg.Synthesis.SampleRate,
			Channels:   cfg.Synthesis.Channels,
		},
		MaxFrames:      cfg.Playback.MaxFrames,
		MinStartFrames: cfg.Playback.MinStartFrames,
		OnPlaybackStateChanged: func(playing bool) {
			slog.Info("playback state changed", "playing", playing)
		},
		Metrics: metrics,
	})
	if err != nil {
		slog.Error("failed to create synthesis session", "err", err)
		return 1
	}
	defer speech.Close()

	// ── Connectivity monitor ──────────────────────────────────────────────────
	monitor := health.NewMonitor(health.MonitorConfig{
		Pinger: client,
		OnChange: func(connected bool) {
			slog.Info("backend connectivity changed", "connected", connected)
		},
	})
	go monitor.Run(ctx)

	// ── Metrics + probe listener ──────────────────────────────────────────────
	if cfg.MetricsAddr != "" {
		srv := newMetricsServer(cfg.MetricsAddr, monitor)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics listener error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		slog.Info("metrics listener started", "addr", cfg.MetricsAddr)
	}

	// ── Assistant ─────────────────────────────────────────────────────────────
	assistant, err := app.New(app.Config{
		Chat:      client,
		Sessions:  sessions,
		Directory: dir,
		Synth:     speech,
		Monitor:   monitor,
		Callbacks: app.Callbacks{
			OnError: func(msg string) {
				fmt.Fprintf(os.Stderr, "error: %s\n", msg)
			},
			OnCharacterResolved: func(p directory.Profile) {
				fmt.Printf("character: %s (%s)\n", p.DisplayName, p.Availability)
			},
		},
		Metrics: metrics,
	})
	if err != nil {
		slog.Error("failed to initialise assistant", "err", err)
		return 1
	}
	defer assistant.Close()

	go assistant.Run(ctx)

	slog.Info("ready — scan a character with \"scan <id>\", then type to talk")
	if err := interact(ctx, assistant); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	assistant.EndConversation(context.Background())
	slog.Info("goodbye")
	return 0
}

// interact runs the line-based conversation loop until stdin closes, the
// user quits, or ctx is cancelled.
func interact(ctx context.Context, assistant *app.Assistant) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(ctx, assistant, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				// Already surfaced through the error callback; keep going.
				slog.Debug("command failed", "err", err)
			}
		}
	}
}

var errQuit = errors.New("quit")

func handleLine(ctx context.Context, assistant *app.Assistant, line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case line == "quit" || line == "exit":
		return errQuit
	case line == "stop":
		assistant.StopSpeaking()
		return nil
	case line == "end":
		assistant.EndConversation(ctx)
		fmt.Println("conversation ended")
		return nil
	case strings.HasPrefix(line, "scan "):
		id, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "scan ")))
		if err != nil {
			fmt.Fprintln(os.Stderr, "usage: scan <character-id>")
			return nil
		}
		_, err = assistant.OnScan(ctx, id)
		return err
	default:
		reply, err := assistant.OnTranscribedText(ctx, line)
		if err != nil {
			return err
		}
		fmt.Printf("> %s\n", reply)
		return nil
	}
}

// characterAPI joins the current and legacy character endpoints behind the
// directory's API. With no legacy root configured the legacy tier always
// fails, which the fallback chain treats as tier-unavailable.
type characterAPI struct {
	current *backend.Client
	legacy  *backend.Client
}

func (a characterAPI) Character(ctx context.Context, characterID int) (backend.CharacterData, error) {
	return a.current.Character(ctx, characterID)
}

func (a characterAPI) LegacyCharacter(ctx context.Context, characterID int) (backend.LegacyCharacterReply, error) {
	if a.legacy == nil {
		return backend.LegacyCharacterReply{}, fault.New(fault.State,
			"backend.legacy_character", "legacy backend not configured")
	}
	return a.legacy.LegacyCharacter(ctx, characterID)
}

// newEngineFactory returns the playback engine factory for the configured
// output along with a cleanup for the capture file, if any.
func newEngineFactory(output string) (audio.EngineFactory, func(), error) {
	if output == "" {
		return audio.WriterFactory(io.Discard, true), func() {}, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %q: %w", output, err)
	}
	return audio.WriterFactory(f, false), func() { f.Close() }, nil
}

func newTransport(cfg config.SynthesisConfig, metrics *observe.Metrics) (synth.Transport, error) {
	switch cfg.Transport {
	case config.TransportWebSocket:
		return synth.NewWSTransport(synth.WSTransportConfig{
			URL:        cfg.URL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			Metrics:    metrics,
		})
	default:
		return synth.NewHTTPTransport(synth.HTTPTransportConfig{
			URL:        cfg.URL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			Metrics:    metrics,
		})
	}
}

// newMetricsServer serves /metrics plus the health probes.
func newMetricsServer(addr string, monitor *health.Monitor) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.Checker{Name: "backend", Check: monitor.Check}).Register(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
