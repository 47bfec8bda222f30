package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/interviewd/internal/api"
	"github.com/kalambet/interviewd/internal/config"
	"github.com/kalambet/interviewd/internal/engine"
	"github.com/kalambet/interviewd/internal/ingest"
	"github.com/kalambet/interviewd/internal/interview"
	"github.com/kalambet/interviewd/internal/metrics"
	"github.com/kalambet/interviewd/internal/nlu"
	"github.com/kalambet/interviewd/internal/pipeline"
	"github.com/kalambet/interviewd/internal/resume"
	"github.com/kalambet/interviewd/internal/storage"
)

const (
	jobPollInterval = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the interviewd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running interviewd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show interviewd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "interviewd.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// openStore opens the repository selected by storage.driver.
func openStore(ctx context.Context, cfg config.Config) (storage.Repository, error) {
	if cfg.Storage.Driver == "postgres" {
		pg, err := storage.OpenPostgres(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "interviewd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	// Refuse to start twice: a live health endpoint means another instance owns the port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("interviewd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("interviewd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	if !cfg.Admin.Enabled() {
		slog.Warn("admin credentials not configured, admin endpoints are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)

	printStep("Checking %s backend at %s", cfg.LLM.Backend, cfg.LLM.BaseURL)
	eng, err := engine.Detect(engine.DetectConfig{
		Backend: cfg.LLM.Backend,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey,
	})
	if err != nil {
		return fmt.Errorf("detecting llm backend: %w", err)
	}
	// Registrations still succeed without a model; summaries fall back to
	// compaction and are retried by the job worker.
	if err := engine.EnsureReady(ctx, eng, os.Stderr); err != nil {
		printWarning("LLM backend not ready: %v", err)
	}
	eng = engine.Instrument(eng, m)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	slog.Info("storage ready", "driver", cfg.Storage.Driver)

	summarizer := resume.NewSummarizer(eng, cfg.LLM.TimeoutDuration(), m)
	handler := api.NewRouter(api.AppDeps{
		Store:         store,
		Pipeline:      pipeline.New(store, summarizer, m),
		Interview:     interview.NewService(store, m),
		Classifier:    nlu.NewClassifier(eng),
		Engine:        eng,
		Metrics:       m,
		Admin:         cfg.Admin,
		UploadLimit:   int64(cfg.Server.UploadLimitMB) << 20,
		SubmitLimiter: api.NewClientLimiter(cfg.Server.SubmitRate, cfg.Server.SubmitBurst),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	worker := ingest.NewWorker(store, summarizer, jobPollInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "interviewd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("interviewd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop interviewd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to interviewd (PID %d)", pid)
	return nil
}

const statusListLimit = 100

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient = &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.get(ctx, "/api/health")
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		running = true
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	printStatus("LLM backend", "%s at %s", cfg.LLM.Backend, cfg.LLM.BaseURL)
	printStatus("LLM model", "%s", cfg.LLM.Model)

	if running {
		client.httpClient.Timeout = 10 * time.Second
		if resp, err := client.get(ctx, "/api/llm/ping"); err == nil {
			var ping struct {
				OK    bool   `json:"ok"`
				Error string `json:"error"`
			}
			if json.NewDecoder(resp.Body).Decode(&ping) == nil {
				if ping.OK {
					printStatus("LLM", "reachable")
				} else {
					printStatus("LLM", "unreachable (%s)", ping.Error)
				}
			}
			resp.Body.Close()
		}

		if client.token != "" {
			resp, err := client.get(ctx, fmt.Sprintf("/api/registrations?limit=%d", statusListLimit))
			if err == nil {
				var list struct {
					Data []json.RawMessage `json:"data"`
				}
				if decodeJSON(resp, &list) == nil {
					printStatus("Registrations", "%s", countLabel(len(list.Data), statusListLimit))
				}
			}
		}
	}

	printStatus("Storage", "%s", cfg.Storage.Driver)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	if cfg.Admin.Enabled() {
		printStatus("Admin", "configured as %s", cfg.Admin.Username)
	} else {
		printStatus("Admin", "not configured")
	}
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
