package main

import (
	"context"
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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/handoff/internal/api"
	"github.com/kalambet/handoff/internal/config"
	"github.com/kalambet/handoff/internal/escalate"
	"github.com/kalambet/handoff/internal/ollama"
	"github.com/kalambet/handoff/internal/storage"
	"github.com/kalambet/handoff/internal/ticketing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the handoff server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running handoff server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show handoff system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

// unavailablePoster stands in when Jira credentials are missing so API
// callers get an actionable error instead of a crash.
type unavailablePoster struct{}

func (unavailablePoster) Post(ctx context.Context, id string, filePaths []string) error {
	return errors.New("posting not available: Jira is not configured")
}

func (unavailablePoster) Retry(ctx context.Context, id string, filePaths []string) error {
	return errors.New("posting not available: Jira is not configured")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "handoff.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "handoff version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Refuse to double-start: probe the health endpoint before claiming the
	// PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	// Jira is optional at startup: drafting and browsing work without it,
	// posting fails with an actionable error.
	var tickets ticketing.Client
	if err := cfg.Jira.Validate(); err != nil {
		slog.Warn("Jira not configured, posting disabled", "error", err)
	} else {
		tickets = ticketing.NewJiraClient(ticketing.JiraConfig{
			BaseURL:  cfg.Jira.BaseURL,
			Email:    cfg.Jira.Email,
			APIToken: cfg.Jira.APIToken,
		})
	}

	var summarizer api.Summarizer
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if ollamaClient.IsRunning(ctx) {
		summarizer = ollama.NewSummarizer(ollamaClient, cfg.Ollama.Model)
		slog.Info("Ollama available", "base_url", cfg.Ollama.BaseURL, "model", cfg.Ollama.Model)
	} else {
		slog.Warn("Ollama not running, summaries disabled", "base_url", cfg.Ollama.BaseURL)
	}

	var poster api.Poster = unavailablePoster{}
	if tickets != nil {
		poster = escalate.NewPoster(store, tickets, nil, slog.Default())
	}

	handler := api.NewAppHandler(api.AppDeps{
		Store:      store,
		Poster:     poster,
		Tickets:    tickets,
		Summarizer: summarizer,
		Token:      apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:      store,
		Poster:     poster,
		Tickets:    tickets,
		Summarizer: summarizer,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("handoff listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	slog.Info("MCP server started (stdio transport)")

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("handoff is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop handoff (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to handoff (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.Jira.Validate() == nil {
		printStatus("Jira", "configured (%s)", cfg.Jira.BaseURL)
	} else {
		printStatus("Jira", "not configured")
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}
	printStatus("Model", "%s", cfg.Ollama.Model)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err == nil {
		if summaries, err := store.ListEscalations(); err == nil {
			counts := map[string]int{}
			for _, s := range summaries {
				counts[s.Status]++
			}
			printStatus("Escalations", "%d total (%d draft, %d posted, %d failed)",
				len(summaries), counts[storage.StatusDraft], counts[storage.StatusPosted], counts[storage.StatusPostFailed])
		}
		store.Close()
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
