package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/rolechat/internal/api"
	"github.com/kalambet/rolechat/internal/ingest"
	"github.com/kalambet/rolechat/internal/retrieval"
	"github.com/kalambet/rolechat/internal/roles"
	"github.com/kalambet/rolechat/internal/storage"
)

const janitorInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		ingestFirst, _ := cmd.Flags().GetBool("ingest")
		return runServer(host, ingestFirst)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running rolechat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, index and ingestion status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "interface to listen on")
	serveCmd.Flags().Bool("ingest", false, "rebuild every role index before serving")
}

func pidFilePath(stateDir string) string {
	return filepath.Join(stateDir, "rolechat.pid")
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

func runServer(host string, ingestFirst bool) error {
	fmt.Fprintf(os.Stderr, "rolechat version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		printWarning("rolechat is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	pidPath := pidFilePath(cfg.Data.StateDir)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	if ingestFirst {
		p, err := newIngestPipeline(cfg, a.store)
		if err != nil {
			return err
		}
		reports := p.Run(ctx, roles.All())
		printReports(reports)
	}

	a.start(ctx)

	if cfg.Server.AdminToken == "" {
		slog.Info("ROLECHAT_ADMIN_TOKEN not set, management routes disabled")
	}
	handler := api.NewHandler(api.Deps{
		Directory:   a.directory,
		Logins:      a.logins,
		Answerer:    a.answerer,
		Transcripts: a.transcripts,
		Indexes:     a.retriever,
		Store:       a.store,
		AdminToken:  cfg.Server.AdminToken,
	})

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "rolechat listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := loadConfig()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Data.StateDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("rolechat is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop rolechat (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to rolechat (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Embedding", "%s/%s", cfg.Embedding.Provider, cfg.Embedding.Model)
	printStatus("Generation", "%s/%s", cfg.Generation.Provider, cfg.Generation.Model)
	printStatus("Docs dir", "%s", cfg.Data.DocsDir)
	printStatus("Index dir", "%s", cfg.Data.IndexDir)
	printStatus("State dir", "%s", cfg.Data.StateDir)

	var runs map[string]storage.IngestRun
	var interactions int
	if store, err := storage.Open(cfg.Data.StateDir); err == nil {
		runs, _ = store.LatestIngestRuns()
		interactions, _ = store.CountInteractions()
		store.Close()
	}
	printStatus("Interactions", "%d", interactions)

	fmt.Fprintln(os.Stderr)
	for _, role := range roles.All() {
		printStatus(string(role), "%s", indexSummary(cfg.Data.IndexDir, role, runs[string(role)]))
	}
	return nil
}

// indexSummary describes one role's persisted index and its last ingest run.
func indexSummary(indexDir string, role roles.Role, run storage.IngestRun) string {
	var b strings.Builder
	info, err := retrieval.Stat(retrieval.IndexPath(indexDir, role))
	switch {
	case errors.Is(err, retrieval.ErrIndexNotFound):
		b.WriteString("no index")
	case err != nil:
		fmt.Fprintf(&b, "unreadable index (%v)", err)
	default:
		fmt.Fprintf(&b, "%d chunks, dim %d, %s, built %s",
			info.ChunkCount, info.Dimension, info.Model, info.BuiltAt.Local().Format(time.DateTime))
	}
	if run.ID != "" && run.Status != string(ingest.StatusBuilt) {
		fmt.Fprintf(&b, "; last run %s at %s", run.Status, run.FinishedAt.Local().Format(time.DateTime))
		if run.Reason != "" {
			fmt.Fprintf(&b, ": %s", run.Reason)
		}
	}
	return b.String()
}
