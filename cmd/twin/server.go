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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/twin/internal/api"
	"github.com/kalambet/twin/internal/catalog"
	"github.com/kalambet/twin/internal/config"
	"github.com/kalambet/twin/internal/maintenance"
	"github.com/kalambet/twin/internal/persona"
	"github.com/kalambet/twin/internal/pipeline"
	"github.com/kalambet/twin/internal/profile"
	"github.com/kalambet/twin/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the twin server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running twin server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show twin server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio without the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "twin.pid")
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

// runningInstance reports whether another twin process owns the data
// directory: either the HTTP server answers healthURL or the PID file names
// a live process.
func runningInstance(client *http.Client, healthURL, pidPath string) (pid int, running bool) {
	pid, pidErr := readPIDFile(pidPath)
	if resp, err := client.Get(healthURL); err == nil {
		resp.Body.Close()
		return pid, true
	}
	if pidErr == nil && pid != os.Getpid() && processAlive(pid) {
		return pid, true
	}
	return 0, false
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// claimInstance refuses to run a second writer against the same store and
// otherwise records this process in the PID file. hint is appended to the
// warning when non-empty.
func claimInstance(cfg config.Config, pidPath, hint string) error {
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	if pid, running := runningInstance(&http.Client{Timeout: 2 * time.Second}, healthURL, pidPath); running {
		msg := fmt.Sprintf("twin is already running on port %d", cfg.Server.Port)
		if pid > 0 {
			msg = fmt.Sprintf("twin is already running (PID %d)", pid)
		}
		if hint != "" {
			msg += "; " + hint
		}
		printWarning("%s", msg)
		return errors.New(msg)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	return nil
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// app is the assembled server graph.
type app struct {
	pipeline *pipeline.Pipeline
	sweeper  *maintenance.Sweeper
	handler  http.Handler
	mcp      *server.MCPServer
}

// assemble builds every component on top of an open store. Persisted custom
// questions are restored and the memory ID sequence resumes after the
// largest stored ID.
func assemble(ctx context.Context, cfg config.Config, store *storage.Store) (*app, error) {
	logger := slog.Default()

	cat, err := catalog.New(store)
	if err != nil {
		return nil, err
	}
	custom, err := store.ListQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading custom questions: %w", err)
	}
	cat.Restore(custom)

	lastMemory, err := store.MaxMemoryID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading memory sequence: %w", err)
	}

	eng := persona.NewEngine(cat,
		persona.WithStyleBlend(cfg.Engine.StyleBlend),
		persona.WithMemorySequence(lastMemory),
		persona.WithLogger(logger),
	)
	profiles := profile.NewManager(store, cfg.Profile.CacheTTL)
	pipe := pipeline.New(eng, cat, profiles, store, logger)

	return &app{
		pipeline: pipe,
		sweeper:  maintenance.NewSweeper(pipe, cfg.Maintenance.DecayInterval, cfg.Maintenance.Concurrency),
		handler:  api.NewAppHandler(api.AppDeps{Pipeline: pipe, Token: cfg.API.Token}),
		mcp:      api.NewMCPServer(api.MCPDeps{Pipeline: pipe, Version: version}),
	}, nil
}

func openStore(cfg config.Config) (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func closeStore(store *storage.Store) {
	if err := store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func serveMCP(ctx context.Context, s *server.MCPServer) error {
	stdio := server.NewStdioServer(s)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "twin version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if err := claimInstance(cfg, pidPath, ""); err != nil {
		return err
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	a, err := assemble(ctx, cfg, store)
	if err != nil {
		return err
	}

	go a.sweeper.Run(ctx)

	if withMCP {
		go func() {
			if err := serveMCP(ctx, a.mcp); err != nil {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("twin listening", "addr", addr, "max_conns", cfg.Server.MaxConns)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
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

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if err := claimInstance(cfg, pidPath, "use `twin start --mcp` to serve MCP from the running server"); err != nil {
		return err
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	a, err := assemble(ctx, cfg, store)
	if err != nil {
		return err
	}
	go a.sweeper.Run(ctx)
	return serveMCP(ctx, a.mcp)
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
		printError("twin is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop twin (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to twin (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &apiClient{
		baseURL:    serverURL,
		token:      cfg.API.Token,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	reportStatus(context.Background(), client, cfg)
	return nil
}

func reportStatus(ctx context.Context, client *apiClient, cfg config.Config) {
	resp, err := client.get(ctx, "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running {
		var deployed []storage.DeployedProfile
		if client.call(ctx, http.MethodGet, "/deployed", nil, &deployed) == nil {
			printStatus("Deployed twins", "%d", len(deployed))
		}
		var questions []catalog.Question
		if client.call(ctx, http.MethodGet, "/questions", nil, &questions) == nil {
			printStatus("Questions", "%d", len(questions))
		}
	}

	printStatus("Decay interval", "%s", cfg.Maintenance.DecayInterval)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
}
