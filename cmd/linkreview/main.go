// Package main is the entry point for the linkreview server.
//
// linkreview lets several reviewers go through a shared JSON file of
// cross-reference links, marking each entry's Status. The records live in
// memory and are saved to a single canonical file in the data directory.
// Configuration is read from CLI flags, a .env file and server_config.yaml.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
	"github.com/maruel/linkreview/internal/history"
	"github.com/maruel/linkreview/internal/server"
	"github.com/maruel/linkreview/internal/server/ratelimit"
	"github.com/maruel/linkreview/internal/storage"
	"github.com/maruel/linkreview/internal/store"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "linkreview: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	httpAddr := flag.String("http", "localhost:8080", "Address to listen on (e.g., localhost:8080, :8080, 0.0.0.0:8080)")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	adminUser := flag.String("admin-user", "", "Username allowed to upload, download and force a save (overrides server_config.yaml)")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	slog.SetDefault(newLogger(ll))

	if err := os.MkdirAll(*dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	env, err := loadDotEnv(*dataDir)
	if err != nil {
		return err
	}
	serverCfg, err := storage.LoadServerConfig(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", storage.ConfigFileName, err)
	}

	// .env values apply unless the flag was explicitly set.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	applyEnv(set, env, "http", "HTTP", httpAddr)
	applyEnv(set, env, "log-level", "LOG_LEVEL", logLevel)
	applyEnv(set, env, "admin-user", "ADMIN_USER", adminUser)
	if *adminUser != "" {
		serverCfg.AdminUser = *adminUser
	}

	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", *logLevel)
	}

	// Normalize addr: ":8080" becomes "localhost:8080"
	addr := *httpAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid -http address %q: %w", addr, err)
	}

	fs := afero.NewOsFs()
	dataFile := filepath.Join(*dataDir, serverCfg.DataFile)
	fileStore, err := storage.NewFileStore(fs, dataFile)
	if err != nil {
		return err
	}

	var repo *history.Repo
	if serverCfg.History {
		if repo, err = history.Open(*dataDir, "linkreview", "linkreview@localhost"); err != nil {
			return err
		}
	}

	mgr := store.New(fileStore, store.Options{
		SaveThreshold: serverCfg.SaveThreshold,
		StaleAfter:    serverCfg.StaleAfter,
		ActiveWindow:  serverCfg.ActiveWindow,
		ReloadWindow:  serverCfg.ReloadWindow,
		OnFlush:       commitFlush(ctx, repo, dataFile),
	})
	if err := mgr.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			slog.ErrorContext(ctx, "Failed to save records on shutdown", "err", err)
		}
	}()

	// Watch own executable for modifications (for development restarts)
	if err := watchExecutable(ctx, stop); err != nil {
		return fmt.Errorf("failed to watch executable: %w", err)
	}

	limits := ratelimit.NewConfig(serverCfg.RateLimits.WriteRatePerMin)
	defer limits.Close()

	buildVersion, _, buildRevision, _ := getBuildInfo()
	httpServer := &http.Server{
		Addr: addr,
		Handler: server.NewRouter(&server.Config{
			Manager:             mgr,
			History:             repo,
			RateLimit:           limits,
			Fs:                  fs,
			DataFile:            dataFile,
			AdminUser:           serverCfg.AdminUser,
			Version:             buildVersion,
			Commit:              buildRevision,
			MaxRequestBodyBytes: serverCfg.MaxRequestBodyBytes,
		}),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", addr, "data", dataFile, "admin", serverCfg.AdminUser, "version", buildVersion)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

// newLogger returns a tint logger on stderr that drops zero-valued attributes.
func newLogger(ll *slog.LevelVar) *slog.Logger {
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case int64:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// commitFlush returns the flush observer committing the data file to repo.
// It returns nil when history is disabled.
func commitFlush(ctx context.Context, repo *history.Repo, dataFile string) func(store.FlushEvent) {
	if repo == nil {
		return nil
	}
	return func(ev store.FlushEvent) {
		msg := fmt.Sprintf("%s: %d changes", ev.Trigger, ev.Pending)
		h, err := repo.Commit(dataFile, ev.Authors, msg, ev.At)
		if err != nil {
			slog.WarnContext(ctx, "Failed to commit records", "err", err)
			return
		}
		slog.DebugContext(ctx, "Committed records", "hash", h, "authors", strings.Join(ev.Authors, ","))
	}
}

// applyEnv sets *dst from env[key] unless the flag was set on the command line.
func applyEnv(set map[string]bool, env map[string]string, flagName, key string, dst *string) {
	if set[flagName] {
		return
	}
	if v := env[key]; v != "" {
		*dst = v
	}
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("linkreview %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

func loadDotEnv(dataDir string) (map[string]string, error) {
	env := make(map[string]string)
	path := filepath.Join(dataDir, ".env")
	envContent, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir flag, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil
		}
		return nil, err
	}

	for line := range strings.SplitSeq(string(envContent), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if strings.HasPrefix(val, "'") || strings.HasSuffix(val, "'") {
			return nil, fmt.Errorf("single quotes are not supported in .env: %s", line)
		}
		if strings.HasPrefix(val, "\"") {
			unquoted, err := strconv.Unquote(val)
			if err != nil {
				return nil, fmt.Errorf("failed to unquote %s: %w", key, err)
			}
			val = unquoted
		}
		env[key] = val
	}
	return env, nil
}

// watchExecutable watches the current executable for modifications and calls
// stop to trigger graceful shutdown when detected. This enables seamless
// restarts during development.
func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(exe); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
					slog.InfoContext(ctx, "Executable modified, initiating shutdown")
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching executable", "err", err)
			}
		}
	}()
	return nil
}
