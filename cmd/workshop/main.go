package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/geethx/workshop/internal/api"
	"github.com/geethx/workshop/internal/auth"
	"github.com/geethx/workshop/internal/config"
	"github.com/geethx/workshop/internal/db"
	"github.com/geethx/workshop/internal/identity"
	"github.com/geethx/workshop/internal/inventory"
	"github.com/geethx/workshop/internal/lock"
	"github.com/geethx/workshop/internal/model"
	"github.com/geethx/workshop/internal/observability"
	"github.com/geethx/workshop/internal/store"
)

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	level  slog.Leveler
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= lr.level.Level()
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		level:  lr.level,
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		level:  lr.level,
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger configures structured logging. INFO/WARN go to stdout, ERROR goes
// to stderr. If logPath is non-empty, all levels are also written to that file.
// Records carry trace and span ids when a span is active.
// Returns a cleanup function that closes the log file (if opened).
func setupLogger(cfg config.Config) (func(), error) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var cleanup func()

	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	newHandler := func(w io.Writer) slog.Handler {
		if cfg.LogFormat == "json" {
			return slog.NewJSONHandler(w, opts)
		}
		return slog.NewTextHandler(w, opts)
	}

	handler := &levelRouter{
		level:  opts.Level,
		stdout: newHandler(stdoutW),
		stderr: newHandler(stderrW),
	}
	slog.SetDefault(slog.New(observability.NewTraceHandler(handler)).With("env", cfg.Env))
	return cleanup, nil
}

func main() {
	cfg := config.Load()

	fs := flag.NewFlagSet("workshop", flag.ContinueOnError)

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "")
	fs.StringVar(&cfg.DBPath, "d", cfg.DBPath, "")

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "")
	fs.StringVar(&cfg.Addr, "a", cfg.Addr, "")

	fs.StringVar(&cfg.AdminName, "user", cfg.AdminName, "")
	fs.StringVar(&cfg.AdminName, "u", cfg.AdminName, "")

	fs.StringVar(&cfg.LogFile, "log", cfg.LogFile, "")
	fs.StringVar(&cfg.LogFile, "l", cfg.LogFile, "")

	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: workshop [flags]

Flags:
  -d, -db <path>          SQLite database path (default: workshop.sqlite3, env WORKSHOP_DB)
  -a, -addr <host:port>   listen address (default: :8080, env WORKSHOP_ADDR)
  -u, -user <name>        admin username on first run (default: Admin, env WORKSHOP_ADMIN)
  -l, -log <path>         log file path (default: no file, stdout/stderr only)
  -h, -help               show this help and exit

Other settings are read from the environment or a .env file.
`)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", fs.Arg(0))
		fs.Usage()
		os.Exit(1)
	}

	closeLog, err := setupLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if closeLog != nil {
		defer closeLog()
	}

	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		if closeLog != nil {
			closeLog()
		}
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx := context.Background()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.InitTracer(ctx, "workshop", cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				slog.Warn("tracer shutdown", "error", err)
			}
		}()
		slog.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint)
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	slog.Info("database ready", "path", cfg.DBPath)

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		// Generated on first run and kept in the settings table.
		if jwtSecret, err = store.GetJWTSecret(ctx, database); err != nil {
			return fmt.Errorf("loading jwt secret: %w", err)
		}
	}

	ids := identity.New(database, auth.NewIssuer(jwtSecret, cfg.TokenTTL), identity.Config{
		AllowRegistration: cfg.AllowRegistration,
	})

	if err := bootstrap(ctx, database, ids, cfg); err != nil {
		return err
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go pruneRevocations(janitorCtx, ids, time.Hour)

	readyChecks := map[string]func(context.Context) error{}

	var locker lock.Locker
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		rl := lock.NewRedis(lock.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.LockTTL,
		})
		defer rl.Close()
		if err := rl.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		readyChecks["redis"] = rl.Ping
		locker = rl
	case config.LockBackendMemory:
		locker = lock.NewMemory()
	default:
		return fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
	slog.Info("item locks ready", "backend", cfg.LockBackend, "timeout", cfg.LockTimeout)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	inv := inventory.New(database, locker, metrics, inventory.Config{
		LockTimeout:   cfg.LockTimeout,
		StatsCacheTTL: cfg.StatsCacheTTL,
	})

	handler := api.NewRouter(api.Deps{
		DB:           database,
		Identity:     ids,
		Inventory:    inv,
		Metrics:      metrics,
		Gatherer:     reg,
		LoginLimiter: api.NewRateLimiter(cfg.LoginRatePerMin, cfg.LoginBurst).TrustProxies(cfg.TrustedProxies...),
		ReadyChecks:  readyChecks,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	<-done

	slog.Info("server stopped, closing database")
	return nil
}

// pruneRevocations periodically drops revocations of tokens that have
// expired on their own.
func pruneRevocations(ctx context.Context, ids *identity.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ids.PruneRevocations(ctx)
			if err != nil {
				slog.Warn("pruning token revocations", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("pruned token revocations", "count", n)
			}
		}
	}
}

// bootstrap creates the first accounts of an empty database and prints their
// generated passwords.
func bootstrap(ctx context.Context, database *sql.DB, ids *identity.Service, cfg config.Config) error {
	n, err := store.CountUsers(ctx, database)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if n > 0 {
		return nil
	}

	accounts := []struct{ name, role string }{{cfg.AdminName, model.RoleAdmin}}
	if cfg.UserAdminName != "" {
		accounts = append(accounts, struct{ name, role string }{cfg.UserAdminName, model.RoleUserAdmin})
	}

	for _, acc := range accounts {
		password, err := generatePassword(16)
		if err != nil {
			return fmt.Errorf("generating password: %w", err)
		}
		if _, err := ids.Provision(ctx, acc.name, password, acc.role); err != nil {
			return fmt.Errorf("creating %s account: %w", acc.role, err)
		}
		slog.Info("account provisioned", "name", acc.name, "role", acc.role)
		printAccount(acc.name, acc.role, password)
	}
	return nil
}

// printAccount prints a provisioned account to stdout.
func printAccount(name, role, password string) {
	fmt.Println()
	fmt.Printf("Account created (%s):\n", role)
	fmt.Printf("  Username: %s\n", name)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password. It cannot be recovered.")
	fmt.Println("It can be changed after logging in.")
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
