// Command crewledger runs the CrewLedger ledger core: the HTTP server
// by default, plus migrate/seed/backup subcommands for operators.
//
// The dispatcher follows a Run(args, stdout, stderr) int entrypoint
// switched on args[1], with "serve" as the default when no subcommand
// is given.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peycheff/crewledger/pkg/auth"
	"github.com/peycheff/crewledger/pkg/backup"
	"github.com/peycheff/crewledger/pkg/config"
	"github.com/peycheff/crewledger/pkg/httpapi"
	"github.com/peycheff/crewledger/pkg/idempotency"
	"github.com/peycheff/crewledger/pkg/metrics"
	"github.com/peycheff/crewledger/pkg/pricing"
	"github.com/peycheff/crewledger/pkg/store"

	"go.opentelemetry.io/otel"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the dispatcher entrypoint, kept separate from main so tests
// can drive it without calling os.Exit.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		runServer(stdout)
		return 0
	}

	switch args[1] {
	case "serve", "server":
		runServer(stdout)
		return 0
	case "migrate":
		return runMigrate(args[2:], stdout, stderr)
	case "seed":
		return runSeed(args[2:], stdout, stderr)
	case "backup":
		return runBackupCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "CrewLedger")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  crewledger <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve             Run the HTTP server (default)")
	fmt.Fprintln(w, "  migrate up        Apply all pending schema migrations")
	fmt.Fprintln(w, "  seed admin        Create the first admin user")
	fmt.Fprintln(w, "  backup create     Take a hot backup of the live database")
	fmt.Fprintln(w, "  backup restore    Restore a named backup file")
	fmt.Fprintln(w, "  help              Show this help")
}

// openStore connects to Postgres when DATABASE_URL is set, otherwise
// falls back to local-first SQLite at cfg.DBPath.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	return store.Open(ctx, dsn, cfg.DBPath)
}

func runMigrate(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "up" {
		fmt.Fprintln(stderr, "Usage: crewledger migrate up")
		return 2
	}
	ctx := context.Background()
	cfg := config.Load()
	st, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening store: %v\n", err)
		return 1
	}
	defer st.DB.Close()
	if err := st.Migrate(ctx, store.Migrations); err != nil {
		fmt.Fprintf(stderr, "Error applying migrations: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "applied %d migrations\n", len(store.Migrations))
	return 0
}

func runSeed(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "admin" {
		fmt.Fprintln(stderr, "Usage: crewledger seed admin -name <name> -password <password>")
		return 2
	}
	cmd := flag.NewFlagSet("seed admin", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var name, password string
	cmd.StringVar(&name, "name", "", "admin username (REQUIRED)")
	cmd.StringVar(&password, "password", "", "admin password (REQUIRED)")
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}
	if name == "" || password == "" {
		fmt.Fprintln(stderr, "Error: -name and -password are required")
		return 2
	}

	ctx := context.Background()
	cfg := config.Load()
	st, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening store: %v\n", err)
		return 1
	}
	defer st.DB.Close()

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(stderr, "Error hashing password: %v\n", err)
		return 1
	}
	users := store.NewUserRepo(st.DB)
	id, err := users.CreateUser(ctx, auth.User{Name: name, Role: auth.RoleAdmin, Status: "active"}, hash)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating admin user: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "created admin user %d (%s)\n", id, name)
	return 0
}

func runBackupCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: crewledger backup <create|restore> [file]")
		return 2
	}
	cfg := config.Load()
	mgr := backup.NewManager(cfg.DBPath, cfg.BackupsDir)

	switch args[0] {
	case "create":
		man, err := mgr.Create(time.Now())
		if err != nil {
			fmt.Fprintf(stderr, "Error creating backup: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "backup created: %s (%d bytes, sha256 %s)\n", man.File, man.SizeBytes, man.SHA256)
		return 0
	case "restore":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "Usage: crewledger backup restore <file>")
			return 2
		}
		if err := mgr.Restore(args[1]); err != nil {
			fmt.Fprintf(stderr, "Error restoring backup: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "restored %s\n", args[1])
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown backup subcommand: %s\n", args[0])
		return 2
	}
}

// runServer wires every subsystem into a running HTTP server, blocking
// until SIGINT/SIGTERM.
func runServer(stdout io.Writer) {
	ctx := context.Background()
	logger := slog.Default()
	cfg := config.Load()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("crewledger: open store: %v", err)
	}
	if err := st.Migrate(ctx, store.Migrations); err != nil {
		log.Fatalf("crewledger: migrate: %v", err)
	}
	logger.Info("store ready", "dialect", st.Dialect)

	pricingStore, err := pricing.NewStore(cfg.PricingRulesPath)
	if err != nil {
		log.Fatalf("crewledger: load pricing rules: %v", err)
	}
	logger.Info("pricing rules loaded", "rules_sha", pricingStore.Current().RulesSHA())

	reloadOnSignal(pricingStore, logger)

	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)

	var cache idempotency.Cache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("crewledger: parse REDIS_URL: %v", err)
		}
		cache = idempotency.NewRedisCache(redis.NewClient(opts))
		logger.Info("idempotency cache: redis")
	} else {
		cache = idempotency.NewMemoryCache()
		logger.Info("idempotency cache: in-process memory")
	}

	sink := metrics.NewSink(cfg.MetricsDir)
	tracerProvider := metrics.NewTracerProvider(sink)
	otel.SetTracerProvider(tracerProvider)

	backupMgr := backup.NewManager(cfg.DBPath, cfg.BackupsDir)

	users := store.NewUserRepo(st.DB)

	deps := &httpapi.Deps{
		Store:                 st,
		Auth:                  auth.NewService(users, users, issuer),
		Issuer:                issuer,
		AdminSecret:           cfg.InternalAdminSecret,
		Cache:                 cache,
		CacheTTL:              10 * time.Minute,
		Metrics:               sink,
		Pricing:               pricingStore,
		Backup:                backupMgr,
		OCREnabled:            cfg.OCREnabled,
		ExpensePhotoThreshold: cfg.ExpensePhotoThresh,
	}

	router := httpapi.NewRouter(deps)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	go func() {
		fmt.Fprintf(stdout, "crewledger: listening on :%s\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("crewledger: server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = tracerProvider.Shutdown(shutdownCtx)
}

// reloadOnSignal drives pricing.Store.Reload from SIGHUP.
func reloadOnSignal(pricingStore *pricing.Store, logger *slog.Logger) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			if err := pricingStore.Reload(); err != nil {
				logger.Error("pricing reload failed", "error", err)
				continue
			}
			logger.Info("pricing rules reloaded", "rules_sha", pricingStore.Current().RulesSHA())
		}
	}()
}
