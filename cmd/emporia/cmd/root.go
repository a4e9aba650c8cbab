package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmcleod/emporia/api"
	"github.com/jmcleod/emporia/cart"
	"github.com/jmcleod/emporia/checkout"
	"github.com/jmcleod/emporia/internal/config"
	"github.com/jmcleod/emporia/internal/logging"
	"github.com/jmcleod/emporia/session"
	"github.com/jmcleod/emporia/storage"
	bboltstorage "github.com/jmcleod/emporia/storage/bbolt"
	"github.com/jmcleod/emporia/storage/memory"
	redisstorage "github.com/jmcleod/emporia/storage/redis"
)

// Command annotations read by the root PersistentPreRunE.
const (
	// skipSetup marks commands that run without configuration or storage.
	skipSetup = "skip-setup"
	// skipRestore marks commands that need the raw store before the
	// managers load (and possibly reset) persisted state.
	skipRestore = "skip-restore"
)

var (
	cfgFile string
	envFile string

	// app is populated by the root PersistentPreRunE for every command that
	// does not carry the skipSetup annotation.
	app *appContext
)

// appContext is the wired client: configuration, storage and the managers.
type appContext struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    storage.Store
	closers  []func() error
	client   *api.Client
	sessions *session.Manager
	cart     *cart.Manager
	checkout *checkout.Orchestrator
}

var rootCmd = &cobra.Command{
	Use:   "emporia",
	Short: "Emporia is a storefront client",
	Long: `A storefront client: browse the catalog, keep a cart, log in and check out
against a remote storefront API. Session and cart survive restarts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !needsSetup(cmd) {
			return nil
		}
		if err := loadEnvFile(envFile); err != nil {
			return err
		}
		cfg, err := config.Load(cmd.Flags(), cfgFile)
		if err != nil {
			return err
		}
		a, err := newApp(cfg, cmd.Annotations[skipRestore] != "true")
		if err != nil {
			return err
		}
		app = a
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if app == nil {
			return nil
		}
		return app.close()
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	pf.StringVar(&envFile, "env-file", ".env", "Path to a dotenv file with EMPORIA_* variables")
	pf.String("api-url", "", "Storefront API base URL")
	pf.String("data-dir", "", "Directory for persistent client state")
	pf.String("store", "", "State backend: bbolt, memory or redis")
	pf.String("redis-addr", "", "Redis address for the redis backend")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: console or json")
}

// needsSetup reports whether cmd runs against configuration and storage.
// Cobra's generated help and completion commands do not.
func needsSetup(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipSetup] == "true" || c.Name() == "help" || c.Name() == "completion" {
			return false
		}
	}
	return true
}

// loadEnvFile loads path into the process environment. A missing file is
// not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func newApp(cfg *config.Config, restore bool) (*appContext, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	a := &appContext{cfg: cfg, logger: logger}

	if err := a.openStore(); err != nil {
		return nil, errors.Join(err, a.close())
	}

	a.client = api.NewClient(cfg.APIURL,
		api.WithTimeout(cfg.HTTPTimeout),
		api.WithRateLimit(cfg.RequestsPerSecond, 1),
		api.WithLogger(logger))
	a.sessions = session.NewManager(a.store, a.client, session.WithLogger(logger))
	a.client.SetTokenSource(a.sessions)
	a.cart = cart.NewManager(a.store, cart.WithLogger(logger))
	a.checkout = checkout.New(a.client, a.sessions, a.cart,
		checkout.WithLogger(logger),
		checkout.WithVerifyAttempts(cfg.VerifyAttempts))

	if restore {
		a.sessions.Restore()
		a.cart.Restore()
	}
	return a, nil
}

func (a *appContext) openStore() error {
	origin := a.cfg.Origin()
	switch a.cfg.Store {
	case config.StoreMemory:
		a.store = memory.NewStore().Origin(origin)
	case config.StoreBBolt:
		if err := os.MkdirAll(a.cfg.DataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err := bboltstorage.NewStoreFromFile(filepath.Join(a.cfg.DataDir, "emporia.db"), origin, nil)
		if err != nil {
			return fmt.Errorf("failed to open client state: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	case config.StoreRedis:
		client := goredis.NewClient(&goredis.Options{Addr: a.cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("failed to reach redis at %s: %w", a.cfg.RedisAddr, err)
		}
		a.store = redisstorage.NewStore(client, origin)
		a.closers = append(a.closers, client.Close)
	}
	return nil
}

func (a *appContext) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
