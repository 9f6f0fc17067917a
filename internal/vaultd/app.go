// Package vaultd initializes and runs the vault daemon. It wires the
// configured raw backend, the cipher engine, the encrypted store and the
// identity manager together, and handles graceful shutdown.
package vaultd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/calcwerk/vaultcore/internal/config"
	"github.com/calcwerk/vaultcore/internal/cryptox"
	"github.com/calcwerk/vaultcore/internal/identity"
	"github.com/calcwerk/vaultcore/internal/logging"
	"github.com/calcwerk/vaultcore/internal/store"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	store    *store.Store
	identity *identity.Manager
	closer   io.Closer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	backend, closer, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("backend init error: %w", err)
	}

	secrets, err := newSecretProvider(cfg)
	if err != nil {
		return nil, err
	}

	engine := cryptox.NewEngine(secrets)
	st := store.New(backend, engine, logger, cfg.Namespace, cfg.EncryptionEnabled)

	migrator := identity.NewMigrationEngine(logger)
	mgr := identity.NewManager(st, migrator, secrets, logger, identity.Options{
		SessionTTL:           cfg.SessionTTL,
		VerificationTokenTTL: cfg.VerificationTokenTTL,
	})

	return &App{config: cfg, logger: logger, store: st, identity: mgr, closer: closer}, nil
}

// openBackend selects and opens the raw backend named in the configuration.
// The returned closer is nil for backends that need no teardown.
func openBackend(ctx context.Context, cfg *config.Config) (store.RawBackend, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemoryBackend(), nil, nil
	case config.BackendSQLite:
		b, err := store.OpenSQLiteBackend(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case config.BackendS3:
		b, err := store.NewS3Backend(ctx, store.S3Config{
			RootUser:     cfg.S3RootUser,
			RootPassword: cfg.S3RootPassword,
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
			Prefix:       cfg.S3Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}

// newSecretProvider prepares the device secret. With passphrase unlock
// enabled, the secret is derived from an interactive passphrase and the
// namespace, so the same passphrase reopens the same store.
func newSecretProvider(cfg *config.Config) (*cryptox.SecretProvider, error) {
	if !cfg.PassphraseUnlock {
		return cryptox.NewSecretProvider(), nil
	}

	fmt.Print("Passphrase: ")
	passphrase, err := readPassphrase()
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("passphrase read error: %w", err)
	}

	return cryptox.NewSecretProviderFromPassphrase(passphrase, []byte(cfg.Namespace)), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.checkIntegrity(ctx); err != nil {
		return err
	}
	if err := app.reportStats(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	app.logger.Info(ctx, "Shutting down...")
	if app.closer != nil {
		if err := app.closer.Close(); err != nil {
			return fmt.Errorf("backend close error: %w", err)
		}
	}

	return nil
}

// checkIntegrity scans the store at startup and reports corrupted items.
func (app *App) checkIntegrity(ctx context.Context) error {
	report, err := app.store.VerifyIntegrity(ctx)
	if err != nil {
		return fmt.Errorf("integrity check error: %w", err)
	}

	app.logger.Info(ctx, "Integrity check finished",
		"total", report.TotalItems,
		"valid", report.ValidItems,
		"corrupted", report.CorruptedItems,
		"encryptionErrors", report.EncryptionErrors,
	)
	return nil
}

func (app *App) reportStats(ctx context.Context) error {
	stats, err := app.identity.GetServiceStats(ctx)
	if err != nil {
		return fmt.Errorf("stats error: %w", err)
	}

	app.logger.Info(ctx, "Service stats",
		"users", stats.TotalUsers,
		"activeSessions", stats.ActiveSessions,
		"storedItems", stats.Store.TotalItems,
		"encryption", stats.Store.EncryptionStatus,
	)
	return nil
}
