package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/systematics/examclient/internal/authz"
	"github.com/systematics/examclient/internal/client"
	"github.com/systematics/examclient/internal/config"
	"github.com/systematics/examclient/internal/drafts"
	"github.com/systematics/examclient/internal/logger"
	"github.com/systematics/examclient/internal/router"
	"github.com/systematics/examclient/internal/session"
	"github.com/systematics/examclient/internal/store"
	filestore "github.com/systematics/examclient/internal/store/file"
	memorystore "github.com/systematics/examclient/internal/store/memory"
	postgresstore "github.com/systematics/examclient/internal/store/postgres"
	"github.com/systematics/examclient/internal/telemetry"
)

type Globals struct {
	Debug     bool
	Version   string
	Config    string
	Server    string
	StoreType string
}

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	session *session.Store
	router  *router.Router
	guard   *authz.Guard
	client  *client.Client
	assets  *client.AssetClient
	drafts  *drafts.Store

	// expired is signalled when the idle monitor ends the session.
	expired chan struct{}

	closers []func()
}

func newApp(ctx context.Context, globals *Globals) (*app, error) {
	log.Logger = logger.Setup(globals.Debug)
	zerolog.DefaultContextLogger = &log.Logger

	cfg, err := config.Load(globals.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if globals.Server != "" {
		cfg.Server.URL = globals.Server
	}
	if globals.StoreType != "" {
		cfg.Store.Type = globals.StoreType
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, expired: make(chan struct{}, 1)}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry.Enabled, cfg.Telemetry.ServiceName, globals.Version)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
	} else {
		a.closers = append(a.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		})
	}

	kv, closeKV, err := openKVStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeKV)

	metrics := telemetry.GetMetrics()

	a.session, err = session.NewStore(kv, session.Options{
		IdleTimeout: cfg.Session.Idle(),
		Metrics:     metrics,
		OnLogout:    a.onLogout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = a.session.Close() })

	a.router, err = router.New(router.DefaultRoutes(), router.Options{RootRedirect: cfg.Routes.Landing})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.guard = authz.NewGuard(a.session, authz.GuardConfig{
		LandingRoute:   cfg.Routes.Landing,
		ForbiddenRoute: cfg.Routes.Forbidden,
		Matrix:         authz.NewRoleMatrix(router.SharedRoutes()...),
		Metrics:        metrics,
	})
	if err := a.router.BeforeEach(a.guard.Check); err != nil {
		a.Close()
		return nil, err
	}
	a.router.AfterEach(router.TitleHook(a.router))

	a.client, err = client.New(client.Config{
		ServerURL:      cfg.Server.URL,
		Timeout:        cfg.Server.RequestTimeout(),
		LandingRoute:   cfg.Routes.Landing,
		ForbiddenRoute: cfg.Routes.Forbidden,
		Metrics:        metrics,
	}, a.session, a.router)
	if err != nil {
		a.Close()
		return nil, err
	}

	cacheDir, err := assetCacheDir(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.assets = client.NewAssetClient(cacheDir)
	a.drafts = drafts.New(kv, a.session.Ephemeral())

	if err := a.session.Rehydrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}

	// Land on the root so guards have a current location
	if _, err := a.router.Push(ctx, "/"); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) onLogout(ctx context.Context, reason session.Reason) {
	if reason != session.ReasonIdleTimeout {
		return
	}

	if a.router != nil && a.router.Current() != a.cfg.Routes.Landing {
		if err := a.router.Replace(ctx, a.cfg.Routes.Landing); err != nil {
			log.Warn().Err(err).Msg("failed to leave page after idle timeout")
		}
	}

	select {
	case a.expired <- struct{}{}:
	default:
	}
}

func openKVStore(ctx context.Context, cfg *config.Config) (store.KVStore, func(), error) {
	switch cfg.Store.Type {
	case config.StorePostgres:
		pool, err := postgresstore.NewPool(ctx, &cfg.Store.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		kv, err := postgresstore.NewKVStore(ctx, pool, cfg.Store.Namespace)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to create postgres store: %w", err)
		}
		log.Debug().Str("namespace", cfg.Store.Namespace).Msg("Using PostgreSQL session store")
		return kv, pool.Close, nil

	case config.StoreMemory:
		log.Debug().Msg("Using in-memory session store, sessions end with the process")
		return memorystore.NewKVStore(), func() {}, nil

	default:
		kv, err := filestore.NewKVStore(cfg.Store.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create file store: %w", err)
		}
		return kv, func() {}, nil
	}
}

func assetCacheDir(cfg *config.Config) (string, error) {
	if cfg.Store.CacheDir != "" {
		return cfg.Store.CacheDir, nil
	}

	dir := cfg.Store.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".examclient")
	}

	return filepath.Join(dir, "cache"), nil
}

// describeError turns API errors into a user-facing message.
func describeError(err error) error {
	switch {
	case errors.Is(err, client.ErrAuthExpired):
		return fmt.Errorf("session expired or credentials rejected, sign in again: %w", err)
	case errors.Is(err, client.ErrAccessDenied):
		return fmt.Errorf("your role does not allow this: %w", err)
	default:
		return err
	}
}
