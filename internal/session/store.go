// Package session holds the authenticated identity of the running client.
//
// A Store is the single source of truth for the bearer token and role. All
// mutations (Login, Logout, UpdateIdentityField, Rehydrate) are messages
// handled in order by one writer goroutine; readers load an immutable
// snapshot and never observe a token without a role or the reverse.
//
// Logout is the one teardown entry point shared by explicit sign-out, the
// idle monitor and the HTTP interceptor, so racing teardowns collapse into a
// single transition.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/systematics/examclient/internal/idle"
	"github.com/systematics/examclient/internal/logger"
	"github.com/systematics/examclient/internal/models"
	"github.com/systematics/examclient/internal/store"
	"github.com/systematics/examclient/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sentinel errors
var (
	// ErrInvalidLogin is returned when a login response lacks a token or a known role.
	ErrInvalidLogin = errors.New("invalid login response")

	// ErrNotAuthenticated is returned when an operation needs a signed-in session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrUnknownField is returned by UpdateIdentityField for unsupported fields.
	ErrUnknownField = errors.New("unknown identity field")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session store closed")
)

// Reason explains why a session ended.
type Reason string

const (
	ReasonUserLogout   Reason = "user_logout"
	ReasonIdleTimeout  Reason = "idle_timeout"
	ReasonAuthExpired  Reason = "auth_expired"
	ReasonTokenExpired Reason = "token_expired"
)

// Field names a mutable identity attribute.
type Field string

const (
	FieldAvatarURL Field = "avatarUrl"
	FieldFullName  Field = "userFullName"
)

// Options configures a Store.
type Options struct {
	// IdleTimeout defaults to idle.DefaultTimeout.
	IdleTimeout time.Duration

	// OnLogout is called after every Anonymous transition, from the goroutine
	// that requested it. It is not called for no-op logouts.
	OnLogout func(ctx context.Context, reason Reason)

	Metrics *telemetry.Metrics
}

type result struct {
	changed bool
	err     error
}

type command struct {
	ctx   context.Context
	apply func(ctx context.Context) (bool, error)
	reply chan result
}

// Store owns the session state. Create it with NewStore and release it with
// Close.
type Store struct {
	kv        store.KVStore
	current   atomic.Pointer[models.Snapshot]
	idle      *idle.Monitor
	ephemeral *Registry
	onLogout  func(ctx context.Context, reason Reason)
	metrics   *telemetry.Metrics

	cmds      chan command
	done      chan struct{}
	closeOnce sync.Once
}

// NewStore creates an anonymous session store backed by kv. Call Rehydrate
// to restore a session persisted by an earlier process.
func NewStore(kv store.KVStore, opts Options) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("key-value store is required")
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.GetMetrics()
	}

	s := &Store{
		kv:        kv,
		ephemeral: newRegistry(kv),
		onLogout:  opts.OnLogout,
		metrics:   metrics,
		cmds:      make(chan command),
		done:      make(chan struct{}),
	}
	s.current.Store(models.Anonymous)
	s.idle = idle.NewMonitor(opts.IdleTimeout, s.expireIdle, metrics)

	go s.run()

	return s, nil
}

// Close stops the writer goroutine and the idle timer. The store rejects
// further mutations with ErrClosed; readers keep seeing the last snapshot.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.idle.Stop()
	})
	return nil
}

// Snapshot returns the current session state.
func (s *Store) Snapshot() models.Snapshot {
	return *s.current.Load()
}

// Token returns the bearer token, or "" when anonymous.
func (s *Store) Token() string {
	return s.current.Load().Token
}

// Role returns the signed-in role, or "" when anonymous.
func (s *Store) Role() models.Role {
	return s.current.Load().Role
}

// Authenticated returns true while a session is signed in.
func (s *Store) Authenticated() bool {
	return s.current.Load().Authenticated()
}

// Idle returns the idle monitor so activity sources can be attached.
func (s *Store) Idle() *idle.Monitor {
	return s.idle
}

// Ephemeral returns the registry of keys purged on logout.
func (s *Store) Ephemeral() *Registry {
	return s.ephemeral
}

// Login publishes the session described by resp, persists it and arms the
// idle monitor. A previous session is replaced in one step.
func (s *Store) Login(ctx context.Context, resp models.LoginResponse) error {
	if resp.AccessToken == "" {
		return fmt.Errorf("%w: missing access token", ErrInvalidLogin)
	}
	if !resp.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidLogin, resp.Role)
	}

	_, err := s.do(ctx, func(ctx context.Context) (bool, error) {
		return true, s.applyLogin(ctx, resp)
	})
	return err
}

// Logout ends the session: the snapshot becomes anonymous, the idle timer is
// cancelled and the persisted session and every registered ephemeral key are
// removed. Logging out an anonymous session only retries that removal; it
// records no metric and does not call OnLogout.
//
// Cancellation of ctx does not stop the teardown.
func (s *Store) Logout(ctx context.Context, reason Reason) error {
	return s.logout(ctx, reason, nil)
}

// logout runs the teardown unless valid, checked on the writer goroutine,
// reports false.
func (s *Store) logout(ctx context.Context, reason Reason, valid func() bool) error {
	ctx = context.WithoutCancel(ctx)

	changed, err := s.do(ctx, func(ctx context.Context) (bool, error) {
		if valid != nil && !valid() {
			log.Debug().Str("reason", string(reason)).Msg("dropping stale logout")
			return false, nil
		}
		return s.applyLogout(ctx, reason)
	})
	if changed && s.onLogout != nil {
		s.onLogout(ctx, reason)
	}
	return err
}

// UpdateIdentityField changes one presentation attribute of the signed-in
// user. Token, role and the idle timer are left alone.
func (s *Store) UpdateIdentityField(ctx context.Context, field Field, value string) error {
	_, err := s.do(ctx, func(ctx context.Context) (bool, error) {
		return true, s.applyIdentityField(ctx, field, value)
	})
	return err
}

// Rehydrate restores a session persisted by an earlier process. Incomplete
// records and expired tokens are discarded.
func (s *Store) Rehydrate(ctx context.Context) error {
	_, err := s.do(ctx, func(ctx context.Context) (bool, error) {
		return true, s.applyRehydrate(ctx)
	})
	return err
}

// expireIdle is dropped when the monitor was re-armed, by a new login, after
// the timer of generation gen fired.
func (s *Store) expireIdle(gen uint64) {
	current := func() bool { return s.idle.Current(gen) }
	if err := s.logout(context.Background(), ReasonIdleTimeout, current); err != nil && !errors.Is(err, ErrClosed) {
		log.Error().Err(err).Msg("failed to tear down idle session")
	}
}

// do hands fn to the writer goroutine and waits for it to finish.
func (s *Store) do(ctx context.Context, fn func(ctx context.Context) (bool, error)) (bool, error) {
	reply := make(chan result, 1)

	select {
	case s.cmds <- command{ctx: ctx, apply: fn, reply: reply}:
	case <-s.done:
		return false, ErrClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}

	r := <-reply
	return r.changed, r.err
}

func (s *Store) run() {
	for {
		select {
		case cmd := <-s.cmds:
			select {
			case <-s.done:
				cmd.reply <- result{err: ErrClosed}
				return
			default:
			}
			changed, err := cmd.apply(cmd.ctx)
			cmd.reply <- result{changed: changed, err: err}
		case <-s.done:
			return
		}
	}
}

func (s *Store) applyLogin(ctx context.Context, resp models.LoginResponse) error {
	snap := &models.Snapshot{
		Token:     resp.AccessToken,
		TokenType: resp.TokenType,
		Role:      resp.Role,
		Identity: models.Identity{
			FullName:  resp.FullName,
			AvatarURL: resp.AvatarURL,
			Major:     resp.Major(),
		},
		ExpiresAt: tokenExpiry(resp.AccessToken),
	}

	entries, stale, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	// The new session starts without the previous one's scratch state
	if s.current.Load().Authenticated() {
		if err := s.purge(ctx); err != nil {
			return fmt.Errorf("failed to remove previous session data: %w", err)
		}
	}

	if err := s.kv.SetMany(ctx, entries); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	if err := s.kv.Delete(ctx, stale...); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	s.current.Store(snap)
	s.idle.Arm()

	s.metrics.LoginsTotal.Add(ctx, 1)

	log.Info().
		Str("role", snap.Role.String()).
		Str("token", logger.Fingerprint(snap.Token)).
		Dur("idleTimeout", s.idle.Timeout()).
		Msg("session started")

	return nil
}

func (s *Store) applyLogout(ctx context.Context, reason Reason) (bool, error) {
	changed := s.current.Load().Authenticated()

	// Readers see the teardown before storage is touched
	s.current.Store(models.Anonymous)
	s.idle.Stop()

	if changed {
		s.metrics.LogoutsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))

		log.Info().
			Str("reason", string(reason)).
			Int("ephemeralKeys", len(s.ephemeral.Keys())).
			Msg("session ended")
	}

	if err := s.purge(ctx, sessionKeys()...); err != nil {
		return changed, fmt.Errorf("failed to remove persisted session: %w", err)
	}

	return changed, nil
}

// purge deletes keys, every registered ephemeral key and the registry
// record. Registered keys are forgotten only once storage no longer holds
// them, so a failed purge is retried by the next one.
func (s *Store) purge(ctx context.Context, keys ...string) error {
	ephemeral := s.ephemeral.Keys()

	keys = append(keys, ephemeral...)
	keys = append(keys, KeyEphemeralKeys)

	if err := s.kv.Delete(ctx, keys...); err != nil {
		return err
	}

	return s.ephemeral.forget(ctx, ephemeral)
}

func (s *Store) applyIdentityField(ctx context.Context, field Field, value string) error {
	cur := s.current.Load()
	if !cur.Authenticated() {
		return ErrNotAuthenticated
	}

	next := *cur
	switch field {
	case FieldAvatarURL:
		next.Identity.AvatarURL = value
	case FieldFullName:
		next.Identity.FullName = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	if value == "" {
		if err := s.kv.Delete(ctx, string(field)); err != nil {
			return fmt.Errorf("failed to persist %s: %w", field, err)
		}
	} else if err := s.kv.Set(ctx, string(field), value); err != nil {
		return fmt.Errorf("failed to persist %s: %w", field, err)
	}

	s.current.Store(&next)

	log.Debug().Str("field", string(field)).Msg("identity updated")

	return nil
}

func (s *Store) applyRehydrate(ctx context.Context) error {
	if err := s.ephemeral.load(ctx); err != nil {
		log.Warn().Err(err).Msg("discarding unreadable ephemeral key registry")
	}

	snap, err := decodeSnapshot(ctx, s.kv)
	if err != nil {
		if !errors.Is(err, errIncompleteSession) {
			return err
		}

		log.Warn().Err(err).Msg("discarding incomplete persisted session")
		s.current.Store(models.Anonymous)
		return s.kv.Delete(ctx, sessionKeys()...)
	}

	if snap == nil {
		s.current.Store(models.Anonymous)
		return nil
	}

	if snap.IsExpired() {
		log.Info().Time("expiredAt", snap.ExpiresAt).Msg("persisted session token expired")
		s.current.Store(models.Anonymous)
		s.metrics.LogoutsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(ReasonTokenExpired))))
		return s.purge(ctx, sessionKeys()...)
	}

	s.current.Store(snap)
	s.idle.Arm()

	log.Info().
		Str("role", snap.Role.String()).
		Str("token", logger.Fingerprint(snap.Token)).
		Msg("session restored")

	return nil
}
