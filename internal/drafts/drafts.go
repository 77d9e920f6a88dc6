// Package drafts keeps in-progress exam answers on the device so an attempt
// survives a restart. Every key it writes is registered as ephemeral and is
// removed when the session ends.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/systematics/examclient/internal/store"
)

const (
	owner = "drafts"

	draftPrefix = "exam-draft-"
	startPrefix = "exam-start-"
)

var (
	ErrInvalidAttemptID = errors.New("attempt ID must be a UUID")
	ErrNoDraft          = errors.New("no draft for attempt")
)

// Registry records ephemeral keys so logout can purge them.
type Registry interface {
	Register(ctx context.Context, owner, key string) error
	Deregister(ctx context.Context, owner, key string) error
}

// Draft is the saved state of one attempt.
type Draft struct {
	AttemptID uuid.UUID      `json:"attempt_id"`
	Answers   map[string]any `json:"answers"`
	SavedAt   time.Time      `json:"saved_at"`
}

// Store saves and restores exam drafts.
type Store struct {
	kv       store.KVStore
	registry Registry
	now      func() time.Time
}

// New creates a draft store writing to kv and registering keys with registry.
func New(kv store.KVStore, registry Registry) *Store {
	return &Store{kv: kv, registry: registry, now: time.Now}
}

// DraftKey returns the storage key of an attempt's answers.
func DraftKey(attemptID uuid.UUID) string {
	return draftPrefix + attemptID.String()
}

// StartKey returns the storage key of an attempt's start time.
func StartKey(attemptID uuid.UUID) string {
	return startPrefix + attemptID.String()
}

// ParseAttemptID validates an attempt ID.
func ParseAttemptID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidAttemptID, raw)
	}
	return id, nil
}

// Start records when an attempt began. An existing start time is kept.
func (s *Store) Start(ctx context.Context, attemptID uuid.UUID) (time.Time, error) {
	key := StartKey(attemptID)

	if started, err := s.Started(ctx, attemptID); err == nil {
		return started, nil
	} else if !errors.Is(err, ErrNoDraft) {
		return time.Time{}, err
	}

	// Register before writing so a crash in between cannot leave an orphan
	if err := s.registry.Register(ctx, owner, key); err != nil {
		return time.Time{}, fmt.Errorf("failed to register %s: %w", key, err)
	}

	started := s.now().UTC()
	if err := s.kv.Set(ctx, key, started.Format(time.RFC3339Nano)); err != nil {
		return time.Time{}, fmt.Errorf("failed to save start time: %w", err)
	}

	log.Debug().Str("attemptID", attemptID.String()).Time("started", started).Msg("attempt started")

	return started, nil
}

// Started returns when an attempt began.
func (s *Store) Started(ctx context.Context, attemptID uuid.UUID) (time.Time, error) {
	raw, err := s.kv.Get(ctx, StartKey(attemptID))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return time.Time{}, ErrNoDraft
		}
		return time.Time{}, err
	}

	started, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse start time: %w", err)
	}
	return started, nil
}

// Save writes the answers of an attempt.
func (s *Store) Save(ctx context.Context, attemptID uuid.UUID, answers map[string]any) error {
	key := DraftKey(attemptID)

	if answers == nil {
		answers = map[string]any{}
	}

	data, err := json.Marshal(Draft{AttemptID: attemptID, Answers: answers, SavedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal draft: %w", err)
	}

	if err := s.registry.Register(ctx, owner, key); err != nil {
		return fmt.Errorf("failed to register %s: %w", key, err)
	}

	if err := s.kv.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}

	log.Debug().Str("attemptID", attemptID.String()).Int("answers", len(answers)).Msg("draft saved")

	return nil
}

// Load returns the saved answers of an attempt.
func (s *Store) Load(ctx context.Context, attemptID uuid.UUID) (*Draft, error) {
	raw, err := s.kv.Get(ctx, DraftKey(attemptID))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, ErrNoDraft
		}
		return nil, err
	}

	var d Draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("failed to parse draft: %w", err)
	}

	return &d, nil
}

// Discard removes everything stored for an attempt, typically after submit.
func (s *Store) Discard(ctx context.Context, attemptID uuid.UUID) error {
	keys := []string{DraftKey(attemptID), StartKey(attemptID)}

	if err := s.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to discard draft: %w", err)
	}

	for _, key := range keys {
		if err := s.registry.Deregister(ctx, owner, key); err != nil {
			return fmt.Errorf("failed to deregister %s: %w", key, err)
		}
	}

	return nil
}
