package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/systematics/examclient/internal/models"
	"github.com/systematics/examclient/internal/store"
)

// Persisted key names.
const (
	KeyToken         = "token"
	KeyTokenType     = "tokenType"
	KeyRole          = "userRole"
	KeyFullName      = "userFullName"
	KeyMajor         = "userMajor"
	KeyAvatarURL     = "avatarUrl"
	KeyEphemeralKeys = "ephemeralKeys"
)

var errIncompleteSession = errors.New("incomplete persisted session")

// sessionKeys lists every key owned by the session record.
func sessionKeys() []string {
	return []string{KeyToken, KeyTokenType, KeyRole, KeyFullName, KeyMajor, KeyAvatarURL}
}

// encodeSnapshot returns the entries to write for snap and the optional keys
// that must be removed because snap leaves them empty.
func encodeSnapshot(snap *models.Snapshot) (map[string]string, []string, error) {
	entries := map[string]string{
		KeyToken: snap.Token,
		KeyRole:  snap.Role.String(),
	}
	var stale []string

	optional := map[string]string{
		KeyTokenType: snap.TokenType,
		KeyFullName:  snap.Identity.FullName,
		KeyAvatarURL: snap.Identity.AvatarURL,
	}
	for key, value := range optional {
		if value == "" {
			stale = append(stale, key)
			continue
		}
		entries[key] = value
	}

	if snap.Identity.Major != nil {
		data, err := json.Marshal(snap.Identity.Major)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal major: %w", err)
		}
		entries[KeyMajor] = string(data)
	} else {
		stale = append(stale, KeyMajor)
	}

	return entries, stale, nil
}

// decodeSnapshot reads the persisted session. It returns nil when nothing is
// persisted and errIncompleteSession when only part of the credential is.
func decodeSnapshot(ctx context.Context, kv store.KVStore) (*models.Snapshot, error) {
	token, err := optionalValue(ctx, kv, KeyToken)
	if err != nil {
		return nil, err
	}
	role, err := optionalValue(ctx, kv, KeyRole)
	if err != nil {
		return nil, err
	}

	if token == "" && role == "" {
		return nil, nil
	}
	if token == "" || role == "" {
		return nil, fmt.Errorf("%w: token and role must both be present", errIncompleteSession)
	}
	if !models.Role(role).Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", errIncompleteSession, role)
	}

	snap := &models.Snapshot{
		Token:     token,
		Role:      models.Role(role),
		ExpiresAt: tokenExpiry(token),
	}

	if snap.TokenType, err = optionalValue(ctx, kv, KeyTokenType); err != nil {
		return nil, err
	}
	if snap.Identity.FullName, err = optionalValue(ctx, kv, KeyFullName); err != nil {
		return nil, err
	}
	if snap.Identity.AvatarURL, err = optionalValue(ctx, kv, KeyAvatarURL); err != nil {
		return nil, err
	}

	major, err := optionalValue(ctx, kv, KeyMajor)
	if err != nil {
		return nil, err
	}
	if major != "" {
		var m models.Major
		if err := json.Unmarshal([]byte(major), &m); err != nil {
			// Presentation only, the credential is still usable
			snap.Identity.Major = nil
		} else {
			snap.Identity.Major = &m
		}
	}

	return snap, nil
}

func optionalValue(ctx context.Context, kv store.KVStore, key string) (string, error) {
	value, err := kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

// tokenExpiry returns the exp claim of a JWT bearer token without verifying
// its signature; the server remains the authority on validity. Opaque tokens
// have no known expiry.
func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
