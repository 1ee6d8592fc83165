// Package storage persists flat key/value blobs (settings, starred tickets, seen ticket ids).
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
)

// ErrNotFound is returned when a key has never been written.
var ErrNotFound = errors.New("storage: object doesn't exist")

var keyRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,64}$`)

// Backend stores raw bytes by key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Store encodes values as JSON on top of a Backend.
type Store struct {
	backend Backend
	logger  *slog.Logger
}

// New creates a new storage handler.
func New(backend Backend, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
	}
}

// ValidKey reports whether key is safe to use as a file or object name.
func ValidKey(key string) bool {
	return keyRegex.MatchString(key)
}

// Load decodes the value stored under key into v.
func (s *Store) Load(ctx context.Context, key string, v any) error {
	if !ValidKey(key) {
		return fmt.Errorf("invalid key %q", key)
	}

	data, err := s.backend.Get(ctx, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// Save encodes v and stores it under key, replacing any previous value.
func (s *Store) Save(ctx context.Context, key string, v any) error {
	if !ValidKey(key) {
		return fmt.Errorf("invalid key %q", key)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	if err := s.backend.Put(ctx, key, data); err != nil {
		return err
	}
	s.logger.Debug("Value saved", "key", key, "bytes", len(data))
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("invalid key %q", key)
	}
	if err := s.backend.Delete(ctx, key); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// Keys lists every stored key.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.backend.Keys(ctx)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// IsNotFound checks if an error indicates a key was never written.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
