package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/twitch-ai-cohost-go/internal/services/storage"
	"github.com/twitch-ai-cohost-go/pkg/secrets"
)

// The API key is the only setting stored encrypted; everything else is
// plain text.
const apiKeySetting = "completion.api_key"

// KeyCleanMode overrides the configured output clean mode when present.
// Consumers read it per turn, so a reload takes effect immediately.
const KeyCleanMode = "output.clean_mode"

// Service manages the runtime-tunable settings collection. Values are
// loaded at session start and written back only on explicit save.
type Service struct {
	store      *storage.Manager
	passphrase string
	logger     *logrus.Logger

	mu     sync.RWMutex
	values map[string]string
}

// NewService creates a settings service
func NewService(store *storage.Manager, passphrase string, logger *logrus.Logger) *Service {
	return &Service{
		store:      store,
		passphrase: passphrase,
		logger:     logger,
		values:     make(map[string]string),
	}
}

// Load reads the settings collection into memory, decrypting the API key.
func (s *Service) Load(ctx context.Context) error {
	stored, err := s.store.GetSettings(ctx)
	if err != nil {
		return err
	}

	if sealed, ok := stored[apiKeySetting]; ok && sealed != "" {
		plain, err := secrets.Open(s.passphrase, sealed)
		if err != nil {
			return fmt.Errorf("failed to decrypt stored API key: %w", err)
		}
		stored[apiKeySetting] = plain
	}

	s.mu.Lock()
	s.values = stored
	s.mu.Unlock()

	s.logger.WithField("count", len(stored)).Info("Settings loaded")
	return nil
}

// Save writes the in-memory settings back to the store, sealing the API
// key before it touches disk.
func (s *Service) Save(ctx context.Context) error {
	s.mu.RLock()
	toStore := make(map[string]string, len(s.values))
	for k, v := range s.values {
		toStore[k] = v
	}
	s.mu.RUnlock()

	if plain, ok := toStore[apiKeySetting]; ok && plain != "" {
		sealed, err := secrets.Seal(s.passphrase, plain)
		if err != nil {
			return fmt.Errorf("failed to encrypt API key: %w", err)
		}
		toStore[apiKeySetting] = sealed
	}

	if err := s.store.SaveSettings(ctx, toStore); err != nil {
		return err
	}

	s.logger.WithField("count", len(toStore)).Info("Settings saved")
	return nil
}

// Get returns a setting value and whether it was present.
func (s *Service) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

// Set updates a setting in memory. Callers persist with Save.
func (s *Service) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// All returns a copy of the current settings map.
func (s *Service) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
