package settings

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twitch-ai-cohost-go/internal/config"
	"github.com/twitch-ai-cohost-go/internal/services/storage"
)

func newTestService(t *testing.T) (*Service, *storage.Manager) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	store, err := storage.NewManager(&config.Config{
		Storage: config.StorageConfig{Type: "memory"},
	}, log)
	require.NoError(t, err)

	return NewService(store, "test-passphrase", log), store
}

func TestSaveSealsAPIKeyAtRest(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	svc.Set(apiKeySetting, "sk-plaintext-key")
	svc.Set(KeyCleanMode, "strict")
	require.NoError(t, svc.Save(ctx))

	stored, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "sk-plaintext-key", stored[apiKeySetting])
	assert.NotContains(t, stored[apiKeySetting], "sk-plaintext")
	// everything else is stored plain
	assert.Equal(t, "strict", stored[KeyCleanMode])
}

func TestLoadRoundtripRecoversAPIKey(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	svc.Set(apiKeySetting, "sk-plaintext-key")
	require.NoError(t, svc.Save(ctx))

	// a fresh service over the same store simulates a restart
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	reloaded := NewService(store, "test-passphrase", log)
	require.NoError(t, reloaded.Load(ctx))

	key, ok := reloaded.Get(apiKeySetting)
	require.True(t, ok)
	assert.Equal(t, "sk-plaintext-key", key)
}

func TestLoadWrongPassphraseFails(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	svc.Set(apiKeySetting, "sk-plaintext-key")
	require.NoError(t, svc.Save(ctx))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	other := NewService(store, "wrong-passphrase", log)
	assert.Error(t, other.Load(ctx))
}

func TestGetAndAll(t *testing.T) {
	svc, _ := newTestService(t)

	_, ok := svc.Get("absent")
	assert.False(t, ok)

	svc.Set("a", "1")
	svc.Set("b", "2")

	value, ok := svc.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", value)

	all := svc.All()
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, all)

	// All returns a copy, not the live map
	all["a"] = "mutated"
	value, _ = svc.Get("a")
	assert.Equal(t, "1", value)
}
