package usage

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twitch-ai-cohost-go/internal/config"
	"github.com/twitch-ai-cohost-go/internal/models"
	"github.com/twitch-ai-cohost-go/internal/services/storage"
)

func testManager(t *testing.T) *storage.Manager {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	manager, err := storage.NewManager(&config.Config{
		Storage: config.StorageConfig{Type: "memory"},
	}, log)
	require.NoError(t, err)
	return manager
}

func newAccountant(t *testing.T, now time.Time, cfg config.UsageConfig) (*Accountant, *storage.Manager) {
	store := testManager(t)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	a := NewAccountant(store, &cfg, log)
	a.now = func() time.Time { return now }
	return a, store
}

func TestRollingTotalsExcludesRecordsOutsideWindow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	a, store := newAccountant(t, now, config.UsageConfig{WindowDays: 30})
	ctx := context.Background()

	// 31 days old: purged before aggregation
	require.NoError(t, store.AppendUsageRecord(ctx, models.UsageRecord{
		Timestamp:        now.AddDate(0, 0, -31),
		PromptTokens:     1000,
		CompletionTokens: 1000,
		TotalTokens:      2000,
	}))
	// 29 days old: still inside the window
	require.NoError(t, store.AppendUsageRecord(ctx, models.UsageRecord{
		Timestamp:        now.AddDate(0, 0, -29),
		PromptTokens:     100,
		CompletionTokens: 50,
		TotalTokens:      150,
	}))

	totals, err := a.RollingTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, totals.PromptTokens)
	assert.Equal(t, 50, totals.CompletionTokens)
	assert.Equal(t, 150, totals.TotalTokens)

	// the stale record is gone from the store as well
	records, err := store.GetUsageRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRollingTotalsIdempotentForFixedNow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	a, store := newAccountant(t, now, config.UsageConfig{WindowDays: 30})
	ctx := context.Background()

	require.NoError(t, store.AppendUsageRecord(ctx, models.UsageRecord{
		Timestamp:    now.AddDate(0, 0, -5),
		PromptTokens: 42,
		TotalTokens:  42,
	}))

	first, err := a.RollingTotals(ctx)
	require.NoError(t, err)
	second, err := a.RollingTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRecordStampsCurrentTime(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	a, store := newAccountant(t, now, config.UsageConfig{WindowDays: 30})
	ctx := context.Background()

	require.NoError(t, a.Record(ctx, models.UsageRecord{
		Model:            "test-model",
		PromptTokens:     10,
		CompletionTokens: 5,
		TotalTokens:      15,
	}))

	records, err := store.GetUsageRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Timestamp.Equal(now))
}

func TestEstimatedCost(t *testing.T) {
	now := time.Now()
	a, store := newAccountant(t, now, config.UsageConfig{
		WindowDays:           30,
		InputRatePerMillion:  2.0,
		OutputRatePerMillion: 10.0,
	})
	ctx := context.Background()

	require.NoError(t, store.AppendUsageRecord(ctx, models.UsageRecord{
		Timestamp:        now,
		PromptTokens:     500_000, // 0.5M * 2.0 = 1.0
		CompletionTokens: 100_000, // 0.1M * 10.0 = 1.0
		TotalTokens:      600_000,
	}))

	totals, err := a.RollingTotals(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, totals.EstimatedCost, 1e-9)
}

func TestEstimatedCostFallsBackToDefaultRates(t *testing.T) {
	now := time.Now()
	a, store := newAccountant(t, now, config.UsageConfig{WindowDays: 30})
	ctx := context.Background()

	require.NoError(t, store.AppendUsageRecord(ctx, models.UsageRecord{
		Timestamp:        now,
		PromptTokens:     1_000_000,
		CompletionTokens: 1_000_000,
		TotalTokens:      2_000_000,
	}))

	totals, err := a.RollingTotals(ctx)
	require.NoError(t, err)
	assert.InDelta(t, config.DefaultInputRate+config.DefaultOutputRate, totals.EstimatedCost, 1e-9)
}
