package usage

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twitch-ai-cohost-go/internal/config"
	"github.com/twitch-ai-cohost-go/internal/models"
	"github.com/twitch-ai-cohost-go/internal/services/storage"
)

// Cost figures are rounded to this many decimal places for display.
const costDecimals = 4

// Accountant records token usage per completion call and computes
// rolling time-windowed totals with a cost estimate.
type Accountant struct {
	store  *storage.Manager
	cfg    *config.UsageConfig
	logger *logrus.Logger
	now    func() time.Time
}

// NewAccountant creates a usage accountant
func NewAccountant(store *storage.Manager, cfg *config.UsageConfig, logger *logrus.Logger) *Accountant {
	return &Accountant{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Record appends a usage record stamped with the current time, then
// prunes records that fell out of the rolling window.
func (a *Accountant) Record(ctx context.Context, record models.UsageRecord) error {
	record.Timestamp = a.now()
	if err := a.store.AppendUsageRecord(ctx, record); err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"model":             record.Model,
		"prompt_tokens":     record.PromptTokens,
		"completion_tokens": record.CompletionTokens,
	}).Debug("Recorded token usage")

	_, err := a.RollingTotals(ctx)
	return err
}

// RollingTotals purges records older than the configured window and
// recomputes the aggregate from what remains. Deterministic for a fixed
// "now" and fixed stored records.
func (a *Accountant) RollingTotals(ctx context.Context) (*models.UsageTotals, error) {
	records, err := a.store.GetUsageRecords(ctx)
	if err != nil {
		return nil, err
	}

	windowDays := a.cfg.WindowDays
	if windowDays <= 0 {
		windowDays = config.DefaultUsageWindowDays
	}
	cutoff := a.now().AddDate(0, 0, -windowDays)

	kept := records[:0]
	for _, record := range records {
		if record.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, record)
	}

	if len(kept) != len(records) {
		if err := a.store.ReplaceUsageRecords(ctx, kept); err != nil {
			return nil, err
		}
		a.logger.WithField("purged", len(records)-len(kept)).Debug("Purged usage records outside rolling window")
	}

	totals := &models.UsageTotals{}
	for _, record := range kept {
		totals.PromptTokens += record.PromptTokens
		totals.CompletionTokens += record.CompletionTokens
		totals.TotalTokens += record.TotalTokens
	}
	totals.EstimatedCost = a.estimateCost(totals.PromptTokens, totals.CompletionTokens)

	return totals, nil
}

func (a *Accountant) estimateCost(promptTokens, completionTokens int) float64 {
	inputRate := a.cfg.InputRatePerMillion
	if inputRate <= 0 {
		inputRate = config.DefaultInputRate
	}
	outputRate := a.cfg.OutputRatePerMillion
	if outputRate <= 0 {
		outputRate = config.DefaultOutputRate
	}

	cost := float64(promptTokens)/1e6*inputRate + float64(completionTokens)/1e6*outputRate

	shift := math.Pow10(costDecimals)
	return math.Round(cost*shift) / shift
}
