package campaign

import (
	"context"
	"time"

	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
)

const (
	defaultDormantAfterDays = 30
	defaultClosedAfterDays  = 180
)

// StatusChange counts campaigns moved by one refresh.
type StatusChange struct {
	Dormant int64 `json:"dormant"`
	Closed  int64 `json:"closed"`
}

// RefreshStatuses moves active campaigns whose last sighting is older than
// the dormant threshold to dormant, and dormant ones older than the closed
// threshold to closed.
func (d *Detector) RefreshStatuses(ctx context.Context, now time.Time, settings *conf.CampaignSettings) (StatusChange, error) {
	dormantDays := settings.DormantAfterDays
	if dormantDays <= 0 {
		dormantDays = defaultDormantAfterDays
	}
	closedDays := settings.ClosedAfterDays
	if closedDays <= 0 {
		closedDays = defaultClosedAfterDays
	}

	now = now.UTC()
	var change StatusChange
	err := d.retrier.Do(ctx, "campaign_status", func(ctx context.Context) error {
		var err error
		change.Dormant, change.Closed, err = d.store.Campaigns.RefreshStatuses(ctx,
			now.AddDate(0, 0, -dormantDays),
			now.AddDate(0, 0, -closedDays))
		return err
	})
	if err != nil {
		return StatusChange{}, errors.New(err).
			Component("campaign").
			Category(errors.CategoryDatabase).
			Context("operation", "refresh_statuses").
			Build()
	}

	if change.Dormant > 0 || change.Closed > 0 {
		GetLogger().Info("campaign statuses refreshed",
			logger.Int64("dormant", change.Dormant),
			logger.Int64("closed", change.Closed))
	}
	return change, nil
}

// RunStatusRefresher refreshes statuses every interval until ctx ends.
func (d *Detector) RunStatusRefresher(ctx context.Context, interval time.Duration, settings *conf.CampaignSettings) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.RefreshStatuses(ctx, d.now(), settings); err != nil {
				GetLogger().Warn("campaign status refresh failed", logger.Error(err))
			}
		}
	}
}
