package datastore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
)

// ConfigActivator persists correlation settings as the single active row.
type ConfigActivator struct {
	store   *repository.Store
	retrier *Retrier
	now     func() time.Time
}

// NewConfigActivator creates an activator over store.
func NewConfigActivator(store *repository.Store, retrier *Retrier) *ConfigActivator {
	if retrier == nil {
		retrier = NewRetrier(nil)
	}
	return &ConfigActivator{store: store, retrier: retrier, now: time.Now}
}

// ActivateCorrelation stores settings as a new version and returns its snapshot.
func (a *ConfigActivator) ActivateCorrelation(ctx context.Context, settings *conf.CorrelationSettings) (*conf.ActiveCorrelation, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	checksum := settings.Checksum()

	var active *conf.ActiveCorrelation
	err = a.retrier.Do(ctx, "activate_config", func(ctx context.Context) error {
		row, err := a.store.Configs.Activate(ctx, string(data), checksum, a.now())
		if err != nil {
			return err
		}
		active = &conf.ActiveCorrelation{
			Version:     row.Version,
			Settings:    *settings,
			Checksum:    row.Checksum,
			ActivatedAt: row.ActivatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "activate_config").
			Build()
	}

	GetLogger().Info("correlation config activated",
		logger.Int64("version", active.Version),
		logger.String("checksum", checksum[:12]))
	return active, nil
}

// LoadOrActivate returns the stored active set when its checksum matches
// settings, otherwise activates settings as a new version.
func (a *ConfigActivator) LoadOrActivate(ctx context.Context, settings *conf.CorrelationSettings) (*conf.ActiveCorrelation, error) {
	row, err := a.store.Configs.GetActive(ctx)
	switch {
	case err == nil && row.Checksum == settings.Checksum():
		return &conf.ActiveCorrelation{
			Version:     row.Version,
			Settings:    *settings,
			Checksum:    row.Checksum,
			ActivatedAt: row.ActivatedAt,
		}, nil
	case err != nil && !errors.Is(err, repository.ErrConfigNotFound):
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "load_active_config").
			Build()
	}
	return a.ActivateCorrelation(ctx, settings)
}

var _ conf.Activator = (*ConfigActivator)(nil)
