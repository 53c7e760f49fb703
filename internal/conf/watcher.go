package conf

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
)

// Activator persists a correlation set as the single active row and returns
// the stored snapshot.
type Activator interface {
	ActivateCorrelation(ctx context.Context, settings *CorrelationSettings) (*ActiveCorrelation, error)
}

// Reloader re-reads the correlation section and activates it.
type Reloader struct {
	provider  *CorrelationProvider
	activator Activator
	log       logger.Logger
	mu        sync.Mutex
	onChange  func(*ActiveCorrelation)
}

// NewReloader creates a reloader. onChange may be nil.
func NewReloader(provider *CorrelationProvider, activator Activator, onChange func(*ActiveCorrelation)) *Reloader {
	return &Reloader{
		provider:  provider,
		activator: activator,
		log:       GetLogger().Module("reload"),
		onChange:  onChange,
	}
}

// Reload reads the correlation section from viper's current state, validates
// it and activates it. On any failure the previously active set stays in place.
func (r *Reloader) Reload(ctx context.Context) (*ActiveCorrelation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// full unmarshal so defaults merge into a partially specified section
	var all Settings
	if err := viper.Unmarshal(&all); err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_correlation").
			Build()
	}

	next := all.Correlation
	if err := ValidateCorrelation(&next); err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("operation", "validate_correlation").
			Build()
	}

	if cur := r.provider.Current(); cur != nil && cur.Checksum == next.Checksum() {
		return cur, nil
	}

	active, err := r.activator.ActivateCorrelation(ctx, &next)
	if err != nil {
		return nil, err
	}

	r.provider.Swap(active)
	r.log.Info("correlation settings activated",
		logger.Int64("version", active.Version),
		logger.String("checksum", active.Checksum[:12]))

	if r.onChange != nil {
		r.onChange(active)
	}
	return active, nil
}

// Watch reloads the correlation section whenever the config file changes.
// It returns immediately; events stop being handled once ctx is done.
func (r *Reloader) Watch(ctx context.Context) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		r.log.Debug("config file changed", logger.String("file", e.Name))
		if _, err := r.Reload(ctx); err != nil {
			r.log.Warn("config reload rejected, keeping active settings", logger.Error(err))
		}
	})
	viper.WatchConfig()
}
