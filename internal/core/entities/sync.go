package entities

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/internal/core/types"
)

// SyncRunner periodically renders every adapter's entities into the
// registry. Adapters poll their vendors on their own schedule; the
// runner only folds the latest view in and flips source availability
// when an adapter's sync fails outright.
type SyncRunner struct {
	service  *Service
	interval time.Duration
	log      *logrus.Logger
	cron     *cron.Cron

	// OnSourceSynced, when set, observes per-source entity counts.
	OnSourceSynced func(source types.Source, count int)
}

func NewSyncRunner(service *Service, interval time.Duration, log *logrus.Logger) *SyncRunner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SyncRunner{
		service:  service,
		interval: interval,
		log:      log,
		cron:     cron.New(),
	}
}

// Start runs one immediate sync and schedules the rest.
func (r *SyncRunner) Start(ctx context.Context) error {
	r.SyncAll(ctx)
	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.interval), func() {
		syncCtx, cancel := context.WithTimeout(context.Background(), r.interval)
		defer cancel()
		r.SyncAll(syncCtx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule entity sync: %w", err)
	}
	r.cron.Start()
	return nil
}

func (r *SyncRunner) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
}

// SyncAll runs one sync cycle over every registered adapter.
func (r *SyncRunner) SyncAll(ctx context.Context) {
	for _, adapter := range r.service.Adapters() {
		source := adapter.GetSourceType()
		entities, err := adapter.SyncEntities(ctx)
		if err != nil {
			r.log.WithError(err).WithField("source", source).Warn("entity sync failed")
			r.service.MarkSourceAvailability(ctx, source, false)
			continue
		}
		for _, entity := range entities {
			if err := r.service.Upsert(ctx, entity); err != nil {
				r.log.WithError(err).WithField("entity", entity.ID).Warn("entity upsert failed")
			}
		}
		if r.OnSourceSynced != nil {
			r.OnSourceSynced(source, len(entities))
		}
	}
}
