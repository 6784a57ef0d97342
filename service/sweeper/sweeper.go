// Package sweeper periodically re-delivers postponed notifications and
// scheduled reminders. It assumes a single running instance; two sweepers
// against the same database would race on due records and double-send.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/pushbucket/pushbucket-server/cmd/models"
)

// DeferredStore is the persistence surface of the sweeper.
type DeferredStore interface {
	FindDue(now time.Time) ([]models.DeferredDelivery, error)
	Delete(id uint) error
}

// Resender re-delivers one deferred record. A nil return means the record is
// done and can be removed.
type Resender interface {
	ResendDeferred(ctx context.Context, rec models.DeferredDelivery) error
}

type SweepStats struct {
	Processed int
	Succeeded int
	Failed    int
}

type Sweeper struct {
	store    DeferredStore
	resender Resender
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(store DeferredStore, resender Resender, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		resender: resender,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps on a fixed ticker until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("Deferred delivery sweeper running every %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Deferred delivery sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep processes every due record once. A record is deleted only after a
// successful resend; failures keep it untouched so the next tick retries.
// One failing record never blocks the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) SweepStats {
	stats := SweepStats{}

	due, err := s.store.FindDue(s.now())
	if err != nil {
		log.Printf("Error loading due deferred deliveries: %v", err)
		return stats
	}

	for _, rec := range due {
		stats.Processed++
		if err := s.resender.ResendDeferred(ctx, rec); err != nil {
			stats.Failed++
			log.Printf("Deferred %s %d not delivered, will retry: %v", rec.Kind, rec.ID, err)
			continue
		}
		if err := s.store.Delete(rec.ID); err != nil {
			// The next tick re-sends this record; duplicate delivery is the
			// accepted trade-off over losing it.
			log.Printf("Error deleting delivered deferred record %d: %v", rec.ID, err)
		}
		stats.Succeeded++
	}

	if stats.Processed > 0 {
		log.Printf("Sweep processed %d deferred deliveries: %d sent, %d retained",
			stats.Processed, stats.Succeeded, stats.Failed)
	}
	return stats
}
