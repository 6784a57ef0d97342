package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pushbucket/pushbucket-server/cmd/models"
)

type mockDeferredStore struct {
	due     []models.DeferredDelivery
	findErr error
	deleted []uint
}

func (m *mockDeferredStore) FindDue(now time.Time) ([]models.DeferredDelivery, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.due, nil
}

func (m *mockDeferredStore) Delete(id uint) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type mockResender struct {
	failIDs map[uint]bool
	sent    []uint
}

func (m *mockResender) ResendDeferred(_ context.Context, rec models.DeferredDelivery) error {
	if m.failIDs[rec.ID] {
		return errors.New("device unreachable")
	}
	m.sent = append(m.sent, rec.ID)
	return nil
}

func deferredRecord(id uint, kind string) models.DeferredDelivery {
	rec := models.DeferredDelivery{
		MessageID: 1,
		UserID:    1,
		SendAt:    time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
		Kind:      kind,
	}
	rec.ID = id
	return rec
}

func TestSweep_DeletesDeliveredRecords(t *testing.T) {
	store := &mockDeferredStore{due: []models.DeferredDelivery{
		deferredRecord(1, models.DeferredPostpone),
		deferredRecord(2, models.DeferredReminder),
	}}
	resender := &mockResender{}
	sweeper := NewSweeper(store, resender, time.Minute)

	stats := sweeper.Sweep(context.Background())

	if stats.Processed != 2 || stats.Succeeded != 2 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if len(store.deleted) != 2 {
		t.Errorf("deleted = %v, want both records gone", store.deleted)
	}
}

func TestSweep_RetainsFailedRecords(t *testing.T) {
	store := &mockDeferredStore{due: []models.DeferredDelivery{
		deferredRecord(1, models.DeferredPostpone),
	}}
	resender := &mockResender{failIDs: map[uint]bool{1: true}}
	sweeper := NewSweeper(store, resender, time.Minute)

	stats := sweeper.Sweep(context.Background())

	if stats.Failed != 1 || stats.Succeeded != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if len(store.deleted) != 0 {
		t.Error("failed records must stay for the next tick")
	}
}

func TestSweep_OneFailureDoesNotBlockTheBatch(t *testing.T) {
	store := &mockDeferredStore{due: []models.DeferredDelivery{
		deferredRecord(1, models.DeferredPostpone),
		deferredRecord(2, models.DeferredPostpone),
		deferredRecord(3, models.DeferredReminder),
	}}
	resender := &mockResender{failIDs: map[uint]bool{2: true}}
	sweeper := NewSweeper(store, resender, time.Minute)

	stats := sweeper.Sweep(context.Background())

	if stats.Processed != 3 || stats.Succeeded != 2 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if len(resender.sent) != 2 {
		t.Errorf("sent = %v, want records 1 and 3", resender.sent)
	}
	if len(store.deleted) != 2 {
		t.Errorf("deleted = %v", store.deleted)
	}
}

func TestSweep_StoreErrorIsNotFatal(t *testing.T) {
	store := &mockDeferredStore{findErr: errors.New("connection refused")}
	sweeper := NewSweeper(store, &mockResender{}, time.Minute)

	stats := sweeper.Sweep(context.Background())

	if stats.Processed != 0 {
		t.Errorf("stats = %+v, want an empty sweep", stats)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := &mockDeferredStore{}
	sweeper := NewSweeper(store, &mockResender{}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}
