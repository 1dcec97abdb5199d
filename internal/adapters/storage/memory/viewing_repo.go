package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"medical-photo-sharing/internal/domain/viewing"
)

type viewingRepo struct {
	mu   sync.RWMutex
	byID map[string]viewing.Event
}

func NewViewingRepo() viewing.Repository {
	return &viewingRepo{
		byID: make(map[string]viewing.Event),
	}
}

func (r *viewingRepo) Create(ctx context.Context, e viewing.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(e.ID) == "" {
		return errors.New("viewing event id required")
	}
	if _, exists := r.byID[e.ID]; exists {
		return errors.New("viewing event already exists")
	}
	r.byID[e.ID] = e
	return nil
}

func (r *viewingRepo) GetByID(ctx context.Context, id string) (viewing.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return viewing.Event{}, ErrNotFound
	}
	return e, nil
}

func (r *viewingRepo) ListByAccessSessions(ctx context.Context, accessSessionIDs []string) ([]viewing.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := toSet(accessSessionIDs)
	out := make([]viewing.Event, 0)
	for _, e := range r.byID {
		if _, ok := set[e.AccessSessionID]; ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (r *viewingRepo) End(ctx context.Context, id string, at time.Time, durationSeconds int64, reason viewing.EndReason) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if !e.Open() {
		return false, nil
	}
	r.byID[id] = endEvent(e, at, durationSeconds, reason)
	return true, nil
}

func (r *viewingRepo) CloseOpen(ctx context.Context, accessSessionIDs []string, at time.Time, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := toSet(accessSessionIDs)
	n := 0
	for id, e := range r.byID {
		if _, ok := set[e.AccessSessionID]; !ok || !e.Open() {
			continue
		}
		d := int64(at.Sub(e.StartedAt) / time.Second)
		if d < 0 {
			d = 0
		}
		r.byID[id] = endEvent(e, at, d, viewing.EndReason(reason))
		n++
	}
	return n, nil
}

func (r *viewingRepo) RecordSuspicious(ctx context.Context, id string, counter viewing.Counter) (viewing.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return viewing.Event{}, ErrNotFound
	}
	e.SuspiciousActivity = true
	switch counter {
	case viewing.CounterScreenshot:
		e.ScreenshotAttempts++
	case viewing.CounterDownload:
		e.DownloadAttempts++
	}
	r.byID[id] = e
	return e, nil
}

func endEvent(e viewing.Event, at time.Time, durationSeconds int64, reason viewing.EndReason) viewing.Event {
	endedAt := at
	d := durationSeconds
	rs := reason
	e.EndedAt = &endedAt
	e.DurationSeconds = &d
	e.EndReason = &rs
	return e
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
