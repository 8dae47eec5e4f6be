// Package memory is an in-process implementation of every database repository,
// used by tests and by the server when STORAGE_DRIVER=memory.
package memory

import (
	"context"
	"sync"
	"time"

	"wastelink-backend/internal/database"
	"wastelink-backend/internal/models"
)

// Store guards a state with one mutex. WithTx holds the mutex for the whole
// callback and restores a snapshot if the callback fails.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var (
	_ database.Store = (*Store)(nil)
	_ database.Tx    = (*state)(nil)
)

type state struct {
	now func() time.Time

	configs       map[string]models.PricingConfiguration
	factors       []models.PricingFactor
	requests      map[string]models.ServiceRequest
	timeline      map[string][]models.TimelineEvent
	bins          map[string]models.SmartBin
	readings      map[string][]models.SensorReading
	alerts        map[string]models.BinAlert
	providers     map[string]models.Provider
	bids          map[string]models.Bid
	jobs          map[string]models.Job
	payments      map[string]models.Payment
	paymentEvents []models.PaymentEvent
	notifications map[string]models.Notification
	users         map[string]models.User
}

func New() *Store {
	s := &Store{now: time.Now}
	s.st = &state{
		now:           func() time.Time { return s.now() },
		configs:       make(map[string]models.PricingConfiguration),
		requests:      make(map[string]models.ServiceRequest),
		timeline:      make(map[string][]models.TimelineEvent),
		bins:          make(map[string]models.SmartBin),
		readings:      make(map[string][]models.SensorReading),
		alerts:        make(map[string]models.BinAlert),
		providers:     make(map[string]models.Provider),
		bids:          make(map[string]models.Bid),
		jobs:          make(map[string]models.Job),
		payments:      make(map[string]models.Payment),
		notifications: make(map[string]models.Notification),
		users:         make(map[string]models.User),
	}
	return s
}

// SetClock replaces the timestamp source; tests use it to control created_at values
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) WithTx(ctx context.Context, fn func(tx database.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(s.st); err != nil {
		*s.st = snapshot
		return err
	}
	return nil
}

func (st *state) clone() state {
	c := *st
	c.configs = cloneMap(st.configs)
	c.factors = append([]models.PricingFactor(nil), st.factors...)
	c.requests = cloneMap(st.requests)
	c.timeline = make(map[string][]models.TimelineEvent, len(st.timeline))
	for k, v := range st.timeline {
		c.timeline[k] = append([]models.TimelineEvent(nil), v...)
	}
	c.bins = cloneMap(st.bins)
	c.readings = make(map[string][]models.SensorReading, len(st.readings))
	for k, v := range st.readings {
		c.readings[k] = append([]models.SensorReading(nil), v...)
	}
	c.alerts = cloneMap(st.alerts)
	c.providers = cloneMap(st.providers)
	c.bids = cloneMap(st.bids)
	c.jobs = cloneMap(st.jobs)
	c.payments = cloneMap(st.payments)
	c.paymentEvents = append([]models.PaymentEvent(nil), st.paymentEvents...)
	c.notifications = cloneMap(st.notifications)
	c.users = cloneMap(st.users)
	return c
}

func cloneMap[V any](m map[string]V) map[string]V {
	c := make(map[string]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// page applies limit/offset to a slice length
func page(n, limit, offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}

// locked runs fn under the store mutex
func locked[T any](s *Store, fn func(st *state) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func lockedErr(s *Store, fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}
