// Package memory is an in-memory repository.Datastore used by service
// tests. One mutex serializes transactions, matching the serializable
// isolation the postgres store runs at; RunTx works on a clone of the state
// and swaps it in on commit, so returning an error rolls everything back.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vintora/tablebook/internal/domain"
	"github.com/vintora/tablebook/internal/repository"
)

type unitRow struct {
	domain.Unit
	holdID      uuid.UUID
	holdExpires time.Time
}

type state struct {
	units     map[int64]unitRow
	holds     map[uuid.UUID]domain.Hold
	intents   map[uuid.UUID]domain.PaymentIntent
	bookings  map[uuid.UUID]domain.Booking
	processed map[string]string
	nextUnit  int64
	nextEvent int64
}

func (st *state) clone() *state {
	cp := &state{
		units:     make(map[int64]unitRow, len(st.units)),
		holds:     make(map[uuid.UUID]domain.Hold, len(st.holds)),
		intents:   make(map[uuid.UUID]domain.PaymentIntent, len(st.intents)),
		bookings:  make(map[uuid.UUID]domain.Booking, len(st.bookings)),
		processed: make(map[string]string, len(st.processed)),
		nextUnit:  st.nextUnit,
		nextEvent: st.nextEvent,
	}
	for k, v := range st.units {
		cp.units[k] = v
	}
	for k, v := range st.holds {
		cp.holds[k] = v
	}
	for k, v := range st.intents {
		cp.intents[k] = v
	}
	for k, v := range st.bookings {
		cp.bookings[k] = v
	}
	for k, v := range st.processed {
		cp.processed[k] = v
	}
	return cp
}

// txToken marks a repo as bound to an open transaction. The SQL surface is
// never used; repos bound to a token operate on its state directly.
type txToken struct {
	st *state
}

func (t *txToken) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("memory: raw sql not supported")
}

func (t *txToken) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("memory: raw sql not supported")
}

func (t *txToken) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("memory: raw sql not supported")
}

func (t *txToken) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("memory: raw sql not supported")
}

type Store struct {
	mu sync.Mutex
	st *state
}

var _ repository.Datastore = (*Store)(nil)

func NewStore() *Store {
	return &Store{st: &state{
		units:     map[int64]unitRow{},
		holds:     map[uuid.UUID]domain.Hold{},
		intents:   map[uuid.UUID]domain.PaymentIntent{},
		bookings:  map[uuid.UUID]domain.Booking{},
		processed: map[string]string{},
	}}
}

func (s *Store) RunTx(
	ctx context.Context,
	_ *pgx.TxOptions,
	fn func(ctx context.Context, tx repository.DB) error,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := s.st.clone()
	if err := fn(ctx, &txToken{st: clone}); err != nil {
		return err
	}

	s.st = clone
	return nil
}

// AddUnit seeds one available unit and returns its id.
func (s *Store) AddUnit(eventID int64, label string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.nextUnit++
	id := s.st.nextUnit
	s.st.units[id] = unitRow{Unit: domain.Unit{
		ID:      id,
		EventID: eventID,
		Label:   label,
		State:   domain.UnitAvailable,
	}}
	return id
}

func (s *Store) Ledger(tx repository.DB) repository.Ledger     { return &ledger{base{s, tx}} }
func (s *Store) Holds(tx repository.DB) repository.Holds       { return &holds{base{s, tx}} }
func (s *Store) Intents(tx repository.DB) repository.Intents   { return &intents{base{s, tx}} }
func (s *Store) Bookings(tx repository.DB) repository.Bookings { return &bookings{base{s, tx}} }
func (s *Store) Webhooks(tx repository.DB) repository.Webhooks { return &webhooks{base{s, tx}} }
func (s *Store) Admin(tx repository.DB) repository.Admin       { return &admin{base{s, tx}} }

type base struct {
	s  *Store
	tx repository.DB
}

// state returns the state to operate on and its unlock function. Inside a
// transaction the store mutex is already held by RunTx.
func (b base) state() (*state, func()) {
	if t, ok := b.tx.(*txToken); ok && t != nil {
		return t.st, func() {}
	}
	b.s.mu.Lock()
	return b.s.st, b.s.mu.Unlock
}

type ledger struct{ base }

func (r *ledger) TryTransition(
	_ context.Context,
	unitID int64,
	fromState, toState domain.UnitState,
) (bool, error) {
	st, done := r.state()
	defer done()

	u, ok := st.units[unitID]
	if !ok || u.State != fromState {
		return false, nil
	}

	u.State = toState
	u.holdID = uuid.Nil
	u.holdExpires = time.Time{}
	st.units[unitID] = u
	return true, nil
}

func (r *ledger) BookByHold(_ context.Context, holdID uuid.UUID) (int64, bool, error) {
	st, done := r.state()
	defer done()

	for id, u := range st.units {
		if u.holdID == holdID && u.State == domain.UnitHeld {
			u.State = domain.UnitBooked
			u.holdID = uuid.Nil
			u.holdExpires = time.Time{}
			st.units[id] = u
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (r *ledger) Snapshot(_ context.Context, eventID int64) ([]domain.UnitAvailability, error) {
	st, done := r.state()
	defer done()

	var out []domain.UnitAvailability
	for _, u := range st.units {
		if u.EventID == eventID {
			out = append(out, domain.UnitAvailability{
				UnitID: u.ID,
				Label:  u.Label,
				State:  u.State,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, nil
}

func (r *ledger) GetUnit(_ context.Context, unitID int64) (*domain.Unit, error) {
	st, done := r.state()
	defer done()

	u, ok := st.units[unitID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := u.Unit
	return &cp, nil
}

type holds struct{ base }

func (r *holds) Create(
	_ context.Context,
	unitID, eventID int64,
	ownerToken string,
	ttl time.Duration,
) (*domain.Hold, error) {
	st, done := r.state()
	defer done()

	now := time.Now()
	for id, u := range st.units {
		if u.EventID == eventID && u.State == domain.UnitHeld && !u.holdExpires.After(now) {
			delete(st.holds, u.holdID)
			u.State = domain.UnitAvailable
			u.holdID = uuid.Nil
			u.holdExpires = time.Time{}
			st.units[id] = u
		}
	}

	hold := domain.Hold{
		ID:         uuid.New(),
		UnitID:     unitID,
		EventID:    eventID,
		OwnerToken: ownerToken,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	u, ok := st.units[unitID]
	if !ok || u.State != domain.UnitAvailable {
		return nil, repository.ErrUnitUnavailable
	}

	u.State = domain.UnitHeld
	u.holdID = hold.ID
	u.holdExpires = hold.ExpiresAt
	st.units[unitID] = u
	st.holds[hold.ID] = hold

	return &hold, nil
}

func (r *holds) Get(_ context.Context, holdID uuid.UUID) (*domain.Hold, error) {
	st, done := r.state()
	defer done()

	h, ok := st.holds[holdID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &h, nil
}

func (r *holds) Release(_ context.Context, holdID uuid.UUID) (int64, int64, bool, error) {
	st, done := r.state()
	defer done()

	delete(st.holds, holdID)
	for id, u := range st.units {
		if u.holdID == holdID && u.State == domain.UnitHeld {
			u.State = domain.UnitAvailable
			u.holdID = uuid.Nil
			u.holdExpires = time.Time{}
			st.units[id] = u
			return id, u.EventID, true, nil
		}
	}
	return 0, 0, false, nil
}

func (r *holds) ExpireStale(_ context.Context) ([]repository.ExpiredHold, error) {
	st, done := r.state()
	defer done()

	now := time.Now()
	var out []repository.ExpiredHold
	for id, u := range st.units {
		if u.State == domain.UnitHeld && !u.holdExpires.After(now) {
			out = append(out, repository.ExpiredHold{
				HoldID:  u.holdID,
				UnitID:  id,
				EventID: u.EventID,
			})
			delete(st.holds, u.holdID)
			u.State = domain.UnitAvailable
			u.holdID = uuid.Nil
			u.holdExpires = time.Time{}
			st.units[id] = u
		}
	}
	return out, nil
}

type intents struct{ base }

func (r *intents) Insert(_ context.Context, in *domain.PaymentIntent) error {
	st, done := r.state()
	defer done()

	for _, ex := range st.intents {
		if ex.HoldID == in.HoldID && ex.Status != domain.IntentCanceled {
			return repository.ErrConflict
		}
		if ex.ProviderID == in.ProviderID {
			return repository.ErrConflict
		}
	}
	st.intents[in.ID] = *in
	return nil
}

func (r *intents) Get(_ context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	st, done := r.state()
	defer done()

	in, ok := st.intents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &in, nil
}

func (r *intents) GetByHold(_ context.Context, holdID uuid.UUID) (*domain.PaymentIntent, error) {
	st, done := r.state()
	defer done()

	for _, in := range st.intents {
		if in.HoldID == holdID && in.Status != domain.IntentCanceled {
			cp := in
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *intents) GetByProviderID(_ context.Context, providerID string) (*domain.PaymentIntent, error) {
	st, done := r.state()
	defer done()

	for _, in := range st.intents {
		if in.ProviderID == providerID {
			cp := in
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *intents) SetStatusIfPending(
	_ context.Context,
	id uuid.UUID,
	to domain.IntentStatus,
) (bool, error) {
	st, done := r.state()
	defer done()

	in, ok := st.intents[id]
	if !ok || in.Status != domain.IntentPending {
		return false, nil
	}
	in.Status = to
	st.intents[id] = in
	return true, nil
}

type bookings struct{ base }

func (r *bookings) Insert(_ context.Context, b *domain.Booking) error {
	st, done := r.state()
	defer done()

	for _, ex := range st.bookings {
		if ex.PaymentIntentID == b.PaymentIntentID {
			return repository.ErrConflict
		}
		if b.Status == domain.BookingConfirmed &&
			ex.UnitID == b.UnitID && ex.Status == domain.BookingConfirmed {
			return repository.ErrConflict
		}
	}
	st.bookings[b.ID] = *b
	return nil
}

func (r *bookings) Get(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	st, done := r.state()
	defer done()

	b, ok := st.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (r *bookings) GetByIntent(_ context.Context, intentID uuid.UUID) (*domain.Booking, error) {
	st, done := r.state()
	defer done()

	for _, b := range st.bookings {
		if b.PaymentIntentID == intentID {
			cp := b
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *bookings) SetStatusIf(
	_ context.Context,
	id uuid.UUID,
	from, to domain.BookingStatus,
) (bool, error) {
	st, done := r.state()
	defer done()

	b, ok := st.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	st.bookings[id] = b
	return true, nil
}

type webhooks struct{ base }

func (r *webhooks) MarkProcessed(_ context.Context, providerEventID, eventType string) (bool, error) {
	st, done := r.state()
	defer done()

	if _, ok := st.processed[providerEventID]; ok {
		return false, nil
	}
	st.processed[providerEventID] = eventType
	return true, nil
}

func (r *webhooks) Seen(_ context.Context, providerEventID string) (bool, error) {
	st, done := r.state()
	defer done()

	_, ok := st.processed[providerEventID]
	return ok, nil
}

type admin struct{ base }

func (r *admin) CreateEvent(_ context.Context, _ string, _, _ time.Time) (int64, error) {
	st, done := r.state()
	defer done()

	st.nextEvent++
	return st.nextEvent, nil
}

func (r *admin) BatchCreateUnits(
	_ context.Context,
	eventID int64,
	units []repository.UnitInput,
) error {
	st, done := r.state()
	defer done()

	for _, in := range units {
		exists := false
		for _, u := range st.units {
			if u.EventID == eventID && u.Label == in.Label {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		st.nextUnit++
		st.units[st.nextUnit] = unitRow{Unit: domain.Unit{
			ID:       st.nextUnit,
			EventID:  eventID,
			Label:    in.Label,
			Capacity: in.Capacity,
			State:    domain.UnitAvailable,
		}}
	}
	return nil
}
