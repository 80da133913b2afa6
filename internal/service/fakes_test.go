package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/notify"
	"booking-service/internal/payment"
	"booking-service/internal/redisclient"
	"booking-service/internal/store"
)

// memState is the content of the in-memory database.
type memState struct {
	events    map[int64]models.ScheduledEvent
	bookings  map[int64]models.Booking
	attendees map[int64][]models.Attendee
	attempts  map[string]models.PaymentAttempt
	webhooks  map[string]models.ProcessedWebhookEvent
	nextID    int64
	// clashes makes the next n CreateBooking calls report a taken reference.
	clashes int
}

func (s *memState) clone() *memState {
	c := &memState{
		events:    make(map[int64]models.ScheduledEvent, len(s.events)),
		bookings:  make(map[int64]models.Booking, len(s.bookings)),
		attendees: make(map[int64][]models.Attendee, len(s.attendees)),
		attempts:  make(map[string]models.PaymentAttempt, len(s.attempts)),
		webhooks:  make(map[string]models.ProcessedWebhookEvent, len(s.webhooks)),
		nextID:    s.nextID,
		clashes:   s.clashes,
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.attendees {
		c.attendees[k] = append([]models.Attendee(nil), v...)
	}
	for k, v := range s.attempts {
		c.attempts[k] = v
	}
	for k, v := range s.webhooks {
		c.webhooks[k] = v
	}
	return c
}

// memDB is a store.Database kept in memory. Transactions are serialized by a
// single mutex and roll back by restoring a snapshot.
type memDB struct {
	mu sync.Mutex
	st *memState
	*memRepo
}

func newMemDB() *memDB {
	db := &memDB{st: &memState{
		events:    map[int64]models.ScheduledEvent{},
		bookings:  map[int64]models.Booking{},
		attendees: map[int64][]models.Attendee{},
		attempts:  map[string]models.PaymentAttempt{},
		webhooks:  map[string]models.ProcessedWebhookEvent{},
	}}
	db.memRepo = &memRepo{db: db}
	return db
}

func (d *memDB) InTx(ctx context.Context, fn func(store.Repository) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot := d.st.clone()
	if err := fn(&memRepo{db: d, inTx: true}); err != nil {
		d.st = snapshot
		return err
	}
	return nil
}

// addEvent seeds a published event and returns its id.
func (d *memDB) addEvent(ev models.ScheduledEvent) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.nextID++
	ev.ID = d.st.nextID
	if ev.Status == "" {
		ev.Status = models.EventStatusPublished
	}
	if ev.Currency == "" {
		ev.Currency = "EUR"
	}
	if ev.AvailableSpots == 0 && ev.Status == models.EventStatusPublished {
		ev.AvailableSpots = ev.TotalCapacity
	}
	d.st.events[ev.ID] = ev
	return ev.ID
}

func (d *memDB) event(id int64) models.ScheduledEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.events[id]
}

func (d *memDB) booking(id int64) models.Booking {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.bookings[id]
}

func (d *memDB) setClashes(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.clashes = n
}

func (d *memDB) countBookings() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.st.bookings)
}

func (d *memDB) webhookCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.st.webhooks)
}

// heldSeats sums the seat contribution of all bookings of an event.
func (d *memDB) heldSeats(eventID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.st.bookings {
		if b.ScheduledEventID == eventID {
			n += b.SeatContribution()
		}
	}
	return n
}

// update mutates a stored booking directly, bypassing the state machine.
func (d *memDB) update(id int64, fn func(b *models.Booking)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.st.bookings[id]
	fn(&b)
	d.st.bookings[id] = b
}

type memRepo struct {
	db   *memDB
	inTx bool
}

func (r *memRepo) guard() func() {
	if r.inTx {
		return func() {}
	}
	r.db.mu.Lock()
	return r.db.mu.Unlock
}

func (r *memRepo) s() *memState { return r.db.st }

func (r *memRepo) CreateScheduledEvent(_ context.Context, ev *models.ScheduledEvent) error {
	defer r.guard()()
	r.s().nextID++
	ev.ID = r.s().nextID
	r.s().events[ev.ID] = *ev
	return nil
}

func (r *memRepo) GetScheduledEvent(_ context.Context, id int64) (*models.ScheduledEvent, error) {
	defer r.guard()()
	ev, ok := r.s().events[id]
	if !ok {
		return nil, apperr.ErrEventNotFound
	}
	return &ev, nil
}

func (r *memRepo) GetScheduledEventBySlug(_ context.Context, slug string) (*models.ScheduledEvent, error) {
	defer r.guard()()
	for _, ev := range r.s().events {
		if ev.Slug == slug {
			ev := ev
			return &ev, nil
		}
	}
	return nil, apperr.ErrEventNotFound
}

func (r *memRepo) ReserveSeats(_ context.Context, eventID int64, n int) (int, error) {
	defer r.guard()()
	if n <= 0 {
		return 0, apperr.ErrInvalidQuantity
	}
	ev, ok := r.s().events[eventID]
	if !ok {
		return 0, apperr.ErrEventNotFound
	}
	switch {
	case ev.Status == models.EventStatusSoldOut:
		return ev.AvailableSpots, apperr.ErrSoldOut
	case ev.Status != models.EventStatusPublished:
		return ev.AvailableSpots, apperr.ErrNotPublished
	case ev.AvailableSpots < n:
		return ev.AvailableSpots, apperr.ErrSoldOut
	}
	ev.AvailableSpots -= n
	if ev.AvailableSpots == 0 {
		ev.Status = models.EventStatusSoldOut
	}
	r.s().events[eventID] = ev
	return ev.AvailableSpots, nil
}

func (r *memRepo) ReleaseSeats(_ context.Context, eventID int64, n int) (int, error) {
	defer r.guard()()
	ev, ok := r.s().events[eventID]
	if !ok {
		return 0, apperr.ErrEventNotFound
	}
	ev.AvailableSpots += n
	if ev.AvailableSpots > ev.TotalCapacity {
		ev.AvailableSpots = ev.TotalCapacity
	}
	if ev.Status == models.EventStatusSoldOut {
		ev.Status = models.EventStatusPublished
	}
	r.s().events[eventID] = ev
	return ev.AvailableSpots, nil
}

func (r *memRepo) AvailableSpots(_ context.Context, eventID int64) (int, error) {
	defer r.guard()()
	ev, ok := r.s().events[eventID]
	if !ok {
		return 0, apperr.ErrEventNotFound
	}
	return ev.AvailableSpots, nil
}

func (r *memRepo) HeldSeats(_ context.Context, eventID int64) (int, error) {
	defer r.guard()()
	n := 0
	for _, b := range r.s().bookings {
		if b.ScheduledEventID == eventID {
			n += b.SeatContribution()
		}
	}
	return n, nil
}

func (r *memRepo) CreateBooking(_ context.Context, b *models.Booking) error {
	defer r.guard()()
	if r.s().clashes > 0 {
		r.s().clashes--
		return apperr.ErrReferenceTaken
	}
	for _, existing := range r.s().bookings {
		if existing.Reference == b.Reference {
			return apperr.ErrReferenceTaken
		}
	}
	r.s().nextID++
	b.ID = r.s().nextID
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	stored := *b
	stored.Attendees, stored.Event = nil, nil
	r.s().bookings[b.ID] = stored
	return nil
}

func (r *memRepo) CreateAttendees(_ context.Context, bookingID int64, attendees []models.Attendee) error {
	defer r.guard()()
	for i := range attendees {
		r.s().nextID++
		attendees[i].ID = r.s().nextID
		attendees[i].BookingID = bookingID
	}
	r.s().attendees[bookingID] = append(r.s().attendees[bookingID], attendees...)
	return nil
}

func (r *memRepo) load(b models.Booking) *models.Booking {
	b.Attendees = append([]models.Attendee{}, r.s().attendees[b.ID]...)
	ev := r.s().events[b.ScheduledEventID]
	b.Event = &ev
	return &b
}

func (r *memRepo) GetBookingByID(_ context.Context, id int64) (*models.Booking, error) {
	defer r.guard()()
	b, ok := r.s().bookings[id]
	if !ok {
		return nil, apperr.ErrBookingNotFound
	}
	return r.load(b), nil
}

func (r *memRepo) GetBookingByReference(_ context.Context, reference string) (*models.Booking, error) {
	defer r.guard()()
	for _, b := range r.s().bookings {
		if b.Reference == reference {
			return r.load(b), nil
		}
	}
	return nil, apperr.ErrBookingNotFound
}

func (r *memRepo) GetBookingByIntentID(_ context.Context, intentID string) (*models.Booking, error) {
	defer r.guard()()
	for _, b := range r.s().bookings {
		if b.PaymentIntentID != nil && *b.PaymentIntentID == intentID {
			return r.load(b), nil
		}
	}
	return nil, apperr.ErrBookingNotFound
}

func (r *memRepo) TransitionBooking(_ context.Context, t store.BookingTransition) (bool, error) {
	defer r.guard()()
	b, ok := r.s().bookings[t.BookingID]
	if !ok || b.Status != t.From.Status || b.PaymentStatus != t.From.Payment {
		return false, nil
	}
	b.Status, b.PaymentStatus = t.To.Status, t.To.Payment
	if t.ConfirmedAt != nil {
		b.ConfirmedAt = t.ConfirmedAt
	}
	if t.CancelledAt != nil {
		b.CancelledAt = t.CancelledAt
	}
	b.RefundReview = b.RefundReview || t.RefundReview
	r.s().bookings[t.BookingID] = b
	return true, nil
}

func (r *memRepo) SetPaymentIntent(_ context.Context, u store.IntentUpdate) (bool, error) {
	defer r.guard()()
	b, ok := r.s().bookings[u.BookingID]
	if !ok || b.Status != models.BookingStatusPending || b.PaymentStatus != u.FromPayment {
		return false, nil
	}
	switch {
	case b.PaymentIntentID == nil && u.PreviousIntent != nil,
		b.PaymentIntentID != nil && u.PreviousIntent == nil,
		b.PaymentIntentID != nil && *b.PaymentIntentID != *u.PreviousIntent:
		return false, nil
	}
	id := u.IntentID
	b.PaymentIntentID = &id
	b.PaymentStatus = models.PaymentStatusPending
	r.s().bookings[u.BookingID] = b
	return true, nil
}

func (r *memRepo) ListReminderCandidates(_ context.Context, from, to time.Time, limit int) ([]models.Booking, error) {
	defer r.guard()()
	var out []models.Booking
	for _, b := range r.s().bookings {
		ev := r.s().events[b.ScheduledEventID]
		if b.Status == models.BookingStatusConfirmed && b.ReminderSentAt == nil &&
			!ev.StartDate.Before(from) && ev.StartDate.Before(to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) MarkReminderSent(_ context.Context, bookingID int64, at time.Time) (bool, error) {
	defer r.guard()()
	b, ok := r.s().bookings[bookingID]
	if !ok || b.ReminderSentAt != nil {
		return false, nil
	}
	b.ReminderSentAt = &at
	r.s().bookings[bookingID] = b
	return true, nil
}

func (r *memRepo) ListRefundReview(_ context.Context) ([]models.Booking, error) {
	defer r.guard()()
	var out []models.Booking
	for _, b := range r.s().bookings {
		if b.RefundReview {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memRepo) CreatePaymentAttempt(_ context.Context, a *models.PaymentAttempt) error {
	defer r.guard()()
	if existing, ok := r.s().attempts[a.ExternalIntentID]; ok {
		a.ID = existing.ID
		return nil
	}
	r.s().nextID++
	a.ID = r.s().nextID
	r.s().attempts[a.ExternalIntentID] = *a
	return nil
}

func (r *memRepo) GetPaymentAttempt(_ context.Context, intentID string) (*models.PaymentAttempt, error) {
	defer r.guard()()
	a, ok := r.s().attempts[intentID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *memRepo) SettlePaymentAttempt(_ context.Context, intentID string, status models.AttemptStatus, failure string, at time.Time) (bool, error) {
	defer r.guard()()
	a, ok := r.s().attempts[intentID]
	if !ok || a.Status == models.AttemptStatusSucceeded {
		return false, nil
	}
	a.Status, a.FailureMessage, a.SettledAt = status, failure, &at
	r.s().attempts[intentID] = a
	return true, nil
}

func (r *memRepo) RecordWebhookEvent(_ context.Context, ev *models.ProcessedWebhookEvent) (bool, error) {
	defer r.guard()()
	if _, ok := r.s().webhooks[ev.ExternalEventID]; ok {
		return false, nil
	}
	r.s().webhooks[ev.ExternalEventID] = *ev
	return true, nil
}

// fakeProvider issues sequential intent ids. Webhooks verify when the
// signature is "valid".
type fakeProvider struct {
	mu        sync.Mutex
	created   []payment.CreateIntentRequest
	createErr error
	intents   map[string]*payment.Intent
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{intents: map[string]*payment.Intent{}}
}

func (p *fakeProvider) CreateIntent(_ context.Context, req payment.CreateIntentRequest) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.created = append(p.created, req)
	id := fmt.Sprintf("pi_%d", len(p.created))
	intent := &payment.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       "requires_payment_method",
		Amount:       req.Amount,
		Currency:     req.Currency,
		Metadata:     req.Metadata,
	}
	p.intents[id] = intent
	return intent, nil
}

func (p *fakeProvider) RetrieveIntent(_ context.Context, id string) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	intent, ok := p.intents[id]
	if !ok {
		return nil, apperr.ErrProviderRejected
	}
	return intent, nil
}

func (p *fakeProvider) VerifyWebhook(body []byte, signature string) (*payment.WebhookEvent, error) {
	if signature != "valid" {
		return nil, apperr.ErrSignatureInvalid
	}
	return payment.DecodeEvent(body)
}

func (p *fakeProvider) createdCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.created)
}

type fakeLocker struct {
	mu    sync.Mutex
	held  map[string]string
	count int
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]string{}} }

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.count++
	token := fmt.Sprintf("token-%d", l.count)
	l.held[key] = token
	return token, true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

type fakeIdempotency struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeIdempotency() *fakeIdempotency { return &fakeIdempotency{values: map[string]string{}} }

func (f *fakeIdempotency) ClaimIdempotencyKey(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = redisclient.InFlight
	return true, nil
}

func (f *fakeIdempotency) CompleteIdempotencyKey(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[key] == redisclient.InFlight {
		f.values[key] = value
	}
	return nil
}

func (f *fakeIdempotency) GetIdempotencyKey(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeIdempotency) ReleaseIdempotencyKey(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) PublishBookingEvent(_ context.Context, eventType string, b *models.Booking, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType+":"+b.Reference)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, strings.SplitN(e, ":", 2)[0])
	}
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *fakeNotifier) Dispatch(_ context.Context, msg notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *fakeNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Kind)
	}
	return out
}
