// Package memstore is an in-memory store.Transactor. Transactions are fully
// serialized and work on a copy of the data that replaces the original only on
// commit, so a failed transaction leaves nothing behind.
package memstore

import (
	"context"
	"sync"
	"time"

	"ticket-resale/internal/models"
	"ticket-resale/internal/store"
)

type data struct {
	tickets    map[int64]models.Ticket
	profiles   map[int64]models.UserProfile
	blacklist  map[int64]models.BlacklistEntry
	listings   map[int64]models.Listing
	items      map[int64]models.ListingItem
	flags      map[int64]models.RiskFlag
	orders     map[int64]models.Order
	orderItems map[int64]models.OrderItem
	payments   map[int64]models.PaymentRecord
	transfers  map[int64]models.Transfer
	cases      map[int64]models.Case
	notes      map[int64]models.CaseNote
}

func newData() *data {
	return &data{
		tickets:    map[int64]models.Ticket{},
		profiles:   map[int64]models.UserProfile{},
		blacklist:  map[int64]models.BlacklistEntry{},
		listings:   map[int64]models.Listing{},
		items:      map[int64]models.ListingItem{},
		flags:      map[int64]models.RiskFlag{},
		orders:     map[int64]models.Order{},
		orderItems: map[int64]models.OrderItem{},
		payments:   map[int64]models.PaymentRecord{},
		transfers:  map[int64]models.Transfer{},
		cases:      map[int64]models.Case{},
		notes:      map[int64]models.CaseNote{},
	}
}

func cloneMap[K comparable, V interface{}](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *data) clone() *data {
	return &data{
		tickets:    cloneMap(d.tickets),
		profiles:   cloneMap(d.profiles),
		blacklist:  cloneMap(d.blacklist),
		listings:   cloneMap(d.listings),
		items:      cloneMap(d.items),
		flags:      cloneMap(d.flags),
		orders:     cloneMap(d.orders),
		orderItems: cloneMap(d.orderItems),
		payments:   cloneMap(d.payments),
		transfers:  cloneMap(d.transfers),
		cases:      cloneMap(d.cases),
		notes:      cloneMap(d.notes),
	}
}

// Store is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	data *data

	seqMu sync.Mutex
	seq   int64
}

var _ store.Transactor = (*Store)(nil)

func New() *Store {
	return &Store{data: newData()}
}

func (s *Store) nextID() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

// WithTx runs fn against a private copy and publishes it only if fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.data.clone()
	if err := fn(&memTx{store: s, d: working}); err != nil {
		return err
	}
	s.data = working
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// AddTicket stands in for the catalog collaborator creating a ticket.
func (s *Store) AddTicket(t models.Ticket) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == 0 {
		t.ID = s.nextID()
	}
	if t.Status == "" {
		t.Status = models.TicketValid
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
		t.UpdatedAt = t.CreatedAt
	}
	s.data.tickets[t.ID] = t
	return t.ID
}

// Ticket returns a copy of a ticket for inspection.
func (s *Store) Ticket(id int64) (models.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data.tickets[id]
	return t, ok
}

// Counts reports row counts per table.
type Counts struct {
	Listings   int
	Items      int
	RiskFlags  int
	Orders     int
	OrderItems int
	Payments   int
	Transfers  int
	Cases      int
	Notes      int
}

func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{
		Listings:   len(s.data.listings),
		Items:      len(s.data.items),
		RiskFlags:  len(s.data.flags),
		Orders:     len(s.data.orders),
		OrderItems: len(s.data.orderItems),
		Payments:   len(s.data.payments),
		Transfers:  len(s.data.transfers),
		Cases:      len(s.data.cases),
		Notes:      len(s.data.notes),
	}
}

// ListingItemsForTicket returns every listing item ever created for a ticket.
func (s *Store) ListingItemsForTicket(ticketID int64) []models.ListingItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.data.items, func(i models.ListingItem) bool { return i.TicketID == ticketID },
		func(a, b models.ListingItem) bool { return a.ID < b.ID })
}

type memTx struct {
	store *Store
	d     *data
}
