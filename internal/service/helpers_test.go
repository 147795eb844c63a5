package service

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"ticket-resale/internal/broker"
	"ticket-resale/internal/models"
	"ticket-resale/internal/risk"
	"ticket-resale/internal/store"
	"ticket-resale/internal/store/memstore"
	"ticket-resale/internal/util"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// spans collects every span the services end during the test run.
var spans = tracetest.NewSpanRecorder()

func TestMain(m *testing.M) {
	_ = util.InitLogger("test")
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	os.Exit(m.Run())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	types  []string
	keys   []string
	events []interface{}
}

func (r *recordingSink) PublishEvent(_ context.Context, key string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var base models.BaseEvent
	if err := json.Unmarshal(body, &base); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, base.EventType)
	r.keys = append(r.keys, key)
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

func (r *recordingSink) Count(eventType string) int {
	n := 0
	for _, t := range r.Types() {
		if t == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	st       *memstore.Store
	sink     *recordingSink
	clock    *fakeClock
	listings *ListingService
	orders   *OrderService
	cases    *CaseService
	users    *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memstore.New()
	sink := &recordingSink{}
	pub := broker.NewEventPublisher(sink)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limits := DefaultLimits()

	f := &fixture{
		st:       st,
		sink:     sink,
		clock:    clock,
		listings: NewListingService(st, risk.DefaultEngine(), pub, limits),
		orders:   NewOrderService(st, nil, pub, limits, 10*time.Minute),
		cases:    NewCaseService(st, pub),
		users:    NewUserService(st, nil, pub, time.Hour),
	}
	f.listings.now = clock.Now
	f.orders.now = clock.Now
	f.cases.now = clock.Now
	f.users.now = clock.Now
	return f
}

func (f *fixture) ctx() context.Context { return context.Background() }

// ticket creates a valid ticket owned by owner.
func (f *fixture) ticket(owner, faceValue int64) int64 {
	return f.st.AddTicket(models.Ticket{EventID: 1, ZoneID: 1, FaceValue: faceValue, OwnerID: &owner})
}

// trustedSeller gives seller full KYC and one previously approved listing so
// intake raises no seller flags.
func (f *fixture) trustedSeller(t *testing.T, seller int64) {
	t.Helper()
	require.NoError(t, f.users.UpdateKYC(f.ctx(), seller, 2))
	now := f.clock.Now()
	err := f.st.WithTx(f.ctx(), func(tx store.Tx) error {
		return tx.InsertListing(f.ctx(), &models.Listing{
			SellerID:   seller,
			State:      models.ListingExpired,
			ApprovedAt: &now,
			ExpiresAt:  now,
			CreatedAt:  now.Add(-24 * time.Hour),
		})
	})
	require.NoError(t, err)
}

func (f *fixture) expiry() time.Time { return f.clock.Now().Add(72 * time.Hour) }

// activeListing lists tickets at face value for a trusted seller.
func (f *fixture) activeListing(t *testing.T, seller int64, tickets ...int64) int64 {
	t.Helper()
	prices := make([]int64, len(tickets))
	for i, id := range tickets {
		tk, ok := f.st.Ticket(id)
		require.True(t, ok)
		prices[i] = tk.FaceValue
	}
	resp, err := f.listings.CreateListing(f.ctx(), &CreateListingRequest{
		SellerID:  seller,
		TicketIDs: tickets,
		Prices:    prices,
		ExpiresAt: f.expiry(),
	})
	require.NoError(t, err)
	require.False(t, resp.RequiresReview, "flags: %+v", resp.RiskFlags)
	return resp.ListingID
}

func (f *fixture) listing(t *testing.T, id int64) *ListingView {
	t.Helper()
	v, err := f.listings.GetListing(f.ctx(), id)
	require.NoError(t, err)
	return v
}

func (f *fixture) itemStatus(t *testing.T, listingID, ticketID int64) models.ItemStatus {
	t.Helper()
	for _, item := range f.listing(t, listingID).Items {
		if item.TicketID == ticketID {
			return item.Status
		}
	}
	t.Fatalf("ticket %d not in listing %d", ticketID, listingID)
	return ""
}

func (f *fixture) order(t *testing.T, orderID, buyer int64) *OrderView {
	t.Helper()
	v, err := f.orders.GetOrder(f.ctx(), orderID, buyer, false)
	require.NoError(t, err)
	return v
}
