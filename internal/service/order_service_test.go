package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ticket-resale/internal/apperr"
	"ticket-resale/internal/models"
	"ticket-resale/internal/redisclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	seller = int64(100)
	buyer  = int64(200)
	rival  = int64(300)
)

func (f *fixture) buy(t *testing.T, who int64, items ...OrderItemRequest) *CreateOrderResponse {
	t.Helper()
	resp, err := f.orders.CreateOrder(f.ctx(), &CreateOrderRequest{BuyerID: who, Items: items})
	require.NoError(t, err)
	return resp
}

func TestCreateOrder_SnapshotsPricesAndClaimsItems(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	b := f.ticket(seller, 1100)
	listingID := f.activeListing(t, seller, a, b)

	resp := f.buy(t, buyer, OrderItemRequest{listingID, a})
	assert.Equal(t, int64(1000), resp.TotalAmount)
	assert.Equal(t, models.OrderPending, resp.Status)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), resp.ExpiresAt)

	v := f.order(t, resp.OrderID, buyer)
	require.Len(t, v.Items, 1)
	assert.Equal(t, int64(1000), v.Items[0].UnitPrice)
	assert.Equal(t, seller, v.Items[0].SellerID)
	assert.True(t, v.Payable)
	require.Len(t, v.Payments, 1)
	assert.Equal(t, models.PaymentPending, v.Payments[0].Status)
	assert.Equal(t, models.MethodUnset, v.Payments[0].Method)
	assert.Equal(t, int64(1000), v.Payments[0].Amount)

	// One item left, so the listing stays open.
	assert.Equal(t, models.ItemSold, f.itemStatus(t, listingID, a))
	assert.Equal(t, models.ItemActive, f.itemStatus(t, listingID, b))
	assert.Equal(t, models.ListingActive, f.listing(t, listingID).State)

	f.buy(t, rival, OrderItemRequest{listingID, b})
	assert.Equal(t, models.ListingSold, f.listing(t, listingID).State)
	assert.Equal(t, 2, f.sink.Count(models.EventTypeOrderCreated))
}

func TestCreateOrder_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	b := f.ticket(seller, 1000)
	la := f.activeListing(t, seller, a)
	lb := f.activeListing(t, seller, b)
	f.buy(t, rival, OrderItemRequest{lb, b})
	before := f.st.Counts()

	_, err := f.orders.CreateOrder(f.ctx(), &CreateOrderRequest{
		BuyerID: buyer,
		Items:   []OrderItemRequest{{la, a}, {lb, b}},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	assert.Equal(t, before, f.st.Counts())
	assert.Equal(t, models.ItemActive, f.itemStatus(t, la, a))
}

func TestCreateOrder_Rejections(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	listingID := f.activeListing(t, seller, a)

	_, err := f.orders.CreateOrder(f.ctx(), &CreateOrderRequest{BuyerID: buyer})
	assert.True(t, apperr.Is(err, "EMPTY_ORDER"))

	_, err = f.orders.CreateOrder(f.ctx(), &CreateOrderRequest{BuyerID: buyer, Items: []OrderItemRequest{{listingID, a}, {listingID, a}}})
	assert.True(t, apperr.Is(err, "DUPLICATE_TICKET"))

	_, err = f.orders.CreateOrder(f.ctx(), &CreateOrderRequest{BuyerID: seller, Items: []OrderItemRequest{{listingID, a}}})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = f.orders.CreateOrder(f.ctx(), &CreateOrderRequest{BuyerID: buyer, Items: []OrderItemRequest{{listingID + 1000, a}}})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	assert.Equal(t, 0, f.st.Counts().Orders)
}

func TestCreateOrder_PendingReviewListingNotPurchasable(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	resp, err := f.listings.CreateListing(f.ctx(), &CreateListingRequest{
		SellerID: seller, TicketIDs: []int64{a}, Prices: []int64{1300}, ExpiresAt: f.expiry(),
	})
	require.NoError(t, err)

	_, err = f.orders.CreateOrder(f.ctx(), &CreateOrderRequest{BuyerID: buyer, Items: []OrderItemRequest{{resp.ListingID, a}}})
	assert.True(t, apperr.Is(err, "LISTING_NOT_PURCHASABLE"))
}

func TestCreateOrder_ExpiredListingNotPurchasable(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	listingID := f.activeListing(t, seller, a)

	// Past expiry but not yet swept.
	f.clock.Advance(72 * time.Hour)
	_, err := f.orders.CreateOrder(f.ctx(), &CreateOrderRequest{BuyerID: buyer, Items: []OrderItemRequest{{listingID, a}}})
	assert.True(t, apperr.Is(err, "LISTING_NOT_PURCHASABLE"))
}

func TestCreateOrder_ConcurrentBuyersExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	listingID := f.activeListing(t, seller, a)
	before := f.st.Counts()

	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		failures []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(buyerID int64) {
			defer wg.Done()
			_, err := f.orders.CreateOrder(context.Background(), &CreateOrderRequest{
				BuyerID: buyerID,
				Items:   []OrderItemRequest{{listingID, a}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else {
				failures = append(failures, err)
			}
		}(int64(1000 + i))
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	require.Len(t, failures, n-1)
	for _, err := range failures {
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	}

	after := f.st.Counts()
	assert.Equal(t, before.Orders+1, after.Orders)
	assert.Equal(t, before.OrderItems+1, after.OrderItems)
	assert.Equal(t, before.Payments+1, after.Payments)
}

func TestPayOrder_TransfersOwnership(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	b := f.ticket(seller, 1000)
	listingID := f.activeListing(t, seller, a, b)
	order := f.buy(t, buyer, OrderItemRequest{listingID, a}, OrderItemRequest{listingID, b})

	_, err := f.orders.PayOrder(f.ctx(), &PayOrderRequest{OrderID: order.OrderID, BuyerID: buyer, Method: "CASH"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.orders.PayOrder(f.ctx(), &PayOrderRequest{OrderID: order.OrderID, BuyerID: rival, Method: models.MethodCard})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = f.orders.PayOrder(f.ctx(), &PayOrderRequest{OrderID: 987654, BuyerID: buyer, Method: models.MethodCard})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	resp, err := f.orders.PayOrder(f.ctx(), &PayOrderRequest{OrderID: order.OrderID, BuyerID: buyer, Method: models.MethodCard})
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, resp.Status)
	assert.Equal(t, int64(2000), resp.Amount)
	assert.Len(t, resp.Transfers, 2)

	for _, id := range []int64{a, b} {
		tk, ok := f.st.Ticket(id)
		require.True(t, ok)
		assert.True(t, tk.OwnedBy(buyer))
		assert.Equal(t, models.TicketTransferred, tk.Status)
	}

	v := f.order(t, order.OrderID, buyer)
	assert.Equal(t, models.OrderCompleted, v.Status)
	assert.False(t, v.Payable)
	require.Len(t, v.Payments, 1)
	assert.Equal(t, models.PaymentSuccess, v.Payments[0].Status)
	assert.Equal(t, models.MethodCard, v.Payments[0].Method)
	assert.NotNil(t, v.Payments[0].PaidAt)
	require.Len(t, v.Transfers, 2)
	assert.Equal(t, models.TransferSuccess, v.Transfers[0].Result)
	assert.Equal(t, seller, *v.Transfers[0].FromUserID)

	_, err = f.orders.PayOrder(f.ctx(), &PayOrderRequest{OrderID: order.OrderID, BuyerID: buyer, Method: models.MethodCard})
	assert.True(t, apperr.Is(err, "ORDER_NOT_PENDING"))
	assert.Equal(t, 1, f.sink.Count(models.EventTypeOrderCompleted))
}

func TestCancelOrder_RoundTrip(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	listingID := f.activeListing(t, seller, a)
	order := f.buy(t, buyer, OrderItemRequest{listingID, a})
	assert.Equal(t, models.ListingSold, f.listing(t, listingID).State)

	_, err := f.orders.CancelOrder(f.ctx(), order.OrderID, rival)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	o, err := f.orders.CancelOrder(f.ctx(), order.OrderID, buyer)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, o.Status)
	assert.Equal(t, ReasonBuyerCancelled, o.CancelReason)

	assert.Equal(t, models.ItemActive, f.itemStatus(t, listingID, a))
	assert.Equal(t, models.ListingActive, f.listing(t, listingID).State)
	v := f.order(t, order.OrderID, buyer)
	assert.Equal(t, models.PaymentFailed, v.Payments[0].Status)
	tk, _ := f.st.Ticket(a)
	assert.True(t, tk.OwnedBy(seller))

	_, err = f.orders.CancelOrder(f.ctx(), order.OrderID, buyer)
	assert.True(t, apperr.Is(err, "ORDER_NOT_PENDING"))

	// Released stock is buyable again.
	f.buy(t, rival, OrderItemRequest{listingID, a})
	assert.Equal(t, 1, f.sink.Count(models.EventTypeOrderCancelled))
}

func TestCancelOrder_AfterTakeDownCancelsItem(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	b := f.ticket(seller, 1000)
	listingID := f.activeListing(t, seller, a, b)
	order := f.buy(t, buyer, OrderItemRequest{listingID, a})

	_, err := f.listings.TakeDown(f.ctx(), 1, listingID, "fraud")
	require.NoError(t, err)

	_, err = f.orders.CancelOrder(f.ctx(), order.OrderID, buyer)
	require.NoError(t, err)
	assert.Equal(t, models.ItemCancelled, f.itemStatus(t, listingID, a))
	assert.Equal(t, models.ListingCancelled, f.listing(t, listingID).State)
}

func TestPayOrder_AfterWindowExpiresOrder(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	listingID := f.activeListing(t, seller, a)
	order := f.buy(t, buyer, OrderItemRequest{listingID, a})

	f.clock.Advance(5*time.Minute - time.Second)
	assert.True(t, f.order(t, order.OrderID, buyer).Payable)

	f.clock.Advance(time.Second)
	_, err := f.orders.PayOrder(f.ctx(), &PayOrderRequest{OrderID: order.OrderID, BuyerID: buyer, Method: models.MethodWallet})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, "PAYMENT_WINDOW_EXPIRED"))

	// The release was committed even though the call failed.
	v := f.order(t, order.OrderID, buyer)
	assert.Equal(t, models.OrderCancelled, v.Status)
	assert.Equal(t, ReasonPaymentWindowExpired, v.CancelReason)
	assert.Equal(t, models.PaymentFailed, v.Payments[0].Status)
	assert.Equal(t, models.ItemActive, f.itemStatus(t, listingID, a))
	tk, _ := f.st.Ticket(a)
	assert.True(t, tk.OwnedBy(seller))
}

func TestExpiry_LazyAndSweepAgree(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	b := f.ticket(seller, 1000)
	la := f.activeListing(t, seller, a)
	lb := f.activeListing(t, seller, b)
	lazy := f.buy(t, buyer, OrderItemRequest{la, a})
	swept := f.buy(t, rival, OrderItemRequest{lb, b})

	f.clock.Advance(6 * time.Minute)

	lazyView := f.order(t, lazy.OrderID, buyer)

	n, err := f.orders.ExpireStaleOrders(f.ctx(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	sweptView := f.order(t, swept.OrderID, rival)

	for _, v := range []*OrderView{lazyView, sweptView} {
		assert.Equal(t, models.OrderCancelled, v.Status)
		assert.Equal(t, ReasonPaymentWindowExpired, v.CancelReason)
		assert.False(t, v.Payable)
		assert.Equal(t, models.PaymentFailed, v.Payments[0].Status)
	}
	assert.Equal(t, models.ItemActive, f.itemStatus(t, la, a))
	assert.Equal(t, models.ItemActive, f.itemStatus(t, lb, b))
	assert.Equal(t, models.ListingActive, f.listing(t, la).State)
	assert.Equal(t, models.ListingActive, f.listing(t, lb).State)

	n, err = f.orders.ExpireStaleOrders(f.ctx(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCancelOrder_AfterWindowStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	listingID := f.activeListing(t, seller, a)
	order := f.buy(t, buyer, OrderItemRequest{listingID, a})

	f.clock.Advance(10 * time.Minute)
	o, err := f.orders.CancelOrder(f.ctx(), order.OrderID, buyer)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, o.Status)
	assert.Equal(t, ReasonPaymentWindowExpired, o.CancelReason)
}

func TestListOrdersExpiresStaleOnes(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	listingID := f.activeListing(t, seller, a)
	f.buy(t, buyer, OrderItemRequest{listingID, a})

	f.clock.Advance(5 * time.Minute)
	orders, err := f.orders.ListOrders(f.ctx(), buyer)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderCancelled, orders[0].Status)

	others, err := f.orders.ListOrders(f.ctx(), rival)
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestGetOrderVisibility(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	listingID := f.activeListing(t, seller, a)
	order := f.buy(t, buyer, OrderItemRequest{listingID, a})

	_, err := f.orders.GetOrder(f.ctx(), order.OrderID, rival, false)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	v, err := f.orders.GetOrder(f.ctx(), order.OrderID, rival, true)
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, v.ID)

	_, err = f.orders.GetOrder(f.ctx(), 777777, buyer, false)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

type memIdempotency struct {
	mu   sync.Mutex
	vals map[string]string
}

func (m *memIdempotency) ClaimIdempotencyKey(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vals[key]; ok {
		return false, nil
	}
	m.vals[key] = redisclient.InFlight
	return true, nil
}

func (m *memIdempotency) StoreIdempotentResult(_ context.Context, key, result string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = result
	return nil
}

func (m *memIdempotency) GetIdempotentResult(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memIdempotency) ReleaseIdempotencyKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

func TestCreateOrder_IdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	idem := &memIdempotency{vals: map[string]string{}}
	f.orders.idempotency = idem
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	b := f.ticket(seller, 1000)
	listingID := f.activeListing(t, seller, a, b)

	req := &CreateOrderRequest{BuyerID: buyer, Items: []OrderItemRequest{{listingID, a}}, IdempotencyKey: "k1"}
	first, err := f.orders.CreateOrder(f.ctx(), req)
	require.NoError(t, err)
	second, err := f.orders.CreateOrder(f.ctx(), req)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, f.st.Counts().Orders)

	// A failed attempt frees its key for a retry.
	failing := &CreateOrderRequest{BuyerID: buyer, Items: []OrderItemRequest{{listingID, a}}, IdempotencyKey: "k2"}
	_, err = f.orders.CreateOrder(f.ctx(), failing)
	require.Error(t, err)
	_, found, _ := idem.GetIdempotentResult(f.ctx(), "200:k2")
	assert.False(t, found)

	// Keys are scoped per buyer.
	other := &CreateOrderRequest{BuyerID: rival, Items: []OrderItemRequest{{listingID, b}}, IdempotencyKey: "k1"}
	third, err := f.orders.CreateOrder(f.ctx(), other)
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, third.OrderID)

	idem.vals["200:k3"] = redisclient.InFlight
	_, err = f.orders.CreateOrder(f.ctx(), &CreateOrderRequest{BuyerID: buyer, Items: []OrderItemRequest{{listingID, b}}, IdempotencyKey: "k3"})
	assert.True(t, apperr.Is(err, "REQUEST_IN_PROGRESS"))
}

func TestRelease_SoldOutListingPastExpiryExpires(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	listingID := f.activeListing(t, seller, a)

	f.clock.Advance(72*time.Hour - time.Minute)
	order := f.buy(t, buyer, OrderItemRequest{listingID, a})
	assert.Equal(t, models.ListingSold, f.listing(t, listingID).State)

	// The payment window outlives the listing; the lazy read releases the order.
	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, models.OrderCancelled, f.order(t, order.OrderID, buyer).Status)

	v := f.listing(t, listingID)
	assert.Equal(t, models.ListingExpired, v.State)
	assert.False(t, v.Purchasable)
	assert.Equal(t, models.ItemExpired, f.itemStatus(t, listingID, a))

	// The ticket is free to list again.
	f.activeListing(t, seller, a)
}

// brokenResultStore claims keys but cannot record results.
type brokenResultStore struct {
	*memIdempotency
}

func (brokenResultStore) StoreIdempotentResult(context.Context, string, string, time.Duration) error {
	return errors.New("redis: connection reset")
}

func TestCreateOrder_UnstoredResultFreesIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	idem := brokenResultStore{&memIdempotency{vals: map[string]string{}}}
	f.orders.idempotency = idem
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	listingID := f.activeListing(t, seller, a)

	req := &CreateOrderRequest{BuyerID: buyer, Items: []OrderItemRequest{{listingID, a}}, IdempotencyKey: "k1"}
	_, err := f.orders.CreateOrder(f.ctx(), req)
	require.NoError(t, err)

	_, found, _ := idem.GetIdempotentResult(f.ctx(), "200:k1")
	assert.False(t, found)

	// A retry runs again instead of waiting out the in-flight marker.
	_, err = f.orders.CreateOrder(f.ctx(), req)
	assert.False(t, apperr.Is(err, "REQUEST_IN_PROGRESS"))
	assert.True(t, apperr.Is(err, "ITEM_UNAVAILABLE") || apperr.Is(err, "LISTING_NOT_PURCHASABLE"), "got %v", err)
}
