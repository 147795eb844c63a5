package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ticket-resale/internal/models"
	"ticket-resale/internal/store"
)

var _ store.Tx = (*memTx)(nil)

func sortedValues[V interface{}](m map[int64]V, keep func(V) bool, less func(a, b V) bool) []V {
	out := make([]V, 0)
	for _, v := range m {
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsStatus(statuses []models.ItemStatus, s models.ItemStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (t *memTx) liveItemFor(ticketID, exceptItemID int64) bool {
	for _, item := range t.d.items {
		if item.TicketID == ticketID && item.ID != exceptItemID && item.Status.Live() {
			return true
		}
	}
	return false
}

// Tickets

func (t *memTx) LockTickets(_ context.Context, ids []int64) ([]models.Ticket, error) {
	return sortedValues(t.d.tickets,
		func(tk models.Ticket) bool { return containsID(ids, tk.ID) },
		func(a, b models.Ticket) bool { return a.ID < b.ID }), nil
}

func (t *memTx) TransferTicket(_ context.Context, ticketID, newOwnerID int64, now time.Time) error {
	tk, ok := t.d.tickets[ticketID]
	if !ok {
		return fmt.Errorf("row %d: %w", ticketID, store.ErrNotFound)
	}
	owner := newOwnerID
	tk.OwnerID = &owner
	tk.Status = models.TicketTransferred
	tk.UpdatedAt = now
	t.d.tickets[ticketID] = tk
	return nil
}

// Users

func (t *memTx) SellerStanding(_ context.Context, sellerID int64) (models.SellerStanding, error) {
	standing := models.SellerStanding{}
	_, standing.Blacklisted = t.d.blacklist[sellerID]
	if p, ok := t.d.profiles[sellerID]; ok {
		standing.KYCLevel = p.KYCLevel
	}
	for _, l := range t.d.listings {
		if l.SellerID == sellerID && l.ApprovedAt != nil {
			standing.PriorApprovedListings++
		}
	}
	return standing, nil
}

func (t *memTx) IsBlacklisted(_ context.Context, userID int64) (bool, error) {
	_, ok := t.d.blacklist[userID]
	return ok, nil
}

func (t *memTx) InsertBlacklistEntry(_ context.Context, e *models.BlacklistEntry) (bool, error) {
	if _, ok := t.d.blacklist[e.UserID]; ok {
		return false, nil
	}
	e.ID = t.store.nextID()
	t.d.blacklist[e.UserID] = *e
	return true, nil
}

func (t *memTx) UpsertUserProfile(_ context.Context, p *models.UserProfile) error {
	if p.KYCLevel < 0 || p.KYCLevel > 2 {
		return fmt.Errorf("kyc level %d out of range", p.KYCLevel)
	}
	t.d.profiles[p.UserID] = *p
	return nil
}

// Listings

func (t *memTx) InsertListing(_ context.Context, l *models.Listing) error {
	l.ID = t.store.nextID()
	l.UpdatedAt = l.CreatedAt
	t.d.listings[l.ID] = *l
	return nil
}

func (t *memTx) InsertRiskFlags(_ context.Context, flags []models.RiskFlag) error {
	for i := range flags {
		flags[i].ID = t.store.nextID()
		t.d.flags[flags[i].ID] = flags[i]
	}
	return nil
}

func (t *memTx) InsertListingItems(_ context.Context, items []models.ListingItem) error {
	for i := range items {
		item := &items[i]
		if item.Status.Live() && t.liveItemFor(item.TicketID, 0) {
			return store.ErrTicketAlreadyListed
		}
		item.ID = t.store.nextID()
		item.UpdatedAt = item.CreatedAt
		t.d.items[item.ID] = *item
	}
	return nil
}

func (t *memTx) GetListing(_ context.Context, id int64, _ bool) (*models.Listing, error) {
	l, ok := t.d.listings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (t *memTx) GetListingItems(_ context.Context, listingID int64) ([]models.ListingItem, error) {
	return sortedValues(t.d.items,
		func(i models.ListingItem) bool { return i.ListingID == listingID },
		func(a, b models.ListingItem) bool { return a.TicketID < b.TicketID }), nil
}

func (t *memTx) GetRiskFlags(_ context.Context, listingID int64) ([]models.RiskFlag, error) {
	return sortedValues(t.d.flags,
		func(f models.RiskFlag) bool { return f.ListingID == listingID },
		func(a, b models.RiskFlag) bool { return a.ID < b.ID }), nil
}

func (t *memTx) ListListingsBySeller(_ context.Context, sellerID int64) ([]models.Listing, error) {
	return sortedValues(t.d.listings,
		func(l models.Listing) bool { return l.SellerID == sellerID },
		func(a, b models.Listing) bool { return a.ID > b.ID }), nil
}

func (t *memTx) ListListingsByState(_ context.Context, state models.ListingState) ([]models.Listing, error) {
	return sortedValues(t.d.listings,
		func(l models.Listing) bool { return l.State == state },
		func(a, b models.Listing) bool { return a.ID < b.ID }), nil
}

func (t *memTx) ExpiredListingIDs(_ context.Context, now time.Time) ([]int64, error) {
	listings := sortedValues(t.d.listings,
		func(l models.Listing) bool {
			open := l.State == models.ListingPendingReview || l.State == models.ListingActive
			return open && !now.Before(l.ExpiresAt)
		},
		func(a, b models.Listing) bool { return a.ID < b.ID })
	ids := make([]int64, 0, len(listings))
	for _, l := range listings {
		ids = append(ids, l.ID)
	}
	return ids, nil
}

func (t *memTx) UpdateListingState(_ context.Context, l *models.Listing) error {
	current, ok := t.d.listings[l.ID]
	if !ok {
		return fmt.Errorf("row %d: %w", l.ID, store.ErrNotFound)
	}
	current.State = l.State
	current.StateReason = l.StateReason
	current.ApprovedAt = l.ApprovedAt
	current.UpdatedAt = l.UpdatedAt
	t.d.listings[l.ID] = current
	return nil
}

func (t *memTx) UpdateItemStatusByListing(_ context.Context, listingID int64, from []models.ItemStatus, to models.ItemStatus, now time.Time) (int64, error) {
	var n int64
	for id, item := range t.d.items {
		if item.ListingID != listingID || !containsStatus(from, item.Status) {
			continue
		}
		item.Status = to
		item.UpdatedAt = now
		t.d.items[id] = item
		n++
	}
	return n, nil
}

func (t *memTx) SetItemStatus(_ context.Context, itemID int64, status models.ItemStatus, now time.Time) error {
	item, ok := t.d.items[itemID]
	if !ok {
		return fmt.Errorf("row %d: %w", itemID, store.ErrNotFound)
	}
	if status.Live() && t.liveItemFor(item.TicketID, itemID) {
		return store.ErrTicketAlreadyListed
	}
	item.Status = status
	item.UpdatedAt = now
	t.d.items[itemID] = item
	return nil
}

func (t *memTx) CountItemsByStatus(_ context.Context, listingID int64, statuses []models.ItemStatus) (int, error) {
	n := 0
	for _, item := range t.d.items {
		if item.ListingID == listingID && containsStatus(statuses, item.Status) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) LiveItemsForTickets(_ context.Context, ticketIDs []int64) ([]models.ListingItem, error) {
	return sortedValues(t.d.items,
		func(i models.ListingItem) bool { return containsID(ticketIDs, i.TicketID) && i.Status.Live() },
		func(a, b models.ListingItem) bool { return a.TicketID < b.TicketID }), nil
}

func (t *memTx) LockItemsForPurchase(_ context.Context, listingIDs, ticketIDs []int64) ([]models.LockedItem, error) {
	items := sortedValues(t.d.items,
		func(i models.ListingItem) bool {
			return containsID(listingIDs, i.ListingID) && containsID(ticketIDs, i.TicketID)
		},
		func(a, b models.ListingItem) bool {
			if a.TicketID != b.TicketID {
				return a.TicketID < b.TicketID
			}
			return a.ListingID < b.ListingID
		})

	locked := make([]models.LockedItem, 0, len(items))
	for _, item := range items {
		l := t.d.listings[item.ListingID]
		locked = append(locked, models.LockedItem{
			ListingItem:      item,
			SellerID:         l.SellerID,
			ListingState:     l.State,
			ListingExpiresAt: l.ExpiresAt,
		})
	}
	return locked, nil
}

// Orders

func (t *memTx) InsertOrder(_ context.Context, o *models.Order) error {
	o.ID = t.store.nextID()
	o.UpdatedAt = o.CreatedAt
	t.d.orders[o.ID] = *o
	return nil
}

func (t *memTx) InsertOrderItems(_ context.Context, items []models.OrderItem) error {
	for i := range items {
		items[i].ID = t.store.nextID()
		t.d.orderItems[items[i].ID] = items[i]
	}
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id int64, _ bool) (*models.Order, error) {
	o, ok := t.d.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (t *memTx) GetOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	return sortedValues(t.d.orderItems,
		func(i models.OrderItem) bool { return i.OrderID == orderID },
		func(a, b models.OrderItem) bool { return a.TicketID < b.TicketID }), nil
}

func (t *memTx) ListOrdersByBuyer(_ context.Context, buyerID int64) ([]models.Order, error) {
	return sortedValues(t.d.orders,
		func(o models.Order) bool { return o.BuyerID == buyerID },
		func(a, b models.Order) bool { return a.ID > b.ID }), nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, o *models.Order) error {
	current, ok := t.d.orders[o.ID]
	if !ok {
		return fmt.Errorf("row %d: %w", o.ID, store.ErrNotFound)
	}
	current.Status = o.Status
	current.CancelReason = o.CancelReason
	current.UpdatedAt = o.UpdatedAt
	t.d.orders[o.ID] = current
	return nil
}

func (t *memTx) StalePendingOrderIDs(_ context.Context, now time.Time, buyerID int64) ([]int64, error) {
	orders := sortedValues(t.d.orders,
		func(o models.Order) bool {
			return o.Status == models.OrderPending && !now.Before(o.ExpiresAt) &&
				(buyerID == 0 || o.BuyerID == buyerID)
		},
		func(a, b models.Order) bool { return a.ID < b.ID })
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (t *memTx) InsertPayment(_ context.Context, p *models.PaymentRecord) error {
	if p.Method != models.MethodRefund {
		for _, existing := range t.d.payments {
			if existing.OrderID == p.OrderID && existing.Method != models.MethodRefund {
				return fmt.Errorf("order %d already has an original payment", p.OrderID)
			}
		}
	}
	p.ID = t.store.nextID()
	p.UpdatedAt = p.CreatedAt
	t.d.payments[p.ID] = *p
	return nil
}

func (t *memTx) GetOriginalPayment(_ context.Context, orderID int64, _ bool) (*models.PaymentRecord, error) {
	for _, p := range t.d.payments {
		if p.OrderID == orderID && p.Method != models.MethodRefund {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) ListPayments(_ context.Context, orderID int64) ([]models.PaymentRecord, error) {
	return sortedValues(t.d.payments,
		func(p models.PaymentRecord) bool { return p.OrderID == orderID },
		func(a, b models.PaymentRecord) bool { return a.ID < b.ID }), nil
}

func (t *memTx) UpdatePayment(_ context.Context, p *models.PaymentRecord) error {
	current, ok := t.d.payments[p.ID]
	if !ok {
		return fmt.Errorf("row %d: %w", p.ID, store.ErrNotFound)
	}
	current.Status = p.Status
	current.Method = p.Method
	current.PaidAt = p.PaidAt
	current.UpdatedAt = p.UpdatedAt
	t.d.payments[p.ID] = current
	return nil
}

func (t *memTx) InsertTransfer(_ context.Context, tr *models.Transfer) error {
	tr.ID = t.store.nextID()
	t.d.transfers[tr.ID] = *tr
	return nil
}

func (t *memTx) ListTransfers(_ context.Context, orderID int64) ([]models.Transfer, error) {
	return sortedValues(t.d.transfers,
		func(tr models.Transfer) bool { return tr.OrderID == orderID },
		func(a, b models.Transfer) bool { return a.ID < b.ID }), nil
}

// Cases

func (t *memTx) InsertCase(_ context.Context, c *models.Case) error {
	c.ID = t.store.nextID()
	c.UpdatedAt = c.CreatedAt
	t.d.cases[c.ID] = *c
	return nil
}

func (t *memTx) GetCase(_ context.Context, id int64, _ bool) (*models.Case, error) {
	c, ok := t.d.cases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (t *memTx) UpdateCase(_ context.Context, c *models.Case) error {
	current, ok := t.d.cases[c.ID]
	if !ok {
		return fmt.Errorf("row %d: %w", c.ID, store.ErrNotFound)
	}
	if c.Status == models.CaseClosed && c.Resolution == nil {
		return fmt.Errorf("case %d: closed case requires a resolution", c.ID)
	}
	current.Status = c.Status
	current.Resolution = c.Resolution
	current.ClosedAt = c.ClosedAt
	current.UpdatedAt = c.UpdatedAt
	t.d.cases[c.ID] = current
	return nil
}

func (t *memTx) ListCases(_ context.Context, status models.CaseStatus) ([]models.Case, error) {
	return sortedValues(t.d.cases,
		func(c models.Case) bool { return status == "" || c.Status == status },
		func(a, b models.Case) bool { return a.ID < b.ID }), nil
}

func (t *memTx) ListCasesByReporter(_ context.Context, reporterID int64) ([]models.Case, error) {
	return sortedValues(t.d.cases,
		func(c models.Case) bool { return c.ReporterID == reporterID },
		func(a, b models.Case) bool { return a.ID > b.ID }), nil
}

func (t *memTx) InsertCaseNote(_ context.Context, n *models.CaseNote) error {
	n.ID = t.store.nextID()
	t.d.notes[n.ID] = *n
	return nil
}

func (t *memTx) ListCaseNotes(_ context.Context, caseID int64) ([]models.CaseNote, error) {
	return sortedValues(t.d.notes,
		func(n models.CaseNote) bool { return n.CaseID == caseID },
		func(a, b models.CaseNote) bool { return a.ID < b.ID }), nil
}
