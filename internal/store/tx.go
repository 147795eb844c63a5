package store

import (
	"context"
	"errors"
	"time"

	"ticket-resale/internal/models"
)

var (
	// ErrNotFound is returned when a row lookup matches nothing.
	ErrNotFound = errors.New("not found")

	// ErrTicketAlreadyListed is returned when the live-item unique index rejects an insert.
	ErrTicketAlreadyListed = errors.New("ticket already has a live listing item")

	// ErrConcurrentUpdate is returned when the database aborts a transaction that
	// lost a lock race (deadlock or serialization failure). Retrying may succeed.
	ErrConcurrentUpdate = errors.New("transaction aborted by a concurrent update")
)

// Transactor runs fn inside one transaction. A nil return commits; an error or
// a panic rolls back. Row locks taken inside fn are released when it returns.
//
// Transactions take row locks in this order: orders, listings, listing_items,
// payment_records, tickets. Listing intake locks only tickets and then inserts
// new rows.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

// Tx is the typed data access surface available inside a transaction.
type Tx interface {
	TicketTx
	ListingTx
	OrderTx
	CaseTx
	UserTx
}

type TicketTx interface {
	// LockTickets returns the existing tickets among ids, locked in ascending id order.
	LockTickets(ctx context.Context, ids []int64) ([]models.Ticket, error)
	TransferTicket(ctx context.Context, ticketID, newOwnerID int64, now time.Time) error
}

type ListingTx interface {
	InsertListing(ctx context.Context, l *models.Listing) error
	InsertRiskFlags(ctx context.Context, flags []models.RiskFlag) error
	InsertListingItems(ctx context.Context, items []models.ListingItem) error

	GetListing(ctx context.Context, id int64, forUpdate bool) (*models.Listing, error)
	GetListingItems(ctx context.Context, listingID int64) ([]models.ListingItem, error)
	GetRiskFlags(ctx context.Context, listingID int64) ([]models.RiskFlag, error)
	ListListingsBySeller(ctx context.Context, sellerID int64) ([]models.Listing, error)
	ListListingsByState(ctx context.Context, state models.ListingState) ([]models.Listing, error)
	ExpiredListingIDs(ctx context.Context, now time.Time) ([]int64, error)

	UpdateListingState(ctx context.Context, l *models.Listing) error
	UpdateItemStatusByListing(ctx context.Context, listingID int64, from []models.ItemStatus, to models.ItemStatus, now time.Time) (int64, error)
	SetItemStatus(ctx context.Context, itemID int64, status models.ItemStatus, now time.Time) error
	CountItemsByStatus(ctx context.Context, listingID int64, statuses []models.ItemStatus) (int, error)

	// LiveItemsForTickets returns items in PENDING, ACTIVE or SOLD referencing any of ticketIDs.
	LiveItemsForTickets(ctx context.Context, ticketIDs []int64) ([]models.ListingItem, error)

	// LockItemsForPurchase locks the listing items referencing ticketIDs in the given
	// listings, joined with their listing rows, in ascending ticket id order.
	LockItemsForPurchase(ctx context.Context, listingIDs, ticketIDs []int64) ([]models.LockedItem, error)
}

type OrderTx interface {
	InsertOrder(ctx context.Context, o *models.Order) error
	InsertOrderItems(ctx context.Context, items []models.OrderItem) error
	GetOrder(ctx context.Context, id int64, forUpdate bool) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	ListOrdersByBuyer(ctx context.Context, buyerID int64) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, o *models.Order) error
	// StalePendingOrderIDs lists pending orders whose window ended at or before now.
	// buyerID 0 matches every buyer.
	StalePendingOrderIDs(ctx context.Context, now time.Time, buyerID int64) ([]int64, error)

	InsertPayment(ctx context.Context, p *models.PaymentRecord) error
	GetOriginalPayment(ctx context.Context, orderID int64, forUpdate bool) (*models.PaymentRecord, error)
	ListPayments(ctx context.Context, orderID int64) ([]models.PaymentRecord, error)
	UpdatePayment(ctx context.Context, p *models.PaymentRecord) error

	InsertTransfer(ctx context.Context, t *models.Transfer) error
	ListTransfers(ctx context.Context, orderID int64) ([]models.Transfer, error)
}

type CaseTx interface {
	InsertCase(ctx context.Context, c *models.Case) error
	GetCase(ctx context.Context, id int64, forUpdate bool) (*models.Case, error)
	UpdateCase(ctx context.Context, c *models.Case) error
	ListCases(ctx context.Context, status models.CaseStatus) ([]models.Case, error)
	ListCasesByReporter(ctx context.Context, reporterID int64) ([]models.Case, error)
	InsertCaseNote(ctx context.Context, n *models.CaseNote) error
	ListCaseNotes(ctx context.Context, caseID int64) ([]models.CaseNote, error)
}

type UserTx interface {
	SellerStanding(ctx context.Context, sellerID int64) (models.SellerStanding, error)
	IsBlacklisted(ctx context.Context, userID int64) (bool, error)
	// InsertBlacklistEntry reports false when the user was already blacklisted.
	InsertBlacklistEntry(ctx context.Context, e *models.BlacklistEntry) (bool, error)
	UpsertUserProfile(ctx context.Context, p *models.UserProfile) error
}
