package models

import "time"

// Ticket is owned by the catalog; the core only reassigns its owner on settlement.
type Ticket struct {
	ID        int64        `db:"id" json:"id"`
	EventID   int64        `db:"event_id" json:"eventId"`
	ZoneID    int64        `db:"zone_id" json:"zoneId"`
	FaceValue int64        `db:"face_value" json:"faceValue"`
	OwnerID   *int64       `db:"owner_id" json:"ownerId"`
	Status    TicketStatus `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time    `db:"updated_at" json:"updatedAt"`
}

// OwnedBy reports whether userID currently owns the ticket.
func (t *Ticket) OwnedBy(userID int64) bool {
	return t.OwnerID != nil && *t.OwnerID == userID
}

// Listing groups one or more tickets offered by a single seller.
type Listing struct {
	ID          int64        `db:"id" json:"id"`
	SellerID    int64        `db:"seller_id" json:"sellerId"`
	State       ListingState `db:"state" json:"state"`
	StateReason string       `db:"state_reason" json:"stateReason,omitempty"`
	ApprovedAt  *time.Time   `db:"approved_at" json:"approvedAt,omitempty"`
	ExpiresAt   time.Time    `db:"expires_at" json:"expiresAt"`
	CreatedAt   time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updatedAt"`
}

// ApprovalStatus derives the review outcome from the listing state.
func (l *Listing) ApprovalStatus() ApprovalStatus {
	switch l.State {
	case ListingPendingReview:
		return ApprovalPending
	case ListingRejected:
		return ApprovalRejected
	case ListingActive, ListingSold:
		return ApprovalApproved
	}
	if l.ApprovedAt != nil {
		return ApprovalApproved
	}
	return ApprovalPending
}

// LifecycleStatus derives the sale lifecycle from the listing state.
func (l *Listing) LifecycleStatus() LifecycleStatus {
	switch l.State {
	case ListingSold:
		return LifecycleSold
	case ListingExpired:
		return LifecycleExpired
	case ListingCancelled, ListingRejected:
		return LifecycleCancelled
	}
	return LifecycleActive
}

// Purchasable reports whether buyers may claim items of this listing at now.
func (l *Listing) Purchasable(now time.Time) bool {
	return l.State == ListingActive && now.Before(l.ExpiresAt)
}

// Live reports whether the listing can still take part in a sale.
func (l *Listing) Live() bool {
	return l.State == ListingPendingReview || l.State == ListingActive || l.State == ListingSold
}

// ListingItem is one ticket within a listing.
type ListingItem struct {
	ID        int64      `db:"id" json:"id"`
	ListingID int64      `db:"listing_id" json:"listingId"`
	TicketID  int64      `db:"ticket_id" json:"ticketId"`
	Price     int64      `db:"price" json:"price"`
	Status    ItemStatus `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
}

// LockedItem is a listing item read together with its listing under a row lock.
type LockedItem struct {
	ListingItem
	SellerID         int64        `db:"seller_id"`
	ListingState     ListingState `db:"listing_state"`
	ListingExpiresAt time.Time    `db:"listing_expires_at"`
}

// RiskFlag is an immutable reason a listing needs review.
type RiskFlag struct {
	ID        int64        `db:"id" json:"id"`
	ListingID int64        `db:"listing_id" json:"listingId"`
	Kind      RiskFlagKind `db:"kind" json:"kind"`
	Reason    string       `db:"reason" json:"reason"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
}

// Order represents a buyer's claim on one or more listing items.
type Order struct {
	ID           int64       `db:"id" json:"id"`
	BuyerID      int64       `db:"buyer_id" json:"buyerId"`
	Status       OrderStatus `db:"status" json:"status"`
	TotalAmount  int64       `db:"total_amount" json:"totalAmount"`
	CancelReason string      `db:"cancel_reason" json:"cancelReason,omitempty"`
	ExpiresAt    time.Time   `db:"expires_at" json:"expiresAt"`
	CreatedAt    time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updatedAt"`
}

// Expired reports whether a pending order has outlived its payment window.
func (o *Order) Expired(now time.Time) bool {
	return o.Status == OrderPending && !now.Before(o.ExpiresAt)
}

// Payable reports whether the order can still be settled at now.
func (o *Order) Payable(now time.Time) bool {
	return o.Status == OrderPending && now.Before(o.ExpiresAt)
}

// OrderItem carries the unit price captured when the order was created.
type OrderItem struct {
	ID        int64 `db:"id" json:"id"`
	OrderID   int64 `db:"order_id" json:"orderId"`
	ListingID int64 `db:"listing_id" json:"listingId"`
	TicketID  int64 `db:"ticket_id" json:"ticketId"`
	SellerID  int64 `db:"seller_id" json:"sellerId"`
	UnitPrice int64 `db:"unit_price" json:"unitPrice"`
}

// PaymentRecord is a ledger entry against an order. Refunds are separate records.
type PaymentRecord struct {
	ID        int64         `db:"id" json:"id"`
	OrderID   int64         `db:"order_id" json:"orderId"`
	Method    PaymentMethod `db:"method" json:"method"`
	Amount    int64         `db:"amount" json:"amount"`
	Status    PaymentStatus `db:"status" json:"status"`
	PaidAt    *time.Time    `db:"paid_at" json:"paidAt,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time     `db:"updated_at" json:"updatedAt"`
}

// Transfer is an append-only record of an ownership move.
type Transfer struct {
	ID         int64          `db:"id" json:"id"`
	TicketID   int64          `db:"ticket_id" json:"ticketId"`
	FromUserID *int64         `db:"from_user_id" json:"fromUserId"`
	ToUserID   int64          `db:"to_user_id" json:"toUserId"`
	OrderID    int64          `db:"order_id" json:"orderId"`
	Result     TransferResult `db:"result" json:"result"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
}

// Case is a post-sale dispute.
type Case struct {
	ID          int64      `db:"id" json:"id"`
	OrderID     int64      `db:"order_id" json:"orderId"`
	ReporterID  int64      `db:"reporter_id" json:"reporterId"`
	Type        CaseType   `db:"type" json:"type"`
	Status      CaseStatus `db:"status" json:"status"`
	Description string     `db:"description" json:"description"`
	Resolution  *string    `db:"resolution" json:"resolution"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
	ClosedAt    *time.Time `db:"closed_at" json:"closedAt,omitempty"`
}

// CaseNote is append-only.
type CaseNote struct {
	ID         int64     `db:"id" json:"id"`
	CaseID     int64     `db:"case_id" json:"caseId"`
	OperatorID int64     `db:"operator_id" json:"operatorId"`
	NoteType   NoteType  `db:"note_type" json:"noteType"`
	Content    string    `db:"content" json:"content"`
	Internal   bool      `db:"internal" json:"internal"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

type BlacklistEntry struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"userId"`
	Reason    string    `db:"reason" json:"reason"`
	CreatedBy int64     `db:"created_by" json:"createdBy"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// UserProfile is the local projection of identity data used by risk scoring.
type UserProfile struct {
	UserID    int64     `db:"user_id" json:"userId"`
	KYCLevel  int       `db:"kyc_level" json:"kycLevel"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// SellerStanding is what the store knows about a seller at listing time.
type SellerStanding struct {
	Blacklisted           bool
	KYCLevel              int
	PriorApprovedListings int
}
