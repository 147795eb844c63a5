package models

import "time"

// Event types
const (
	EventTypeListingCreated   = "LISTING_CREATED"
	EventTypeListingApproved  = "LISTING_APPROVED"
	EventTypeListingRejected  = "LISTING_REJECTED"
	EventTypeListingCancelled = "LISTING_CANCELLED"
	EventTypeOrderCreated     = "ORDER_CREATED"
	EventTypeOrderCompleted   = "ORDER_COMPLETED"
	EventTypeOrderCancelled   = "ORDER_CANCELLED"
	EventTypeRefundIssued     = "REFUND_ISSUED"
	EventTypeUserBlacklisted  = "USER_BLACKLISTED"

	// Produced by the identity collaborator.
	EventTypeKYCLevelUpdated = "KYC_LEVEL_UPDATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
}

// ListingCreatedEvent published after a listing passes intake
type ListingCreatedEvent struct {
	BaseEvent
	ListingID      int64          `json:"listingId"`
	SellerID       int64          `json:"sellerId"`
	ApprovalStatus ApprovalStatus `json:"approvalStatus"`
	TicketIDs      []int64        `json:"ticketIds"`
	RiskFlags      []RiskFlagKind `json:"riskFlags"`
}

// ListingStateChangedEvent published on operator or seller transitions
type ListingStateChangedEvent struct {
	BaseEvent
	ListingID int64        `json:"listingId"`
	State     ListingState `json:"state"`
	ActorID   int64        `json:"actorId"`
	Reason    string       `json:"reason,omitempty"`
}

// OrderCreatedEvent published when items are reserved into an order
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"orderId"`
	BuyerID     int64           `json:"buyerId"`
	TotalAmount int64           `json:"totalAmount"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	Items       []OrderItemData `json:"items"`
}

// OrderCompletedEvent published after settlement transfers ownership
type OrderCompletedEvent struct {
	BaseEvent
	OrderID   int64  `json:"orderId"`
	BuyerID   int64  `json:"buyerId"`
	PaymentID int64  `json:"paymentId"`
	Amount    int64  `json:"amount"`
	Method    string `json:"method"`
}

// OrderCancelledEvent published when a pending order releases its items
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64  `json:"orderId"`
	Reason  string `json:"reason"`
}

// RefundIssuedEvent published when a case issues a refund entry
type RefundIssuedEvent struct {
	BaseEvent
	CaseID    int64  `json:"caseId"`
	OrderID   int64  `json:"orderId"`
	PaymentID int64  `json:"paymentId"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

// UserBlacklistedEvent published when an operator blacklists a user
type UserBlacklistedEvent struct {
	BaseEvent
	UserID int64  `json:"userId"`
	Reason string `json:"reason"`
}

// KYCLevelUpdatedEvent consumed from the identity collaborator
type KYCLevelUpdatedEvent struct {
	BaseEvent
	UserID   int64 `json:"userId"`
	KYCLevel int   `json:"kycLevel"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ListingID int64 `json:"listingId"`
	TicketID  int64 `json:"ticketId"`
	UnitPrice int64 `json:"unitPrice"`
}
