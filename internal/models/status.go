package models

type TicketStatus string

const (
	TicketValid       TicketStatus = "VALID"
	TicketUsed        TicketStatus = "USED"
	TicketTransferred TicketStatus = "TRANSFERRED"
	TicketCancelled   TicketStatus = "CANCELLED"
)

// ListingState is the single source of truth for a listing. Review outcome and
// sale lifecycle are both derived from it.
type ListingState string

const (
	ListingPendingReview ListingState = "PENDING_REVIEW"
	ListingActive        ListingState = "ACTIVE"
	ListingRejected      ListingState = "REJECTED"
	ListingSold          ListingState = "SOLD"
	ListingExpired       ListingState = "EXPIRED"
	ListingCancelled     ListingState = "CANCELLED"
)

var listingTransitions = map[ListingState][]ListingState{
	ListingPendingReview: {ListingActive, ListingRejected, ListingCancelled, ListingExpired},
	ListingActive:        {ListingSold, ListingCancelled, ListingExpired},
	ListingSold:          {ListingActive, ListingExpired},
}

// CanTransition reports whether a listing may move from s to next.
func (s ListingState) CanTransition(next ListingState) bool {
	for _, allowed := range listingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

type LifecycleStatus string

const (
	LifecycleActive    LifecycleStatus = "ACTIVE"
	LifecycleSold      LifecycleStatus = "SOLD"
	LifecycleExpired   LifecycleStatus = "EXPIRED"
	LifecycleCancelled LifecycleStatus = "CANCELLED"
)

type ItemStatus string

const (
	ItemPending   ItemStatus = "PENDING"
	ItemActive    ItemStatus = "ACTIVE"
	ItemSold      ItemStatus = "SOLD"
	ItemExpired   ItemStatus = "EXPIRED"
	ItemCancelled ItemStatus = "CANCELLED"
	ItemRejected  ItemStatus = "REJECTED"
)

// LiveItemStatuses are the statuses that hold a ticket exclusively.
var LiveItemStatuses = []ItemStatus{ItemPending, ItemActive, ItemSold}

// Live reports whether the item still holds its ticket.
func (s ItemStatus) Live() bool {
	return s == ItemPending || s == ItemActive || s == ItemSold
}

type RiskFlagKind string

const (
	FlagHighPrice         RiskFlagKind = "HIGH_PRICE"
	FlagLowPrice          RiskFlagKind = "LOW_PRICE"
	FlagNewSeller         RiskFlagKind = "NEW_SELLER"
	FlagHighQuantity      RiskFlagKind = "HIGH_QUANTITY"
	FlagBlacklistedSeller RiskFlagKind = "BLACKLISTED_SELLER"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

type PaymentMethod string

const (
	MethodUnset        PaymentMethod = "UNSET"
	MethodCard         PaymentMethod = "CARD"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodWallet       PaymentMethod = "WALLET"
	MethodRefund       PaymentMethod = "REFUND"
)

// Payable reports whether a buyer may settle an order with m.
func (m PaymentMethod) Payable() bool {
	return m == MethodCard || m == MethodBankTransfer || m == MethodWallet
}

type TransferResult string

const (
	TransferSuccess TransferResult = "SUCCESS"
	TransferFailed  TransferResult = "FAILED"
	TransferPending TransferResult = "PENDING"
)

type CaseType string

const (
	CaseFraud    CaseType = "FRAUD"
	CaseDelivery CaseType = "DELIVERY"
	CaseRefund   CaseType = "REFUND"
	CaseOther    CaseType = "OTHER"
)

func (t CaseType) Valid() bool {
	switch t {
	case CaseFraud, CaseDelivery, CaseRefund, CaseOther:
		return true
	}
	return false
}

type CaseStatus string

const (
	CaseOpen       CaseStatus = "OPEN"
	CaseInProgress CaseStatus = "IN_PROGRESS"
	CaseClosed     CaseStatus = "CLOSED"
)

type NoteType string

const (
	NoteComment      NoteType = "COMMENT"
	NoteStatusChange NoteType = "STATUS_CHANGE"
	NoteRefund       NoteType = "REFUND"
	NoteResolution   NoteType = "RESOLUTION"
)

func (n NoteType) Valid() bool {
	switch n {
	case NoteComment, NoteStatusChange, NoteRefund, NoteResolution:
		return true
	}
	return false
}

type RefundType string

const (
	RefundFull    RefundType = "FULL"
	RefundPartial RefundType = "PARTIAL"
)
