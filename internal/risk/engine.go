package risk

import (
	"ticket-resale/internal/models"
)

// Seller is the seller side of a risk snapshot.
type Seller struct {
	ID                    int64
	Blacklisted           bool
	KYCLevel              int
	PriorApprovedListings int
}

// Item is one ticket offered in the batch being scored.
type Item struct {
	TicketID  int64
	Price     int64
	FaceValue int64
}

// Snapshot is the immutable input every rule sees.
type Snapshot struct {
	Seller Seller
	Items  []Item
}

// Flag is a rule finding. Callers persist it as a models.RiskFlag.
type Flag struct {
	Kind     models.RiskFlagKind `json:"kind"`
	TicketID int64               `json:"ticketId,omitempty"`
	Reason   string              `json:"reason"`
}

// Rule evaluates one independent risk check.
type Rule interface {
	Name() string
	Evaluate(s Snapshot) []Flag
}

// Engine runs every registered rule over the same snapshot.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine evaluating rules in registration order
func NewEngine(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// DefaultEngine returns the marketplace rule set.
func DefaultEngine() *Engine {
	return NewEngine(
		BlacklistedSellerRule{},
		NewSellerRule{MinKYCLevel: 2},
		HighQuantityRule{MaxItems: 5},
		NewPriceBandRule(),
	)
}

// Rules returns the registered rule names.
func (e *Engine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name())
	}
	return names
}

// Evaluate runs all rules. No rule can stop another from running.
func (e *Engine) Evaluate(s Snapshot) []Flag {
	flags := make([]Flag, 0)
	for _, r := range e.rules {
		items := make([]Item, len(s.Items))
		copy(items, s.Items)
		flags = append(flags, r.Evaluate(Snapshot{Seller: s.Seller, Items: items})...)
	}
	return flags
}
