package risk

import (
	"fmt"

	"ticket-resale/internal/models"

	"github.com/shopspring/decimal"
)

type BlacklistedSellerRule struct{}

func (BlacklistedSellerRule) Name() string { return "blacklisted_seller" }

func (BlacklistedSellerRule) Evaluate(s Snapshot) []Flag {
	if !s.Seller.Blacklisted {
		return nil
	}
	return []Flag{{
		Kind:   models.FlagBlacklistedSeller,
		Reason: fmt.Sprintf("seller %d is blacklisted", s.Seller.ID),
	}}
}

// NewSellerRule flags sellers without an approved listing or with weak KYC.
type NewSellerRule struct {
	MinKYCLevel int
}

func (NewSellerRule) Name() string { return "new_seller" }

func (r NewSellerRule) Evaluate(s Snapshot) []Flag {
	switch {
	case s.Seller.PriorApprovedListings == 0:
		return []Flag{{Kind: models.FlagNewSeller, Reason: "seller has no previously approved listing"}}
	case s.Seller.KYCLevel < r.MinKYCLevel:
		return []Flag{{
			Kind:   models.FlagNewSeller,
			Reason: fmt.Sprintf("seller KYC level %d is below %d", s.Seller.KYCLevel, r.MinKYCLevel),
		}}
	}
	return nil
}

type HighQuantityRule struct {
	MaxItems int
}

func (HighQuantityRule) Name() string { return "high_quantity" }

func (r HighQuantityRule) Evaluate(s Snapshot) []Flag {
	if len(s.Items) <= r.MaxItems {
		return nil
	}
	return []Flag{{
		Kind:   models.FlagHighQuantity,
		Reason: fmt.Sprintf("%d tickets listed together (limit %d)", len(s.Items), r.MaxItems),
	}}
}

// PriceBandRule flags each ticket priced outside [Low, High] times its face value.
type PriceBandRule struct {
	High decimal.Decimal
	Low  decimal.Decimal
}

func NewPriceBandRule() PriceBandRule {
	return PriceBandRule{
		High: decimal.RequireFromString("1.20"),
		Low:  decimal.RequireFromString("0.50"),
	}
}

func (PriceBandRule) Name() string { return "price_band" }

func (r PriceBandRule) Evaluate(s Snapshot) []Flag {
	var flags []Flag
	for _, item := range s.Items {
		price := decimal.NewFromInt(item.Price)
		face := decimal.NewFromInt(item.FaceValue)

		if price.GreaterThan(face.Mul(r.High)) {
			flags = append(flags, Flag{
				Kind:     models.FlagHighPrice,
				TicketID: item.TicketID,
				Reason:   fmt.Sprintf("ticket %d priced at %s of face value", item.TicketID, percentOf(price, face)),
			})
		}
		if price.LessThan(face.Mul(r.Low)) {
			flags = append(flags, Flag{
				Kind:     models.FlagLowPrice,
				TicketID: item.TicketID,
				Reason:   fmt.Sprintf("ticket %d priced at %s of face value", item.TicketID, percentOf(price, face)),
			})
		}
	}
	return flags
}

func percentOf(price, face decimal.Decimal) string {
	if face.IsZero() {
		return "an unknown share"
	}
	return price.Mul(decimal.NewFromInt(100)).Div(face).Round(1).String() + "%"
}
