package risk

import (
	"testing"

	"ticket-resale/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trustedSeller() Seller {
	return Seller{ID: 10, KYCLevel: 2, PriorApprovedListings: 3}
}

func kinds(flags []Flag) []models.RiskFlagKind {
	out := make([]models.RiskFlagKind, 0, len(flags))
	for _, f := range flags {
		out = append(out, f.Kind)
	}
	return out
}

func TestHighPriceFlagged(t *testing.T) {
	flags := DefaultEngine().Evaluate(Snapshot{
		Seller: trustedSeller(),
		Items:  []Item{{TicketID: 1, Price: 1300, FaceValue: 1000}},
	})

	require.Len(t, flags, 1)
	assert.Equal(t, models.FlagHighPrice, flags[0].Kind)
	assert.Equal(t, int64(1), flags[0].TicketID)
	assert.Contains(t, flags[0].Reason, "130%")
}

func TestFaceValuePriceFromTrustedSellerIsClean(t *testing.T) {
	flags := DefaultEngine().Evaluate(Snapshot{
		Seller: trustedSeller(),
		Items:  []Item{{TicketID: 1, Price: 1000, FaceValue: 1000}},
	})

	assert.Empty(t, flags)
}

func TestPriceBandBoundaries(t *testing.T) {
	cases := []struct {
		name  string
		price int64
		want  []models.RiskFlagKind
	}{
		{"exactly 120%", 1200, []models.RiskFlagKind{}},
		{"just above 120%", 1201, []models.RiskFlagKind{models.FlagHighPrice}},
		{"exactly 50%", 500, []models.RiskFlagKind{}},
		{"just below 50%", 499, []models.RiskFlagKind{models.FlagLowPrice}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			flags := DefaultEngine().Evaluate(Snapshot{
				Seller: trustedSeller(),
				Items:  []Item{{TicketID: 7, Price: c.price, FaceValue: 1000}},
			})
			assert.Equal(t, c.want, kinds(flags))
		})
	}
}

func TestNewSellerRule(t *testing.T) {
	items := []Item{{TicketID: 1, Price: 1000, FaceValue: 1000}}

	noHistory := DefaultEngine().Evaluate(Snapshot{Seller: Seller{KYCLevel: 2}, Items: items})
	assert.Equal(t, []models.RiskFlagKind{models.FlagNewSeller}, kinds(noHistory))

	weakKYC := DefaultEngine().Evaluate(Snapshot{Seller: Seller{KYCLevel: 1, PriorApprovedListings: 4}, Items: items})
	assert.Equal(t, []models.RiskFlagKind{models.FlagNewSeller}, kinds(weakKYC))
}

func TestAllRulesEvaluatedIndependently(t *testing.T) {
	items := make([]Item, 0, 6)
	for i := int64(1); i <= 6; i++ {
		items = append(items, Item{TicketID: i, Price: 1000, FaceValue: 1000})
	}
	items[0].Price = 2000
	items[5].Price = 100

	flags := DefaultEngine().Evaluate(Snapshot{
		Seller: Seller{ID: 3, Blacklisted: true, KYCLevel: 0},
		Items:  items,
	})

	assert.Equal(t, []models.RiskFlagKind{
		models.FlagBlacklistedSeller,
		models.FlagNewSeller,
		models.FlagHighQuantity,
		models.FlagHighPrice,
		models.FlagLowPrice,
	}, kinds(flags))
}

type mutatingRule struct{}

func (mutatingRule) Name() string { return "mutating" }

func (mutatingRule) Evaluate(s Snapshot) []Flag {
	for i := range s.Items {
		s.Items[i].Price = 1
	}
	return nil
}

func TestRulesCannotAlterSnapshotForLaterRules(t *testing.T) {
	engine := NewEngine(mutatingRule{}, NewPriceBandRule())
	flags := engine.Evaluate(Snapshot{
		Seller: trustedSeller(),
		Items:  []Item{{TicketID: 1, Price: 1000, FaceValue: 1000}},
	})

	assert.Empty(t, flags)
	assert.Equal(t, []string{"mutating", "price_band"}, engine.Rules())
}
