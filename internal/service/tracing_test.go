package service

import (
	"testing"

	"ticket-resale/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// lastSpan returns the most recent ended span called name that carries attr.
func lastSpan(t *testing.T, name string, attr attribute.KeyValue) sdktrace.ReadOnlySpan {
	t.Helper()
	ended := spans.Ended()
	for i := len(ended) - 1; i >= 0; i-- {
		s := ended[i]
		if s.Name() != name {
			continue
		}
		for _, kv := range s.Attributes() {
			if kv == attr {
				return s
			}
		}
	}
	t.Fatalf("no ended span %s with %s=%s", name, attr.Key, attr.Value.Emit())
	return nil
}

func TestFailedOperationsMarkTheirSpans(t *testing.T) {
	f := newFixture(t)
	f.trustedSeller(t, seller)
	a := f.ticket(seller, 1000)
	listingID := f.activeListing(t, seller, a)

	const loser, winner = int64(4101), int64(4102)
	_, err := f.orders.CreateOrder(f.ctx(), &CreateOrderRequest{BuyerID: loser})
	require.True(t, apperr.Is(err, "EMPTY_ORDER"), "got %v", err)

	failed := lastSpan(t, "OrderService.CreateOrder", attribute.Int64("buyer_id", loser))
	assert.Equal(t, codes.Error, failed.Status().Code)
	require.NotEmpty(t, failed.Events())
	assert.Equal(t, "exception", failed.Events()[0].Name)

	f.buy(t, winner, OrderItemRequest{listingID, a})
	ok := lastSpan(t, "OrderService.CreateOrder", attribute.Int64("buyer_id", winner))
	assert.Equal(t, codes.Unset, ok.Status().Code)
	assert.Empty(t, ok.Events())

	_, err = f.listings.TakeDown(f.ctx(), 1, 987654, "fraud")
	require.Error(t, err)
	takeDown := lastSpan(t, "ListingService.TakeDown", attribute.Int64("listing_id", 987654))
	assert.Equal(t, codes.Error, takeDown.Status().Code)
	assert.Contains(t, takeDown.Status().Description, "LISTING_NOT_FOUND")
}
