package store

import (
	"context"
	"fmt"
	"time"

	"ticket-resale/internal/models"
)

// InsertOrder creates a new order
func (t *pgTx) InsertOrder(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (buyer_id, status, total_amount, cancel_reason, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`

	if err := t.tx.GetContext(ctx, &o.ID, query,
		o.BuyerID, o.Status, o.TotalAmount, o.CancelReason, o.ExpiresAt, o.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	o.UpdatedAt = o.CreatedAt
	return nil
}

// InsertOrderItems creates the order items with their snapshotted prices
func (t *pgTx) InsertOrderItems(ctx context.Context, items []models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, listing_id, ticket_id, seller_id, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	for i := range items {
		item := &items[i]
		if err := t.tx.GetContext(ctx, &item.ID, query,
			item.OrderID, item.ListingID, item.TicketID, item.SellerID, item.UnitPrice); err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

// GetOrder retrieves an order by ID
func (t *pgTx) GetOrder(ctx context.Context, id int64, forUpdate bool) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1"+lockClause(forUpdate), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (t *pgTx) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := t.tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY ticket_id", orderID)
	return items, err
}

// ListOrdersByBuyer retrieves orders for a buyer
func (t *pgTx) ListOrdersByBuyer(ctx context.Context, buyerID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := t.tx.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC, id DESC", buyerID)
	return orders, err
}

// UpdateOrderStatus updates order status
func (t *pgTx) UpdateOrderStatus(ctx context.Context, o *models.Order) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, cancel_reason = $2, updated_at = $3 WHERE id = $4",
		o.Status, o.CancelReason, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", o.ID, err)
	}
	return expectOneRow(res, o.ID)
}

// StalePendingOrderIDs finds pending orders past their payment window
func (t *pgTx) StalePendingOrderIDs(ctx context.Context, now time.Time, buyerID int64) ([]int64, error) {
	ids := []int64{}
	err := t.tx.SelectContext(ctx, &ids, `
		SELECT id FROM orders
		WHERE status = $1 AND expires_at <= $2 AND ($3::bigint = 0 OR buyer_id = $3::bigint)
		ORDER BY id`,
		models.OrderPending, now, buyerID)
	return ids, err
}

// InsertPayment creates a new payment record
func (t *pgTx) InsertPayment(ctx context.Context, p *models.PaymentRecord) error {
	query := `
		INSERT INTO payment_records (order_id, method, amount, status, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`

	if err := t.tx.GetContext(ctx, &p.ID, query,
		p.OrderID, p.Method, p.Amount, p.Status, p.PaidAt, p.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	p.UpdatedAt = p.CreatedAt
	return nil
}

// GetOriginalPayment retrieves the non-refund payment of an order
func (t *pgTx) GetOriginalPayment(ctx context.Context, orderID int64, forUpdate bool) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	err := t.tx.GetContext(ctx, &p,
		"SELECT * FROM payment_records WHERE order_id = $1 AND method <> $2"+lockClause(forUpdate),
		orderID, models.MethodRefund)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ListPayments retrieves every ledger entry of an order
func (t *pgTx) ListPayments(ctx context.Context, orderID int64) ([]models.PaymentRecord, error) {
	payments := []models.PaymentRecord{}
	err := t.tx.SelectContext(ctx, &payments,
		"SELECT * FROM payment_records WHERE order_id = $1 ORDER BY id", orderID)
	return payments, err
}

// UpdatePayment updates payment status, method and paid time
func (t *pgTx) UpdatePayment(ctx context.Context, p *models.PaymentRecord) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE payment_records SET status = $1, method = $2, paid_at = $3, updated_at = $4 WHERE id = $5",
		p.Status, p.Method, p.PaidAt, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update payment %d: %w", p.ID, err)
	}
	return expectOneRow(res, p.ID)
}

// InsertTransfer appends an ownership transfer record
func (t *pgTx) InsertTransfer(ctx context.Context, tr *models.Transfer) error {
	query := `
		INSERT INTO transfers (ticket_id, from_user_id, to_user_id, order_id, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if err := t.tx.GetContext(ctx, &tr.ID, query,
		tr.TicketID, tr.FromUserID, tr.ToUserID, tr.OrderID, tr.Result, tr.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}
	return nil
}

// ListTransfers retrieves the transfers made by an order
func (t *pgTx) ListTransfers(ctx context.Context, orderID int64) ([]models.Transfer, error) {
	transfers := []models.Transfer{}
	err := t.tx.SelectContext(ctx, &transfers,
		"SELECT * FROM transfers WHERE order_id = $1 ORDER BY id", orderID)
	return transfers, err
}
