package service

import (
	"context"
	"sort"
	"time"

	"ticket-resale/internal/apperr"
	"ticket-resale/internal/models"
	"ticket-resale/internal/store"
	"ticket-resale/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PayOrderRequest settles a pending order
type PayOrderRequest struct {
	OrderID int64
	BuyerID int64
	Method  models.PaymentMethod
}

// PayOrderResponse is the settled order with its payment and transfers
type PayOrderResponse struct {
	OrderID   int64                `json:"orderId"`
	Status    models.OrderStatus   `json:"status"`
	PaymentID int64                `json:"paymentId"`
	Amount    int64                `json:"amount"`
	Method    models.PaymentMethod `json:"method"`
	PaidAt    time.Time            `json:"paidAt"`
	Transfers []models.Transfer    `json:"transfers"`
}

// PayOrder records the payment and moves ownership of every ticket in the order
// to the buyer. An order past its payment window is released instead and the
// call fails with a conflict.
func (s *OrderService) PayOrder(ctx context.Context, req *PayOrderRequest) (resp *PayOrderResponse, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PayOrder", attribute.Int64("order_id", req.OrderID))
	defer func() { util.EndSpan(span, err) }()

	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.SettlementLatency.Observe(time.Since(start).Seconds())
	}()

	if !req.Method.Payable() {
		err := apperr.Validation("INVALID_PAYMENT_METHOD", "payment method %q is not accepted", req.Method)
		s.paymentFailed(err)
		return nil, err
	}

	now := s.now()
	var (
		order     *models.Order
		payment   *models.PaymentRecord
		transfers []models.Transfer
		expired   bool
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, req.OrderID, true)
		if err != nil {
			return asAppError(err, "ORDER_NOT_FOUND", "order", req.OrderID)
		}
		if o.BuyerID != req.BuyerID {
			return apperr.Authorization("NOT_ORDER_OWNER", "order %d belongs to another buyer", req.OrderID)
		}
		if o.Status != models.OrderPending {
			return apperr.Conflict("ORDER_NOT_PENDING", "order %d is %s", req.OrderID, o.Status)
		}
		if o.Expired(now) {
			// Commit the release; the caller still gets a conflict.
			if err := s.release(ctx, tx, o, ReasonPaymentWindowExpired, now); err != nil {
				return err
			}
			order = o
			expired = true
			return nil
		}

		p, err := tx.GetOriginalPayment(ctx, o.ID, true)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentPending {
			return apperr.Conflict("PAYMENT_NOT_PENDING", "payment for order %d is %s", o.ID, p.Status)
		}

		items, err := tx.GetOrderItems(ctx, o.ID)
		if err != nil {
			return err
		}
		sort.Slice(items, func(i, j int) bool { return items[i].TicketID < items[j].TicketID })
		ticketIDs := make([]int64, 0, len(items))
		for _, item := range items {
			ticketIDs = append(ticketIDs, item.TicketID)
		}
		tickets, err := tx.LockTickets(ctx, ticketIDs)
		if err != nil {
			return err
		}
		byID := make(map[int64]models.Ticket, len(tickets))
		for _, t := range tickets {
			byID[t.ID] = t
		}
		for _, item := range items {
			t, ok := byID[item.TicketID]
			if !ok || !t.OwnedBy(item.SellerID) || t.Status != models.TicketValid {
				return apperr.Conflict("TICKET_UNAVAILABLE", "ticket %d can no longer be transferred", item.TicketID)
			}
		}

		p.Status = models.PaymentSuccess
		p.Method = req.Method
		p.PaidAt = &now
		p.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}

		o.Status = models.OrderPaid
		o.UpdatedAt = now
		if err := tx.UpdateOrderStatus(ctx, o); err != nil {
			return err
		}

		transfers = make([]models.Transfer, 0, len(items))
		for _, item := range items {
			seller := item.SellerID
			tr := models.Transfer{
				TicketID:   item.TicketID,
				FromUserID: &seller,
				ToUserID:   o.BuyerID,
				OrderID:    o.ID,
				Result:     models.TransferSuccess,
				CreatedAt:  now,
			}
			if err := tx.InsertTransfer(ctx, &tr); err != nil {
				return err
			}
			if err := tx.TransferTicket(ctx, item.TicketID, o.BuyerID, now); err != nil {
				return err
			}
			transfers = append(transfers, tr)
		}

		o.Status = models.OrderCompleted
		if err := tx.UpdateOrderStatus(ctx, o); err != nil {
			return err
		}

		order = o
		payment = p
		return nil
	})
	if err != nil {
		err = asAppError(err, "ORDER_NOT_FOUND", "order", req.OrderID)
		s.paymentFailed(err)
		return nil, err
	}

	if expired {
		s.cancelled(ctx, order)
		err := apperr.Conflict("PAYMENT_WINDOW_EXPIRED", "order %d was not paid within its payment window", req.OrderID)
		s.paymentFailed(err)
		return nil, err
	}

	util.OrdersCompletedTotal.Inc()
	s.logger.Info("Order settled",
		zap.Int64("order_id", order.ID),
		zap.Int64("payment_id", payment.ID),
		zap.String("method", string(payment.Method)),
		zap.Int("transfers", len(transfers)))

	s.eventPublisher.PublishOrderCompleted(ctx, order, payment)

	return &PayOrderResponse{
		OrderID:   order.ID,
		Status:    order.Status,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Method:    payment.Method,
		PaidAt:    now,
		Transfers: transfers,
	}, nil
}

func (s *OrderService) paymentFailed(err error) {
	code, _ := apperr.Public(err)
	util.PaymentFailedTotal.WithLabelValues(code).Inc()
	if apperr.KindOf(err) == apperr.KindInternal {
		s.logger.Error("Payment failed", zap.Error(err))
	}
}
