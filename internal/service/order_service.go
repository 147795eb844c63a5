package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"ticket-resale/internal/apperr"
	"ticket-resale/internal/broker"
	"ticket-resale/internal/models"
	"ticket-resale/internal/redisclient"
	"ticket-resale/internal/store"
	"ticket-resale/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// IdempotencyStore remembers the outcome of order submissions per client key.
// *redisclient.Client implements it.
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	StoreIdempotentResult(ctx context.Context, key, result string, ttl time.Duration) error
	GetIdempotentResult(ctx context.Context, key string) (string, bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// OrderService handles reservation, settlement and cancellation of orders
type OrderService struct {
	store          store.Transactor
	idempotency    IdempotencyStore
	eventPublisher *broker.EventPublisher
	limits         Limits
	idempotencyTTL time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

// NewOrderService creates a new order service. idempotency may be nil.
func NewOrderService(
	st store.Transactor,
	idempotency IdempotencyStore,
	eventPublisher *broker.EventPublisher,
	limits Limits,
	idempotencyTTL time.Duration,
) *OrderService {
	return &OrderService{
		store:          st,
		idempotency:    idempotency,
		eventPublisher: eventPublisher,
		limits:         limits,
		idempotencyTTL: idempotencyTTL,
		logger:         util.Component("order-service"),
		now:            time.Now,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	BuyerID        int64
	Items          []OrderItemRequest
	IdempotencyKey string
}

// OrderItemRequest names one listing item to claim
type OrderItemRequest struct {
	ListingID int64 `json:"listingId"`
	TicketID  int64 `json:"ticketId"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	OrderID     int64              `json:"orderId"`
	Status      models.OrderStatus `json:"status"`
	TotalAmount int64              `json:"totalAmount"`
	CreatedAt   time.Time          `json:"createdAt"`
	ExpiresAt   time.Time          `json:"expiresAt"`
}

// OrderView is an order with its items and ledger
type OrderView struct {
	models.Order
	Payable   bool                   `json:"payable"`
	Items     []models.OrderItem     `json:"items"`
	Payments  []models.PaymentRecord `json:"payments"`
	Transfers []models.Transfer      `json:"transfers"`
}

type itemKey struct {
	listingID int64
	ticketID  int64
}

func (s *OrderService) validateCreate(req *CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return apperr.Validation("EMPTY_ORDER", "at least one item is required")
	}
	if s.limits.MaxItemsPerOrder > 0 && len(req.Items) > s.limits.MaxItemsPerOrder {
		return apperr.Validation("TOO_MANY_ITEMS", "an order holds at most %d items", s.limits.MaxItemsPerOrder)
	}
	ticketIDs := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ListingID <= 0 || item.TicketID <= 0 {
			return apperr.Validation("INVALID_ITEM", "listingId and ticketId are required")
		}
		ticketIDs = append(ticketIDs, item.TicketID)
	}
	if hasDuplicates(ticketIDs) {
		return apperr.Validation("DUPLICATE_TICKET", "a ticket may appear only once per order")
	}
	return nil
}

// CreateOrder claims every requested item or none of them
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (resp *CreateOrderResponse, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder",
		attribute.Int64("buyer_id", req.BuyerID),
		attribute.Int("items", len(req.Items)))
	defer func() { util.EndSpan(span, err) }()

	if err := s.validateCreate(req); err != nil {
		s.orderFailed(err)
		return nil, err
	}

	key := ""
	if req.IdempotencyKey != "" && s.idempotency != nil {
		key = fmt.Sprintf("%d:%s", req.BuyerID, req.IdempotencyKey)
		replay, err := s.claim(ctx, key)
		if err != nil {
			return nil, err
		}
		if replay != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", replay.OrderID))
			return replay, nil
		}
	}

	resp, err = s.reserve(ctx, req)
	if key != "" {
		s.settleClaim(ctx, key, resp, err)
	}
	if err != nil {
		s.orderFailed(err)
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", resp.OrderID),
		zap.Int64("buyer_id", req.BuyerID),
		zap.Int64("total_amount", resp.TotalAmount))
	return resp, nil
}

// claim returns the stored response when key was already used. Redis failures
// degrade to a non-idempotent request.
func (s *OrderService) claim(ctx context.Context, key string) (*CreateOrderResponse, error) {
	claimed, err := s.idempotency.ClaimIdempotencyKey(ctx, key, s.idempotencyTTL)
	if err != nil {
		s.logger.Warn("Idempotency store unavailable", zap.Error(err))
		return nil, nil
	}
	if claimed {
		return nil, nil
	}

	val, found, err := s.idempotency.GetIdempotentResult(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency store unavailable", zap.Error(err))
		return nil, nil
	}
	if !found || val == redisclient.InFlight {
		return nil, apperr.Conflict("REQUEST_IN_PROGRESS", "a request with this idempotency key is in progress")
	}

	var resp CreateOrderResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, apperr.Internal(err, "decode idempotent result")
	}
	return &resp, nil
}

// settleClaim records the outcome under key. When the result cannot be stored
// the in-flight marker is dropped so retries are not stuck behind it.
func (s *OrderService) settleClaim(ctx context.Context, key string, resp *CreateOrderResponse, err error) {
	if err != nil {
		s.releaseClaim(ctx, key)
		return
	}
	body, mErr := json.Marshal(resp)
	if mErr != nil {
		s.logger.Warn("Failed to encode idempotent result", zap.Error(mErr))
		s.releaseClaim(ctx, key)
		return
	}
	if sErr := s.idempotency.StoreIdempotentResult(ctx, key, string(body), s.idempotencyTTL); sErr != nil {
		s.logger.Warn("Failed to store idempotent result", zap.String("key", key), zap.Error(sErr))
		s.releaseClaim(ctx, key)
	}
}

func (s *OrderService) releaseClaim(ctx context.Context, key string) {
	if err := s.idempotency.ReleaseIdempotencyKey(ctx, key); err != nil {
		s.logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

func (s *OrderService) reserve(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	start := time.Now()
	defer func() {
		util.OrderReserveLatency.Observe(time.Since(start).Seconds())
	}()

	now := s.now()
	listingIDs := make([]int64, 0, len(req.Items))
	ticketIDs := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		listingIDs = append(listingIDs, item.ListingID)
		ticketIDs = append(ticketIDs, item.TicketID)
	}

	var (
		order      *models.Order
		orderItems []models.OrderItem
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockItemsForPurchase(ctx, listingIDs, ticketIDs)
		if err != nil {
			return err
		}
		byKey := make(map[itemKey]models.LockedItem, len(locked))
		for _, li := range locked {
			byKey[itemKey{li.ListingID, li.TicketID}] = li
		}

		claimed := make([]models.LockedItem, 0, len(req.Items))
		var total int64
		for _, item := range req.Items {
			li, ok := byKey[itemKey{item.ListingID, item.TicketID}]
			if !ok {
				return apperr.NotFound("LISTING_ITEM_NOT_FOUND", "ticket %d is not offered in listing %d", item.TicketID, item.ListingID)
			}
			if li.SellerID == req.BuyerID {
				return apperr.Authorization("OWN_LISTING", "listing %d belongs to the buyer", item.ListingID)
			}
			if li.ListingState != models.ListingActive || !now.Before(li.ListingExpiresAt) {
				return apperr.Conflict("LISTING_NOT_PURCHASABLE", "listing %d is not open for purchase", item.ListingID)
			}
			if li.Status != models.ItemActive {
				return apperr.Conflict("ITEM_UNAVAILABLE", "ticket %d is no longer available", item.TicketID)
			}
			claimed = append(claimed, li)
			total += li.Price
		}

		order = &models.Order{
			BuyerID:     req.BuyerID,
			Status:      models.OrderPending,
			TotalAmount: total,
			ExpiresAt:   now.Add(s.limits.PaymentWindow),
			CreatedAt:   now,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		orderItems = make([]models.OrderItem, 0, len(claimed))
		for _, li := range claimed {
			orderItems = append(orderItems, models.OrderItem{
				OrderID:   order.ID,
				ListingID: li.ListingID,
				TicketID:  li.TicketID,
				SellerID:  li.SellerID,
				UnitPrice: li.Price,
			})
		}
		if err := tx.InsertOrderItems(ctx, orderItems); err != nil {
			return err
		}

		for _, li := range claimed {
			if err := tx.SetItemStatus(ctx, li.ID, models.ItemSold, now); err != nil {
				return err
			}
		}
		if err := s.closeSoldOutListings(ctx, tx, claimed, now); err != nil {
			return err
		}

		return tx.InsertPayment(ctx, &models.PaymentRecord{
			OrderID:   order.ID,
			Method:    models.MethodUnset,
			Amount:    total,
			Status:    models.PaymentPending,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, internal(err, "create order")
	}

	s.eventPublisher.PublishOrderCreated(ctx, order, orderItems)

	return &CreateOrderResponse{
		OrderID:     order.ID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		CreatedAt:   order.CreatedAt,
		ExpiresAt:   order.ExpiresAt,
	}, nil
}

// closeSoldOutListings marks listings SOLD once nothing in them is left to buy.
func (s *OrderService) closeSoldOutListings(ctx context.Context, tx store.Tx, claimed []models.LockedItem, now time.Time) error {
	for _, listingID := range distinctListings(claimed) {
		open, err := tx.CountItemsByStatus(ctx, listingID, []models.ItemStatus{models.ItemActive, models.ItemPending})
		if err != nil {
			return err
		}
		if open > 0 {
			continue
		}
		l, err := tx.GetListing(ctx, listingID, true)
		if err != nil {
			return err
		}
		if !l.State.CanTransition(models.ListingSold) {
			continue
		}
		l.State = models.ListingSold
		l.UpdatedAt = now
		if err := tx.UpdateListingState(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

func distinctListings(items []models.LockedItem) []int64 {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ListingID]; ok {
			continue
		}
		seen[item.ListingID] = struct{}{}
		ids = append(ids, item.ListingID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *OrderService) orderFailed(err error) {
	code, _ := apperr.Public(err)
	util.OrdersFailedTotal.WithLabelValues(code).Inc()
	if apperr.KindOf(err) == apperr.KindInternal {
		s.logger.Error("Order creation failed", zap.Error(err))
	}
}

// release returns a pending order's items to sale and voids its payment.
// Items go back to ACTIVE while their listing is live. A SOLD listing reopens,
// or moves to EXPIRED with the released items when it is past its expiry.
func (s *OrderService) release(ctx context.Context, tx store.Tx, o *models.Order, reason string, now time.Time) error {
	items, err := tx.GetOrderItems(ctx, o.ID)
	if err != nil {
		return err
	}
	listingIDs := make([]int64, 0, len(items))
	ticketIDs := make([]int64, 0, len(items))
	wanted := make(map[itemKey]struct{}, len(items))
	for _, item := range items {
		listingIDs = append(listingIDs, item.ListingID)
		ticketIDs = append(ticketIDs, item.TicketID)
		wanted[itemKey{item.ListingID, item.TicketID}] = struct{}{}
	}

	locked, err := tx.LockItemsForPurchase(ctx, listingIDs, ticketIDs)
	if err != nil {
		return err
	}
	claimed := make([]models.LockedItem, 0, len(locked))
	for _, li := range locked {
		if _, ok := wanted[itemKey{li.ListingID, li.TicketID}]; ok && li.Status == models.ItemSold {
			claimed = append(claimed, li)
		}
	}

	listings := make(map[int64]*models.Listing)
	for _, id := range distinctListings(claimed) {
		l, err := tx.GetListing(ctx, id, true)
		if err != nil {
			return err
		}
		if l.State == models.ListingSold {
			// A sold-out listing reopens, unless its own window closed meanwhile.
			l.State = models.ListingActive
			if !now.Before(l.ExpiresAt) {
				l.State = models.ListingExpired
				l.StateReason = "listing_expired"
			}
			l.UpdatedAt = now
			if err := tx.UpdateListingState(ctx, l); err != nil {
				return err
			}
		}
		listings[id] = l
	}

	for _, li := range claimed {
		restore := models.ItemActive
		switch l := listings[li.ListingID]; {
		case l.State == models.ListingExpired:
			restore = models.ItemExpired
		case !l.Live():
			restore = models.ItemCancelled
		}
		if err := tx.SetItemStatus(ctx, li.ID, restore, now); err != nil {
			return err
		}
	}

	payment, err := tx.GetOriginalPayment(ctx, o.ID, true)
	if err != nil {
		return err
	}
	if payment.Status == models.PaymentPending {
		payment.Status = models.PaymentFailed
		payment.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}
	}

	o.Status = models.OrderCancelled
	o.CancelReason = reason
	o.UpdatedAt = now
	return tx.UpdateOrderStatus(ctx, o)
}

// CancelOrder releases a pending order on behalf of its buyer
func (s *OrderService) CancelOrder(ctx context.Context, orderID, buyerID int64) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder", attribute.Int64("order_id", orderID))
	defer func() { util.EndSpan(span, err) }()

	now := s.now()
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, orderID, true)
		if err != nil {
			return asAppError(err, "ORDER_NOT_FOUND", "order", orderID)
		}
		if o.BuyerID != buyerID {
			return apperr.Authorization("NOT_ORDER_OWNER", "order %d belongs to another buyer", orderID)
		}
		if o.Status != models.OrderPending {
			return apperr.Conflict("ORDER_NOT_PENDING", "order %d is %s", orderID, o.Status)
		}
		reason := ReasonBuyerCancelled
		if o.Expired(now) {
			reason = ReasonPaymentWindowExpired
		}
		if err := s.release(ctx, tx, o, reason, now); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, asAppError(err, "ORDER_NOT_FOUND", "order", orderID)
	}

	s.cancelled(ctx, order)
	return order, nil
}

func (s *OrderService) cancelled(ctx context.Context, o *models.Order) {
	util.OrdersCancelledTotal.WithLabelValues(o.CancelReason).Inc()
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", o.ID),
		zap.String("reason", o.CancelReason))
	s.eventPublisher.PublishOrderCancelled(ctx, o.ID, o.CancelReason)
}

// expireOrder releases one order if its payment window has passed. It reports
// whether the order was expired by this call.
func (s *OrderService) expireOrder(ctx context.Context, orderID int64) (bool, error) {
	now := s.now()
	var order *models.Order
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, orderID, true)
		if err != nil {
			return err
		}
		if !o.Expired(now) {
			return nil
		}
		if err := s.release(ctx, tx, o, ReasonPaymentWindowExpired, now); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return false, asAppError(err, "ORDER_NOT_FOUND", "order", orderID)
	}
	if order == nil {
		return false, nil
	}
	s.cancelled(ctx, order)
	return true, nil
}

// ExpireStaleOrders releases pending orders past their payment window.
// buyerID 0 sweeps every buyer.
func (s *OrderService) ExpireStaleOrders(ctx context.Context, buyerID int64) (int, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ExpireStaleOrders")
	defer span.End()

	var ids []int64
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.StalePendingOrderIDs(ctx, s.now(), buyerID)
		return err
	})
	if err != nil {
		return 0, internal(err, "find stale orders")
	}

	expired := 0
	for _, id := range ids {
		ok, err := s.expireOrder(ctx, id)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *OrderService) view(ctx context.Context, tx store.Tx, o models.Order, now time.Time) (OrderView, error) {
	items, err := tx.GetOrderItems(ctx, o.ID)
	if err != nil {
		return OrderView{}, err
	}
	payments, err := tx.ListPayments(ctx, o.ID)
	if err != nil {
		return OrderView{}, err
	}
	transfers, err := tx.ListTransfers(ctx, o.ID)
	if err != nil {
		return OrderView{}, err
	}
	return OrderView{
		Order:     o,
		Payable:   o.Payable(now),
		Items:     items,
		Payments:  payments,
		Transfers: transfers,
	}, nil
}

// ListOrders returns a buyer's orders after releasing any that have expired
func (s *OrderService) ListOrders(ctx context.Context, buyerID int64) ([]OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	if _, err := s.ExpireStaleOrders(ctx, buyerID); err != nil {
		return nil, err
	}

	now := s.now()
	out := []OrderView{}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		orders, err := tx.ListOrdersByBuyer(ctx, buyerID)
		if err != nil {
			return err
		}
		for _, o := range orders {
			v, err := s.view(ctx, tx, o, now)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, internal(err, "list orders")
	}
	return out, nil
}

// GetOrder returns one order to its buyer or an operator
func (s *OrderService) GetOrder(ctx context.Context, orderID, viewerID int64, operator bool) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder", attribute.Int64("order_id", orderID))
	defer span.End()

	if _, err := s.expireOrder(ctx, orderID); err != nil {
		return nil, err
	}

	var v OrderView
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, orderID, false)
		if err != nil {
			return err
		}
		if !operator && o.BuyerID != viewerID {
			return apperr.Authorization("NOT_ORDER_OWNER", "order %d belongs to another buyer", orderID)
		}
		v, err = s.view(ctx, tx, *o, s.now())
		return err
	})
	if err != nil {
		return nil, asAppError(err, "ORDER_NOT_FOUND", "order", orderID)
	}
	return &v, nil
}
