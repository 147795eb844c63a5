package api

import (
	"net/http"

	"ticket-resale/internal/models"
	"ticket-resale/internal/service"

	"github.com/gin-gonic/gin"
)

type createOrderRequest struct {
	Items []service.OrderItemRequest `json:"items"`
}

type payOrderRequest struct {
	Method models.PaymentMethod `json:"method"`
}

// createOrder reserves the requested items for the caller
func (h *Handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}

	resp, err := h.orders.CreateOrder(c.Request.Context(), &service.CreateOrderRequest{
		BuyerID:        principal(c).UserID,
		Items:          req.Items,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) myOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID for its buyer
func (h *Handler) getOrder(c *gin.Context) {
	h.showOrder(c, false)
}

func (h *Handler) getOrderAsOperator(c *gin.Context) {
	h.showOrder(c, true)
}

func (h *Handler) showOrder(c *gin.Context, operator bool) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), id, principal(c).UserID, operator)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) payOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req payOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}

	resp, err := h.orders.PayOrder(c.Request.Context(), &service.PayOrderRequest{
		OrderID: id,
		BuyerID: principal(c).UserID,
		Method:  req.Method,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.CancelOrder(c.Request.Context(), id, principal(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
