package api

import (
	"net/http"
	"strconv"
	"time"

	"ticket-resale/internal/apperr"
	"ticket-resale/internal/auth"
	"ticket-resale/internal/service"
	"ticket-resale/internal/store"
	"ticket-resale/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	listings     *service.ListingService
	orders       *service.OrderService
	cases        *service.CaseService
	users        *service.UserService
	verifier     *auth.Verifier
	store        store.Transactor
	operatorRole string
	logger       *zap.Logger
}

// Deps bundles what the HTTP layer needs
type Deps struct {
	Listings     *service.ListingService
	Orders       *service.OrderService
	Cases        *service.CaseService
	Users        *service.UserService
	Verifier     *auth.Verifier
	Store        store.Transactor
	OperatorRole string
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	return &Handler{
		listings:     d.Listings,
		orders:       d.Orders,
		cases:        d.Cases,
		users:        d.Users,
		verifier:     d.Verifier,
		store:        d.Store,
		operatorRole: d.OperatorRole,
		logger:       util.Component("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", h.authenticate())
	{
		v1.POST("/listings", h.createListing)
		v1.GET("/listings/my", h.myListings)
		v1.GET("/listings/:id", h.getListing)
		v1.DELETE("/listings/:id", h.cancelListing)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/my", h.myOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/pay", h.payOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)

		v1.POST("/cases", h.createCase)
		v1.GET("/cases/my", h.myCases)
	}

	business := v1.Group("/business", h.requireRole(h.operatorRole))
	{
		business.GET("/listings/pending", h.pendingListings)
		business.POST("/listings/:id/approve", h.approveListing)
		business.POST("/listings/:id/reject", h.rejectListing)
		business.POST("/listings/:id/take-down", h.takeDownListing)

		business.GET("/orders/:id", h.getOrderAsOperator)

		business.GET("/cases", h.listCases)
		business.GET("/cases/:id", h.getCase)
		business.POST("/cases/:id/start", h.startCase)
		business.POST("/cases/:id/notes", h.addCaseNote)
		business.POST("/cases/:id/refund", h.refundCase)
		business.POST("/cases/:id/close", h.closeCase)

		business.POST("/blacklist", h.blacklistUser)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only while the store answers
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"time":   time.Now().Unix(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// respondError writes the structured error body for err
func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	code, message := apperr.Public(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": code})
}

func (h *Handler) badBody(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": "invalid request body: " + err.Error(),
		"code":  "INVALID_BODY",
	})
}

// pathID parses a positive :id path parameter
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "invalid id",
			"code":  "INVALID_ID",
		})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
