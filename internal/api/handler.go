package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	customerHeader = "X-Customer-ID"
	sessionCookie  = "cart_session"
	sessionMaxAge  = 14 * 24 * 60 * 60
)

// Handler contains HTTP handlers
type Handler struct {
	store     *store.Store
	redis     *redisclient.Client
	carts     *service.CartService
	orders    *service.OrderService
	lifecycle *service.LifecycleService
	settings  *service.CompanySettingsService
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	store *store.Store,
	redis *redisclient.Client,
	carts *service.CartService,
	orders *service.OrderService,
	lifecycle *service.LifecycleService,
	settings *service.CompanySettingsService,
) *Handler {
	return &Handler{
		store:     store,
		redis:     redis,
		carts:     carts,
		orders:    orders,
		lifecycle: lifecycle,
		settings:  settings,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/company", h.getCompany)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PATCH("/cart/items/:variant_id", h.updateCartItem)
		v1.DELETE("/cart/items/:variant_id", h.removeCartItem)

		authed := v1.Group("", requireCustomer())
		authed.GET("/checkout", h.getCheckout)
		authed.POST("/checkout", h.placeOrder)
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/orders/:id/cancel", h.cancelOrder)
		authed.GET("/notifications", h.listNotifications)

		admin := v1.Group("/admin", requireStaff())
		admin.PATCH("/orders/:id/status", h.changeOrderStatus)
		admin.DELETE("/orders/:id/items/:item_id", h.deleteOrderItem)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings the database and redis
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.store.GetDB().PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "details": "database: " + err.Error()})
		return
	}
	if err := h.redis.GetClient().Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "details": "redis: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) getCompany(c *gin.Context) {
	settings, err := h.settings.Settings(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

type addCartItemRequest struct {
	VariantID int64 `json:"variant_id" binding:"required,gt=0"`
}

type updateCartItemRequest struct {
	Action string `json:"action" binding:"required"`
}

func (h *Handler) getCart(c *gin.Context) {
	summary, err := h.carts.Summary(c.Request.Context(), h.cartSource(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	summary, err := h.carts.Add(c.Request.Context(), h.cartSource(c), req.VariantID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	variantID, ok := idParam(c, "variant_id")
	if !ok {
		return
	}
	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	summary, err := h.carts.UpdateQuantity(c.Request.Context(), h.cartSource(c), variantID, req.Action)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	variantID, ok := idParam(c, "variant_id")
	if !ok {
		return
	}

	summary, err := h.carts.Remove(c.Request.Context(), h.cartSource(c), variantID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) getCheckout(c *gin.Context) {
	customerID := c.GetInt64(customerKey)
	form, err := h.orders.CheckoutForm(c.Request.Context(), customerID, service.NewCustomerCart(h.store, customerID))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, form)
}

// placeOrder handles checkout submission
func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	req.CustomerID = c.GetInt64(customerKey)
	req.Cart = service.NewCustomerCart(h.store, req.CustomerID)

	placed, err := h.orders.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, placed)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), c.GetInt64(customerKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	detail, err := h.orders.GetOrder(c.Request.Context(), c.GetInt64(customerKey), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, err := h.lifecycle.CancelCustomerOrder(c.Request.Context(), c.GetInt64(customerKey), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type changeStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) changeOrderStatus(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.lifecycle.ChangeStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// deleteOrderItem is staff only. Removing a line does not restock, so
// customers must cancel the whole order instead.
func (h *Handler) deleteOrderItem(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}
	itemID, ok := idParam(c, "item_id")
	if !ok {
		return
	}

	subtotal, err := h.lifecycle.DeleteOrderItem(c.Request.Context(), orderID, itemID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id": orderID,
		"subtotal": subtotal,
	})
}

func (h *Handler) listNotifications(c *gin.Context) {
	notifications, err := h.orders.ListNotifications(c.Request.Context(), c.GetInt64(customerKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// cartSource picks the persisted cart for signed-in customers and the
// session cart otherwise, issuing a session cookie when there is none.
func (h *Handler) cartSource(c *gin.Context) service.CartSource {
	if customerID, ok := customerFromHeader(c); ok {
		return service.NewCustomerCart(h.store, customerID)
	}

	sessionID, err := c.Cookie(sessionCookie)
	if err != nil || sessionID == "" {
		sessionID = uuid.New().String()
		c.SetCookie(sessionCookie, sessionID, sessionMaxAge, "/", "", false, true)
	}
	return service.NewSessionCart(h.redis, sessionID)
}

// respondError maps service errors to HTTP responses
func (h *Handler) respondError(c *gin.Context, err error) {
	var cerr *service.CheckoutError
	switch {
	case errors.As(err, &cerr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":        "Checkout failed",
			"field_errors": cerr.FieldErrors(),
			"form_errors":  cerr.FormErrors(),
			"selections":   cerr.Selections,
		})
	case errors.Is(err, service.ErrCheckoutInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCartAction),
		errors.Is(err, service.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrVariantNotFound),
		errors.Is(err, service.ErrCartLineNotFound),
		errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrOrderItemNotFound),
		errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func badRequest(c *gin.Context, msg string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
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
