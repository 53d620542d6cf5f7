// Package httpapi exposes the order lifecycle over HTTP.
package httpapi

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
	"github.com/dappfactory/orderflow/internal/app/metrics"
	"github.com/dappfactory/orderflow/internal/app/services/download"
	"github.com/dappfactory/orderflow/internal/app/services/generation"
	"github.com/dappfactory/orderflow/internal/app/services/orders"
	"github.com/dappfactory/orderflow/internal/app/services/payment"
	"github.com/dappfactory/orderflow/internal/app/services/refund"
	"github.com/dappfactory/orderflow/internal/app/storage"
	"github.com/dappfactory/orderflow/internal/middleware"
	"github.com/dappfactory/orderflow/pkg/logger"
)

// projectNamePattern bounds customer project names to something safe for
// archive paths and email subjects.
var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _-]{0,63}$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("project_name", func(fl validator.FieldLevel) bool {
			return projectNamePattern.MatchString(fl.Field().String())
		})
	}
}

// Server wires the lifecycle services into a gin router.
type Server struct {
	orders     *orders.Service
	payments   *payment.Service
	generation *generation.Service
	downloads  *download.Service
	refunds    *refund.Service
	log        *logger.Logger
}

// NewServer constructs the HTTP surface.
func NewServer(
	ordersSvc *orders.Service,
	payments *payment.Service,
	generationSvc *generation.Service,
	downloads *download.Service,
	refunds *refund.Service,
	log *logger.Logger,
) *Server {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Server{
		orders:     ordersSvc,
		payments:   payments,
		generation: generationSvc,
		downloads:  downloads,
		refunds:    refunds,
		log:        log,
	}
}

// Router builds the full route table. limiter may be nil to disable rate
// limiting (tests).
func (s *Server) Router(limiter *middleware.RateLimiter) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(s.log))
	r.Use(middleware.Metrics())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api/v1")
	if limiter != nil {
		api.Use(limiter.Handler())
	}

	api.POST("/orders", s.handleCreateOrder)
	api.GET("/orders/:id", s.handleGetOrder)
	api.GET("/orders", s.handleListOrders)
	api.POST("/orders/:id/payment/verify", s.handleVerifyPayment)
	api.POST("/orders/:id/generate", s.handleGenerate)
	api.GET("/download/:token", s.handleDownload)

	admin := api.Group("/admin")
	admin.GET("/orders", s.handleAdminListOrders)
	admin.GET("/reviews", s.handleListReviews)
	admin.POST("/orders/:id/review", s.handleResolveReview)
	admin.POST("/orders/:id/refund", s.handleRefund)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createOrderRequest struct {
	PayerRef     string `json:"payer_ref" binding:"required"`
	Name         string `json:"name" binding:"required,project_name"`
	Description  string `json:"description"`
	ProductType  string `json:"product_type" binding:"required,oneof=app-only token-only bundle"`
	Tier         string `json:"tier" binding:"required,oneof=starter professional enterprise"`
	ContactEmail string `json:"contact_email" binding:"omitempty,email"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.orders.Create(c.Request.Context(), req.PayerRef, order.ProjectSpec{
		Name:         req.Name,
		Description:  req.Description,
		ProductType:  order.ProductType(req.ProductType),
		Tier:         order.ServiceTier(req.Tier),
		ContactEmail: req.ContactEmail,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	o, err := s.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleListOrders(c *gin.Context) {
	payerRef := c.Query("payer_ref")
	if payerRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payer_ref query parameter is required"})
		return
	}
	list, err := s.orders.ListByPayer(c.Request.Context(), payerRef, parseLimit(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list)})
}

type verifyPaymentRequest struct {
	Method    string `json:"method" binding:"required,oneof=onchain card"`
	Signature string `json:"signature"`

	SessionID   string `json:"session_id"`
	CustomerRef string `json:"customer_ref"`
	AmountTotal int64  `json:"amount_total"`
	Currency    string `json:"currency"`
	Paid        bool   `json:"paid"`
}

func (s *Server) handleVerifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		conf payment.Confirmation
		err  error
	)
	switch req.Method {
	case "onchain":
		conf, err = s.payments.VerifyOnChain(c.Request.Context(), c.Param("id"), req.Signature)
	case "card":
		conf, err = s.payments.VerifyCard(c.Request.Context(), c.Param("id"), payment.CardSession{
			SessionID:   req.SessionID,
			CustomerRef: req.CustomerRef,
			AmountTotal: req.AmountTotal,
			Currency:    req.Currency,
			Paid:        req.Paid,
		})
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conf)
}

func (s *Server) handleGenerate(c *gin.Context) {
	o, err := s.generation.Generate(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleDownload(c *gin.Context) {
	archive, o, err := s.downloads.ConsumeDownload(c.Request.Context(), c.Param("token"), c.ClientIP())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+o.Spec.Name+`.zip"`)
	c.Data(http.StatusOK, "application/zip", archive)
}

func (s *Server) handleAdminListOrders(c *gin.Context) {
	filter := storage.ListFilter{
		Status:   order.LifecycleStatus(c.Query("status")),
		PayerRef: c.Query("payer_ref"),
		Limit:    parseLimit(c),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + string(filter.Status)})
		return
	}
	list, err := s.orders.List(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list)})
}

func (s *Server) handleListReviews(c *gin.Context) {
	list, err := s.orders.ListPendingReviews(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list)})
}

type resolveReviewRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approve reject"`
	Reviewer string `json:"reviewer" binding:"required"`
	Notes    string `json:"notes"`
}

func (s *Server) handleResolveReview(c *gin.Context) {
	var req resolveReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orderID := c.Param("id")
	o, err := s.generation.ResolveReview(c.Request.Context(), orderID, req.Decision, req.Reviewer, req.Notes)
	if err != nil {
		s.writeError(c, err)
		return
	}

	// Rejection returns the payment before the reviewer's response goes
	// out, so the customer-facing record already shows the refund.
	if req.Decision == "reject" {
		refunded, err := s.refunds.Refund(c.Request.Context(), orderID, "compliance rejection", req.Notes)
		if err != nil {
			s.log.WithError(err).WithField("order_id", orderID).Error("refund after rejection failed")
			c.JSON(http.StatusOK, gin.H{"order": o, "refund_error": err.Error()})
			return
		}
		o = refunded
	}
	c.JSON(http.StatusOK, o)
}

type refundRequest struct {
	Reason string `json:"reason" binding:"required"`
	Notes  string `json:"notes"`
}

func (s *Server) handleRefund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := s.refunds.Refund(c.Request.Context(), c.Param("id"), req.Reason, req.Notes)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// writeError maps service errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, order.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, order.ErrNotFound), errors.Is(err, download.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, order.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, payment.ErrNotFound),
		errors.Is(err, payment.ErrTransactionFailed),
		errors.Is(err, payment.ErrSenderMismatch),
		errors.Is(err, payment.ErrAmountMismatch),
		errors.Is(err, payment.ErrSessionUnpaid):
		status = http.StatusPaymentRequired
	case errors.Is(err, download.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, download.ErrLimitReached):
		status = http.StatusForbidden
	case errors.Is(err, refund.ErrNotRefundable):
		status = http.StatusConflict
	case errors.Is(err, generation.ErrGenerationFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
