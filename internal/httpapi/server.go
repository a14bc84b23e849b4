package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"daytrader/internal/domain"
	"daytrader/internal/engine"
	"daytrader/internal/market"
	"daytrader/internal/util"
)

const defaultMovers = 5

// Server serves the REST API.
type Server struct {
	orders    *engine.OrderService
	market    *market.Service
	portfolio *engine.Portfolio
	limiter   *util.RateLimiter
	ws        http.Handler
	movers    int
	now       func() time.Time
	log       *slog.Logger
}

// NewServer creates a REST server. A nil limiter disables rate limiting.
func NewServer(
	orders *engine.OrderService,
	quotes *market.Service,
	portfolio *engine.Portfolio,
	limiter *util.RateLimiter,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		orders:    orders,
		market:    quotes,
		portfolio: portfolio,
		limiter:   limiter,
		movers:    defaultMovers,
		now:       time.Now,
		log:       log.With("component", "httpapi"),
	}
}

// WithWebSocket mounts h on GET /api/ws.
func (s *Server) WithWebSocket(h http.Handler) *Server {
	s.ws = h
	return s
}

// WithTopMovers sets how many gainers and losers the market summary lists
// when the request does not say.
func (s *Server) WithTopMovers(n int) *Server {
	if n > 0 {
		s.movers = n
	}
	return s
}

// RegisterRoutes registers all API routes on r.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")

	orders := api.Group("/orders", s.rateLimit())
	orders.POST("", s.handleCreateOrder)
	orders.GET("", s.handleListOrders)
	orders.GET("/:id", s.handleGetOrder)
	orders.POST("/:id/cancel", s.handleCancelOrder)

	api.GET("/positions", s.handleListPositions)
	api.GET("/positions/:id", s.handleGetPosition)

	api.GET("/quotes", s.handleListQuotes)
	api.GET("/quotes/:symbol", s.handleGetQuote)
	api.PUT("/quotes/:symbol", s.handleUpdateQuote)
	api.GET("/market/summary", s.handleMarketSummary)

	api.GET("/portfolio/:accountId", s.handlePortfolio)

	if s.ws != nil {
		api.GET("/ws", gin.WrapH(s.ws))
	}
}

// Handler returns the API as an http.Handler with recovery, request
// logging, and CORS.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog(), cors())
	s.RegisterRoutes(r)
	return r
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

// rateLimit throttles order traffic with the shared token bucket.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case domain.IsTransient(err), errors.Is(err, util.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// int64Param parses a path parameter as a positive id.
func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

// accountQuery parses ?accountId=. Absent parses to 0.
func accountQuery(c *gin.Context) (int64, bool) {
	raw := c.Query("accountId")
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		badRequest(c, "invalid accountId")
		return 0, false
	}
	return v, true
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var body CreateOrderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	order, err := s.orders.CreateOrder(c.Request.Context(), body.request())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Location", "/api/orders/"+strconv.FormatInt(order.ID, 10))
	c.JSON(http.StatusCreated, order)
}

func (s *Server) handleListOrders(c *gin.Context) {
	accountID, ok := accountQuery(c)
	if !ok {
		return
	}
	status, err := domain.ParseOrderStatus(c.Query("status"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	orders, err := s.orders.ListOrders(c.Request.Context(), accountID, status)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	c.JSON(http.StatusOK, OrdersResponse{Orders: orders, Count: len(orders)})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	accountID, ok := accountQuery(c)
	if !ok {
		return
	}
	order, err := s.orders.GetOrder(c.Request.Context(), id, accountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	accountID, ok := accountQuery(c)
	if !ok {
		return
	}
	order, err := s.orders.CancelOrder(c.Request.Context(), id, accountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleListPositions(c *gin.Context) {
	accountID, ok := accountQuery(c)
	if !ok {
		return
	}
	positions, err := s.orders.ListPositions(c.Request.Context(), accountID, c.Query("symbol"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	c.JSON(http.StatusOK, PositionsResponse{Positions: positions, Count: len(positions)})
}

func (s *Server) handleGetPosition(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	accountID, ok := accountQuery(c)
	if !ok {
		return
	}
	p, err := s.orders.GetPosition(c.Request.Context(), id, accountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleListQuotes(c *gin.Context) {
	quotes, err := s.market.ListQuotes(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if quotes == nil {
		quotes = []domain.Quote{}
	}
	c.JSON(http.StatusOK, QuotesResponse{Quotes: quotes, Count: len(quotes)})
}

func (s *Server) handleGetQuote(c *gin.Context) {
	q, err := s.market.GetQuote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) handleUpdateQuote(c *gin.Context) {
	var body UpdateQuoteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	q, err := s.market.UpdatePrice(c.Request.Context(), c.Param("symbol"), body.Price, body.Volume)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) handleMarketSummary(c *gin.Context) {
	n := s.movers
	if raw := c.Query("top"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			badRequest(c, "invalid top")
			return
		}
		n = v
	}
	sum, err := s.market.Summary(c.Request.Context(), s.now(), n)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) handlePortfolio(c *gin.Context) {
	accountID, ok := int64Param(c, "accountId")
	if !ok {
		return
	}
	sum, err := s.portfolio.Summary(c.Request.Context(), accountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
