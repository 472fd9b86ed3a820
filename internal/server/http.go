package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"LendLedger/internal/engine"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/query"
	"LendLedger/internal/token"
)

// History is the durable read surface behind the events and admin
// endpoints; query.Service implements it.
type History interface {
	GetEvents(ctx context.Context, accountID *uuid.UUID, eventType *string, limit int, afterSequence *int64) ([]query.EventEntry, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (*query.AccountRecord, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Server is the HTTP/JSON API over the lending engine. Amounts cross
// the wire as decimal strings of smallest units.
type Server struct {
	engine  *engine.Engine
	history History
	health  *observability.HealthChecker
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func New(
	eng *engine.Engine,
	history History,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	return &Server{
		engine:  eng,
		history: history,
		health:  health,
		metrics: metrics,
		logger:  logger,
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", gin.WrapF(s.health.LivenessHandler))
	r.GET("/readyz", gin.WrapF(s.health.ReadinessHandler))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/collateral/deposits", s.instrument("deposit", s.handleDeposit))
		v1.POST("/loans", s.instrument("borrow", s.handleBorrow))
		v1.POST("/liquidations", s.instrument("liquidate", s.handleLiquidate))

		v1.GET("/accounts/:id/health", s.instrument("health", s.handleHealth))
		v1.GET("/accounts/:id/borrowable", s.instrument("borrowable", s.handleBorrowable))
		v1.GET("/accounts/:id/summary", s.instrument("summary", s.handleSummary))
		v1.GET("/accounts/:id/events", s.instrument("events", s.handleEvents))
		v1.GET("/accounts/:id", s.instrument("account", s.handleAccount))

		v1.GET("/admin/integrity", s.instrument("integrity", s.handleIntegrity))
	}

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info().Str("addr", addr).Msg("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// --- mutations ---

type depositRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

func (s *Server) handleDeposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	accountID, ok := s.parseID(c, req.AccountID)
	if !ok {
		return
	}
	amount, ok := s.parseAmount(c, req.Amount)
	if !ok {
		return
	}

	if err := s.engine.Deposit(accountID, amount); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"account_id": accountID,
		"amount":     amount.Dec(),
		"sequence":   s.engine.Sequence(),
	})
}

type borrowRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

func (s *Server) handleBorrow(c *gin.Context) {
	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	accountID, ok := s.parseID(c, req.AccountID)
	if !ok {
		return
	}
	amount, ok := s.parseAmount(c, req.Amount)
	if !ok {
		return
	}

	if err := s.engine.Borrow(accountID, amount); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"account_id": accountID,
		"amount":     amount.Dec(),
		"sequence":   s.engine.Sequence(),
	})
}

type liquidateRequest struct {
	LiquidatorID string `json:"liquidator_id" binding:"required"`
	AccountID    string `json:"account_id" binding:"required"`
	RepayAmount  string `json:"repay_amount" binding:"required"`
}

func (s *Server) handleLiquidate(c *gin.Context) {
	var req liquidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	liquidatorID, ok := s.parseID(c, req.LiquidatorID)
	if !ok {
		return
	}
	targetID, ok := s.parseID(c, req.AccountID)
	if !ok {
		return
	}
	repay, ok := s.parseAmount(c, req.RepayAmount)
	if !ok {
		return
	}

	if err := s.engine.Liquidate(liquidatorID, targetID, repay); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"account_id":    targetID,
		"liquidator_id": liquidatorID,
		"repaid":        repay.Dec(),
		"sequence":      s.engine.Sequence(),
	})
}

// --- queries ---

func (s *Server) handleHealth(c *gin.Context) {
	accountID, ok := s.parseID(c, c.Param("id"))
	if !ok {
		return
	}
	health, err := s.engine.Health(accountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": accountID,
		"health":     health.Dec(),
	})
}

func (s *Server) handleBorrowable(c *gin.Context) {
	accountID, ok := s.parseID(c, c.Param("id"))
	if !ok {
		return
	}
	borrowable, err := s.engine.Borrowable(accountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": accountID,
		"borrowable": borrowable.Dec(),
	})
}

func (s *Server) handleSummary(c *gin.Context) {
	accountID, ok := s.parseID(c, c.Param("id"))
	if !ok {
		return
	}
	sum, err := s.engine.Summary(accountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id":         sum.AccountID,
		"collateral_balance": sum.Collateral.Dec(),
		"debt_balance":       sum.Debt.Dec(),
		"collateral_value":   sum.CollateralValue.Dec(),
		"borrowable":         sum.Borrowable.Dec(),
		"health":             sum.Health.Dec(),
		"is_liquidatable":    sum.IsLiquidatable,
		"price": gin.H{
			"value":     sum.Price.Value.Dec(),
			"scale":     sum.Price.Scale.Dec(),
			"sequence":  sum.Price.Sequence,
			"timestamp": sum.Price.Timestamp,
		},
	})
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event history not available"})
		return
	}
	accountID, ok := s.parseID(c, c.Param("id"))
	if !ok {
		return
	}

	var eventType *string
	if et := c.Query("type"); et != "" {
		eventType = &et
	}
	var after *int64
	if cursor := c.Query("after"); cursor != "" {
		v, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after cursor"})
			return
		}
		after = &v
	}
	limit := 100
	if l := c.Query("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = v
	}

	entries, err := s.history.GetEvents(c.Request.Context(), &accountID, eventType, limit, after)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": accountID,
		"events":     entries,
	})
}

func (s *Server) handleAccount(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "projection not available"})
		return
	}
	accountID, ok := s.parseID(c, c.Param("id"))
	if !ok {
		return
	}
	rec, err := s.history.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleIntegrity(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event history not available"})
		return
	}
	report, err := s.history.VerifyIntegrity(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// --- helpers ---

func (s *Server) parseID(c *gin.Context, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) parseAmount(c *gin.Context, raw string) (*uint256.Int, bool) {
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return nil, false
	}
	return amount, true
}

// writeError maps domain errors onto HTTP statuses. Messages pass
// through unchanged so API clients can match on them.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientCollateral),
		errors.Is(err, engine.ErrRepayExceedsDebt),
		errors.Is(err, engine.ErrOverflow):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrNotLiquidatable),
		errors.Is(err, engine.ErrInsufficientCollateralForReward),
		errors.Is(err, token.ErrInsufficientBalanceOrAllowance):
		status = http.StatusConflict
	case errors.Is(err, token.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, oracle.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// instrument wraps a handler with request counting and latency.
func (s *Server) instrument(endpoint string, h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.metrics == nil {
			h(c)
			return
		}
		start := time.Now()
		h(c)
		status := c.Writer.Status()
		s.metrics.QueryRequests.WithLabelValues(endpoint, http.StatusText(status)).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if status >= 400 {
			s.metrics.QueryErrors.WithLabelValues(endpoint, http.StatusText(status)).Inc()
		}
	}
}
