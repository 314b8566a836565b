// Package api serves the order API over HTTP.
//
// Every money and price field is returned as a scaled integer string with its
// decimals next to it, so clients never see a float.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"tradesim/internal/core"
	"tradesim/internal/ledger"
	"tradesim/internal/risk"
	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

// Trader is the core the API drives. *core.Engine implements it.
type Trader interface {
	Open(ctx context.Context, req ledger.OpenRequest) (ledger.Position, error)
	Close(ctx context.Context, owner string, id uuid.UUID) (ledger.Position, error)
	OpenPositions(ctx context.Context, owner string) ([]core.PositionView, error)
	ClosedPositions(ctx context.Context, owner string) ([]ledger.Position, error)
	Account(ctx context.Context, owner string) (core.Account, error)
	Quotes(ctx context.Context) ([]schema.Quote, error)
}

// Options carries the handlers mounted next to the API. Nil ones are skipped.
type Options struct {
	Metrics http.Handler
	Stream  http.Handler
}

type Server struct {
	router   *gin.Engine
	trader   Trader
	registry *schema.Registry
	risk     risk.Config
}

type apiError struct {
	Error string `json:"error"`
}

// NewServer wires the router, auth middleware and routes.
func NewServer(trader Trader, registry *schema.Registry, riskCfg risk.Config, auth Authenticator, opts Options) *Server {
	g := gin.New()
	g.Use(requestLog(), gin.Recovery())

	s := &Server{
		router:   g,
		trader:   trader,
		registry: registry,
		risk:     riskCfg,
	}

	g.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	if opts.Metrics != nil {
		g.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	if opts.Stream != nil {
		g.GET("/ws", gin.WrapH(opts.Stream))
	}

	v1 := g.Group("/api/v1")
	v1.GET("/assets", s.getAssets)
	v1.GET("/config", s.getConfig)

	user := v1.Group("", requireAuth(auth))
	user.POST("/trade", s.openTrade)
	user.POST("/trade/:orderId/close", s.closeTrade)
	user.GET("/trades/open", s.getOpenTrades)
	user.GET("/trades", s.getClosedTrades)
	user.GET("/user/balance", s.getBalance)

	return s
}

// Handler returns the root http handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logs.Infof("http %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, exception.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, exception.ErrPositionNotFound),
		errors.Is(err, exception.ErrPositionNotOpen):
		return http.StatusNotFound
	case errors.Is(err, exception.ErrInvalidSide),
		errors.Is(err, exception.ErrInvalidLeverage),
		errors.Is(err, exception.ErrInvalidSlippage),
		errors.Is(err, exception.ErrInvalidMargin),
		errors.Is(err, exception.ErrInvalidPrice),
		errors.Is(err, exception.ErrInsufficientBalance),
		errors.Is(err, exception.ErrUnknownInstrument),
		errors.Is(err, exception.ErrQuoteUnavailable),
		errors.Is(err, exception.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, exception.ErrQueueClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, where string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logs.Errorf("%s, err: %+v", where, err)
		c.JSON(status, apiError{Error: http.StatusText(status)})
		return
	}
	c.JSON(status, apiError{Error: err.Error()})
}
