package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"portfolio-tracker/market"
	"portfolio-tracker/middleware"
	"portfolio-tracker/models"
	"portfolio-tracker/portfolio"
	"portfolio-tracker/session"
	"portfolio-tracker/store"
)

// UserStore finds and creates registered users.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
	CreateUser(ctx context.Context, email, passwordHash string) (models.User, error)
}

// CacheClearer drops cached quotes; an empty ticker clears all of them.
type CacheClearer interface {
	Clear(ctx context.Context, ticker string) (int64, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler serves the HTTP API.
type Handler struct {
	Sessions *session.Manager
	Users    UserStore
	Guests   *store.GuestStore
	Tokens   *redis.Client

	Quotes  market.QuoteProvider
	Bulk    session.QuoteFetcher
	History market.HistoryProvider
	Cache   CacheClearer
	Health  map[string]HealthCheck

	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int

	Now func() time.Time
	Log zerolog.Logger
}

// Register mounts every route on router.
func (h *Handler) Register(router gin.IRouter) {
	// Public routes
	router.POST("/signup", h.Signup)
	router.POST("/login", h.Login)
	router.POST("/guest", h.Guest)
	router.POST("/refresh", h.Refresh)
	router.GET("/health", h.HealthCheck)

	// Protected routes
	auth := router.Group("/")
	auth.Use(middleware.JWTAuth(h.JWTSecret))
	{
		auth.POST("/logout", h.Logout)

		auth.GET("/portfolio", h.GetPortfolio)
		auth.POST("/portfolio/refresh", h.RefreshPortfolio)
		auth.POST("/positions", h.AddPosition)
		auth.POST("/positions/:ticker/sell", h.SellPosition)
		auth.PUT("/transactions/:id", h.UpdateTransaction)
		auth.DELETE("/transactions/:id", h.DeleteTransaction)
		auth.GET("/sales", h.GetSales)
		auth.GET("/realized", h.GetRealized)

		auth.GET("/cash", h.GetCash)
		auth.PUT("/cash", h.SetCash)
		auth.GET("/cash/deposits", h.ListDeposits)
		auth.POST("/cash/deposits", h.AddDeposit)
		auth.PUT("/cash/deposits/:id", h.UpdateDeposit)
		auth.DELETE("/cash/deposits/:id", h.DeleteDeposit)

		auth.GET("/allocation", h.GetAllocation)
		auth.GET("/chart", h.GetChart)

		auth.GET("/prices/:symbol", h.GetStockPrice)
		auth.POST("/prices", h.GetBulkPrices)
		auth.GET("/history/:symbol", h.GetHistoricalData)
		auth.DELETE("/prices/cache", h.ClearPriceCache)
	}
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func identity(c *gin.Context) session.Identity {
	return session.Identity{
		UserID: c.GetString(middleware.ContextUserID),
		Guest:  c.GetBool(middleware.ContextGuest),
	}
}

// userSession returns the caller's loaded session, writing the error response
// itself when there is none.
func (h *Handler) userSession(c *gin.Context) (*session.Session, bool) {
	s, err := h.Sessions.Get(c.Request.Context(), identity(c))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, portfolio.ErrInvalidInput),
		errors.Is(err, portfolio.ErrInsufficientShares):
		status = http.StatusBadRequest
	case errors.Is(err, portfolio.ErrPositionNotFound),
		errors.Is(err, portfolio.ErrTransactionNotFound),
		errors.Is(err, portfolio.ErrDepositNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, market.ErrQuoteUnavailable):
		status = http.StatusNotFound
	case errors.Is(err, market.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, session.ErrClosed):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		h.Log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// parseDate reads an optional YYYY-MM-DD value; empty yields the zero time.
func parseDate(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	d, err := portfolio.ParseDate(s)
	if err != nil {
		return time.Time{}, errors.Join(portfolio.ErrInvalidInput, err)
	}
	return d, nil
}

func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range h.Health {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
