package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"portfolio-tracker/portfolio"
	"portfolio-tracker/session"
)

type PositionInput struct {
	Ticker        string  `json:"ticker" binding:"required"`
	Quantity      int     `json:"quantity" binding:"required,min=1"`
	PurchasePrice float64 `json:"purchase_price" binding:"gte=0"`
	PurchaseDate  string  `json:"purchase_date"`
}

type SellInput struct {
	Quantity int     `json:"quantity" binding:"required,min=1"`
	Price    float64 `json:"price" binding:"gte=0"`
	Type     string  `json:"type"`
	Date     string  `json:"date"`
}

type TransactionUpdateInput struct {
	Quantity      *int     `json:"quantity"`
	PurchasePrice *float64 `json:"purchase_price"`
	PurchaseDate  *string  `json:"purchase_date"`
}

func (h *Handler) GetPortfolio(c *gin.Context) {
	s, ok := h.userSession(c)
	if !ok {
		return
	}
	st := s.State()
	c.JSON(http.StatusOK, gin.H{
		"positions":      st.Positions,
		"stats":          st.Stats(h.now()),
		"available_cash": st.AvailableCash,
	})
}

// RefreshPortfolio re-prices every position. A failed fetch still answers
// with the portfolio; the affected positions carry price_error.
func (h *Handler) RefreshPortfolio(c *gin.Context) {
	s, ok := h.userSession(c)
	if !ok {
		return
	}
	resp := gin.H{}
	if err := s.RefreshQuotes(c.Request.Context()); err != nil {
		h.Log.Warn().Err(err).Str("user_id", s.UserID()).Msg("Quote refresh failed")
		resp["refresh_error"] = err.Error()
	}
	st := s.State()
	resp["positions"] = st.Positions
	resp["stats"] = st.Stats(h.now())
	resp["available_cash"] = st.AvailableCash
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) AddPosition(c *gin.Context) {
	var input PositionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	date, err := parseDate(input.PurchaseDate)
	if err != nil {
		h.respondError(c, err)
		return
	}
	s, ok := h.userSession(c)
	if !ok {
		return
	}

	tx, err := s.AddPosition(c.Request.Context(), session.LotInput{
		Ticker:   input.Ticker,
		Quantity: input.Quantity,
		Price:    input.PurchasePrice,
		Date:     date,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	pos, _ := s.State().Position(tx.Ticker)
	c.JSON(http.StatusCreated, gin.H{"transaction": tx, "position": pos})
}

func (h *Handler) SellPosition(c *gin.Context) {
	var input SellInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	date, err := parseDate(input.Date)
	if err != nil {
		h.respondError(c, err)
		return
	}
	s, ok := h.userSession(c)
	if !ok {
		return
	}

	sale, err := s.Sell(portfolio.SaleRequest{
		Ticker:   c.Param("ticker"),
		Quantity: input.Quantity,
		Price:    input.Price,
		Type:     portfolio.SaleType(input.Type),
	}, date)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sale": sale, "available_cash": s.State().AvailableCash})
}

func (h *Handler) UpdateTransaction(c *gin.Context) {
	var input TransactionUpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	patch := portfolio.TransactionPatch{Quantity: input.Quantity, PurchasePrice: input.PurchasePrice}
	if input.PurchaseDate != nil {
		d, err := portfolio.ParseDate(*input.PurchaseDate)
		if err != nil {
			badRequest(c, err)
			return
		}
		patch.PurchaseDate = &d
	}
	s, ok := h.userSession(c)
	if !ok {
		return
	}

	record, err := s.EditTransaction(c.Param("id"), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": record})
}

func (h *Handler) DeleteTransaction(c *gin.Context) {
	s, ok := h.userSession(c)
	if !ok {
		return
	}
	if err := s.DeleteTransaction(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Transaction deleted"})
}

func (h *Handler) GetSales(c *gin.Context) {
	s, ok := h.userSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": s.State().Sales})
}

// GetRealized summarizes closed trades, optionally filtered by ticker and a
// from/to date range.
func (h *Handler) GetRealized(c *gin.Context) {
	from, err := parseDate(c.Query("from"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	to, err := parseDate(c.Query("to"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	s, ok := h.userSession(c)
	if !ok {
		return
	}
	summary := portfolio.SummarizeRealized(s.State().Sales, portfolio.RealizedFilter{
		Ticker: c.Query("ticker"),
		From:   from,
		To:     to,
	})
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetAllocation(c *gin.Context) {
	s, ok := h.userSession(c)
	if !ok {
		return
	}
	st := s.State()
	stats := st.Stats(h.now())
	c.JSON(http.StatusOK, gin.H{
		"allocations": portfolio.Allocations(st.Positions, stats.TotalValue),
		"total_value": stats.TotalValue,
	})
}

// GetChart returns the daily portfolio value between from and to. from
// defaults to the oldest open lot, to to today.
func (h *Handler) GetChart(c *gin.Context) {
	from, err := parseDate(c.Query("from"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	to, err := parseDate(c.Query("to"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	s, ok := h.userSession(c)
	if !ok {
		return
	}

	st := s.State()
	now := h.now()
	if from.IsZero() {
		for _, p := range st.Positions {
			if from.IsZero() || p.FirstPurchaseDate.Before(from) {
				from = p.FirstPurchaseDate
			}
		}
	}
	if to.IsZero() {
		to = portfolio.Day(now)
	}

	prices := make(map[string][]portfolio.PricePoint, len(st.Positions))
	if h.History != nil {
		for _, ticker := range st.Tickers() {
			points, err := h.History.GetHistoricalPrices(c.Request.Context(), ticker, from, to)
			if err != nil {
				h.Log.Warn().Err(err).Str("ticker", ticker).Msg("No price history for chart")
				continue
			}
			prices[ticker] = points
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"from":   from.Format(portfolio.DateLayout),
		"to":     to.Format(portfolio.DateLayout),
		"points": chartPoints(portfolio.ValueSeries(st.Positions, prices, from, to, now)),
	})
}

type chartPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

func chartPoints(series []portfolio.ValuePoint) []chartPoint {
	out := make([]chartPoint, len(series))
	for i, p := range series {
		out[i] = chartPoint{Date: p.Date.Format(portfolio.DateLayout), Value: p.Value}
	}
	return out
}
