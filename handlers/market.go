package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"portfolio-tracker/market"
	"portfolio-tracker/portfolio"
)

type BulkPriceInput struct {
	Symbols []string `json:"symbols" binding:"required,min=1,max=100"`
}

func (h *Handler) GetStockPrice(c *gin.Context) {
	symbol := portfolio.NormalizeTicker(c.Param("symbol"))

	quote, err := h.Quotes.GetQuote(c.Request.Context(), symbol)
	if err != nil {
		if errors.Is(err, market.ErrQuoteUnavailable) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Stock not found", "symbol": symbol})
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// GetBulkPrices prices many symbols at once. Symbols that could not be
// priced are listed under "missing".
func (h *Handler) GetBulkPrices(c *gin.Context) {
	var input BulkPriceInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	quotes, err := h.Bulk.Fetch(c.Request.Context(), input.Symbols)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to fetch stock data", "details": err.Error()})
		return
	}

	missing := []string{}
	seen := map[string]bool{}
	for _, s := range input.Symbols {
		s = portfolio.NormalizeTicker(s)
		if _, ok := quotes[s]; !ok && s != "" && !seen[s] {
			missing = append(missing, s)
		}
		seen[s] = true
	}
	c.JSON(http.StatusOK, gin.H{"quotes": quotes, "missing": missing})
}

func (h *Handler) GetHistoricalData(c *gin.Context) {
	symbol := portfolio.NormalizeTicker(c.Param("symbol"))
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

	points, err := h.History.GetHistoricalPrices(c.Request.Context(), symbol, from, to)
	if err != nil {
		h.Log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to fetch historical data")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to fetch historical data", "details": err.Error()})
		return
	}
	if len(points) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Historical data not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "prices": points})
}

// ClearPriceCache drops cached quotes for one symbol, or all of them when no
// symbol is given.
func (h *Handler) ClearPriceCache(c *gin.Context) {
	symbol := portfolio.NormalizeTicker(c.Query("symbol"))
	n, err := h.Cache.Clear(c.Request.Context(), symbol)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}
