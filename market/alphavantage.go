package market

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"portfolio-tracker/portfolio"
)

const AlphaVantageBaseURL = "https://www.alphavantage.co"

type AlphaVantageProvider struct {
	apiKey  string
	baseURL string
	cli     *http.Client
	now     func() time.Time
}

func NewAlphaVantageProvider(apiKey, baseURL string) (*AlphaVantageProvider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("alpha vantage: %w", ErrAPIKeyMissing)
	}
	if baseURL == "" {
		baseURL = AlphaVantageBaseURL
	}
	return &AlphaVantageProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		cli:     newHTTPClient(),
		now:     time.Now,
	}, nil
}

func (p *AlphaVantageProvider) Name() string { return "Alpha Vantage" }

type AlphaVantageResponse struct {
	Note        string `json:"Note"`
	Information string `json:"Information"`
	GlobalQuote struct {
		Symbol           string `json:"01. symbol"`
		Open             string `json:"02. open"`
		High             string `json:"03. high"`
		Low              string `json:"04. low"`
		Price            string `json:"05. price"`
		Volume           string `json:"06. volume"`
		LatestTradingDay string `json:"07. latest trading day"`
		PreviousClose    string `json:"08. previous close"`
		Change           string `json:"09. change"`
		ChangePercent    string `json:"10. change percent"`
	} `json:"Global Quote"`
	TimeSeriesDaily map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	} `json:"Time Series (Daily)"`
}

func (p *AlphaVantageProvider) query(ctx context.Context, function, ticker string, extra url.Values) (*AlphaVantageResponse, error) {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	q.Set("function", function)
	q.Set("symbol", ticker)
	q.Set("apikey", p.apiKey)

	var result AlphaVantageResponse
	if err := getJSON(ctx, p.cli, "alphavantage", p.baseURL+"/query?"+q.Encode(), &result); err != nil {
		return nil, err
	}
	if result.Note != "" || result.Information != "" {
		return nil, fmt.Errorf("alphavantage: %w", ErrRateLimited)
	}
	return &result, nil
}

func (p *AlphaVantageProvider) GetQuote(ctx context.Context, ticker string) (portfolio.Quote, error) {
	ticker = portfolio.NormalizeTicker(ticker)
	if ticker == "" {
		return portfolio.Quote{}, ErrQuoteUnavailable
	}

	result, err := p.query(ctx, "GLOBAL_QUOTE", ticker, nil)
	if err != nil {
		return portfolio.Quote{}, err
	}
	gq := result.GlobalQuote
	price := parseFloat(gq.Price)
	if price <= 0 {
		return portfolio.Quote{}, fmt.Errorf("%w: alpha vantage has no price for %s", ErrQuoteUnavailable, ticker)
	}

	asOf := p.now()
	if t, err := portfolio.ParseDate(gq.LatestTradingDay); err == nil {
		asOf = t
	}
	volume, _ := strconv.ParseInt(gq.Volume, 10, 64)

	return portfolio.Quote{
		Ticker:        ticker,
		LastPrice:     price,
		Change:        parseFloat(gq.Change),
		ChangePercent: parseFloat(strings.TrimSuffix(gq.ChangePercent, "%")),
		Volume:        volume,
		High:          parseFloat(gq.High),
		Low:           parseFloat(gq.Low),
		Open:          parseFloat(gq.Open),
		PreviousClose: parseFloat(gq.PreviousClose),
		LastUpdate:    asOf,
		Source:        p.Name(),
	}, nil
}

func (p *AlphaVantageProvider) GetBulkQuotes(ctx context.Context, tickers []string) ([]portfolio.Quote, error) {
	return fetchEach(ctx, tickers, p.GetQuote)
}

// GetHistoricalPrices reads TIME_SERIES_DAILY. Alpha Vantage returns about
// the last 100 trading days unless the range starts earlier.
func (p *AlphaVantageProvider) GetHistoricalPrices(ctx context.Context, ticker string, from, to time.Time) ([]portfolio.PricePoint, error) {
	ticker = portfolio.NormalizeTicker(ticker)
	size := "compact"
	if from.IsZero() || p.now().Sub(from) > 100*24*time.Hour {
		size = "full"
	}

	result, err := p.query(ctx, "TIME_SERIES_DAILY", ticker, url.Values{"outputsize": {size}})
	if err != nil {
		return nil, err
	}
	if len(result.TimeSeriesDaily) == 0 {
		return nil, fmt.Errorf("%w: alpha vantage has no history for %s", ErrQuoteUnavailable, ticker)
	}

	points := make([]portfolio.PricePoint, 0, len(result.TimeSeriesDaily))
	for date, bar := range result.TimeSeriesDaily {
		d, err := portfolio.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("alphavantage: bad date %q: %w", date, err)
		}
		if !inRange(d, from, to) {
			continue
		}
		closePrice, err := strconv.ParseFloat(bar.Close, 64)
		if err != nil {
			return nil, fmt.Errorf("alphavantage: bad close %q on %s: %w", bar.Close, date, err)
		}
		volume, _ := strconv.ParseInt(bar.Volume, 10, 64)
		points = append(points, portfolio.PricePoint{
			Date:   d,
			Close:  closePrice,
			Open:   parseFloat(bar.Open),
			High:   parseFloat(bar.High),
			Low:    parseFloat(bar.Low),
			Volume: volume,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
