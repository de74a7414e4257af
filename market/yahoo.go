package market

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"portfolio-tracker/portfolio"
)

const YahooBaseURL = "https://query2.finance.yahoo.com"

// YahooProvider reads the v8 chart endpoint, which needs no API key. It
// serves both quotes and daily history.
type YahooProvider struct {
	baseURL string
	cli     *http.Client
	now     func() time.Time
}

func NewYahooProvider(baseURL string) *YahooProvider {
	if baseURL == "" {
		baseURL = YahooBaseURL
	}
	return &YahooProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		cli:     newHTTPClient(),
		now:     time.Now,
	}
}

func (p *YahooProvider) Name() string { return "Yahoo Finance" }

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice   float64 `json:"regularMarketPrice"`
				RegularMarketTime    int64   `json:"regularMarketTime"`
				RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
				RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
				RegularMarketVolume  int64   `json:"regularMarketVolume"`
				ChartPreviousClose   float64 `json:"chartPreviousClose"`
				PreviousClose        float64 `json:"previousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (p *YahooProvider) chart(ctx context.Context, ticker string, params url.Values) (*yahooChart, error) {
	var raw yahooChart
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", p.baseURL, url.PathEscape(ticker), params.Encode())
	if err := getJSON(ctx, p.cli, "yahoo", u, &raw); err != nil {
		return nil, err
	}
	if raw.Chart.Error != nil || len(raw.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: yahoo has no result for %s", ErrQuoteUnavailable, ticker)
	}
	return &raw, nil
}

func (p *YahooProvider) GetQuote(ctx context.Context, ticker string) (portfolio.Quote, error) {
	ticker = portfolio.NormalizeTicker(ticker)
	if ticker == "" {
		return portfolio.Quote{}, ErrQuoteUnavailable
	}

	raw, err := p.chart(ctx, ticker, url.Values{"interval": {"1d"}, "range": {"5d"}})
	if err != nil {
		return portfolio.Quote{}, err
	}
	r := raw.Chart.Result[0]
	m := r.Meta

	price := m.RegularMarketPrice
	asOf := time.Unix(m.RegularMarketTime, 0).UTC()

	// Fall back to the last non-empty close when meta has no price.
	if (price <= 0 || m.RegularMarketTime == 0) && len(r.Indicators.Quote) > 0 {
		closes := r.Indicators.Quote[0].Close
		for i := len(r.Timestamp) - 1; i >= 0; i-- {
			if i < len(closes) && closes[i] != nil && *closes[i] > 0 {
				price = *closes[i]
				asOf = time.Unix(r.Timestamp[i], 0).UTC()
				break
			}
		}
	}
	if price <= 0 {
		return portfolio.Quote{}, fmt.Errorf("%w: yahoo has no price for %s", ErrQuoteUnavailable, ticker)
	}
	if m.RegularMarketTime == 0 && asOf.Unix() == 0 {
		asOf = p.now()
	}

	prev := m.PreviousClose
	if prev == 0 {
		prev = m.ChartPreviousClose
	}
	q := portfolio.Quote{
		Ticker:        ticker,
		LastPrice:     price,
		Volume:        m.RegularMarketVolume,
		High:          m.RegularMarketDayHigh,
		Low:           m.RegularMarketDayLow,
		PreviousClose: prev,
		LastUpdate:    asOf,
		Source:        p.Name(),
	}
	if quotes := r.Indicators.Quote; len(quotes) > 0 && len(quotes[0].Open) > 0 {
		if o := quotes[0].Open[len(quotes[0].Open)-1]; o != nil {
			q.Open = *o
		}
	}
	if prev != 0 {
		q.Change = price - prev
		q.ChangePercent = q.Change / prev * 100
	}
	return q, nil
}

func (p *YahooProvider) GetBulkQuotes(ctx context.Context, tickers []string) ([]portfolio.Quote, error) {
	return fetchEach(ctx, tickers, p.GetQuote)
}

// GetHistoricalPrices returns daily bars. Open bounds default to the last
// five years up to today.
func (p *YahooProvider) GetHistoricalPrices(ctx context.Context, ticker string, from, to time.Time) ([]portfolio.PricePoint, error) {
	ticker = portfolio.NormalizeTicker(ticker)
	end := to
	if end.IsZero() {
		end = p.now()
	}
	start := from
	if start.IsZero() {
		start = end.AddDate(-5, 0, 0)
	}

	raw, err := p.chart(ctx, ticker, url.Values{
		"interval": {"1d"},
		"period1":  {fmt.Sprint(portfolio.Day(start).Unix())},
		"period2":  {fmt.Sprint(portfolio.Day(end).AddDate(0, 0, 1).Unix())},
	})
	if err != nil {
		return nil, err
	}

	r := raw.Chart.Result[0]
	if len(r.Indicators.Quote) == 0 {
		return nil, nil
	}
	bars := r.Indicators.Quote[0]
	points := make([]portfolio.PricePoint, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		c := at(bars.Close, i)
		if c <= 0 {
			continue
		}
		d := portfolio.Day(time.Unix(ts, 0).UTC())
		if !inRange(d, from, to) {
			continue
		}
		pt := portfolio.PricePoint{
			Date:  d,
			Close: c,
			Open:  at(bars.Open, i),
			High:  at(bars.High, i),
			Low:   at(bars.Low, i),
		}
		if i < len(bars.Volume) && bars.Volume[i] != nil {
			pt.Volume = *bars.Volume[i]
		}
		points = append(points, pt)
	}
	return points, nil
}

func at(vs []*float64, i int) float64 {
	if i < len(vs) && vs[i] != nil {
		return *vs[i]
	}
	return 0
}
