// Package alphavantage implements the secondary (fallback) provider.
package alphavantage

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/marketlens/marketlens/pkg/config"
	"github.com/marketlens/marketlens/pkg/errs"
	"github.com/marketlens/marketlens/pkg/models"
	"github.com/marketlens/marketlens/pkg/provider"
)

// Name identifies this provider in cache tags, metrics and responses.
const Name = "alphavantage"

type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func New(cfg config.Provider) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		http:    provider.NewHTTPClient(cfg.Timeout),
	}
}

func (c *Client) Name() string { return Name }

func (c *Client) endpoint(function string, params url.Values) string {
	params.Set("function", function)
	params.Set("apikey", c.apiKey)
	return c.baseURL + "/query?" + params.Encode()
}

// envelope carries the out-of-band signals Alpha Vantage mixes into 200
// bodies: "Note"/"Information" for rate limiting, "Error Message" for
// unrecognized symbols or calls.
type envelope struct {
	Note        string `json:"Note"`
	Information string `json:"Information"`
	ErrMessage  string `json:"Error Message"`
}

func (e envelope) check(symbolOrQuery string) error {
	if e.Note != "" || e.Information != "" {
		return errs.RateLimited("alphavantage call frequency exceeded")
	}
	if e.ErrMessage != "" {
		return errs.NotFound("alphavantage has no data for %q", symbolOrQuery)
	}
	return nil
}

type globalQuote struct {
	Symbol        string `json:"01. symbol"`
	Open          string `json:"02. open"`
	High          string `json:"03. high"`
	Low           string `json:"04. low"`
	Price         string `json:"05. price"`
	PreviousClose string `json:"08. previous close"`
}

type quoteResponse struct {
	envelope
	GlobalQuote globalQuote `json:"Global Quote"`
}

// Quote fetches the GLOBAL_QUOTE view for symbol. Alpha Vantage returns an
// empty "Global Quote" object for unknown symbols.
func (c *Client) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	params := url.Values{"symbol": []string{symbol}}
	var resp quoteResponse
	if err := provider.GetJSON(ctx, c.http, Name, "quote", c.endpoint("GLOBAL_QUOTE", params), &resp); err != nil {
		return nil, err
	}
	if err := resp.check(symbol); err != nil {
		return nil, err
	}
	if resp.GlobalQuote.Price == "" {
		return nil, errs.NotFound("no quote data for %s", symbol)
	}

	q := &models.Quote{Symbol: symbol, Source: Name}
	var err error
	if q.Current, err = parsePrice(resp.GlobalQuote.Price); err != nil {
		return nil, errs.Malformed(Name, "unparseable price field")
	}
	q.Open, _ = parsePrice(resp.GlobalQuote.Open)
	q.High, _ = parsePrice(resp.GlobalQuote.High)
	q.Low, _ = parsePrice(resp.GlobalQuote.Low)
	q.PreviousClose, _ = parsePrice(resp.GlobalQuote.PreviousClose)
	q.Derive()
	return q, nil
}

type searchResponse struct {
	envelope
	BestMatches []struct {
		Symbol string `json:"1. symbol"`
		Name   string `json:"2. name"`
		Type   string `json:"3. type"`
		Region string `json:"4. region"`
	} `json:"bestMatches"`
}

// Search runs SYMBOL_SEARCH for query.
func (c *Client) Search(ctx context.Context, query string) (*models.SearchResult, error) {
	params := url.Values{"keywords": []string{query}}
	var resp searchResponse
	if err := provider.GetJSON(ctx, c.http, Name, "search", c.endpoint("SYMBOL_SEARCH", params), &resp); err != nil {
		return nil, err
	}
	if err := resp.check(query); err != nil {
		return nil, err
	}
	entries := make([]models.SearchEntry, 0, len(resp.BestMatches))
	for _, m := range resp.BestMatches {
		entries = append(entries, models.SearchEntry{
			Symbol:      m.Symbol,
			Description: m.Name,
			Type:        m.Type,
			Exchange:    m.Region,
		})
	}
	return models.NewSearchResult(query, Name, entries), nil
}

type overviewResponse struct {
	envelope
	Symbol            string `json:"Symbol"`
	Name              string `json:"Name"`
	Country           string `json:"Country"`
	Currency          string `json:"Currency"`
	Exchange          string `json:"Exchange"`
	MarketCap         string `json:"MarketCapitalization"`
	SharesOutstanding string `json:"SharesOutstanding"`
	Industry          string `json:"Industry"`
	OfficialSite      string `json:"OfficialSite"`
}

// Profile fetches the OVERVIEW view. Alpha Vantage has no IPO date; the field
// stays empty when this provider serves the profile.
func (c *Client) Profile(ctx context.Context, symbol string) (*models.CompanyProfile, error) {
	params := url.Values{"symbol": []string{symbol}}
	var resp overviewResponse
	if err := provider.GetJSON(ctx, c.http, Name, "profile", c.endpoint("OVERVIEW", params), &resp); err != nil {
		return nil, err
	}
	if err := resp.check(symbol); err != nil {
		return nil, err
	}
	if resp.Symbol == "" && resp.Name == "" {
		return nil, errs.Malformed(Name, "empty overview for "+symbol)
	}
	p := &models.CompanyProfile{
		Symbol:   symbol,
		Name:     resp.Name,
		Country:  resp.Country,
		Currency: resp.Currency,
		Exchange: resp.Exchange,
		WebURL:   resp.OfficialSite,
		Industry: resp.Industry,
		Source:   Name,
	}
	p.MarketCap, _ = parsePrice(resp.MarketCap)
	p.SharesOutstanding, _ = parsePrice(resp.SharesOutstanding)
	return p, nil
}

// parsePrice parses Alpha Vantage's stringly-typed numbers, tolerating the
// trailing '%' its change fields carry.
func parsePrice(s string) (float64, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" || s == "None" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
