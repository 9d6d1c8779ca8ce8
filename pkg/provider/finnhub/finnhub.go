// Package finnhub implements the primary quote/search provider.
package finnhub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/marketlens/marketlens/pkg/config"
	"github.com/marketlens/marketlens/pkg/errs"
	"github.com/marketlens/marketlens/pkg/models"
	"github.com/marketlens/marketlens/pkg/provider"
)

// Name identifies this provider in cache tags, metrics and responses.
const Name = "finnhub"

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

func (c *Client) endpoint(path string, params url.Values) string {
	params.Set("token", c.apiKey)
	return c.baseURL + path + "?" + params.Encode()
}

// quoteResponse is Finnhub's /quote wire shape.
type quoteResponse struct {
	Current       float64 `json:"c"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"` // epoch seconds
}

// Quote fetches the current quote for symbol. Finnhub answers unknown symbols
// with a 200 and an all-zero body; that is "not found", never a zero-price
// quote.
func (c *Client) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	params := url.Values{"symbol": []string{symbol}}
	var resp quoteResponse
	if err := provider.GetJSON(ctx, c.http, Name, "quote", c.endpoint("/quote", params), &resp); err != nil {
		return nil, err
	}
	if resp.Current == 0 && resp.PreviousClose == 0 {
		return nil, errs.NotFound("no quote data for %s", symbol)
	}
	q := &models.Quote{
		Symbol:        symbol,
		Current:       resp.Current,
		Open:          resp.Open,
		High:          resp.High,
		Low:           resp.Low,
		PreviousClose: resp.PreviousClose,
		Timestamp:     resp.Timestamp * 1000,
		Source:        Name,
	}
	q.Derive()
	return q, nil
}

type searchResponse struct {
	Count  int `json:"count"`
	Result []struct {
		Description   string `json:"description"`
		DisplaySymbol string `json:"displaySymbol"`
		Symbol        string `json:"symbol"`
		Type          string `json:"type"`
	} `json:"result"`
}

// Search looks up instruments matching query. An empty result set is a valid
// answer, not an error.
func (c *Client) Search(ctx context.Context, query string) (*models.SearchResult, error) {
	params := url.Values{"q": []string{query}}
	var resp searchResponse
	if err := provider.GetJSON(ctx, c.http, Name, "search", c.endpoint("/search", params), &resp); err != nil {
		return nil, err
	}
	entries := make([]models.SearchEntry, 0, len(resp.Result))
	for _, r := range resp.Result {
		sym := r.Symbol
		if r.DisplaySymbol != "" {
			sym = r.DisplaySymbol
		}
		entries = append(entries, models.SearchEntry{
			Symbol:      sym,
			Description: r.Description,
			Type:        r.Type,
		})
	}
	return models.NewSearchResult(query, Name, entries), nil
}

type profileResponse struct {
	Country           string  `json:"country"`
	Currency          string  `json:"currency"`
	Exchange          string  `json:"exchange"`
	IPO               string  `json:"ipo"`
	MarketCap         float64 `json:"marketCapitalization"`
	Name              string  `json:"name"`
	SharesOutstanding float64 `json:"shareOutstanding"`
	Ticker            string  `json:"ticker"`
	WebURL            string  `json:"weburl"`
	Logo              string  `json:"logo"`
	Industry          string  `json:"finnhubIndustry"`
}

// Profile fetches the company profile. Finnhub returns `{}` for unknown
// symbols.
func (c *Client) Profile(ctx context.Context, symbol string) (*models.CompanyProfile, error) {
	params := url.Values{"symbol": []string{symbol}}
	var resp profileResponse
	if err := provider.GetJSON(ctx, c.http, Name, "profile", c.endpoint("/stock/profile2", params), &resp); err != nil {
		return nil, err
	}
	if resp.Name == "" && resp.Ticker == "" {
		return nil, errs.Malformed(Name, fmt.Sprintf("empty profile for %s", symbol))
	}
	return &models.CompanyProfile{
		Symbol:            symbol,
		Name:              resp.Name,
		Country:           resp.Country,
		Currency:          resp.Currency,
		Exchange:          resp.Exchange,
		IPO:               resp.IPO,
		MarketCap:         resp.MarketCap,
		SharesOutstanding: resp.SharesOutstanding,
		WebURL:            resp.WebURL,
		Logo:              resp.Logo,
		Industry:          resp.Industry,
		Source:            Name,
	}, nil
}
