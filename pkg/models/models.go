package models

import "time"

// Quote is the canonical price record every provider response is normalized
// into. Change/ChangePercent are derived, never trusted from the wire.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Current       float64 `json:"current"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	PreviousClose float64 `json:"previousClose"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Timestamp     int64   `json:"timestamp"` // epoch milliseconds
	Source        string  `json:"source"`
}

// Derive recomputes Change and ChangePercent from Current and PreviousClose.
// ChangePercent stays zero when PreviousClose is zero.
func (q *Quote) Derive() {
	q.Change = q.Current - q.PreviousClose
	if q.PreviousClose != 0 {
		q.ChangePercent = q.Change / q.PreviousClose * 100
	} else {
		q.ChangePercent = 0
	}
	if q.Timestamp == 0 {
		q.Timestamp = time.Now().UnixMilli()
	}
}

// SearchEntry is one instrument in a search result.
type SearchEntry struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Exchange    string `json:"exchange,omitempty"`
}

// SearchResult holds search entries in provider order, deduplicated by symbol.
type SearchResult struct {
	Query   string        `json:"query"`
	Entries []SearchEntry `json:"entries"`
	Source  string        `json:"source"`
}

// NewSearchResult dedupes entries by symbol, keeping the first occurrence and
// the provider's ordering.
func NewSearchResult(query, source string, entries []SearchEntry) *SearchResult {
	seen := make(map[string]struct{}, len(entries))
	out := make([]SearchEntry, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Symbol]; dup {
			continue
		}
		seen[e.Symbol] = struct{}{}
		out = append(out, e)
	}
	return &SearchResult{Query: query, Source: source, Entries: out}
}

// CompanyProfile is the canonical company record. Cached far longer than
// quotes since it changes rarely.
type CompanyProfile struct {
	Symbol            string  `json:"symbol"`
	Name              string  `json:"name"`
	Country           string  `json:"country,omitempty"`
	Currency          string  `json:"currency,omitempty"`
	Exchange          string  `json:"exchange,omitempty"`
	IPO               string  `json:"ipo,omitempty"`
	MarketCap         float64 `json:"marketCapitalization"`
	SharesOutstanding float64 `json:"sharesOutstanding"`
	WebURL            string  `json:"weburl,omitempty"`
	Logo              string  `json:"logo,omitempty"`
	Industry          string  `json:"industry,omitempty"`
	Source            string  `json:"source"`
}
