package marketdata

import (
	"context"
	"time"

	"github.com/marketlens/marketlens/pkg/errs"
	"github.com/marketlens/marketlens/pkg/models"
	"github.com/marketlens/marketlens/pkg/validation"
)

// BatchResult partitions a batch request per symbol: one symbol's failure
// never fails the whole batch.
type BatchResult struct {
	Results map[string]*models.Quote `json:"results"`
	Errors  map[string]string        `json:"errors"`
}

// GetBatchQuotes fetches quotes for up to BatchMax symbols. Symbols are
// deduplicated and validated individually; fetches run in small chunks with
// an inter-chunk delay so a batch never bursts the rate limiter.
func (s *Service) GetBatchQuotes(ctx context.Context, rawSymbols []string) (*BatchResult, error) {
	if len(rawSymbols) == 0 {
		return nil, errs.InvalidInput("symbols array is empty")
	}
	if len(rawSymbols) > s.cfg.BatchMax {
		return nil, errs.TooManySymbols(len(rawSymbols), s.cfg.BatchMax)
	}

	out := &BatchResult{
		Results: make(map[string]*models.Quote),
		Errors:  make(map[string]string),
	}

	seen := make(map[string]struct{}, len(rawSymbols))
	symbols := make([]string, 0, len(rawSymbols))
	for _, raw := range rawSymbols {
		sym, err := validation.NormalizeSymbol(raw)
		if err != nil {
			out.Errors[raw] = err.Error()
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}

	for i := 0; i < len(symbols); i += s.cfg.BatchChunk {
		if i > 0 && s.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				for _, sym := range symbols[i:] {
					out.Errors[sym] = errs.Timeout("batch canceled", ctx.Err()).Error()
				}
				return out, nil
			case <-time.After(s.cfg.BatchDelay):
			}
		}
		end := i + s.cfg.BatchChunk
		if end > len(symbols) {
			end = len(symbols)
		}
		for _, sym := range symbols[i:end] {
			q, err := s.GetQuote(ctx, sym)
			if err != nil {
				out.Errors[sym] = err.Error()
				continue
			}
			out.Results[sym] = q
		}
	}
	return out, nil
}
