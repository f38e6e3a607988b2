package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"fxalert/internal/feed"
)

const (
	defaultHistoryCount = 100
	maxHistoryCount     = 5000
)

// BarResponse is one candle for charting. Time is epoch milliseconds.
type BarResponse struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// HistoryResponse is the body of the history endpoint.
type HistoryResponse struct {
	Symbol    string        `json:"symbol"`
	Timeframe string        `json:"timeframe"`
	Bars      []BarResponse `json:"bars"`
}

// QuoteResponse is the body of the quote endpoint. Time is epoch milliseconds.
type QuoteResponse struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Time   int64   `json:"time"`
}

// writeFeedError maps feed errors to a response.
func writeFeedError(w http.ResponseWriter, err error, op, symbol string) {
	if errors.Is(err, feed.ErrNotConnected) {
		http.Error(w, "Price feed not connected", http.StatusServiceUnavailable)
		return
	}
	slog.Error("Feed query failed", "op", op, "symbol", symbol, "error", err)
	http.Error(w, "Failed to query price feed", http.StatusBadGateway)
}

// ListSymbols returns the symbols the feed offers.
// GET /api/v1/charts/symbols
func (h *Handlers) ListSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.feed.ListSymbols(r.Context())
	if err != nil {
		writeFeedError(w, err, "symbols", "")
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"symbols": symbols})
}

// GetHistory returns recent bars, oldest first.
// GET /api/v1/charts/history/{symbol}?timeframe=M15&count=100
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	count := defaultHistoryCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryCount {
			http.Error(w, "count must be between 1 and "+strconv.Itoa(maxHistoryCount), http.StatusBadRequest)
			return
		}
		count = n
	}
	tf := feed.ParseTimeframe(r.URL.Query().Get("timeframe"))

	bars, err := h.feed.GetHistory(r.Context(), symbol, tf, count)
	if err != nil {
		writeFeedError(w, err, "history", symbol)
		return
	}

	resp := HistoryResponse{Symbol: symbol, Timeframe: tf.String(), Bars: make([]BarResponse, 0, len(bars))}
	for _, b := range bars {
		resp.Bars = append(resp.Bars, BarResponse{
			Time:   b.Time.UnixMilli(),
			Open:   b.Open.InexactFloat64(),
			High:   b.High.InexactFloat64(),
			Low:    b.Low.InexactFloat64(),
			Close:  b.Close.InexactFloat64(),
			Volume: b.Volume,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetQuote returns the latest bid/ask.
// GET /api/v1/charts/quote/{symbol}
func (h *Handlers) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	quote, err := h.feed.GetQuote(r.Context(), symbol)
	if err != nil {
		writeFeedError(w, err, "quote", symbol)
		return
	}
	if quote == nil {
		http.Error(w, "Symbol not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{
		Symbol: quote.Symbol,
		Bid:    quote.Bid.InexactFloat64(),
		Ask:    quote.Ask.InexactFloat64(),
		Time:   quote.Time.UnixMilli(),
	})
}
