package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/polycopy/engine/internal/domain"
)

// dataPageSize is the page size used against the data API.
const dataPageSize = 100

// DataClient is the REST client for the Polymarket data API, which serves
// per-wallet fills and activity.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    domain.RateLimiter // optional
}

// NewDataClient creates a data API client.
// baseURL is the API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string, limiter domain.RateLimiter) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: limiter,
	}
}

// Trades returns fills for a wallet timestamped at or after since, oldest
// first. The boundary is inclusive so a second fill sharing the watermark
// timestamp that the API surfaces late is not lost; fills carry a stable
// id and the watcher suppresses the replay.
func (d *DataClient) Trades(ctx context.Context, wallet string, since time.Time) ([]domain.TradeEvent, error) {
	params := url.Values{}
	params.Set("user", wallet)
	params.Set("limit", strconv.Itoa(dataPageSize))

	body, err := d.doGet(ctx, "/trades?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: get trades: %w", err)
	}

	var apiTrades []APITrade
	if err := json.Unmarshal(body, &apiTrades); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode trades: %w", err)
	}

	events := make([]domain.TradeEvent, 0, len(apiTrades))
	for i := range apiTrades {
		ev := apiTrades[i].ToDomainTradeEvent()
		if ev.Timestamp.Before(since) {
			continue
		}
		events = append(events, ev)
	}
	reverseEvents(events)
	return events, nil
}

// Activity returns TRADE activity entries for a wallet timestamped at or
// after since, oldest first. Activity entries carry no stable fill id;
// boundary replays fall to the watcher's same-trade window.
func (d *DataClient) Activity(ctx context.Context, wallet string, since time.Time) ([]domain.TradeEvent, error) {
	params := url.Values{}
	params.Set("user", wallet)
	params.Set("type", "TRADE")
	params.Set("limit", strconv.Itoa(dataPageSize))

	body, err := d.doGet(ctx, "/activity?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: get activity: %w", err)
	}

	var entries []APIActivity
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode activity: %w", err)
	}

	events := make([]domain.TradeEvent, 0, len(entries))
	for i := range entries {
		if entries[i].Type != "" && entries[i].Type != "TRADE" {
			continue
		}
		ev := entries[i].ToDomainTradeEvent()
		if ev.Timestamp.Before(since) {
			continue
		}
		events = append(events, ev)
	}
	reverseEvents(events)
	return events, nil
}

// doGet sends an unauthenticated GET to the data API.
func (d *DataClient) doGet(ctx context.Context, path string) ([]byte, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, "data_api"); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// The data API returns newest first; the watcher wants oldest first so
// watermarks advance monotonically.
func reverseEvents(events []domain.TradeEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}

// TradeHistoryProvider adapts the /trades endpoint to domain.TradeProvider.
// It is the primary provider: its events carry stable fill ids.
type TradeHistoryProvider struct {
	client *DataClient
}

// NewTradeHistoryProvider wraps a DataClient.
func NewTradeHistoryProvider(client *DataClient) *TradeHistoryProvider {
	return &TradeHistoryProvider{client: client}
}

func (p *TradeHistoryProvider) Name() string { return "data_api_trades" }

func (p *TradeHistoryProvider) Trades(ctx context.Context, wallet string, since time.Time) ([]domain.TradeEvent, error) {
	return p.client.Trades(ctx, wallet, since)
}

// ActivityProvider adapts the /activity endpoint to domain.TradeProvider.
// It is the last-resort provider: its events have no fill id, so the
// watcher dedups them by the same-trade fallback window.
type ActivityProvider struct {
	client *DataClient
}

// NewActivityProvider wraps a DataClient.
func NewActivityProvider(client *DataClient) *ActivityProvider {
	return &ActivityProvider{client: client}
}

func (p *ActivityProvider) Name() string { return "data_api_activity" }

func (p *ActivityProvider) Trades(ctx context.Context, wallet string, since time.Time) ([]domain.TradeEvent, error) {
	return p.client.Activity(ctx, wallet, since)
}
