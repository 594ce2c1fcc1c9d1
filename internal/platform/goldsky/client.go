// Package goldsky queries the Goldsky subgraph that indexes on-chain
// order fills from the Polymarket CTF Exchange contract.
package goldsky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/polycopy/engine/internal/domain"
)

// usdcAssetID is the asset id the exchange uses for the collateral token.
const usdcAssetID = "0"

// fillPageSize bounds one subgraph query.
const fillPageSize = 100

// Client is a GraphQL client for the Goldsky subgraph indexer.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Goldsky GraphQL client.
//
// graphqlURL is the subgraph endpoint, e.g.
// "https://api.goldsky.com/api/public/.../subgraphs/polymarket-orderbook-resync/gn".
func NewClient(graphqlURL, apiKey string) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Fill is one on-chain order fill as indexed by the subgraph. Amounts are
// 6-decimal fixed point.
type Fill struct {
	ID                string
	TransactionHash   string
	Timestamp         int64
	Maker             string
	MakerAssetID      string
	MakerAmountFilled int64
	TakerAssetID      string
	TakerAmountFilled int64
}

// FetchFills queries fills where the given wallet was the maker, no older
// than since, ordered oldest first. The boundary is inclusive; fill ids
// let the caller drop the replayed boundary fill.
func (c *Client) FetchFills(ctx context.Context, wallet string, since time.Time) ([]Fill, error) {
	query := `
		query WalletFills($maker: String!, $since: BigInt!, $first: Int!) {
			orderFilledEvents(
				first: $first
				orderBy: timestamp
				orderDirection: asc
				where: { maker: $maker, timestamp_gte: $since }
			) {
				id
				transactionHash
				timestamp
				maker
				makerAssetId
				makerAmountFilled
				takerAssetId
				takerAmountFilled
			}
		}
	`

	variables := map[string]any{
		"maker": strings.ToLower(wallet),
		"since": fmt.Sprintf("%d", since.Unix()),
		"first": fillPageSize,
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("goldsky: fetch fills: %w", err)
	}

	var result struct {
		OrderFilledEvents []struct {
			ID                string `json:"id"`
			TransactionHash   string `json:"transactionHash"`
			Timestamp         string `json:"timestamp"`
			Maker             string `json:"maker"`
			MakerAssetID      string `json:"makerAssetId"`
			MakerAmountFilled string `json:"makerAmountFilled"`
			TakerAssetID      string `json:"takerAssetId"`
			TakerAmountFilled string `json:"takerAmountFilled"`
		} `json:"orderFilledEvents"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("goldsky: decode fills: %w", err)
	}

	fills := make([]Fill, 0, len(result.OrderFilledEvents))
	for _, e := range result.OrderFilledEvents {
		ts, _ := strconv.ParseInt(e.Timestamp, 10, 64)
		makerAmt, _ := strconv.ParseInt(e.MakerAmountFilled, 10, 64)
		takerAmt, _ := strconv.ParseInt(e.TakerAmountFilled, 10, 64)

		fills = append(fills, Fill{
			ID:                e.ID,
			TransactionHash:   e.TransactionHash,
			Timestamp:         ts,
			Maker:             e.Maker,
			MakerAssetID:      e.MakerAssetID,
			MakerAmountFilled: makerAmt,
			TakerAssetID:      e.TakerAssetID,
			TakerAmountFilled: takerAmt,
		})
	}
	return fills, nil
}

// FetchLatestBlock returns the latest block the subgraph has indexed,
// used to monitor indexing lag.
func (c *Client) FetchLatestBlock(ctx context.Context) (int64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("goldsky: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("goldsky: decode latest block: %w", err)
	}
	return result.Meta.Block.Number, nil
}

// doQuery executes a GraphQL query and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}
	return gqlResp.Data, nil
}

// FillProvider adapts subgraph fills to domain.TradeProvider. Token ids
// are resolved back to markets through the resolver; fills on markets the
// resolver does not know are skipped.
type FillProvider struct {
	client   *Client
	resolver domain.TokenResolver
}

// NewFillProvider wraps a Client with a token resolver.
func NewFillProvider(client *Client, resolver domain.TokenResolver) *FillProvider {
	return &FillProvider{client: client, resolver: resolver}
}

func (p *FillProvider) Name() string { return "goldsky_fills" }

// Trades converts fills into normalized trade events. The subgraph fill id
// doubles as the event position id.
func (p *FillProvider) Trades(ctx context.Context, wallet string, since time.Time) ([]domain.TradeEvent, error) {
	fills, err := p.client.FetchFills(ctx, wallet, since)
	if err != nil {
		return nil, err
	}

	events := make([]domain.TradeEvent, 0, len(fills))
	for _, f := range fills {
		ev, err := p.fillToEvent(ctx, wallet, f)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// fillToEvent decodes one fill. When the maker asset is USDC the wallet
// bought the taker asset; otherwise it sold the maker asset.
func (p *FillProvider) fillToEvent(ctx context.Context, wallet string, f Fill) (domain.TradeEvent, error) {
	var (
		side     domain.OrderSide
		tokenID  string
		usdcAmt  float64
		shareAmt float64
	)
	if f.MakerAssetID == usdcAssetID {
		side = domain.OrderSideBuy
		tokenID = f.TakerAssetID
		usdcAmt = float64(f.MakerAmountFilled) / 1e6
		shareAmt = float64(f.TakerAmountFilled) / 1e6
	} else {
		side = domain.OrderSideSell
		tokenID = f.MakerAssetID
		shareAmt = float64(f.MakerAmountFilled) / 1e6
		usdcAmt = float64(f.TakerAmountFilled) / 1e6
	}

	market, outcome, err := p.resolver.ResolveToken(ctx, tokenID)
	if err != nil {
		return domain.TradeEvent{}, fmt.Errorf("goldsky: resolve token %s: %w", tokenID, err)
	}

	price := 0.0
	if shareAmt > 0 {
		price = usdcAmt / shareAmt
	}

	return domain.TradeEvent{
		Wallet:      wallet,
		PositionID:  f.ID,
		MarketID:    market.ID,
		Question:    market.Question,
		Outcome:     outcome,
		Side:        side,
		Price:       price,
		Size:        shareAmt,
		NotionalUSD: usdcAmt,
		TxHash:      f.TransactionHash,
		Timestamp:   time.Unix(f.Timestamp, 0).UTC(),
	}, nil
}
