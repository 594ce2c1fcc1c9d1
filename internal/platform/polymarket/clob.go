// Package polymarket holds the REST and WebSocket clients for the
// Polymarket CLOB, Gamma, and data APIs.
package polymarket

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/polycopy/engine/internal/crypto"
	"github.com/polycopy/engine/internal/domain"
)

// zeroAddress is the taker for open orders.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// saltMax bounds the random order salt (2^53, safe for JSON numbers on
// the venue side).
var saltMax = new(big.Int).Lsh(big.NewInt(1), 53)

// ClobConfig carries the CLOB client parameters.
type ClobConfig struct {
	BaseURL       string
	SignatureType int    // see crypto.SignatureType constants
	FunderAddress string // maker address when funds sit in a proxy wallet
}

// ClobClient is the REST client for the Polymarket CLOB. It places and
// cancels signed orders and serves orderbook snapshots, implementing
// domain.OrderSubmitter and domain.BookSource.
type ClobClient struct {
	cfg        ClobConfig
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	limiter    domain.RateLimiter // optional
}

// NewClobClient creates a CLOB client. signer may be nil for read-only use,
// hmac may be nil until DeriveAPIKey runs, limiter may be nil to disable
// client-side throttling.
func NewClobClient(cfg ClobConfig, signer *crypto.Signer, hmac *crypto.HMACAuth, limiter domain.RateLimiter) *ClobClient {
	return &ClobClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
		limiter:  limiter,
	}
}

// PlaceOrder signs and submits an order. A well-formed venue rejection is
// returned as an unsuccessful result with a nil error; errors are reserved
// for transport, signing, and decoding failures.
func (c *ClobClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if c.signer == nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: no signer configured: %w", domain.ErrSigningFailed)
	}

	payload, err := c.buildOrderPayload(req)
	if err != nil {
		return domain.OrderResult{}, err
	}
	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
	}

	sideStr := "BUY"
	if req.Side == domain.OrderSideSell {
		sideStr = "SELL"
	}
	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          sideStr,
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     payload.Maker,
		"orderType": string(req.Type),
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return apiResult.ToDomainOrderResult(), nil
}

// CancelOrder cancels a single order by its venue id.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// Book fetches the current orderbook for a token over HTTP. The endpoint
// is public, no auth headers are attached.
func (c *ClobClient) Book(ctx context.Context, assetID string) (domain.OrderbookSnapshot, error) {
	if err := c.throttle(ctx, "clob:book"); err != nil {
		return domain.OrderbookSnapshot{}, err
	}

	params := url.Values{}
	params.Set("token_id", assetID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/book?"+params.Encode(), nil)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: create book request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: get book: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: read book response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: get book %s: %w", assetID, err)
	}

	var book APIBook
	if err := json.Unmarshal(respBody, &book); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}

	snap := book.ToDomainSnapshot()
	if snap.AssetID == "" {
		snap.AssetID = assetID
	}
	return snap, nil
}

// DeriveAPIKey runs the L1 auth flow to obtain HMAC credentials. It signs
// a ClobAuth message and sends it with POLY_ADDRESS, POLY_SIGNATURE,
// POLY_TIMESTAMP, and POLY_NONCE headers. On success the client's hmacAuth
// is populated and later requests are L2-signed.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	if c.signer == nil {
		return fmt.Errorf("polymarket/clob: no signer configured: %w", domain.ErrSigningFailed)
	}

	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildOrderPayload converts a float-denominated request into the signed
// fixed-point order. Both USDC and outcome shares use 6 decimals: a BUY
// makes USDC and takes shares, a SELL the reverse.
func (c *ClobClient) buildOrderPayload(req domain.OrderRequest) (crypto.OrderPayload, error) {
	salt, err := crand.Int(crand.Reader, saltMax)
	if err != nil {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: generate salt: %w", err)
	}

	usdc := fmt.Sprintf("%d", int64(req.Price*req.Size*1e6+0.5))
	shares := fmt.Sprintf("%d", int64(req.Size*1e6+0.5))

	side := 0
	makerAmount, takerAmount := usdc, shares
	if req.Side == domain.OrderSideSell {
		side = 1
		makerAmount, takerAmount = shares, usdc
	}

	signerAddr := c.signer.Address().Hex()
	maker := c.cfg.FunderAddress
	if maker == "" {
		maker = signerAddr
	}

	return crypto.OrderPayload{
		Salt:          salt.String(),
		Maker:         maker,
		Signer:        signerAddr,
		Taker:         zeroAddress,
		TokenID:       req.TokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: c.cfg.SignatureType,
	}, nil
}

// doAuthenticatedRequest builds, HMAC-signs, sends, and reads a request
// against the CLOB API, returning the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.throttle(ctx, "clob:order"); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil && c.signer != nil {
		headers := c.hmacAuth.L2Headers(c.signer.Address().Hex(), method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// throttle blocks on the rate limiter when one is configured.
func (c *ClobClient) throttle(ctx context.Context, key string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx, key); err != nil {
		return fmt.Errorf("polymarket/clob: rate limit wait: %w", err)
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes onto domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
