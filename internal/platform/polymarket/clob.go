// Package polymarket contains the exchange-facing clients: the authenticated
// CLOB REST client used for order submission, the Gamma REST client used for
// market discovery, and the WebSocket market-data client.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pben56681-png/clobarb/internal/crypto"
	"github.com/pben56681-png/clobarb/internal/domain"
)

// ClobClient is the REST client for the CLOB (Central Limit Order Book) API.
// It signs, submits, and queries orders.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth

	// orderIDs maps intent IDs to exchange order IDs for submissions that
	// received a response. Submissions that died before a response have no
	// entry and cannot be reconciled.
	orderIDsMu sync.Mutex
	orderIDs   map[string]string
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer is the EIP-712 signer for order signatures and auth messages.
// hmac may be nil; call DeriveAPIKey before submitting orders.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
		orderIDs: make(map[string]string),
	}
}

// SubmitOrder signs the intent and posts it to the CLOB. The returned
// LegResult reflects the exchange's synchronous matching decision, which is
// terminal for FOK and FAK orders.
func (c *ClobClient) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (domain.LegResult, error) {
	signed, err := c.signer.SignIntent(intent, 0)
	if err != nil {
		return domain.LegResult{}, fmt.Errorf("polymarket/clob: sign order %s: %w", intent.ID, err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          signed.Salt,
			"maker":         signed.Maker,
			"signer":        signed.Signer,
			"taker":         signed.Taker,
			"tokenId":       signed.TokenID,
			"makerAmount":   signed.MakerAmount,
			"takerAmount":   signed.TakerAmount,
			"expiration":    signed.Expiration,
			"nonce":         signed.Nonce,
			"feeRateBps":    signed.FeeRateBps,
			"side":          signed.Side,
			"signatureType": signed.SignatureType,
			"signature":     signed.Signature,
		},
		"owner":     signed.Maker,
		"orderType": string(intent.Type),
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.LegResult{}, fmt.Errorf("polymarket/clob: post order %s: %w", intent.ID, err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.LegResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	result := apiResult.ToLegResult(intent.Side)
	result.IntentID = intent.ID
	result.Outcome = intent.Outcome
	if result.OrderID != "" {
		c.orderIDsMu.Lock()
		c.orderIDs[intent.ID] = result.OrderID
		c.orderIDsMu.Unlock()
	}
	return result, nil
}

// OrderStatus looks up the terminal state of a previously submitted intent.
// Intents whose submission never received a response are unknown to the
// client and return domain.ErrNotFound.
func (c *ClobClient) OrderStatus(ctx context.Context, intentID string) (domain.LegResult, error) {
	c.orderIDsMu.Lock()
	orderID, ok := c.orderIDs[intentID]
	c.orderIDsMu.Unlock()
	if !ok {
		return domain.LegResult{}, fmt.Errorf("polymarket/clob: intent %s: %w", intentID, domain.ErrNotFound)
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/order/"+orderID, nil)
	if err != nil {
		return domain.LegResult{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, err)
	}

	var apiOrder APIOrder
	if err := json.Unmarshal(respBody, &apiOrder); err != nil {
		return domain.LegResult{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}

	res := apiOrder.ToLegResult()
	res.IntentID = intentID
	return res, nil
}

// CancelAll cancels all open orders for the authenticated wallet. Called on
// shutdown so no stray orders survive the process.
func (c *ClobClient) CancelAll(ctx context.Context) error {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/cancel-all", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel all: %w", err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel-all response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel-all failed: %s", result.ErrorMsg)
	}

	return nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. L1 requires POLY_ADDRESS, POLY_SIGNATURE,
// POLY_TIMESTAMP, POLY_NONCE. On success it populates the client's hmacAuth.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
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

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
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

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		headers := c.hmacAuth.L2Headers(address, method, path, bodyStr)
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

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
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
