/**
 * @description
 * This package provides a client for the PayPal Payouts API. It encapsulates
 * the OAuth client-credentials token exchange, payout submission, and the
 * mapping of PayPal's error responses onto the failure kinds the withdrawal
 * flow branches on.
 *
 * The client persists nothing locally; it is a pure network wrapper. The
 * caller supplies the sender batch id used as the idempotency token; a fresh
 * token must be generated per attempt and never reused across distinct
 * attempts, so that retrying after a timeout cannot mint a duplicate payout.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package paypalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Kind classifies a gateway failure for the caller. Only KindInsufficientFunds
// and KindTransient are sensibly retried, and then only by an operator; the
// client never retries on its own.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthFailure
	KindInsufficientFunds // the external payout-funding account, not the platform wallet
	KindInvalidDestination
	KindTransient // network error, timeout, or 5xx; the payout may or may not have been sent
)

// APIError represents a failure surfaced by (or on the way to) the PayPal API.
type APIError struct {
	Kind       Kind
	StatusCode int
	Name       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("paypal api error: %s - %s", e.Name, e.Message)
	}
	return fmt.Sprintf("paypal api error: %s", e.Message)
}

// Retryable reports whether an operator-initiated retry of the same request
// could plausibly succeed later.
func (e *APIError) Retryable() bool {
	return e.Kind == KindInsufficientFunds || e.Kind == KindTransient
}

// Ambiguous reports whether the payout outcome is unknown (the request may
// have reached PayPal even though we saw an error). Callers must surface this
// to the operator instead of guessing.
func (e *APIError) Ambiguous() bool {
	return e.Kind == KindTransient
}

// Client is a client for the PayPal Payouts API.
type Client struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a new PayPal API client.
func NewClient(baseURL, clientID, clientSecret string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// payoutRequest is the payload for a single-item payout batch.
type payoutRequest struct {
	SenderBatchHeader struct {
		SenderBatchID string `json:"sender_batch_id"`
		EmailSubject  string `json:"email_subject"`
	} `json:"sender_batch_header"`
	Items []payoutItem `json:"items"`
}

type payoutItem struct {
	RecipientType string `json:"recipient_type"`
	Amount        struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Receiver     string `json:"receiver"`
	SenderItemID string `json:"sender_item_id"`
	Note         string `json:"note,omitempty"`
}

// payoutResponse is the expected response from PayPal's payout endpoint.
type payoutResponse struct {
	BatchHeader struct {
		PayoutBatchID string `json:"payout_batch_id"`
		BatchStatus   string `json:"batch_status"`
	} `json:"batch_header"`
	Items []struct {
		PayoutItemID      string `json:"payout_item_id"`
		TransactionStatus string `json:"transaction_status"`
	} `json:"items"`
}

// errorResponse represents an error body from the PayPal API.
type errorResponse struct {
	Name             string `json:"name"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// PayoutResult is the identifier pair and verbatim status returned on success,
// kept for reconciliation against the external system.
type PayoutResult struct {
	BatchID string
	ItemID  string
	Status  string
}

// Token returns a valid OAuth access token, exchanging client credentials when
// the cached one is missing or close to expiry.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-30*time.Second)) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", transportError("token", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError("token", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := classifyError(resp.StatusCode, bodyBytes)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			apiErr.Kind = KindAuthFailure
		}
		log.Printf("level=warn component=paypal_client op=token status=%d name=%q msg=%q", resp.StatusCode, apiErr.Name, apiErr.Message)
		return "", apiErr
	}

	var tok tokenResponse
	if err := json.Unmarshal(bodyBytes, &tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return "", &APIError{Kind: KindAuthFailure, StatusCode: resp.StatusCode, Message: "token response contained no access token"}
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// SubmitPayout sends a single-item payout batch to PayPal. `amountMinor` is in
// centavos; `senderBatchID` is the caller's idempotency token for this attempt.
func (c *Client) SubmitPayout(ctx context.Context, receiver string, amountMinor int64, currency, senderBatchID string) (*PayoutResult, error) {
	if amountMinor <= 0 {
		return nil, errors.New("payout amount must be positive")
	}
	if !strings.Contains(receiver, "@") {
		return nil, &APIError{Kind: KindInvalidDestination, Message: fmt.Sprintf("receiver %q is not an email address", receiver)}
	}
	if strings.TrimSpace(senderBatchID) == "" {
		return nil, errors.New("sender batch id is required")
	}

	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	reqPayload := payoutRequest{}
	reqPayload.SenderBatchHeader.SenderBatchID = senderBatchID
	reqPayload.SenderBatchHeader.EmailSubject = "You have a payout from Staynest"
	item := payoutItem{RecipientType: "EMAIL", Receiver: receiver, SenderItemID: senderBatchID}
	item.Amount.Value = formatMinorUnits(amountMinor)
	item.Amount.Currency = currency
	reqPayload.Items = []payoutItem{item}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/payments/payouts", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create payout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("PayPal-Request-Id", senderBatchID)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, transportError("payout", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError("payout", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := classifyError(resp.StatusCode, bodyBytes)
		log.Printf("level=warn component=paypal_client op=payout status=%d name=%q msg=%q batch=%s", resp.StatusCode, apiErr.Name, apiErr.Message, senderBatchID)
		return nil, apiErr
	}

	var successResp payoutResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode payout response: %w", err)
	}

	result := &PayoutResult{
		BatchID: successResp.BatchHeader.PayoutBatchID,
		Status:  successResp.BatchHeader.BatchStatus,
	}
	if len(successResp.Items) > 0 {
		result.ItemID = successResp.Items[0].PayoutItemID
		if successResp.Items[0].TransactionStatus != "" {
			result.Status = successResp.Items[0].TransactionStatus
		}
	}
	return result, nil
}

// formatMinorUnits renders centavos as a decimal string with exactly two
// fractional digits, e.g. 50000 -> "500.00".
func formatMinorUnits(amountMinor int64) string {
	return fmt.Sprintf("%d.%02d", amountMinor/100, amountMinor%100)
}

// transportError wraps a network-level failure. The outcome is ambiguous: the
// request may have reached PayPal before the connection died.
func transportError(op string, err error) *APIError {
	return &APIError{Kind: KindTransient, Message: fmt.Sprintf("%s request failed: %v", op, err)}
}

// classifyError maps a non-2xx PayPal response onto the failure taxonomy.
func classifyError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{Kind: KindUnknown, StatusCode: statusCode}

	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Name = parsed.Name
		apiErr.Message = parsed.Message
		if apiErr.Name == "" {
			apiErr.Name = parsed.Error
			apiErr.Message = parsed.ErrorDescription
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("unexpected status %d", statusCode)
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden || apiErr.Name == "invalid_client":
		apiErr.Kind = KindAuthFailure
	case apiErr.Name == "INSUFFICIENT_FUNDS":
		apiErr.Kind = KindInsufficientFunds
	case apiErr.Name == "RECEIVER_UNREGISTERED" || apiErr.Name == "RECEIVER_UNCONFIRMED" || apiErr.Name == "RECEIVER_INVALID":
		apiErr.Kind = KindInvalidDestination
	case statusCode >= 500:
		apiErr.Kind = KindTransient
	}
	return apiErr
}
