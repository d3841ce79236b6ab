package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrGatewayUnavailable covers infrastructure faults: the gateway is
	// unreachable, timed out, or answered with a server error.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// DeclineError is a business-level decline from the gateway (insufficient
// funds, blocked card). Distinct from infrastructure faults.
type DeclineError struct {
	Reason string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Reason)
}

type ChargeRequest struct {
	Reference      string // appointment id the charge is for
	AmountCents    int64
	IdempotencyKey string
}

type ChargeResponse struct {
	TransactionID string
}

// Gateway is the external payment collaborator. Charge returns a
// *DeclineError for business declines; any other error is an
// infrastructure fault.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error)
	Refund(ctx context.Context, transactionID string, amountCents int64) error
}

// HTTPGateway talks JSON to a payment gateway over HTTP.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	body := map[string]any{
		"idempotency_key": req.IdempotencyKey,
		"reference":       req.Reference,
		"amount_money": map[string]any{
			"amount":   req.AmountCents,
			"currency": "USD",
		},
	}

	var parsed struct {
		Charge struct {
			TransactionID string `json:"transaction_id"`
		} `json:"charge"`
		Decline struct {
			Reason string `json:"reason"`
		} `json:"decline"`
	}

	status, err := g.post(ctx, "/v1/charges", body, &parsed)
	if err != nil {
		return nil, err
	}

	if status == http.StatusPaymentRequired || status == http.StatusUnprocessableEntity {
		reason := parsed.Decline.Reason
		if reason == "" {
			reason = "declined by gateway"
		}
		return nil, &DeclineError{Reason: reason}
	}
	if status >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: charge api status %d", ErrGatewayUnavailable, status)
	}

	return &ChargeResponse{TransactionID: parsed.Charge.TransactionID}, nil
}

func (g *HTTPGateway) Refund(ctx context.Context, transactionID string, amountCents int64) error {
	body := map[string]any{
		"transaction_id": transactionID,
		"amount_money": map[string]any{
			"amount":   amountCents,
			"currency": "USD",
		},
	}

	status, err := g.post(ctx, "/v1/refunds", body, &struct{}{})
	if err != nil {
		return err
	}
	if status >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: refund api status %d", ErrGatewayUnavailable, status)
	}
	return nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, body any, out any) (int, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal gateway request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return 0, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil && resp.StatusCode < http.StatusMultipleChoices {
			return resp.StatusCode, fmt.Errorf("decode gateway response: %w", err)
		}
	}

	return resp.StatusCode, nil
}
