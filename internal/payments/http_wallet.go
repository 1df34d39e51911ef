package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPWallet calls a wallet service's credit endpoint:
// POST {endpoint}/api/wallet/credit {"userId","amount"} -> {"newBalance"}.
type HTTPWallet struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPWallet(endpoint string) *HTTPWallet {
	return &HTTPWallet{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: 5 * time.Second}}
}

func (w *HTTPWallet) Credit(ctx context.Context, req CreditRequest) (CreditResult, error) {
	body, err := json.Marshal(struct {
		UserID string  `json:"userId"`
		Amount float64 `json:"amount"`
	}{req.UserID, req.Amount})
	if err != nil {
		return CreditResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint+"/api/wallet/credit", bytes.NewReader(body))
	if err != nil {
		return CreditResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := w.Client.Do(httpReq)
	if err != nil {
		return CreditResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return CreditResult{}, fmt.Errorf("wallet status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out struct {
		NewBalance float64 `json:"newBalance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CreditResult{}, fmt.Errorf("wallet decode: %w", err)
	}
	return CreditResult{NewBalance: out.NewBalance}, nil
}
