package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPWalletCredit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/wallet/credit" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") != "trip:t-1" {
			t.Errorf("idempotency key = %q", r.Header.Get("Idempotency-Key"))
		}
		var body struct {
			UserID string  `json:"userId"`
			Amount float64 `json:"amount"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.UserID != "d-1" || body.Amount != 120 {
			t.Errorf("body = %+v", body)
		}
		_, _ = w.Write([]byte(`{"newBalance":520}`))
	}))
	defer srv.Close()

	res, err := NewHTTPWallet(srv.URL).Credit(context.Background(), CreditRequest{UserID: "d-1", Amount: 120, IdempotencyKey: "trip:t-1"})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if res.NewBalance != 520 {
		t.Fatalf("balance = %v", res.NewBalance)
	}
}

func TestHTTPWalletErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "wallet locked", http.StatusConflict)
	}))
	defer srv.Close()

	if _, err := NewHTTPWallet(srv.URL).Credit(context.Background(), CreditRequest{UserID: "d-1", Amount: 1}); err == nil {
		t.Fatalf("expected error for 409")
	}
}
