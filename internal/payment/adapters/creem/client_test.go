package creem

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/imagegen/internal/config"
	paymentdomain "github.com/smallbiznis/imagegen/internal/payment/domain"
	"go.uber.org/zap"
)

func TestCreateCheckout(t *testing.T) {
	var got checkoutBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkouts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "creem_test_key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"checkout_url":"https://checkout.creem.io/test","id":"session_123"}`))
	}))
	defer srv.Close()

	client := NewClient(config.Config{Creem: config.CreemConfig{APIKey: "creem_test_key", APIURL: srv.URL}}, zap.NewNop())
	session, err := client.CreateCheckout(context.Background(), paymentdomain.ProviderCheckout{
		ProviderProductID: "prod_test_123",
		ProductSKU:        "starter_10",
		DeviceID:          "test-device",
		Generations:       10,
		SuccessURL:        "https://example.com/success",
		Email:             "a@b.c",
		RequestID:         "req-1",
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if session.CheckoutURL != "https://checkout.creem.io/test" || session.SessionID != "session_123" {
		t.Fatalf("unexpected session %+v", session)
	}
	if got.ProductID != "prod_test_123" || got.Metadata["generations"] != "10" || got.Metadata["device_id"] != "test-device" {
		t.Fatalf("unexpected request body %+v", got)
	}
	if got.Customer == nil || got.Customer.Email != "a@b.c" {
		t.Fatalf("expected customer email in body")
	}
}

func TestCreateCheckoutProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(config.Config{Creem: config.CreemConfig{APIKey: "k", APIURL: srv.URL}}, zap.NewNop())
	_, err := client.CreateCheckout(context.Background(), paymentdomain.ProviderCheckout{ProviderProductID: "p"})
	if !errors.Is(err, paymentdomain.ErrCheckoutFailed) {
		t.Fatalf("expected checkout failure, got %v", err)
	}
}

func TestCreateCheckoutWithoutKey(t *testing.T) {
	client := NewClient(config.Config{}, zap.NewNop())
	_, err := client.CreateCheckout(context.Background(), paymentdomain.ProviderCheckout{})
	if !errors.Is(err, paymentdomain.ErrCheckoutFailed) {
		t.Fatalf("expected checkout failure, got %v", err)
	}
}
