package creem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/imagegen/internal/config"
	obslogger "github.com/smallbiznis/imagegen/internal/observability/logger"
	"github.com/smallbiznis/imagegen/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/imagegen/internal/payment/domain"
	"go.uber.org/zap"
)

const checkoutTimeout = 30 * time.Second

// Client calls the Creem REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.Creem.APIURL, "/"),
		apiKey:  cfg.Creem.APIKey,
		http:    tracing.WrapHTTPClient(&http.Client{Timeout: checkoutTimeout}),
		log:     log.Named("payment.creem"),
	}
}

type checkoutCustomer struct {
	Email string `json:"email"`
}

type checkoutBody struct {
	ProductID  string            `json:"product_id"`
	SuccessURL string            `json:"success_url"`
	RequestID  string            `json:"request_id,omitempty"`
	Customer   *checkoutCustomer `json:"customer,omitempty"`
	Metadata   map[string]string `json:"metadata"`
}

type checkoutResponse struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

func (c *Client) CreateCheckout(ctx context.Context, req paymentdomain.ProviderCheckout) (*paymentdomain.CheckoutSession, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: creem api key not configured", paymentdomain.ErrCheckoutFailed)
	}

	body := checkoutBody{
		ProductID:  req.ProviderProductID,
		SuccessURL: req.SuccessURL,
		RequestID:  req.RequestID,
		Metadata: map[string]string{
			"device_id":   req.DeviceID,
			"product_sku": req.ProductSKU,
			"generations": strconv.Itoa(req.Generations),
		},
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		body.Customer = &checkoutCustomer{Email: email}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkouts", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	log := obslogger.WithContext(ctx, c.log)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.Error("creem checkout request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrCheckoutFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", paymentdomain.ErrCheckoutFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error("creem rejected checkout",
			zap.Int("status", resp.StatusCode),
			zap.String("product_sku", req.ProductSKU),
		)
		return nil, fmt.Errorf("%w: status %d", paymentdomain.ErrCheckoutFailed, resp.StatusCode)
	}

	var parsed checkoutResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", paymentdomain.ErrCheckoutFailed, err)
	}
	if strings.TrimSpace(parsed.CheckoutURL) == "" {
		return nil, fmt.Errorf("%w: response missing checkout_url", paymentdomain.ErrCheckoutFailed)
	}

	return &paymentdomain.CheckoutSession{
		CheckoutURL: parsed.CheckoutURL,
		SessionID:   parsed.ID,
	}, nil
}
