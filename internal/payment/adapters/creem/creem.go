package creem

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	paymentdomain "github.com/smallbiznis/imagegen/internal/payment/domain"
)

const (
	ProviderName    = "creem"
	SignatureHeader = "creem-signature"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

// NewAdapter accepts an empty secret; Verify then rejects every delivery.
func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, _ := readString(cfg.Config, "webhook_secret")
	return &Adapter{webhookSecret: strings.TrimSpace(secret)}, nil
}

type Adapter struct {
	webhookSecret string
}

// Verify checks the hex HMAC-SHA256 of the raw body against the signature header.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidSignature
	}
	signature := strings.ToLower(strings.TrimSpace(headers.Get(SignatureHeader)))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	if !hmac.Equal([]byte(signature), []byte(Sign(a.webhookSecret, payload))) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

// Sign returns the signature Creem sends for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type creemEvent struct {
	ID        string        `json:"id"`
	EventType string        `json:"eventType"`
	Object    creemCheckout `json:"object"`
}

type creemCheckout struct {
	ID       string          `json:"id"`
	Metadata map[string]any  `json:"metadata"`
	Customer json.RawMessage `json:"customer"`
	Order    struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"order"`
}

type creemCustomer struct {
	Email string `json:"email"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.CheckoutEvent, error) {
	var event creemEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	eventType := strings.TrimSpace(event.EventType)
	if eventType != paymentdomain.EventTypeCheckoutCompleted {
		return nil, paymentdomain.ErrEventIgnored
	}

	checkoutID := strings.TrimSpace(event.Object.ID)
	if checkoutID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	deviceID := readMetadataValue(event.Object.Metadata, "device_id")
	productSKU := readMetadataValue(event.Object.Metadata, "product_sku")
	if deviceID == "" || productSKU == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	generations, err := strconv.Atoi(readMetadataValue(event.Object.Metadata, "generations"))
	if err != nil || generations <= 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if event.Object.Order.Amount < 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}

	currency := strings.ToUpper(strings.TrimSpace(event.Object.Order.Currency))
	if currency == "" {
		currency = "USD"
	}

	return &paymentdomain.CheckoutEvent{
		Provider:      ProviderName,
		CheckoutID:    checkoutID,
		Type:          eventType,
		DeviceID:      deviceID,
		ProductSKU:    productSKU,
		Generations:   generations,
		AmountCents:   event.Object.Order.Amount,
		Currency:      currency,
		CustomerEmail: customerEmail(event.Object.Customer),
		RawPayload:    payload,
	}, nil
}

// customerEmail handles both the expanded customer object and a bare id.
func customerEmail(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var customer creemCustomer
	if err := json.Unmarshal(raw, &customer); err != nil {
		return ""
	}
	return strings.TrimSpace(customer.Email)
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast != float64(int64(cast)) {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	return cast, ok
}
