package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/imagegen/internal/config"
	creditdomain "github.com/smallbiznis/imagegen/internal/credit/domain"
	generationdomain "github.com/smallbiznis/imagegen/internal/generation/domain"
	"github.com/smallbiznis/imagegen/internal/observability"
	obsmetrics "github.com/smallbiznis/imagegen/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/imagegen/internal/payment/domain"
	productdomain "github.com/smallbiznis/imagegen/internal/product/domain"
	"github.com/smallbiznis/imagegen/internal/ratelimit"
	tokendomain "github.com/smallbiznis/imagegen/internal/token/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeGenerationService struct {
	calls   int
	lastReq generationdomain.Request
	result  generationdomain.Result
	err     error
}

func (f *fakeGenerationService) Attempt(ctx context.Context, req generationdomain.Request) (generationdomain.Result, error) {
	f.calls++
	f.lastReq = req
	return f.result, f.err
}

type fakeCreditService struct {
	usage creditdomain.Usage
	err   error
}

func (f *fakeCreditService) Resolve(ctx context.Context, db *gorm.DB, deviceID, explicitToken string) (creditdomain.FundingSource, error) {
	return creditdomain.FundingSource{}, nil
}

func (f *fakeCreditService) Debit(ctx context.Context, db *gorm.DB, src creditdomain.FundingSource) (int, error) {
	return 0, nil
}

func (f *fakeCreditService) Refund(ctx context.Context, db *gorm.DB, src creditdomain.FundingSource) (int, error) {
	return 0, nil
}

func (f *fakeCreditService) Usage(ctx context.Context, deviceID string) (creditdomain.Usage, error) {
	if deviceID == "" {
		return creditdomain.Usage{}, creditdomain.ErrInvalidDevice
	}
	return f.usage, f.err
}

type fakeTokenService struct {
	tokens map[string]tokendomain.TokenInfo
	valid  map[string]bool
}

func (f *fakeTokenService) GetByToken(ctx context.Context, token string) (tokendomain.TokenInfo, error) {
	info, ok := f.tokens[token]
	if !ok {
		return tokendomain.TokenInfo{}, tokendomain.ErrNotFound
	}
	return info, nil
}

func (f *fakeTokenService) ListByDevice(ctx context.Context, deviceID string) ([]tokendomain.TokenInfo, error) {
	out := []tokendomain.TokenInfo{}
	for _, info := range f.tokens {
		out = append(out, info)
	}
	return out, nil
}

func (f *fakeTokenService) Validate(ctx context.Context, token string) (bool, error) {
	return f.valid[token], nil
}

func (f *fakeTokenService) Issue(ctx context.Context, db *gorm.DB, req tokendomain.IssueRequest) (*tokendomain.GenerationToken, error) {
	return nil, nil
}

type fakeProductService struct {
	products []productdomain.Product
}

func (f *fakeProductService) List(ctx context.Context) ([]productdomain.Product, error) {
	return f.products, nil
}

func (f *fakeProductService) GetBySKU(ctx context.Context, sku string) (*productdomain.Product, error) {
	for i := range f.products {
		if f.products[i].SKU == sku {
			return &f.products[i], nil
		}
	}
	return nil, productdomain.ErrNotFound
}

type fakePaymentService struct {
	calls int
	err   error
}

func (f *fakePaymentService) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	f.calls++
	return f.err
}

type fakeCheckoutService struct {
	session *paymentdomain.CheckoutSession
	lastReq paymentdomain.CheckoutRequest
	err     error
}

func (f *fakeCheckoutService) CreateCheckout(ctx context.Context, req paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutSession, error) {
	f.lastReq = req
	return f.session, f.err
}

type testDeps struct {
	generation *fakeGenerationService
	credit     *fakeCreditService
	token      *fakeTokenService
	product    *fakeProductService
	payment    *fakePaymentService
	checkout   *fakeCheckoutService
	limiter    *ratelimit.GenerateLimiter
	registry   *obsmetrics.Registry
}

func newTestDeps() *testDeps {
	return &testDeps{
		generation: &fakeGenerationService{},
		credit:     &fakeCreditService{},
		token:      &fakeTokenService{tokens: map[string]tokendomain.TokenInfo{}, valid: map[string]bool{}},
		product:    &fakeProductService{},
		payment:    &fakePaymentService{},
		checkout:   &fakeCheckoutService{},
		registry:   obsmetrics.NewRegistry("ai-image-gen"),
	}
}

func newTestRouter(t *testing.T, deps *testDeps) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		AppName:     "imagegen",
		AppVersion:  "1.0.0",
		CORSOrigins: []string{"*"},
	}
	r := NewEngine(EngineParams{
		ObsCfg:   observability.Config{Environment: "test"},
		Cfg:      cfg,
		Registry: deps.registry,
	})
	NewServer(ServerParams{
		Gin:           r,
		Cfg:           cfg,
		GenerationSvc: deps.generation,
		CreditSvc:     deps.credit,
		TokenSvc:      deps.token,
		ProductSvc:    deps.product,
		PaymentSvc:    deps.payment,
		CheckoutSvc:   deps.checkout,
		Limiter:       deps.limiter,
	})
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, _ := json.Marshal(v)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealthAndRoot(t *testing.T) {
	r := newTestRouter(t, newTestDeps())

	rec := doJSON(r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"imagegen"}`, rec.Body.String())

	rec = doJSON(r, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"service":"imagegen","version":"1.0.0"}`, rec.Body.String())
}

func TestUsageReturnsBalances(t *testing.T) {
	deps := newTestDeps()
	deps.credit.usage = creditdomain.Usage{FreeRemaining: 3, PaidRemaining: 10, TotalRemaining: 13}
	r := newTestRouter(t, deps)

	rec := doJSON(r, http.MethodGet, "/api/v1/usage/device-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"free_remaining":3,"paid_remaining":10,"total_remaining":13}`, rec.Body.String())
}

func TestGenerateReturnsResult(t *testing.T) {
	deps := newTestDeps()
	url := "https://img.example/1.png"
	deps.generation.result = generationdomain.Result{Success: true, ImageURL: &url, RemainingGenerations: 2, IsFreeTrial: true}
	r := newTestRouter(t, deps)

	rec := doJSON(r, http.MethodPost, "/api/v1/generate", map[string]any{
		"prompt":    "a red fox",
		"style":     "anime",
		"device_id": " device-1 ",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, url, body["image_url"])
	assert.Equal(t, float64(2), body["remaining_generations"])
	assert.Equal(t, true, body["is_free_trial"])
	assert.Equal(t, "device-1", deps.generation.lastReq.DeviceID)
	assert.Equal(t, "anime", deps.generation.lastReq.Style)
}

func TestGenerateProviderFailureIsNotHTTPError(t *testing.T) {
	deps := newTestDeps()
	msg := "Image generation timed out. Please try again."
	deps.generation.result = generationdomain.Result{Success: false, Error: &msg, RemainingGenerations: 3, IsFreeTrial: true}
	r := newTestRouter(t, deps)

	rec := doJSON(r, http.MethodPost, "/api/v1/generate", map[string]any{"prompt": "x", "device_id": "d"})

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, msg, body["error"])
	assert.Equal(t, float64(3), body["remaining_generations"])
}

func TestGeneratePaymentRequired(t *testing.T) {
	deps := newTestDeps()
	deps.generation.err = generationdomain.ErrPaymentRequired
	r := newTestRouter(t, deps)

	rec := doJSON(r, http.MethodPost, "/api/v1/generate", map[string]any{"prompt": "x", "device_id": "d"})

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "payment_required", decodeError(t, rec).Type)
}

func TestGenerateValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{name: "prompt", err: generationdomain.ErrInvalidPrompt, code: "invalid_prompt"},
		{name: "device", err: generationdomain.ErrInvalidDevice, code: "invalid_device_id"},
		{name: "style", err: generationdomain.ErrInvalidStyle, code: "invalid_style"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := newTestDeps()
			deps.generation.err = tc.err
			r := newTestRouter(t, deps)

			rec := doJSON(r, http.MethodPost, "/api/v1/generate", map[string]any{"prompt": "x", "device_id": "d"})

			require.Equal(t, http.StatusBadRequest, rec.Code)
			payload := decodeError(t, rec)
			assert.Equal(t, "validation_error", payload.Type)
			require.Len(t, payload.Errors, 1)
			assert.Equal(t, tc.code, payload.Errors[0].Code)
		})
	}
}

func TestGenerateRejectsMalformedBody(t *testing.T) {
	deps := newTestDeps()
	r := newTestRouter(t, deps)

	rec := doJSON(r, http.MethodPost, "/api/v1/generate", "{not json")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, deps.generation.calls)
}

func TestListProducts(t *testing.T) {
	deps := newTestDeps()
	deps.product.products = []productdomain.Product{
		{SKU: "starter_10", Name: "Starter Pack", PriceCents: 299, Currency: "USD", Generations: 10, ValidityDays: 365},
		{SKU: "pro_50", Name: "Pro Pack", PriceCents: 999, Currency: "USD", Generations: 50, DiscountPercent: 17, ValidityDays: 365},
	}
	r := newTestRouter(t, deps)

	rec := doJSON(r, http.MethodGet, "/api/v1/payment/products", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body []productdomain.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, "starter_10", body[0].SKU)
	assert.Equal(t, 17, body[1].DiscountPercent)
}

func TestCreateCheckout(t *testing.T) {
	deps := newTestDeps()
	deps.checkout.session = &paymentdomain.CheckoutSession{CheckoutURL: "https://pay.example/c/1", SessionID: "ch_1"}
	r := newTestRouter(t, deps)

	rec := doJSON(r, http.MethodPost, "/api/v1/payment/create-checkout", map[string]any{
		"product_sku":    "starter_10",
		"device_id":      "device-1",
		"success_url":    "https://app.example/done",
		"optional_email": "a@example.com",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"checkout_url":"https://pay.example/c/1","session_id":"ch_1"}`, rec.Body.String())
	assert.Equal(t, "a@example.com", deps.checkout.lastReq.Email)
}

func TestCreateCheckoutErrors(t *testing.T) {
	deps := newTestDeps()
	deps.checkout.err = paymentdomain.ErrInvalidProduct
	r := newTestRouter(t, deps)

	rec := doJSON(r, http.MethodPost, "/api/v1/payment/create-checkout", map[string]any{"product_sku": "nope", "device_id": "d"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid product SKU", decodeError(t, rec).Message)

	deps.checkout.err = paymentdomain.ErrCheckoutFailed
	rec = doJSON(r, http.MethodPost, "/api/v1/payment/create-checkout", map[string]any{"product_sku": "starter_10", "device_id": "d"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWebhookResponses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "processed", err: nil, status: http.StatusOK},
		{name: "duplicate", err: paymentdomain.ErrEventAlreadyProcessed, status: http.StatusOK},
		{name: "bad signature", err: paymentdomain.ErrInvalidSignature, status: http.StatusBadRequest},
		{name: "bad payload", err: paymentdomain.ErrInvalidPayload, status: http.StatusBadRequest},
		{name: "bad event", err: paymentdomain.ErrInvalidEvent, status: http.StatusBadRequest},
		{name: "unknown provider", err: paymentdomain.ErrProviderNotFound, status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := newTestDeps()
			deps.payment.err = tc.err
			r := newTestRouter(t, deps)

			rec := doJSON(r, http.MethodPost, "/api/v1/webhooks/creem", `{"eventType":"checkout.completed"}`)

			require.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.JSONEq(t, `{"received":true}`, rec.Body.String())
			}
			assert.Equal(t, 1, deps.payment.calls)
		})
	}
}

func TestTokenEndpoints(t *testing.T) {
	deps := newTestDeps()
	expires := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	deps.token.tokens["tok_1"] = tokendomain.TokenInfo{
		Token:                "tok_1",
		RemainingGenerations: 9,
		TotalGenerations:     10,
		ExpiresAt:            expires,
		ProductSKU:           "starter_10",
	}
	deps.token.valid["tok_1"] = true
	r := newTestRouter(t, deps)

	rec := doJSON(r, http.MethodGet, "/api/v1/tokens/info/tok_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info tokendomain.TokenInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 9, info.RemainingGenerations)
	assert.True(t, info.ExpiresAt.Equal(expires))

	rec = doJSON(r, http.MethodGet, "/api/v1/tokens/info/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Token not found", decodeError(t, rec).Message)

	rec = doJSON(r, http.MethodGet, "/api/v1/tokens/by-device/device-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Tokens []tokendomain.TokenInfo `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Tokens, 1)

	rec = doJSON(r, http.MethodPost, "/api/v1/tokens/validate?token=tok_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":true}`, rec.Body.String())

	rec = doJSON(r, http.MethodPost, "/api/v1/tokens/validate?token=unknown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":false}`, rec.Body.String())
}

func TestCrawlerDetectionCountsVisits(t *testing.T) {
	deps := newTestDeps()
	r := newTestRouter(t, deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	r.ServeHTTP(httptest.NewRecorder(), req)

	rec := doJSON(r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `crawler_visits_total{bot="Googlebot",tool="ai-image-gen"} 1`)
}

func TestDetectCrawler(t *testing.T) {
	assert.Equal(t, "bingbot", detectCrawler("Mozilla/5.0 (compatible; bingbot/2.0)"))
	assert.Equal(t, "DuckDuckBot", detectCrawler("duckduckbot-https/1.1"))
	assert.Equal(t, "", detectCrawler("Mozilla/5.0 Safari"))
	assert.Equal(t, "", detectCrawler(""))
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t, newTestDeps())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/generate", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func newTestLimiter(t *testing.T, mr *miniredis.Miniredis) *ratelimit.GenerateLimiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewGenerateLimiterWithClient(client, config.RateLimitConfig{
		GenerateDeviceRate:     0.001,
		GenerateDeviceBurst:    1,
		GenerateLockTTLSeconds: 30,
	})
	require.NoError(t, err)
	return limiter
}

func TestGenerateRateLimitDeniesSecondRequest(t *testing.T) {
	mr := miniredis.RunT(t)
	deps := newTestDeps()
	deps.limiter = newTestLimiter(t, mr)
	deps.generation.result = generationdomain.Result{Success: true}
	r := newTestRouter(t, deps)

	body := map[string]any{"prompt": "x", "device_id": "device-1"}
	rec := doJSON(r, http.MethodPost, "/api/v1/generate", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(r, http.MethodPost, "/api/v1/generate", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, rateLimitReasonDeviceRate, rec.Header().Get("X-Rate-Limited-Reason"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, deps.generation.calls)

	rec = doJSON(r, http.MethodPost, "/api/v1/generate", map[string]any{"prompt": "x", "device_id": "device-2"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateRateLimitReleasesDeviceLock(t *testing.T) {
	mr := miniredis.RunT(t)
	deps := newTestDeps()
	deps.limiter = newTestLimiter(t, mr)
	r := newTestRouter(t, deps)

	rec := doJSON(r, http.MethodPost, "/api/v1/generate", map[string]any{"prompt": "x", "device_id": "device-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.False(t, mr.Exists("imagegen:generate:lock:device-1"))
}

func TestGenerateRateLimitRejectsOversizedBody(t *testing.T) {
	mr := miniredis.RunT(t)
	deps := newTestDeps()
	deps.limiter = newTestLimiter(t, mr)
	r := newTestRouter(t, deps)

	body := `{"device_id":"device-1","prompt":"` + strings.Repeat("a", maxGenerateBody) + `"}`
	rec := doJSON(r, http.MethodPost, "/api/v1/generate", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, deps.generation.calls)
	assert.False(t, mr.Exists("imagegen:generate:lock:device-1"))
}

func TestGenerateRateLimitDeniesConcurrentRequest(t *testing.T) {
	mr := miniredis.RunT(t)
	deps := newTestDeps()
	deps.limiter = newTestLimiter(t, mr)
	r := newTestRouter(t, deps)

	require.NoError(t, mr.Set("imagegen:generate:lock:device-1", "other"))

	rec := doJSON(r, http.MethodPost, "/api/v1/generate", map[string]any{"prompt": "x", "device_id": "device-1"})

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, rateLimitReasonDeviceConcurrency, rec.Header().Get("X-Rate-Limited-Reason"))
	assert.Equal(t, 0, deps.generation.calls)
}

func TestGenerateRateLimitRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	deps := newTestDeps()
	deps.limiter = newTestLimiter(t, mr)
	r := newTestRouter(t, deps)
	mr.Close()

	rec := doJSON(r, http.MethodPost, "/api/v1/generate", map[string]any{"prompt": "x", "device_id": "device-1"})

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "service_unavailable"))
	assert.Equal(t, 0, deps.generation.calls)
}
