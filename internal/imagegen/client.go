package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/imagegen/internal/config"
	obslogger "github.com/smallbiznis/imagegen/internal/observability/logger"
	"github.com/smallbiznis/imagegen/internal/observability/tracing"
	"go.uber.org/zap"
)

const maxResponseBytes = 32 << 20

// Failure reasons reported by Generate. The returned error wraps one of them
// and its message is safe to show to the caller.
var (
	ErrTimeout           = errors.New("generation_timeout")
	ErrRejected          = errors.New("generation_rejected")
	ErrMalformedResponse = errors.New("generation_malformed_response")
	ErrUnavailable       = errors.New("generation_unavailable")
)

type Error struct {
	Reason  error
	Message string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Reason }

// Generator produces one image for a final prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Result, error)
}

type Result struct {
	ImageURL string
}

type Client struct {
	baseURL string
	apiKey  string
	model   string
	size    string
	quality string
	timeout time.Duration
	http    *http.Client
	log     *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	gen := cfg.Generation
	return &Client{
		baseURL: strings.TrimRight(gen.ProviderURL, "/"),
		apiKey:  gen.ProviderKey,
		model:   gen.Model,
		size:    gen.Size,
		quality: gen.Quality,
		timeout: gen.Timeout(),
		http:    tracing.WrapHTTPClient(&http.Client{}),
		log:     log.Named("imagegen.client"),
	}
}

// NewGenerator exposes the client through the Generator interface for injection.
func NewGenerator(c *Client) Generator { return c }

// Model is the upstream model name recorded on audit rows.
func (c *Client) Model() string { return c.model }

type generationRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
}

type generationResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (c *Client) Generate(ctx context.Context, prompt string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(generationRequest{
		Model:   c.model,
		Prompt:  prompt,
		N:       1,
		Size:    c.size,
		Quality: c.quality,
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	log := obslogger.WithContext(ctx, c.log)
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Warn("image generation timed out", zap.Duration("timeout", c.timeout))
			return Result{}, &Error{Reason: ErrTimeout, Message: "Image generation timed out. Please try again."}
		}
		log.Error("image generation request failed", zap.Error(err))
		return Result{}, &Error{Reason: ErrUnavailable, Message: fmt.Sprintf("Image generation failed: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, &Error{Reason: ErrTimeout, Message: "Image generation timed out. Please try again."}
		}
		return Result{}, &Error{Reason: ErrUnavailable, Message: fmt.Sprintf("Image generation failed: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		text := strings.TrimSpace(string(raw))
		log.Error("image provider rejected request",
			zap.Int("status", resp.StatusCode),
			zap.Int("body_bytes", len(raw)),
		)
		return Result{}, &Error{Reason: ErrRejected, Message: "Image generation failed: " + text}
	}

	var parsed generationResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Data) == 0 {
		return Result{}, &Error{Reason: ErrMalformedResponse, Message: "No image URL in response"}
	}
	first := parsed.Data[0]
	switch {
	case strings.TrimSpace(first.URL) != "":
		return Result{ImageURL: strings.TrimSpace(first.URL)}, nil
	case strings.TrimSpace(first.B64JSON) != "":
		return Result{ImageURL: "data:image/png;base64," + strings.TrimSpace(first.B64JSON)}, nil
	default:
		return Result{}, &Error{Reason: ErrMalformedResponse, Message: "No image URL in response"}
	}
}
