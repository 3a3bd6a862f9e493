// Package processor is a client for a Stripe-compatible payment processor:
// checkout sessions, payouts, internal transfers and webhook signatures.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fastprodman/caseledger/internal/config"
	"github.com/fastprodman/caseledger/internal/infra/metrics"
	"github.com/fastprodman/caseledger/internal/ledger"
)

const maxResponseBytes = 1 << 20

type Client struct {
	baseURL    string
	apiKey     string
	currency   string
	successURL string
	cancelURL  string
	http       *http.Client
}

func New(cfg config.ProcessorConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		currency:   cfg.Currency,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		http:       &http.Client{Timeout: cfg.Timeout},
	}
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// post sends a form-encoded request and decodes a 2xx JSON body into out.
// Every failure is returned as *ledger.ProcessorError.
func (c *Client) post(ctx context.Context, op, path string, form url.Values, idempotencyKey string, out any) error {
	start := time.Now()
	result := "ok"

	defer func() {
		metrics.ProcessorCalls.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		result = "error"
		return &ledger.ProcessorError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	slog.Debug("processor request", "op", op, "path", path, "idempotency_key", idempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		result = "error"
		return &ledger.ProcessorError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		result = "error"
		return &ledger.ProcessorError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result = "error"

		var apiErr apiError

		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}

		return &ledger.ProcessorError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    msg,
			Err:        errors.New(msg),
		}
	}

	err = json.Unmarshal(body, out)
	if err != nil {
		result = "error"
		return &ledger.ProcessorError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	return nil
}

func setMetadata(form url.Values, prefix string, md map[string]string) {
	for k, v := range md {
		form.Set(prefix+"["+k+"]", v)
	}
}
