package phone

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-member/pkg/utilities"
)

const defaultURL = "https://phonevalidation.abstractapi.com/v1/"

// Validator checks whether a phone number is real and reachable.
// Implementations never return an error: any failure means invalid.
type Validator interface {
	Valid(ctx context.Context, phone string) bool
}

// Config holds phone validation settings.
type Config struct {
	Enabled bool
	APIKey  string
	URL     string
	Timeout time.Duration
}

// ConfigFromEnv reads PHONE_VALIDATION_* variables.
func ConfigFromEnv() Config {
	cfg := Config{
		URL:     defaultURL,
		Timeout: 5 * time.Second,
	}
	if v := strings.ToLower(os.Getenv("PHONE_VALIDATION_ENABLED")); v == "1" || v == "true" {
		cfg.Enabled = true
	}
	cfg.APIKey = os.Getenv("PHONE_VALIDATION_APIKEY")
	if v := os.Getenv("PHONE_VALIDATION_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("PHONE_VALIDATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Timeout = d
		}
	}
	return cfg
}

// New returns the validator described by cfg. When validation is disabled
// or no API key is configured every number is accepted.
func New(cfg Config, logger *zap.SugaredLogger) Validator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if !cfg.Enabled {
		return Noop{}
	}
	if cfg.APIKey == "" {
		logger.Warn("phone validation enabled without PHONE_VALIDATION_APIKEY; accepting all numbers")
		return Noop{}
	}
	return NewAbstractValidator(cfg, logger)
}

// Noop accepts every phone number.
type Noop struct{}

func (Noop) Valid(context.Context, string) bool { return true }

// AbstractValidator calls the abstractapi phone validation endpoint.
type AbstractValidator struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.SugaredLogger
}

func NewAbstractValidator(cfg Config, logger *zap.SugaredLogger) *AbstractValidator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	base := cfg.URL
	if base == "" {
		base = defaultURL
	}
	return &AbstractValidator{
		apiKey:  cfg.APIKey,
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type validationResponse struct {
	Valid *bool `json:"valid"`
}

// Valid reports whether the remote service considers phone valid.
// Timeouts, transport errors, non-2xx statuses and malformed bodies all
// resolve to false.
func (v *AbstractValidator) Valid(ctx context.Context, phone string) bool {
	ok, err := v.lookup(ctx, phone)
	if err != nil {
		v.logger.Warnw("phone validation failed", "phone", utilities.MaskPhone(phone), "error", err)
		return false
	}
	return ok
}

func (v *AbstractValidator) lookup(ctx context.Context, phone string) (bool, error) {
	u, err := url.Parse(v.baseURL)
	if err != nil {
		return false, fmt.Errorf("parse phone validation url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", v.apiKey)
	q.Set("phone", phone)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("phone validation service error: %s", resp.Status)
	}

	var out validationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode phone validation response: %w", err)
	}
	if out.Valid == nil {
		return false, fmt.Errorf("phone validation response missing valid field")
	}
	return *out.Valid, nil
}
