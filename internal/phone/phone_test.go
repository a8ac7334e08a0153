package phone

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestValidator(t *testing.T, h http.HandlerFunc, timeout time.Duration) *AbstractValidator {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewAbstractValidator(Config{
		Enabled: true,
		APIKey:  "test-key",
		URL:     srv.URL + "/v1/",
		Timeout: timeout,
	}, zaptest.NewLogger(t).Sugar())
}

func TestAbstractValidatorSendsKeyAndPhone(t *testing.T) {
	v := newTestValidator(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("api_key"); got != "test-key" {
			t.Errorf("api_key = %q", got)
		}
		if got := r.URL.Query().Get("phone"); got != "9876543210" {
			t.Errorf("phone = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"phone":"9876543210","valid":true}`))
	}, time.Second)

	if !v.Valid(context.Background(), "9876543210") {
		t.Fatal("expected valid phone")
	}
}

func TestAbstractValidatorFailsClosed(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"invalid", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"valid":false}`))
		}},
		{"non 2xx", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"valid":true}`))
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}},
		{"missing field", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{"valid":true}`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestValidator(t, tc.handler, 50*time.Millisecond)
			if v.Valid(context.Background(), "9876543210") {
				t.Fatal("expected invalid")
			}
		})
	}
}

func TestAbstractValidatorUnreachable(t *testing.T) {
	v := NewAbstractValidator(Config{APIKey: "k", URL: "http://127.0.0.1:1/", Timeout: 100 * time.Millisecond}, nil)
	if v.Valid(context.Background(), "9876543210") {
		t.Fatal("expected invalid when service is unreachable")
	}
}

func TestNewSelectsImplementation(t *testing.T) {
	if _, ok := New(Config{}, nil).(Noop); !ok {
		t.Fatal("disabled config should yield Noop")
	}
	if _, ok := New(Config{Enabled: true}, nil).(Noop); !ok {
		t.Fatal("missing api key should yield Noop")
	}
	if _, ok := New(Config{Enabled: true, APIKey: "k"}, nil).(*AbstractValidator); !ok {
		t.Fatal("enabled config should yield AbstractValidator")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PHONE_VALIDATION_ENABLED", "true")
	t.Setenv("PHONE_VALIDATION_APIKEY", "abc")
	t.Setenv("PHONE_VALIDATION_URL", "http://example.test/")
	t.Setenv("PHONE_VALIDATION_TIMEOUT", "2s")

	cfg := ConfigFromEnv()
	if !cfg.Enabled || cfg.APIKey != "abc" || cfg.URL != "http://example.test/" || cfg.Timeout != 2*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
