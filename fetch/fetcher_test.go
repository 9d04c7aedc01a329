package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetJSONSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET request, got %s", r.Method)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q, want application/json", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name": "left-pad", "dist-tags": {"latest": "1.3.0"}}`))
	}))
	defer server.Close()

	f := NewFetcher()
	var out struct {
		Name     string            `json:"name"`
		DistTags map[string]string `json:"dist-tags"`
	}
	if err := f.GetJSON(context.Background(), server.URL+"/left-pad", &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}

	if out.Name != "left-pad" {
		t.Errorf("Name = %q, want %q", out.Name, "left-pad")
	}
	if out.DistTags["latest"] != "1.3.0" {
		t.Errorf("DistTags[latest] = %q, want %q", out.DistTags["latest"], "1.3.0")
	}
}

func TestGetJSONNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewFetcher()
	var out map[string]any
	err := f.GetJSON(context.Background(), server.URL+"/missing", &out)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJSON = %v, want ErrNotFound", err)
	}
}

func TestGetJSONRateLimitRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	f := NewFetcher(WithBaseDelay(10 * time.Millisecond))
	var out map[string]any
	if err := f.GetJSON(context.Background(), server.URL+"/pkg", &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestGetJSONServerErrorExhaustsRetries(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := NewFetcher(WithBaseDelay(time.Millisecond), WithMaxRetries(2))
	err := f.GetJSON(context.Background(), server.URL+"/pkg", nil)
	if !errors.Is(err, ErrUpstreamDown) {
		t.Errorf("GetJSON = %v, want ErrUpstreamDown", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestGetJSONNotFoundNoRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewFetcher(WithBaseDelay(time.Millisecond))
	_ = f.GetJSON(context.Background(), server.URL+"/pkg", nil)
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestPutJSON(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT request, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	f := NewFetcher()
	var out struct {
		OK bool `json:"ok"`
	}
	body := map[string]string{"version": "1.0.1"}
	if err := f.PutJSON(context.Background(), server.URL+"/pkg", body, &out); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}

	if received["version"] != "1.0.1" {
		t.Errorf("received version = %v, want 1.0.1", received["version"])
	}
	if !out.OK {
		t.Error("expected ok response")
	}
}

func TestAuthFunc(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer s3cret")
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	f := NewFetcher(WithAuthFunc(func(url string) (string, string) {
		return "Authorization", "Bearer s3cret"
	}))
	if err := f.GetJSON(context.Background(), server.URL+"/pkg", nil); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
}
