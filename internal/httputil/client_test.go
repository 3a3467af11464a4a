package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Client Tests
// =============================================================================

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://localhost:8080/"})

	if client.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %s, want trailing slash trimmed", client.baseURL)
	}
	if client.maxRetries != 2 {
		t.Errorf("default maxRetries = %d, want 2", client.maxRetries)
	}

	client = NewClient(ClientConfig{BaseURL: "http://localhost:8080", MaxRetries: -1})
	if client.maxRetries != 0 {
		t.Errorf("maxRetries = %d, want retries disabled", client.maxRetries)
	}
}

func TestClient_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/" {
			t.Errorf("request = %s %s, want GET /", r.Method, r.URL.Path)
		}
		io.WriteString(w, "Hello, World!")
	}))
	defer server.Close()

	got, err := NewClient(ClientConfig{BaseURL: server.URL}).Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if got != "Hello, World!" {
		t.Errorf("Ping() = %q", got)
	}
}

func TestClient_Compile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/compile" {
			t.Errorf("request = %s %s, want POST /compile", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %s, want application/json", r.Header.Get("Content-Type"))
		}

		var req CompileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.Name != "logistic" || req.Text != "model { }" {
			t.Errorf("body = %+v", req)
		}

		w.Header().Set("Content-Type", WasmContentType)
		w.Write([]byte("\x00asm\x01\x00\x00\x00"))
	}))
	defer server.Close()

	rc, err := NewClient(ClientConfig{BaseURL: server.URL}).Compile(context.Background(), "model { }", "logistic")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != "\x00asm\x01\x00\x00\x00" {
		t.Errorf("artifact = %q", data)
	}
}

func TestClient_CompileError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"line 1: unexpected '}'","code":"COMPILATION_FAILED"}`))
	}))
	defer server.Close()

	_, err := NewClient(ClientConfig{BaseURL: server.URL}).Compile(context.Background(), "}", "m")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Compile() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", apiErr.StatusCode)
	}
	if apiErr.Code != "COMPILATION_FAILED" {
		t.Errorf("Code = %s, want COMPILATION_FAILED", apiErr.Code)
	}
	if apiErr.Message != "line 1: unexpected '}'" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestClient_CompileUnexpectedContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	_, err := NewClient(ClientConfig{BaseURL: server.URL}).Compile(context.Background(), "m { }", "m")
	if err == nil {
		t.Fatal("Compile() should reject a non-wasm reply")
	}
}

func TestClient_RetryOnBusy(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			t.Error("retried request lost its body")
		}
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", WasmContentType)
		w.Write([]byte("\x00asm"))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{
		BaseURL:      server.URL,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})

	rc, err := client.Compile(context.Background(), "m { }", "m")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	rc.Close()

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, RetryBackoff: time.Millisecond})
	_, err := client.Compile(context.Background(), "", "")

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "bad request" {
		t.Fatalf("Compile() error = %v, want raw text message", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestClient_RetryHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(ClientConfig{BaseURL: server.URL}).Ping(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Ping() error = %v, want deadline exceeded", err)
	}
}

func TestDecodeResponse_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("http.Get() error = %v", err)
	}

	var result map[string]string
	if err := DecodeResponse(resp, &result); err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if result["status"] != "healthy" {
		t.Errorf("result[status] = %s, want healthy", result["status"])
	}
}

func TestDecodeResponse_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("http.Get() error = %v", err)
	}

	if err := DecodeResponse(resp, nil); err == nil {
		t.Error("DecodeResponse() should return error for 4xx status")
	}
}
