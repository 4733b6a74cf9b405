package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPBackendSuccess(t *testing.T) {
	var gotAuth string
	var gotReq httpRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]string{"text": "generated text"})
	}))
	defer srv.Close()

	b := &HTTPBackend{Endpoint: srv.URL, Model: "test-model", APIKey: "sk-test", MaxTokens: 1024}
	res := b.Execute(context.Background(), Request{StepID: "gen", Prompt: "write a prd", Lookup: true})
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if res.Output != "generated text" {
		t.Errorf("output = %q", res.Output)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotReq.Model != "test-model" || gotReq.Prompt != "write a prd" || !gotReq.Lookup {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestHTTPBackendModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"context window exceeded"}}`))
	}))
	defer srv.Close()

	b := &HTTPBackend{Endpoint: srv.URL, APIKey: "sk-test"}
	res := b.Execute(context.Background(), Request{StepID: "gen"})
	if res.OK {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.Err != "model error: context window exceeded" {
		t.Errorf("err = %q", res.Err)
	}
}

func TestHTTPBackendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	b := &HTTPBackend{Endpoint: srv.URL, APIKey: "sk-test"}
	res := b.Execute(context.Background(), Request{StepID: "slow", Timeout: 100 * time.Millisecond})
	if res.OK || !res.TimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
}

func TestHTTPBackendMissingAPIKey(t *testing.T) {
	b := &HTTPBackend{Endpoint: "http://unused"}
	res := b.Execute(context.Background(), Request{StepID: "gen"})
	if res.OK {
		t.Fatal("expected failure without API key")
	}
}
