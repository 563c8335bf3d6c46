package mopro

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func reply(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func TestProveJwtDecodesHexProof(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/calls/proveJwt" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var args map[string]any
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if args["tokenId"] != "tok" || args["domain"] != "example.com" {
			t.Errorf("unexpected arguments: %v", args)
		}
		reply(w, `{"id":"","status":"success","result":{"proof":"0x010203","error":null}}`)
	})

	res, err := client.ProveJwt(context.Background(), ProveJwtRequest{TokenID: "tok", Domain: "example.com"})
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if string(res.Proof) != "\x01\x02\x03" || res.Error != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestProveJwtEmbeddedError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"status":"success","result":{"proof":null,"error":"jwt expired"}}`)
	})

	res, err := client.ProveJwt(context.Background(), ProveJwtRequest{})
	if err != nil {
		t.Fatalf("embedded failures are not call errors: %v", err)
	}
	if res.Proof != nil || res.Error == nil || *res.Error != "jwt expired" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestVerifySendsBytesMarker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var args struct {
			Proof map[string]string `json:"proof"`
		}
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if args.Proof["$bytes"] != "0x0a0b" {
			t.Errorf("unexpected proof encoding: %v", args.Proof)
		}
		reply(w, `{"status":"success","result":{"isValid":true,"error":null}}`)
	})

	res, err := client.VerifyJwtProof(context.Background(), VerifyJwtProofRequest{Proof: Bytes{0x0a, 0x0b}})
	if err != nil || !res.IsValid {
		t.Fatalf("unexpected verify result: %+v %v", res, err)
	}
}

func TestChannelErrorAndNotImplemented(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/calls/signMessage":
			reply(w, `{"status":"error","error":{"code":"SIGN_MESSAGE_ERROR","message":"Error signing message","details":"bad key"}}`)
		default:
			reply(w, `{"status":"notImplemented"}`)
		}
	})

	_, err := client.SignMessage(context.Background(), SignMessageRequest{})
	var callErr *CallError
	if !errors.As(err, &callErr) || callErr.Code != "SIGN_MESSAGE_ERROR" || callErr.Details != "bad key" {
		t.Fatalf("expected CallError, got %v", err)
	}

	if _, err := client.GenerateEphemeralKey(context.Background()); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
}

func TestRateLimitedReturnsAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	})

	_, err := client.GetPlatformVersion(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests || apiErr.RetryAfter.Seconds() != 3 {
		t.Fatalf("expected APIError with retry hint, got %v", err)
	}
}

func TestRecentPassesLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/calls/recent" || r.URL.Query().Get("limit") != "3" {
			t.Errorf("unexpected request: %s", r.URL.String())
		}
		reply(w, `[{"id":1,"call_id":"c","method":"getPlatformVersion","status":"success"}]`)
	})

	records, err := client.Recent(context.Background(), 3)
	if err != nil || len(records) != 1 || records[0].CallID != "c" {
		t.Fatalf("unexpected records: %+v %v", records, err)
	}
}
