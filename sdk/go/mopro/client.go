// Package mopro is a Go client for the bridge HTTP API.
package mopro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Proof generation can take tens of seconds.
const DefaultHTTPTimeout = 2 * time.Minute

// ErrNotImplemented is returned when the bridge does not know the method.
var ErrNotImplemented = errors.New("mopro: method not implemented")

// Client wraps the HTTP interactions with the bridge REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Bytes is a binary argument. It travels as {"$bytes": "0x.."}.
type Bytes []byte

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]hexutil.Bytes{"$bytes": hexutil.Bytes(b)})
}

// Response is the raw reply for one call.
type Response struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *CallError      `json:"error,omitempty"`
}

// CallError is a channel-level failure reported by the bridge.
type CallError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *CallError) Error() string {
	if e == nil {
		return ""
	}
	if e.Details != "" {
		return fmt.Sprintf("mopro call error: %s - %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("mopro call error: %s - %s", e.Code, e.Message)
}

// APIError represents HTTP level failures such as rate limiting.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mopro api error (%d): %s", e.StatusCode, e.Message)
}

// ProveJwtRequest carries the proveJwt arguments.
type ProveJwtRequest struct {
	SrsPath            string `json:"srsPath"`
	EphemeralPublicKey string `json:"ephemeralPublicKey"`
	EphemeralSalt      string `json:"ephemeralSalt"`
	EphemeralExpiry    string `json:"ephemeralExpiry"`
	TokenID            string `json:"tokenId"`
	JWT                string `json:"jwt"`
	Domain             string `json:"domain"`
}

// ProveJwtResult is the proveJwt payload. Exactly one of Proof and Error is set.
type ProveJwtResult struct {
	Proof []byte
	Error *string
}

// UnmarshalJSON decodes the hex encoded proof.
func (r *ProveJwtResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Proof *hexutil.Bytes `json:"proof"`
		Error *string        `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Error = raw.Error
	r.Proof = nil
	if raw.Proof != nil {
		r.Proof = []byte(*raw.Proof)
	}
	return nil
}

// VerifyJwtProofRequest carries the verifyJwtProof arguments.
type VerifyJwtProofRequest struct {
	SrsPath                string `json:"srsPath"`
	Proof                  Bytes  `json:"proof"`
	Domain                 string `json:"domain"`
	GoogleJwtPubkeyModulus string `json:"googleJwtPubkeyModulus"`
	EphemeralPubkey        string `json:"ephemeralPubkey"`
	EphemeralPubkeyExpiry  string `json:"ephemeralPubkeyExpiry"`
}

// VerifyJwtProofResult is the verifyJwtProof payload.
type VerifyJwtProofResult struct {
	IsValid bool    `json:"isValid"`
	Error   *string `json:"error"`
}

// SignMessageRequest carries the signMessage arguments.
type SignMessageRequest struct {
	AnonGroupID           string `json:"anonGroupId"`
	Text                  string `json:"text"`
	Internal              bool   `json:"internal"`
	EphemeralPublicKey    string `json:"ephemeralPublicKey"`
	EphemeralPrivateKey   string `json:"ephemeralPrivateKey"`
	EphemeralPubkeyExpiry string `json:"ephemeralPubkeyExpiry"`
}

// MethodInfo describes one registered method.
type MethodInfo struct {
	Method    string `json:"method"`
	Arguments []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"arguments"`
}

// CallRecord is one journal entry.
type CallRecord struct {
	ID              int64  `json:"id"`
	CallID          string `json:"call_id"`
	Method          string `json:"method"`
	Status          string `json:"status"`
	ErrorCode       string `json:"error_code,omitempty"`
	DurationMillis  int64  `json:"duration_ms"`
	ArgumentsDigest string `json:"arguments_digest"`
	CreatedAt       int64  `json:"created_at"`
}

// NewClient instantiates a client for the bridge API. When httpClient is
// nil, a default client with a generous timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Call invokes a method with arbitrary arguments and returns the raw reply.
// Only transport problems are returned as errors.
func (c *Client) Call(ctx context.Context, method string, args any) (Response, error) {
	var resp Response
	if err := c.post(ctx, "/api/v1/calls/"+url.PathEscape(method), args, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// GetPlatformVersion returns the host platform description.
func (c *Client) GetPlatformVersion(ctx context.Context) (string, error) {
	var out string
	if err := c.invoke(ctx, "getPlatformVersion", nil, &out); err != nil {
		return "", err
	}
	return out, nil
}

// GetApplicationDocumentsDirectory returns the documents directory path.
func (c *Client) GetApplicationDocumentsDirectory(ctx context.Context) (string, error) {
	var out string
	if err := c.invoke(ctx, "getApplicationDocumentsDirectory", nil, &out); err != nil {
		return "", err
	}
	return out, nil
}

// ProveJwt requests a JWT binding proof. Engine failures are reported in
// the result, not as an error.
func (c *Client) ProveJwt(ctx context.Context, req ProveJwtRequest) (ProveJwtResult, error) {
	var out ProveJwtResult
	if err := c.invoke(ctx, "proveJwt", req, &out); err != nil {
		return ProveJwtResult{}, err
	}
	return out, nil
}

// VerifyJwtProof checks a JWT binding proof.
func (c *Client) VerifyJwtProof(ctx context.Context, req VerifyJwtProofRequest) (VerifyJwtProofResult, error) {
	var out VerifyJwtProofResult
	if err := c.invoke(ctx, "verifyJwtProof", req, &out); err != nil {
		return VerifyJwtProofResult{}, err
	}
	return out, nil
}

// SignMessage signs a message with the ephemeral key.
func (c *Client) SignMessage(ctx context.Context, req SignMessageRequest) (string, error) {
	var out string
	if err := c.invoke(ctx, "signMessage", req, &out); err != nil {
		return "", err
	}
	return out, nil
}

// GenerateEphemeralKey asks the engine for a fresh ephemeral key.
func (c *Client) GenerateEphemeralKey(ctx context.Context) (string, error) {
	var out string
	if err := c.invoke(ctx, "generateEphemeralKey", nil, &out); err != nil {
		return "", err
	}
	return out, nil
}

// Methods lists the registered methods and their arguments.
func (c *Client) Methods(ctx context.Context) ([]MethodInfo, error) {
	var out []MethodInfo
	if err := c.get(ctx, "/api/v1/methods", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Recent returns the latest journal entries, newest first.
func (c *Client) Recent(ctx context.Context, limit int) ([]CallRecord, error) {
	var out []CallRecord
	endpoint := "/api/v1/calls/recent?limit=" + strconv.Itoa(limit)
	if err := c.get(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) invoke(ctx context.Context, method string, args any, out any) error {
	resp, err := c.Call(ctx, method, args)
	if err != nil {
		return err
	}
	switch resp.Status {
	case "success":
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		return nil
	case "notImplemented":
		return ErrNotImplemented
	default:
		if resp.Error != nil {
			return resp.Error
		}
		return fmt.Errorf("mopro: unexpected status %q", resp.Status)
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, ref.Path)
	u.RawQuery = ref.RawQuery
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Malformed requests still carry a regular response body.
	if resp.StatusCode >= 400 && !(resp.StatusCode == http.StatusBadRequest && isJSON(resp)) {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				apiErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isJSON(resp *http.Response) bool {
	return resp.Header.Get("Content-Type") == "application/json"
}
