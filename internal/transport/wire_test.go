package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"Mopro-Bridge/internal/bridge"
	xerrors "Mopro-Bridge/internal/errors"
)

type stubInvoker struct {
	last    bridge.Request
	outcome bridge.Outcome
	err     error
}

func (s *stubInvoker) Invoke(_ context.Context, req bridge.Request) (bridge.Outcome, error) {
	s.last = req
	return s.outcome, s.err
}

func TestDecodeArgumentsRestoresBytes(t *testing.T) {
	args, err := DecodeArguments(json.RawMessage(`{"proof":{"$bytes":"0x010203"},"domain":"example.com","internal":true,"n":3}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	proof, ok := args["proof"].([]byte)
	if !ok || !bytes.Equal(proof, []byte{1, 2, 3}) {
		t.Fatalf("expected proof bytes, got %#v", args["proof"])
	}
	if args["domain"] != "example.com" || args["internal"] != true {
		t.Fatalf("unexpected scalar values: %#v", args)
	}
	if _, ok := args["n"].(json.Number); !ok {
		t.Fatalf("numbers should stay json.Number, got %T", args["n"])
	}
}

func TestDecodeArgumentsKeepsBadHexRaw(t *testing.T) {
	for _, hex := range []string{"zz", "0x1", "0xzz"} {
		args, err := DecodeArguments(json.RawMessage(`{"proof":{"$bytes":"` + hex + `"}}`))
		if err != nil {
			t.Fatalf("%s: undecodable bytes should not fail the envelope: %v", hex, err)
		}
		raw, ok := args["proof"].(map[string]any)
		if !ok || raw[BytesKey] != hex {
			t.Fatalf("%s: expected raw value, got %#v", hex, args["proof"])
		}
	}
	if _, err := DecodeArguments(json.RawMessage(`"oops"`)); xerrors.CodeOf(err) != CodeMalformedMessage {
		t.Fatalf("non-object arguments should be malformed, got %v", err)
	}
	if args, err := DecodeArguments(json.RawMessage(`null`)); err != nil || args != nil {
		t.Fatalf("null arguments should decode to nil map: %v %v", args, err)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	data, err := json.Marshal(map[string]any{"proof": Bytes{0x0a, 0x0b}})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"proof":{"$bytes":"0x0a0b"}}` {
		t.Fatalf("unexpected encoding: %s", data)
	}
	args, err := DecodeArguments(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(args["proof"].([]byte), []byte{0x0a, 0x0b}) {
		t.Fatalf("unexpected round trip: %#v", args)
	}
}

func TestProcessEncodesOutcome(t *testing.T) {
	msg := "token expired"
	inv := &stubInvoker{outcome: bridge.Success(bridge.ProveJwtResult{Error: &msg})}
	resp, data := Process(context.Background(), inv, []byte(`{"id":"r-1","method":"proveJwt","arguments":{"jwt":"x"}}`))

	if resp.ID != "r-1" || resp.Status != bridge.StatusSuccess {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if inv.last.Method != bridge.MethodProveJwt || inv.last.Arguments["jwt"] != "x" {
		t.Fatalf("unexpected request: %+v", inv.last)
	}
	want := `{"id":"r-1","status":"success","result":{"proof":null,"error":"token expired"}}`
	if string(data) != want {
		t.Fatalf("unexpected payload:\n got %s\nwant %s", data, want)
	}
}

func TestProcessMalformedAndInvokeErrors(t *testing.T) {
	inv := &stubInvoker{}
	resp, _ := Process(context.Background(), inv, []byte(`not json`))
	if resp.Status != bridge.StatusError || resp.Error.Code != CodeMalformedMessage {
		t.Fatalf("expected malformed response, got %+v", resp)
	}

	resp, _ = Process(context.Background(), inv, []byte(`{"id":"r-2"}`))
	if resp.ID != "r-2" || resp.Error == nil || !strings.Contains(resp.Error.Message, "method") {
		t.Fatalf("expected missing method failure, got %+v", resp)
	}

	inv.err = errors.New("context deadline exceeded")
	resp, _ = Process(context.Background(), inv, []byte(`{"id":"r-3","method":"getPlatformVersion"}`))
	if resp.Error == nil || resp.Error.Code != xerrors.CodeTransportFailure {
		t.Fatalf("expected transport failure, got %+v", resp)
	}
}

func TestNotImplementedResponseHasNoResult(t *testing.T) {
	data, err := json.Marshal(NewResponse("r-4", bridge.NotImplemented()))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"id":"r-4","status":"notImplemented"}` {
		t.Fatalf("unexpected payload: %s", data)
	}
}
