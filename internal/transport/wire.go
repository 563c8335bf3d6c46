package transport

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"Mopro-Bridge/internal/bridge"
	xerrors "Mopro-Bridge/internal/errors"
)

// BytesKey 标记 JSON 中的二进制参数：{"$bytes": "0x..."}。
const BytesKey = "$bytes"

// CodeMalformedMessage 表示消息本身无法解析，调用没有进入桥接层。
const CodeMalformedMessage xerrors.Code = "MALFORMED_MESSAGE"

func init() {
	xerrors.Register(CodeMalformedMessage, xerrors.Attributes{
		Message:  "malformed request envelope",
		Kind:     xerrors.KindInvalidArguments,
		Severity: xerrors.SeverityInfo,
	})
}

// Envelope 是一条调用请求。
type Envelope struct {
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Response 是一条调用响应，每个 Envelope 恰好对应一个。
type Response struct {
	ID     string          `json:"id"`
	Status bridge.Status   `json:"status"`
	Result any             `json:"result,omitempty"`
	Error  *bridge.Failure `json:"error,omitempty"`
}

// Invoker 是传输层依赖的桥接入口，*bridge.Bridge 满足该接口。
type Invoker interface {
	Invoke(ctx context.Context, req bridge.Request) (bridge.Outcome, error)
}

// DecodeEnvelope 解析完整的请求信封。
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, xerrors.Wrap(CodeMalformedMessage, err, "")
	}
	if env.Method == "" {
		return env, xerrors.New(CodeMalformedMessage, "method is required")
	}
	return env, nil
}

// Request 将信封转换为桥接请求。
func (e Envelope) Request() (bridge.Request, error) {
	args, err := DecodeArguments(e.Arguments)
	if err != nil {
		return bridge.Request{}, err
	}
	return bridge.Request{Method: bridge.Method(e.Method), Arguments: args}, nil
}

// DecodeArguments 解析参数对象。null 或空输入得到 nil map，
// {"$bytes": "0x.."} 被还原为 []byte，其余取值保持 JSON 的原始类型。
// 十六进制无效的 $bytes 原样保留，由各方法的参数校验报告 INVALID_ARGUMENTS。
func DecodeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return nil, xerrors.Wrap(CodeMalformedMessage, err, "arguments must be a JSON object")
	}
	for k, v := range values {
		values[k] = convert(v)
	}
	return values, nil
}

func convert(v any) any {
	obj, ok := v.(map[string]any)
	if !ok || len(obj) != 1 {
		return v
	}
	hex, ok := obj[BytesKey].(string)
	if !ok {
		return v
	}
	b, err := hexutil.Decode(hex)
	if err != nil {
		return v
	}
	return b
}

// Bytes 以 {"$bytes": "0x.."} 的形式编码二进制参数。
type Bytes []byte

// MarshalJSON 实现 json.Marshaler。
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]hexutil.Bytes{BytesKey: hexutil.Bytes(b)})
}

// NewResponse 将 Outcome 转换为线上响应。
func NewResponse(id string, outcome bridge.Outcome) Response {
	return Response{ID: id, Status: outcome.Status, Result: outcome.Result, Error: outcome.Failure}
}

// Malformed 为无法解析的消息构造失败响应。
func Malformed(id string, err error) Response {
	e, ok := xerrors.From(err)
	if !ok {
		e = xerrors.Wrap(CodeMalformedMessage, err, "")
	}
	return NewResponse(id, bridge.FailureOf(e))
}

// Process 处理一条原始消息并返回编码后的响应，供消息队列类传输复用。
func Process(ctx context.Context, invoker Invoker, payload []byte) (Response, []byte) {
	resp := handle(ctx, invoker, payload)
	data, err := json.Marshal(resp)
	if err != nil {
		resp = NewResponse(resp.ID, bridge.FailureOf(xerrors.Wrap(xerrors.CodeTransportFailure, err, "encode response")))
		data, _ = json.Marshal(resp)
	}
	return resp, data
}

func handle(ctx context.Context, invoker Invoker, payload []byte) Response {
	env, err := DecodeEnvelope(payload)
	if err != nil {
		return Malformed(env.ID, err)
	}
	req, err := env.Request()
	if err != nil {
		return Malformed(env.ID, err)
	}
	outcome, err := invoker.Invoke(ctx, req)
	if err != nil {
		return NewResponse(env.ID, bridge.FailureOf(xerrors.Wrap(xerrors.CodeTransportFailure, err, "")))
	}
	return NewResponse(env.ID, outcome)
}
