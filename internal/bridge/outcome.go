package bridge

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "Mopro-Bridge/internal/errors"
)

const (
	CodeDirError                  xerrors.Code = "DIR_ERROR"
	CodeSignMessageError          xerrors.Code = "SIGN_MESSAGE_ERROR"
	CodeGenerateEphemeralKeyError xerrors.Code = "GENERATE_EPHEMERAL_KEY_ERROR"
	CodeBridgeClosed              xerrors.Code = "BRIDGE_CLOSED"
	CodeBridgeBusy                xerrors.Code = "BRIDGE_BUSY"
)

func init() {
	xerrors.Register(CodeDirError, xerrors.Attributes{
		Message:  "Could not get documents directory",
		Kind:     xerrors.KindEnvironmentFailure,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeSignMessageError, xerrors.Attributes{
		Message:  "Error signing message",
		Kind:     xerrors.KindEngineFailure,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeGenerateEphemeralKeyError, xerrors.Attributes{
		Message:  "Error generating ephemeral key",
		Kind:     xerrors.KindEngineFailure,
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeBridgeClosed, xerrors.Attributes{
		Message:  "bridge is shutting down",
		Kind:     xerrors.KindInfrastructure,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeBridgeBusy, xerrors.Attributes{
		Message:   "bridge worker pool saturated",
		Kind:      xerrors.KindInfrastructure,
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// Status 标识 Outcome 中被填充的分支。
type Status string

const (
	StatusSuccess        Status = "success"
	StatusError          Status = "error"
	StatusNotImplemented Status = "notImplemented"
)

// Failure 是通道级失败，调用方通过独立的错误信号接收。
type Failure struct {
	Code    xerrors.Code `json:"code"`
	Kind    xerrors.Kind `json:"-"`
	Message string       `json:"message"`
	Details string       `json:"details,omitempty"`
}

// Outcome 是一次调用唯一的结果，三个分支恰好填充一个。
type Outcome struct {
	Status  Status
	Result  any
	Failure *Failure
}

// Success 构造成功结果。
func Success(result any) Outcome {
	return Outcome{Status: StatusSuccess, Result: result}
}

// NotImplemented 构造"未实现"结果。
func NotImplemented() Outcome {
	return Outcome{Status: StatusNotImplemented}
}

// FailureOf 将错误转换为通道级失败。
func FailureOf(err error) Outcome {
	e, ok := xerrors.From(err)
	if !ok {
		e = xerrors.Wrap(xerrors.CodeUnknown, err, "")
	}
	return Outcome{Status: StatusError, Failure: &Failure{
		Code:    e.Code(),
		Kind:    e.Kind(),
		Message: e.Message(),
		Details: e.Details(),
	}}
}

// OK 判断是否为成功分支。
func (o Outcome) OK() bool { return o.Status == StatusSuccess }

// Code 返回失败分支的错误码，其他分支返回空串。
func (o Outcome) Code() xerrors.Code {
	if o.Failure == nil {
		return ""
	}
	return o.Failure.Code
}

// ProveJwtResult 是 proveJwt 的结果载荷，失败信息嵌在 Error 字段里。
type ProveJwtResult struct {
	Proof []byte
	Error *string
}

// MarshalJSON 以 0x 十六进制输出证明，失败时 proof 为 null。
func (r ProveJwtResult) MarshalJSON() ([]byte, error) {
	var proof any
	if r.Proof != nil {
		proof = hexutil.Bytes(r.Proof)
	}
	return json.Marshal(struct {
		Proof any     `json:"proof"`
		Error *string `json:"error"`
	}{proof, r.Error})
}

// VerifyJwtProofResult 是 verifyJwtProof 的结果载荷，失败信息嵌在 Error 字段里。
type VerifyJwtProofResult struct {
	IsValid bool    `json:"isValid"`
	Error   *string `json:"error"`
}

func encodeProveJwt(proof []byte, err error) Outcome {
	if err != nil {
		msg := err.Error()
		return Success(ProveJwtResult{Error: &msg})
	}
	if proof == nil {
		proof = []byte{}
	}
	return Success(ProveJwtResult{Proof: proof})
}

func encodeVerifyJwtProof(valid bool, err error) Outcome {
	if err != nil {
		msg := err.Error()
		return Success(VerifyJwtProofResult{IsValid: false, Error: &msg})
	}
	return Success(VerifyJwtProofResult{IsValid: valid})
}

func encodeValue(value string, err error, code xerrors.Code) Outcome {
	if err != nil {
		return FailureOf(xerrors.Wrap(code, err, ""))
	}
	return Success(value)
}
