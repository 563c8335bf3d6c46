package bridge

import (
	stdErrors "errors"
	"slices"
	"strings"

	xerrors "Mopro-Bridge/internal/errors"
	"Mopro-Bridge/internal/proofs"
)

// FieldType 是参数字段要求的原始类型。
type FieldType int

const (
	FieldString FieldType = iota
	FieldBool
	FieldBytes
)

func (t FieldType) String() string {
	switch t {
	case FieldString:
		return "string"
	case FieldBool:
		return "bool"
	case FieldBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Field 描述一个必填参数。
type Field struct {
	Name string
	Type FieldType
}

var schemas = map[Method][]Field{
	MethodGetPlatformVersion:               nil,
	MethodGetApplicationDocumentsDirectory: nil,
	MethodGenerateEphemeralKey:             nil,
	MethodProveJwt: {
		{"srsPath", FieldString},
		{"ephemeralPublicKey", FieldString},
		{"ephemeralSalt", FieldString},
		{"ephemeralExpiry", FieldString},
		{"tokenId", FieldString},
		{"jwt", FieldString},
		{"domain", FieldString},
	},
	MethodVerifyJwtProof: {
		{"srsPath", FieldString},
		{"proof", FieldBytes},
		{"domain", FieldString},
		{"googleJwtPubkeyModulus", FieldString},
		{"ephemeralPubkey", FieldString},
		{"ephemeralPubkeyExpiry", FieldString},
	},
	MethodSignMessage: {
		{"anonGroupId", FieldString},
		{"text", FieldString},
		{"internal", FieldBool},
		{"ephemeralPublicKey", FieldString},
		{"ephemeralPrivateKey", FieldString},
		{"ephemeralPubkeyExpiry", FieldString},
	},
}

// ErrNotImplemented 表示操作名不在注册表中。它不属于失败分类。
var ErrNotImplemented = stdErrors.New("method not implemented")

// Schema 返回操作的必填字段列表，未知操作返回 nil, false。
func Schema(method Method) ([]Field, bool) {
	fields, ok := schemas[method]
	if !ok {
		return nil, false
	}
	return append([]Field(nil), fields...), true
}

// Decode 按操作的字段表校验参数并构造强类型操作。
//
// 校验只看字段是否存在以及原始类型是否匹配，类型不符与缺失同样处理。
func Decode(req Request) (Operation, error) {
	if !req.Method.Known() {
		return nil, ErrNotImplemented
	}
	fields := schemas[req.Method]
	args := arguments{values: req.Arguments}
	if len(fields) > 0 {
		if req.Arguments == nil || !args.conforms(fields) {
			return nil, invalidArguments(fields)
		}
	}

	switch req.Method {
	case MethodGetPlatformVersion:
		return GetPlatformVersion{}, nil
	case MethodGetApplicationDocumentsDirectory:
		return GetApplicationDocumentsDirectory{}, nil
	case MethodGenerateEphemeralKey:
		return GenerateEphemeralKey{}, nil
	case MethodProveJwt:
		return ProveJwt{proofs.ProveJwtParams{
			SrsPath:            args.str("srsPath"),
			EphemeralPublicKey: args.str("ephemeralPublicKey"),
			EphemeralSalt:      args.str("ephemeralSalt"),
			EphemeralExpiry:    args.str("ephemeralExpiry"),
			TokenID:            args.str("tokenId"),
			JWT:                args.str("jwt"),
			Domain:             args.str("domain"),
		}}, nil
	case MethodVerifyJwtProof:
		return VerifyJwtProof{proofs.VerifyJwtProofParams{
			SrsPath:                args.str("srsPath"),
			Proof:                  args.bytes("proof"),
			Domain:                 args.str("domain"),
			GoogleJwtPubkeyModulus: args.str("googleJwtPubkeyModulus"),
			EphemeralPubkey:        args.str("ephemeralPubkey"),
			EphemeralPubkeyExpiry:  args.str("ephemeralPubkeyExpiry"),
		}}, nil
	case MethodSignMessage:
		return SignMessage{proofs.SignMessageParams{
			AnonGroupID:           args.str("anonGroupId"),
			Text:                  args.str("text"),
			Internal:              args.boolean("internal"),
			EphemeralPublicKey:    args.str("ephemeralPublicKey"),
			EphemeralPrivateKey:   args.str("ephemeralPrivateKey"),
			EphemeralPubkeyExpiry: args.str("ephemeralPubkeyExpiry"),
		}}, nil
	}
	return nil, ErrNotImplemented
}

func invalidArguments(fields []Field) *xerrors.Error {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return xerrors.New(xerrors.CodeInvalidArguments,
		strings.Join(names, ", ")+" are null or invalid format")
}

type arguments struct {
	values map[string]any
}

func (a arguments) conforms(fields []Field) bool {
	for _, f := range fields {
		v, ok := a.values[f.Name]
		if !ok || v == nil {
			return false
		}
		switch f.Type {
		case FieldString:
			if _, ok := v.(string); !ok {
				return false
			}
		case FieldBool:
			if _, ok := v.(bool); !ok {
				return false
			}
		case FieldBytes:
			if b, ok := v.([]byte); !ok || b == nil {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// 以下访问器只在 conforms 通过后调用。
func (a arguments) str(name string) string   { return a.values[name].(string) }
func (a arguments) boolean(name string) bool { return a.values[name].(bool) }
func (a arguments) bytes(name string) []byte { return slices.Clone(a.values[name].([]byte)) }
