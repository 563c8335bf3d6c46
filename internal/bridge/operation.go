package bridge

import "Mopro-Bridge/internal/proofs"

// Method 是操作名，按名称精确匹配。
type Method string

const (
	MethodGetPlatformVersion               Method = "getPlatformVersion"
	MethodGetApplicationDocumentsDirectory Method = "getApplicationDocumentsDirectory"
	MethodProveJwt                         Method = "proveJwt"
	MethodVerifyJwtProof                   Method = "verifyJwtProof"
	MethodSignMessage                      Method = "signMessage"
	MethodGenerateEphemeralKey             Method = "generateEphemeralKey"
)

// Methods 返回固定注册表中的全部操作。
func Methods() []Method {
	return []Method{
		MethodGetPlatformVersion,
		MethodGetApplicationDocumentsDirectory,
		MethodProveJwt,
		MethodVerifyJwtProof,
		MethodSignMessage,
		MethodGenerateEphemeralKey,
	}
}

// Known 判断操作是否在注册表中。
func (m Method) Known() bool {
	_, ok := schemas[m]
	return ok
}

// Request 是一次调用的原始输入，分发完成后即丢弃。
type Request struct {
	Method    Method
	Arguments map[string]any
}

// Operation 是解码后的强类型操作，只能是本包定义的六种之一。
type Operation interface {
	Method() Method
	sealed()
}

// GetPlatformVersion 查询宿主平台版本。
type GetPlatformVersion struct{}

// GetApplicationDocumentsDirectory 查询应用文档目录。
type GetApplicationDocumentsDirectory struct{}

// ProveJwt 生成 JWT 绑定证明。
type ProveJwt struct{ proofs.ProveJwtParams }

// VerifyJwtProof 校验 JWT 绑定证明。
type VerifyJwtProof struct{ proofs.VerifyJwtProofParams }

// SignMessage 使用临时密钥签名消息。
type SignMessage struct{ proofs.SignMessageParams }

// GenerateEphemeralKey 生成临时密钥。
type GenerateEphemeralKey struct{}

func (GetPlatformVersion) Method() Method { return MethodGetPlatformVersion }
func (GetApplicationDocumentsDirectory) Method() Method {
	return MethodGetApplicationDocumentsDirectory
}
func (ProveJwt) Method() Method             { return MethodProveJwt }
func (VerifyJwtProof) Method() Method       { return MethodVerifyJwtProof }
func (SignMessage) Method() Method          { return MethodSignMessage }
func (GenerateEphemeralKey) Method() Method { return MethodGenerateEphemeralKey }

func (GetPlatformVersion) sealed()               {}
func (GetApplicationDocumentsDirectory) sealed() {}
func (ProveJwt) sealed()                         {}
func (VerifyJwtProof) sealed()                   {}
func (SignMessage) sealed()                      {}
func (GenerateEphemeralKey) sealed()             {}
