package proofs

// ProveJwtParams 是 proveJwt 的强类型参数。
type ProveJwtParams struct {
	SrsPath            string
	EphemeralPublicKey string
	EphemeralSalt      string
	EphemeralExpiry    string
	TokenID            string
	JWT                string
	Domain             string
}

// VerifyJwtProofParams 是 verifyJwtProof 的强类型参数。
type VerifyJwtProofParams struct {
	SrsPath                string
	Proof                  []byte
	Domain                 string
	GoogleJwtPubkeyModulus string
	EphemeralPubkey        string
	EphemeralPubkeyExpiry  string
}

// SignMessageParams 是 signMessage 的强类型参数。
type SignMessageParams struct {
	AnonGroupID           string
	Text                  string
	Internal              bool
	EphemeralPublicKey    string
	EphemeralPrivateKey   string
	EphemeralPubkeyExpiry string
}

// Engine 是外部密码学引擎暴露的四个同步函数。
//
// 实现需要自行保证可重入，桥接层不会为调用加锁。返回值对桥接层不透明，
// 只负责搬运。
type Engine interface {
	ProveJwt(params ProveJwtParams) ([]byte, error)
	VerifyJwtProof(params VerifyJwtProofParams) (bool, error)
	SignMessage(params SignMessageParams) (string, error)
	GenerateEphemeralKey() (string, error)
}
