package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"Mopro-Bridge/internal/proofs"
)

// Engine 通过调用外部引擎可执行文件完成证明与签名。
//
// 每次调用启动一个进程：子命令为操作名，请求以 JSON 写入 stdin，
// 结果从 stdout 读取。二进制字段统一使用 0x 十六进制编码。
type Engine struct {
	executable string
	workingDir string
	env        []string
	baseCtx    context.Context
}

// Option 定义可选配置。
type Option func(*Engine)

// WithWorkingDir 指定子进程的工作目录。
func WithWorkingDir(dir string) Option {
	return func(e *Engine) {
		e.workingDir = dir
	}
}

// WithEnv 追加子进程环境变量，格式为 KEY=VALUE。
func WithEnv(env ...string) Option {
	return func(e *Engine) {
		e.env = append(e.env, env...)
	}
}

// WithBaseContext 绑定进程生命周期，守护进程退出时正在运行的子进程会被终止。
func WithBaseContext(ctx context.Context) Option {
	return func(e *Engine) {
		if ctx != nil {
			e.baseCtx = ctx
		}
	}
}

// New 创建子进程引擎。
func New(executable string, opts ...Option) (*Engine, error) {
	if strings.TrimSpace(executable) == "" {
		return nil, errors.New("未指定引擎可执行文件")
	}
	e := &Engine{executable: executable, baseCtx: context.Background()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

type reply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// ProveJwt 生成 JWT 证明。
func (e *Engine) ProveJwt(p proofs.ProveJwtParams) ([]byte, error) {
	var proof hexutil.Bytes
	err := e.invoke("prove-jwt", map[string]any{
		"srs_path":             p.SrsPath,
		"ephemeral_public_key": p.EphemeralPublicKey,
		"ephemeral_salt":       p.EphemeralSalt,
		"ephemeral_expiry":     p.EphemeralExpiry,
		"token_id":             p.TokenID,
		"jwt":                  p.JWT,
		"domain":               p.Domain,
	}, &proof)
	if err != nil {
		return nil, err
	}
	return proof, nil
}

// VerifyJwtProof 校验 JWT 证明。
func (e *Engine) VerifyJwtProof(p proofs.VerifyJwtProofParams) (bool, error) {
	var valid bool
	err := e.invoke("verify-jwt-proof", map[string]any{
		"srs_path":                  p.SrsPath,
		"proof":                     hexutil.Bytes(p.Proof),
		"domain":                    p.Domain,
		"google_jwt_pubkey_modulus": p.GoogleJwtPubkeyModulus,
		"ephemeral_pubkey":          p.EphemeralPubkey,
		"ephemeral_pubkey_expiry":   p.EphemeralPubkeyExpiry,
	}, &valid)
	return valid, err
}

// SignMessage 使用临时密钥对消息签名。
func (e *Engine) SignMessage(p proofs.SignMessageParams) (string, error) {
	var signed string
	err := e.invoke("sign-message", map[string]any{
		"anon_group_id":           p.AnonGroupID,
		"text":                    p.Text,
		"internal":                p.Internal,
		"ephemeral_public_key":    p.EphemeralPublicKey,
		"ephemeral_private_key":   p.EphemeralPrivateKey,
		"ephemeral_pubkey_expiry": p.EphemeralPubkeyExpiry,
	}, &signed)
	return signed, err
}

// GenerateEphemeralKey 生成一组临时密钥。
func (e *Engine) GenerateEphemeralKey() (string, error) {
	var key string
	err := e.invoke("generate-ephemeral-key", map[string]any{}, &key)
	return key, err
}

func (e *Engine) invoke(command string, payload map[string]any, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化引擎请求失败: %w", err)
	}

	cmd := exec.CommandContext(e.baseCtx, e.executable, command)
	if e.workingDir != "" {
		cmd.Dir = e.workingDir
	}
	if len(e.env) > 0 {
		cmd.Env = append(cmd.Environ(), e.env...)
	}
	cmd.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %s", command, msg)
		}
		return fmt.Errorf("执行引擎命令 %s 失败: %w", command, err)
	}

	var resp reply
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return fmt.Errorf("解析引擎输出失败: %w", err)
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	if len(resp.Result) == 0 {
		return fmt.Errorf("引擎命令 %s 未返回结果", command)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("解析引擎结果失败: %w", err)
	}
	return nil
}

// ResolveExecutable 根据配置目录推导可执行文件的绝对路径。
func ResolveExecutable(baseDir, executable string) string {
	if executable == "" {
		return ""
	}
	if filepath.IsAbs(executable) || !strings.ContainsRune(executable, filepath.Separator) {
		return executable
	}
	if baseDir == "" {
		return executable
	}
	return filepath.Join(baseDir, executable)
}
