// Package journal keeps a metadata-only record of bridge calls. Keys, proofs,
// tokens and signatures never reach it.
package journal

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Entry 描述一次已交付的调用。
type Entry struct {
	ID              int64  `json:"id"`
	CallID          string `json:"call_id"`
	Method          string `json:"method"`
	Status          string `json:"status"`
	ErrorCode       string `json:"error_code,omitempty"`
	DurationMillis  int64  `json:"duration_ms"`
	ArgumentsDigest string `json:"arguments_digest"`
	CreatedAt       int64  `json:"created_at"`
}

// Recorder 追加调用记录。
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Store 在 Recorder 之上提供查询能力。
type Store interface {
	Recorder
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// DigestNames 计算参数名列表的 Keccak-256 摘要，只覆盖字段名，不含取值。
func DigestNames(names []string) string {
	return crypto.Keccak256Hash([]byte(strings.Join(names, "\x00"))).Hex()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 500 {
		return 500
	}
	return limit
}
