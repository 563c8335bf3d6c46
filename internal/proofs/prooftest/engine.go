// Package prooftest provides a scripted in-memory engine for tests.
package prooftest

import (
	"sync"
	"sync/atomic"
	"time"

	"Mopro-Bridge/internal/proofs"
)

// Engine 是可编程的假引擎，记录每个函数被调用的次数。
type Engine struct {
	ProveFunc    func(proofs.ProveJwtParams) ([]byte, error)
	VerifyFunc   func(proofs.VerifyJwtProofParams) (bool, error)
	SignFunc     func(proofs.SignMessageParams) (string, error)
	GenerateFunc func() (string, error)

	// Latency 模拟耗时的证明计算。
	Latency time.Duration

	proveCalls    atomic.Int32
	verifyCalls   atomic.Int32
	signCalls     atomic.Int32
	generateCalls atomic.Int32

	mu         sync.Mutex
	lastProve  *proofs.ProveJwtParams
	lastVerify *proofs.VerifyJwtProofParams
	lastSign   *proofs.SignMessageParams
}

var _ proofs.Engine = (*Engine)(nil)

func (e *Engine) sleep() {
	if e.Latency > 0 {
		time.Sleep(e.Latency)
	}
}

// ProveJwt 实现 proofs.Engine。
func (e *Engine) ProveJwt(p proofs.ProveJwtParams) ([]byte, error) {
	e.proveCalls.Add(1)
	e.mu.Lock()
	e.lastProve = &p
	e.mu.Unlock()
	e.sleep()
	if e.ProveFunc != nil {
		return e.ProveFunc(p)
	}
	return []byte{1, 2, 3}, nil
}

// VerifyJwtProof 实现 proofs.Engine。
func (e *Engine) VerifyJwtProof(p proofs.VerifyJwtProofParams) (bool, error) {
	e.verifyCalls.Add(1)
	e.mu.Lock()
	e.lastVerify = &p
	e.mu.Unlock()
	e.sleep()
	if e.VerifyFunc != nil {
		return e.VerifyFunc(p)
	}
	return true, nil
}

// SignMessage 实现 proofs.Engine。
func (e *Engine) SignMessage(p proofs.SignMessageParams) (string, error) {
	e.signCalls.Add(1)
	e.mu.Lock()
	e.lastSign = &p
	e.mu.Unlock()
	e.sleep()
	if e.SignFunc != nil {
		return e.SignFunc(p)
	}
	return `{"signature":"fake"}`, nil
}

// GenerateEphemeralKey 实现 proofs.Engine。
func (e *Engine) GenerateEphemeralKey() (string, error) {
	n := e.generateCalls.Add(1)
	e.sleep()
	if e.GenerateFunc != nil {
		return e.GenerateFunc()
	}
	return "ephemeral-key-" + string(rune('0'+n%10)), nil
}

// Calls 返回所有函数被调用的总次数。
func (e *Engine) Calls() int {
	return int(e.proveCalls.Load() + e.verifyCalls.Load() + e.signCalls.Load() + e.generateCalls.Load())
}

// ProveCalls 返回 ProveJwt 的调用次数。
func (e *Engine) ProveCalls() int { return int(e.proveCalls.Load()) }

// VerifyCalls 返回 VerifyJwtProof 的调用次数。
func (e *Engine) VerifyCalls() int { return int(e.verifyCalls.Load()) }

// SignCalls 返回 SignMessage 的调用次数。
func (e *Engine) SignCalls() int { return int(e.signCalls.Load()) }

// GenerateCalls 返回 GenerateEphemeralKey 的调用次数。
func (e *Engine) GenerateCalls() int { return int(e.generateCalls.Load()) }

// LastProve 返回最近一次 ProveJwt 的参数。
func (e *Engine) LastProve() *proofs.ProveJwtParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastProve
}

// LastVerify 返回最近一次 VerifyJwtProof 的参数。
func (e *Engine) LastVerify() *proofs.VerifyJwtProofParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastVerify
}

// LastSign 返回最近一次 SignMessage 的参数。
func (e *Engine) LastSign() *proofs.SignMessageParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSign
}
