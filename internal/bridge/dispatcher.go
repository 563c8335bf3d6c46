package bridge

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	xerrors "Mopro-Bridge/internal/errors"
	"Mopro-Bridge/internal/journal"
	"Mopro-Bridge/internal/observability/alerting"
	"Mopro-Bridge/internal/proofs"
	"Mopro-Bridge/pkg/logger"
)

// State 是单次调用在分发器中的阶段，只能向前推进。
type State int32

const (
	StateIdle State = iota
	StateDecoding
	StateExecuting
	StateEncoding
	StateDelivered
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDecoding:
		return "decoding"
	case StateExecuting:
		return "executing"
	case StateEncoding:
		return "encoding"
	case StateDelivered:
		return "delivered"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Call 是单次调用的分发上下文，把请求和最终接收结果的回调绑定在一起。
type Call struct {
	ID      string
	Request Request

	state   atomic.Int32
	started time.Time
	once    sync.Once
	sink    func(Outcome)
}

func newCall(req Request, sink func(Outcome)) *Call {
	return &Call{
		ID:      uuid.NewString(),
		Request: req,
		started: time.Now(),
		sink:    sink,
	}
}

// State 返回当前阶段。
func (c *Call) State() State { return State(c.state.Load()) }

func (c *Call) advance(to State) {
	for {
		cur := c.state.Load()
		if int32(to) <= cur {
			return
		}
		if c.state.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}

// deliver 保证每次调用只交付一次结果。
func (c *Call) deliver(outcome Outcome) bool {
	delivered := false
	c.once.Do(func() {
		c.advance(StateDelivered)
		delivered = true
		if c.sink != nil {
			c.sink(outcome)
		}
	})
	return delivered
}

// Observer 接收分发过程的指标事件。
type Observer interface {
	CallStarted(method string)
	CallFinished(method, status, code string, elapsed time.Duration)
}

// Dispatcher 把操作名映射到解码、引擎调用和结果编码。
type Dispatcher struct {
	engine   proofs.Engine
	platform Platform
	observer Observer
	journal  journal.Recorder
	alerter  alerting.Dispatcher
	logger   *slog.Logger
}

// DispatcherOption 定义可选配置。
type DispatcherOption func(*Dispatcher)

// WithObserver 配置指标观察者。
func WithObserver(observer Observer) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = observer
	}
}

// WithJournal 配置调用日志。
func WithJournal(recorder journal.Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.journal = recorder
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) DispatcherOption {
	return func(d *Dispatcher) {
		d.alerter = dispatcher
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// NewDispatcher 构造分发器。platform 为空时使用 HostPlatform。
func NewDispatcher(engine proofs.Engine, platform Platform, opts ...DispatcherOption) *Dispatcher {
	if platform == nil {
		platform = HostPlatform{}
	}
	d := &Dispatcher{engine: engine, platform: platform}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.logger == nil {
		d.logger = logger.Named("dispatcher")
	}
	return d
}

var errEngineMissing = stdErrors.New("crypto engine not configured")

// Dispatch 在当前协程内同步完成一次调用并返回结果，不负责交付。
func (d *Dispatcher) Dispatch(ctx context.Context, call *Call) Outcome {
	method := string(call.Request.Method)
	if d.observer != nil {
		d.observer.CallStarted(method)
	}
	outcome := d.route(call)
	d.finish(ctx, call, outcome)
	return outcome
}

func (d *Dispatcher) route(call *Call) Outcome {
	call.advance(StateDecoding)
	op, err := Decode(call.Request)
	if err != nil {
		call.advance(StateEncoding)
		if stdErrors.Is(err, ErrNotImplemented) {
			return NotImplemented()
		}
		return FailureOf(err)
	}

	call.advance(StateExecuting)
	switch o := op.(type) {
	case GetPlatformVersion:
		version := d.platform.Version()
		call.advance(StateEncoding)
		return Success(version)
	case GetApplicationDocumentsDirectory:
		dir, err := d.platform.DocumentsDir()
		call.advance(StateEncoding)
		if err != nil {
			return FailureOf(xerrors.Wrap(CodeDirError, err, ""))
		}
		return Success(dir)
	case ProveJwt:
		proof, err := guard(d.engine, func(e proofs.Engine) ([]byte, error) {
			return e.ProveJwt(o.ProveJwtParams)
		})
		call.advance(StateEncoding)
		return encodeProveJwt(proof, err)
	case VerifyJwtProof:
		valid, err := guard(d.engine, func(e proofs.Engine) (bool, error) {
			return e.VerifyJwtProof(o.VerifyJwtProofParams)
		})
		call.advance(StateEncoding)
		return encodeVerifyJwtProof(valid, err)
	case SignMessage:
		signed, err := guard(d.engine, func(e proofs.Engine) (string, error) {
			return e.SignMessage(o.SignMessageParams)
		})
		call.advance(StateEncoding)
		return encodeValue(signed, err, CodeSignMessageError)
	case GenerateEphemeralKey:
		key, err := guard(d.engine, func(e proofs.Engine) (string, error) {
			return e.GenerateEphemeralKey()
		})
		call.advance(StateEncoding)
		return encodeValue(key, err, CodeGenerateEphemeralKeyError)
	}
	call.advance(StateEncoding)
	return NotImplemented()
}

// guard 调用引擎函数，把 panic 转成普通错误。
func guard[T any](engine proofs.Engine, fn func(proofs.Engine) (T, error)) (value T, err error) {
	if engine == nil {
		return value, errEngineMissing
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return fn(engine)
}

// Reject 为未能进入工作池的调用生成失败结果，并照常记录。
func (d *Dispatcher) Reject(ctx context.Context, call *Call, cause error) Outcome {
	code := CodeBridgeBusy
	if stdErrors.Is(cause, ErrPoolClosed) {
		code = CodeBridgeClosed
	}
	outcome := FailureOf(xerrors.Wrap(code, cause, ""))
	if d.observer != nil {
		d.observer.CallStarted(string(call.Request.Method))
	}
	d.finish(ctx, call, outcome)
	return outcome
}

func (d *Dispatcher) finish(ctx context.Context, call *Call, outcome Outcome) {
	elapsed := time.Since(call.started)
	method := string(call.Request.Method)
	code := string(outcome.Code())

	if d.observer != nil {
		d.observer.CallFinished(method, string(outcome.Status), code, elapsed)
	}

	attrs := []any{
		slog.String("call_id", call.ID),
		slog.String("method", method),
		slog.String("status", string(outcome.Status)),
		slog.Duration("elapsed", elapsed),
	}
	if outcome.Failure != nil {
		attrs = append(attrs,
			slog.String("error_code", code),
			slog.String("details", outcome.Failure.Details))
		logger.Audit().Warn("调用失败", attrs...)
	} else {
		logger.Audit().Info("调用完成", attrs...)
	}

	if d.journal != nil {
		entry := journal.Entry{
			CallID:          call.ID,
			Method:          method,
			Status:          string(outcome.Status),
			ErrorCode:       code,
			DurationMillis:  elapsed.Milliseconds(),
			ArgumentsDigest: journal.DigestNames(slices.Sorted(maps.Keys(call.Request.Arguments))),
			CreatedAt:       call.started.Unix(),
		}
		if err := d.journal.Record(ctx, entry); err != nil {
			d.logger.Error("写入调用日志失败", slog.Any("error", err), slog.String("call_id", call.ID))
		}
	}

	if outcome.Failure != nil && xerrors.AttributesOf(outcome.Failure.Code).Alert {
		d.emitAlert(ctx, call, outcome.Failure)
	}
}

func (d *Dispatcher) emitAlert(ctx context.Context, call *Call, failure *Failure) {
	if d.alerter == nil {
		return
	}
	event := alerting.Event{
		Code:       failure.Code,
		Message:    failure.Message,
		Severity:   xerrors.AttributesOf(failure.Code).Severity,
		CallID:     call.ID,
		Method:     string(call.Request.Method),
		Metadata:   map[string]string{"details": failure.Details},
		OccurredAt: time.Now(),
	}
	if err := d.alerter.Notify(ctx, event); err != nil {
		d.logger.Error("告警通知失败", slog.Any("error", err), slog.String("call_id", call.ID))
	}
}
