package bridge

import (
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"Mopro-Bridge/pkg/logger"
)

var (
	// ErrPoolClosed 表示工作池已经停止接收任务。
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrPoolFull 表示等待队列已满，任务未被接收。
	ErrPoolFull = errors.New("worker pool queue full")
)

// Pool 是所有调用共享的全局工作池。
type Pool struct {
	jobs   chan func()
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool 启动 workers 个工作协程，queueSize 为等待队列长度。
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	p := &Pool{jobs: make(chan func(), queueSize)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		run(job)
	}
}

// run 隔离单个任务的 panic，避免拖垮整个工作协程。
func run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("工作池任务异常退出",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// Submit 将任务交给工作池，从不阻塞调用方。队列已满时返回 ErrPoolFull。
func (p *Pool) Submit(job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrPoolFull
	}
}

// Pending 返回等待执行的任务数。
func (p *Pool) Pending() int { return len(p.jobs) }

// Close 停止接收新任务，并等待已入队的任务执行完毕。
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Poster 把回调投递到调用方所在的执行上下文。
type Poster interface {
	Post(fn func())
}

// Loop 是串行执行回调的事件循环，对应平台上的主线程。
//
// 投递箱没有上限，Post 永远不会阻塞工作协程，回调里再次发起调用也不会卡住循环。
type Loop struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewLoop 创建并启动事件循环。size 只是投递箱的初始容量。
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = 64
	}
	l := &Loop{
		pending: make([]func(), 0, size),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go l.drain()
	return l
}

func (l *Loop) drain() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			run(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.wake
	}
}

// Post 投递回调。循环关闭后回调在当前协程直接执行，保证结果不会丢失。
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		run(fn)
		return
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Close 停止事件循环，等待已投递的回调执行完毕。
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
	<-l.done
}
