// Package amqprpc serves bridge calls as RabbitMQ RPC: requests arrive on a
// queue and each response is published to the request's ReplyTo with the
// same CorrelationId.
package amqprpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "Mopro-Bridge/internal/errors"
	"Mopro-Bridge/internal/transport"
	"Mopro-Bridge/pkg/logger"
)

// Config 描述 RabbitMQ 通道的连接参数。
type Config struct {
	URL      string
	Queue    string
	Prefetch int
	Durable  bool
	Workers  int
}

// channel 是用到的 amqp.Channel 方法子集。
type channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Server 消费请求队列并回写响应。
type Server struct {
	conn    *amqp.Connection
	ch      channel
	cfg     Config
	invoker transport.Invoker
	logger  *slog.Logger
}

// New 连接 RabbitMQ 并声明请求队列。
func New(cfg Config, invoker transport.Invoker) (*Server, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ URL 不能为空")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "创建 RabbitMQ channel 失败")
	}
	srv, err := newServer(ch, cfg, invoker)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	srv.conn = conn
	return srv, nil
}

func newServer(ch channel, cfg Config, invoker transport.Invoker) (*Server, error) {
	if cfg.Queue == "" {
		cfg.Queue = "mopro.calls"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "设置 RabbitMQ QOS 失败")
		}
	}
	if _, err := ch.QueueDeclare(cfg.Queue, cfg.Durable, false, false, false, nil); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "声明 RabbitMQ 队列失败")
	}
	return &Server{ch: ch, cfg: cfg, invoker: invoker, logger: logger.Named("amqprpc")}, nil
}

// Serve 使用手动确认模式消费请求，直到 ctx 取消或连接关闭。
func (s *Server) Serve(ctx context.Context) error {
	msgs, err := s.ch.Consume(s.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "订阅 RabbitMQ 队列失败")
	}
	s.logger.Info("RabbitMQ 通道已启动", slog.String("queue", s.cfg.Queue), slog.Int("workers", s.cfg.Workers))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	closed := make(chan struct{})
	var once sync.Once

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						once.Do(func() { close(closed) })
						return
					}
					s.handle(ctx, msg)
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-closed:
		err = xerrors.New(xerrors.CodeTransportFailure, "RabbitMQ 投递通道已关闭")
	}
	cancel()
	wg.Wait()
	return err
}

func (s *Server) handle(ctx context.Context, msg amqp.Delivery) {
	if msg.ReplyTo == "" {
		s.logger.Warn("请求缺少 ReplyTo，已丢弃", slog.String("correlation_id", msg.CorrelationId))
		_ = msg.Reject(false)
		return
	}
	// 消息已取出，关闭期间也要执行完并回写。
	ctx = context.WithoutCancel(ctx)
	resp, data := transport.Process(ctx, s.invoker, msg.Body)
	if resp.ID == "" && msg.CorrelationId != "" {
		resp.ID = msg.CorrelationId
		if encoded, err := json.Marshal(resp); err == nil {
			data = encoded
		}
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.ch.PublishWithContext(pubCtx, "", msg.ReplyTo, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: msg.CorrelationId,
		Timestamp:     time.Now(),
		Body:          data,
	})
	if err != nil {
		// 不重新入队：调用已执行过一次。
		s.logger.Error("回写响应失败", slog.String("reply_to", msg.ReplyTo), slog.Any("error", err))
		_ = msg.Nack(false, false)
		return
	}
	_ = msg.Ack(false)
}

// Close 关闭 RabbitMQ 连接。
func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
