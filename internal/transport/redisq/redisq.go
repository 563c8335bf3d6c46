// Package redisq serves bridge calls from a Redis list and pushes each
// response to a per-request reply key.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "Mopro-Bridge/internal/errors"
	"Mopro-Bridge/internal/transport"
	"Mopro-Bridge/pkg/logger"
)

// Config 描述 Redis 通道的连接参数。
type Config struct {
	Address      string
	Password     string
	DB           int
	RequestQueue string
	ReplyPrefix  string
	ReplyTTL     time.Duration
	BlockTimeout time.Duration
	Consumers    int
}

// commands 是用到的 Redis 命令子集，*redis.Client 满足该接口。
type commands interface {
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// Server 通过 BRPOP 获取请求，并把响应 LPUSH 到 <ReplyPrefix>:<id>。
type Server struct {
	client  commands
	cfg     Config
	invoker transport.Invoker
	logger  *slog.Logger
}

// New 连接 Redis 并创建服务实例。
func New(cfg Config, invoker transport.Invoker) (*Server, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "连接 Redis 失败")
	}
	return newServer(client, cfg, invoker), nil
}

func newServer(client commands, cfg Config, invoker transport.Invoker) *Server {
	if cfg.RequestQueue == "" {
		cfg.RequestQueue = "mopro:calls"
	}
	if cfg.ReplyPrefix == "" {
		cfg.ReplyPrefix = "mopro:replies"
	}
	if cfg.ReplyTTL <= 0 {
		cfg.ReplyTTL = 5 * time.Minute
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.Consumers <= 0 {
		cfg.Consumers = 4
	}
	return &Server{client: client, cfg: cfg, invoker: invoker, logger: logger.Named("redisq")}
}

// ReplyKey 返回请求 id 对应的响应键。
func ReplyKey(prefix, id string) string {
	return prefix + ":" + id
}

// Serve 启动消费者，直到 ctx 取消或 Redis 返回不可恢复的错误。
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, s.cfg.Consumers)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.consume(ctx); err != nil {
				errCh <- err
			}
		}()
	}
	s.logger.Info("Redis 通道已启动", slog.String("queue", s.cfg.RequestQueue), slog.Int("consumers", s.cfg.Consumers))

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}
	cancel()
	wg.Wait()
	return err
}

func (s *Server) consume(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		values, err := s.client.BRPop(ctx, s.cfg.BlockTimeout, s.cfg.RequestQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return xerrors.Wrap(xerrors.CodeTransportFailure, err, "Redis 取请求失败")
		}
		if len(values) != 2 {
			continue
		}
		s.handle(ctx, []byte(values[1]))
	}
}

func (s *Server) handle(ctx context.Context, payload []byte) {
	// 请求已出队，关闭期间也要执行完并回写。
	ctx = context.WithoutCancel(ctx)
	resp, data := transport.Process(ctx, s.invoker, payload)
	if resp.ID == "" {
		s.logger.Warn("请求缺少 id，无法回写响应", slog.String("status", string(resp.Status)))
		return
	}
	key := ReplyKey(s.cfg.ReplyPrefix, resp.ID)
	replyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.LPush(replyCtx, key, data).Err(); err != nil {
		s.logger.Error("回写响应失败", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := s.client.Expire(replyCtx, key, s.cfg.ReplyTTL).Err(); err != nil {
		s.logger.Warn("设置响应过期时间失败", slog.String("key", key), slog.Any("error", err))
	}
}

// Call 作为客户端投递一条请求并等待响应，供命令行工具和集成测试使用。
func (s *Server) Call(ctx context.Context, env transport.Envelope, timeout time.Duration) (transport.Response, error) {
	if env.ID == "" {
		return transport.Response{}, xerrors.New(CodeMissingID, "")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return transport.Response{}, err
	}
	if err := s.client.LPush(ctx, s.cfg.RequestQueue, payload).Err(); err != nil {
		return transport.Response{}, xerrors.Wrap(xerrors.CodeTransportFailure, err, "Redis 发布请求失败")
	}
	values, err := s.client.BRPop(ctx, timeout, ReplyKey(s.cfg.ReplyPrefix, env.ID)).Result()
	if err != nil {
		return transport.Response{}, xerrors.Wrap(xerrors.CodeTransportFailure, err, fmt.Sprintf("等待响应 %s 失败", env.ID))
	}
	var resp transport.Response
	if len(values) != 2 {
		return resp, xerrors.New(xerrors.CodeTransportFailure, "unexpected BRPOP reply")
	}
	if err := json.Unmarshal([]byte(values[1]), &resp); err != nil {
		return resp, xerrors.Wrap(xerrors.CodeTransportFailure, err, "解析响应失败")
	}
	return resp, nil
}

// Close 关闭 Redis 连接。
func (s *Server) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// CodeMissingID 表示客户端调用未提供请求 id。
const CodeMissingID xerrors.Code = "MISSING_REQUEST_ID"

func init() {
	xerrors.Register(CodeMissingID, xerrors.Attributes{
		Message:  "request id is required for queued calls",
		Kind:     xerrors.KindInvalidArguments,
		Severity: xerrors.SeverityInfo,
	})
}
