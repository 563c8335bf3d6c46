package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"Mopro-Bridge/internal/bridge"
	xerrors "Mopro-Bridge/internal/errors"
	"Mopro-Bridge/internal/journal"
	"Mopro-Bridge/internal/observability/metrics"
	"Mopro-Bridge/internal/transport"
	"Mopro-Bridge/pkg/logger"
)

const maxBodyBytes = 4 << 20

// Server 负责通过 REST 接口暴露桥接调用。
type Server struct {
	addr    string
	invoker transport.Invoker
	journal journal.Store
	metrics *metrics.Collector
	limiter *clientLimiter
	logger  *slog.Logger
	now     func() time.Time
}

// Option 定义可选配置。
type Option func(*Server)

// WithJournal 开启 /api/v1/calls/recent 查询。
func WithJournal(store journal.Store) Option {
	return func(s *Server) {
		s.journal = store
	}
}

// WithMetrics 记录请求指标，并挂载 /metrics。
func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = collector
	}
}

// WithRateLimit 为每个客户端地址配置令牌桶。
func WithRateLimit(rps float64, burst int, idleTTL time.Duration) Option {
	return func(s *Server) {
		s.limiter = newClientLimiter(rps, burst, idleTTL)
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, invoker transport.Invoker, opts ...Option) *Server {
	s := &Server{addr: addr, invoker: invoker, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("httpapi")
	}
	return s
}

// Router 返回完整的路由表，便于测试直接驱动。
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.instrument)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimit)
	api.HandleFunc("/calls", s.handleEnvelope).Methods(http.MethodPost)
	api.HandleFunc("/calls/recent", s.handleRecent).Methods(http.MethodGet)
	api.HandleFunc("/calls/{method}", s.handleMethod).Methods(http.MethodPost)
	api.HandleFunc("/methods", s.handleMethods).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Router()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("HTTP 接口已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleEnvelope 处理完整信封形式的调用。
func (s *Server) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, transport.Malformed("", err))
		return
	}
	env, err := transport.DecodeEnvelope(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, transport.Malformed(env.ID, err))
		return
	}
	req, err := env.Request()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, transport.Malformed(env.ID, err))
		return
	}
	s.invoke(w, r, env.ID, req)
}

// handleMethod 处理 /calls/{method}，请求体即参数对象。
func (s *Server) handleMethod(w http.ResponseWriter, r *http.Request) {
	method := mux.Vars(r)["method"]
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, transport.Malformed("", err))
		return
	}
	args, err := transport.DecodeArguments(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, transport.Malformed("", err))
		return
	}
	s.invoke(w, r, r.Header.Get("X-Request-ID"), bridge.Request{Method: bridge.Method(method), Arguments: args})
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request, id string, req bridge.Request) {
	if s.invoker == nil {
		http.Error(w, "桥接未初始化", http.StatusServiceUnavailable)
		return
	}
	outcome, err := s.invoker.Invoke(r.Context(), req)
	if err != nil {
		// 调用方已断开或超时，调用本身仍会执行完毕。
		resp := transport.NewResponse(id, bridge.FailureOf(xerrors.Wrap(xerrors.CodeTransportFailure, err, "")))
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if outcome.Failure != nil && xerrors.Retryable(outcome.Failure.Code) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, http.StatusOK, transport.NewResponse(id, outcome))
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "调用日志未启用", http.StatusNotFound)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("查询调用日志失败", slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type methodDescriptor struct {
	Method    bridge.Method     `json:"method"`
	Arguments []fieldDescriptor `json:"arguments"`
}

type fieldDescriptor struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (s *Server) handleMethods(w http.ResponseWriter, _ *http.Request) {
	methods := bridge.Methods()
	out := make([]methodDescriptor, 0, len(methods))
	for _, m := range methods {
		fields, _ := bridge.Schema(m)
		desc := methodDescriptor{Method: m, Arguments: make([]fieldDescriptor, 0, len(fields))}
		for _, f := range fields {
			desc.Arguments = append(desc.Arguments, fieldDescriptor{Name: f.Name, Type: f.Type.String()})
		}
		out = append(out, desc)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := s.limiter.allow(clientKey(r), s.now())
		if !ok {
			secs := int(wait.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			http.Error(w, "请求过于频繁", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.metrics == nil {
			return
		}
		handler := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				handler = tpl
			}
		}
		s.metrics.ObserveHTTPRequest(handler, r.Method, rec.status, time.Since(start))
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
