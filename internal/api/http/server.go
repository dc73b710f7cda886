package httpapi

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paintersrp/botshell/internal/api"
	"github.com/Paintersrp/botshell/internal/launch"
	"github.com/Paintersrp/botshell/internal/metrics"
	"github.com/Paintersrp/botshell/internal/process"
	"github.com/Paintersrp/botshell/internal/supervisor"
)

const (
	DefaultAddr            = "127.0.0.1:6190"
	defaultReadHeader      = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	maxRequestBody         = 64 << 10
)

// Config controls construction of the control server.
type Config struct {
	Addr              string
	Controller        api.Controller
	Listener          net.Listener
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server exposes the supervisor command surface over loopback HTTP.
type Server struct {
	ctrl            api.Controller
	srv             *http.Server
	listener        net.Listener
	shutdownTimeout time.Duration
}

// NewServer constructs a Server with sane defaults.
func NewServer(cfg Config) (*Server, error) {
	if isNilController(cfg.Controller) {
		return nil, fmt.Errorf("controller is required (got %T)", cfg.Controller)
	}
	addr := normalizeAddr(cfg.Addr)
	mux := http.NewServeMux()
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	if srv.ReadHeaderTimeout == 0 {
		srv.ReadHeaderTimeout = defaultReadHeader
	}
	server := &Server{
		ctrl:            cfg.Controller,
		srv:             srv,
		listener:        cfg.Listener,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if server.shutdownTimeout == 0 {
		server.shutdownTimeout = defaultShutdownTimeout
	}
	server.registerRoutes(mux)
	return server, nil
}

func isNilController(ctrl api.Controller) bool {
	if ctrl == nil {
		return true
	}
	v := reflect.ValueOf(ctrl)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// Listen binds the configured address unless a listener was supplied. Run
// calls it implicitly; calling it first lets Addr report the bound port.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.listener = ln
	return nil
}

// Run serves until ctx is cancelled, then drains in-flight commands for up
// to the shutdown timeout.
func (s *Server) Run(ctx stdcontext.Context) error {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	if err := s.Listen(); err != nil {
		return err
	}
	stop := stdcontext.AfterFunc(ctx, func() {
		shutdownCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), s.shutdownTimeout)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := s.srv.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/runtime", only(http.MethodGet, s.handleRuntime))
	mux.HandleFunc("/api/v1/state", only(http.MethodGet, s.handleState))
	mux.HandleFunc("/api/v1/credential", only(http.MethodPut, s.handleCredential))
	mux.HandleFunc("/api/v1/restart", only(http.MethodPost, s.handleRestart))
	mux.HandleFunc("/api/v1/stop", only(http.MethodPost, s.handleStop))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
}

// only rejects every method but the given one with 405 and an Allow header.
func only(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			reason := fmt.Sprintf("method %s not allowed", r.Method)
			writeJSON(w, http.StatusMethodNotAllowed, api.Result{Reason: &reason, Code: "method_not_allowed"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleRuntime(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.RuntimeInfo{Present: s.ctrl.IsRuntimePresent()})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.State())
}

func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request) {
	var req api.CredentialRequest
	if err := decodeBody(r, &req); err != nil {
		writeResult(w, err)
		return
	}
	s.ctrl.SetCredential(req.AuthToken)
	writeResult(w, nil)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req api.RestartRequest
	if err := decodeBody(r, &req); err != nil {
		writeResult(w, err)
		return
	}
	// A client that disconnects mid-restart must not turn the graceful wait
	// into a fallback that kills a healthy child.
	writeResult(w, s.ctrl.Restart(stdcontext.WithoutCancel(r.Context()), req.AuthToken))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.ctrl.Stop(stdcontext.WithoutCancel(r.Context())))
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", api.ErrInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	header := w.Header()
	header.Set("Content-Type", "application/json")
	header.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeResult renders err as an api.Result whose code and HTTP status come
// from classifyError.
func writeResult(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, api.ResultOf(nil))
		return
	}
	result := api.ResultOf(err)
	status, code := classifyError(err)
	result.Code = code
	writeJSON(w, status, result)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, stdcontext.Canceled):
		return 499, "context_canceled"
	case errors.Is(err, api.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, supervisor.ErrActionInProgress):
		return http.StatusConflict, "action_in_progress"
	case errors.Is(err, supervisor.ErrUnmanagedRunning):
		return http.StatusConflict, "unmanaged_backend"
	case errors.Is(err, supervisor.ErrNotManaged):
		return http.StatusBadGateway, "restart_rejected"
	case errors.Is(err, supervisor.ErrAutoStartDisabled):
		return http.StatusConflict, "auto_start_disabled"
	case errors.Is(err, supervisor.ErrShuttingDown):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, process.ErrStartupTimeout), errors.Is(err, process.ErrStopTimedOut):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, process.ErrExitedBeforeReady):
		return http.StatusBadGateway, "exited_before_ready"
	case errors.Is(err, process.ErrSpawn):
		return http.StatusInternalServerError, "spawn_failed"
	}
	var resolution *launch.ResolutionError
	if errors.As(err, &resolution) {
		return http.StatusUnprocessableEntity, string(resolution.Code)
	}
	return http.StatusInternalServerError, "internal_error"
}

// BaseURL returns the http URL a client uses to reach a server bound to addr.
func BaseURL(addr string) string {
	return "http://" + normalizeAddr(addr)
}

func normalizeAddr(addr string) string {
	if strings.TrimSpace(addr) == "" {
		return DefaultAddr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host != "" {
		return addr
	}
	return net.JoinHostPort("127.0.0.1", port)
}
