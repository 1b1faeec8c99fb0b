package catalog

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/nerrad567/peerlink-core/internal/model"
)

// HeaderCommandID carries the command ID on executed requests.
const HeaderCommandID = "X-Peerlink-Command"

// Result is the outcome of executing a command.
type Result struct {
	StatusCode int
	Body       []byte
}

// Executor runs a claimed command.
type Executor interface {
	Execute(ctx context.Context, cmd model.Command) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cmd model.Command) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, cmd model.Command) (Result, error) {
	return f(ctx, cmd)
}

// HandlerExecutor runs commands as requests against an http.Handler.
type HandlerExecutor struct {
	handler http.Handler
}

// NewHandlerExecutor executes commands against h in process.
func NewHandlerExecutor(h http.Handler) *HandlerExecutor {
	return &HandlerExecutor{handler: h}
}

// NewProxyExecutor executes commands against the HTTP server at target.
func NewProxyExecutor(target string) (*HandlerExecutor, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parsing command target: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("command target %q must be an absolute URL", target)
	}
	return &HandlerExecutor{handler: httputil.NewSingleHostReverseProxy(u)}, nil
}

// Execute builds a request from cmd, serves it and captures the response.
func (e *HandlerExecutor) Execute(ctx context.Context, cmd model.Command) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, cmd.Verb, cmd.Path, bytes.NewReader(cmd.Body))
	if err != nil {
		return Result{}, fmt.Errorf("building request for command %s: %w", cmd.ID, err)
	}
	if len(cmd.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderCommandID, cmd.ID)

	buf := newResponseBuffer()
	e.handler.ServeHTTP(buf, req)
	return Result{StatusCode: buf.status, Body: buf.body.Bytes()}, nil
}

// responseBuffer is an http.ResponseWriter that keeps the status and body.
// A handler that writes nothing leaves the status at 200.
type responseBuffer struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header), status: http.StatusOK}
}

func (b *responseBuffer) Header() http.Header {
	return b.header
}

func (b *responseBuffer) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = status
}

// Flush is a no-op so streaming handlers and the reverse proxy can flush.
func (b *responseBuffer) Flush() {}

func (b *responseBuffer) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}
