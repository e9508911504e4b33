// Package rpc implements the sandbox node's JSON-RPC 2.0 API server.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"slices"
	"time"

	"github.com/Klingon-tech/klingnet-sandbox/config"
	"github.com/Klingon-tech/klingnet-sandbox/internal/chain"
	klog "github.com/Klingon-tech/klingnet-sandbox/internal/log"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (8 MB, room for
// contract code).
const maxBodySize = 8 << 20

// maxBatch bounds the number of calls in one batch request.
const maxBatch = 100

type handler func(ctx context.Context, req *Request) (interface{}, *Error)

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr    string
	chain   *chain.Chain
	server  *http.Server
	logger  zerolog.Logger
	ln      net.Listener
	methods map[string]handler

	allowed     []netip.Prefix // Empty = allow all.
	corsOrigins []string       // Empty = no CORS headers.
}

// New creates a new RPC server. The rpcCfg parameter controls IP filtering
// and CORS. A zero-value RPCConfig allows all IPs and disables CORS.
func New(addr string, ch *chain.Chain, rpcCfg ...config.RPCConfig) *Server {
	s := &Server{
		addr:   addr,
		chain:  ch,
		logger: klog.RPC,
	}
	if len(rpcCfg) > 0 {
		s.allowed = parseAllowedIPs(rpcCfg[0].AllowedIPs)
		s.corsOrigins = rpcCfg[0].CORSOrigins
	}

	s.methods = map[string]handler{
		MethodStatus:            s.handleStatus,
		MethodBlock:             s.handleBlock,
		MethodQuery:             s.handleQuery,
		MethodBroadcastTxCommit: s.handleBroadcastTxCommit,
		MethodTx:                s.handleTx,
		MethodFastForward:       s.handleFastForward,
		MethodPatchState:        s.handlePatchState,
	}

	s.server = &http.Server{
		Handler:           s.filterIP(s.cors(http.HandlerFunc(s.serveRPC))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	return s
}

// parseAllowedIPs turns IP and CIDR entries into prefixes. A bare IP
// becomes a single-address prefix; garbage is skipped.
func parseAllowedIPs(entries []string) []netip.Prefix {
	var out []netip.Prefix
	for _, entry := range entries {
		if p, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			a = a.Unmap()
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

// Start binds the configured address and serves in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.Serve(ln)
	return nil
}

// Serve serves on an already bound listener, such as one inherited from the
// process that reserved the port.
func (s *Server) Serve(ln net.Listener) {
	s.ln = ln
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("RPC server listening")
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) filterIP(next http.Handler) http.Handler {
	if len(s.allowed) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ap, err := netip.ParseAddrPort(r.RemoteAddr)
		if err != nil || !s.isIPAllowed(ap.Addr()) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isIPAllowed(ip netip.Addr) bool {
	ip = ip.Unmap()
	for _, p := range s.allowed {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// cors sets CORS headers for allowed origins and answers preflights.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && len(s.corsOrigins) > 0 {
			switch {
			case slices.Contains(s.corsOrigins, "*"):
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case slices.Contains(s.corsOrigins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			if w.Header().Get("Access-Control-Allow-Origin") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// serveRPC decodes a single call or a batch and writes the response(s).
func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, errorResponse(nil, CodeInvalidRequest, "only POST method is allowed"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeJSON(w, errorResponse(nil, CodeParseError, "failed to read request body"))
		return
	}
	if len(body) > maxBodySize {
		writeJSON(w, errorResponse(nil, CodeInvalidRequest, "request body too large"))
		return
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		writeJSON(w, s.call(r.Context(), body))
		return
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		writeJSON(w, errorResponse(nil, CodeParseError, "invalid JSON"))
		return
	}
	switch {
	case len(batch) == 0:
		writeJSON(w, errorResponse(nil, CodeInvalidRequest, "empty batch"))
		return
	case len(batch) > maxBatch:
		writeJSON(w, errorResponse(nil, CodeInvalidRequest, fmt.Sprintf("batch exceeds %d calls", maxBatch)))
		return
	}
	out := make([]Response, len(batch))
	for i, raw := range batch {
		out[i] = s.call(r.Context(), raw)
	}
	writeJSON(w, out)
}

// call runs one JSON-RPC request.
func (s *Server) call(ctx context.Context, raw []byte) Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, CodeParseError, "invalid JSON")
	}
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	h, ok := s.methods[req.Method]
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}

	start := time.Now()
	result, rpcErr := h(ctx, &req)
	ev := s.logger.Debug().Str("method", req.Method).Dur("took", time.Since(start))
	if rpcErr != nil {
		if rpcErr.Data != nil {
			ev = ev.Str("error", rpcErr.Data.Name)
		}
		ev.Msg("RPC request failed")
		return Response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID}
	}
	ev.Msg("RPC request")
	return Response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func errorResponse(id interface{}, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// parseParams unmarshals the request params into the given target.
func parseParams(req *Request, target interface{}) *Error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return invalidParams("params required")
	}
	if err := json.Unmarshal(req.Params, target); err != nil {
		return invalidParams(fmt.Sprintf("invalid params: %v", err))
	}
	return nil
}

func invalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg, Data: &ErrorData{Name: "InvalidParams"}}
}

// chainError converts a chain failure into a JSON-RPC error. Named
// rejections keep their name; anything else is an internal error.
func chainError(err error) *Error {
	var named *chain.Error
	if errors.As(err, &named) {
		return &Error{Code: CodeHandlerError, Message: err.Error(), Data: &ErrorData{Name: named.Name}}
	}
	return &Error{Code: CodeInternalError, Message: err.Error(), Data: &ErrorData{Name: "InternalError"}}
}
