// Package runtime executes sandbox contracts.
//
// A contract is JavaScript source. Each exported method is a global
// function taking the decoded JSON arguments and returning a JSON-encodable
// value. Contracts reach chain state through two host objects:
//
//	storage.read(key) / readBytes(key) / write(key, value) / remove(key) / has(key)
//	env.input() env.blockHeight() env.blockTimestamp() env.epochHeight()
//	env.currentAccountId() env.predecessorAccountId() env.signerAccountId()
//	env.attachedDeposit() env.log(...) env.panic(msg)
//
// read decodes the stored bytes as UTF-8, replacing invalid sequences with
// U+FFFD. readBytes returns them unchanged as an ArrayBuffer.
//
// Every call runs in a fresh VM, bounded by a timeout.
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/Klingon-tech/klingnet-sandbox/internal/log"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

var wasmMagic = []byte("\x00asm")

// Storage is the contract's key-value state.
type Storage interface {
	Read(key []byte) ([]byte, bool, error)
	Write(key, value []byte) error
	Remove(key []byte) error
}

// Context describes the call being executed.
type Context struct {
	CurrentAccountID     types.AccountID
	PredecessorAccountID types.AccountID
	SignerAccountID      types.AccountID
	BlockHeight          uint64
	BlockTimestamp       uint64
	EpochHeight          uint64
	AttachedDeposit      types.Balance
	Input                []byte
	View                 bool
}

// Outcome is the result of a successful call. Result is the JSON encoding
// of the returned value, empty when the method returned undefined.
type Outcome struct {
	Result []byte
	Logs   []string
}

// Config bounds execution.
type Config struct {
	Timeout          time.Duration
	MaxCallStackSize int
}

// DefaultConfig returns the limits used by the sandbox node.
func DefaultConfig() Config {
	return Config{
		Timeout:          2 * time.Second,
		MaxCallStackSize: 1024,
	}
}

// Runtime compiles and runs contracts. Compiled programs are cached by
// code hash; VMs are never reused.
type Runtime struct {
	cfg Config

	mu       sync.Mutex
	programs map[types.Hash]*goja.Program
}

// New creates a runtime.
func New(cfg Config) *Runtime {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxCallStackSize <= 0 {
		cfg.MaxCallStackSize = DefaultConfig().MaxCallStackSize
	}
	return &Runtime{
		cfg:      cfg,
		programs: make(map[types.Hash]*goja.Program),
	}
}

// Validate checks that code compiles.
func (r *Runtime) Validate(code []byte) error {
	_, err := r.compile(code)
	return err
}

func (r *Runtime) compile(code []byte) (*goja.Program, error) {
	if bytes.HasPrefix(code, wasmMagic) {
		return nil, fmt.Errorf("%w: %w", ErrCompilation, ErrWasmUnsupported)
	}
	h := crypto.Hash(code)

	r.mu.Lock()
	prog, ok := r.programs[h]
	r.mu.Unlock()
	if ok {
		return prog, nil
	}

	prog, err := goja.Compile("contract.js", string(code), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompilation, err)
	}

	r.mu.Lock()
	r.programs[h] = prog
	r.mu.Unlock()
	return prog, nil
}

// Execute runs method of code against st.
func (r *Runtime) Execute(ctx context.Context, code []byte, method string, call Context, st Storage) (*Outcome, error) {
	prog, err := r.compile(code)
	if err != nil {
		return nil, err
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(r.cfg.MaxCallStackSize)

	h := &host{vm: vm, call: call, st: st}
	h.install()

	timer := time.NewTimer(r.cfg.Timeout)
	defer timer.Stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-timer.C:
			vm.Interrupt(ErrTimeout)
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	if _, err := vm.RunProgram(prog); err != nil {
		return nil, h.classify(err)
	}

	fn, ok := goja.AssertFunction(vm.Get(method))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}

	var args []goja.Value
	if len(bytes.TrimSpace(call.Input)) > 0 {
		parsed, err := h.jsonCall("parse", vm.ToValue(string(call.Input)))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid JSON arguments: %v", ErrExecution, err)
		}
		args = append(args, parsed)
	}

	ret, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, h.classify(err)
	}
	if h.err != nil {
		// Host failure swallowed by a JS try/catch.
		return nil, h.err
	}

	out := &Outcome{Logs: h.logs}
	if ret != nil && !goja.IsUndefined(ret) {
		encoded, err := h.jsonCall("stringify", ret)
		if err != nil {
			return nil, fmt.Errorf("%w: result is not JSON encodable: %v", ErrExecution, err)
		}
		out.Result = []byte(encoded.String())
	}

	log.Runtime.Trace().
		Str("contract", string(call.CurrentAccountID)).
		Str("method", method).
		Bool("view", call.View).
		Int("logs", len(out.Logs)).
		Msg("Contract call executed")
	return out, nil
}

// host implements the storage and env objects for one call.
type host struct {
	vm   *goja.Runtime
	call Context
	st   Storage
	logs []string
	err  error // first host-side failure; wins over the JS exception
}

func (h *host) install() {
	vm := h.vm
	for _, name := range []string{"require", "process", "module", "exports"} {
		vm.Set(name, goja.Undefined())
	}

	storage := vm.NewObject()
	storage.Set("read", h.storageRead)
	storage.Set("readBytes", h.storageReadBytes)
	storage.Set("write", h.storageWrite)
	storage.Set("remove", h.storageRemove)
	storage.Set("has", h.storageHas)
	vm.Set("storage", storage)

	c := h.call
	env := vm.NewObject()
	env.Set("input", func() string { return string(c.Input) })
	env.Set("blockHeight", func() int64 { return int64(c.BlockHeight) })
	env.Set("blockTimestamp", func() string { return strconv.FormatUint(c.BlockTimestamp, 10) })
	env.Set("epochHeight", func() int64 { return int64(c.EpochHeight) })
	env.Set("currentAccountId", func() string { return string(c.CurrentAccountID) })
	env.Set("predecessorAccountId", func() string { return string(c.PredecessorAccountID) })
	env.Set("signerAccountId", func() string { return string(c.SignerAccountID) })
	env.Set("attachedDeposit", func() string { return c.AttachedDeposit.String() })
	env.Set("log", h.log)
	env.Set("panic", h.abort)
	vm.Set("env", env)
}

func (h *host) fail(err error) {
	if h.err == nil {
		h.err = err
	}
	panic(h.vm.NewGoError(err))
}

func (h *host) storageRead(call goja.FunctionCall) goja.Value {
	v, ok, err := h.st.Read([]byte(call.Argument(0).String()))
	if err != nil {
		h.fail(fmt.Errorf("%w: storage read: %v", ErrExecution, err))
	}
	if !ok {
		return goja.Null()
	}
	return h.vm.ToValue(string(v))
}

func (h *host) storageReadBytes(call goja.FunctionCall) goja.Value {
	v, ok, err := h.st.Read([]byte(call.Argument(0).String()))
	if err != nil {
		h.fail(fmt.Errorf("%w: storage read: %v", ErrExecution, err))
	}
	if !ok {
		return goja.Null()
	}
	return h.vm.ToValue(h.vm.NewArrayBuffer(v))
}

func (h *host) storageHas(call goja.FunctionCall) goja.Value {
	_, ok, err := h.st.Read([]byte(call.Argument(0).String()))
	if err != nil {
		h.fail(fmt.Errorf("%w: storage read: %v", ErrExecution, err))
	}
	return h.vm.ToValue(ok)
}

func (h *host) storageWrite(call goja.FunctionCall) goja.Value {
	if h.call.View {
		h.fail(ErrProhibitedInView)
	}
	key := []byte(call.Argument(0).String())
	_, existed, err := h.st.Read(key)
	if err == nil {
		err = h.st.Write(key, []byte(call.Argument(1).String()))
	}
	if err != nil {
		h.fail(fmt.Errorf("%w: storage write: %v", ErrExecution, err))
	}
	return h.vm.ToValue(existed)
}

func (h *host) storageRemove(call goja.FunctionCall) goja.Value {
	if h.call.View {
		h.fail(ErrProhibitedInView)
	}
	key := []byte(call.Argument(0).String())
	_, existed, err := h.st.Read(key)
	if err == nil && existed {
		err = h.st.Remove(key)
	}
	if err != nil {
		h.fail(fmt.Errorf("%w: storage remove: %v", ErrExecution, err))
	}
	return h.vm.ToValue(existed)
}

func (h *host) log(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		parts[i] = arg.String()
	}
	h.logs = append(h.logs, strings.Join(parts, " "))
	return goja.Undefined()
}

func (h *host) abort(call goja.FunctionCall) goja.Value {
	msg := "explicit panic"
	if len(call.Arguments) > 0 {
		msg = call.Argument(0).String()
	}
	h.fail(fmt.Errorf("%w: %s", ErrContractPanic, msg))
	return goja.Undefined()
}

func (h *host) jsonCall(fn string, arg goja.Value) (goja.Value, error) {
	f, ok := goja.AssertFunction(h.vm.Get("JSON").ToObject(h.vm).Get(fn))
	if !ok {
		return nil, fmt.Errorf("JSON.%s unavailable", fn)
	}
	return f(goja.Undefined(), arg)
}

// classify maps a goja error onto the runtime's sentinels.
func (h *host) classify(err error) error {
	if h.err != nil {
		return h.err
	}
	if ie, ok := err.(*goja.InterruptedError); ok {
		if e, ok := ie.Value().(error); ok && errors.Is(e, ErrTimeout) {
			return ErrTimeout
		}
		return fmt.Errorf("%w: interrupted: %v", ErrExecution, ie.Value())
	}
	if ex, ok := err.(*goja.Exception); ok {
		return fmt.Errorf("%w: %s", ErrExecution, ex.Value().String())
	}
	return fmt.Errorf("%w: %v", ErrExecution, err)
}
