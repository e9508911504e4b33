package runtime

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

type mapStorage map[string]string

func (m mapStorage) Read(key []byte) ([]byte, bool, error) {
	v, ok := m[string(key)]
	return []byte(v), ok, nil
}

func (m mapStorage) Write(key, value []byte) error {
	m[string(key)] = string(value)
	return nil
}

func (m mapStorage) Remove(key []byte) error {
	delete(m, string(key))
	return nil
}

func greeter(t *testing.T) []byte {
	t.Helper()
	code, err := os.ReadFile("testdata/greeter.js")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return code
}

func TestExecute_Greeter(t *testing.T) {
	rt := New(DefaultConfig())
	code := greeter(t)
	st := mapStorage{}
	ctx := context.Background()

	out, err := rt.Execute(ctx, code, "get_greeting", Context{CurrentAccountID: "greeter.test.near", View: true}, st)
	if err != nil {
		t.Fatalf("get_greeting: %v", err)
	}
	if string(out.Result) != `"Hello"` {
		t.Fatalf("get_greeting = %s, want \"Hello\"", out.Result)
	}

	out, err = rt.Execute(ctx, code, "set_greeting", Context{Input: []byte(`{"greeting":"Howdy"}`)}, st)
	if err != nil {
		t.Fatalf("set_greeting: %v", err)
	}
	if len(out.Result) != 0 {
		t.Errorf("set_greeting result = %s, want empty", out.Result)
	}
	if len(out.Logs) != 1 || out.Logs[0] != "Saving greeting Howdy" {
		t.Errorf("logs = %v", out.Logs)
	}
	if st["STATE"] != `{"greeting":"Howdy"}` {
		t.Errorf("STATE = %q", st["STATE"])
	}

	out, err = rt.Execute(ctx, code, "get_greeting", Context{View: true}, st)
	if err != nil {
		t.Fatal(err)
	}
	if string(out.Result) != `"Howdy"` {
		t.Fatalf("get_greeting = %s, want \"Howdy\"", out.Result)
	}
}

func TestExecute_Env(t *testing.T) {
	rt := New(DefaultConfig())
	call := Context{
		CurrentAccountID:     "greeter.test.near",
		PredecessorAccountID: "alice.test.near",
		BlockHeight:          42,
		BlockTimestamp:       1700000000000000000,
		EpochHeight:          3,
		View:                 true,
	}

	out, err := rt.Execute(context.Background(), greeter(t), "block_info", call, mapStorage{})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"height":42,"timestamp":"1700000000000000000","epoch":3}`
	if string(out.Result) != want {
		t.Errorf("block_info = %s, want %s", out.Result, want)
	}

	out, err = rt.Execute(context.Background(), greeter(t), "whoami", call, mapStorage{})
	if err != nil {
		t.Fatal(err)
	}
	if string(out.Result) != `{"current":"greeter.test.near","predecessor":"alice.test.near"}` {
		t.Errorf("whoami = %s", out.Result)
	}
}

func TestExecute_Errors(t *testing.T) {
	rt := New(Config{Timeout: 200 * time.Millisecond})
	code := greeter(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		method string
		call   Context
		want   error
	}{
		{"missing method", "nope", Context{}, ErrMethodNotFound},
		{"write in view", "set_greeting", Context{View: true, Input: []byte(`{"greeting":"x"}`)}, ErrProhibitedInView},
		{"panic", "fail", Context{Input: []byte(`{"reason":"boom"}`)}, ErrContractPanic},
		{"timeout", "spin", Context{}, ErrTimeout},
		{"bad args", "set_greeting", Context{Input: []byte(`{`)}, ErrExecution},
	}
	for _, tt := range tests {
		_, err := rt.Execute(ctx, code, tt.method, tt.call, mapStorage{})
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestExecute_PanicMessage(t *testing.T) {
	_, err := New(DefaultConfig()).Execute(context.Background(), greeter(t), "fail",
		Context{Input: []byte(`{"reason":"boom"}`)}, mapStorage{})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v, want message containing boom", err)
	}
}

func TestExecute_ContextCancel(t *testing.T) {
	rt := New(Config{Timeout: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := rt.Execute(ctx, greeter(t), "spin", Context{}, mapStorage{})
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("err = %v, want ErrExecution", err)
	}
}

func TestValidate(t *testing.T) {
	rt := New(DefaultConfig())
	if err := rt.Validate(greeter(t)); err != nil {
		t.Fatalf("Validate(greeter) = %v", err)
	}
	if err := rt.Validate([]byte("function broken( {")); !errors.Is(err, ErrCompilation) {
		t.Errorf("syntax error: %v, want ErrCompilation", err)
	}
	wasm := []byte("\x00asm\x01\x00\x00\x00")
	err := rt.Validate(wasm)
	if !errors.Is(err, ErrCompilation) || !errors.Is(err, ErrWasmUnsupported) {
		t.Errorf("wasm: %v, want ErrCompilation and ErrWasmUnsupported", err)
	}
}

func TestExecute_ReadBytes(t *testing.T) {
	rt := New(DefaultConfig())
	st := mapStorage{"BIN": "\xff\xfea"}
	call := Context{Input: []byte(`{"key":"BIN"}`), View: true}

	out, err := rt.Execute(context.Background(), greeter(t), "raw_bytes", call, st)
	if err != nil {
		t.Fatal(err)
	}
	if string(out.Result) != `[255,254,97]` {
		t.Errorf("raw_bytes = %s, want [255,254,97]", out.Result)
	}

	call.Input = []byte(`{"key":"NONE"}`)
	out, err = rt.Execute(context.Background(), greeter(t), "raw_bytes", call, st)
	if err != nil {
		t.Fatal(err)
	}
	if string(out.Result) != `null` {
		t.Errorf("raw_bytes of a missing key = %s, want null", out.Result)
	}
}
