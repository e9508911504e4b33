package runtime

import "errors"

// Runtime errors. The chain maps these onto its named rejection kinds.
var (
	ErrCompilation      = errors.New("contract compilation failed")
	ErrWasmUnsupported  = errors.New("webassembly contracts are not supported by the sandbox runtime")
	ErrMethodNotFound   = errors.New("method not found")
	ErrExecution        = errors.New("contract execution failed")
	ErrContractPanic    = errors.New("contract panicked")
	ErrProhibitedInView = errors.New("storage writes are prohibited in view calls")
	ErrTimeout          = errors.New("execution timeout exceeded")
)
