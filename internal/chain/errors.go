package chain

import "fmt"

// Error is a named chain rejection. Two errors match under errors.Is when
// their names are equal, so the sentinels below can be compared against
// errors carrying specific messages.
type Error struct {
	Name    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// Is matches on Name.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Name == e.Name
}

// Named rejections.
var (
	ErrAccountDoesNotExist     = &Error{Name: "AccountDoesNotExist"}
	ErrAccountAlreadyExists    = &Error{Name: "AccountAlreadyExists"}
	ErrAccessKeyDoesNotExist   = &Error{Name: "AccessKeyDoesNotExist"}
	ErrAccessKeyAlreadyExists  = &Error{Name: "AccessKeyAlreadyExists"}
	ErrInvalidNonce            = &Error{Name: "InvalidNonce"}
	ErrInvalidSignature        = &Error{Name: "InvalidSignature"}
	ErrInvalidTransaction      = &Error{Name: "InvalidTransaction"}
	ErrNotEnoughBalance        = &Error{Name: "NotEnoughBalance"}
	ErrLackBalanceForState     = &Error{Name: "LackBalanceForState"}
	ErrCreateAccountNotAllowed = &Error{Name: "CreateAccountNotAllowed"}
	ErrActorNoPermission       = &Error{Name: "ActorNoPermission"}
	ErrCompilationError        = &Error{Name: "CompilationError"}
	ErrMethodNotFound          = &Error{Name: "MethodNotFound"}
	ErrExecutionError          = &Error{Name: "ExecutionError"}
	ErrCodeDoesNotExist        = &Error{Name: "CodeDoesNotExist"}
	ErrUnknownBlock            = &Error{Name: "UnknownBlock"}
	ErrUnknownTransaction      = &Error{Name: "UnknownTransaction"}
	ErrInvalidDelta            = &Error{Name: "InvalidDelta"}
	ErrInvalidPatch            = &Error{Name: "InvalidPatch"}
)

func rejectf(base *Error, format string, args ...any) *Error {
	return &Error{Name: base.Name, Message: fmt.Sprintf(format, args...)}
}
