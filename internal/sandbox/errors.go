package sandbox

import (
	"errors"
	"strings"

	"go.uber.org/multierr"

	"github.com/Klingon-tech/klingnet-sandbox/internal/rpcclient"
)

// Startup errors. Fatal to the harness instance.
var (
	ErrNodeStartupTimeout = errors.New("sandbox node did not answer before the startup timeout")
	ErrNodeStartupFailed  = errors.New("sandbox node failed to start")
)

// Resource errors.
var (
	ErrPortExhausted = errors.New("no local port could be reserved")
	ErrHomeDir       = errors.New("sandbox home directory unusable")
)

// Rejections raised by the harness itself or mapped from node rejections.
var (
	ErrInvalidDelta                    = errors.New("fast-forward delta must be positive")
	ErrFastForwardUnsupported          = errors.New("fast-forward needs an owned sandbox node")
	ErrPatchUnsupportedOnRemoteNetwork = errors.New("state patching needs an owned sandbox node")
	ErrDuplicateAccount                = errors.New("account already exists")
	ErrInsufficientFunds               = errors.New("insufficient funds")
	ErrInvalidAccountID                = errors.New("invalid account id")
	ErrUnknownAccount                  = errors.New("no key registered for account")
	ErrDeploymentRejected              = errors.New("contract deployment rejected")
	ErrImportSourceUnreachable         = errors.New("import source unreachable")
	ErrBlockNotFound                   = errors.New("block not found")
	ErrNotReady                        = errors.New("harness is not ready")
	ErrTornDown                        = errors.New("harness is torn down")
)

// Kind groups errors by how a caller should react to them.
type Kind int

const (
	KindUnknown        Kind = iota
	KindStartup             // node failed to boot, no retry
	KindTransport           // connectivity, caller may retry
	KindChainRejection      // request rejected, retry only with a different request
	KindResource            // ports or disk exhausted
	KindTeardown            // cleanup failure, log and continue
)

func (k Kind) String() string {
	switch k {
	case KindStartup:
		return "startup"
	case KindTransport:
		return "transport"
	case KindChainRejection:
		return "chain_rejection"
	case KindResource:
		return "resource"
	case KindTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// KindOf classifies err.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var tw *TeardownWarning
	var te *rpcclient.TransportError
	var re *rpcclient.RPCError
	switch {
	case errors.As(err, &tw):
		return KindTeardown
	case errors.Is(err, ErrNodeStartupTimeout), errors.Is(err, ErrNodeStartupFailed):
		return KindStartup
	case errors.Is(err, ErrPortExhausted), errors.Is(err, ErrHomeDir):
		return KindResource
	case errors.Is(err, ErrImportSourceUnreachable), errors.As(err, &te):
		return KindTransport
	case errors.As(err, &re),
		errors.Is(err, ErrInvalidDelta),
		errors.Is(err, ErrFastForwardUnsupported),
		errors.Is(err, ErrPatchUnsupportedOnRemoteNetwork),
		errors.Is(err, ErrDuplicateAccount),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidAccountID),
		errors.Is(err, ErrUnknownAccount),
		errors.Is(err, ErrDeploymentRejected),
		errors.Is(err, ErrBlockNotFound):
		return KindChainRejection
	}
	return KindUnknown
}

// TeardownWarning collects cleanup failures. It is returned for logging;
// a test should not fail because of it.
type TeardownWarning struct {
	Err error
}

func (w *TeardownWarning) Error() string {
	msgs := make([]string, 0, 2)
	for _, err := range multierr.Errors(w.Err) {
		msgs = append(msgs, err.Error())
	}
	return "teardown: " + strings.Join(msgs, "; ")
}

// Unwrap returns the individual cleanup errors.
func (w *TeardownWarning) Unwrap() []error {
	return multierr.Errors(w.Err)
}

// teardownWarning wraps a combined error, or returns nil when there is none.
func teardownWarning(err error) error {
	if err == nil {
		return nil
	}
	return &TeardownWarning{Err: err}
}

// rejectionName returns the node's rejection name for err, if any.
func rejectionName(err error) string {
	var re *rpcclient.RPCError
	if errors.As(err, &re) {
		return re.Name
	}
	return ""
}
