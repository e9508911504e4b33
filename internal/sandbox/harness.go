// Package sandbox boots disposable sandbox nodes for tests and drives them
// through accounts, contracts, time travel and state patching.
//
// A Harness either owns a local sandboxd process or proxies to a remote
// endpoint. Harnesses share nothing, so tests may run them in parallel.
package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-sandbox/config"
	"github.com/Klingon-tech/klingnet-sandbox/internal/keystore"
	klog "github.com/Klingon-tech/klingnet-sandbox/internal/log"
	"github.com/Klingon-tech/klingnet-sandbox/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// State is a harness lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateStarting
	StateReady
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateTornDown:
		return "torn_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Harness is one sandbox instance.
type Harness struct {
	cfg    *config.Sandbox
	id     string
	logger zerolog.Logger

	lifecycle sync.Mutex // serializes Init and TearDown
	state     atomic.Int32

	bootMu     sync.Mutex // guards bootCancel and closing
	bootCancel context.CancelFunc
	closing    bool

	proc   *NodeProcess // nil in remote modes
	client *rpcclient.Client
	root   Account
	reg    *registry
}

// New validates cfg and returns an uninitialized harness. cfg is copied.
func New(cfg *config.Sandbox) (*Harness, error) {
	if cfg == nil {
		cfg = config.DefaultSandbox()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sandbox config: %w", err)
	}
	id := uuid.NewString()
	return &Harness{
		cfg:    cfg.Clone(),
		id:     id,
		logger: klog.WithInstance("sandbox", id[:8]),
		reg:    newRegistry(),
	}, nil
}

// Start is New followed by Init.
func Start(ctx context.Context, cfg *config.Sandbox) (*Harness, error) {
	h, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := h.Init(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Init boots or connects to the node and registers the root account. On
// failure everything acquired is released and the harness returns to
// StateUninitialized, so Init may be called again. A concurrent TearDown
// aborts a boot in progress.
func (h *Harness) Init(ctx context.Context) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	if s := h.State(); s != StateUninitialized {
		return fmt.Errorf("init: harness is %s", s)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !h.setBootCancel(cancel) {
		return fmt.Errorf("init: %w", ErrTornDown)
	}
	defer h.setBootCancel(nil)
	h.state.Store(int32(StateStarting))

	var err error
	if h.cfg.Network.IsRemote() {
		err = h.initRemote(ctx)
	} else {
		err = h.initSandbox(ctx)
	}
	if err == nil {
		err = h.reg.add(h.root)
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Init failed")
		if werr := h.release(context.WithoutCancel(ctx)); werr != nil {
			h.logger.Warn().Err(werr).Msg("Cleanup after failed init")
		}
		h.state.Store(int32(StateUninitialized))
		return err
	}

	h.state.Store(int32(StateReady))
	h.logger.Info().
		Str("network", string(h.cfg.Network)).
		Str("endpoint", h.client.Endpoint()).
		Str("root", string(h.root.ID)).
		Msg("Sandbox ready")
	return nil
}

// setBootCancel records the cancel func of the boot in progress. It reports
// false once TearDown has begun.
func (h *Harness) setBootCancel(cancel context.CancelFunc) bool {
	h.bootMu.Lock()
	defer h.bootMu.Unlock()
	if cancel != nil && h.closing {
		return false
	}
	h.bootCancel = cancel
	return true
}

func (h *Harness) initSandbox(ctx context.Context) error {
	proc, err := StartNode(ctx, ProcessConfig{
		Binary:         h.cfg.Binary,
		HomeDir:        h.cfg.HomeDir,
		RefDir:         h.cfg.RefDir,
		RM:             h.cfg.RM,
		Port:           h.cfg.Port,
		RootAccount:    h.cfg.RootAccountID,
		RootBalance:    h.cfg.RootBalance,
		BlockTime:      h.cfg.BlockTime,
		LogLevel:       h.cfg.LogLevel,
		StartupTimeout: h.cfg.StartupTimeout,
		StopGrace:      h.cfg.StopGrace,
		RequestTimeout: h.cfg.RequestTimeout,
	})
	if err != nil {
		return err
	}
	h.proc = proc
	h.client = proc.Client()

	creds, err := crypto.LoadFromFile(filepath.Join(proc.Home(), config.ValidatorKeyFileName))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNodeStartupFailed, err)
	}
	h.root = Account{ID: creds.AccountID, Key: creds.Key}
	return nil
}

func (h *Harness) initRemote(ctx context.Context) error {
	creds, err := keystore.LoadCredentials(h.cfg.CredentialsFile, []byte(h.cfg.CredentialsPassphrase))
	if err != nil {
		return err
	}
	if h.cfg.MasterAccountID != "" && creds.AccountID != h.cfg.MasterAccountID {
		return fmt.Errorf("credentials file is for %s, master account is %s", creds.AccountID, h.cfg.MasterAccountID)
	}

	client := rpcclient.NewWithTimeout(h.cfg.RPCAddr, h.cfg.RequestTimeout)
	if _, err := client.Status(ctx); err != nil {
		return err
	}
	if _, err := client.ViewAccessKey(ctx, rpcclient.BlockRef{}, creds.AccountID, creds.Key.PublicKey()); err != nil {
		return fmt.Errorf("master account %s: %w", creds.AccountID, err)
	}
	h.client = client
	h.root = Account{ID: creds.AccountID, Key: creds.Key}
	return nil
}

// TearDown stops the node and releases its resources. It is safe to call
// more than once, in any state; only the first call does work. A non-nil
// result is a *TeardownWarning meant for logging.
func (h *Harness) TearDown(ctx context.Context) error {
	h.bootMu.Lock()
	h.closing = true
	if h.bootCancel != nil {
		h.bootCancel()
	}
	h.bootMu.Unlock()

	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	if h.State() == StateTornDown {
		return nil
	}
	err := h.release(ctx)
	h.state.Store(int32(StateTornDown))
	if err != nil {
		h.logger.Warn().Err(err).Msg("Teardown incomplete")
	}
	return err
}

func (h *Harness) release(ctx context.Context) error {
	if h.proc == nil {
		return nil
	}
	err := h.proc.Stop(ctx)
	h.proc = nil
	return err
}

// requireReady guards every chain operation.
func (h *Harness) requireReady() error {
	switch s := h.State(); s {
	case StateReady:
		return nil
	case StateTornDown:
		return ErrTornDown
	default:
		return fmt.Errorf("%w: %s", ErrNotReady, s)
	}
}

// ── Accessors ──────────────────────────────────────────────────────────

// State returns the lifecycle state.
func (h *Harness) State() State { return State(h.state.Load()) }

// Config returns a copy of the harness configuration.
func (h *Harness) Config() *config.Sandbox { return h.cfg.Clone() }

// Client returns the RPC client, nil before Init.
func (h *Harness) Client() *rpcclient.Client { return h.client }

// Root returns the root (sandbox) or master (remote) account.
func (h *Harness) Root() Account { return h.root }

// IsSandbox reports whether the harness owns its node.
func (h *Harness) IsSandbox() bool { return !h.cfg.Network.IsRemote() }

// Home returns the node home directory, or "" in remote modes.
func (h *Harness) Home() string {
	if p := h.node(); p != nil {
		return p.Home()
	}
	return ""
}

func (h *Harness) node() *NodeProcess {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	return h.proc
}

// Account returns the registered account with id.
func (h *Harness) Account(id types.AccountID) (Account, bool) {
	return h.reg.get(id)
}

// Accounts returns every registered account.
func (h *Harness) Accounts() []Account {
	return h.reg.list()
}

// ── Chain ──────────────────────────────────────────────────────────────

// Block returns the head block at finality.
func (h *Harness) Block(ctx context.Context, finality types.Finality) (*types.BlockInfo, error) {
	if err := h.requireReady(); err != nil {
		return nil, err
	}
	res, err := h.client.Block(ctx, rpcclient.Finality(finality))
	if err != nil {
		return nil, err
	}
	return &res.BlockInfo, nil
}

// FastForward skips delta heights without waiting for block time.
func (h *Harness) FastForward(ctx context.Context, delta int64) (*types.BlockInfo, error) {
	if err := h.requireReady(); err != nil {
		return nil, err
	}
	if !h.IsSandbox() {
		return nil, ErrFastForwardUnsupported
	}
	proc := h.node()
	if proc == nil {
		return nil, ErrTornDown
	}
	return proc.FastForward(ctx, delta)
}
