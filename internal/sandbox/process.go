package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	klog "github.com/Klingon-tech/klingnet-sandbox/internal/log"
	"github.com/Klingon-tech/klingnet-sandbox/internal/rpc"
	"github.com/Klingon-tech/klingnet-sandbox/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// DefaultBinary is looked up on PATH when ProcessConfig.Binary is empty.
const DefaultBinary = "sandboxd"

// stderrTailSize is how much child stderr is kept for startup errors.
const stderrTailSize = 8 << 10

// ProcessConfig describes one sandboxd instance.
type ProcessConfig struct {
	Binary string
	// Args are passed to Binary before the generated flags.
	Args []string
	// Env is appended to the current environment.
	Env []string

	// HomeDir is the node home. Empty means <BaseDir>/sandbox/<uuid>.
	HomeDir string
	// BaseDir defaults to os.TempDir().
	BaseDir string
	// RefDir is copied into the home before the node starts.
	RefDir string
	// RM removes the home on Stop.
	RM bool

	Port        int
	RootAccount types.AccountID
	RootBalance types.Balance
	BlockTime   time.Duration
	LogLevel    string

	StartupTimeout time.Duration
	StopGrace      time.Duration
	RequestTimeout time.Duration
}

// NodeProcess is a running sandboxd child.
type NodeProcess struct {
	cfg      ProcessConfig
	cmd      *exec.Cmd
	home     string
	ownsHome bool
	port     int
	endpoint string
	client   *rpcclient.Client
	stderr   *tailBuffer
	logger   zerolog.Logger

	done    chan struct{} // closed when the child has been reaped
	waitErr error

	stopOnce sync.Once
	stopErr  error
}

// StartNode reserves a port, prepares a home and launches sandboxd. It
// returns once the node answers status, or fails with ErrNodeStartupTimeout
// or ErrNodeStartupFailed. On failure nothing is left running and a home
// created here is removed.
func StartNode(ctx context.Context, cfg ProcessConfig) (np *NodeProcess, err error) {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = os.TempDir()
	}

	res, err := reservePort(cfg.Port)
	if err != nil {
		return nil, err
	}
	// Our copy of the socket is never needed once the child has its own.
	defer res.release()

	home, ownsHome := cfg.HomeDir, false
	if home == "" {
		home = filepath.Join(cfg.BaseDir, "sandbox", uuid.NewString())
		ownsHome = true
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHomeDir, err)
	}
	defer func() {
		if err != nil && ownsHome {
			os.RemoveAll(home)
		}
	}()
	if cfg.RefDir != "" {
		if err := copyTree(cfg.RefDir, home); err != nil {
			return nil, fmt.Errorf("%w: seed from %s: %v", ErrHomeDir, cfg.RefDir, err)
		}
	}

	np = &NodeProcess{
		cfg:      cfg,
		home:     home,
		ownsHome: ownsHome,
		port:     res.port,
		endpoint: "http://127.0.0.1:" + strconv.Itoa(res.port),
		stderr:   newTailBuffer(stderrTailSize),
		logger:   klog.WithInstance("process", filepath.Base(home)),
		done:     make(chan struct{}),
	}
	np.client = rpcclient.NewWithTimeout(np.endpoint, cfg.RequestTimeout)

	lnFile, err := res.file()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPortExhausted, err)
	}
	defer lnFile.Close()

	np.cmd = exec.Command(cfg.Binary, append(append([]string{}, cfg.Args...), np.nodeArgs()...)...)
	np.cmd.Env = append(os.Environ(), cfg.Env...)
	np.cmd.ExtraFiles = []*os.File{lnFile} // fd 3 in the child
	np.cmd.Stdout = io.Discard
	np.cmd.Stderr = np.stderr

	if err := np.cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNodeStartupFailed, err)
	}
	go func() {
		np.waitErr = np.cmd.Wait()
		close(np.done)
	}()

	np.logger.Debug().
		Int("pid", np.cmd.Process.Pid).
		Int("port", np.port).
		Str("home", home).
		Msg("Sandbox node launched")

	if err := np.waitReady(ctx); err != nil {
		np.kill()
		return nil, err
	}
	np.logger.Info().Str("endpoint", np.endpoint).Msg("Sandbox node ready")
	return np, nil
}

func (np *NodeProcess) nodeArgs() []string {
	args := []string{
		"--home", np.home,
		"--rpc-fd", "3",
		"--rpc-port", strconv.Itoa(np.port),
		"--rpc-addr", "127.0.0.1",
	}
	if np.cfg.RootAccount != "" {
		args = append(args, "--root-account", string(np.cfg.RootAccount))
	}
	if !np.cfg.RootBalance.IsZero() {
		args = append(args, "--initial-balance", np.cfg.RootBalance.String())
	}
	if np.cfg.BlockTime > 0 {
		args = append(args, "--block-time", np.cfg.BlockTime.String())
	}
	if np.cfg.LogLevel != "" {
		args = append(args, "--log-level", np.cfg.LogLevel)
	}
	return args
}

// waitReady polls status until it succeeds, the child exits or the startup
// timeout elapses.
func (np *NodeProcess) waitReady(ctx context.Context) error {
	timeout := np.cfg.StartupTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	go func() {
		select {
		case <-np.done:
			cancel()
		case <-probeCtx.Done():
		}
	}()

	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  rpc.MethodStatus,
	})
	if err != nil {
		return err
	}

	client := retryablehttp.NewClient()
	client.RetryMax = int(timeout / (10 * time.Millisecond))
	client.RetryWaitMin = 10 * time.Millisecond
	client.RetryWaitMax = 250 * time.Millisecond
	client.HTTPClient.Timeout = time.Second
	client.Logger = nil
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil || resp.StatusCode != http.StatusOK, nil
	}

	req, err := retryablehttp.NewRequestWithContext(probeCtx, http.MethodPost, np.endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err == nil {
		var status struct {
			Result json.RawMessage `json:"result"`
			Error  *rpc.Error      `json:"error"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if decodeErr == nil && status.Error == nil && len(status.Result) > 0 {
			return nil
		}
		err = fmt.Errorf("unexpected status response")
	}

	select {
	case <-np.done:
		return fmt.Errorf("%w: %s; stderr: %s", ErrNodeStartupFailed, exitDescription(np.waitErr), np.stderr.String())
	default:
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if probeCtx.Err() != nil {
		return fmt.Errorf("%w after %s", ErrNodeStartupTimeout, timeout)
	}
	return fmt.Errorf("%w: %v", ErrNodeStartupFailed, err)
}

func exitDescription(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ProcessState.String()
	}
	if err == nil {
		return "exited with status 0"
	}
	return err.Error()
}

// kill terminates the child without grace and waits for it.
func (np *NodeProcess) kill() {
	if np.cmd.Process != nil {
		np.cmd.Process.Kill()
	}
	<-np.done
}

// Stop sends SIGTERM, waits up to StopGrace, then kills. The home is removed
// when RM is set. Cleanup problems are returned as a *TeardownWarning.
// Only the first call does anything.
func (np *NodeProcess) Stop(ctx context.Context) error {
	np.stopOnce.Do(func() {
		np.stopErr = teardownWarning(np.stop(ctx))
	})
	return np.stopErr
}

func (np *NodeProcess) stop(ctx context.Context) error {
	var errs error

	select {
	case <-np.done:
		np.logger.Warn().Str("exit", exitDescription(np.waitErr)).Msg("Sandbox node exited before stop")
	default:
		if err := np.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = multierr.Append(errs, fmt.Errorf("signal node: %w", err))
		}
		grace := time.NewTimer(np.cfg.StopGrace)
		defer grace.Stop()
		select {
		case <-np.done:
		case <-grace.C:
			errs = multierr.Append(errs, fmt.Errorf("node did not exit within %s, killed", np.cfg.StopGrace))
			np.kill()
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("stop interrupted: %w, killed", ctx.Err()))
			np.kill()
		}
	}

	if np.cfg.RM {
		if err := os.RemoveAll(np.home); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remove home: %w", err))
		}
	}
	np.logger.Debug().Bool("removed_home", np.cfg.RM).Msg("Sandbox node stopped")
	return errs
}

// FastForward asks the node to skip delta heights.
func (np *NodeProcess) FastForward(ctx context.Context, delta int64) (*types.BlockInfo, error) {
	if delta <= 0 {
		return nil, ErrInvalidDelta
	}
	return np.client.FastForward(ctx, delta)
}

// Client returns an RPC client for the node.
func (np *NodeProcess) Client() *rpcclient.Client { return np.client }

// Endpoint returns the node's RPC URL.
func (np *NodeProcess) Endpoint() string { return np.endpoint }

// Home returns the node's home directory.
func (np *NodeProcess) Home() string { return np.home }

// Port returns the node's RPC port.
func (np *NodeProcess) Port() int { return np.port }

// PID returns the child's process id.
func (np *NodeProcess) PID() int { return np.cmd.Process.Pid }

// Exited reports whether the child has exited.
func (np *NodeProcess) Exited() bool {
	select {
	case <-np.done:
		return true
	default:
		return false
	}
}

// Stderr returns the last bytes the child wrote to stderr.
func (np *NodeProcess) Stderr() string { return np.stderr.String() }

// copyTree copies the regular files and directories under src into dst.
func copyTree(src, dst string) error {
	conf := fastwalk.Config{Follow: false}
	return fastwalk.Walk(&conf, src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	// Walk callbacks run concurrently, so the parent may not exist yet.
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf))
}
