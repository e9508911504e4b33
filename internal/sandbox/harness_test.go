package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingnet-sandbox/config"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

func TestHarness_Greeter(t *testing.T) {
	ctx := testCtx(t)
	h := startHarness(t, testConfig(t))
	require.Equal(t, StateReady, h.State())
	require.Equal(t, types.AccountID(config.DefaultRootAccount), h.Root().ID)

	contract, err := h.DevDeploy(ctx, h.Root().ID, greeterCode(t))
	require.NoError(t, err)

	var greeting string
	require.NoError(t, h.View(ctx, contract.ID, "get_greeting", nil, &greeting))
	require.Equal(t, "Hello", greeting)

	out, err := h.Call(ctx, contract.ID, contract.ID, "set_greeting", map[string]string{"greeting": "Howdy"})
	require.NoError(t, err)
	require.Equal(t, []string{"Saving greeting Howdy"}, out.Logs)

	require.NoError(t, h.View(ctx, contract.ID, "get_greeting", nil, &greeting))
	require.Equal(t, "Howdy", greeting)

	proc := h.node()
	require.NoError(t, h.TearDown(ctx))
	require.Equal(t, StateTornDown, h.State())
	require.True(t, proc.Exited())
	require.NoError(t, h.TearDown(ctx), "second teardown must be a no-op")

	_, err = h.Block(ctx, types.FinalityFinal)
	require.ErrorIs(t, err, ErrTornDown)
}

func TestHarness_SubAccounts(t *testing.T) {
	ctx := testCtx(t)
	h := startHarness(t, testConfig(t))
	root := h.Root().ID

	_, known := h.Account(root.Sub("alice"))
	require.False(t, known)

	alice, err := h.CreateSubAccount(ctx, root, "alice")
	require.NoError(t, err)
	require.Equal(t, types.AccountID("alice.test.near"), alice.ID)
	require.Equal(t, root, alice.Parent)

	bal, err := h.Balance(ctx, alice.ID)
	require.NoError(t, err)
	require.Zero(t, bal.Total.Cmp(h.Config().InitialBalance))

	_, err = h.CreateSubAccount(ctx, root, "alice")
	require.ErrorIs(t, err, ErrDuplicateAccount)

	// Sub-accounts of sub-accounts are signed by their own parent.
	bob, err := h.CreateSubAccount(ctx, alice.ID, "bob", WithInitialBalance(types.Tokens(5)))
	require.NoError(t, err)
	require.Equal(t, types.AccountID("bob.alice.test.near"), bob.ID)

	_, err = h.CreateSubAccount(ctx, root, "Not Valid")
	require.ErrorIs(t, err, ErrInvalidAccountID)

	key := crypto.MustGenerate(crypto.ED25519)
	dave, err := h.CreateSubAccount(ctx, root, "dave", WithKey(key))
	require.NoError(t, err)
	require.Same(t, key, dave.Key)
}

func TestHarness_InsufficientFunds(t *testing.T) {
	ctx := testCtx(t)
	h := startHarness(t, testConfig(t))
	root := h.Root().ID

	poor, err := h.CreateSubAccount(ctx, root, "poor", WithInitialBalance(types.Tokens(1)))
	require.NoError(t, err)

	_, err = h.CreateSubAccount(ctx, poor.ID, "child", WithInitialBalance(types.Tokens(2)))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, KindChainRejection, KindOf(err))

	// The failed attempt released its reservation.
	tenth, err := types.ParseBalance("100000000000000000000000")
	require.NoError(t, err)
	_, err = h.CreateSubAccount(ctx, poor.ID, "child", WithInitialBalance(tenth))
	require.NoError(t, err)

	_, err = h.Transfer(ctx, poor.ID, root, types.Tokens(50))
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestHarness_CreateAccountWithKey(t *testing.T) {
	ctx := testCtx(t)
	h := startHarness(t, testConfig(t))
	root := h.Root().ID
	key := crypto.MustGenerate(crypto.SECP256K1)

	_, err := h.CreateAccountWithKey(ctx, root, "carol.other.near", key, types.Tokens(1))
	require.ErrorIs(t, err, ErrInvalidAccountID)
	_, err = h.CreateAccountWithKey(ctx, root, "deep.carol.test.near", key, types.Tokens(1))
	require.ErrorIs(t, err, ErrInvalidAccountID)

	carol, err := h.CreateAccountWithKey(ctx, root, "carol.test.near", key, types.Tokens(1))
	require.NoError(t, err)
	require.True(t, carol.Key.PublicKey().Equal(key.PublicKey()))

	// The secp256k1 key signs for the new account.
	_, err = h.Transfer(ctx, carol.ID, root, types.NewBalance(1000))
	require.NoError(t, err)
}

func TestHarness_DevAccountsDistinct(t *testing.T) {
	ctx := testCtx(t)
	h := startHarness(t, testConfig(t))

	const n = 5
	seen := make(map[types.AccountID]bool)
	for i := 0; i < n; i++ {
		acc, err := h.CreateDevAccount(ctx, h.Root().ID)
		require.NoError(t, err)
		require.True(t, acc.ID.IsDirectSubOf(h.Root().ID))
		require.Regexp(t, `^dev-\d{14}-\d+\.test\.near$`, string(acc.ID))
		require.False(t, seen[acc.ID], "duplicate dev id %s", acc.ID)
		seen[acc.ID] = true
	}
	require.Len(t, h.Accounts(), n+1)
}

func TestHarness_DeployRejected(t *testing.T) {
	ctx := testCtx(t)
	h := startHarness(t, testConfig(t))

	acc, err := h.CreateSubAccount(ctx, h.Root().ID, "broken")
	require.NoError(t, err)
	_, err = h.Deploy(ctx, acc.ID, []byte("function ("))
	require.ErrorIs(t, err, ErrDeploymentRejected)

	_, err = h.Deploy(ctx, acc.ID, []byte("\x00asm\x01\x00\x00\x00"))
	require.ErrorIs(t, err, ErrDeploymentRejected)

	path := filepath.Join(t.TempDir(), "greeter.js")
	require.NoError(t, os.WriteFile(path, greeterCode(t), 0o644))
	_, err = h.DeployFile(ctx, acc.ID, path)
	require.NoError(t, err)

	code, err := h.ViewCode(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, greeterCode(t), code)
}

func TestHarness_PatchStateThenView(t *testing.T) {
	ctx := testCtx(t)
	h := startHarness(t, testConfig(t))

	contract, err := h.DevDeploy(ctx, h.Root().ID, greeterCode(t))
	require.NoError(t, err)

	value := []byte(`{"greeting":"Hola",  "extra": [1, 2]}`)
	require.NoError(t, h.PatchState(ctx, contract.ID, []byte("STATE"), value))

	var raw string
	require.NoError(t, h.View(ctx, contract.ID, "raw", map[string]string{"key": "STATE"}, &raw))
	require.Equal(t, string(value), raw, "patched bytes must come back unchanged")

	var greeting string
	require.NoError(t, h.View(ctx, contract.ID, "get_greeting", nil, &greeting))
	require.Equal(t, "Hola", greeting)

	state, err := h.ViewState(ctx, contract.ID, []byte("ST"))
	require.NoError(t, err)
	require.Equal(t, value, state["STATE"])

	// Bytes that are not UTF-8 reach the contract unchanged through readBytes.
	bin := []byte{0xff, 0xfe, 'a'}
	require.NoError(t, h.PatchState(ctx, contract.ID, []byte("BIN"), bin))
	var got []byte
	var ints []int
	require.NoError(t, h.View(ctx, contract.ID, "raw_bytes", map[string]string{"key": "BIN"}, &ints))
	for _, b := range ints {
		got = append(got, byte(b))
	}
	require.Equal(t, bin, got)
}

// blockInfo is what the greeter's block_info view reports.
type blockInfo struct {
	Height    uint64 `json:"height"`
	Timestamp string `json:"timestamp"`
	Epoch     uint64 `json:"epoch"`
}

func TestHarness_FastForward(t *testing.T) {
	ctx := testCtx(t)
	h := startHarness(t, testConfig(t))

	contract, err := h.DevDeploy(ctx, h.Root().ID, greeterCode(t))
	require.NoError(t, err)

	before, err := h.Block(ctx, types.FinalityFinal)
	require.NoError(t, err)
	var envBefore blockInfo
	require.NoError(t, h.View(ctx, contract.ID, "block_info", nil, &envBefore))

	after, err := h.FastForward(ctx, config.DefaultEpochLength)
	require.NoError(t, err)
	require.GreaterOrEqual(t, after.Height, before.Height+config.DefaultEpochLength)
	require.Greater(t, after.Timestamp, before.Timestamp)
	require.Greater(t, after.EpochHeight, before.EpochHeight)

	head, err := h.Block(ctx, types.FinalityFinal)
	require.NoError(t, err)
	require.GreaterOrEqual(t, head.Height, after.Height)
	require.GreaterOrEqual(t, head.Timestamp, after.Timestamp)

	// Contract views run against the fast-forwarded head.
	var envAfter blockInfo
	require.NoError(t, h.View(ctx, contract.ID, "block_info", nil, &envAfter))
	require.GreaterOrEqual(t, envAfter.Height, envBefore.Height+config.DefaultEpochLength)
	tsBefore, err := strconv.ParseUint(envBefore.Timestamp, 10, 64)
	require.NoError(t, err)
	tsAfter, err := strconv.ParseUint(envAfter.Timestamp, 10, 64)
	require.NoError(t, err)
	require.Greater(t, tsAfter, tsBefore)
	require.Greater(t, envAfter.Epoch, envBefore.Epoch)

	for _, delta := range []int64{0, -1} {
		_, err = h.FastForward(ctx, delta)
		require.ErrorIs(t, err, ErrInvalidDelta)
	}
}

func TestHarness_TearDownAbortsInit(t *testing.T) {
	t.Setenv(helperEnv, "hang")
	cfg := testConfig(t)
	cfg.StartupTimeout = time.Minute

	h, err := New(cfg)
	require.NoError(t, err)

	initErr := make(chan error, 1)
	go func() { initErr <- h.Init(context.Background()) }()
	require.Eventually(t, func() bool { return h.State() == StateStarting },
		10*time.Second, 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, h.TearDown(context.Background()))
	require.Less(t, time.Since(start), 10*time.Second)
	require.Equal(t, StateTornDown, h.State())

	select {
	case err := <-initErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Init did not return after TearDown")
	}
	require.Error(t, h.Init(context.Background()), "a torn down harness stays down")
}

// remoteHarness points a custom-network harness at src's node, signing as
// src's root.
func remoteHarness(t *testing.T, src *Harness) *Harness {
	t.Helper()
	cfg := testConfig(t)
	cfg.Network = config.NetworkCustom
	cfg.RPCAddr = src.Client().Endpoint()
	cfg.CredentialsFile = filepath.Join(src.Home(), config.ValidatorKeyFileName)
	return startHarness(t, cfg)
}

func TestHarness_RemoteMode(t *testing.T) {
	ctx := testCtx(t)
	src := startHarness(t, testConfig(t))
	contract, err := src.DevDeploy(ctx, src.Root().ID, greeterCode(t))
	require.NoError(t, err)

	remote := remoteHarness(t, src)
	require.False(t, remote.IsSandbox())
	require.Equal(t, src.Root().ID, remote.Root().ID)
	require.Empty(t, remote.Home())

	err = remote.PatchState(ctx, contract.ID, []byte("STATE"), []byte(`{"greeting":"Patched"}`))
	require.ErrorIs(t, err, ErrPatchUnsupportedOnRemoteNetwork)

	var greeting string
	require.NoError(t, src.View(ctx, contract.ID, "get_greeting", nil, &greeting))
	require.Equal(t, "Hello", greeting, "a refused patch must leave state unchanged")

	_, err = remote.FastForward(ctx, 10)
	require.ErrorIs(t, err, ErrFastForwardUnsupported)

	// Ordinary calls are proxied.
	require.NoError(t, remote.View(ctx, contract.ID, "get_greeting", nil, &greeting))
	require.Equal(t, "Hello", greeting)
	acc, err := remote.CreateSubAccount(ctx, remote.Root().ID, "viaremote")
	require.NoError(t, err)
	_, err = src.ViewAccount(ctx, acc.ID)
	require.NoError(t, err)

	// Tearing down the proxy leaves the source node alone.
	require.NoError(t, remote.TearDown(ctx))
	_, err = src.Block(ctx, types.FinalityOptimistic)
	require.NoError(t, err)
}

func TestHarness_RemoteBadCredentials(t *testing.T) {
	src := startHarness(t, testConfig(t))

	cfg := testConfig(t)
	cfg.Network = config.NetworkTestnet
	cfg.RPCAddr = src.Client().Endpoint()
	cfg.CredentialsFile = filepath.Join(t.TempDir(), "missing.json")
	h, err := New(cfg)
	require.NoError(t, err)
	err = h.Init(context.Background())
	require.ErrorIs(t, err, crypto.ErrCredentialsNotFound)
	require.Equal(t, StateUninitialized, h.State())
}

func TestHarness_ImportContract(t *testing.T) {
	ctx := testCtx(t)
	src := startHarness(t, testConfig(t))
	contract, err := src.DevDeploy(ctx, src.Root().ID, greeterCode(t))
	require.NoError(t, err)
	_, err = src.Call(ctx, contract.ID, contract.ID, "set_greeting", map[string]string{"greeting": "Forked"})
	require.NoError(t, err)

	dst := startHarness(t, testConfig(t))
	local, err := dst.ImportContract(ctx, ImportRequest{
		SourceRPC: src.Client().Endpoint(),
		AccountID: contract.ID,
		WithData:  true,
	})
	require.NoError(t, err)
	require.Equal(t, contract.ID, local.ID)

	var greeting string
	require.NoError(t, dst.View(ctx, local.ID, "get_greeting", nil, &greeting))
	require.Equal(t, "Forked", greeting)

	// The imported account is usable with its new key.
	_, err = dst.Call(ctx, local.ID, local.ID, "set_greeting", map[string]string{"greeting": "Local"})
	require.NoError(t, err)

	_, err = dst.ImportContract(ctx, ImportRequest{SourceRPC: src.Client().Endpoint(), AccountID: contract.ID})
	require.ErrorIs(t, err, ErrDuplicateAccount)

	codeOnly, err := dst.ImportContract(ctx, ImportRequest{
		SourceRPC: src.Client().Endpoint(),
		AccountID: contract.ID,
		LocalID:   "fresh.test.near",
	})
	require.NoError(t, err)
	require.NoError(t, dst.View(ctx, codeOnly.ID, "get_greeting", nil, &greeting))
	require.Equal(t, "Hello", greeting, "code-only import starts from empty state")

	height := uint64(1) << 40
	_, err = dst.ImportContract(ctx, ImportRequest{
		SourceRPC:   src.Client().Endpoint(),
		AccountID:   contract.ID,
		BlockHeight: &height,
		LocalID:     "late.test.near",
	})
	require.ErrorIs(t, err, ErrBlockNotFound)

	_, err = dst.ImportContract(ctx, ImportRequest{
		SourceRPC: "http://127.0.0.1:1",
		AccountID: contract.ID,
		LocalID:   "gone.test.near",
	})
	require.ErrorIs(t, err, ErrImportSourceUnreachable)
	require.Equal(t, KindTransport, KindOf(err))
}

func TestHarness_InitFailureIsRetryable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Binary = filepath.Join(t.TempDir(), "no-such-sandboxd")
	h, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err = h.Init(context.Background())
		require.ErrorIs(t, err, ErrNodeStartupFailed)
		require.Equal(t, KindStartup, KindOf(err))
		require.Equal(t, StateUninitialized, h.State())
	}

	_, err = h.CreateDevAccount(context.Background(), "test.near")
	require.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, h.TearDown(context.Background()))
	require.Error(t, h.Init(context.Background()), "a torn down harness cannot be re-initialized")
}

func TestHarness_ParallelInstances(t *testing.T) {
	probe, err := reservePort(0)
	require.NoError(t, err)
	port := probe.port
	require.NoError(t, probe.release())

	const n = 3
	harnesses := make([]*Harness, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg := testConfig(t)
			cfg.Port = port
			harnesses[i], errs[i] = Start(context.Background(), cfg)
		}(i)
	}
	wg.Wait()

	endpoints := make(map[string]bool)
	homes := make(map[string]bool)
	for i, h := range harnesses {
		require.NoError(t, errs[i])
		t.Cleanup(func() { h.TearDown(context.Background()) })
		endpoints[h.Client().Endpoint()] = true
		homes[h.Home()] = true
	}
	require.Len(t, endpoints, n)
	require.Len(t, homes, n)

	// Each instance has its own chain.
	ctx := testCtx(t)
	for i, h := range harnesses {
		_, err := h.CreateSubAccount(ctx, h.Root().ID, fmt.Sprintf("only%d", i))
		require.NoError(t, err)
	}
	for i, h := range harnesses {
		for j := range harnesses {
			_, err := h.ViewAccount(ctx, types.AccountID(fmt.Sprintf("only%d.test.near", j)))
			if i == j {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		}
	}
}

func TestHarness_RefDirSeed(t *testing.T) {
	ctx := testCtx(t)
	refHome := t.TempDir()

	cfg := testConfig(t)
	cfg.HomeDir = refHome
	cfg.RM = false
	ref := startHarness(t, cfg)
	alice, err := ref.CreateSubAccount(ctx, ref.Root().ID, "alice")
	require.NoError(t, err)
	require.NoError(t, ref.TearDown(ctx))
	_, err = os.Stat(filepath.Join(refHome, config.GenesisFileName))
	require.NoError(t, err, "RM=false keeps the home")

	seeded := testConfig(t)
	seeded.RefDir = refHome
	h := startHarness(t, seeded)
	require.NotEqual(t, refHome, h.Home())
	require.True(t, h.Root().Key.PublicKey().Equal(ref.Root().Key.PublicKey()))

	_, err = h.ViewAccount(ctx, alice.ID)
	require.NoError(t, err)

	got, err := h.AccountFromSecretKey(alice.ID, alice.Key.SecretKey())
	require.NoError(t, err)
	_, err = h.Transfer(ctx, got.ID, h.Root().ID, types.Tokens(1))
	require.NoError(t, err)

	credsPath := filepath.Join(t.TempDir(), "alice.json")
	require.NoError(t, crypto.SaveToFile(credsPath, &crypto.Credentials{AccountID: alice.ID, Key: alice.Key}))
	fromFile, err := h.AccountFromFile(credsPath)
	require.NoError(t, err)
	require.Equal(t, alice.ID, fromFile.ID)

	_, err = h.AccountFromSecretKey(alice.ID, crypto.MustGenerate(crypto.ED25519).SecretKey())
	require.ErrorIs(t, err, ErrDuplicateAccount)
}
