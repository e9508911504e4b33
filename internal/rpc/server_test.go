package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-sandbox/config"
	"github.com/Klingon-tech/klingnet-sandbox/internal/chain"
	klog "github.com/Klingon-tech/klingnet-sandbox/internal/log"
	"github.com/Klingon-tech/klingnet-sandbox/internal/storage"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/tx"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

const root = types.AccountID("test.near")

const greeter = `
function get_greeting() {
  const raw = storage.read("STATE");
  return raw === null ? "Hello" : JSON.parse(raw).greeting;
}
function set_greeting(args) {
  env.log("Saving greeting " + args.greeting);
  storage.write("STATE", JSON.stringify({ greeting: args.greeting }));
}
`

// testEnv holds all components for an RPC test.
type testEnv struct {
	server  *Server
	chain   *chain.Chain
	genesis *config.Genesis
	rootKey *crypto.KeyPair
	url     string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	rootKey := crypto.MustGenerate(crypto.ED25519)
	gen, err := config.NewSandboxGenesis(config.GenesisParams{
		ChainID:     "sandbox-test-rpc",
		RootAccount: string(root),
		RootBalance: config.DefaultRootBalance,
		BlockTime:   time.Second,
	}, rootKey.PublicKey(), time.Now())
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}

	ch, err := chain.New(gen, storage.NewMemory())
	if err != nil {
		t.Fatalf("create chain: %v", err)
	}
	if err := ch.InitFromGenesis(); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	// Create and start RPC server on random port.
	srv := New("127.0.0.1:0", ch)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		server:  srv,
		chain:   ch,
		genesis: gen,
		rootKey: rootKey,
		url:     fmt.Sprintf("http://%s/", srv.Addr()),
	}
}

// rpcResponse mirrors Response with a raw result for typed decoding.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

func rpcCall(t *testing.T, url, method string, params interface{}) rpcResponse {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  raw,
		ID:      1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rpcResp
}

func mustResult(t *testing.T, resp rpcResponse, target interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	if err := json.Unmarshal(resp.Result, target); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func wantErrorName(t *testing.T, resp rpcResponse, name string) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected %s error, got result %s", name, resp.Result)
	}
	if resp.Error.Data == nil || resp.Error.Data.Name != name {
		t.Fatalf("error = %+v, want name %s", resp.Error, name)
	}
}

func (e *testEnv) broadcast(t *testing.T, signer types.AccountID, kp *crypto.KeyPair, receiver types.AccountID, build func(*tx.Builder)) rpcResponse {
	t.Helper()
	ak, err := e.chain.ViewAccessKey(signer, kp.PublicKey())
	if err != nil {
		t.Fatalf("access key: %v", err)
	}
	b := tx.NewBuilder(signer, kp.PublicKey(), ak.Nonce+1, receiver)
	build(b)
	stx, err := b.Build().Sign(kp)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return rpcCall(t, e.url, MethodBroadcastTxCommit, BroadcastTxParams{SignedTransaction: stx})
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestRPC_Status(t *testing.T) {
	env := setupTestEnv(t)

	var result StatusResult
	mustResult(t, rpcCall(t, env.url, MethodStatus, nil), &result)

	if result.ChainID != "sandbox-test-rpc" {
		t.Errorf("chain_id = %q, want %q", result.ChainID, "sandbox-test-rpc")
	}
	if result.LatestBlock.Height != 0 {
		t.Errorf("height = %d, want 0", result.LatestBlock.Height)
	}
	if result.GenesisHash != env.chain.GenesisHash() {
		t.Error("genesis hash mismatch")
	}
	if result.Registrar != root {
		t.Errorf("registrar = %s", result.Registrar)
	}
}

func TestRPC_Block(t *testing.T) {
	env := setupTestEnv(t)
	if _, err := env.chain.ProduceBlock(); err != nil {
		t.Fatal(err)
	}

	var head BlockResult
	mustResult(t, rpcCall(t, env.url, MethodBlock, BlockParams{BlockReference{Finality: types.FinalityFinal}}), &head)
	if head.Height != 1 {
		t.Errorf("final height = %d, want 1", head.Height)
	}

	var byHash BlockResult
	mustResult(t, rpcCall(t, env.url, MethodBlock, BlockParams{BlockReference{BlockID: &BlockID{Hash: &head.PrevHash}}}), &byHash)
	if byHash.Height != 0 {
		t.Errorf("block by hash height = %d, want 0", byHash.Height)
	}

	zero := uint64(0)
	var byHeight BlockResult
	mustResult(t, rpcCall(t, env.url, MethodBlock, BlockParams{BlockReference{BlockID: &BlockID{Height: &zero}}}), &byHeight)
	if byHeight.Hash != byHash.Hash {
		t.Error("block 0 by height and by hash differ")
	}

	missing := uint64(99)
	wantErrorName(t, rpcCall(t, env.url, MethodBlock, BlockParams{BlockReference{BlockID: &BlockID{Height: &missing}}}), "UnknownBlock")
	wantErrorName(t, rpcCall(t, env.url, MethodBlock, BlockParams{BlockReference{Finality: "soon"}}), "InvalidParams")
}

func TestRPC_DeployCallView(t *testing.T) {
	env := setupTestEnv(t)
	id := root.Sub("greeter")
	kp := crypto.MustGenerate(crypto.ED25519)

	resp := env.broadcast(t, root, env.rootKey, id, func(b *tx.Builder) {
		b.CreateAccount().Transfer(types.Tokens(10)).AddKey(kp.PublicKey()).DeployContract([]byte(greeter))
	})
	var created chain.Outcome
	mustResult(t, resp, &created)
	if created.BlockHeight != 1 {
		t.Errorf("block height = %d, want 1", created.BlockHeight)
	}

	view := func() string {
		var res chain.CallResult
		mustResult(t, rpcCall(t, env.url, MethodQuery, QueryParams{
			RequestType: QueryCallFunction,
			AccountID:   id,
			MethodName:  "get_greeting",
		}), &res)
		var s string
		if err := json.Unmarshal(res.Result, &s); err != nil {
			t.Fatalf("decode greeting: %v", err)
		}
		return s
	}
	if got := view(); got != "Hello" {
		t.Fatalf("greeting = %q, want Hello", got)
	}

	var out chain.Outcome
	mustResult(t, env.broadcast(t, id, kp, id, func(b *tx.Builder) {
		b.FunctionCall("set_greeting", []byte(`{"greeting":"Howdy"}`), types.Balance{})
	}), &out)
	if len(out.Logs) != 1 || out.Logs[0] != "Saving greeting Howdy" {
		t.Errorf("logs = %v", out.Logs)
	}
	if got := view(); got != "Howdy" {
		t.Errorf("greeting = %q, want Howdy", got)
	}

	var txr TxResult
	mustResult(t, rpcCall(t, env.url, MethodTx, TxParams{TxHash: out.TxHash}), &txr)
	if txr.BlockHeight != out.BlockHeight {
		t.Errorf("tx block height = %d, want %d", txr.BlockHeight, out.BlockHeight)
	}
}

func TestRPC_QueryAccount(t *testing.T) {
	env := setupTestEnv(t)

	var acc chain.AccountView
	mustResult(t, rpcCall(t, env.url, MethodQuery, QueryParams{RequestType: QueryViewAccount, AccountID: root}), &acc)
	if acc.AccountID != root || acc.Amount.IsZero() {
		t.Errorf("account = %+v", acc)
	}

	var ak chain.AccessKeyView
	mustResult(t, rpcCall(t, env.url, MethodQuery, QueryParams{
		RequestType: QueryViewAccessKey,
		AccountID:   root,
		PublicKey:   env.rootKey.PublicKey().String(),
	}), &ak)
	if ak.Permission != chain.PermissionFullAccess {
		t.Errorf("permission = %q", ak.Permission)
	}

	wantErrorName(t, rpcCall(t, env.url, MethodQuery, QueryParams{RequestType: QueryViewAccount, AccountID: "ghost.test.near"}), "AccountDoesNotExist")
	wantErrorName(t, rpcCall(t, env.url, MethodQuery, QueryParams{RequestType: "view_everything", AccountID: root}), "InvalidParams")
	wantErrorName(t, rpcCall(t, env.url, MethodQuery, QueryParams{RequestType: QueryViewCode, AccountID: root}), "CodeDoesNotExist")
}

func TestRPC_FastForward(t *testing.T) {
	env := setupTestEnv(t)

	var info types.BlockInfo
	mustResult(t, rpcCall(t, env.url, MethodFastForward, FastForwardParams{DeltaHeight: 1000}), &info)
	if info.Height != 1000 {
		t.Errorf("height = %d, want 1000", info.Height)
	}

	for _, delta := range []int64{0, -5} {
		wantErrorName(t, rpcCall(t, env.url, MethodFastForward, FastForwardParams{DeltaHeight: delta}), "InvalidDelta")
	}
}

func TestRPC_PatchStateThenView(t *testing.T) {
	env := setupTestEnv(t)
	value := []byte{0x00, 0xff, '"', 'x'}

	var res PatchStateResult
	mustResult(t, rpcCall(t, env.url, MethodPatchState, PatchStateParams{Records: []chain.StateRecord{{
		Data: &chain.DataRecord{AccountID: root, Key: []byte("slot"), Value: value},
	}}}), &res)
	if res.Records != 1 {
		t.Errorf("records = %d, want 1", res.Records)
	}

	var view chain.StateView
	mustResult(t, rpcCall(t, env.url, MethodQuery, QueryParams{
		RequestType: QueryViewState,
		AccountID:   root,
		Prefix:      []byte("slot"),
	}), &view)
	if len(view.Values) != 1 || !bytes.Equal(view.Values[0].Value, value) {
		t.Errorf("view_state = %+v, want %q", view.Values, value)
	}
}

func TestRPC_RejectedTransaction(t *testing.T) {
	env := setupTestEnv(t)
	resp := env.broadcast(t, root, env.rootKey, "x.other.near", func(b *tx.Builder) {
		b.CreateAccount()
	})
	wantErrorName(t, resp, "CreateAccountNotAllowed")
	if resp.Error.Code != CodeHandlerError {
		t.Errorf("code = %d, want %d", resp.Error.Code, CodeHandlerError)
	}
}

func TestRPC_Protocol(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "no_such_method", nil)
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error = %+v, want method not found", resp.Error)
	}

	httpResp, err := http.Get(env.url)
	if err != nil {
		t.Fatal(err)
	}
	defer httpResp.Body.Close()
	var r rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&r); err != nil {
		t.Fatal(err)
	}
	if r.Error == nil || r.Error.Code != CodeInvalidRequest {
		t.Errorf("GET error = %+v, want invalid request", r.Error)
	}

	bad, err := http.Post(env.url, "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatal(err)
	}
	defer bad.Body.Close()
	if err := json.NewDecoder(bad.Body).Decode(&r); err != nil {
		t.Fatal(err)
	}
	if r.Error == nil || r.Error.Code != CodeParseError {
		t.Errorf("parse error = %+v", r.Error)
	}
}

func TestRPC_IPFilter(t *testing.T) {
	env := setupTestEnv(t)
	srv := New("127.0.0.1:0", env.chain, config.RPCConfig{AllowedIPs: []string{"10.0.0.0/8"}})
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Stop() })

	resp, err := http.Post(fmt.Sprintf("http://%s/", srv.Addr()), "application/json",
		bytes.NewReader([]byte(`{"jsonrpc":"2.0","method":"status","id":1}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestParseAllowedIPs(t *testing.T) {
	nets := parseAllowedIPs([]string{"127.0.0.1", "10.1.2.3/8", "::1", "garbage"})
	if len(nets) != 3 {
		t.Fatalf("got %d nets, want 3", len(nets))
	}
	if nets[1].String() != "10.0.0.0/8" {
		t.Errorf("prefix not masked: %s", nets[1])
	}

	s := &Server{allowed: nets}
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"127.0.0.2", false},
		{"10.200.0.1", true},
		{"::1", true},
		{"::ffff:10.0.0.1", true},
		{"192.168.1.1", false},
	}
	for _, tt := range tests {
		if got := s.isIPAllowed(netip.MustParseAddr(tt.ip)); got != tt.want {
			t.Errorf("isIPAllowed(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestRPC_Batch(t *testing.T) {
	env := setupTestEnv(t)

	body := `[
		{"jsonrpc":"2.0","method":"status","id":1},
		{"jsonrpc":"2.0","method":"nope","id":2},
		{"jsonrpc":"1.0","method":"status","id":3}
	]`
	resp, err := http.Post(env.url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out []struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
		ID     int             `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d responses, want 3", len(out))
	}
	if out[0].ID != 1 || out[0].Error != nil || len(out[0].Result) == 0 {
		t.Errorf("status call: %+v", out[0])
	}
	if out[1].ID != 2 || out[1].Error == nil || out[1].Error.Code != CodeMethodNotFound {
		t.Errorf("unknown method: %+v", out[1])
	}
	if out[2].ID != 3 || out[2].Error == nil || out[2].Error.Code != CodeInvalidRequest {
		t.Errorf("bad version: %+v", out[2])
	}

	empty, err := http.Post(env.url, "application/json", strings.NewReader("[]"))
	if err != nil {
		t.Fatal(err)
	}
	defer empty.Body.Close()
	var r rpcResponse
	if err := json.NewDecoder(empty.Body).Decode(&r); err != nil {
		t.Fatal(err)
	}
	if r.Error == nil || r.Error.Code != CodeInvalidRequest {
		t.Errorf("empty batch error = %+v", r.Error)
	}
}

func TestRPC_CORS(t *testing.T) {
	env := setupTestEnv(t)
	srv := New("127.0.0.1:0", env.chain, config.RPCConfig{CORSOrigins: []string{"http://app.local"}})
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Stop() })
	url := fmt.Sprintf("http://%s/", srv.Addr())

	tests := []struct {
		origin string
		want   string
	}{
		{"http://app.local", "http://app.local"},
		{"http://evil.local", ""},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodOptions, url, nil)
		req.Header.Set("Origin", tt.origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("preflight status = %d", resp.StatusCode)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: allow-origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}
