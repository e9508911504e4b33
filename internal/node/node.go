// Package node assembles a sandbox node: storage, chain, block producer
// and RPC server. It can be embedded in any binary; sandboxd is the daemon
// built on it.
package node

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-sandbox/config"
	"github.com/Klingon-tech/klingnet-sandbox/internal/chain"
	klog "github.com/Klingon-tech/klingnet-sandbox/internal/log"
	"github.com/Klingon-tech/klingnet-sandbox/internal/rpc"
	"github.com/Klingon-tech/klingnet-sandbox/internal/storage"
	"github.com/rs/zerolog"
)

// Node is a fully-initialized sandbox node.
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis
	logger  zerolog.Logger

	// Core
	db storage.DB
	ch *chain.Chain

	// RPC
	rpcServer *rpc.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, genesis, storage, chain, RPC) but does NOT start serving or
// producing blocks. Call Start() for that.
func New(cfg *config.Config) (*Node, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.Node

	// ── 2. Genesis ──────────────────────────────────────────────────
	genesis, created, err := loadOrCreateGenesis(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("chain_id", genesis.ChainID).
		Str("home", cfg.Home).
		Bool("new_home", created).
		Uint64("block_time_ms", genesis.Protocol.BlockTimeMS).
		Msg("Starting sandbox node")

	// ── 3. Open storage ─────────────────────────────────────────────
	var db storage.DB
	if cfg.InMemory {
		db = storage.NewMemory()
		logger.Info().Msg("Chain state kept in memory")
	} else {
		bdb, err := storage.NewBadger(cfg.DataDir())
		if err != nil {
			return nil, fmt.Errorf("open database at %s: %w", cfg.DataDir(), err)
		}
		db = bdb
		logger.Info().Str("path", cfg.DataDir()).Msg("Database opened")
	}

	// ── 4. Chain ────────────────────────────────────────────────────
	ch, err := chain.New(genesis, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create chain: %w", err)
	}
	if !ch.Initialized() {
		if err := ch.InitFromGenesis(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init genesis: %w", err)
		}
	}
	logger.Info().Uint64("height", ch.Height()).Msg("Chain ready")

	// ── 5. RPC ──────────────────────────────────────────────────────
	addr := net.JoinHostPort(cfg.RPC.Addr, strconv.Itoa(cfg.RPC.Port))
	srv := rpc.New(addr, ch, cfg.RPC)

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:       cfg,
		genesis:   genesis,
		logger:    logger,
		db:        db,
		ch:        ch,
		rpcServer: srv,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins serving RPC and, when enabled, producing empty blocks.
func (n *Node) Start() error {
	if fd := n.cfg.RPC.ListenFD; fd >= 0 {
		ln, err := inheritedListener(fd)
		if err != nil {
			return err
		}
		n.rpcServer.Serve(ln)
	} else if err := n.rpcServer.Start(); err != nil {
		return err
	}

	if n.cfg.Producer.Enabled {
		n.wg.Add(1)
		go n.runProducer(n.genesis.Protocol.BlockTime())
	}
	return nil
}

// inheritedListener wraps a listening socket passed down by the parent
// process.
func inheritedListener(fd int) (net.Listener, error) {
	f := os.NewFile(uintptr(fd), "rpc-listener")
	if f == nil {
		return nil, fmt.Errorf("rpc fd %d is not open", fd)
	}
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("rpc fd %d: %w", fd, err)
	}
	return ln, nil
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()

	if n.rpcServer != nil {
		if err := n.rpcServer.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("RPC shutdown")
		}
	}
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("Database close")
		}
	}

	n.logger.Info().Msg("Goodbye!")
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Height returns the current chain height.
func (n *Node) Height() uint64 {
	return n.ch.Height()
}

// Chain returns the node's chain.
func (n *Node) Chain() *chain.Chain {
	return n.ch
}

// ── Block production ────────────────────────────────────────────────

func (n *Node) runProducer(blockTime time.Duration) {
	defer n.wg.Done()

	ticker := time.NewTicker(blockTime)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			info, err := n.ch.ProduceBlock()
			if err != nil {
				n.logger.Error().Err(err).Msg("Block production failed")
				continue
			}
			n.logger.Trace().Uint64("height", info.Height).Msg("Produced block")
		}
	}
}
