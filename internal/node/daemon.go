package node

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/klingnet-sandbox/config"
)

// RunDaemon runs a node until SIGINT or SIGTERM and returns the process
// exit code. args excludes the program name.
func RunDaemon(args []string, stderr io.Writer) int {
	cfg, _, err := config.Load(args, stderr)
	if config.IsHelp(err) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Subscribe before starting so a signal sent as soon as the RPC answers
	// is not lost.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	n, err := New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		n.Stop()
		return 1
	}

	sig := <-sigCh
	n.logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	n.Stop()
	return 0
}
