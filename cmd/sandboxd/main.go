// sandboxd runs a single-node sandbox chain for local testing.
package main

import (
	"os"

	"github.com/Klingon-tech/klingnet-sandbox/internal/node"
)

func main() {
	os.Exit(node.RunDaemon(os.Args[1:], os.Stderr))
}
