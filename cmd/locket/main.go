// Command locket records encrypted events locally and anchors their hashes
// through a control-plane.
package main

import (
	"context"
	"os"

	"github.com/roach88/locket/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
