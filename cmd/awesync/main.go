// Command awesync works with awesome lists offline: linting, parsing and
// rendering them without a database or GitHub.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errInvalid is returned when a linted document is not acceptable. The
// details were already printed.
var errInvalid = errors.New("document is not valid")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errInvalid) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "awesync",
		Short:         "Lint, parse and render awesome lists",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newLintCmd(), newParseCmd(), newRenderCmd())

	return root
}
