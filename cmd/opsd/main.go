// Command opsd runs the operation engine as a standalone service.
package main

import (
	"fmt"
	"os"

	"github.com/jdziat/simple-durable-ops/pkg/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
