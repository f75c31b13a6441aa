// Command pachi-master runs the distributed master coordinator: it
// accepts slave engine connections, fans GTP commands out to them, and
// aggregates their replies into single answers for an upstream GTP
// client connected over stdin/stdout.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/KBJarvis/pachi/cli"
	cliUtil "github.com/KBJarvis/pachi/cli/util"
)

// version is overridden at build time with -ldflags.
var version = "dev"

const program = "pachi-master"

func main() {
	data := &cliUtil.Data{
		Program: cliUtil.SafeProgram(program),
		Version: version,
		Tagline: "distributed GTP master coordinator",
		Flags:   cliUtil.Flags{},
		Args:    os.Args,
	}

	if err := cli.CLI(context.Background(), data); err != nil {
		fmt.Fprintf(os.Stderr, "%s: error: %v\n", program, err)
		os.Exit(1)
	}
}
