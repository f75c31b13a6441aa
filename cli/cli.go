// Package cli handles all of the master's command line parsing. It's the
// first entry point after the real main function.
package cli

import (
	"context"
	"fmt"
	"os"

	cliUtil "github.com/KBJarvis/pachi/cli/util"
	"github.com/KBJarvis/pachi/internal/errwrap"

	"github.com/alexflint/go-arg"
)

// CLI is the entry point for running the master normally from the shell.
func CLI(ctx context.Context, data *cliUtil.Data) error {
	if data == nil {
		return fmt.Errorf("this CLI was not run correctly")
	}
	if data.Program == "" || data.Version == "" {
		return fmt.Errorf("program was not compiled correctly")
	}

	args := Args{}
	args.version = data.Version
	args.description = data.Tagline

	config := arg.Config{Program: data.Program}
	parser, err := arg.NewParser(config, &args)
	if err != nil {
		return errwrap.Wrapf(err, "cli config error")
	}
	err = parser.Parse(data.Args[1:])
	if err == arg.ErrHelp {
		parser.WriteHelp(os.Stdout)
		return nil
	}
	if err == arg.ErrVersion {
		fmt.Printf("%s\n", data.Version)
		return nil
	}
	if err != nil {
		return cliUtil.CliParseError(err)
	}

	return args.Run(ctx, data)
}

// Args is the CLI parsing structure. There are no subcommands: the master
// is a single daemon, configured entirely by flags.
type Args struct {
	SlavePort  int    `arg:"--slave-port" help:"TCP port slave engines connect to"`
	ProxyPort  int    `arg:"--proxy-port" help:"TCP port slave stderr log proxy listens on (0 disables it)"`
	MaxSlaves  int    `arg:"--max-slaves" default:"100" help:"maximum number of slave connections served at once"`
	SlavesQuit bool   `arg:"--slaves-quit" help:"forward quit to slaves instead of leaving them running"`
	Options    string `arg:"--options" help:"comma-separated key=value engine options, same keys as --config"`
	Config     string `arg:"--config" help:"path to a YAML file with the same keys as --options"`

	PrometheusListen string        `arg:"--prometheus-listen" help:"address to serve /metrics on (empty disables it)"`
	ProxyRate        float64       `arg:"--proxy-rate" help:"max proxied log lines per second per slave (0 means unlimited)"`
	IOTimeout        string        `arg:"--io-timeout" help:"socket read/write deadline per slave exchange, e.g. \"30s\" (empty means block forever)"`
	Debug            bool          `arg:"--debug" help:"add additional log messages"`

	version     string `arg:"-"`
	description string `arg:"-"`
}

// Version implements the API the go-arg parser expects for --version.
func (args *Args) Version() string { return args.version }

// Description implements the API the go-arg parser expects for usage text.
func (args *Args) Description() string { return args.description }
