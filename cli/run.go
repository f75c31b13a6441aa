package cli

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cliUtil "github.com/KBJarvis/pachi/cli/util"
	"github.com/KBJarvis/pachi/internal/config"
	"github.com/KBJarvis/pachi/internal/coordinator"
	"github.com/KBJarvis/pachi/internal/errwrap"
	"github.com/KBJarvis/pachi/internal/gtpio"
	"github.com/KBJarvis/pachi/internal/logproxy"
	"github.com/KBJarvis/pachi/internal/metrics"
	"github.com/KBJarvis/pachi/internal/slave"
)

// initialLogCapacity sizes the Command Log's preallocated buffer; it is
// only a hint, the log grows past it like any Go slice.
const initialLogCapacity = 1 << 16

// Run builds the master's configuration from the parsed flags, wires up
// every component, and serves until EOF on stdin, a quit command, or a
// termination signal.
func (args *Args) Run(ctx context.Context, data *cliUtil.Data) error {
	flags := data.Flags
	flags.Debug = flags.Debug || args.Debug
	cliUtil.Hello(data.Program, data.Version, flags)
	defer log.Printf("main: goodbye!")

	logf := func(format string, v ...interface{}) {
		log.Printf(format, v...)
	}

	cfg, err := args.buildConfig()
	if err != nil {
		return errwrap.Wrapf(err, "invalid configuration")
	}
	for _, k := range cfg.UnknownKeys() {
		logf("warning: unrecognized option key %q", k)
	}

	var ioTimeout time.Duration
	if args.IOTimeout != "" {
		ioTimeout, err = time.ParseDuration(args.IOTimeout)
		if err != nil {
			return errwrap.Wrapf(err, "invalid --io-timeout")
		}
	}

	m := metrics.New(args.PrometheusListen)
	if err := m.Start(); err != nil {
		return errwrap.Wrapf(err, "starting metrics server")
	}
	defer m.Stop()

	state := coordinator.NewState(initialLogCapacity, cfg.MaxSlaves, cfg.SlavesQuit, m, logf)
	coord := coordinator.New(state, m, logf)

	slaveLn, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.SlavePort))
	if err != nil {
		return errwrap.Wrapf(err, "listening on slave_port %d", cfg.SlavePort)
	}
	listener := slave.NewListener(slaveLn, state, cfg.MaxSlaves, ioTimeout, logf)
	listener.Serve()
	defer listener.Close()

	var proxy *logproxy.Proxy
	if cfg.ProxyPort != 0 {
		proxyLn, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ProxyPort))
		if err != nil {
			return errwrap.Wrapf(err, "listening on proxy_port %d", cfg.ProxyPort)
		}
		proxy = logproxy.New(proxyLn, os.Stderr, args.ProxyRate, logf)
		go proxy.Serve()
		defer proxy.Close()
	}

	var wg sync.WaitGroup
	exit := make(chan struct{})
	defer func() {
		close(exit)
		wg.Wait()
	}()
	wg.Add(1)
	go handleSignals(&wg, exit, logf)

	adapter := gtpio.New(coord, os.Stdin, os.Stdout, 0, logf)
	return adapter.Run()
}

// buildConfig resolves the engine options from --options/--config if
// either was given, falling back to the individual flags otherwise.
func (args *Args) buildConfig() (config.Config, error) {
	if args.Options != "" || args.Config != "" {
		return config.Load(args.Config, args.Options)
	}
	if args.SlavePort == 0 {
		return config.Config{}, fmt.Errorf("--slave-port (or --options/--config) is required")
	}
	maxSlaves := args.MaxSlaves
	if maxSlaves == 0 {
		maxSlaves = 100
	}
	return config.Config{
		SlavePort:  args.SlavePort,
		ProxyPort:  args.ProxyPort,
		MaxSlaves:  maxSlaves,
		SlavesQuit: args.SlavesQuit,
	}, nil
}

// handleSignals watches for ^C and SIGTERM. A SIGTERM exits the process
// immediately, as does a third ^C; the first and second ^C are only
// logged and do not stop the GTP loop or close any listener.
func handleSignals(wg *sync.WaitGroup, exit chan struct{}, logf func(string, ...interface{})) {
	defer wg.Done()
	signals := make(chan os.Signal, 3+1)
	signal.Notify(signals, os.Interrupt)
	signal.Notify(signals, syscall.SIGTERM)
	var count uint8
	for {
		select {
		case sig := <-signals:
			if sig != os.Interrupt {
				logf("main: killed by %v", sig)
				os.Exit(1)
			}
			switch count {
			case 0:
				logf("main: interrupted by ^C")
			case 1:
				logf("main: interrupted by ^C again")
			default:
				logf("main: interrupted by ^C a third time, exiting immediately")
				os.Exit(1)
			}
			count++
		case <-exit:
			return
		}
	}
}
