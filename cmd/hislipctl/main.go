// Command hislipctl talks to HiSLIP instruments from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "hislipctl",
		Short: "HiSLIP instrument control",
		Long: `hislipctl opens a HiSLIP session to an instrument and runs a single operation.

The instrument is given with --address or with a named profile of a YAML
configuration file:

  default: dmm
  profiles:
    dmm:
      address: TCPIP::192.168.1.10::hislip0::INSTR
      timeout: 5s
      lock_timeout: 2s`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.resolve(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return opts.close()
		},
	}

	opts.addFlags(rootCmd)

	rootCmd.AddCommand(
		queryCmd(opts),
		writeCmd(opts),
		readCmd(opts),
		stbCmd(opts),
		triggerCmd(opts),
		clearCmd(opts),
		lockCmd(opts),
		unlockCmd(opts),
		lockStatusCmd(opts),
		remoteCmd(opts),
		infoCmd(opts),
		monitorCmd(opts),
		versionCmd(),
	)

	return rootCmd
}
