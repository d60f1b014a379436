package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-hislip/client"
	"github.com/arloliu/go-hislip/hislip"
)

// withSession connects a session, runs fn and disconnects.
func withSession(ctx context.Context, opts *globalOptions, fn func(s *client.Session) error) error {
	cfg, err := opts.sessionConfig()
	if err != nil {
		return err
	}

	s, err := client.NewSession(ctx, cfg)
	if err != nil {
		return err
	}

	if err := s.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = s.Disconnect() }()

	return fn(s)
}

// commandBytes appends the line terminator to a command typed on the command line.
func commandBytes(args []string) []byte {
	cmd := strings.Join(args, " ")
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}

	return []byte(cmd)
}

func printResponse(w io.Writer, data []byte) {
	fmt.Fprintln(w, strings.TrimRight(string(data), "\r\n"))
}

func queryCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <command>...",
		Short: "Write a command and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(s *client.Session) error {
				data, err := s.Query(commandBytes(args))
				if err != nil {
					return err
				}
				printResponse(cmd.OutOrStdout(), data)

				return nil
			})
		},
	}
}

func writeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "write <command>...",
		Short: "Write a command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(s *client.Session) error {
				_, err := s.Write(commandBytes(args))
				return err
			})
		},
	}
}

func readCmd(opts *globalOptions) *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read a response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), opts, func(s *client.Session) error {
				data, err := s.ReadN(size)
				if err != nil {
					return err
				}
				printResponse(cmd.OutOrStdout(), data)

				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&size, "size", "n", 0, "return after this many bytes, 0 reads the complete response")

	return cmd
}

func stbCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stb",
		Short: "Read the status byte",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), opts, func(s *client.Session) error {
				status, err := s.ReadSTB()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d (0x%02X)\n", status, status)

				return nil
			})
		},
	}
}

func triggerCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Send a trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), opts, func(s *client.Session) error {
				return s.Trigger()
			})
		},
	}
}

func clearCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), opts, func(s *client.Session) error {
				return s.Clear()
			})
		},
	}
}

func lockCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lock [name]",
		Short: "Request the exclusive lock, or the shared lock with the given name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}

			return withSession(cmd.Context(), opts, func(s *client.Session) error {
				granted, err := s.Lock(name)
				if err != nil {
					return err
				}
				if !granted {
					return fmt.Errorf("lock not granted within %s", s.LockTimeout())
				}
				fmt.Fprintln(cmd.OutOrStdout(), "granted")

				return nil
			})
		},
	}
}

func unlockCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Release the lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), opts, func(s *client.Session) error {
				released, err := s.Unlock()
				if err != nil {
					return err
				}
				if !released {
					return errors.New("no lock held")
				}

				return nil
			})
		},
	}
}

func lockStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lock-status",
		Short: "Print the lock status of the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), opts, func(s *client.Session) error {
				exclusive, numLocks, err := s.LockStatus()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exclusive: %t\nlocks: %d\n", exclusive, numLocks)

				return nil
			})
		},
	}
}

func remoteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remote <0..6>",
		Short: "Send a remote/local control request",
		Long: `Send a GPIB-like remote/local control request:

  0  disable remote
  1  enable remote
  2  disable remote and go to local
  3  enable remote and go to remote
  4  enable remote and lock out local
  5  enable remote, go to remote and lock out local
  6  go to local without changing the remote enable state`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[0], 10, 8)
			if err != nil {
				return fmt.Errorf("invalid request %q: %w", args[0], err)
			}

			request := hislip.RemoteLocalRequest(n)
			if !request.IsValid() {
				return hislip.ErrInvalidRemoteLocalRequest
			}

			return withSession(cmd.Context(), opts, func(s *client.Session) error {
				return s.RemoteLocalControl(request)
			})
		},
	}
}

func infoCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the negotiated session parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), opts, func(s *client.Session) error {
				info := s.Info()
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "address:          %s\n", s.Config().Address())
				fmt.Fprintf(w, "session id:       %d\n", info.SessionID)
				fmt.Fprintf(w, "server version:   %s\n", info.ServerVersion)
				fmt.Fprintf(w, "server vendor:    %s\n", string(info.ServerVendorID[:]))
				fmt.Fprintf(w, "overlapped:       %t\n", info.Overlapped)
				fmt.Fprintf(w, "secure supported: %t\n", info.SecureConnectionSupported)
				fmt.Fprintf(w, "max message size: %d\n", info.MaximumServerMessageSize)

				return nil
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "hislipctl %s\n", version)
			fmt.Fprintf(w, "  Commit:     %s\n", commit)
			fmt.Fprintf(w, "  Built:      %s\n", date)
			fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
		},
	}
}
