package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}
	registerFlags := &RegisterFlags{}

	legionCommand := command{flags: globalFlags, out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(serveFlags),
		createRegisterCommand(legionCommand, registerFlags),
		createNameCommand("unregister", "Remove an inactive daemon", legionCommand.Unregister),
		createNameCommand("start", "Start a registered daemon", legionCommand.Start),
		createNameCommand("stop", "Stop a daemon, or reset an exited one", legionCommand.Stop),
		createNameCommand("logrotate", "Rotate a daemon's log generations", legionCommand.LogRotate),
		createNameCommand("status", "Show one daemon", legionCommand.Status),
		createStatusAllCommand(legionCommand),
	)
	return root
}

// createRootCommand creates the root command with the API connection flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "legion",
		Short: "Supervisor for a fleet of long-running daemons",
		Long: `Legion launches daemons from its daemons directory, waits for them to
report readiness, stops them on request and rotates their logs.

Examples:
  legion serve --config legion.toml       # run the supervisor
  legion register web web.sh --port 8000  # register daemons/web.sh as "web"
  legion start web
  legion status-all
  legion status web --api-url=http://remote:8080/api`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "http://127.0.0.1:8080/api", "supervisor API URL")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().StringVar(&flags.CACert, "ca-cert", "", "CA certificate to trust for an HTTPS API")
	root.PersistentFlags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")
	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "print full status as JSON")
	return root
}

func createServeCommand(flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the supervisor",
		Long: `Run the supervisor and its HTTP API. Daemons declared in the config are
registered at start, and those marked autostart are started. SIGINT or
SIGTERM stops every active daemon before exiting.

Examples:
  legion serve                     # defaults plus LEGION_* environment
  legion serve legion.toml
  legion serve --config legion.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				flags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return cmd
}

func createRegisterCommand(c command, flags *RegisterFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register NAME COMMAND [ARGS...]",
		Short: "Register a daemon",
		Long: `Register a daemon under NAME. COMMAND is resolved against the daemons
directory; ARGS are passed through unchanged.

Examples:
  legion register web web.sh
  legion register api api.sh --port 9000`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.Name, flags.Command, flags.Args = args[0], args[1], args[2:]
			return c.Register(cmd.Context(), *flags)
		},
	}
	// everything after COMMAND belongs to the daemon
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// createNameCommand builds a command that acts on exactly one daemon.
func createNameCommand(use, short string, run func(ctx context.Context, name string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0])
		},
	}
}

func createStatusAllCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status-all",
		Short: "Show every daemon in registration order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.StatusAll(cmd.Context())
		},
	}
}
