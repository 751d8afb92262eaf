package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/danmuck/ghostline/internal/config"
	"github.com/danmuck/ghostline/internal/ghost"
	"github.com/danmuck/ghostline/internal/inbound"
	"github.com/danmuck/ghostline/internal/logging"
	"github.com/danmuck/ghostline/internal/observability"
	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "ghostline.toml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ghostctl",
		Short:         "Run the ghostline activity agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE:          runAgent,
	}
	root.PersistentFlags().String("config", defaultConfigPath, "agent config file")
	root.PersistentFlags().String("log-level", "", "override log level (trace|debug|info|warn|error|off)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the agent until interrupted",
			Args:  cobra.NoArgs,
			RunE:  runAgent,
		},
		newConfigCmd(),
		newTimelineCmd(),
		newSendCmd(),
	)
	return root
}

func commandLogger(cmd *cobra.Command) (zerolog.Logger, error) {
	logger := observability.InitLogger("ghostctl", os.Stdout)
	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return logger, err
	}
	if level != "" && !logging.SetLevel(level) {
		return logger, fmt.Errorf("unknown log level %q", level)
	}
	return logger, nil
}

func runAgent(cmd *cobra.Command, _ []string) error {
	logger, err := commandLogger(cmd)
	if err != nil {
		return err
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := loadServiceConfig(path, cmd.Flags().Changed("config"), logger)
	if err != nil {
		return err
	}
	observability.RegisterMetrics()
	logger.Info().Str("config", path).Str("version", version).Msg("ghostctl.run starting")
	return ghost.NewServiceWithConfig(cfg).Run()
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check agent config files",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return err
			}
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Strictly validate a config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			f, err := config.Load(path)
			if err != nil {
				return err
			}
			if _, err := config.ServiceConfig(f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok\n", path)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func newTimelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Inspect timeline documents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <path>...",
		Short: "Parse timeline documents and report their handlers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				tl, err := timeline.Decode(data, timeline.FormatFromPath(path))
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				minted := tl.Canonicalize()
				fmt.Fprintf(out, "%s: id=%s status=%s handlers=%d minted_ids=%d\n",
					path, tl.ID, tl.Status, len(tl.Handlers), minted)
				for i, h := range tl.Handlers {
					fmt.Fprintf(out, "  [%d] %s loop=%t events=%d window=%s-%s\n",
						i, h.Kind, h.Loop, len(h.Events), h.ActiveFrom, h.ActiveUntil)
				}
			}
			return nil
		},
	})
	return cmd
}

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <handler.json>",
		Short: "Send one handler document to a running agent's socket",
		Args:  cobra.ExactArgs(1),
		RunE:  runSend,
	}
	cmd.Flags().String("addr", "127.0.0.1:8443", "agent socket address")
	cmd.Flags().Int("delimiter", int(inbound.DefaultDelimiter), "message delimiter byte")
	cmd.Flags().Duration("timeout", 10*time.Second, "dial and reply timeout")
	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return err
	}
	delim, err := cmd.Flags().GetInt("delimiter")
	if err != nil {
		return err
	}
	if delim <= 0 || delim > 255 {
		return fmt.Errorf("delimiter must be one byte, got %d", delim)
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	h, err := timeline.DecodeHandler(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	doc, err := timeline.EncodeHandler(h)
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(append(doc, byte(delim))); err != nil {
		return err
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return fmt.Errorf("agent rejected the handler")
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}
