package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/activation"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/client"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/config"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/daemon"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/logging"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/output"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var (
	configPath    string
	socketPath    string
	transportName string
	backendName   string
	timeout       time.Duration
	jsonOutput    bool
	noColor       bool
	debugMode     bool

	// Color functions
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	keyColor     = color.New(color.FgYellow)
)

// rootCmd starts the daemon, or toggles the running one
var rootCmd = &cobra.Command{
	Use:   "cosmic-ext-quake-terminal",
	Short: "Drop-down terminal daemon for Wayland compositors",
	Long: `cosmic-ext-quake-terminal keeps one terminal window that is hidden until
summoned and toggled between hidden and focused on each invocation.

Run without a subcommand to start the daemon. If a daemon is already running
in this session the invocation forwards a toggle to it instead, so the same
command can be bound to a keyboard shortcut.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context(), false)
	},
}

// toggleCmd toggles the terminal, starting the daemon if needed
var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Show or hide the terminal",
	Long: `Sends a toggle request to the running daemon. When no daemon is running
this process becomes the daemon and shows the terminal right away.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context(), true)
	},
}

// statusCmd prints the daemon state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state and tracked windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			printError(err.Error())
			return err
		}

		tr, err := activation.NewTransport(cfg.IPC, logging.Component("activation"))
		if err != nil {
			printError(err.Error())
			return err
		}
		q, ok := tr.(activation.Querier)
		if !ok {
			err := fmt.Errorf("%s transport cannot report status", tr.Name())
			printError(err.Error())
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		st, err := q.QueryStatus(ctx)
		if err != nil {
			printError(fmt.Sprintf("Failed to get status: %v", err))
			return err
		}

		if jsonOutput {
			return printJSON(st)
		}
		output.PrintStatus(st)
		return nil
	},
}

// pingCmd checks that a daemon answers on the socket
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test connection to the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			printError(err.Error())
			return err
		}
		if cfg.IPC.Transport != config.TransportSocket {
			err := fmt.Errorf("ping needs the socket transport, configured: %s", cfg.IPC.Transport)
			printError(err.Error())
			return err
		}

		path := cfg.IPC.SocketPath
		if path == "" {
			path = activation.DefaultSocketPath()
		}
		c := client.NewClient(path, timeout)
		defer c.Close()

		start := time.Now()
		err = c.Ping(cmd.Context())
		elapsed := time.Since(start)
		if err != nil {
			printError(fmt.Sprintf("Ping failed: %v", err))
			return err
		}

		if jsonOutput {
			return printJSON(map[string]interface{}{"ok": true, "elapsed": elapsed.String()})
		}
		successColor.Println("✓ Pong received")
		fmt.Printf("Response time: %v\n", elapsed)
		return nil
	},
}

// configCmd groups configuration commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

// configShowCmd shows the effective configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			printError(fmt.Sprintf("failed to load config: %v", err))
			return err
		}
		return printJSON(cfg)
	},
}

// configValidateCmd validates a config file
var configValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile()
		if len(args) > 0 {
			path = args[0]
		}

		cfg, err := config.LoadConfig(path)
		if err != nil {
			printError(fmt.Sprintf("validation failed: %v", err))
			return err
		}

		successColor.Println("✓ Configuration is valid")
		keyColor.Print("  Terminal: ")
		fmt.Println(cfg.Terminal.Command)
		keyColor.Print("  Backend: ")
		fmt.Println(cfg.Compositor.Backend)
		keyColor.Print("  Transport: ")
		fmt.Println(cfg.IPC.Transport)
		return nil
	},
}

// configInitCmd writes the default config file
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile()

		if _, err := os.Stat(path); err == nil {
			err := fmt.Errorf("config file already exists at %s", path)
			printError(err.Error())
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			printError(fmt.Sprintf("failed to create config directory: %v", err))
			return err
		}
		if err := os.WriteFile(path, []byte(defaultConfig), 0644); err != nil {
			printError(fmt.Sprintf("failed to write config: %v", err))
			return err
		}

		successColor.Printf("✓ Created %s\n", path)
		return nil
	},
}

const defaultConfig = `# Quake terminal configuration
terminal:
  # Binary name or path. The window marker flag is chosen from its name.
  command: cosmic-term
  # Appended after the marker flags
  args: []

compositor:
  # auto, cosmic, wlr, sway or hyprland
  backend: auto

ipc:
  # socket or dbus
  transport: socket

logging:
  level: info
`

// runDaemon claims the activation name and runs the event loop, or forwards a
// toggle when another daemon already holds the name
func runDaemon(parent context.Context, toggleNow bool) error {
	cfg, err := loadConfig()
	if err != nil {
		printError(err.Error())
		return err
	}

	if err := logging.Init(logging.Options{
		File:    cfg.Logging.File,
		Console: debugMode,
		Level:   cfg.Logging.Level,
	}); err != nil {
		infoColor.Fprintf(os.Stderr, "log file unavailable (%v), logging to stderr\n", err)
		logging.InitWithWriter(os.Stderr)
	}
	defer logging.Close()
	if debugMode {
		logging.SetDebug(true)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, unix.SIGTERM)
	defer stop()

	tr, err := activation.NewTransport(cfg.IPC, logging.Component("activation"))
	if err != nil {
		printError(err.Error())
		return err
	}

	backend, err := daemon.NewBackend(cfg.Compositor.Backend, logging.Component("toplevel"))
	if err != nil {
		printError(err.Error())
		return err
	}

	d, err := daemon.New(daemon.Options{
		Config:     cfg,
		ConfigPath: configFile(),
		Backend:    backend,
		Logger:     logging.Component("daemon"),
	})
	if err != nil {
		printError(err.Error())
		return err
	}

	claim, forwarded, err := activation.ClaimOrForward(ctx, tr, d)
	if err != nil {
		printError(err.Error())
		return err
	}
	if forwarded {
		logging.Info().Str("transport", tr.Name()).Msg("daemon already running, toggle forwarded")
		if !toggleNow {
			infoColor.Fprintln(os.Stderr, "Daemon already running, toggle sent")
		}
		return nil
	}
	defer func() {
		if err := claim.Close(); err != nil {
			logging.Warn().Err(err).Msg("release activation name")
		}
	}()

	logging.Info().Str("transport", tr.Name()).Str("backend", backend.Name()).Msg("activation name claimed")
	if toggleNow {
		d.Toggle()
	}

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		printError(err.Error())
		return err
	}
	return nil
}

// loadConfig reads the config file and applies command-line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile())
	if err != nil {
		return nil, err
	}

	if backendName != "" {
		cfg.Compositor.Backend = backendName
	}
	if transportName != "" {
		cfg.IPC.Transport = transportName
	}
	if socketPath != "" {
		cfg.IPC.SocketPath = socketPath
		if transportName == "" {
			cfg.IPC.Transport = config.TransportSocket
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	return cfg, nil
}

func configFile() string {
	if configPath != "" {
		return configPath
	}
	return config.GetConfigPath()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/cosmic-ext-quake-terminal/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Activation socket path (default $XDG_RUNTIME_DIR/"+activation.SocketName+")")
	rootCmd.PersistentFlags().StringVar(&transportName, "transport", "", "Activation transport: socket or dbus")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "Compositor backend: auto, cosmic, wlr, sway or hyprland")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging on stderr")

	// Add commands
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)

	cobra.OnInitialize(func() {
		if noColor {
			color.NoColor = true
		}
	})
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// Helper functions

func printJSON(data interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printError(msg string) {
	if noColor {
		fmt.Fprintln(os.Stderr, "Error:", msg)
	} else {
		errorColor.Fprint(os.Stderr, "✗ Error: ")
		fmt.Fprintln(os.Stderr, msg)
	}
}
