package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/tadfisher/idea-lsp/internal/config"
	"github.com/tadfisher/idea-lsp/internal/host"
	"github.com/tadfisher/idea-lsp/internal/integration"
	"github.com/tadfisher/idea-lsp/internal/javahost"
	"github.com/tadfisher/idea-lsp/internal/server"
)

// version will be set during the build process using ldflags
var version = "(dev) v0.0.0"

var log = commonlog.GetLogger("idea-lsp")

var (
	verbosity  int
	logfile    string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "idea-lsp",
	Short:         "Language server for Java projects",
	Long:          "idea-lsp serves navigation, symbols and rename for Java projects over the Language Server Protocol.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return configureLogging()
	},
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the program",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "idea-lsp version %s\n", version)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	flags.StringVar(&logfile, "logfile", "", `path to log file, or "auto" for the XDG state directory`)
	flags.StringVar(&configPath, "config", "", "path to config file (default: XDG config directories)")

	addServeFlags(rootCmd)
	rootCmd.AddCommand(serveCmd, symbolsCmd, versionCmd)
}

func configureLogging() error {
	var path *string
	switch logfile {
	case "":
	case "auto":
		p, err := xdg.StateFile("idea-lsp/server.log")
		if err != nil {
			return fmt.Errorf("failed to resolve log file: %w", err)
		}
		path = &p
	default:
		path = &logfile
	}
	commonlog.Configure(verbosity, path)
	return nil
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newHostFactory(cfg config.Config) *host.Lazy {
	return host.NewLazy(func() (*host.Context, error) {
		h := javahost.New(javahost.Options{
			Parsers:    cfg.Parsers,
			Workers:    cfg.Workers,
			Extensions: cfg.FileExtensions,
		})
		return host.NewContext(h, integration.Default()...), nil
	})
}

func main() {
	server.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := 0
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "idea-lsp: %s\n", err)
		code = 1
	} else {
		code = exitCode
	}
	stop()
	os.Exit(code)
}
