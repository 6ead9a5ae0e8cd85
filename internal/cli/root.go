package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dev-sys-do/sealboard/internal/config"
	"github.com/dev-sys-do/sealboard/internal/controller"
	"github.com/dev-sys-do/sealboard/internal/logging"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "sealboard",
	Short: "A read-only dashboard for SealCI pipelines",
	Long: `sealboard reads pipelines from a SealCI controller and shows them in the
browser (serve) or the terminal (status). It never writes to the controller.

Configuration is read from --config, ./sealboard.yaml or ~/.sealboard/config.yaml.
SEALCI_CONTROLLER_ENDPOINT overrides the controller endpoint.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file")
	rootCmd.PersistentFlags().String("endpoint", "", "controller base URL (overrides config)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig resolves the config file and applies the global flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if endpoint, _ := cmd.Flags().GetString("endpoint"); endpoint != "" {
		cfg.Controller.Endpoint = endpoint
	}
	return cfg, nil
}

// validConfig rejects configs the commands cannot run with.
func validConfig(cfg *config.Config) error {
	errs := config.Validate(cfg)
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return fmt.Errorf("invalid config: %s", errs[0])
	}
	return fmt.Errorf("invalid config: %s (and %d more, see 'sealboard config validate')", errs[0], len(errs)-1)
}

func newLogger(cmd *cobra.Command, cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.Log, cmd.ErrOrStderr())
}

func newClient(cfg *config.Config, log zerolog.Logger) (*controller.Client, error) {
	return controller.New(cfg.Controller.Endpoint,
		controller.WithTimeout(cfg.Controller.TimeoutDuration()),
		controller.WithLogger(log),
	)
}
