package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mysten-labs-capstone/walrus-sub003/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample walrusd configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/walrusd/config.yaml.
Use --config to specify a custom path.

Secrets (SUI_PRIVATE_KEY, AWS credentials, MASTER_ENCRYPTION_KEY) are never
written to the file; set them in the environment.

Examples:
  # Initialize with default location
  walrusd init

  # Initialize with custom path
  walrusd init --config /etc/walrusd/config.yaml

  # Force overwrite existing config
  walrusd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Export SUI_PRIVATE_KEY and the AWS staging credentials")
	fmt.Println("  3. Start the server with: walrusd start")
	return nil
}
