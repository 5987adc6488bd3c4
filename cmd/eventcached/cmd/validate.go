package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qsyscore/eventcached/internal/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate the configuration without starting the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, warnings, err := config.Load(configPath, true)
		if err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}
		for _, w := range warnings {
			cmd.Println("warning:", w)
		}

		sanitized := config.NewDefaultConfigSanitizer().Sanitize(cfg)
		cmd.Printf("config OK: app=%s environment=%s groups_file=%q\n",
			sanitized.App.Name, sanitized.App.Environment, sanitized.GroupsFile)
		return nil
	},
}
