package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/classidx/configs"
	"github.com/Aman-CERP/classidx/internal/config"
	"github.com/Aman-CERP/classidx/internal/output"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Show and create classidx configuration files.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/classidx/config.yaml)
  3. Project config (.classidx.yaml)
  4. Environment variables (CLASSIDX_*)`,
		Example: `  # Show effective configuration
  classidx config show

  # Create a project config with the defaults
  classidx config init

  # Print user config file path
  classidx config path`,
	}

	cmd.AddCommand(newConfigShowCmd(a))
	cmd.AddCommand(newConfigInitCmd(a))
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), a.cfg)
			}

			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			out := output.New(cmd.OutOrStdout())
			out.Statusf("", "Project:  %s", a.projectDir)
			out.Statusf("", "Data dir: %s", a.dataDir)
			out.Code(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigInitCmd(a *app) *cobra.Command {
	var (
		user      bool
		force     bool
		effective bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Long: `Write the documented default configuration to the project config file
(.classidx.yaml in the project root), or to the user config file with --user.

With --effective the merged configuration in effect is written instead of the
commented template.

An existing file is kept unless --force is given; it is then backed up first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Join(a.projectDir, config.ProjectFile)
			if user {
				path = config.GetUserConfigPath()
			}
			out := output.New(cmd.OutOrStdout())

			if _, err := os.Stat(path); err == nil && !force {
				out.Warningf("Configuration already exists: %s", path)
				out.Status("", "Use --force to overwrite it (a backup is kept)")
				return nil
			}
			backup, err := config.BackupFile(path)
			if err != nil {
				return fmt.Errorf("failed to backup config: %w", err)
			}

			if effective {
				err = a.cfg.WriteYAML(path)
			} else {
				err = writeTemplate(path)
			}
			if err != nil {
				return err
			}
			out.Successf("Wrote %s", path)
			if backup != "" {
				out.Statusf("", "Backup: %s", backup)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&effective, "effective", false, "Write the effective configuration instead of the template")

	return cmd
}

func writeTemplate(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
