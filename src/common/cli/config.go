// Package cli provides the Cobra and Viper plumbing shared by opikb commands.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/bitswalk/opikb/src/common/logs"
	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ConfigOptions holds options for configuration initialization
type ConfigOptions struct {
	// ConfigFile is the path to the config file (if specified via flag)
	ConfigFile string

	// ConfigName is the name of the config file (without extension)
	ConfigName string

	// ConfigType is the type of config file (yaml, json, toml)
	ConfigType string

	// EnvPrefix is the prefix for environment variables (e.g., "OPIKB" -> OPIKB_BUILD_JOBS)
	EnvPrefix string

	// SearchPaths are additional paths to search for the config file
	SearchPaths []string
}

// DefaultConfigOptions returns default configuration options
func DefaultConfigOptions(configName, envPrefix string) ConfigOptions {
	return ConfigOptions{
		ConfigName: configName,
		ConfigType: "yaml",
		EnvPrefix:  envPrefix,
		SearchPaths: []string{
			"/etc/opikb",
			"$HOME/.config/opikb",
			".",
		},
	}
}

// InitConfig points v at the config file and the environment. A missing
// config file is not an error; a malformed or explicitly named but absent
// one is.
func InitConfig(v *viper.Viper, opts ConfigOptions) error {
	if opts.ConfigFile != "" {
		v.SetConfigFile(paths.Expand(opts.ConfigFile))
	} else {
		v.SetConfigName(opts.ConfigName)
		v.SetConfigType(opts.ConfigType)

		for _, searchPath := range opts.SearchPaths {
			v.AddConfigPath(paths.Expand(searchPath))
		}
	}

	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// RegisterConfigFlag registers --config on a Cobra command and its subcommands
func RegisterConfigFlag(cmd *cobra.Command, cfgFile *string) {
	cmd.PersistentFlags().StringVar(cfgFile, "config", "", "config file (default: /etc/opikb/opikb.yaml, ~/.config/opikb/opikb.yaml)")
}

// RegisterOutputFlag registers the -o/--output format flag on a Cobra command
func RegisterOutputFlag(cmd *cobra.Command, format *string) {
	cmd.Flags().StringVarP(format, "output", "o", "table", "Output format (table, json, yaml)")
}

// InitLogger creates a logger writing to console at the log.level
// threshold. Should be called after InitConfig.
func InitLogger(v *viper.Viper, console io.Writer, prefix string) *logs.Logger {
	return logs.New(logs.Config{
		Console: console,
		Level:   v.GetString("log.level"),
		Prefix:  prefix,
	})
}

// GetExpandedString gets a string from Viper and expands path prefixes
func GetExpandedString(v *viper.Viper, key string) string {
	return paths.Expand(v.GetString(key))
}
