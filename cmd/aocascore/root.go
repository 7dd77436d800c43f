package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aocascore/pkg/config"
)

// defaultConfigName is looked up in the working directory and $HOME
const defaultConfigName = ".aocascore"

// rootCmd is the command-line entrypoint for all other commands.
var rootCmd = &cobra.Command{
	Use:   "aocascore",
	Short: "Score aortic valve calcium on non-contrast CT.",
	Long: `aocascore computes the Agatston score of aortic valve calcium from a
non-contrast CT series and classifies it with sex-specific severity thresholds.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

// settingKeys maps persistent flags to their configuration keys
var settingKeys = map[string]string{
	"connectivity":   "scoring.connectivity",
	"overlap-policy": "scoring.overlapPolicy",
	"workers":        "scoring.workers",
	"threshold":      "segmentation.thresholdHU",
	"window-level":   "visualization.windowLevel",
	"window-width":   "visualization.windowWidth",
	"mip-margin":     "visualization.mipMarginSlices",
	"output":         "output.format",
	"precision":      "output.precision",
	"color":          "output.color",
	"log-level":      "output.logLevel",
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	d := config.DefaultConfig()
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default is ./.aocascore.yaml or $HOME/.aocascore.yaml)")
	flags.Int("connectivity", d.Scoring.Connectivity, "In-slice lesion connectivity: 4 or 8")
	flags.String("overlap-policy", d.Scoring.OverlapPolicy, "Overlapping slice policy: keep-all or skip")
	flags.Int("workers", d.Scoring.Workers, "Number of concurrent workers")
	flags.Float64("threshold", d.Segmentation.ThresholdHU, "Calcium threshold in HU")
	flags.Float64("window-level", d.Visualization.WindowLevel, "Display window level for images")
	flags.Float64("window-width", d.Visualization.WindowWidth, "Display window width for images")
	flags.Int("mip-margin", d.Visualization.MIPMarginSlices, "Slices added on each side of the calcium in the MIP")
	flags.StringP("output", "o", d.Output.Format, "Output format: table or json")
	flags.Int("precision", d.Output.Precision, "Decimal precision for numeric columns")
	flags.Bool("color", d.Output.Color, "Colour severity labels in table output")
	flags.String("log-level", d.Output.LogLevel, "Log level: debug, info, warn or error")

	if err := viper.BindPFlag("config", flags.Lookup("config")); err != nil {
		panic(err)
	}
	for name, key := range settingKeys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(defaultConfigName)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
	}

	// AOCASCORE_SCORING_OVERLAPPOLICY overrides scoring.overlapPolicy
	viper.SetEnvPrefix("AOCASCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// loadSettings merges defaults, config file, environment and flags into a
// validated configuration
func loadSettings() (*config.Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger creates the stderr logger; unknown levels fall back to info
func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})
	return logger
}
