/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var version = "0.1.0"

const envPrefix = "MDTRAN"

var (
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "mdtran",
	Short: "Batch markdown translator driven by a chat-completion model",
	Long: `A CLI application that translates a directory of markdown documents into
academic Chinese with an OpenAI-compatible chat-completion endpoint.

Each document is translated over as many turns as the model needs: the whole
conversation is replayed on every call and replies are appended to the output
file until the model emits the completion marker.

Use "mdtran translate --help" for translation options.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(cmd); err != nil {
			return err
		}
		initLogger()
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (YAML)")
	pf.StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment (ignored if missing)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (json, text)")
	pf.String("log-file", "", "Also write logs to this file (rotated)")
	pf.Bool("with-caller", false, "Add caller file and line to log entries")
}

// initConfig loads the dotenv file, the optional config file and the
// environment, then binds the flags of the running command.
func initConfig(cmd *cobra.Command) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return err
		}
	}

	return viper.BindPFlags(cmd.Flags())
}

func initLogger() {
	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stderr
	if viper.GetString("log-format") == "text" {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	if f := viper.GetString("log-file"); f != "" {
		w = io.MultiWriter(w, &lumberjack.Logger{
			Filename:   f,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	ctx := zerolog.New(w).With().Timestamp()
	if viper.GetBool("with-caller") {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug().Str("config", used).Msg("loaded configuration")
	}
}
