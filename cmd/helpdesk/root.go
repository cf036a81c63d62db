package main

import (
	"github.com/joho/godotenv"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/helpdesk"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze"
	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "helpdesk",
	Short:         "Telegram support bot: relays user messages to a support forum chat and back",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a yaml or json config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "path to a .env file, ignored if missing")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logs")

	rootCmd.AddCommand(serveCmd, pollCmd, webhookCmd)
}

func loadConfig() (helpdesk.Config, error) {
	_ = godotenv.Load(envFile)

	var cfg helpdesk.Config
	if err := cfg.Read(configFile); err != nil {
		return cfg, errm.Wrap(err, "read config")
	}
	cfg.Debug = cfg.Debug || debug

	return cfg, nil
}

// logger adapts logze to helpdesk.Logger.
type logger struct {
	l logze.Logger
}

// newLogger writes JSON logs to stderr.
func newLogger(debug bool) *logger {
	level := lang.If(debug, logze.DebugLevel, logze.InfoLevel)
	return &logger{l: logze.New(logze.NewConfig().WithConsoleJSON().WithLevel(level))}
}

func (l *logger) Debug(msg string, args ...any) { l.l.Debug(msg, args...) }

func (l *logger) Info(msg string, args ...any) { l.l.Info(msg, args...) }
func (l *logger) Warn(msg string, args ...any) { l.l.Warn(msg, args...) }

// Error passes the value of the "error" field as the logged error.
func (l *logger) Error(msg string, args ...any) {
	var err error
	rest := make([]any, 0, len(args))
	for i := 0; i < len(args); i++ {
		if key, ok := args[i].(string); ok && key == "error" && i+1 < len(args) {
			if e, ok := args[i+1].(error); ok && err == nil {
				err = e
				i++
				continue
			}
		}
		rest = append(rest, args[i])
	}
	l.l.Error(err, msg, rest...)
}
