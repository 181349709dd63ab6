package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arloliu/go-msbridge/logger"
	"github.com/arloliu/go-msbridge/simulator"
	"github.com/arloliu/go-msbridge/spectrum"
)

const envPrefix = "MSBRIDGE"

// commonConfig holds the settings shared by every sub-command.
type commonConfig struct {
	LogLevel         logger.Level
	LogFile          string
	Recording        string
	TerminalDuration time.Duration
	TimingStream     simulator.TimingStream
	ProcessingDelay  bool
}

// newViper binds the flags of cmd, MSBRIDGE_* environment variables and the optional config file.
// Flags take precedence over the environment, which takes precedence over the config file.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString(configFlag); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return v, nil
}

func loadCommonConfig(v *viper.Viper) (*commonConfig, error) {
	level, ok := logger.ParseLevel(v.GetString(logLevelFlag))
	if !ok {
		return nil, fmt.Errorf("invalid log level %q", v.GetString(logLevelFlag))
	}

	stream, err := simulator.ParseTimingStream(v.GetString(timingStreamFlag))
	if err != nil {
		return nil, err
	}

	cfg := &commonConfig{
		LogLevel:         level,
		LogFile:          v.GetString(logFileFlag),
		Recording:        v.GetString(recordingFlag),
		TerminalDuration: v.GetDuration(terminalDurationFlag),
		TimingStream:     stream,
		ProcessingDelay:  v.GetBool(processingDelayFlag),
	}
	if cfg.Recording == "" {
		return nil, fmt.Errorf("--%s is required", recordingFlag)
	}

	return cfg, nil
}

// newLogger returns the logger of a command run and a flush function to call on exit.
// With a log file the records are captured in memory and written out by flush.
func (c *commonConfig) newLogger() (logger.Logger, func() error) {
	if c.LogFile == "" {
		return logger.NewSlog(os.Stderr, c.LogLevel, false), func() error { return nil }
	}

	capture := logger.NewCapture(c.LogLevel)

	return capture, func() error { return capture.Flush(c.LogFile) }
}

func (c *commonConfig) simulatorOptions(l logger.Logger) []simulator.Option {
	return []simulator.Option{
		simulator.WithLogger(l),
		simulator.WithTerminalDuration(c.TerminalDuration),
		simulator.WithTimingStream(c.TimingStream),
		simulator.WithProcessingDelay(c.ProcessingDelay),
	}
}

func (c *commonConfig) openSimulator(ctx context.Context, l logger.Logger, opts ...simulator.Option) (*simulator.Simulator, error) {
	opts = append(c.simulatorOptions(l), opts...)

	return simulator.NewFromSource(ctx, spectrum.FileSource{}, c.Recording, opts...)
}
