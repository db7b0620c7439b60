// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ConfigFileName = "aitbus.yaml"
	EnvPrefix      = "AITBUS"
	KeyDelimiter   = "_"
	ConfigDirName  = "/etc/aitbus/"
)

var (
	viperInstance = viper.NewWithOptions(viper.KeyDelimiter(KeyDelimiter))

	ErrConfigFileNotFound = errors.New("a valid configuration has not been found in any of the search paths")

	RootCommand = &cobra.Command{
		Use:   "aitbus [flags]",
		Short: "aitbus",
		Long: "aitbus relays telemetry between producers and consumers. Inbound streams read from " +
			"UDP ports, plugins or other streams and outbound streams republish them to subscribers.",
	}
)

func RegisterRunner(r func(cmd *cobra.Command, args []string)) {
	RootCommand.Run = r
}

func Execute(ctx context.Context) error {
	return RootCommand.ExecuteContext(ctx)
}

func Init(version, commit string) {
	setVersion(version, commit)
	registerFlags()
}

// RegisterConfigFile merges the configuration file into the settings. The file
// given with --config-path wins over the default search paths.
func RegisterConfigFile() error {
	configPath := viperInstance.GetString(ConfigPathKey)
	if configPath == "" {
		var err error
		configPath, err = seekFileInPaths(ConfigFileName, getConfigFilePaths()...)
		if err != nil {
			return err
		}
	}

	if err := loadPropertiesFromFile(configPath); err != nil {
		return err
	}

	slog.Debug("Configuration file loaded", "config_path", configPath)
	viperInstance.Set(ConfigPathKey, configPath)

	return nil
}

func ResolveConfig() (*Config, error) {
	server, err := resolveServer()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config := &Config{
		Version: viperInstance.GetString(VersionKey),
		Path:    viperInstance.GetString(ConfigPathKey),
		Log:     resolveLog(),
		Relay:   resolveRelay(),
		API:     resolveAPI(),
		Ingest:  resolveIngest(),
		Bus:     resolveBus(),
		Client:  resolveClient(),
		Server:  server,
	}

	slog.Debug("Broker config", "config", config)

	return config, nil
}

func setVersion(version, commit string) {
	RootCommand.Version = version + "-" + commit
	viperInstance.SetDefault(VersionKey, version)
}

func registerFlags() {
	viperInstance.SetEnvPrefix(EnvPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viperInstance.AutomaticEnv()

	fs := RootCommand.Flags()

	fs.String(
		ConfigPathKey,
		"",
		"The path to the configuration file. "+
			"If empty, "+ConfigFileName+" is searched for in "+ConfigDirName+" and the current directory.",
	)
	fs.String(
		LogLevelKey,
		DefLogLevel,
		"The desired verbosity level for logging messages from aitbus. "+
			"Available options, in order of severity from highest to lowest, are: "+
			"error, warn, info and debug.",
	)
	fs.String(
		LogPathKey,
		DefLogPath,
		"The path to output log messages to. "+
			"If the default path doesn't exist, log messages are output to stdout/stderr.",
	)
	fs.String(
		LogFormatKey,
		DefLogFormat,
		"The log line format. Available options are text and json.",
	)

	registerRelayFlags(fs)
	registerServiceFlags(fs)
	registerClientFlags(fs)

	fs.SetNormalizeFunc(normalizeFunc)

	fs.VisitAll(func(flag *flag.Flag) {
		if err := viperInstance.BindPFlag(strings.ReplaceAll(flag.Name, "-", "_"), fs.Lookup(flag.Name)); err != nil {
			return
		}
		err := viperInstance.BindEnv(flag.Name)
		if err != nil {
			slog.Warn("Error occurred binding env", "env", flag.Name, "error", err)
		}
	})
}

func registerRelayFlags(fs *flag.FlagSet) {
	fs.String(
		RelayIntakeAddressKey,
		DefRelayIntakeAddress,
		"The address the relay binds for publishers.",
	)
	fs.String(
		RelayServingAddressKey,
		DefRelayServingAddress,
		"The address the relay binds for subscribers.",
	)
	fs.Int(
		RelayQueueSizeKey,
		DefRelayQueueSize,
		"The number of frames queued per peer before new frames are dropped.",
	)
}

func registerServiceFlags(fs *flag.FlagSet) {
	fs.String(
		APIHostKey,
		DefAPIHost,
		"The host the admin API listens on.",
	)
	fs.Int(
		APIPortKey,
		DefAPIPort,
		"The port the admin API listens on. Set to 0 to disable the API.",
	)
	fs.String(
		IngestHostKey,
		DefIngestHost,
		"The host UDP ingest listeners bind to for port inputs.",
	)
	fs.Int(
		BusQueueSizeKey,
		DefBusQueueSize,
		"The number of internal events queued per bus subscriber.",
	)
}

func registerClientFlags(fs *flag.FlagSet) {
	fs.Duration(
		ClientBackoffInitialIntervalKey,
		DefBackoffInitialInterval,
		"The stream socket reconnect backoff initial interval.")

	fs.Duration(
		ClientBackoffMaxIntervalKey,
		DefBackoffMaxInterval,
		"The stream socket reconnect backoff max interval.")

	fs.Duration(
		ClientBackoffMaxElapsedTimeKey,
		DefBackoffMaxElapsedTime,
		"The stream socket reconnect backoff max elapsed time, 0 retries until the socket is closed.")

	fs.Float64(
		ClientBackoffMultiplierKey,
		DefBackoffMultiplier,
		"The stream socket reconnect backoff multiplier.")

	fs.Float64(
		ClientBackoffJitterKey,
		DefBackoffJitter,
		"The stream socket reconnect backoff randomization factor.")
}

func seekFileInPaths(fileName string, directories ...string) (string, error) {
	for _, directory := range directories {
		f := filepath.Join(directory, fileName)
		if _, err := os.Stat(f); err == nil {
			return f, nil
		}
	}

	return "", ErrConfigFileNotFound
}

func getConfigFilePaths() []string {
	paths := []string{
		ConfigDirName,
	}

	path, err := os.Getwd()
	if err == nil {
		paths = append(paths, path)
	} else {
		slog.Warn("Unable to determine process's current directory", "error", err)
	}

	return paths
}

func loadPropertiesFromFile(cfg string) error {
	viperInstance.SetConfigFile(cfg)
	viperInstance.SetConfigType("yaml")
	err := viperInstance.MergeInConfig()
	if err != nil {
		return fmt.Errorf("error loading config file %s: %w", cfg, err)
	}

	return nil
}

func normalizeFunc(f *flag.FlagSet, name string) flag.NormalizedName {
	from := []string{"_", "."}
	to := "-"
	for _, sep := range from {
		name = strings.ReplaceAll(name, sep, to)
	}

	return flag.NormalizedName(name)
}

func resolveLog() *Log {
	return &Log{
		Level:  viperInstance.GetString(LogLevelKey),
		Path:   viperInstance.GetString(LogPathKey),
		Format: viperInstance.GetString(LogFormatKey),
	}
}

func resolveRelay() *Relay {
	return &Relay{
		IntakeAddress:  viperInstance.GetString(RelayIntakeAddressKey),
		ServingAddress: viperInstance.GetString(RelayServingAddressKey),
		QueueSize:      viperInstance.GetInt(RelayQueueSizeKey),
	}
}

func resolveAPI() *API {
	return &API{
		Host: viperInstance.GetString(APIHostKey),
		Port: viperInstance.GetInt(APIPortKey),
	}
}

func resolveIngest() *Ingest {
	return &Ingest{
		Host: viperInstance.GetString(IngestHostKey),
	}
}

func resolveBus() *Bus {
	return &Bus{
		QueueSize: viperInstance.GetInt(BusQueueSizeKey),
	}
}

func resolveClient() *Client {
	return &Client{
		Backoff: &BackOff{
			InitialInterval: viperInstance.GetDuration(ClientBackoffInitialIntervalKey),
			MaxInterval:     viperInstance.GetDuration(ClientBackoffMaxIntervalKey),
			MaxElapsedTime:  viperInstance.GetDuration(ClientBackoffMaxElapsedTimeKey),
			Multiplier:      viperInstance.GetFloat64(ClientBackoffMultiplierKey),
			Jitter:          viperInstance.GetFloat64(ClientBackoffJitterKey),
		},
	}
}

// resolveServer reads the plugin and stream lists. Stream items are decoded one
// by one so a malformed item only affects itself.
func resolveServer() (*Server, error) {
	var err error

	plugins, pluginsErr := resolvePlugins()
	err = errors.Join(err, pluginsErr)

	inbound, inboundErr := resolveStreamEntries(ServerInboundStreamsKey)
	err = errors.Join(err, inboundErr)

	outbound, outboundErr := resolveStreamEntries(ServerOutboundStreamsKey)
	err = errors.Join(err, outboundErr)

	if err != nil {
		return nil, err
	}

	return &Server{
		Plugins:         plugins,
		InboundStreams:  inbound,
		OutboundStreams: outbound,
	}, nil
}

func resolvePlugins() ([]string, error) {
	items, err := resolveList(ServerPluginsKey)
	if err != nil || items == nil {
		return nil, err
	}

	plugins := make([]string, 0, len(items))
	for index, item := range items {
		var entry PluginEntry
		if decodeErr := decodeWeakly(item, &entry); decodeErr != nil {
			slog.Warn("Skipping plugin entry", "config_path", entryPath(ServerPluginsKey, index),
				"error", decodeErr)

			continue
		}

		if entry.Plugin == nil || entry.Plugin.Name == "" {
			slog.Warn("Skipping plugin entry without a name",
				"config_path", entryPath(ServerPluginsKey, index)+".plugin")

			continue
		}

		plugins = append(plugins, entry.Plugin.Name)
	}

	return plugins, nil
}

func resolveStreamEntries(key string) ([]StreamEntry, error) {
	items, err := resolveList(key)
	if err != nil || items == nil {
		return nil, err
	}

	entries := make([]StreamEntry, 0, len(items))
	for _, item := range items {
		var entry StreamEntry
		if decodeErr := decodeWeakly(item, &entry); decodeErr != nil {
			entries = append(entries, StreamEntry{Err: decodeErr})
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// resolveList returns nil when key is absent and an empty slice when it is
// present without items.
func resolveList(key string) ([]any, error) {
	raw := viperInstance.Get(key)
	if raw == nil {
		return nil, nil
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list, got %T", displayKey(key), raw)
	}

	return items, nil
}

func decodeWeakly(input, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           output,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}

func entryPath(key string, index int) string {
	return fmt.Sprintf("%s[%d]", displayKey(key), index)
}

// displayKey renders a settings key the way it is written in the YAML file.
func displayKey(key string) string {
	return strings.ReplaceAll(key, KeyDelimiter, ".")
}
