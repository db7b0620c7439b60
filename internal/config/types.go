// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package config

import "time"

type Config struct {
	Log     *Log    `yaml:"-" mapstructure:"log"`
	Relay   *Relay  `yaml:"-" mapstructure:"relay"`
	API     *API    `yaml:"-" mapstructure:"api"`
	Ingest  *Ingest `yaml:"-" mapstructure:"ingest"`
	Bus     *Bus    `yaml:"-" mapstructure:"bus"`
	Client  *Client `yaml:"-" mapstructure:"client"`
	Server  *Server `yaml:"-" mapstructure:"server"`
	Version string  `yaml:"-"`
	Path    string  `yaml:"-"`
}

type Log struct {
	Level  string `yaml:"-" mapstructure:"level"`
	Path   string `yaml:"-" mapstructure:"path"`
	Format string `yaml:"-" mapstructure:"format"`
}

type Relay struct {
	IntakeAddress  string `yaml:"-" mapstructure:"intake_address"`
	ServingAddress string `yaml:"-" mapstructure:"serving_address"`
	QueueSize      int    `yaml:"-" mapstructure:"queue_size"`
}

type API struct {
	Host string `yaml:"-" mapstructure:"host"`
	Port int    `yaml:"-" mapstructure:"port"`
}

type Ingest struct {
	Host string `yaml:"-" mapstructure:"host"`
}

type Bus struct {
	QueueSize int `yaml:"-" mapstructure:"queue_size"`
}

type Client struct {
	Backoff *BackOff `yaml:"-" mapstructure:"backoff"`
}

type BackOff struct {
	InitialInterval time.Duration `yaml:"-" mapstructure:"initial_interval"`
	MaxInterval     time.Duration `yaml:"-" mapstructure:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"-" mapstructure:"max_elapsed_time"`
	Multiplier      float64       `yaml:"-" mapstructure:"multiplier"`
	Jitter          float64       `yaml:"-" mapstructure:"jitter"`
}

// Server holds the declared plugins and stream groups. A nil group means the
// section is absent from the configuration, an empty one that it was declared
// without entries.
type Server struct {
	Plugins         []string      `yaml:"-" mapstructure:"plugins"`
	InboundStreams  []StreamEntry `yaml:"-" mapstructure:"inbound-streams"`
	OutboundStreams []StreamEntry `yaml:"-" mapstructure:"outbound-streams"`
}

// StreamEntry is one item of a stream group. Err is set when the item could not
// be decoded, in which case Stream is nil.
type StreamEntry struct {
	Stream *StreamSpec `yaml:"-" mapstructure:"stream"`
	Err    error       `yaml:"-" mapstructure:"-"`
}

type StreamSpec struct {
	Name     *string `yaml:"-" mapstructure:"name"`
	Input    *string `yaml:"-" mapstructure:"input"`
	Handlers []any   `yaml:"-" mapstructure:"handlers"`
}

type PluginEntry struct {
	Plugin *PluginSpec `yaml:"-" mapstructure:"plugin"`
}

type PluginSpec struct {
	Name string `yaml:"-" mapstructure:"name"`
}
