/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package config loads cmd/chatcored's runtime configuration from defaults,
// an optional config file, and environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every runtime setting cmd/chatcored needs.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener the ws transport is mounted on.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	WSPath          string        `mapstructure:"ws_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MailboxLength   int           `mapstructure:"mailbox_length"`
}

// LoggingConfig controls the logrus logger cmd/chatcored builds the server
// with.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from (in ascending priority) built-in defaults,
// an optional "chatcored" config file in the working directory or
// ./config, and CHATCORED_-prefixed environment variables.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.mailbox_length", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)

	v.SetConfigName("chatcored")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("CHATCORED")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Server.MailboxLength <= 0 {
		cfg.Server.MailboxLength = 256
	}

	return cfg, nil
}
