// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides + flags)
type Config struct {
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Server struct {
		Addr        string   `mapstructure:"addr"`
		CORSOrigins []string `mapstructure:"cors_origins"`
		Release     bool     `mapstructure:"release"`
	} `mapstructure:"server"`

	Firing struct {
		Timeout     time.Duration `mapstructure:"timeout"`
		Concurrency int           `mapstructure:"concurrency"`
		UserAgent   string        `mapstructure:"user_agent"`
	} `mapstructure:"firing"`

	Session struct {
		SettleDelay time.Duration `mapstructure:"settle_delay"`
	} `mapstructure:"session"`

	Player struct {
		Width      int    `mapstructure:"width"`
		Height     int    `mapstructure:"height"`
		PageURL    string `mapstructure:"page_url"`
		UserAgent  string `mapstructure:"user_agent"`
		BidRequest string `mapstructure:"bid_request"` // OpenRTB bid request JSON file
	} `mapstructure:"player"`

	Transport struct {
		CacheSize int           `mapstructure:"cache_size"`
		Timeout   time.Duration `mapstructure:"timeout"`
	} `mapstructure:"transport"`

	Simulate struct {
		Tick  time.Duration `mapstructure:"tick"`
		Speed float64       `mapstructure:"speed"`
	} `mapstructure:"simulate"`
}

// Load reads vastinspect.yaml (optional) and VASTINSPECT_* env overrides
// into a Config. Pass a viper instance that already has flags bound, or nil.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetConfigName("vastinspect")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/vastinspect")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("VASTINSPECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	validate(&cfg)
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it on Unmarshal
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.release", false)
	v.SetDefault("firing.timeout", d.Firing.Timeout)
	v.SetDefault("firing.concurrency", d.Firing.Concurrency)
	v.SetDefault("firing.user_agent", d.Firing.UserAgent)
	v.SetDefault("session.settle_delay", d.Session.SettleDelay)
	v.SetDefault("player.width", d.Player.Width)
	v.SetDefault("player.height", d.Player.Height)
	v.SetDefault("player.page_url", "")
	v.SetDefault("player.user_agent", "")
	v.SetDefault("player.bid_request", "")
	v.SetDefault("transport.cache_size", d.Transport.CacheSize)
	v.SetDefault("transport.timeout", d.Transport.Timeout)
	v.SetDefault("simulate.tick", d.Simulate.Tick)
	v.SetDefault("simulate.speed", d.Simulate.Speed)
}

// Default returns a Config with every default applied
func Default() Config {
	var cfg Config
	validate(&cfg)
	return cfg
}

func validate(c *Config) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Firing.Timeout <= 0 {
		c.Firing.Timeout = 5 * time.Second
	}
	if c.Firing.Concurrency <= 0 {
		c.Firing.Concurrency = 8
	}
	if c.Firing.UserAgent == "" {
		c.Firing.UserAgent = "vastinspect/1.0"
	}
	if c.Session.SettleDelay <= 0 {
		c.Session.SettleDelay = 250 * time.Millisecond
	}
	if c.Player.Width <= 0 {
		c.Player.Width = 640
	}
	if c.Player.Height <= 0 {
		c.Player.Height = 360
	}
	if c.Transport.CacheSize <= 0 {
		c.Transport.CacheSize = 64
	}
	if c.Transport.Timeout <= 0 {
		c.Transport.Timeout = 10 * time.Second
	}
	if c.Simulate.Tick <= 0 {
		c.Simulate.Tick = 250 * time.Millisecond
	}
	if c.Simulate.Speed <= 0 {
		c.Simulate.Speed = 1.0
	}
}
