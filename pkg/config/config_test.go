// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, 5*time.Second, cfg.Firing.Timeout)
	require.Equal(t, 8, cfg.Firing.Concurrency)
	require.Equal(t, 250*time.Millisecond, cfg.Session.SettleDelay)
	require.Equal(t, 640, cfg.Player.Width)
	require.Equal(t, 360, cfg.Player.Height)
	require.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VASTINSPECT_FIRING_TIMEOUT", "2s")
	t.Setenv("VASTINSPECT_PLAYER_WIDTH", "1920")
	t.Setenv("VASTINSPECT_LOG_LEVEL", "debug")

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.Firing.Timeout)
	require.Equal(t, 1920, cfg.Player.Width)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 360, cfg.Player.Height)
}

func TestLoad_ExplicitValuesWin(t *testing.T) {
	v := viper.New()
	v.Set("simulate.speed", 4.0)
	v.Set("firing.concurrency", 2)

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, 4.0, cfg.Simulate.Speed)
	require.Equal(t, 2, cfg.Firing.Concurrency)
}
