package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/iamxvbaba/chanhub"
	"github.com/iamxvbaba/chanhub/pubsub"
)

const (
	pubsubMemory = "memory"
	pubsubLibp2p = "libp2p"
)

type fileConfig struct {
	Addr              string       `toml:"addr"`
	Path              string       `toml:"path"`
	CheckOrigin       []string     `toml:"check_origin"`
	HeartbeatInterval string       `toml:"heartbeat_interval"`
	ZombieCleanup     bool         `toml:"zombie_cleanup"`
	ZombieMaxIdle     string       `toml:"zombie_max_idle"`
	SendBuffer        int          `toml:"send_buffer"`
	LogLevel          string       `toml:"log_level"`
	PubSub            string       `toml:"pubsub"`
	Libp2p            libp2pConfig `toml:"libp2p"`
}

type libp2pConfig struct {
	Listen          []string `toml:"listen"`
	Bootstrap       []string `toml:"bootstrap"`
	MDNS            bool     `toml:"mdns"`
	Rendezvous      string   `toml:"rendezvous"`
	IdentityKeyFile string   `toml:"identity_key_file"`
}

type serverConfig struct {
	Addr     string
	LogLevel string
	PubSub   string
	Libp2p   pubsub.Libp2pOptions
	Options  chanhub.Options
}

func defaultServerConfig() serverConfig {
	opts := chanhub.DefaultOptions()
	opts.ZombieCleanupEnabled = true
	return serverConfig{
		Addr:     ":8080",
		LogLevel: "info",
		PubSub:   pubsubMemory,
		Libp2p:   pubsub.Libp2pOptions{Rendezvous: "chanhub"},
		Options:  opts,
	}
}

func loadServerConfig(path string) (serverConfig, error) {
	cfg := defaultServerConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serverConfig{}, fmt.Errorf("load chanhubd config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("path") {
		cfg.Options.Path = strings.TrimSpace(raw.Path)
	}
	if meta.IsDefined("check_origin") {
		cfg.Options.CheckOrigin = normalizeList(raw.CheckOrigin)
	}
	if meta.IsDefined("heartbeat_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HeartbeatInterval))
		if err != nil {
			return serverConfig{}, fmt.Errorf("parse heartbeat_interval: %w", err)
		}
		cfg.Options.HeartbeatInterval = d
		cfg.Options.HeartbeatEnabled = d > 0
	}
	if meta.IsDefined("zombie_cleanup") {
		cfg.Options.ZombieCleanupEnabled = raw.ZombieCleanup
	}
	if meta.IsDefined("zombie_max_idle") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ZombieMaxIdle))
		if err != nil {
			return serverConfig{}, fmt.Errorf("parse zombie_max_idle: %w", err)
		}
		cfg.Options.ZombieMaxIdle = d
	}
	if meta.IsDefined("send_buffer") {
		cfg.Options.SendBuffer = raw.SendBuffer
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("pubsub") {
		cfg.PubSub = strings.ToLower(strings.TrimSpace(raw.PubSub))
	}
	if meta.IsDefined("libp2p", "listen") {
		cfg.Libp2p.ListenAddrs = normalizeList(raw.Libp2p.Listen)
	}
	if meta.IsDefined("libp2p", "bootstrap") {
		cfg.Libp2p.Bootstrap = normalizeList(raw.Libp2p.Bootstrap)
	}
	if meta.IsDefined("libp2p", "mdns") {
		cfg.Libp2p.EnableMDNS = raw.Libp2p.MDNS
	}
	if meta.IsDefined("libp2p", "rendezvous") {
		cfg.Libp2p.Rendezvous = strings.TrimSpace(raw.Libp2p.Rendezvous)
	}
	if meta.IsDefined("libp2p", "identity_key_file") {
		cfg.Libp2p.IdentityKeyFile = strings.TrimSpace(raw.Libp2p.IdentityKeyFile)
	}

	if err := cfg.validate(); err != nil {
		return serverConfig{}, err
	}
	return cfg, nil
}

func (c serverConfig) validate() error {
	switch c.PubSub {
	case pubsubMemory, pubsubLibp2p:
	default:
		return fmt.Errorf("invalid pubsub %q: want %q or %q", c.PubSub, pubsubMemory, pubsubLibp2p)
	}
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if !strings.HasPrefix(c.Options.Path, "/") {
		return fmt.Errorf("path must start with /: %q", c.Options.Path)
	}
	return nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
