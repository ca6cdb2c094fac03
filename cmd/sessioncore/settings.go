package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/sessioncore/pkg/adapter"
	"github.com/go-go-golems/sessioncore/pkg/configstore"
	"github.com/go-go-golems/sessioncore/pkg/persistence/chatstore"
	"github.com/go-go-golems/sessioncore/pkg/redisstream"
)

type settings struct {
	Addr        string
	Protocol    adapter.Protocol
	DB          string
	ConfigDir   string
	IdleTimeout time.Duration
	Redis       redisstream.Settings
}

func loadSettings(v *viper.Viper) (settings, error) {
	p, err := adapter.ParseProtocol(v.GetString("protocol"))
	if err != nil {
		return settings{}, err
	}
	s := settings{
		Addr:        v.GetString("addr"),
		Protocol:    p,
		DB:          strings.TrimSpace(v.GetString("db")),
		ConfigDir:   strings.TrimSpace(v.GetString("config-dir")),
		IdleTimeout: v.GetDuration("idle-timeout"),
		Redis:       redisstream.FromViper(v),
	}
	if s.IdleTimeout < 0 {
		return settings{}, errors.Errorf("idle-timeout must not be negative, got %s", s.IdleTimeout)
	}
	if s.Redis.Enabled {
		if err := s.Redis.Validate(); err != nil {
			return settings{}, err
		}
	}
	return s, nil
}

// openStore opens the sqlite store at s.DB, or an in-memory store when no
// database file is configured.
func openStore(s settings) (chatstore.TranscriptStore, error) {
	if s.DB == "" {
		return chatstore.NewInMemoryTranscriptStore(0), nil
	}
	dsn, err := chatstore.SQLiteDSNForFile(s.DB)
	if err != nil {
		return nil, err
	}
	store, err := chatstore.NewSQLiteTranscriptStore(dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open transcript db %s", s.DB)
	}
	return store, nil
}

func openConfigStore(s settings) (configstore.Store, error) {
	if s.ConfigDir == "" {
		return nil, errors.New("config-dir is empty")
	}
	return configstore.NewYAMLStore(s.ConfigDir)
}

func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sessioncore", "configs")
}
