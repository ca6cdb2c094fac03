package redisstream

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings holds Redis Streams transport configuration for Watermill.
type Settings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Group    string `mapstructure:"group" yaml:"group"`
	Consumer string `mapstructure:"consumer" yaml:"consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Group:    "sessioncore",
		Consumer: "sessioncore-1",
	}
}

// AddFlags registers the redis flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	d := DefaultSettings()
	fs.Bool("redis-enabled", d.Enabled, "Enable Redis Streams transport for session frames")
	fs.String("redis-addr", d.Addr, "Redis address host:port")
	fs.String("redis-group", d.Group, "Redis consumer group")
	fs.String("redis-consumer", d.Consumer, "Redis consumer name")
}

// BindFlags binds the flags registered by AddFlags to the "redis.*" keys of v.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	for key, flag := range map[string]string{
		"redis.enabled":  "redis-enabled",
		"redis.addr":     "redis-addr",
		"redis.group":    "redis-group",
		"redis.consumer": "redis-consumer",
	} {
		f := fs.Lookup(flag)
		if f == nil {
			return errors.Errorf("flag --%s is not registered", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "bind %s", flag)
		}
	}
	return nil
}

// FromViper reads the "redis.*" keys of v, falling back to DefaultSettings for
// keys that are unset.
func FromViper(v *viper.Viper) Settings {
	s := DefaultSettings()
	s.Enabled = v.GetBool("redis.enabled")
	if addr := v.GetString("redis.addr"); addr != "" {
		s.Addr = addr
	}
	if group := v.GetString("redis.group"); group != "" {
		s.Group = group
	}
	if consumer := v.GetString("redis.consumer"); consumer != "" {
		s.Consumer = consumer
	}
	return s
}

func (s Settings) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	if s.Group == "" || s.Consumer == "" {
		return errors.New("redis.group and redis.consumer are required when redis is enabled")
	}
	return nil
}
