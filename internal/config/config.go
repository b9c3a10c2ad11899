package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "RENDEZVOUS"

type Config struct {
	Mode       string `mapstructure:"mode"`
	LogLevel   string `mapstructure:"log_level"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	TLSCert    string `mapstructure:"tls_cert"`
	TLSKey     string `mapstructure:"tls_key"`
	Secret     string `mapstructure:"secret"`

	Capacity       int `mapstructure:"capacity"`
	MaxRoomMembers int `mapstructure:"max_room_members"`

	PingPeriod    time.Duration `mapstructure:"ping_period"`
	ClientTimeout time.Duration `mapstructure:"client_timeout"`
	WriteWait     time.Duration `mapstructure:"write_wait"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	Backpressure  string        `mapstructure:"backpressure"`

	AdmissionLimit  int           `mapstructure:"admission_limit"`
	AdmissionWindow time.Duration `mapstructure:"admission_window"`

	ICEServers    []string `mapstructure:"ice_servers"`
	ICEUsername   string   `mapstructure:"ice_username"`
	ICECredential string   `mapstructure:"ice_credential"`
}

// TLS reports whether both certificate and key are configured.
func (c *Config) TLS() bool { return c.TLSCert != "" && c.TLSKey != "" }

// Load reads config/config.<CONFIG_ENV>.yaml (or the file given by --config),
// then RENDEZVOUS_* environment variables, then command line flags.
func Load(args []string) (*Config, error) {
	flags := pflag.NewFlagSet("rendezvous", pflag.ContinueOnError)
	configFile := flags.String("config", "", "path to a yaml config file")
	flags.String("mode", "release", "gin mode: debug or release")
	flags.String("log-level", "info", "log level")
	flags.Int("port", 8080, "listen port")
	flags.String("static-path", "./web", "directory with static assets")
	flags.Int("capacity", 10000, "number of room slots")
	flags.String("backpressure", "drop", "slow recipient policy: drop or kick")
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")

	fileName := *configFile
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("tls_cert", "")
	v.SetDefault("tls_key", "")
	v.SetDefault("secret", "")
	v.SetDefault("capacity", 10000)
	v.SetDefault("max_room_members", 10)
	v.SetDefault("ping_period", "5s")
	v.SetDefault("client_timeout", "10s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("send_buffer", 64)
	v.SetDefault("backpressure", "drop")
	v.SetDefault("admission_limit", 20)
	v.SetDefault("admission_window", "1m")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice_username", "")
	v.SetDefault("ice_credential", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"mode":         "mode",
		"log_level":    "log-level",
		"port":         "port",
		"static_path":  "static-path",
		"capacity":     "capacity",
		"backpressure": "backpressure",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Secret == "" {
		cfg.Secret = randomSecret()
		log.Warn().Str("module", "config").Msg("no secret configured, cookie sessions will not survive a restart")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Int("capacity", cfg.Capacity).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("capacity must be positive, got %d", c.Capacity))
	}
	if c.MaxRoomMembers <= 0 {
		errs = append(errs, fmt.Errorf("max_room_members must be positive, got %d", c.MaxRoomMembers))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, fmt.Errorf("ping_period must be positive, got %s", c.PingPeriod))
	}
	if c.ClientTimeout <= c.PingPeriod {
		errs = append(errs, fmt.Errorf("client_timeout (%s) must exceed ping_period (%s)", c.ClientTimeout, c.PingPeriod))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer))
	}
	if c.AdmissionLimit <= 0 || c.AdmissionWindow <= 0 {
		errs = append(errs, errors.New("admission_limit and admission_window must be positive"))
	}
	switch c.Backpressure {
	case "drop", "kick":
	default:
		errs = append(errs, fmt.Errorf("backpressure must be drop or kick, got %q", c.Backpressure))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("tls_cert and tls_key must be set together"))
	}
	return errors.Join(errs...)
}

func randomSecret() string {
	var b [32]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
