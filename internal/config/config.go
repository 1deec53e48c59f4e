package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	Secret       string        `mapstructure:"secret"`
	JoinLimit    int           `mapstructure:"join_limit"`
	JoinInterval time.Duration `mapstructure:"join_interval"`

	Client ClientConfig `mapstructure:"client"`
}

// ClientConfig configures one voice participant (cmd/voice).
type ClientConfig struct {
	ServerURL     string `mapstructure:"server_url"`
	ParticipantID string `mapstructure:"participant_id"`
	Username      string `mapstructure:"username"`
	Channel       string `mapstructure:"channel"`
	ControlAddr   string `mapstructure:"control_addr"`
	// Capture is "silence", "none" or the path of an Ogg/Opus file.
	Capture             string        `mapstructure:"capture"`
	ICEServers          []string      `mapstructure:"ice_servers"`
	ICEDisconnectedWait time.Duration `mapstructure:"ice_disconnected_wait"`
	ICEFailedWait       time.Duration `mapstructure:"ice_failed_wait"`
	RenderHost          string        `mapstructure:"render_host"`
	RenderBasePort      int           `mapstructure:"render_base_port"`
	// MaxRetries is the number of fresh negotiations after a failed
	// connection; 0 disables them.
	MaxRetries     int           `mapstructure:"max_retries"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// RetryBudget converts max_retries into mesh.Options.MaxRetries, where zero
// means the built-in default. In the file, 0 or less disables retries.
func (c ClientConfig) RetryBudget() int {
	if c.MaxRetries <= 0 {
		return -1
	}
	return c.MaxRetries
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("join_limit", 5)
	v.SetDefault("join_interval", "10s")

	v.SetDefault("client.server_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("client.username", "guest")
	v.SetDefault("client.channel", "main")
	v.SetDefault("client.control_addr", "127.0.0.1:8090")
	v.SetDefault("client.capture", "silence")
	v.SetDefault("client.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("client.ice_disconnected_wait", "5s")
	v.SetDefault("client.ice_failed_wait", "15s")
	v.SetDefault("client.render_host", "")
	v.SetDefault("client.render_base_port", 5004)
	v.SetDefault("client.max_retries", 1)
	v.SetDefault("client.reconnect_delay", "2s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads one YAML file on top of the defaults. A missing file is not
// an error; VOICE_* environment variables override both.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("voice")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}
