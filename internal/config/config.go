package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string          `yaml:"env" env:"APP_ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	TURN      TURNConfig      `yaml:"turn"`
	Signaling SignalingConfig `yaml:"signaling"`
	Directory DirectoryConfig `yaml:"directory"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Room      RoomConfig      `yaml:"room"`
	Session   SessionConfig   `yaml:"session"`
}

type HTTPConfig struct {
	Address      string   `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	AllowOrigins []string `yaml:"allow_origins" env:"HTTP_ALLOW_ORIGINS" env-separator:","`
}

type WebRTCConfig struct {
	STUNServers []string `yaml:"stun_servers" env:"WEBRTC_STUN_SERVERS" env-separator:","`
	TURNServers []string `yaml:"turn_servers" env:"WEBRTC_TURN_SERVERS" env-separator:","`
	Username    string   `yaml:"username" env:"WEBRTC_USERNAME"`
	Credential  string   `yaml:"credential" env:"WEBRTC_CREDENTIAL"`
}

// TURNConfig controls the relay embedded in the signaling server.
type TURNConfig struct {
	Enabled  bool              `yaml:"enabled" env:"TURN_ENABLED"`
	Address  string            `yaml:"address" env:"TURN_ADDRESS"`
	Realm    string            `yaml:"realm" env:"TURN_REALM"`
	PublicIP string            `yaml:"public_ip" env:"TURN_PUBLIC_IP"`
	Users    map[string]string `yaml:"users"`
}

type SignalingConfig struct {
	URL string `yaml:"url" env:"SIGNALING_URL"`
}

type DirectoryConfig struct {
	URL        string        `yaml:"url" env:"DIRECTORY_URL"`
	ListingTTL time.Duration `yaml:"listing_ttl" env:"DIRECTORY_LISTING_TTL"`
}

type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval" env:"HEARTBEAT_INTERVAL"`
	Timeout  time.Duration `yaml:"timeout" env:"HEARTBEAT_TIMEOUT"`
}

type RoomConfig struct {
	JoinTimeout    time.Duration `yaml:"join_timeout" env:"ROOM_JOIN_TIMEOUT"`
	StartDelay     time.Duration `yaml:"start_delay" env:"ROOM_START_DELAY"`
	ReconnectGrace time.Duration `yaml:"reconnect_grace" env:"ROOM_RECONNECT_GRACE"`
	MaxChatLength  int           `yaml:"max_chat_length" env:"ROOM_MAX_CHAT_LENGTH"`
}

type SessionConfig struct {
	StorePath string `yaml:"store_path" env:"SESSION_STORE_PATH"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	cfg, err := LoadPath(configPath)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// LoadPath reads the YAML file at configPath, applies environment
// overrides and fills defaults.
func LoadPath(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		cfg = Config{Env: "local"}
	}
	cfg.setDefaults()
	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.Env == "" {
		c.Env = "local"
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.TURN.Address == "" {
		c.TURN.Address = "0.0.0.0:3478"
	}
	if c.TURN.Realm == "" {
		c.TURN.Realm = "peerplay"
	}
	if c.Signaling.URL == "" {
		c.Signaling.URL = "ws://localhost:8080/api/peers/ws"
	}
	if c.Directory.URL == "" {
		c.Directory.URL = "http://localhost:8080"
	}
	if c.Directory.ListingTTL <= 0 {
		c.Directory.ListingTTL = 2 * time.Minute
	}
	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = time.Second
	}
	if c.Heartbeat.Timeout <= 0 {
		c.Heartbeat.Timeout = 3 * time.Second
	}
	if c.Room.JoinTimeout <= 0 {
		c.Room.JoinTimeout = 10 * time.Second
	}
	if c.Room.StartDelay <= 0 {
		c.Room.StartDelay = time.Second
	}
	if c.Room.ReconnectGrace <= 0 {
		c.Room.ReconnectGrace = 10 * time.Second
	}
	if c.Room.MaxChatLength <= 0 {
		c.Room.MaxChatLength = 500
	}
	if c.Session.StorePath == "" {
		c.Session.StorePath = ".peerplay/session.json"
	}
}
