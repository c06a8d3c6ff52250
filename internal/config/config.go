package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pion/ice/v2"
	"github.com/pion/webrtc/v3"
)

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	Signaling SignalingConfig `yaml:"signaling"`
	Registry  RegistryConfig  `yaml:"registry"`
	Database  DatabaseConfig  `yaml:"database"`
}

type HTTPConfig struct {
	Address        string   `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	AllowedOrigins []string `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS"`
}

type WebRTCConfig struct {
	STUNServers []string     `yaml:"stun_servers" env:"STUN_SERVERS"`
	TURNServers []TURNServer `yaml:"turn_servers"`
}

type TURNServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

type SignalingConfig struct {
	RoomTTL           time.Duration `yaml:"room_ttl" env:"SIGNALING_ROOM_TTL"`
	SweepInterval     time.Duration `yaml:"sweep_interval" env:"SIGNALING_SWEEP_INTERVAL"`
	MaxMessageBytes   int64         `yaml:"max_message_bytes" env:"SIGNALING_MAX_MESSAGE_BYTES"`
	MessagesPerSecond float64       `yaml:"messages_per_second" env:"SIGNALING_MESSAGES_PER_SECOND"`
	PingPeriod        time.Duration `yaml:"ping_period"`
	PongWait          time.Duration `yaml:"pong_wait"`
}

type RegistryConfig struct {
	MaxDevices    int           `yaml:"max_devices" env:"REGISTRY_MAX_DEVICES"`
	DeviceTimeout time.Duration `yaml:"device_timeout" env:"REGISTRY_DEVICE_TIMEOUT"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"REGISTRY_SWEEP_INTERVAL"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN" env-default:""`
}

// Public STUN endpoints and the openrelay demo TURN relays. The TURN
// credentials are published by the provider and are not secrets.
var (
	DefaultSTUNServers = []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
		"stun:stun3.l.google.com:19302",
		"stun:stun4.l.google.com:19302",
	}
	DefaultTURNServers = []TURNServer{
		{
			URLs:       []string{"turn:openrelay.metered.ca:80"},
			Username:   "openrelayproject",
			Credential: "openrelayproject",
		},
		{
			URLs:       []string{"turn:openrelay.metered.ca:443"},
			Username:   "openrelayproject",
			Credential: "openrelayproject",
		},
	}
)

// Defaults holds what differs between the two binaries when nothing is
// configured: where the config file lives and which port to listen on.
type Defaults struct {
	ConfigPath    string
	ConfigPathEnv string
	Address       string
}

var (
	SignalingDefaults = Defaults{
		ConfigPath:    "config/local.yaml",
		ConfigPathEnv: "CONFIG_PATH",
		Address:       ":5000",
	}
	RegistryDefaults = Defaults{
		ConfigPath:    "config/registry.yaml",
		ConfigPathEnv: "REGISTRY_CONFIG_PATH",
		Address:       ":5001",
	}
)

func MustLoad(defaults Defaults) *Config {
	configPath := fetchConfigPath(defaults)
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath, defaults)
}

func MustLoadPath(configPath string, defaults Defaults) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults(defaults)

	if err := cfg.Validate(); err != nil {
		panic("invalid config: " + err.Error())
	}

	return &cfg
}

func fetchConfigPath(defaults Defaults) string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = defaults.configPathFromEnv()
	}

	return res
}

func (d Defaults) configPathFromEnv() string {
	if d.ConfigPathEnv != "" {
		if path := os.Getenv(d.ConfigPathEnv); path != "" {
			return path
		}
	}
	return d.ConfigPath
}

func (c *Config) setDefaults(defaults Defaults) {
	if c.Env == "" {
		c.Env = "local"
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = defaults.Address
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = SignalingDefaults.Address
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = append([]string(nil), DefaultSTUNServers...)
	}
	if len(c.WebRTC.TURNServers) == 0 {
		c.WebRTC.TURNServers = append([]TURNServer(nil), DefaultTURNServers...)
	}

	if c.Signaling.RoomTTL <= 0 {
		c.Signaling.RoomTTL = time.Hour
	}
	if c.Signaling.SweepInterval <= 0 {
		c.Signaling.SweepInterval = 5 * time.Minute
	}
	if c.Signaling.MaxMessageBytes <= 0 {
		c.Signaling.MaxMessageBytes = 64 * 1024
	}
	if c.Signaling.MessagesPerSecond <= 0 {
		c.Signaling.MessagesPerSecond = 50
	}
	if c.Signaling.PongWait <= 0 {
		c.Signaling.PongWait = 60 * time.Second
	}
	if c.Signaling.PingPeriod <= 0 || c.Signaling.PingPeriod >= c.Signaling.PongWait {
		c.Signaling.PingPeriod = c.Signaling.PongWait * 9 / 10
	}

	if c.Registry.MaxDevices <= 0 {
		c.Registry.MaxDevices = 1000
	}
	if c.Registry.DeviceTimeout <= 0 {
		c.Registry.DeviceTimeout = 5 * time.Minute
	}
	if c.Registry.SweepInterval <= 0 {
		c.Registry.SweepInterval = time.Minute
	}
}

// Validate checks that every configured ICE URL parses and that TURN
// entries carry credentials.
func (c *Config) Validate() error {
	for i, raw := range c.WebRTC.STUNServers {
		u, err := ice.ParseURL(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("webrtc.stun_servers[%d]: %w", i, err)
		}
		if u.Scheme != ice.SchemeTypeSTUN && u.Scheme != ice.SchemeTypeSTUNS {
			return fmt.Errorf("webrtc.stun_servers[%d]: %q is not a stun url", i, raw)
		}
	}

	for i, server := range c.WebRTC.TURNServers {
		if len(server.URLs) == 0 {
			return fmt.Errorf("webrtc.turn_servers[%d]: urls are required", i)
		}
		for _, raw := range server.URLs {
			u, err := ice.ParseURL(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("webrtc.turn_servers[%d]: %w", i, err)
			}
			if u.Scheme != ice.SchemeTypeTURN && u.Scheme != ice.SchemeTypeTURNS {
				return fmt.Errorf("webrtc.turn_servers[%d]: %q is not a turn url", i, raw)
			}
		}
		if strings.TrimSpace(server.Username) == "" || strings.TrimSpace(server.Credential) == "" {
			return fmt.Errorf("webrtc.turn_servers[%d]: username and credential are required", i)
		}
	}

	if c.Registry.MaxDevices <= 0 {
		return errors.New("registry.max_devices must be positive")
	}

	return nil
}

// ICEServers returns the STUN entries, one per URL, followed by the TURN
// entries in configuration order.
func (c WebRTCConfig) ICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(c.STUNServers)+len(c.TURNServers))
	for _, url := range c.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	for _, turn := range c.TURNServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       append([]string(nil), turn.URLs...),
			Username:   turn.Username,
			Credential: turn.Credential,
		})
	}
	return servers
}
