package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Push delivery modes per platform.
const (
	ModeOff         = "off"
	ModeLocal       = "local"
	ModeOnboard     = "onboard"
	ModePassthrough = "passthrough"
)

// Mock transport modes, used in tests and local development.
const (
	MockOff             = "off"
	MockSuccess         = "success"
	MockPayloadTooLarge = "payloadtoolarge"
	MockError           = "error"
)

type Config struct {
	HTTPServer  `yaml:"http_server"`
	Database    `yaml:"database"`
	Redis       `yaml:"redis"`
	Push        `yaml:"push"`
	Sweeper     `yaml:"sweeper"`
	Passthrough `yaml:"passthrough"`
}

type HTTPServer struct {
	Address string `yaml:"address" env:"SERVER_ADDRESS" env-default:":8080"`
}

type Database struct {
	URL string `yaml:"url" env:"DB_URL" env-required:"true"`
}

type Redis struct {
	Address  string `yaml:"address" env:"REDIS_ADDRESS" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type Push struct {
	ModeIOS     string `yaml:"mode_ios" env:"PUSH_MODE_IOS" env-default:"off"`
	ModeAndroid string `yaml:"mode_android" env:"PUSH_MODE_ANDROID" env-default:"off"`
	ModeWeb     string `yaml:"mode_web" env:"PUSH_MODE_WEB" env-default:"off"`
	MockMode    string `yaml:"mock_mode" env:"PUSH_MOCK_MODE" env-default:"off"`

	APNS    APNS    `yaml:"apns"`
	FCM     FCM     `yaml:"fcm"`
	WebPush WebPush `yaml:"web_push"`
}

type APNS struct {
	KeyID    string `yaml:"key_id" env:"APNS_KEY_ID"`
	TeamID   string `yaml:"team_id" env:"APNS_TEAM_ID"`
	BundleID string `yaml:"bundle_id" env:"APNS_BUNDLE_ID"`
	// P8Key is the raw content of the .p8 signing key file.
	P8Key string `yaml:"p8_key" env:"APNS_P8_KEY"`
}

type FCM struct {
	ServerKey string `yaml:"server_key" env:"FCM_SERVER_KEY"`
}

type WebPush struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key" env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `yaml:"vapid_private_key" env:"VAPID_PRIVATE_KEY"`
	Subscriber      string `yaml:"subscriber" env:"VAPID_SUBSCRIBER"`
}

type Sweeper struct {
	Interval time.Duration `yaml:"interval" env:"SWEEP_INTERVAL" env-default:"1m"`
}

type Passthrough struct {
	Server string `yaml:"server" env:"PASSTHROUGH_SERVER"`
	Token  string `yaml:"token" env:"PASSTHROUGH_TOKEN"`
}

// MustLoad reads configuration from CONFIG_PATH (yaml) when set, falling back
// to environment variables only. A missing .env file is not an error.
func MustLoad() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	var cfg Config

	configPath := os.Getenv("CONFIG_PATH")
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Fatalf("config file %s does not exist", configPath)
		}
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			log.Fatalf("cannot read config: %s", err)
		}
		return &cfg
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("cannot read config from environment: %s", err)
	}
	return &cfg
}

// Mode returns the configured push mode for a platform tag.
func (p Push) Mode(platform string) string {
	switch platform {
	case "ios":
		return p.ModeIOS
	case "android":
		return p.ModeAndroid
	case "web":
		return p.ModeWeb
	}
	return ModeOff
}
