package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App         App         `yaml:"app"`
	Database    Database    `yaml:"database"`
	Allows      Allows      `yaml:"allows"`
	ObjectStore ObjectStore `yaml:"object_store"`
	Session     Session     `yaml:"session"`
	Wallet      Wallet      `yaml:"wallet"`
	Webhook     Webhook     `yaml:"webhook"`
}

type App struct {
	Name string `yaml:"name"`
	Port string `yaml:"port"`
	Host string `yaml:"host"`
}

type Database struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
	Name string `yaml:"name"`
}

type Allows struct {
	Methods []string `yaml:"methods"`
	Origins []string `yaml:"origins"`
	Headers []string `yaml:"headers"`
}

// ObjectStore holds the S3-compatible endpoint spec.md §6 calls "object
// store URL and service key".
type ObjectStore struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Session carries the browser-worker environment knobs spec.md §6 lists:
// an optional browser-binary path (present but unused by the whatsmeow
// adapter, kept for the fixed-search-path fallback contract) and the
// public dashboard origin (loaded, but not read by any other package).
type Session struct {
	AuthRootDir string `yaml:"auth_root_dir"`
	ChromePath  string `yaml:"chrome_path"`
	ClientURL   string `yaml:"client_url"`
}

type Wallet struct {
	DefaultBalance float64 `yaml:"default_balance"`
}

type Webhook struct {
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`
}

func InitConfig() *Config {
	var configs Config
	file_name, _ := filepath.Abs("./config.yaml")
	yaml_file, _ := os.ReadFile(file_name)
	yaml.Unmarshal(yaml_file, &configs)

	// Override with environment variables if they exist (for Docker)
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		configs.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		configs.Database.Port = dbPort
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		configs.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		configs.Database.Pass = dbPassword
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		configs.Database.Name = dbName
	}

	// Override app configuration with environment variables
	if appHost := os.Getenv("APP_HOST"); appHost != "" {
		configs.App.Host = appHost
	}
	if appPort := os.Getenv("APP_PORT"); appPort != "" {
		configs.App.Port = appPort
	}
	if appName := os.Getenv("APP_NAME"); appName != "" {
		configs.App.Name = appName
	}

	if v := os.Getenv("PORT"); v != "" {
		configs.App.Port = v
	}

	if v := os.Getenv("OBJECT_STORE_URL"); v != "" {
		configs.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("OBJECT_STORE_ACCESS_KEY"); v != "" {
		configs.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("OBJECT_STORE_SECRET_KEY"); v != "" {
		configs.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("OBJECT_STORE_USE_SSL"); v == "true" {
		configs.ObjectStore.UseSSL = true
	}

	if v := os.Getenv("SESSION_AUTH_ROOT_DIR"); v != "" {
		configs.Session.AuthRootDir = v
	}
	if v := os.Getenv("CHROME_PATH"); v != "" {
		configs.Session.ChromePath = v
	}
	if v := os.Getenv("CLIENT_URL"); v != "" {
		configs.Session.ClientURL = v
	}

	if v := os.Getenv("WALLET_DEFAULT_BALANCE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			configs.Wallet.DefaultBalance = parsed
		}
	}

	if v := os.Getenv("WEBHOOK_WORKERS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			configs.Webhook.Workers = parsed
		}
	}
	if v := os.Getenv("WEBHOOK_QUEUE_DEPTH"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			configs.Webhook.QueueDepth = parsed
		}
	}

	if configs.Session.AuthRootDir == "" {
		configs.Session.AuthRootDir = "./data/sessions"
	}

	return &configs
}
