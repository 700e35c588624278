package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Key holds the secret-file settings used to load the signing key.
type Key struct {
	// SecretFileName is the path of the encrypted entropy file.
	SecretFileName string
	// SecretPwd decrypts the secret file. Empty is a valid password.
	SecretPwd string
}

type Node struct {
	// DBDir is the directory holding ora.db and the evidence log.
	DBDir string
	// HorizonDays is how far ahead of now the scheduler keeps
	// pre-committed events.
	HorizonDays int
	// DemoMode enables the /demo page.
	DemoMode bool
	// ListenAddr is the HTTP listen address.
	ListenAddr string
	// StaticDir is served for non-API paths.
	StaticDir string
	// LogFile receives the structured log in addition to stdout.
	LogFile string
}

type Config struct {
	Key  Key
	Node Node
}

func Default() Config {
	return Config{
		Key: Key{
			SecretFileName: "./secret.sec",
			SecretPwd:      "",
		},
		Node: Node{
			DBDir:       ".",
			HorizonDays: 390,
			DemoMode:    false,
			ListenAddr:  ":8000",
			StaticDir:   "public",
			LogFile:     "data/oracled.log",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("KEY_SECRET_FILE_NAME"); v != "" {
		cfg.Key.SecretFileName = v
	}
	if v, ok := os.LookupEnv("KEY_SECRET_PWD"); ok {
		cfg.Key.SecretPwd = v
	}
	if v := os.Getenv("DB_DIR"); v != "" {
		cfg.Node.DBDir = v
	}
	if v := os.Getenv("HORIZON_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.Node.HorizonDays = days
		}
	}
	if os.Getenv("DEMO_MODE") == "1" {
		cfg.Node.DemoMode = true
	}
	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Node.ListenAddr = v
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		cfg.Node.StaticDir = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}

	return cfg
}
