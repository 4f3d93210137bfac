package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Settings holds runtime configuration loaded from the environment.
type Settings struct {
	Port           string `env:"PORT" envDefault:"3000"`
	DBDriver       string `env:"DB_DRIVER" envDefault:"postgres"`
	DBURL          string `env:"DB_URL"`
	RunMigrations  bool   `env:"RUN_MIGRATIONS" envDefault:"false"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"*"`

	PreviewStrokeLimit int `env:"PREVIEW_STROKE_LIMIT" envDefault:"50"`
	PreviewSize        int `env:"PREVIEW_SIZE" envDefault:"150"`
	CanvasWidth        int `env:"CANVAS_WIDTH" envDefault:"300"`
	CanvasHeight       int `env:"CANVAS_HEIGHT" envDefault:"300"`

	ImageBucket    string `env:"GCS_IMAGE_BUCKET"`
	GCPCredentials string `env:"GCP_SERVICE_ACCOUNT_CREDENTIALS"`
	MaxImageSize   int64  `env:"MAX_IMAGE_SIZE" envDefault:"10485760"`

	WSSendBuffer int `env:"WS_SEND_BUFFER" envDefault:"256"`
}

// Load reads an optional .env file and parses the environment into Settings.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}
	return Parse()
}

// Parse builds Settings from the current environment only.
func Parse() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	s.DBDriver = strings.ToLower(strings.TrimSpace(s.DBDriver))
	switch s.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return Settings{}, fmt.Errorf("parse env: unsupported DB_DRIVER %q", s.DBDriver)
	}
	if s.PreviewStrokeLimit <= 0 {
		s.PreviewStrokeLimit = 50
	}
	if s.WSSendBuffer <= 0 {
		s.WSSendBuffer = 256
	}
	return s, nil
}

// Origins splits AllowedOrigins into the comma separated list fiber's cors
// middleware expects, dropping blanks.
func (s Settings) Origins() string {
	var origins []string
	for _, origin := range strings.Split(s.AllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return "*"
	}
	return strings.Join(origins, ",")
}
