package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

type Config struct {
	MetadataDB MySQL    `json:"metadata_db"`
	Tracking   Tracking `json:"tracking"`
	Delivery   Delivery `json:"delivery"`

	SessionExpirySeconds uint64 `json:"session_expiry_seconds"`
}

type MySQL struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
}

// Tracking configures how open/click URLs are built and where invalid
// click tokens are redirected to.
type Tracking struct {
	BaseURL         string `json:"base_url"`
	DefaultRedirect string `json:"default_redirect"`
}

// Delivery bounds the send path: retry attempts per email, backoff between
// attempts, and how many sends may be in flight per email config.
type Delivery struct {
	MaxAttempts              uint64 `json:"max_attempts"`
	InitialBackoffSeconds    uint64 `json:"initial_backoff_seconds"`
	MaxInFlightPerConfig     int    `json:"max_in_flight_per_config"`
	CampaignSweepBatchSize   int    `json:"campaign_sweep_batch_size"`
	EnrollmentSweepBatchSize int    `json:"enrollment_sweep_batch_size"`
	EnrollmentConcurrency    int    `json:"enrollment_concurrency"`

	// SendingRescanSeconds is how long a sending campaign must sit
	// untouched before the activation sweep takes it over; resumed and
	// stranded campaigns continue through this path.
	SendingRescanSeconds uint64 `json:"sending_rescan_seconds"`
	// ReconcileGraceSeconds must exceed SendingRescanSeconds so the
	// activation sweep gets to finish a stranded campaign before
	// reconciliation finalizes it.
	ReconcileGraceSeconds uint64 `json:"reconcile_grace_seconds"`
}

func (mysql *MySQL) ToDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", mysql.Username, mysql.Password, mysql.Host, mysql.Port, mysql.Database)
}

func NewConfig() *Config {
	return &Config{
		MetadataDB: MySQL{
			Username: "",
			Password: "",
			Host:     "127.0.0.1",
			Port:     3306,
			Database: "crm_db",
		},
		Tracking: Tracking{
			BaseURL:         "http://127.0.0.1:9090",
			DefaultRedirect: "https://www.example.com/",
		},
		Delivery: Delivery{
			MaxAttempts:              3,
			InitialBackoffSeconds:    2,
			MaxInFlightPerConfig:     5,
			CampaignSweepBatchSize:   10,
			EnrollmentSweepBatchSize: 100,
			EnrollmentConcurrency:    10,
			SendingRescanSeconds:     60,
			ReconcileGraceSeconds:    600,
		},
		SessionExpirySeconds: 86_400, // 1 day
	}
}

func (c *Config) Load(ctx context.Context, path string) error {
	if path == "" {
		log.Ctx(ctx).Warn().Msgf("empty config file")
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Ctx(ctx).Warn().Msgf("config file does not exist, file path: %s", path)
			return nil
		}
		return err
	}
	defer func(f *os.File) {
		err := f.Close()
		if err != nil {
			log.Ctx(ctx).Error().Msgf("config file close failed, file path: %s", path)
		}
	}(f)

	p := json.NewDecoder(f)
	if err := p.Decode(&c); err != nil {
		return err
	}

	return nil
}
