package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the workflow consumers need. It is built once
// at startup and passed explicitly into each constructor; nothing reads the
// environment after FromEnv returns.
type Config struct {
	DatabaseURL string

	// PIIKeyHex is the hex-encoded 32-byte key used to open encrypted
	// identity columns.
	PIIKeyHex string

	// WebhookAddr is the listen address for the signature-provider webhook
	// server.
	WebhookAddr string

	Queue    QueueConfig
	Storage  StorageConfig
	OCR      OCRConfig
	Signing  SigningConfig
	ERP      ERPConfig
	Notify   NotifyConfig
	Matching MatchingConfig
}

type QueueConfig struct {
	MaxAttempts             int
	BackoffBase             time.Duration
	PollInterval            time.Duration
	ClaimTimeout            time.Duration
	NotificationConcurrency int
	OCRConcurrency          int
	DocumentConcurrency     int
	SignatureConcurrency    int
	ERPConcurrency          int
	OCRRateEvents           int
	OCRRateWindow           time.Duration
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type OCRConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type SigningConfig struct {
	BaseURL       string
	Token         string
	WebhookSecret string
	DeadlineDays  int

	// Internal signer is attached as a second, organization-side signer
	// when enabled and fully configured.
	InternalSignerEnabled bool
	InternalSignerName    string
	InternalSignerEmail   string
}

type ERPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type NotifyConfig struct {
	EmailURL    string
	SMSURL      string
	WhatsAppURL string
	Token       string
	Timeout     time.Duration
}

type MatchingConfig struct {
	// NameSimilarityThreshold is the minimum accent-insensitive similarity
	// for an extracted name to count as a match.
	NameSimilarityThreshold float64
}

// Default returns the configuration with every knob at its documented default.
func Default() Config {
	return Config{
		WebhookAddr: ":8080",
		Queue: QueueConfig{
			MaxAttempts:             5,
			BackoffBase:             30 * time.Second,
			PollInterval:            time.Second,
			ClaimTimeout:            5 * time.Minute,
			NotificationConcurrency: 3,
			OCRConcurrency:          2,
			DocumentConcurrency:     2,
			SignatureConcurrency:    2,
			ERPConcurrency:          2,
			OCRRateEvents:           10,
			OCRRateWindow:           60 * time.Second,
		},
		OCR:     OCRConfig{Timeout: 30 * time.Second},
		Signing: SigningConfig{DeadlineDays: 7},
		ERP:     ERPConfig{Timeout: 15 * time.Second},
		Notify:  NotifyConfig{Timeout: 10 * time.Second},
		Matching: MatchingConfig{
			NameSimilarityThreshold: 0.85,
		},
	}
}

// FromEnv overlays environment variables onto the defaults.
func FromEnv() (Config, error) {
	cfg := Default()

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.PIIKeyHex = os.Getenv("PII_KEY")
	cfg.WebhookAddr = envOr("WEBHOOK_ADDR", cfg.WebhookAddr)

	if v := os.Getenv("QUEUE_CLAIM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse QUEUE_CLAIM_TIMEOUT: %w", err)
		}
		cfg.Queue.ClaimTimeout = d
	}

	cfg.Storage = StorageConfig{
		Endpoint:  os.Getenv("STORAGE_ENDPOINT"),
		AccessKey: os.Getenv("STORAGE_ACCESS_KEY"),
		SecretKey: os.Getenv("STORAGE_SECRET_KEY"),
		Bucket:    envOr("STORAGE_BUCKET", "cadastro-docs"),
		UseSSL:    os.Getenv("STORAGE_USE_SSL") == "true",
	}

	cfg.OCR.BaseURL = os.Getenv("OCR_BASE_URL")
	cfg.OCR.Token = os.Getenv("OCR_TOKEN")

	cfg.Signing.BaseURL = os.Getenv("SIGNING_BASE_URL")
	cfg.Signing.Token = os.Getenv("SIGNING_TOKEN")
	cfg.Signing.WebhookSecret = os.Getenv("SIGNING_WEBHOOK_SECRET")
	if v := os.Getenv("SIGNING_DEADLINE_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse SIGNING_DEADLINE_DAYS: %w", err)
		}
		cfg.Signing.DeadlineDays = n
	}
	cfg.Signing.InternalSignerEnabled = os.Getenv("SIGNING_INTERNAL_SIGNER") == "true"
	cfg.Signing.InternalSignerName = os.Getenv("SIGNING_INTERNAL_SIGNER_NAME")
	cfg.Signing.InternalSignerEmail = os.Getenv("SIGNING_INTERNAL_SIGNER_EMAIL")

	cfg.ERP.BaseURL = os.Getenv("ERP_BASE_URL")
	cfg.ERP.Token = os.Getenv("ERP_TOKEN")
	if v := os.Getenv("ERP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse ERP_TIMEOUT: %w", err)
		}
		cfg.ERP.Timeout = d
	}

	cfg.Notify.EmailURL = os.Getenv("NOTIFY_EMAIL_URL")
	cfg.Notify.SMSURL = os.Getenv("NOTIFY_SMS_URL")
	cfg.Notify.WhatsAppURL = os.Getenv("NOTIFY_WHATSAPP_URL")
	cfg.Notify.Token = os.Getenv("NOTIFY_TOKEN")

	return cfg, nil
}

// PIIKey decodes the hex key and validates its length.
func (c Config) PIIKey() ([]byte, error) {
	key, err := hex.DecodeString(c.PIIKeyHex)
	if err != nil {
		return nil, fmt.Errorf("config: decode PII key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("config: PII key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
