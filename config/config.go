/*
Copyright 2025 Veil Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5002"

	DefaultDecryptionTimeout = 24 * time.Hour
	DefaultRefundWindow      = 48 * time.Hour
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"VEIL_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"VEIL_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"VEIL_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"VEIL_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"VEIL_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"VEIL_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"VEIL_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"VEIL_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"VEIL_REDIS_SKIP_TLS_VERIFY"`
}

// OracleConfig describes the external decryption oracle: where to send
// reveal invocations, which key its result proofs must verify against,
// and how long the protocol waits before a pending request may be
// force-timed-out.
type OracleConfig struct {
	Url               string            `json:"url" envconfig:"VEIL_ORACLE_URL"`
	PublicKey         string            `json:"public_key" envconfig:"VEIL_ORACLE_PUBLIC_KEY"`
	CallbackUrl       string            `json:"callback_url" envconfig:"VEIL_ORACLE_CALLBACK_URL"`
	Headers           map[string]string `json:"headers"`
	DecryptionTimeout time.Duration     `json:"decryption_timeout" envconfig:"VEIL_ORACLE_DECRYPTION_TIMEOUT"`
	RefundWindow      time.Duration     `json:"refund_window" envconfig:"VEIL_ORACLE_REFUND_WINDOW"`
	AdminIdentity     string            `json:"admin_identity" envconfig:"VEIL_ORACLE_ADMIN_IDENTITY"`
}

// PrivacyConfig holds the obfuscated-average constants.
type PrivacyConfig struct {
	PrecisionScale       uint64 `json:"precision_scale" envconfig:"VEIL_PRIVACY_PRECISION_SCALE"`
	SmallSampleThreshold uint64 `json:"small_sample_threshold" envconfig:"VEIL_PRIVACY_SMALL_SAMPLE_THRESHOLD"`
	MaxScaleValue        uint64 `json:"max_scale_value" envconfig:"VEIL_PRIVACY_MAX_SCALE_VALUE"`
	NoiseRange           uint64 `json:"noise_range" envconfig:"VEIL_PRIVACY_NOISE_RANGE"`
}

type QueueConfig struct {
	WebhookQueue      string `json:"webhook_queue" envconfig:"VEIL_QUEUE_WEBHOOK"`
	OracleQueue       string `json:"oracle_queue" envconfig:"VEIL_QUEUE_ORACLE"`
	RevealExpiryQueue string `json:"reveal_expiry_queue" envconfig:"VEIL_QUEUE_REVEAL_EXPIRY"`
	MonitoringPort    string `json:"monitoring_port" envconfig:"VEIL_QUEUE_MONITORING_PORT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"VEIL_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"VEIL_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"VEIL_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"VEIL_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Oracle       OracleConfig     `json:"oracle"`
	Privacy      PrivacyConfig    `json:"privacy"`
	Queue        QueueConfig      `json:"queue"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("veil", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called veil.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Veil Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Oracle.Url = strings.TrimSpace(cnf.Oracle.Url)
	cnf.Oracle.PublicKey = strings.TrimSpace(cnf.Oracle.PublicKey)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Oracle.DecryptionTimeout == 0 {
		cnf.Oracle.DecryptionTimeout = DefaultDecryptionTimeout
	}
	if cnf.Oracle.RefundWindow == 0 {
		cnf.Oracle.RefundWindow = DefaultRefundWindow
	}
	// The compensation window must outlast the decryption deadline,
	// otherwise a timed-out request could never be refunded.
	if cnf.Oracle.RefundWindow <= cnf.Oracle.DecryptionTimeout {
		return fmt.Errorf("refund window (%s) must be longer than the decryption timeout (%s)", cnf.Oracle.RefundWindow, cnf.Oracle.DecryptionTimeout)
	}

	if cnf.Privacy.PrecisionScale == 0 {
		cnf.Privacy.PrecisionScale = 1000
	}
	if cnf.Privacy.SmallSampleThreshold == 0 {
		cnf.Privacy.SmallSampleThreshold = 5
	}
	if cnf.Privacy.MaxScaleValue == 0 {
		cnf.Privacy.MaxScaleValue = 1000000
	}
	if cnf.Privacy.NoiseRange == 0 {
		cnf.Privacy.NoiseRange = 500
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.OracleQueue == "" {
		cnf.Queue.OracleQueue = "new:oracle"
	}
	if cnf.Queue.RevealExpiryQueue == "" {
		cnf.Queue.RevealExpiryQueue = "new:reveal-expiry"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5003"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
