package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gfmartins/nfe-monitor/internal/db"

	"github.com/spf13/viper"
)

// SMTPConfig configures the outgoing mail collaborator.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	FromName string
}

// PortalConfig configures the SEFAZ portal automation.
type PortalConfig struct {
	URL            string
	Headless       bool
	WaitTimeout    time.Duration
	PageDelay      time.Duration
	CertificateDir string
}

// SchedulerConfig configures the ingestion fan-out and the digest trigger.
type SchedulerConfig struct {
	Workers        int
	ScrapeInterval time.Duration
	RetryDelay     time.Duration
	MaxAttempts    int
	SoftTimeLimit  time.Duration
	HardTimeLimit  time.Duration
	DigestHour     int
	DigestMinute   int
	Timezone       string
}

// NotifyConfig configures digest composition.
type NotifyConfig struct {
	DashboardURL string
}

// Config is the process-wide configuration, loaded once at startup and
// passed explicitly to every component.
type Config struct {
	Database  db.Config
	SMTP      SMTPConfig
	Portal    PortalConfig
	Scheduler SchedulerConfig
	Notify    NotifyConfig
	LogLevel  string
}

// Load reads config.yaml from configPath with NFE_* environment overrides.
// A missing file is not an error; defaults plus env vars apply.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("NFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// Map nested keys to flat env vars like NFE_DATABASE_HOST.
	for _, key := range []string{
		"database.host", "database.port", "database.user", "database.password",
		"database.dbname", "database.sslmode",
		"smtp.host", "smtp.port", "smtp.username", "smtp.password", "smtp.from_name",
		"portal.url", "portal.headless", "portal.wait_timeout", "portal.page_delay",
		"portal.certificate_dir",
		"scheduler.workers", "scheduler.scrape_interval", "scheduler.retry_delay",
		"scheduler.max_attempts", "scheduler.soft_time_limit", "scheduler.hard_time_limit",
		"scheduler.digest_hour", "scheduler.digest_minute", "scheduler.timezone",
		"notify.dashboard_url",
		"log_level",
	} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Config{
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetInt("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			FromName: v.GetString("smtp.from_name"),
		},
		Portal: PortalConfig{
			URL:            v.GetString("portal.url"),
			Headless:       v.GetBool("portal.headless"),
			WaitTimeout:    v.GetDuration("portal.wait_timeout"),
			PageDelay:      v.GetDuration("portal.page_delay"),
			CertificateDir: v.GetString("portal.certificate_dir"),
		},
		Scheduler: SchedulerConfig{
			Workers:        v.GetInt("scheduler.workers"),
			ScrapeInterval: v.GetDuration("scheduler.scrape_interval"),
			RetryDelay:     v.GetDuration("scheduler.retry_delay"),
			MaxAttempts:    v.GetInt("scheduler.max_attempts"),
			SoftTimeLimit:  v.GetDuration("scheduler.soft_time_limit"),
			HardTimeLimit:  v.GetDuration("scheduler.hard_time_limit"),
			DigestHour:     v.GetInt("scheduler.digest_hour"),
			DigestMinute:   v.GetInt("scheduler.digest_minute"),
			Timezone:       v.GetString("scheduler.timezone"),
		},
		Notify: NotifyConfig{
			DashboardURL: v.GetString("notify.dashboard_url"),
		},
		LogLevel: v.GetString("log_level"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := db.DefaultConfig()
	v.SetDefault("database.host", defaults.Host)
	v.SetDefault("database.port", defaults.Port)
	v.SetDefault("database.user", defaults.User)
	v.SetDefault("database.password", defaults.Password)
	v.SetDefault("database.dbname", defaults.DBName)
	v.SetDefault("database.sslmode", defaults.SSLMode)

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from_name", "NFe Monitor")

	v.SetDefault("portal.url", "https://www.nfe.fazenda.gov.br/portal/consultaRecebidas.aspx")
	v.SetDefault("portal.headless", true)
	v.SetDefault("portal.wait_timeout", 30*time.Second)
	v.SetDefault("portal.page_delay", time.Second)

	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.scrape_interval", 15*time.Minute)
	v.SetDefault("scheduler.retry_delay", 2*time.Minute)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.soft_time_limit", 4*time.Minute)
	v.SetDefault("scheduler.hard_time_limit", 5*time.Minute)
	v.SetDefault("scheduler.digest_hour", 8)
	v.SetDefault("scheduler.digest_minute", 0)
	v.SetDefault("scheduler.timezone", "America/Sao_Paulo")

	v.SetDefault("notify.dashboard_url", "http://localhost:8501")

	v.SetDefault("log_level", "info")
}
