package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// config contains the certificate manager daemon configuration.
type config struct {
	ListenAddr        string          `json:"listen_address"`
	Database          *databaseConfig `json:"database,omitempty"`
	Storage           *storageConfig  `json:"storage,omitempty"`
	RenewalWindowDays int             `json:"renewal_window_days"`
	Logfile           string          `json:"log_file"`
	LogLevel          string          `json:"log_level"`
	LogJSON           bool            `json:"log_json"`
}

// databaseConfig selects the index database.
type databaseConfig struct {
	Type string `json:"type"`
	DSN  string `json:"dsn"`
}

// storageConfig locates the on-disk stores.
type storageConfig struct {
	CertDir  string `json:"certificate_directory"`
	KeyDir   string `json:"key_directory"`
	EventsDB string `json:"events_database"`
}

// configFromFile returns a daemon configuration from a JSON-encoded
// configuration file, with environment overrides applied.
func configFromFile(filename string) (*config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var cfg config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnv lets deployment environments override file settings,
// notably database credentials.
func (c *config) applyEnv() {
	if v := os.Getenv("CERTMGR_LISTEN_ADDRESS"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("CERTMGR_DATABASE_DSN"); v != "" {
		if c.Database == nil {
			c.Database = &databaseConfig{}
		}
		c.Database.DSN = v
	}
	if v := os.Getenv("CERTMGR_DATABASE_TYPE"); v != "" {
		if c.Database == nil {
			c.Database = &databaseConfig{}
		}
		c.Database.Type = v
	}
	if v := os.Getenv("CERTMGR_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.Database == nil {
		c.Database = &databaseConfig{Type: "sqlite", DSN: "certmgr.db"}
	}
	if c.Storage == nil {
		c.Storage = &storageConfig{}
	}
	if c.Storage.CertDir == "" {
		c.Storage.CertDir = "certificates"
	}
	if c.Storage.KeyDir == "" {
		c.Storage.KeyDir = "keys"
	}
	if c.Storage.EventsDB == "" {
		c.Storage.EventsDB = "lifecycle_events.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

const sample = `{
    "listen_address": ":8450",
    "database": {
        "type": "sqlite",
        "dsn": "/var/lib/certmgr/certmgr.db"
    },
    "storage": {
        "certificate_directory": "/var/lib/certmgr/certificates",
        "key_directory": "/var/lib/certmgr/keys",
        "events_database": "/var/lib/certmgr/lifecycle_events.db"
    },
    "renewal_window_days": 30,
    "log_file": "/var/log/certmgr/certmgrd.log",
    "log_level": "info",
    "log_json": true
}`

// sampleConfig outputs a sample configuration file.
func sampleConfig() {
	fmt.Println(sample)
}
