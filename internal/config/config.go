package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/kadirbelkuyu/dbsync/internal/ident"
	"github.com/kadirbelkuyu/dbsync/internal/mapping"
)

const (
	ModeWriteback = "writeback"
	ModeMirror    = "mirror"

	DefaultSchedule = "*/15 * * * *"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type DatabaseConfig struct {
	Type         string `yaml:"type"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	SSLMode      string `yaml:"sslmode,omitempty"`
	Schema       string `yaml:"schema,omitempty"`
	URI          string `yaml:"uri,omitempty"`
	AuthDatabase string `yaml:"auth_database,omitempty"`
}

// SourceConfig locates the recorded catalog and transaction log used as the
// internal source of truth.
type SourceConfig struct {
	Catalog      string `yaml:"catalog"`
	Transactions string `yaml:"transactions"`
}

type SyncConfig struct {
	Schedule         string            `yaml:"schedule"`
	TableMapping     map[string]string `yaml:"table_mapping"`
	DropExtraColumns bool              `yaml:"drop_extra_columns"`
	DeleteExtraRows  bool              `yaml:"delete_extra_rows"`
	SyncEmptyTables  bool              `yaml:"sync_empty_tables"`
}

type WritebackConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Mode            string `yaml:"mode"`
	LookupChunkSize int    `yaml:"lookup_chunk_size"`
	CreateChunkSize int    `yaml:"create_chunk_size"`
	DryRun          bool   `yaml:"dry_run"`
}

type Config struct {
	External  DatabaseConfig  `yaml:"external"`
	Source    SourceConfig    `yaml:"source,omitempty"`
	Sync      SyncConfig      `yaml:"sync"`
	Writeback WritebackConfig `yaml:"writeback"`
}

func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	c.External.Type = normalizeDatabaseType(c.External.Type)

	switch c.External.Type {
	case "postgres":
		if c.External.SSLMode == "" {
			c.External.SSLMode = "disable"
		}
		if c.External.Port == 0 {
			c.External.Port = 5432
		}
		if c.External.Schema == "" {
			c.External.Schema = "public"
		}
	case "mysql":
		if c.External.Port == 0 {
			c.External.Port = 3306
		}
		if c.External.Schema == "" {
			c.External.Schema = c.External.Database
		}
	case "mongo":
		if c.External.Port == 0 {
			c.External.Port = 27017
		}
	}

	if c.Sync.Schedule == "" {
		c.Sync.Schedule = DefaultSchedule
	}
	if c.Writeback.Mode == "" {
		c.Writeback.Mode = ModeWriteback
	}
}

// Validate checks everything that would otherwise fail mid-cycle.
func (c *Config) Validate() error {
	switch c.External.Type {
	case "postgres", "mysql", "mongo":
	default:
		return fmt.Errorf("%w: unsupported external type %q", ErrInvalidConfig, c.External.Type)
	}
	if c.External.Type != "mongo" || c.External.URI == "" {
		if strings.TrimSpace(c.External.Host) == "" {
			return fmt.Errorf("%w: external host is required", ErrInvalidConfig)
		}
	}
	if c.External.Schema != "" {
		if err := ident.ValidateIdentifier(c.External.Schema); err != nil {
			return fmt.Errorf("%w: external schema: %v", ErrInvalidConfig, err)
		}
	}

	if _, err := c.TableMapping(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
		return fmt.Errorf("%w: schedule %q: %v", ErrInvalidConfig, c.Sync.Schedule, err)
	}

	switch c.Writeback.Mode {
	case ModeWriteback, ModeMirror:
	default:
		return fmt.Errorf("%w: unsupported writeback mode %q", ErrInvalidConfig, c.Writeback.Mode)
	}
	if c.Writeback.Enabled && c.External.Type == "mongo" && c.Writeback.Mode == ModeMirror {
		return fmt.Errorf("%w: mirror mode needs a relational external store", ErrInvalidConfig)
	}
	if c.Writeback.LookupChunkSize < 0 || c.Writeback.CreateChunkSize < 0 {
		return fmt.Errorf("%w: chunk sizes cannot be negative", ErrInvalidConfig)
	}

	return nil
}

// TableMapping builds the validated source-to-target table mapping.
func (c *Config) TableMapping() (*mapping.TableMapping, error) {
	return mapping.New(c.Sync.TableMapping)
}

// GetConnectionString returns the driver name and DSN of a relational
// external store.
func (c *Config) GetConnectionString() (string, string) {
	switch c.External.Type {
	case "postgres":
		return "postgres", fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.External.Host,
			c.External.Port,
			c.External.Username,
			c.External.Password,
			c.External.Database,
			c.External.SSLMode,
		)
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = c.External.Username
		cfg.Passwd = c.External.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(c.External.Host, strconv.Itoa(c.External.Port))
		cfg.DBName = c.External.Database
		cfg.ParseTime = true
		return "mysql", cfg.FormatDSN()
	default:
		return "", ""
	}
}

func (c *Config) GetMongoURI() string {
	if c.External.URI != "" {
		return c.External.URI
	}

	host := c.External.Host
	if host == "" {
		host = "localhost"
	}
	port := c.External.Port
	if port == 0 {
		port = 27017
	}

	var credentials string
	if c.External.Username != "" {
		credentials = url.QueryEscape(c.External.Username)
		if c.External.Password != "" {
			credentials = fmt.Sprintf("%s:%s", credentials, url.QueryEscape(c.External.Password))
		}
		credentials += "@"
	}

	targetDatabase := strings.TrimSpace(c.External.Database)
	if targetDatabase != "" {
		targetDatabase = "/" + targetDatabase
	}

	uri := fmt.Sprintf("mongodb://%s%s:%d%s", credentials, host, port, targetDatabase)

	if c.External.AuthDatabase != "" {
		uri = fmt.Sprintf("%s?authSource=%s", uri, url.QueryEscape(c.External.AuthDatabase))
	}

	return uri
}

func normalizeDatabaseType(dbType string) string {
	dbType = strings.ToLower(strings.TrimSpace(dbType))
	if dbType == "" {
		return "postgres"
	}

	switch dbType {
	case "postgres", "postgresql":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	case "mongo", "mongodb":
		return "mongo"
	default:
		return dbType
	}
}
