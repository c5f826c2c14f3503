package store

import (
	"fmt"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// Config holds the connection settings of a Store.
type Config struct {
	Addr            string        `yaml:"addr"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	Charset         string        `yaml:"charset"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	// SlowThreshold is the duration after which a statement is logged as
	// slow. Zero keeps the driver default.
	SlowThreshold time.Duration `yaml:"slowThreshold"`
}

// DefaultCharset is used when Config.Charset is empty.
const DefaultCharset = "utf8mb4"

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("store: read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("store: decode config: %w", err)
	}
	return cfg, nil
}

// DSN returns the go-sql-driver/mysql data source name of c.
func (c Config) DSN() string {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = c.Addr
	mc.User = c.User
	mc.Passwd = c.Password
	mc.DBName = c.Database
	charset := c.Charset
	if charset == "" {
		charset = DefaultCharset
	}
	mc.Params = map[string]string{"charset": charset}
	return mc.FormatDSN()
}
