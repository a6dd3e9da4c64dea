package database

import (
	"errors"
	"fmt"
	"strings"
)

// buildMySQLDSN assembles a go-sql-driver DSN. parseTime stays on so the
// entry and snapshot timestamps scan back into time.Time.
func buildMySQLDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("mysql: user and database name are required")
	}

	credentials := cfg.User
	if cfg.Password != "" {
		credentials += ":" + cfg.Password
	}

	host, port := cfg.Host, cfg.Port
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = 3306
	}

	options := map[string]string{
		"charset":   "utf8mb4",
		"parseTime": "True",
		"loc":       "Local",
	}
	for key, value := range cfg.Options {
		options[key] = value
	}

	return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s",
		credentials, host, port, cfg.Name, strings.Join(sortedOptions(options), "&")), nil
}
