package database

import (
	"errors"
	"fmt"
	"strings"
)

// buildPostgresDSN assembles a keyword/value DSN. sslmode defaults to
// disable because the expected deployment is a local single-user vault.
func buildPostgresDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("postgres: user and database name are required")
	}

	host, port := cfg.Host, cfg.Port
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 5432
	}

	params := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", port),
		"user=" + cfg.User,
		"dbname=" + cfg.Name,
	}
	if cfg.Password != "" {
		params = append(params, "password="+cfg.Password)
	}

	options := map[string]string{"sslmode": "disable"}
	for key, value := range cfg.Options {
		options[key] = value
	}
	params = append(params, sortedOptions(options)...)

	return strings.Join(params, " "), nil
}
