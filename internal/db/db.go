package db

import (
	"context"
	"database/sql"
	"net/url"
	"strings"

	"github.com/Laisky/errors/v2"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"lumen/backend/internal/config"
)

// Open connects to DATABASE_URL. Remote libSQL URLs go through the libsql
// driver; file: URLs and plain paths open a local SQLite database.
func Open(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	driver, dsn, err := buildDSN(cfg.DatabaseURL, cfg.DatabaseAuthToken)
	if err != nil {
		return nil, err
	}

	database, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s db", driver)
	}
	if driver == "sqlite" {
		// single writer; avoids SQLITE_BUSY between pooled connections
		database.SetMaxOpenConns(1)
	}

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "ping db")
	}

	return database, nil
}

func buildDSN(rawURL, authToken string) (driver, dsn string, err error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", "", errors.New("empty database url")
	}

	if strings.HasPrefix(rawURL, "file:") || !strings.Contains(rawURL, "://") {
		return "sqlite", rawURL, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", errors.Wrap(err, "parse database url")
	}

	switch parsed.Scheme {
	case "libsql", "https", "http", "wss", "ws":
	default:
		return "", "", errors.Errorf("unsupported database scheme %q", parsed.Scheme)
	}

	if token := strings.TrimSpace(authToken); token != "" {
		query := parsed.Query()
		if query.Get("authToken") == "" {
			query.Set("authToken", token)
			parsed.RawQuery = query.Encode()
		}
	}

	return "libsql", parsed.String(), nil
}
