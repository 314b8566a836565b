package conn

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultHost    = "localhost"
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

// Postgres describes how to reach the database and size its pool.
type Postgres struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Params   map[string]string
	// DSN, when set, is used as is and the fields above are ignored.
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenPostgres connects, applies the pool limits and pings once.
func OpenPostgres(ctx context.Context, opt Postgres) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(opt.ConnString()), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if opt.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opt.MaxOpenConns)
	}
	if opt.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opt.MaxIdleConns)
	}
	if opt.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opt.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// ClosePostgres closes the pool behind db.
func ClosePostgres(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ConnString renders the postgres URL.
func (opt Postgres) ConnString() string {
	if opt.DSN != "" {
		return opt.DSN
	}

	host := opt.Host
	if host == "" {
		host = defaultHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	switch {
	case opt.User != "" && opt.Password != "":
		u.User = url.UserPassword(opt.User, opt.Password)
	case opt.User != "":
		u.User = url.User(opt.User)
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	keys := make([]string, 0, len(opt.Params))
	for k := range opt.Params {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for _, k := range keys {
		query.Set(k, opt.Params[k])
	}
	u.RawQuery = query.Encode()

	return u.String()
}
