package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnString(t *testing.T) {
	assert.Equal(t, "postgres://localhost:5432?sslmode=disable", Postgres{}.ConnString())

	opt := Postgres{
		Host:     "db",
		Port:     6543,
		User:     "sim",
		Password: "p@ss",
		Database: "trading",
		SSLMode:  "require",
		Params:   map[string]string{"application_name": "tradesim", "": "skipped"},
	}
	assert.Equal(t, "postgres://sim:p%40ss@db:6543/trading?application_name=tradesim&sslmode=require", opt.ConnString())

	assert.Equal(t, "host=x", Postgres{DSN: "host=x", Host: "ignored"}.ConnString())
}
