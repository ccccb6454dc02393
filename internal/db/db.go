package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/config"
)

type DB struct {
	Conn *sqlx.DB
}

func init() {
	sqlx.BindDriver(config.DriverSQLite, sqlx.QUESTION)
}

func New(cfg *config.Config) (*DB, error) {
	return Open(cfg.DBDriver, cfg.DSN())
}

func Open(driver, dsn string) (*DB, error) {
	if driver == config.DriverSQLite && !strings.Contains(dsn, "?") {
		dsn += "?_time_format=sqlite"
	}

	dbConn, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db.New: cannot connect to database: %w", err)
	}

	if driver == config.DriverSQLite {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		dbConn.SetMaxOpenConns(1)
	} else {
		dbConn.SetMaxOpenConns(20)
		dbConn.SetMaxIdleConns(5)
		dbConn.SetConnMaxLifetime(60 * time.Minute)
	}

	return &DB{Conn: dbConn}, nil
}

func (db *DB) Close() error {
	return db.Conn.Close()
}
