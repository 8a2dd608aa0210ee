package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects the DDL flavour used by Migrate.
type Dialect string

const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite"
)

// Repository queries use portable SQL so tests can run them on an in-memory
// SQLite database; only the DDL differs per dialect.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS seat_usages (
		id          CHAR(36)     NOT NULL PRIMARY KEY,
		seat_number INT          NOT NULL,
		student_id  VARCHAR(32)  NOT NULL,
		user_name   VARCHAR(64)  NOT NULL,
		email       VARCHAR(255) NOT NULL,
		usage_date  CHAR(10)     NOT NULL,
		usage_time  VARCHAR(5)   NOT NULL DEFAULT '',
		clicked_at  CHAR(24)     NOT NULL,
		released    TINYINT(1)   NOT NULL DEFAULT 0,
		created_at  TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		KEY idx_seat_usages_date (usage_date, clicked_at),
		KEY idx_seat_usages_email (email, clicked_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		email         VARCHAR(255)    NOT NULL UNIQUE,
		display_name  VARCHAR(64)     NOT NULL DEFAULT '',
		password_hash VARCHAR(255)    NOT NULL,
		role          VARCHAR(16)     NOT NULL DEFAULT 'STUDENT',
		is_active     TINYINT(1)      NOT NULL DEFAULT 1,
		created_at    DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at    DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id    BIGINT UNSIGNED NOT NULL,
		token_hash CHAR(64)        NOT NULL UNIQUE,
		expires_at DATETIME        NOT NULL,
		revoked_at DATETIME        NULL,
		created_at DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_refresh_tokens_user (user_id),
		CONSTRAINT fk_refresh_tokens_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS seat_usages (
		id          TEXT    NOT NULL PRIMARY KEY,
		seat_number INTEGER NOT NULL,
		student_id  TEXT    NOT NULL,
		user_name   TEXT    NOT NULL,
		email       TEXT    NOT NULL,
		usage_date  TEXT    NOT NULL,
		usage_time  TEXT    NOT NULL DEFAULT '',
		clicked_at  TEXT    NOT NULL,
		released    INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT    NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_seat_usages_date ON seat_usages (usage_date, clicked_at)`,
	`CREATE INDEX IF NOT EXISTS idx_seat_usages_email ON seat_usages (email, clicked_at)`,
	`CREATE TABLE IF NOT EXISTS users (
		id            INTEGER  NOT NULL PRIMARY KEY AUTOINCREMENT,
		email         TEXT     NOT NULL UNIQUE,
		display_name  TEXT     NOT NULL DEFAULT '',
		password_hash TEXT     NOT NULL,
		role          TEXT     NOT NULL DEFAULT 'STUDENT',
		is_active     INTEGER  NOT NULL DEFAULT 1,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id         INTEGER  NOT NULL PRIMARY KEY AUTOINCREMENT,
		user_id    INTEGER  NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		token_hash TEXT     NOT NULL UNIQUE,
		expires_at DATETIME NOT NULL,
		revoked_at DATETIME NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Migrate creates missing tables.  It is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	stmts := mysqlSchema
	if d == SQLite {
		stmts = sqliteSchema
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate %s: %w", d, err)
		}
	}
	return nil
}
