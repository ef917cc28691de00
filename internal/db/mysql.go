package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// NewConnection opens the SQL database named by cfg.Database.Driver.
func NewConnection(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.Database.ConnectionLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Database.Driver, err)
	}

	return db, nil
}

const mysqlSchema = `CREATE TABLE IF NOT EXISTS studies (
	study_id         VARCHAR(64)   NOT NULL PRIMARY KEY,
	submitter_id     VARCHAR(64)   NOT NULL,
	submitted_at     DATETIME(6)   NOT NULL,
	description      TEXT          NOT NULL,
	source_location  VARCHAR(1024) NOT NULL,
	source_bucket    VARCHAR(255)  NOT NULL DEFAULT '',
	datastore_id     VARCHAR(255)  NOT NULL DEFAULT '',
	job_id           VARCHAR(512)  NOT NULL DEFAULT '',
	result_reference VARCHAR(512)  NOT NULL DEFAULT '',
	status           VARCHAR(32)   NOT NULL,
	import_status    VARCHAR(64)   NOT NULL DEFAULT '',
	last_error       TEXT          NOT NULL,
	attempt_count    INT           NOT NULL DEFAULT 0,
	processing_stage VARCHAR(32)   NOT NULL DEFAULT '',
	updated_at       DATETIME(6)   NOT NULL,
	INDEX idx_studies_submitter (submitter_id, submitted_at),
	INDEX idx_studies_status (status)
)`

const postgresSchema = `CREATE TABLE IF NOT EXISTS studies (
	study_id         VARCHAR(64)   NOT NULL PRIMARY KEY,
	submitter_id     VARCHAR(64)   NOT NULL,
	submitted_at     TIMESTAMPTZ   NOT NULL,
	description      TEXT          NOT NULL DEFAULT '',
	source_location  VARCHAR(1024) NOT NULL,
	source_bucket    VARCHAR(255)  NOT NULL DEFAULT '',
	datastore_id     VARCHAR(255)  NOT NULL DEFAULT '',
	job_id           VARCHAR(512)  NOT NULL DEFAULT '',
	result_reference VARCHAR(512)  NOT NULL DEFAULT '',
	status           VARCHAR(32)   NOT NULL,
	import_status    VARCHAR(64)   NOT NULL DEFAULT '',
	last_error       TEXT          NOT NULL DEFAULT '',
	attempt_count    INTEGER       NOT NULL DEFAULT 0,
	processing_stage VARCHAR(32)   NOT NULL DEFAULT '',
	updated_at       TIMESTAMPTZ   NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_studies_submitter ON studies (submitter_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_studies_status ON studies (status)`
