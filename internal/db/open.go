package db

import (
	"context"
	"fmt"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// Open returns the metadata store selected by cfg.MetadataStore and a func
// that releases its resources.
func Open(ctx context.Context, cfg *config.Config, sess *session.Session) (Repository, func() error, error) {
	noop := func() error { return nil }

	switch cfg.MetadataStore {
	case "memory":
		return NewMemoryRepository(), noop, nil

	case "dynamodb":
		if sess == nil {
			return nil, nil, fmt.Errorf("dynamodb metadata store requires an AWS session")
		}
		awsCfg := aws.NewConfig()
		if cfg.DynamoDB.Endpoint != "" {
			awsCfg = awsCfg.WithEndpoint(cfg.DynamoDB.Endpoint)
		}
		client := dynamodb.New(sess, awsCfg)
		return NewDynamoRepository(client, cfg.DynamoDB.Table, cfg.DynamoDB.SubmitterIndex), noop, nil

	case "mysql", "postgres":
		dbCfg := *cfg
		dbCfg.Database.Driver = cfg.MetadataStore
		conn, err := NewConnection(&dbCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		repo := NewSQLRepository(conn, cfg.MetadataStore)
		if cfg.Database.AutoMigrate {
			if err := repo.EnsureSchema(ctx); err != nil {
				conn.Close()
				return nil, nil, fmt.Errorf("failed to create schema: %w", err)
			}
		}
		return repo, conn.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown metadata store %q", cfg.MetadataStore)
}
