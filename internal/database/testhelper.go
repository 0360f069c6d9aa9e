package database

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	Config    Config
}

func SetupTestDB(t *testing.T) *TestDB {
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	config := Config{
		Host:     host,
		Port:     port.Int(),
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	pool, err := NewPool(ctx, config)
	require.NoError(t, err)

	err = Migrate(ctx, pool)
	require.NoError(t, err)

	return &TestDB{
		Container: container,
		Pool:      pool,
		Config:    config,
	}
}

func (db *TestDB) Cleanup(t *testing.T) {
	ctx := context.Background()
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		require.NoError(t, db.Container.Terminate(ctx))
	}
}
