//go:build integration

package datastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/logger"
)

// Run with: go test -tags integration ./internal/datastore/
func TestOpenMySQL(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("potholewatch"),
		tcmysql.WithUsername("pothole"),
		tcmysql.WithPassword("pothole"),
	)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	cfg := &conf.DatabaseSettings{Type: "mysql"}
	cfg.MySQL.Host = host
	cfg.MySQL.Port = port.Int()
	cfg.MySQL.Username = "pothole"
	cfg.MySQL.Password = "pothole"
	cfg.MySQL.Database = "potholewatch"

	store, err := Open(cfg, logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.Equal(t, "mysql", store.Dialect)
	require.NoError(t, store.Migrate(&widget{}))
	require.NoError(t, store.DB.Create(&widget{Name: "a"}).Error)

	var count int64
	require.NoError(t, store.DB.Model(&widget{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
