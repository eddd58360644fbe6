package relational

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BarkinBalci/engagement-engine/internal/config"
)

func newObservedRepository(t *testing.T) (*Repository, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Connect(&config.Database{URL: dsn, AutoMigrate: true}, log)
	require.NoError(t, err)

	repo := NewRepository(db, log)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, logs
}

func TestConnect_MissingRowIsNotLogged(t *testing.T) {
	repo, logs := newObservedRepository(t)

	j, err := repo.GetJourney(context.Background(), "ws-1", "missing")
	require.NoError(t, err)
	assert.Nil(t, j)

	assert.Zero(t, logs.FilterLoggerName("gorm").Len())
}

func TestConnect_QueryErrorIsLogged(t *testing.T) {
	repo, logs := newObservedRepository(t)

	var n int
	err := repo.db.Raw("SELECT count(*) FROM no_such_table").Scan(&n).Error
	require.Error(t, err)

	entries := logs.FilterLoggerName("gorm").FilterMessageSnippet("no_such_table").All()
	assert.NotEmpty(t, entries)
}
