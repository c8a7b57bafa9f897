package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/possync-backend/pkg/config"
	"github.com/angelmondragon/possync-backend/pkg/logger"
)

type syncMarker struct {
	ID   int
	Note string
}

func newSQLiteClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(context.Background(), config.DBConfig{
		Driver:          config.DBDriverSQLite,
		DSN:             fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns:    1,
		ConnMaxLifetime: time.Minute,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.DB().AutoMigrate(&syncMarker{}))
	return client
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{Driver: config.DBDriverSQLite}, nil)
	assert.Error(t, err)
}

func TestNewSelectsDialect(t *testing.T) {
	client := newSQLiteClient(t)
	assert.Equal(t, "sqlite", client.DB().Dialector.Name())

	pg := dialectorFor(config.DBConfig{Driver: "postgres", DSN: "postgres://pos@localhost/possync"})
	assert.Equal(t, "postgres", pg.Name())
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	client := newSQLiteClient(t)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&syncMarker{Note: "committed"}).Error
	}))

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&syncMarker{Note: "rolled back"}).Error; err != nil {
			return err
		}
		return errors.New("applier failed")
	})
	require.Error(t, err)

	var notes []string
	require.NoError(t, client.DB().Model(&syncMarker{}).Pluck("note", &notes).Error)
	assert.Equal(t, []string{"committed"}, notes)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	client := newSQLiteClient(t)

	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			tx.Create(&syncMarker{Note: "half applied"})
			panic("boom")
		})
	})

	var count int64
	require.NoError(t, client.DB().Model(&syncMarker{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPing(t *testing.T) {
	client := newSQLiteClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestQueryLoggerReportsFailuresAndSlowStatements(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf, Format: logger.FormatJSON})
	q := newQueryLogger(logg, 10*time.Millisecond)
	stmt := func() (string, int64) { return "SELECT * FROM offline_queue_items", 0 }

	q.Trace(context.Background(), time.Now(), stmt, gorm.ErrRecordNotFound)
	assert.Zero(t, buf.Len(), "missing rows should not be logged")

	q.Trace(context.Background(), time.Now(), stmt, errors.New("relation does not exist"))
	assert.Contains(t, buf.String(), "db.query_failed")
	assert.Contains(t, buf.String(), "relation does not exist")

	buf.Reset()
	q.Trace(context.Background(), time.Now().Add(-time.Second), stmt, nil)
	assert.Contains(t, buf.String(), "db.slow_query")
	assert.Contains(t, buf.String(), "offline_queue_items")
}

func TestQueryLoggerWithoutLoggerDiscards(t *testing.T) {
	assert.Equal(t, gormlogger.Discard, newQueryLogger(nil, time.Second))
}
