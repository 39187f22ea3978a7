package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"snapblaster-core/internal/bus"
)

func TestRecorderFlushesCompletedMorphSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO morph_sessions").
		WithArgs(0, 0, 1, 2, "linear", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	b := bus.New()
	r := NewRecorder(sqlxDB, b, Get(), nil)
	r.batchSize = 1
	r.flushInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	b.Publish(bus.MorphInitiated{BankID: 0, FromSnap: 0, ToSnap: 1, DurationBars: 2, Curve: bus.Linear})
	b.Publish(bus.MorphCompleted{})

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	r.Wait()
}

func TestRecorderIgnoresCompletedWithoutPendingSession(t *testing.T) {
	b := bus.New()
	r := NewRecorder(nil, b, Get(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	b.Publish(bus.MorphCompleted{})
	time.Sleep(20 * time.Millisecond)

	cancel()
	r.Wait()
	require.Equal(t, 0, len(r.taskChan))
}
