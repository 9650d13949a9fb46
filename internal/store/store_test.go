package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clambin/intuis-monitor/internal/controller"
	"github.com/clambin/intuis-monitor/internal/energy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestStore_SaveReading(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectExec(upsertReading).
		WithArgs("room-1", "2026-08-30", 1.5, true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.SaveReading(context.Background(), energy.Reading{
		Room:        "room-1",
		PeriodStart: time.Date(2026, time.August, 30, 0, 0, 0, 0, time.UTC),
		Consumption: 1.5,
		Partial:     true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Readings(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectQuery(selectReadings).
		WithArgs("room-1", "2026-08-24", "2026-08-31").
		WillReturnRows(sqlmock.NewRows([]string{"room", "day", "kwh", "partial"}).
			AddRow("room-1", "2026-08-29", 1.2, false).
			AddRow("room-1", "2026-08-30", 1.5, true))

	readings, err := s.Readings(context.Background(), "room-1",
		time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.August, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, 1.2, readings[0].Consumption)
	assert.Equal(t, time.Date(2026, time.August, 30, 0, 0, 0, 0, time.UTC), readings[1].PeriodStart)
	assert.True(t, readings[1].Partial)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Overrides(t *testing.T) {
	s, mock := testStore(t)
	ctx := context.Background()

	created := time.Date(2026, time.August, 31, 10, 0, 0, 0, time.UTC)
	expires := created.Add(30 * time.Minute)

	mock.ExpectExec(upsertOverride).
		WithArgs("room-1", int(controller.Boost), 30.0, created.Unix(), expires.Unix(), false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.SaveOverride(ctx, controller.Override{
		Room: "room-1", Kind: controller.Boost, Temperature: 30, CreatedAt: created, ExpiresAt: expires,
	}))

	mock.ExpectQuery(selectOverrides).
		WillReturnRows(sqlmock.NewRows([]string{"room", "kind", "temperature", "created_at", "expires_at", "indefinite"}).
			AddRow("room-1", int(controller.Boost), 30.0, created.Unix(), expires.Unix(), false))
	overrides, err := s.Overrides(ctx)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, controller.Boost, overrides[0].Kind)
	assert.Equal(t, expires.Unix(), overrides[0].ExpiresAt.Unix())

	mock.ExpectExec(deleteOverride).
		WithArgs("room-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.DeleteOverride(ctx, "room-1"))

	assert.NoError(t, mock.ExpectationsWereMet())
}
