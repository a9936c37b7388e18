package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetwatch/internal/models"
)

func TestTelemetryRepositoryInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO telemetry").
		WithArgs("rdg-1", "machine-001", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewTelemetryRepository(db)
	err = repo.Insert(context.Background(), &models.TelemetryReading{
		ID:         "rdg-1",
		MachineID:  "machine-001",
		RecordedAt: time.Now().UTC(),
		Readings:   map[string]float64{"Temperature": 22.5},
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTelemetryRepositoryLatestPerMachine(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT DISTINCT ON \(machine_id\)`).
		WillReturnRows(sqlmock.NewRows([]string{"machine_id", "id", "recorded_at"}).
			AddRow("machine-001", "rdg-a", now).
			AddRow("machine-002", "rdg-b", now))

	repo := NewTelemetryRepository(db)
	rows, err := repo.LatestPerMachine(context.Background())

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "machine-001", rows[0].MachineID)
	assert.Equal(t, "rdg-a", rows[0].ReadingID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
