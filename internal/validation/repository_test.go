package validation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupSQLiteTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection would otherwise open its own empty database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&ValidationLog{}))
	return db
}

func TestGormRepository_CreateAndLatest(t *testing.T) {
	repo := NewRepository(setupSQLiteTestDB(t))
	ctx := context.Background()
	appID := uuid.New()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	latest, err := repo.LatestByApplicationID(ctx, appID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := &ValidationLog{
		ApplicationID:    appID,
		ValidationStatus: StatusError,
		RawResult:        datatypes.JSON(`{"error_kind":"TIMEOUT"}`),
		ErrorKind:        "TIMEOUT",
		ErrorMessage:     "verifier timed out after 1m0s",
		CreatedAt:        base,
	}
	require.NoError(t, repo.Create(ctx, first))
	assert.NotEqual(t, uuid.Nil, first.ID)

	second := &ValidationLog{
		ApplicationID:    appID,
		ValidationStatus: StatusPartial,
		ValidDocuments:   2,
		MissingDocuments: datatypes.JSONSlice[string]{"BANK_STATEMENT"},
		RawResult:        datatypes.JSON(`{"validation_status":"PARTIAL"}`),
		CreatedAt:        base.Add(time.Minute),
	}
	require.NoError(t, repo.Create(ctx, second))

	require.NoError(t, repo.Create(ctx, &ValidationLog{
		ApplicationID:    uuid.New(),
		ValidationStatus: StatusValid,
		CreatedAt:        base.Add(time.Hour),
	}))

	latest, err = repo.LatestByApplicationID(ctx, appID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, StatusPartial, latest.ValidationStatus)
	assert.Equal(t, 2, latest.ValidDocuments)
	assert.Equal(t, []string{"BANK_STATEMENT"}, []string(latest.MissingDocuments))
	assert.JSONEq(t, `{"validation_status":"PARTIAL"}`, string(latest.RawResult))
}

func TestGormRepository_ListByApplicationID(t *testing.T) {
	repo := NewRepository(setupSQLiteTestDB(t))
	ctx := context.Background()
	appID := uuid.New()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, status := range []Status{StatusError, StatusInvalid, StatusValid} {
		require.NoError(t, repo.Create(ctx, &ValidationLog{
			ApplicationID:    appID,
			ValidationStatus: status,
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}))
	}

	logs, err := repo.ListByApplicationID(ctx, appID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, StatusValid, logs[0].ValidationStatus)
	assert.Equal(t, StatusError, logs[2].ValidationStatus)

	logs, err = repo.ListByApplicationID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestGormRepository_LatestWithSameCreatedAt(t *testing.T) {
	repo := NewRepository(setupSQLiteTestDB(t))
	ctx := context.Background()
	appID := uuid.New()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	statuses := []Status{StatusValid, StatusPartial, StatusError}
	for _, status := range statuses {
		require.NoError(t, repo.Create(ctx, &ValidationLog{
			ApplicationID:    appID,
			ValidationStatus: status,
			CreatedAt:        at,
		}))
	}

	latest, err := repo.LatestByApplicationID(ctx, appID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, StatusError, latest.ValidationStatus)

	logs, err := repo.ListByApplicationID(ctx, appID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, []Status{StatusError, StatusPartial, StatusValid},
		[]Status{logs[0].ValidationStatus, logs[1].ValidationStatus, logs[2].ValidationStatus})
}

func TestNewLogID_Ordered(t *testing.T) {
	prev := NewLogID()
	for i := 0; i < 100; i++ {
		next := NewLogID()
		assert.Less(t, prev.String(), next.String())
		prev = next
	}
}
