package validation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"gorm.io/datatypes"
)

func mongoLogDoc(id, appID uuid.UUID, status Status, createdAt time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "application_id", Value: appID.String()},
		{Key: "validation_status", Value: string(status)},
		{Key: "valid_documents", Value: 2},
		{Key: "invalid_documents", Value: 0},
		{Key: "missing_documents", Value: bson.A{"BANK_STATEMENT"}},
		{Key: "raw_result", Value: `{"validation_status":"PARTIAL"}`},
		{Key: "created_at", Value: createdAt},
	}
}

// sortKeys returns the sort fields of a find command, in order
func sortKeys(mt *mtest.T, command bson.Raw) []string {
	mt.Helper()
	var sort bson.D
	require.NoError(mt, bson.Unmarshal(command.Lookup("sort").Document(), &sort))
	keys := make([]string, 0, len(sort))
	for _, e := range sort {
		keys = append(keys, e.Key)
	}
	return keys
}

func TestMongoRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("create", func(mt *mtest.T) {
		repo := &mongoRepository{coll: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		log := &ValidationLog{
			ApplicationID:    uuid.New(),
			ValidationStatus: StatusError,
			RawResult:        datatypes.JSON(`{"error_kind":"EXTERNAL_PROCESS"}`),
			ErrorKind:        "EXTERNAL_PROCESS",
			CreatedAt:        time.Now().UTC(),
		}
		require.NoError(mt, repo.Create(context.Background(), log))
		assert.NotEqual(mt, uuid.Nil, log.ID)
	})

	mt.Run("latest", func(mt *mtest.T) {
		repo := &mongoRepository{coll: mt.Coll}
		id, appID := uuid.New(), uuid.New()
		createdAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			mongoLogDoc(id, appID, StatusPartial, createdAt)))

		log, err := repo.LatestByApplicationID(context.Background(), appID)
		require.NoError(mt, err)
		require.NotNil(mt, log)
		assert.Equal(mt, id, log.ID)
		assert.Equal(mt, []string{"created_at", "_id"}, sortKeys(mt, mt.GetStartedEvent().Command))
		assert.Equal(mt, StatusPartial, log.ValidationStatus)
		assert.Equal(mt, []string{"BANK_STATEMENT"}, []string(log.MissingDocuments))
		assert.True(mt, createdAt.Equal(log.CreatedAt))
	})

	mt.Run("latest not found", func(mt *mtest.T) {
		repo := &mongoRepository{coll: mt.Coll}
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		log, err := repo.LatestByApplicationID(context.Background(), uuid.New())
		require.NoError(mt, err)
		assert.Nil(mt, log)
	})

	mt.Run("list", func(mt *mtest.T) {
		repo := &mongoRepository{coll: mt.Coll}
		appID := uuid.New()
		now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()

		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			mongoLogDoc(uuid.New(), appID, StatusValid, now),
			mongoLogDoc(uuid.New(), appID, StatusError, now.Add(-time.Minute))))

		logs, err := repo.ListByApplicationID(context.Background(), appID)
		require.NoError(mt, err)
		require.Len(mt, logs, 2)
		assert.Equal(mt, []string{"created_at", "_id"}, sortKeys(mt, mt.GetStartedEvent().Command))
		assert.Equal(mt, StatusValid, logs[0].ValidationStatus)
		assert.Equal(mt, appID, logs[1].ApplicationID)
	})

	mt.Run("corrupt id", func(mt *mtest.T) {
		repo := &mongoRepository{coll: mt.Coll}
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: "not-a-uuid"}, {Key: "application_id", Value: uuid.NewString()}}))

		_, err := repo.LatestByApplicationID(context.Background(), uuid.New())
		assert.Error(mt, err)
	})
}
