package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/datatypes"
)

const mongoCollection = "validation_logs"

// newestFirstSort orders by creation time, then by the time-ordered _id for
// logs created within the same millisecond
var newestFirstSort = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

type mongoLog struct {
	ID               string    `bson:"_id"`
	ApplicationID    string    `bson:"application_id"`
	ValidationStatus string    `bson:"validation_status"`
	ValidDocuments   int       `bson:"valid_documents"`
	InvalidDocuments int       `bson:"invalid_documents"`
	MissingDocuments []string  `bson:"missing_documents"`
	RawResult        string    `bson:"raw_result"`
	ErrorKind        string    `bson:"error_kind,omitempty"`
	ErrorMessage     string    `bson:"error_message,omitempty"`
	CreatedAt        time.Time `bson:"created_at"`
}

type mongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository stores validation logs in the validation_logs collection
func NewMongoRepository(db *mongo.Database) Repository {
	return &mongoRepository{coll: db.Collection(mongoCollection)}
}

// EnsureMongoIndexes creates the lookup index used by the repository
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(mongoCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "application_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
	})
	return err
}

func (r *mongoRepository) Create(ctx context.Context, log *ValidationLog) error {
	if log.ID == uuid.Nil {
		log.ID = NewLogID()
	}
	_, err := r.coll.InsertOne(ctx, toMongoLog(log))
	return err
}

func (r *mongoRepository) LatestByApplicationID(ctx context.Context, applicationID uuid.UUID) (*ValidationLog, error) {
	opts := options.FindOne().SetSort(newestFirstSort)

	var doc mongoLog
	err := r.coll.FindOne(ctx, bson.M{"application_id": applicationID.String()}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toValidationLog()
}

func (r *mongoRepository) ListByApplicationID(ctx context.Context, applicationID uuid.UUID) ([]ValidationLog, error) {
	opts := options.Find().SetSort(newestFirstSort)

	cursor, err := r.coll.Find(ctx, bson.M{"application_id": applicationID.String()}, opts)
	if err != nil {
		return nil, err
	}
	var docs []mongoLog
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	logs := make([]ValidationLog, 0, len(docs))
	for _, doc := range docs {
		log, err := doc.toValidationLog()
		if err != nil {
			return nil, err
		}
		logs = append(logs, *log)
	}
	return logs, nil
}

func toMongoLog(log *ValidationLog) mongoLog {
	missing := []string(log.MissingDocuments)
	if missing == nil {
		missing = []string{}
	}
	return mongoLog{
		ID:               log.ID.String(),
		ApplicationID:    log.ApplicationID.String(),
		ValidationStatus: string(log.ValidationStatus),
		ValidDocuments:   log.ValidDocuments,
		InvalidDocuments: log.InvalidDocuments,
		MissingDocuments: missing,
		RawResult:        string(log.RawResult),
		ErrorKind:        log.ErrorKind,
		ErrorMessage:     log.ErrorMessage,
		CreatedAt:        log.CreatedAt,
	}
}

func (d mongoLog) toValidationLog() (*ValidationLog, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid validation log id %q: %w", d.ID, err)
	}
	appID, err := uuid.Parse(d.ApplicationID)
	if err != nil {
		return nil, fmt.Errorf("invalid application id %q: %w", d.ApplicationID, err)
	}
	return &ValidationLog{
		ID:               id,
		ApplicationID:    appID,
		ValidationStatus: Status(d.ValidationStatus),
		ValidDocuments:   d.ValidDocuments,
		InvalidDocuments: d.InvalidDocuments,
		MissingDocuments: datatypes.JSONSlice[string](d.MissingDocuments),
		RawResult:        datatypes.JSON(d.RawResult),
		ErrorKind:        d.ErrorKind,
		ErrorMessage:     d.ErrorMessage,
		CreatedAt:        d.CreatedAt.UTC(),
	}, nil
}
