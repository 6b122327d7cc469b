package repository

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/juju/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"

	"github.com/nrega-mitra/backend/internal/entities"
	"github.com/nrega-mitra/backend/internal/logging"
)

// Collection names
const (
	NregaCollection       = "nregadatas"
	RefreshRunsCollection = "refresh_runs"
)

// mongoNregaDocument is the stored form of a record: the upstream fields
// inline plus normalized keys used by lookups.
type mongoNregaDocument struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty"`
	entities.NregaRecord `bson:",inline"`
	StateKey             string `bson:"state_key"`
	DistrictKey          string `bson:"district_key"`
}

// MongoNregaRepository implements NregaRepository using MongoDB
type MongoNregaRepository struct {
	client  *mongo.Client
	db      *mongo.Database
	records *mongo.Collection
	runs    *mongo.Collection
	logger  *zap.Logger
}

// NewMongoNregaRepositoryWithRetry attempts to connect to MongoDB with retries
func NewMongoNregaRepositoryWithRetry(ctx context.Context, uri, dbName string, maxRetries int, logger *zap.Logger) (*MongoNregaRepository, error) {
	logger = logging.OrNop(logger).Named("mongo")
	if maxRetries < 1 {
		maxRetries = 1
	}
	var err error
	for i := 0; i < maxRetries; i++ {
		var repo *MongoNregaRepository
		repo, err = NewMongoNregaRepository(ctx, uri, dbName, logger)
		if err == nil {
			return repo, nil
		}
		logger.Warn("failed to connect to MongoDB",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err))
		if i == maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Trace(ctx.Err())
		case <-time.After(5 * time.Second):
		}
	}
	return nil, errors.Annotatef(err, "failed to connect after %d attempts", maxRetries)
}

// NewMongoNregaRepository connects to MongoDB and ensures the indexes exist
func NewMongoNregaRepository(ctx context.Context, uri, dbName string, logger *zap.Logger) (*MongoNregaRepository, error) {
	logger = logging.OrNop(logger)
	clientOptions := options.Client().ApplyURI(uri).
		SetMaxPoolSize(50).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true).
		SetWriteConcern(writeconcern.Majority()).
		SetReadPreference(readpref.Primary())

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, errors.Annotate(err, "error connecting to MongoDB")
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Annotate(err, "error pinging MongoDB")
	}

	db := client.Database(dbName)
	repo := &MongoNregaRepository{
		client:  client,
		db:      db,
		records: db.Collection(NregaCollection),
		runs:    db.Collection(RefreshRunsCollection),
		logger:  logger,
	}
	if err := repo.createIndexes(connectCtx); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Annotate(err, "error creating indexes")
	}
	logger.Info("connected to MongoDB", zap.String("database", dbName))
	return repo, nil
}

func (r *MongoNregaRepository) createIndexes(ctx context.Context) error {
	_, err := r.records.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "state_key", Value: 1}, {Key: "district_key", Value: 1}},
			Options: options.Index().SetName("state_district_idx"),
		},
		{
			Keys:    bson.D{{Key: "fin_year", Value: -1}, {Key: "month", Value: 1}},
			Options: options.Index().SetName("period_idx"),
		},
	})
	if err != nil {
		return errors.Annotate(err, "nrega indexes")
	}
	_, err = r.runs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "started_at", Value: -1}},
		Options: options.Index().SetName("started_at_idx"),
	})
	return errors.Annotate(err, "refresh run indexes")
}

// Close disconnects from MongoDB
func (r *MongoNregaRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// Ping checks the connection to the primary
func (r *MongoNregaRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

// stateReplaceFilter matches the state's documents, including ones written
// before state_key existed that only carry the upstream state_name.
func stateReplaceFilter(stateKey string) bson.M {
	return bson.M{"$or": []bson.M{
		{"state_key": stateKey},
		{"state_name": primitive.Regex{Pattern: "^\\s*" + regexp.QuoteMeta(stateKey) + "\\s*$", Options: "i"}},
	}}
}

// ReplaceStateRecords deletes the state's documents and inserts the new set
func (r *MongoNregaRepository) ReplaceStateRecords(ctx context.Context, state string, records []entities.NregaRecord) error {
	stateKey := entities.StateKey(state)
	deleted, err := r.records.DeleteMany(ctx, stateReplaceFilter(stateKey))
	if err != nil {
		return errors.Annotatef(err, "failed to delete records for %s", stateKey)
	}

	if len(records) > 0 {
		docs := make([]interface{}, len(records))
		for i, rec := range records {
			docs[i] = mongoNregaDocument{
				NregaRecord: rec,
				StateKey:    entities.StateKey(rec.StateName),
				DistrictKey: entities.DistrictKey(rec.DistrictName),
			}
		}
		if _, err := r.records.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
			return errors.Annotatef(err, "failed to insert records for %s", stateKey)
		}
	}

	r.logger.Info("replaced state records",
		zap.String("state", stateKey),
		zap.Int64("deleted", deleted.DeletedCount),
		zap.Int("inserted", len(records)))
	return nil
}

// FindAll returns every stored record
func (r *MongoNregaRepository) FindAll(ctx context.Context) ([]entities.NregaRecord, error) {
	return r.find(ctx, bson.M{})
}

// FindByState returns the records of one state
func (r *MongoNregaRepository) FindByState(ctx context.Context, state string) ([]entities.NregaRecord, error) {
	return r.find(ctx, bson.M{"state_key": entities.StateKey(state)})
}

// FindByDistrict returns every month stored for the district
func (r *MongoNregaRepository) FindByDistrict(ctx context.Context, state, districtKey string) ([]entities.NregaRecord, error) {
	return r.find(ctx, bson.M{"state_key": entities.StateKey(state), "district_key": districtKey})
}

// DistinctDistricts returns the district names of the state in alphabetical order
func (r *MongoNregaRepository) DistinctDistricts(ctx context.Context, state string) ([]string, error) {
	values, err := r.records.Distinct(ctx, "district_key", bson.M{"state_key": entities.StateKey(state)})
	if err != nil {
		return nil, errors.Annotate(err, "failed to query districts")
	}
	districts := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			districts = append(districts, s)
		}
	}
	sort.Strings(districts)
	return districts, nil
}

// SaveRefreshRun upserts the outcome of a refresh run
func (r *MongoNregaRepository) SaveRefreshRun(ctx context.Context, run entities.RefreshRun) error {
	_, err := r.runs.ReplaceOne(ctx, bson.M{"_id": run.ID}, run, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Annotatef(err, "failed to save refresh run %s", run.ID)
	}
	return nil
}

// LastRefreshRun returns the most recently started refresh run
func (r *MongoNregaRepository) LastRefreshRun(ctx context.Context) (entities.RefreshRun, error) {
	var run entities.RefreshRun
	opts := options.FindOne().SetSort(bson.D{{Key: "started_at", Value: -1}})
	err := r.runs.FindOne(ctx, bson.M{}, opts).Decode(&run)
	if err == mongo.ErrNoDocuments {
		return entities.RefreshRun{}, errors.NotFoundf("refresh run")
	}
	if err != nil {
		return entities.RefreshRun{}, errors.Annotate(err, "failed to get last refresh run")
	}
	return run, nil
}

func (r *MongoNregaRepository) find(ctx context.Context, filter bson.M) ([]entities.NregaRecord, error) {
	cursor, err := r.records.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Annotate(err, "failed to query records")
	}
	defer cursor.Close(ctx)

	var docs []mongoNregaDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Annotate(err, "failed to decode records")
	}
	result := make([]entities.NregaRecord, len(docs))
	for i, doc := range docs {
		result[i] = doc.NregaRecord
	}
	return result, nil
}
