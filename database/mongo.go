package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agranova/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	readingsCollection = "sensor_data"
	alertsCollection   = "alerts"
	configCollection   = "irrigation_config"
	logsCollection     = "system_logs"
)

// MongoStore implements Store on MongoDB
type MongoStore struct {
	client   *mongo.Client
	readings *mongo.Collection
	alerts   *mongo.Collection
	config   *mongo.Collection
	logs     *mongo.Collection
}

// NewMongoStore connects to MongoDB, pings it and creates indexes
func NewMongoStore(ctx context.Context, uri, dbName string, timeout time.Duration) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+2*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(timeout).
		SetConnectTimeout(timeout).
		SetMaxPoolSize(50)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect failed: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}

	db := client.Database(dbName)
	s := &MongoStore{
		client:   client,
		readings: db.Collection(readingsCollection),
		alerts:   db.Collection(alertsCollection),
		config:   db.Collection(configCollection),
		logs:     db.Collection(logsCollection),
	}

	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	if _, err := s.readings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "deviceId", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	}); err != nil {
		return err
	}
	if _, err := s.alerts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}},
	}); err != nil {
		return err
	}
	_, err := s.logs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "systemId", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	return err
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ErrNotFound
	}
	return err
}

func (s *MongoStore) InsertReading(ctx context.Context, r *models.SensorReading) error {
	ensureID(&r.ID)
	if _, err := s.readings.InsertOne(ctx, r); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (s *MongoStore) LatestReading(ctx context.Context, deviceID string) (*models.SensorReading, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})

	var r models.SensorReading
	if err := s.readings.FindOne(ctx, bson.M{"deviceId": deviceID}, opts).Decode(&r); err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *MongoStore) ReadingsSince(ctx context.Context, deviceID string, since time.Time) ([]models.SensorReading, error) {
	query := bson.M{"timestamp": bson.M{"$gte": since}}
	if deviceID != "" {
		query["deviceId"] = deviceID
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})

	cursor, err := s.readings.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer cursor.Close(ctx)

	results := make([]models.SensorReading, 0)
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}
	return results, nil
}

// trimCollection deletes every document of the key beyond the newest max
func trimCollection(ctx context.Context, col *mongo.Collection, field, key string, max int) (int64, error) {
	if max <= 0 {
		return 0, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(int64(max)).
		SetProjection(bson.M{"_id": 1})

	cursor, err := col.Find(ctx, bson.M{field: key}, opts)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var stale []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &stale); err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, len(stale))
	for i, doc := range stale {
		ids[i] = doc.ID
	}
	res, err := col.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) TrimReadings(ctx context.Context, deviceID string, max int) (int64, error) {
	n, err := trimCollection(ctx, s.readings, "deviceId", deviceID, max)
	if err != nil {
		return 0, fmt.Errorf("trim readings: %w", err)
	}
	return n, nil
}

func (s *MongoStore) InsertAlert(ctx context.Context, a *models.Alert) error {
	ensureID(&a.ID)
	if _, err := s.alerts.InsertOne(ctx, a); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *MongoStore) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.alerts.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer cursor.Close(ctx)

	alerts := make([]models.Alert, 0)
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}
	return alerts, nil
}

func (s *MongoStore) MarkAlertRead(ctx context.Context, id string) (*models.Alert, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var a models.Alert
	err := s.alerts.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"isRead": true}}, opts).Decode(&a)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *MongoStore) MarkAllAlertsRead(ctx context.Context) (int64, error) {
	res, err := s.alerts.UpdateMany(ctx, bson.M{"isRead": false}, bson.M{"$set": bson.M{"isRead": true}})
	if err != nil {
		return 0, fmt.Errorf("mark alerts read: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) DeleteAlert(ctx context.Context, id string) error {
	res, err := s.alerts.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *MongoStore) GetIrrigationConfig(ctx context.Context) (*models.IrrigationConfig, error) {
	def := models.DefaultIrrigationConfig(time.Now())
	_, err := s.config.UpdateOne(ctx,
		bson.M{"_id": models.IrrigationConfigID},
		bson.M{"$setOnInsert": bson.M{
			"mode":              def.Mode,
			"moistureThreshold": def.MoistureThreshold,
			"manualTimer":       def.ManualTimer,
			"isActive":          def.IsActive,
			"lastUpdated":       def.LastUpdated,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, fmt.Errorf("ensure irrigation config: %w", err)
	}

	var cfg models.IrrigationConfig
	if err := s.config.FindOne(ctx, bson.M{"_id": models.IrrigationConfigID}).Decode(&cfg); err != nil {
		return nil, notFound(err)
	}
	return &cfg, nil
}

func (s *MongoStore) SaveIrrigationConfig(ctx context.Context, cfg *models.IrrigationConfig) error {
	cfg.ID = models.IrrigationConfigID
	_, err := s.config.ReplaceOne(ctx, bson.M{"_id": cfg.ID}, cfg, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save irrigation config: %w", err)
	}
	return nil
}

func (s *MongoStore) InsertLog(ctx context.Context, l *models.SystemLog) error {
	ensureID(&l.ID)
	if _, err := s.logs.InsertOne(ctx, l); err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

func (s *MongoStore) ListLogs(ctx context.Context, systemID string, limit int) ([]models.SystemLog, error) {
	query := bson.M{}
	if systemID != "" {
		query["systemId"] = systemID
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.logs.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer cursor.Close(ctx)

	logs := make([]models.SystemLog, 0)
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	return logs, nil
}

func (s *MongoStore) TrimLogs(ctx context.Context, systemID string, max int) (int64, error) {
	n, err := trimCollection(ctx, s.logs, "systemId", systemID, max)
	if err != nil {
		return 0, fmt.Errorf("trim logs: %w", err)
	}
	return n, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Type() string { return "mongo" }

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
