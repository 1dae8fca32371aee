package archive

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oicur0t/sensorlog/pkg/models"
	"github.com/oicur0t/sensorlog/pkg/retry"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ErrBreakerOpen is returned while the archive is paused after repeated failures
var ErrBreakerOpen = errors.New("archive paused after repeated failures")

var invalidCollectionChars = regexp.MustCompile(`[^a-z0-9_]`)

// MongoOptions configures the MongoDB archive
type MongoOptions struct {
	URI                string
	Database           string
	CollectionPrefix   string
	CertificateKeyFile string
	MaxPoolSize        int
	TTLDays            int
	Timeout            time.Duration
	Retry              retry.Config
}

// MongoSink archives every accepted record into one collection per log
type MongoSink struct {
	client           *mongo.Client
	database         *mongo.Database
	collectionPrefix string
	ttlDays          int
	retryConfig      retry.Config
	breaker          *Breaker
	logger           *zap.Logger

	indexed sync.Map // collection name -> struct{}
}

// NewMongoSink connects to MongoDB and verifies the connection
func NewMongoSink(ctx context.Context, opts MongoOptions, logger *zap.Logger) (*MongoSink, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	uri := opts.URI
	clientOpts := options.Client()

	// X.509 authentication via a combined certificate/key file
	if opts.CertificateKeyFile != "" {
		if strings.Contains(uri, "?") {
			uri = uri + "&tlsCertificateKeyFile=" + opts.CertificateKeyFile
		} else {
			uri = uri + "?tlsCertificateKeyFile=" + opts.CertificateKeyFile
		}
		clientOpts.SetAuth(options.Credential{AuthMechanism: "MONGODB-X509"})
	}

	clientOpts.ApplyURI(uri)
	if opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(uint64(opts.MaxPoolSize))
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB archive",
		zap.String("database", opts.Database),
		zap.Int("max_pool_size", opts.MaxPoolSize))

	return &MongoSink{
		client:           client,
		database:         client.Database(opts.Database),
		collectionPrefix: opts.CollectionPrefix,
		ttlDays:          opts.TTLDays,
		retryConfig:      opts.Retry,
		breaker:          NewBreaker(5, time.Minute),
		logger:           logger,
	}, nil
}

// InsertBatch writes a batch, retrying transient failures
func (s *MongoSink) InsertBatch(ctx context.Context, batch models.RecordBatch) error {
	if len(batch.Records) == 0 {
		return nil
	}
	if !s.breaker.Allow() {
		return ErrBreakerOpen
	}

	collName := s.collectionName(batch.Log)
	collection := s.database.Collection(collName)

	if _, done := s.indexed.Load(collName); !done {
		if err := s.ensureIndexes(ctx, collection); err != nil {
			// Inserts still work without the indexes
			s.logger.Error("Failed to ensure indexes", zap.Error(err), zap.String("collection", collName))
		} else {
			s.indexed.Store(collName, struct{}{})
		}
	}

	docs := make([]interface{}, len(batch.Records))
	for i, rec := range batch.Records {
		docs[i] = rec
	}

	err := retry.Do(ctx, s.retryConfig, func() error {
		_, err := collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		if err == nil {
			return nil
		}
		if mongo.IsDuplicateKeyError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return retry.Permanent(err)
		}
		return err
	})

	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			s.breaker.Success()
			s.logger.Warn("Duplicate key error, some records already archived",
				zap.String("collection", collName),
				zap.Int("batch_size", len(batch.Records)))
			return nil
		}
		s.breaker.Failure()
		return fmt.Errorf("failed to archive batch for %s: %w", batch.Log, err)
	}

	s.breaker.Success()
	s.logger.Debug("Batch archived",
		zap.String("collection", collName),
		zap.Int("inserted", len(batch.Records)))
	return nil
}

// ensureIndexes creates the query and retention indexes on a collection
func (s *MongoSink) ensureIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("timestamp_desc"),
		},
		{
			Keys: bson.D{
				{Key: "sensor", Value: 1},
				{Key: "sub_label", Value: 1},
				{Key: "timestamp", Value: -1},
			},
			Options: options.Index().SetName("sensor_timestamp"),
		},
	}

	if s.ttlDays > 0 {
		ttlSeconds := int32(s.ttlDays * 24 * 60 * 60)
		indexModels = append(indexModels, mongo.IndexModel{
			Keys: bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().
				SetName("ttl_index").
				SetExpireAfterSeconds(ttlSeconds),
		})
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// collectionName maps a log name to a valid collection name
func (s *MongoSink) collectionName(logName string) string {
	name := invalidCollectionChars.ReplaceAllString(strings.ToLower(logName), "_")
	return s.collectionPrefix + name
}

// Close disconnects from MongoDB
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
