package mongo

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	defaultDatabase        = "voicebridge"
	defaultURI             = "mongodb://localhost:27017"
	defaultMaxPoolSize     = 10
	defaultMinPoolSize     = 1
	defaultMaxConnIdleTime = 30 * time.Minute
	defaultConnectTimeout  = 10 * time.Second
	defaultSelectTimeout   = 5 * time.Second
)

// Config holds the archive database connection settings.
type Config struct {
	// URI is the MongoDB connection string.
	URI string

	// Database is the database holding the transcript collections.
	Database string

	// MaxPoolSize and MinPoolSize bound the driver's connection pool.
	// Zero values use the defaults.
	MaxPoolSize uint64
	MinPoolSize uint64
}

// NewConfigFromEnv creates a Config from environment variables.
func NewConfigFromEnv() Config {
	config := Config{
		URI:      os.Getenv("MONGODB_URI"),
		Database: os.Getenv("MONGODB_DATABASE"),
	}
	if raw := os.Getenv("MONGODB_MAX_POOL_SIZE"); raw != "" {
		if size, err := strconv.ParseUint(raw, 10, 64); err == nil && size > 0 {
			config.MaxPoolSize = size
		}
	}
	return config
}

// Client wraps the MongoDB client and database
type Client struct {
	*mongo.Client
	Database *mongo.Database
	logger   *zap.Logger
}

// NewClient connects to the archive database and verifies the connection.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	uri := config.URI
	if uri == "" {
		uri = defaultURI
	}
	dbName := config.Database
	if dbName == "" {
		dbName = defaultDatabase
	}
	maxPool := config.MaxPoolSize
	if maxPool == 0 {
		maxPool = defaultMaxPoolSize
	}
	minPool := config.MinPoolSize
	if minPool == 0 {
		minPool = defaultMinPoolSize
	}
	if minPool > maxPool {
		return nil, fmt.Errorf("min pool size %d exceeds max pool size %d", minPool, maxPool)
	}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(maxPool).
		SetMinPoolSize(minPool).
		SetMaxConnIdleTime(defaultMaxConnIdleTime).
		SetServerSelectionTimeout(defaultSelectTimeout).
		SetConnectTimeout(defaultConnectTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to transcript archive",
		zap.String("database", dbName))

	return &Client{
		Client:   client,
		Database: client.Database(dbName),
		logger:   logger,
	}, nil
}

// Close closes the MongoDB connection
func (c *Client) Close(ctx context.Context) error {
	if err := c.Client.Disconnect(ctx); err != nil {
		c.logger.Error("Failed to disconnect from MongoDB", zap.Error(err))
		return err
	}
	c.logger.Info("Disconnected from MongoDB")
	return nil
}
