package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/kadirbelkuyu/dbsync/internal/config"
	"github.com/kadirbelkuyu/dbsync/internal/dialect"
)

type Connection struct {
	DB      *sql.DB
	Config  *config.Config
	Dialect dialect.Dialect
}

// NewConnection opens and pings a relational external store.
func NewConnection(ctx context.Context, cfg *config.Config) (*Connection, error) {
	driver, dsn := cfg.GetConnectionString()
	if driver == "" {
		return nil, fmt.Errorf("unsupported database type for SQL connection: %s", cfg.External.Type)
	}

	d, err := dialect.ForDriver(driver, cfg.External.Schema)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	return &Connection{
		DB:      db,
		Config:  cfg,
		Dialect: d,
	}, nil
}

func (c *Connection) Close() error {
	return c.DB.Close()
}

func (c *Connection) GetDatabaseName() string {
	return c.Config.External.Database
}

// GetSchemaName returns the schema that holds the synced tables.
func (c *Connection) GetSchemaName() string {
	return c.Config.External.Schema
}

type MongoConnection struct {
	Client   *mongo.Client
	Database *mongo.Database
}

func NewMongoConnection(ctx context.Context, cfg *config.Config) (*MongoConnection, error) {
	if cfg.External.Database == "" {
		return nil, fmt.Errorf("database name is required for MongoDB")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.GetMongoURI()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoConnection{
		Client:   client,
		Database: client.Database(cfg.External.Database),
	}, nil
}

func (c *MongoConnection) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return c.Client.Disconnect(ctx)
}
