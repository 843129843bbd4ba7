// Package mongo implements the repository interfaces on MongoDB.
//
// Documents reuse the model structs' bson tags. IDs are xid strings stored
// in _id, so the same identifiers work across every backend and in URLs.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	usersCollection = "users"
	tasksCollection = "tasks"
)

// DB owns the client and hands out the per-collection repositories.
type DB struct {
	client *mongo.Client
	users  *UserDB
	tasks  *TaskDB
}

// New connects to uri, checks the server is reachable and makes sure the
// indexes the repositories depend on exist.
func New(ctx context.Context, uri, database string) (*DB, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connecting: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: pinging: %w", err)
	}

	mdb := client.Database(database)
	db := &DB{
		client: client,
		users:  &UserDB{coll: mdb.Collection(usersCollection)},
		tasks:  &TaskDB{coll: mdb.Collection(tasksCollection)},
	}

	if err := db.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: creating indexes: %w", err)
	}
	return db, nil
}

// ensureIndexes is the Mongo counterpart of the SQL migrations. CreateOne is
// a no-op for indexes that already exist with the same definition.
func (db *DB) ensureIndexes(ctx context.Context) error {
	_, err := db.users.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.email: %w", err)
	}

	_, err = db.tasks.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("tasks.user_id: %w", err)
	}
	return nil
}

// Users returns the credential store backed by this database.
func (db *DB) Users() *UserDB { return db.users }

// Tasks returns the task store backed by this database.
func (db *DB) Tasks() *TaskDB { return db.tasks }

// Ping verifies the primary is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (db *DB) Close() error {
	return db.client.Disconnect(context.Background())
}
