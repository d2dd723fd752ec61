package ledger

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"
)

const (
	mongoDefaultDB  = "contractscan"
	mongoCollection = "batches"
)

// Mongo keeps one manifest document per batch output, keyed by Key.ID.
type Mongo struct {
	coll *mongo.Collection
}

// NewMongo connects to connString. The database comes from the URI path and
// defaults to "contractscan".
func NewMongo(ctx context.Context, connString string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(connString))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	err = client.Ping(ctx, nil)
	if err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))

		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	dbName := mongoDefaultDB
	if cs, parseErr := connstring.ParseAndValidate(connString); parseErr == nil && cs.Database != "" {
		dbName = cs.Database
	}

	return &Mongo{coll: client.Database(dbName).Collection(mongoCollection)}, nil
}

// Completed implements Ledger.
func (m *Mongo) Completed(ctx context.Context, key Key) (bool, error) {
	count, err := m.coll.CountDocuments(ctx, bson.M{"_id": key.ID()})
	if err != nil {
		return false, fmt.Errorf("mongodb count: %w", err)
	}

	return count > 0, nil
}

type mongoManifest struct {
	ID       string `bson:"_id"`
	Manifest `bson:",inline"`
}

// MarkComplete implements Ledger.
func (m *Mongo) MarkComplete(ctx context.Context, man Manifest) error {
	id := man.Key().ID()

	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": id}, mongoManifest{ID: id, Manifest: man},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb replace: %w", err)
	}

	return nil
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	return m.coll.Database().Client().Disconnect(context.Background())
}
