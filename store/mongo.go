package store

import (
	"context"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collAccounts = "accounts"
	collTrades   = "trades"
)

type Mongo struct {
	db *mongo.Database
}

func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	clientOpts := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.Wrap(err, "connect to mongo")
	}
	// Check the connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "ping mongo")
	}
	return &Mongo{db: client.Database(database)}, nil
}

func (m *Mongo) Accounts(ctx context.Context) ([]Account, error) {
	cursor, err := m.db.Collection(collAccounts).Find(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrap(err, "find accounts")
	}
	var accounts []Account
	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, errors.Wrap(err, "decode accounts")
	}
	return accounts, nil
}

func (m *Mongo) Record(ctx context.Context, t Trade) error {
	_, err := m.db.Collection(collTrades).InsertOne(ctx, t)
	return errors.Wrap(err, "insert trade")
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.db.Client().Disconnect(ctx)
}
