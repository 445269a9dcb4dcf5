package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cowrite/cowrite/internal/ot"
)

type logDoc struct {
	DocID       string    `bson:"docId"`
	Revision    int       `bson:"revision"`
	Op          string    `bson:"op"` // compact JSON form
	Author      string    `bson:"author"`
	CommittedAt time.Time `bson:"committedAt"`
}

type snapshotDoc struct {
	DocID    string `bson:"docId"`
	Revision int    `bson:"revision"`
	Content  string `bson:"content"`
}

type userDoc struct {
	Username     string `bson:"username"`
	PasswordHash string `bson:"passwordHash"`
}

// Mongo stores the revision log, snapshots and users in three
// collections of one database.
type Mongo struct {
	revlog    *mongo.Collection
	snapshots *mongo.Collection
	users     *mongo.Collection
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{
		revlog:    db.Collection("revlog"),
		snapshots: db.Collection("snapshots"),
		users:     db.Collection("users"),
	}
}

func (s *Mongo) AppendEntry(ctx context.Context, docID string, e Entry) error {
	opData, err := json.Marshal(e.Op)
	if err != nil {
		return fmt.Errorf("store: encode op: %w", err)
	}
	_, err = s.revlog.InsertOne(ctx, logDoc{
		DocID:       docID,
		Revision:    e.Revision,
		Op:          string(opData),
		Author:      e.Author,
		CommittedAt: e.CommittedAt,
	})
	return err
}

func (s *Mongo) SaveSnapshot(ctx context.Context, docID string, revision int, content string) error {
	filter := bson.D{{Key: "docId", Value: docID}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "revision", Value: revision},
		{Key: "content", Value: content},
	}}}
	_, err := s.snapshots.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (s *Mongo) LoadSnapshot(ctx context.Context, docID string) (int, string, error) {
	var snap snapshotDoc
	err := s.snapshots.FindOne(ctx, bson.D{{Key: "docId", Value: docID}}).Decode(&snap)
	if err == mongo.ErrNoDocuments {
		return 0, "", ErrNoSnapshot
	}
	if err != nil {
		return 0, "", err
	}
	return snap.Revision, snap.Content, nil
}

func (s *Mongo) EntriesSince(ctx context.Context, docID string, revision int) ([]Entry, error) {
	filter := bson.D{
		{Key: "docId", Value: docID},
		{Key: "revision", Value: bson.D{{Key: "$gt", Value: revision}}},
	}
	cur, err := s.revlog.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "revision", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Entry
	for cur.Next(ctx) {
		var d logDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		op := new(ot.Operation)
		if err := json.Unmarshal([]byte(d.Op), op); err != nil {
			return nil, fmt.Errorf("store: decode op at revision %d: %w", d.Revision, err)
		}
		out = append(out, Entry{
			Revision:    d.Revision,
			Op:          op,
			Author:      d.Author,
			CommittedAt: d.CommittedAt,
		})
	}
	return out, cur.Err()
}

func (s *Mongo) CreateUser(ctx context.Context, username, passwordHash string) error {
	filter := bson.D{{Key: "username", Value: username}}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{{Key: "passwordHash", Value: passwordHash}}}}
	res, err := s.users.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return err
	}
	if res.UpsertedCount == 0 {
		return ErrUserExists
	}
	return nil
}

func (s *Mongo) PasswordHash(ctx context.Context, username string) (string, error) {
	var u userDoc
	err := s.users.FindOne(ctx, bson.D{{Key: "username", Value: username}}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	return u.PasswordHash, nil
}
