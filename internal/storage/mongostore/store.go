// Package mongostore persists rooms in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/core"
	"github.com/dkeye/muc/internal/domain"
	"github.com/dkeye/muc/internal/storage"
)

type roomDoc struct {
	JID            string             `bson:"_id"`
	StoreID        primitive.ObjectID `bson:"storeId"`
	Created        time.Time          `bson:"created"`
	Creator        string             `bson:"creator"`
	Subject        string             `bson:"subject"`
	SubjectNick    string             `bson:"subjectNick"`
	SubjectChanged time.Time          `bson:"subjectChanged"`
}

type affiliationDoc struct {
	Room        string `bson:"room"`
	Bare        string `bson:"bare"`
	Affiliation string `bson:"affiliation"`
}

type configDoc struct {
	Room   string   `bson:"room"`
	Name   string   `bson:"name"`
	Values []string `bson:"values"`
}

type Store struct {
	client *mongo.Client
	rooms  *mongo.Collection
	affs   *mongo.Collection
	cfg    *mongo.Collection
}

var _ storage.DAO = (*Store)(nil)

// Connect dials uri and prepares the collections of database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	s := &Store{
		client: client,
		rooms:  db.Collection("rooms"),
		affs:   db.Collection("affiliations"),
		cfg:    db.Collection("room_config"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	log.Info().Str("module", "storage.mongo").Str("database", database).Msg("connected")
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.affs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "room", Value: 1}, {Key: "bare", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("index affiliations: %w", err)
	}
	if _, err := s.cfg.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "room", Value: 1}, {Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("index room config: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

// Drop removes every collection; used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.rooms.Database().Drop(ctx)
}

func (s *Store) ConfigStore() core.ConfigStore { return ConfigStore{coll: s.cfg} }

func (s *Store) CreateRoom(ctx context.Context, rec core.RoomRecord) (string, error) {
	key := rec.ID.String()
	doc := roomDoc{
		JID:            key,
		StoreID:        primitive.NewObjectID(),
		Created:        rec.Created,
		Creator:        rec.Creator,
		Subject:        rec.Subject.Text,
		SubjectNick:    rec.Subject.Nick,
		SubjectChanged: rec.Subject.Changed,
	}
	_, err := s.rooms.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		log.Error().Str("module", "storage.mongo").Str("room", key).Err(err).Msg("create room")
		return "", fmt.Errorf("create room %s: %w", key, err)
	}
	for bare, a := range rec.Affiliations {
		if err := s.SetAffiliation(ctx, rec.ID, bare, a); err != nil {
			return "", err
		}
	}
	if rec.Config != nil {
		if err := rec.Config.Write(ctx, s.ConfigStore(), rec.ID); err != nil {
			return "", err
		}
	}
	log.Debug().Str("module", "storage.mongo").Str("room", key).Str("id", doc.StoreID.Hex()).Msg("room stored")
	return doc.StoreID.Hex(), nil
}

func (s *Store) GetRoom(ctx context.Context, id jid.JID) (core.RoomRecord, bool, error) {
	key := id.String()
	var doc roomDoc
	err := s.rooms.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.RoomRecord{}, false, nil
	}
	if err != nil {
		return core.RoomRecord{}, false, fmt.Errorf("get room %s: %w", key, err)
	}
	cfg := core.NewRoomConfig(id)
	if err := cfg.Read(ctx, s.ConfigStore(), id); err != nil {
		return core.RoomRecord{}, false, err
	}
	return core.RoomRecord{
		ID:      id,
		StoreID: doc.StoreID.Hex(),
		Config:  cfg,
		Created: doc.Created,
		Creator: doc.Creator,
		Subject: domain.Subject{Text: doc.Subject, Nick: doc.SubjectNick, Changed: doc.SubjectChanged},
	}, true, nil
}

func (s *Store) DestroyRoom(ctx context.Context, id jid.JID) error {
	key := id.String()
	if _, err := s.cfg.DeleteMany(ctx, bson.M{"room": key}); err != nil {
		return fmt.Errorf("destroy config of %s: %w", key, err)
	}
	if _, err := s.affs.DeleteMany(ctx, bson.M{"room": key}); err != nil {
		return fmt.Errorf("destroy affiliations of %s: %w", key, err)
	}
	if _, err := s.rooms.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("destroy room %s: %w", key, err)
	}
	log.Debug().Str("module", "storage.mongo").Str("room", key).Msg("room deleted")
	return nil
}

func (s *Store) SetAffiliation(ctx context.Context, room jid.JID, bare string, aff domain.Affiliation) error {
	filter := bson.M{"room": room.String(), "bare": bare}
	var err error
	if aff == domain.AffiliationNone {
		_, err = s.affs.DeleteOne(ctx, filter)
	} else {
		_, err = s.affs.UpdateOne(ctx, filter,
			bson.M{"$set": bson.M{"affiliation": aff.String()}},
			options.Update().SetUpsert(true))
	}
	if err != nil {
		return fmt.Errorf("set affiliation %s in %s: %w", bare, room, err)
	}
	return nil
}

func (s *Store) GetAffiliations(ctx context.Context, room jid.JID) (map[string]domain.Affiliation, error) {
	cur, err := s.affs.Find(ctx, bson.M{"room": room.String()})
	if err != nil {
		return nil, fmt.Errorf("get affiliations of %s: %w", room, err)
	}
	defer cur.Close(ctx)
	var docs []affiliationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode affiliations of %s: %w", room, err)
	}
	out := make(map[string]domain.Affiliation, len(docs))
	for _, d := range docs {
		a, err := domain.ParseAffiliation(d.Affiliation)
		if err != nil {
			log.Warn().Str("module", "storage.mongo").Str("room", room.String()).Str("jid", d.Bare).Err(err).Msg("skipping malformed affiliation")
			continue
		}
		out[d.Bare] = a
	}
	return out, nil
}

func (s *Store) SetSubject(ctx context.Context, room jid.JID, subject domain.Subject) error {
	_, err := s.rooms.UpdateOne(ctx, bson.M{"_id": room.String()}, bson.M{"$set": bson.M{
		"subject":        subject.Text,
		"subjectNick":    subject.Nick,
		"subjectChanged": subject.Changed,
	}})
	if err != nil {
		return fmt.Errorf("set subject of %s: %w", room, err)
	}
	return nil
}

func (s *Store) UpdateRoomConfig(ctx context.Context, cfg *core.RoomConfig) error {
	return cfg.Write(ctx, s.ConfigStore(), cfg.RoomID())
}

func (s *Store) GetRoomsJIDList(ctx context.Context) ([]jid.JID, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetProjection(bson.M{"_id": 1})
	cur, err := s.rooms.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer cur.Close(ctx)
	var out []jid.JID
	for cur.Next(ctx) {
		var doc struct {
			JID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode room id: %w", err)
		}
		j, err := jid.Parse(doc.JID)
		if err != nil {
			log.Warn().Str("module", "storage.mongo").Str("room", doc.JID).Err(err).Msg("skipping malformed room jid")
			continue
		}
		out = append(out, j)
	}
	return out, cur.Err()
}

// ConfigStore keeps one document per (room, field).
type ConfigStore struct {
	coll *mongo.Collection
}

func (c ConfigStore) Keys(ctx context.Context, node string) ([]string, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cur, err := c.coll.Find(ctx, bson.M{"room": node}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []configDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(docs))
	for _, d := range docs {
		keys = append(keys, d.Name)
	}
	return keys, nil
}

func (c ConfigStore) Get(ctx context.Context, node, key string) ([]string, error) {
	var doc configDoc
	err := c.coll.FindOne(ctx, bson.M{"room": node, "name": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	return doc.Values, err
}

func (c ConfigStore) Put(ctx context.Context, node, key string, values []string) error {
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"room": node, "name": key},
		bson.M{"$set": bson.M{"values": values}},
		options.Update().SetUpsert(true))
	return err
}

func (c ConfigStore) Remove(ctx context.Context, node, key string) error {
	_, err := c.coll.DeleteOne(ctx, bson.M{"room": node, "name": key})
	return err
}
