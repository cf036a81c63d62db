package helpdesk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/gorder"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	// KVCollectionName is the collection of MongoStore.
	KVCollectionName = "kv"
	// TicketsCollectionName is the collection of the ticket archive.
	TicketsCollectionName = "tickets"
)

// DatabaseConfig contains database configuration for creating MongoDB client.
//
// You can use environment variables to fill it:
// HELPDESK_MONGO_ADDRESS - MongoDB address
// HELPDESK_MONGO_DB_NAME - database name
// HELPDESK_MONGO_USERNAME - MongoDB username
// HELPDESK_MONGO_PASSWORD - MongoDB password
type DatabaseConfig struct {
	// Address is the MongoDB address in ip:port format.
	Address string `yaml:"address" json:"address" env:"HELPDESK_MONGO_ADDRESS"`
	// DBName is the name of the MongoDB database.
	DBName string `yaml:"db_name" json:"db_name" env:"HELPDESK_MONGO_DB_NAME"`
	// Username is the MongoDB username.
	Username string `yaml:"username" json:"username" env:"HELPDESK_MONGO_USERNAME"`
	// Password is the MongoDB password.
	Password string `yaml:"password" json:"password" env:"HELPDESK_MONGO_PASSWORD"`
}

// Validate validates database configuration.
func (cfg DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Address, validation.Required),
		validation.Field(&cfg.DBName, validation.Required),
		validation.Field(&cfg.Username, validation.Required.When(len(cfg.Password) > 0)),
		validation.Field(&cfg.Password, validation.Required.When(len(cfg.Username) > 0)),
	)
}

// MongoDB is a MongoDB client, that creates collections.
type MongoDB struct {
	database *mongo.Database
	client   *mongo.Client

	colls map[string]*Collection
	mu    sync.RWMutex
}

// NewMongo creates a new MongoDB client. The client is disconnected on ctx shutdown.
func NewMongo(ctx contem.Context, cfg DatabaseConfig) (*MongoDB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("mongodb://%s/%s", cfg.Address, cfg.DBName)
	opts := options.Client().ApplyURI(dsn)
	if len(cfg.Username) > 0 && len(cfg.Password) > 0 {
		opts.SetAuth(options.Credential{
			AuthMechanism: "SCRAM-SHA-256",
			AuthSource:    cfg.DBName,
			Username:      cfg.Username,
			Password:      cfg.Password,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errm.Wrap(err, "connect")
	}
	ctx.Add(client.Disconnect)

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, errm.Wrap(err, "ping")
	}

	return &MongoDB{
		database: client.Database(cfg.DBName),
		client:   client,
		colls:    make(map[string]*Collection),
	}, nil
}

// Collection returns a collection object by name.
func (m *MongoDB) Collection(name string) *Collection {
	m.mu.RLock()
	coll, ok := m.colls[name]
	m.mu.RUnlock()

	if ok {
		return coll
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if coll, ok := m.colls[name]; ok {
		return coll
	}
	m.colls[name] = &Collection{
		coll: m.database.Collection(name),
		name: name,
	}

	return m.colls[name]
}

// Collection handles interactions with a MongoDB collection.
type Collection struct {
	coll *mongo.Collection
	name string
}

// CreateIndex creates an index for a collection with the given field names.
func (m *Collection) CreateIndex(ctx context.Context, fieldNames ...string) error {
	return m.createIndex(ctx, fieldNames, options.Index())
}

// CreateTTLIndex creates an index that removes documents when the time in field has passed.
func (m *Collection) CreateTTLIndex(ctx context.Context, field string) error {
	return m.createIndex(ctx, []string{field}, options.Index().SetExpireAfterSeconds(0))
}

// FindOne finds a single document in the collection.
// Use filter to filter the document, e.g. {key: value}
func (m *Collection) FindOne(ctx context.Context, dest any, filter Filter) error {
	result := m.coll.FindOne(ctx, prepareFilter(filter))
	err := result.Err()

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case err != nil:
		return err
	}

	if err := result.Decode(dest); err != nil {
		return errm.Wrap(err, "decode")
	}

	return nil
}

// Replace replaces a document in the collection or inserts it if it does not exist.
func (m *Collection) Replace(ctx context.Context, record any, filter Filter) error {
	_, err := m.coll.ReplaceOne(ctx, prepareFilter(filter), record, options.Replace().SetUpsert(true))
	if err != nil {
		return err
	}
	return nil
}

// Delete deletes a document in the collection.
func (m *Collection) Delete(ctx context.Context, filter Filter) error {
	_, err := m.coll.DeleteOne(ctx, prepareFilter(filter))
	if err != nil {
		return err
	}
	return nil
}

func (m *Collection) createIndex(ctx context.Context, fieldNames []string, opts *options.IndexOptions) error {
	indexModel := mongo.IndexModel{
		Options: opts.SetName(m.name + "_" + strings.Join(fieldNames, "_") + "_index"),
	}

	keys := make(bson.D, 0, len(fieldNames))
	for _, field := range fieldNames {
		keys = append(keys, bson.E{
			Key:   field,
			Value: 1,
		})
	}
	indexModel.Keys = keys

	if _, err := m.coll.Indexes().CreateOne(ctx, indexModel); err != nil {
		return err
	}

	return nil
}

// MongoStore is a KeyValueStore in a MongoDB collection. Key is the document id.
// Expired documents are hidden on read and removed by a TTL index.
type MongoStore struct {
	coll *Collection
	now  func() time.Time
}

type kvDocument struct {
	Key       string     `bson:"_id"`
	Value     string     `bson:"value,omitempty"`
	N         int64      `bson:"n,omitempty"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

// NewMongoStore creates a MongoStore and ensures its TTL index.
func NewMongoStore(ctx context.Context, db *MongoDB) (*MongoStore, error) {
	coll := db.Collection(KVCollectionName)
	if err := coll.CreateTTLIndex(ctx, "expires_at"); err != nil {
		return nil, errm.Wrap(err, "create ttl index")
	}
	return &MongoStore{coll: coll, now: time.Now}, nil
}

func (s *MongoStore) Get(ctx context.Context, key string) (string, error) {
	var doc kvDocument
	if err := s.coll.FindOne(ctx, &doc, NewFilter("_id", key)); err != nil {
		return "", err
	}
	if doc.ExpiresAt != nil && !s.now().Before(*doc.ExpiresAt) {
		return "", ErrNotFound
	}
	if doc.Value == "" && doc.N != 0 {
		return strconv.FormatInt(doc.N, 10), nil
	}
	return doc.Value, nil
}

func (s *MongoStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.coll.Replace(ctx, kvDocument{
		Key:       key,
		Value:     value,
		ExpiresAt: s.expiresAt(ttl),
	}, NewFilter("_id", key))
}

// SetIfAbsent upserts a document that matches only if the key is expired.
// A live document makes the upsert collide on _id, which means the key is taken.
func (s *MongoStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	filter := bson.M{"_id": key, "expires_at": bson.M{"$lte": s.now()}}

	fields := bson.M{"value": value}
	update := bson.M{set.String(): fields}
	if exp := s.expiresAt(ttl); exp != nil {
		fields["expires_at"] = *exp
	} else {
		update[unset.String()] = bson.M{"expires_at": ""}
	}

	_, err := s.coll.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	switch {
	case isDuplicateErr(err):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (s *MongoStore) Delete(ctx context.Context, key string) error {
	return s.coll.Delete(ctx, NewFilter("_id", key))
}

func (s *MongoStore) Increment(ctx context.Context, key string) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	res := s.coll.coll.FindOneAndUpdate(ctx, bson.M{"_id": key}, bson.M{"$inc": bson.M{"n": int64(1)}}, opts)

	var doc kvDocument
	if err := res.Decode(&doc); err != nil {
		return 0, errm.Wrap(err, "increment", "key", key)
	}
	return doc.N, nil
}

func (s *MongoStore) expiresAt(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := s.now().Add(ttl)
	return &t
}

// AsyncCollection is a wrapper for Collection with queue for asynchronous tasks.
// Tasks with the same queue name are executed in order.
type AsyncCollection struct {
	coll  *Collection
	queue *gorder.Gorder[string]
}

// NewAsyncCollection creates a new AsyncCollection. The queue is drained on ctx shutdown.
func NewAsyncCollection(ctx contem.Context, coll *Collection, workers int, lg gorder.Logger) *AsyncCollection {
	q := gorder.NewWithOptions[string](ctx, gorder.Options{
		Workers:         workers,
		Log:             lg,
		ThrowOnShutdown: true,
		Retries:         10,
	})
	ctx.Add(q.Shutdown)

	return &AsyncCollection{
		coll:  coll,
		queue: q,
	}
}

// Replace adds a task into the queue to call Collection.Replace.
func (m *AsyncCollection) Replace(queue, name string, record any, filter Filter) {
	m.queue.Push(queue, name, func(ctx context.Context) error {
		return m.coll.Replace(ctx, record, filter)
	})
}

// Filter is a map containing query operators to filter documents.
type Filter map[string]any

// NewFilter creates a new Filter based on pairs.
// Pairs must be in the form NewFilter(key1, value1, key2, value2, ...)
func NewFilter(pairs ...any) Filter {
	return newPairs(pairs...)
}

func newPairs(pairs ...any) map[string]any {
	out := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if ok && i+1 < len(pairs) {
			out[key] = pairs[i+1]
		}
	}
	return out
}

type operationDB string

const (
	set   operationDB = "$set"
	unset operationDB = "$unset"
)

func (a operationDB) String() string {
	return string(a)
}

func prepareFilter(inputFilter Filter) bson.M {
	filter := make(bson.M, len(inputFilter))
	for k, v := range inputFilter {
		filter[k] = v
	}
	return filter
}

func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	return mongo.IsDuplicateKeyError(err)
}
