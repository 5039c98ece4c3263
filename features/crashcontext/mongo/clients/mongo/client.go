// Package mongo hosts the MongoDB client used by the crash context store.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/rum/runtime/rum/crashcontext"
	"goa.design/rum/runtime/rum/rumcontext"
)

const (
	defaultCollection = "rum_crash_context"
	defaultOpTimeout  = 5 * time.Second
	clientName        = "crashcontext-mongo"
)

type (
	// Client exposes Mongo-backed operations for the last known session
	// state of each RUM application.
	Client interface {
		health.Pinger

		// UpsertSessionState records state as the last known session state
		// of the application.
		UpsertSessionState(ctx context.Context, applicationID string, state rumcontext.SessionState) error
		// LoadSessionState returns the last known session state of the
		// application, crashcontext.ErrNotFound if none was recorded.
		LoadSessionState(ctx context.Context, applicationID string) (rumcontext.SessionState, error)
	}

	// Options configures the Mongo crash context client.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		states  collection
		timeout time.Duration
	}

	stateDocument struct {
		ApplicationID     string    `bson:"application_id"`
		SessionID         string    `bson:"session_id"`
		IsInitialSession  bool      `bson:"is_initial_session"`
		HasTrackedAnyView bool      `bson:"has_tracked_any_view"`
		UpdatedAt         time.Time `bson:"updated_at"`
	}
)

// New returns a Client backed by MongoDB. It creates the collection index
// on the application identifier.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, coll, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) UpsertSessionState(ctx context.Context, applicationID string, state rumcontext.SessionState) error {
	if applicationID == "" {
		return errors.New("application id is required")
	}
	if state.SessionID == "" {
		return errors.New("session id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"application_id": applicationID}
	update := bson.M{
		"$set": bson.M{
			"application_id":       applicationID,
			"session_id":           state.SessionID,
			"is_initial_session":   state.IsInitialSession,
			"has_tracked_any_view": state.HasTrackedAnyView,
			"updated_at":           time.Now().UTC(),
		},
	}
	_, err := c.states.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) LoadSessionState(ctx context.Context, applicationID string) (rumcontext.SessionState, error) {
	if applicationID == "" {
		return rumcontext.SessionState{}, errors.New("application id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc stateDocument
	if err := c.states.FindOne(ctx, bson.M{"application_id": applicationID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return rumcontext.SessionState{}, crashcontext.ErrNotFound
		}
		return rumcontext.SessionState{}, err
	}
	return rumcontext.SessionState{
		SessionID:         doc.SessionID,
		IsInitialSession:  doc.IsInitialSession,
		HasTrackedAnyView: doc.HasTrackedAnyView,
	}, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	idx := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "application_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, idx)
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{mongo: mongoClient, states: coll, timeout: timeout}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
