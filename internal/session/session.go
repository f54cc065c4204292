// Package session resolves browser session cookies to user ids against
// the external session store.
//
// Lookups run on a single worker so connection handlers never block on
// the store. Results are delivered through a callback; if the target
// socket has closed in the meantime the dispatch engine drops the result.
package session

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chesshub/gateway/internal/logger"
	"github.com/chesshub/gateway/internal/model"
)

// ErrUnknownSession marks a session id with no live store entry.
var ErrUnknownSession = errors.New("session: unknown or expired session")

const lookupTimeout = 5 * time.Second

// Store answers session-id lookups.
type Store interface {
	// User resolves a session id to its owning user.
	User(ctx context.Context, sessionID string) (model.UserID, error)
}

// MongoStore looks sessions up in the security collection: documents
// matching {_id: sid, up: true}, projecting the user field.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore connects to the session database and verifies the
// connection. A failure here is fatal for the gateway.
func NewMongoStore(ctx context.Context, uri string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return &MongoStore{coll: client.Database("lichess").Collection("security")}, nil
}

func (s *MongoStore) User(ctx context.Context, sessionID string) (model.UserID, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	var doc struct {
		User string `bson:"user"`
	}
	err := s.coll.FindOne(ctx,
		bson.M{"_id": sessionID, "up": true},
		options.FindOne().SetProjection(bson.M{"user": 1}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", ErrUnknownSession
		}
		return "", err
	}
	return model.NewUserID(doc.User)
}

// Request asks the worker to resolve one socket's session.
type Request struct {
	SocketID  uint64
	SessionID string
}

// Authenticator is the lookup worker.
type Authenticator struct {
	store    Store
	requests chan Request
	deliver  func(socketID uint64, uid model.UserID, err error)
}

// NewAuthenticator wires a store to a result callback.
func NewAuthenticator(store Store, deliver func(socketID uint64, uid model.UserID, err error)) *Authenticator {
	return &Authenticator{
		store:    store,
		requests: make(chan Request, 1024),
		deliver:  deliver,
	}
}

// Enqueue submits a lookup without blocking. Under extreme backlog the
// request is dropped and the socket simply stays anonymous.
func (a *Authenticator) Enqueue(req Request) {
	select {
	case a.requests <- req:
	default:
		logger.Session().Warn().Uint64("socket", req.SocketID).Msg("Lookup queue full, dropping request")
	}
}

// Run consumes lookup requests until the context is done.
func (a *Authenticator) Run(ctx context.Context) {
	log := logger.Session()
	for {
		select {
		case req := <-a.requests:
			uid, err := a.store.User(ctx, req.SessionID)
			if err != nil && !errors.Is(err, ErrUnknownSession) {
				log.Warn().Err(err).Uint64("socket", req.SocketID).Msg("Session lookup failed")
			}
			a.deliver(req.SocketID, uid, err)
		case <-ctx.Done():
			return
		}
	}
}
