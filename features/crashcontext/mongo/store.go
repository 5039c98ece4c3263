package mongo

import (
	"context"
	"errors"

	clientsmongo "goa.design/rum/features/crashcontext/mongo/clients/mongo"
	"goa.design/rum/runtime/rum/rumcontext"
)

// Store implements crashcontext.Store for one application by delegating to
// the Mongo client.
type Store struct {
	client        clientsmongo.Client
	applicationID string
}

// NewStore builds a Store persisting the session state of applicationID.
func NewStore(client clientsmongo.Client, applicationID string) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	if applicationID == "" {
		return nil, errors.New("application id is required")
	}
	return &Store{client: client, applicationID: applicationID}, nil
}

// Update stores state as the last known session state.
func (s *Store) Update(ctx context.Context, state rumcontext.SessionState) error {
	return s.client.UpsertSessionState(ctx, s.applicationID, state)
}

// Load returns the last known session state.
func (s *Store) Load(ctx context.Context) (rumcontext.SessionState, error) {
	return s.client.LoadSessionState(ctx, s.applicationID)
}
