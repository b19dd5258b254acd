package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
)

// Store persists token state to a local file and mirrors it to object
// storage when a blob store is configured.
type Store struct {
	provider  string
	statePath string
	blob      BlobStore
}

func NewStore(provider, statePath string, blob BlobStore) *Store {
	return &Store{provider: provider, statePath: statePath, blob: blob}
}

// Load returns the persisted state, preferring the local file and falling
// back to the blob mirror. A blob hit is re-materialized locally.
func (s *Store) Load(ctx context.Context) (State, error) {
	local, localErr := LoadState(s.statePath)
	if localErr == nil {
		return local, nil
	}
	if !errors.Is(localErr, ErrStateNotFound) {
		return State{}, localErr
	}

	if s.blob == nil {
		return State{}, ErrStateNotFound
	}

	data, blobErr := s.blob.Load(ctx, s.provider)
	if blobErr != nil {
		if errors.Is(blobErr, ErrBlobNotFound) {
			return State{}, ErrStateNotFound
		}
		return State{}, blobErr
	}

	state, err := DecodeState(data)
	if err != nil {
		return State{}, err
	}
	if err := WriteState(s.statePath, state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Save writes the state file and mirrors it to the blob store. A blob
// failure is reported through metrics but does not fail the save.
func (s *Store) Save(ctx context.Context, state State) error {
	if state.SchemaVersion == 0 {
		state.SchemaVersion = SchemaVersion
	}
	if err := WriteState(s.statePath, state); err != nil {
		persistFailure.WithLabelValues(s.provider).Inc()
		return err
	}

	if s.blob == nil {
		return nil
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := s.blob.Save(ctx, s.provider, data); err != nil {
		remotePersistOK.WithLabelValues(s.provider).Set(0)
		return nil
	}
	remotePersistOK.WithLabelValues(s.provider).Set(1)
	return nil
}
