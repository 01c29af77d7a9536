package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	types "github.com/anchorstack/commitchain/pkg/types/registry"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

type LevelDBStore struct {
	db *leveldb.DB
}

const (
	keyPrefixInFlight = "inflight_"
	keyPrefixTerminal = "terminal_"
)

// Enforce interface constraints at compile time
var _ Store = (*LevelDBStore)(nil)

func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}

	return &LevelDBStore{
		db: db,
	}, nil
}

func (s *LevelDBStore) Close(ctx context.Context) error {
	return s.db.Close()
}

func (s *LevelDBStore) InFlight(ctx context.Context) ([]InFlightSubmission, error) {
	it := s.db.NewIterator(util.BytesPrefix(bz(keyPrefixInFlight)), nil)
	defer it.Release()

	var submissions []InFlightSubmission
	for it.Next() {
		var submission InFlightSubmission
		if err := json.Unmarshal(it.Value(), &submission); err != nil {
			return nil, fmt.Errorf("error decoding in-flight record: %w", err)
		}

		submissions = append(submissions, submission)
	}

	return submissions, it.Error()
}

func (s *LevelDBStore) GetInFlight(ctx context.Context, batchId types.Hash32) (InFlightSubmission, bool, error) {
	value, err := s.db.Get(inFlightKey(batchId), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return InFlightSubmission{}, false, nil
		}

		return InFlightSubmission{}, false, err
	}

	var submission InFlightSubmission
	if err := json.Unmarshal(value, &submission); err != nil {
		return InFlightSubmission{}, false, fmt.Errorf("error decoding in-flight record: %w", err)
	}

	return submission, true, nil
}

func (s *LevelDBStore) PutInFlight(ctx context.Context, submission InFlightSubmission) error {
	encoded, err := json.Marshal(submission)
	if err != nil {
		return err
	}

	return s.db.Put(inFlightKey(submission.BatchId), encoded, nil)
}

func (s *LevelDBStore) RemoveInFlight(ctx context.Context, batchId types.Hash32) error {
	if err := s.db.Delete(inFlightKey(batchId), nil); err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return err
	}

	return nil
}

func (s *LevelDBStore) TerminalFailures(ctx context.Context) ([]TerminalFailure, error) {
	it := s.db.NewIterator(util.BytesPrefix(bz(keyPrefixTerminal)), nil)
	defer it.Release()

	var failures []TerminalFailure
	for it.Next() {
		var failure TerminalFailure
		if err := json.Unmarshal(it.Value(), &failure); err != nil {
			return nil, fmt.Errorf("error decoding terminal failure record: %w", err)
		}

		failures = append(failures, failure)
	}

	return failures, it.Error()
}

func (s *LevelDBStore) IsTerminal(ctx context.Context, batchId types.Hash32) (bool, error) {
	has, err := s.db.Has(terminalKey(batchId), nil)
	if err != nil {
		return false, err
	}

	return has, nil
}

// MarkTerminal records the failure and drops any in-flight record for the same batch in a
// single transaction, so a crash between the two writes cannot leave the batch retryable.
func (s *LevelDBStore) MarkTerminal(ctx context.Context, failure TerminalFailure) error {
	encoded, err := json.Marshal(failure)
	if err != nil {
		return err
	}

	return s.withTransaction(func(tx *leveldb.Transaction) error {
		if err := tx.Put(terminalKey(failure.BatchId), encoded, nil); err != nil {
			return err
		}

		if err := tx.Delete(inFlightKey(failure.BatchId), nil); err != nil && !errors.Is(err, leveldb.ErrNotFound) {
			return err
		}

		return nil
	})
}

func (s *LevelDBStore) withTransaction(f func(tx *leveldb.Transaction) error) error {
	tx, err := s.db.OpenTransaction()
	if err != nil {
		return err
	}

	defer tx.Discard()

	if err := f(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func inFlightKey(batchId types.Hash32) []byte {
	return append(bz(keyPrefixInFlight), batchId[:]...)
}

func terminalKey(batchId types.Hash32) []byte {
	return append(bz(keyPrefixTerminal), batchId[:]...)
}

func bz(s string) []byte {
	return []byte(s)
}
