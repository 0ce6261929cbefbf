/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package recordstore persists versioned JSON records on top of an spi storage.Store.
//
// Writes to one record id are serialized in-process. Update re-reads the record before writing it back and
// retries when the stored version moved underneath it.
package recordstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/cenkalti/backoff/v4"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-handshake-go/pkg/internal/keyedmutex"
)

const (
	maxUpdateRetries    = 5
	updateRetryInterval = 10 * time.Millisecond
)

var (
	// ErrDuplicate is returned by Create when a record with the same id already exists.
	ErrDuplicate = errors.New("record already exists")
	// ErrVersionConflict is returned by Update when the record kept changing during every retry.
	ErrVersionConflict = errors.New("record version conflict")
)

// Versioned is implemented by records kept in a Store.
type Versioned interface {
	RecordVersion() int
	SetRecordVersion(v int)
}

// Mutator changes rec in place and returns the tags to store it with.
type Mutator func(rec Versioned) ([]storage.Tag, error)

// Store keeps records of one kind.
type Store struct {
	name  string
	store storage.Store
	locks *keyedmutex.KeyedMutex
}

type versionOnly struct {
	Version int `json:"version"`
}

// Open opens (or creates) the named store and registers the tag names used to query it.
func Open(p storage.Provider, name string, tagNames ...string) (*Store, error) {
	store, err := p.OpenStore(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open store '%s': %w", name, err)
	}

	if len(tagNames) > 0 {
		err = p.SetStoreConfig(name, storage.StoreConfiguration{TagNames: tagNames})
		if err != nil {
			return nil, fmt.Errorf("failed to set store config for '%s': %w", name, err)
		}
	}

	return &Store{name: name, store: store, locks: keyedmutex.New()}, nil
}

// Create saves a new record with version 1. It fails with ErrDuplicate if id is taken.
func (s *Store) Create(id string, rec Versioned, tags ...storage.Tag) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	_, err := s.store.Get(id)
	if err == nil {
		return fmt.Errorf("%w: %s '%s'", ErrDuplicate, s.name, id)
	}

	if !errors.Is(err, storage.ErrDataNotFound) {
		return fmt.Errorf("%s get: %w", s.name, err)
	}

	rec.SetRecordVersion(1)

	return s.put(id, rec, tags)
}

// Get reads the record stored under id into rec. Missing records yield an error wrapping storage.ErrDataNotFound.
func (s *Store) Get(id string, rec interface{}) error {
	raw, err := s.store.Get(id)
	if err != nil {
		return fmt.Errorf("%s get '%s': %w", s.name, id, err)
	}

	if err := json.Unmarshal(raw, rec); err != nil {
		return fmt.Errorf("%s unmarshal '%s': %w", s.name, id, err)
	}

	return nil
}

// Update applies mutate to a freshly read copy of the record and stores the result with an incremented version.
// newRec must return an empty record of the stored kind. An error returned by mutate aborts the update unchanged.
func (s *Store) Update(id string, newRec func() Versioned, mutate Mutator) (Versioned, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var result Versioned

	op := func() error {
		rec := newRec()

		if err := s.Get(id, rec); err != nil {
			return backoff.Permanent(err)
		}

		version := rec.RecordVersion()

		tags, err := mutate(rec)
		if err != nil {
			return backoff.Permanent(err)
		}

		current, err := s.version(id)
		if err != nil {
			return backoff.Permanent(err)
		}

		if current != version {
			return fmt.Errorf("%w: %s '%s' moved from version %d to %d", ErrVersionConflict, s.name, id, version, current)
		}

		rec.SetRecordVersion(version + 1)

		if err := s.put(id, rec, tags); err != nil {
			return backoff.Permanent(err)
		}

		result = rec

		return nil
	}

	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewConstantBackOff(updateRetryInterval), maxUpdateRetries))
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Delete removes the record stored under id.
func (s *Store) Delete(id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.store.Delete(id); err != nil {
		return fmt.Errorf("%s delete '%s': %w", s.name, id, err)
	}

	return nil
}

// Query returns the raw records matching expression (TagName or TagName:TagValue).
func (s *Store) Query(expression string) ([][]byte, error) {
	iter, err := s.store.Query(expression)
	if err != nil {
		return nil, fmt.Errorf("%s query '%s': %w", s.name, expression, err)
	}

	defer storage.Close(iter, nil)

	var records [][]byte

	for {
		ok, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("%s query next: %w", s.name, err)
		}

		if !ok {
			return records, nil
		}

		raw, err := iter.Value()
		if err != nil {
			return nil, fmt.Errorf("%s query value: %w", s.name, err)
		}

		records = append(records, raw)
	}
}

func (s *Store) version(id string) (int, error) {
	raw, err := s.store.Get(id)
	if err != nil {
		return 0, fmt.Errorf("%s get '%s': %w", s.name, id, err)
	}

	v := versionOnly{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%s unmarshal '%s': %w", s.name, id, err)
	}

	return v.Version, nil
}

func (s *Store) put(id string, rec Versioned, tags []storage.Tag) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%s marshal '%s': %w", s.name, id, err)
	}

	if err := s.store.Put(id, raw, tags...); err != nil {
		return fmt.Errorf("%s put '%s': %w", s.name, id, err)
	}

	return nil
}

// TagValue encodes v so that it is a valid tag value (tag values must not contain ':').
func TagValue(v string) string {
	return base58.Encode([]byte(v))
}

// Tag returns a tag named name with the encoded value v.
func Tag(name, v string) storage.Tag {
	return storage.Tag{Name: name, Value: TagValue(v)}
}

// Expression builds a single-tag query expression for the encoded value v.
func Expression(name, v string) string {
	return name + ":" + TagValue(v)
}
