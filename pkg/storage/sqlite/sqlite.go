/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package sqlite is a storage.Provider keeping every store of an agent in one SQLite database file.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	// registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

var logger = log.New("aries-framework/storage/sqlite")

const (
	driverName           = "sqlite"
	blankDBPathErrMsg    = "DB path for new sqlite provider can't be blank"
	expressionSeparator  = "&&"
	tagNameValueSplitter = ":"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS store_configs (store TEXT PRIMARY KEY, config BLOB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS entries (store TEXT NOT NULL, key TEXT NOT NULL, value BLOB NOT NULL,
		PRIMARY KEY (store, key))`,
	`CREATE TABLE IF NOT EXISTS tags (store TEXT NOT NULL, key TEXT NOT NULL, name TEXT NOT NULL,
		value TEXT NOT NULL, PRIMARY KEY (store, key, name))`,
	`CREATE INDEX IF NOT EXISTS tags_by_name ON tags (store, name, value)`,
}

// Provider represents a SQLite implementation of the storage.Provider interface.
type Provider struct {
	db     *sql.DB
	stores map[string]*store
	sync.RWMutex
}

type store struct {
	db   *sql.DB
	name string
	p    *Provider
}

// NewProvider opens (creating if needed) the SQLite database at dbPath.
func NewProvider(dbPath string) (*Provider, error) {
	if dbPath == "" {
		return nil, errors.New(blankDBPathErrMsg)
	}

	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	// SQLite has a single writer; one connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err = db.Exec(stmt); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create schema: %w", err), db.Close())
		}
	}

	return &Provider{db: db, stores: map[string]*store{}}, nil
}

// OpenStore opens and returns the store for given name space.
func (p *Provider) OpenStore(name string) (storage.Store, error) {
	if name == "" {
		return nil, errors.New("store name cannot be empty")
	}

	name = strings.ToLower(name)

	p.Lock()
	defer p.Unlock()

	if s, ok := p.stores[name]; ok {
		return s, nil
	}

	_, err := p.db.Exec(`INSERT INTO store_configs (store, config) VALUES (?, ?) ON CONFLICT (store) DO NOTHING`,
		name, []byte("{}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store %s: %w", name, err)
	}

	s := &store{db: p.db, name: name, p: p}
	p.stores[name] = s

	return s, nil
}

// SetStoreConfig sets the configuration on an open store.
func (p *Provider) SetStoreConfig(name string, config storage.StoreConfiguration) error {
	name = strings.ToLower(name)

	p.RLock()
	_, ok := p.stores[name]
	p.RUnlock()

	if !ok {
		return fmt.Errorf("failed to set store config for %s: %w", name, storage.ErrStoreNotFound)
	}

	for _, tagName := range config.TagNames {
		if strings.Contains(tagName, tagNameValueSplitter) {
			return fmt.Errorf("tag name %s cannot contain '%s'", tagName, tagNameValueSplitter)
		}
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal store config: %w", err)
	}

	_, err = p.db.Exec(`UPDATE store_configs SET config = ? WHERE store = ?`, raw, name)
	if err != nil {
		return fmt.Errorf("failed to set store config for %s: %w", name, err)
	}

	return nil
}

// GetStoreConfig returns the configuration of a store that exists in the database.
func (p *Provider) GetStoreConfig(name string) (storage.StoreConfiguration, error) {
	var raw []byte

	err := p.db.QueryRow(`SELECT config FROM store_configs WHERE store = ?`, strings.ToLower(name)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.StoreConfiguration{}, fmt.Errorf("store %s: %w", name, storage.ErrStoreNotFound)
	}

	if err != nil {
		return storage.StoreConfiguration{}, fmt.Errorf("failed to get store config for %s: %w", name, err)
	}

	config := storage.StoreConfiguration{}

	if err := json.Unmarshal(raw, &config); err != nil {
		return storage.StoreConfiguration{}, fmt.Errorf("failed to unmarshal store config: %w", err)
	}

	return config, nil
}

// GetOpenStores returns the stores opened by this provider.
func (p *Provider) GetOpenStores() []storage.Store {
	p.RLock()
	defer p.RUnlock()

	stores := make([]storage.Store, 0, len(p.stores))
	for _, s := range p.stores {
		stores = append(stores, s)
	}

	return stores
}

// Close closes the provider.
func (p *Provider) Close() error {
	p.Lock()
	defer p.Unlock()

	p.stores = map[string]*store{}

	return p.db.Close()
}

func (p *Provider) removeStore(name string) {
	p.Lock()
	delete(p.stores, name)
	p.Unlock()
}

// Put stores the key and the record along with its tags, replacing the previous tags.
func (s *store) Put(key string, value []byte, tags ...storage.Tag) error {
	if key == "" || value == nil {
		return errors.New("key and value are mandatory")
	}

	return s.inTx(func(tx *sql.Tx) error {
		return put(tx, s.name, key, value, tags)
	})
}

// Get fetches the record based on key.
func (s *store) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key is mandatory")
	}

	var value []byte

	err := s.db.QueryRow(`SELECT value FROM entries WHERE store = ? AND key = ?`, s.name, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("key %s: %w", key, storage.ErrDataNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get %s from %s: %w", key, s.name, err)
	}

	return value, nil
}

// GetTags fetches the tags of key.
func (s *store) GetTags(key string) ([]storage.Tag, error) {
	if _, err := s.Get(key); err != nil {
		return nil, err
	}

	return s.tags(key)
}

// GetBulk fetches the records of keys, with nil for keys that have none.
func (s *store) GetBulk(keys ...string) ([][]byte, error) {
	values := make([][]byte, len(keys))

	for i, key := range keys {
		v, err := s.Get(key)
		if err != nil && !errors.Is(err, storage.ErrDataNotFound) {
			return nil, err
		}

		values[i] = v
	}

	return values, nil
}

// Query returns the records having all tags of expression, a '&&' separated list of TagName or
// TagName:TagValue terms.
func (s *store) Query(expression string, options ...storage.QueryOption) (storage.Iterator, error) {
	if expression == "" {
		return nil, errors.New("expression cannot be empty")
	}

	opts := storage.QueryOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	query := strings.Builder{}
	query.WriteString(`SELECT e.key, e.value FROM entries e WHERE e.store = ?`)

	args := []interface{}{s.name}

	for _, term := range strings.Split(expression, expressionSeparator) {
		name, value, hasValue := strings.Cut(strings.TrimSpace(term), tagNameValueSplitter)
		if name == "" {
			return nil, fmt.Errorf("invalid expression format: %s", expression)
		}

		query.WriteString(` AND EXISTS (SELECT 1 FROM tags t WHERE t.store = e.store AND t.key = e.key AND t.name = ?`)

		args = append(args, name)

		if hasValue {
			query.WriteString(` AND t.value = ?`)

			args = append(args, value)
		}

		query.WriteString(`)`)
	}

	if opts.SortOptions != nil && opts.SortOptions.TagName != "" {
		query.WriteString(` ORDER BY (SELECT t.value FROM tags t WHERE t.store = e.store AND t.key = e.key ` +
			`AND t.name = ?)`)

		args = append(args, opts.SortOptions.TagName)

		if opts.SortOptions.Order == storage.SortDescending {
			query.WriteString(` DESC`)
		}
	} else {
		query.WriteString(` ORDER BY e.key`)
	}

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.name, err)
	}

	defer func() {
		if e := rows.Close(); e != nil {
			logger.Warnf("failed to close rows: %v", e)
		}
	}()

	var entries []entry

	for rows.Next() {
		e := entry{}
		if err := rows.Scan(&e.key, &e.value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get resulted rows: %w", err)
	}

	total := len(entries)

	if opts.PageSize > 0 && opts.InitialPageNum > 0 {
		skip := opts.PageSize * opts.InitialPageNum
		if skip > len(entries) {
			skip = len(entries)
		}

		entries = entries[skip:]
	}

	return &iterator{store: s, entries: entries, total: total, pos: -1}, nil
}

// Delete will delete record with key and its tags.
func (s *store) Delete(key string) error {
	if key == "" {
		return errors.New("key is mandatory")
	}

	return s.inTx(func(tx *sql.Tx) error {
		return remove(tx, s.name, key)
	})
}

// Batch runs operations in one transaction. A nil value deletes the key.
func (s *store) Batch(operations []storage.Operation) error {
	if len(operations) == 0 {
		return errors.New("batch requires at least one operation")
	}

	return s.inTx(func(tx *sql.Tx) error {
		for _, op := range operations {
			if op.Key == "" {
				return errors.New("key is mandatory")
			}

			if op.Value == nil {
				if err := remove(tx, s.name, op.Key); err != nil {
					return err
				}

				continue
			}

			if op.PutOptions != nil && op.PutOptions.IsNewKey {
				var n int

				err := tx.QueryRow(`SELECT COUNT(*) FROM entries WHERE store = ? AND key = ?`, s.name, op.Key).Scan(&n)
				if err != nil {
					return err
				}

				if n > 0 {
					return fmt.Errorf("key %s: %w", op.Key, storage.ErrDuplicateKey)
				}
			}

			if err := put(tx, s.name, op.Key, op.Value, op.Tags); err != nil {
				return err
			}
		}

		return nil
	})
}

// Flush is a no-op: writes are not queued.
func (s *store) Flush() error {
	return nil
}

// Close releases the store; the data stays in the database.
func (s *store) Close() error {
	s.p.removeStore(s.name)

	return nil
}

func (s *store) tags(key string) ([]storage.Tag, error) {
	rows, err := s.db.Query(`SELECT name, value FROM tags WHERE store = ? AND key = ? ORDER BY name`, s.name, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get tags of %s: %w", key, err)
	}

	defer func() {
		if e := rows.Close(); e != nil {
			logger.Warnf("failed to close rows: %v", e)
		}
	}()

	var tags []storage.Tag

	for rows.Next() {
		t := storage.Tag{}
		if err := rows.Scan(&t.Name, &t.Value); err != nil {
			return nil, err
		}

		tags = append(tags, t)
	}

	return tags, rows.Err()
}

func (s *store) inTx(f func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := f(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}

	return tx.Commit()
}

func put(tx *sql.Tx, storeName, key string, value []byte, tags []storage.Tag) error {
	_, err := tx.Exec(`INSERT INTO entries (store, key, value) VALUES (?, ?, ?)
		ON CONFLICT (store, key) DO UPDATE SET value = excluded.value`, storeName, key, value)
	if err != nil {
		return fmt.Errorf("failed to insert key and value record into %s: %w", storeName, err)
	}

	if _, err = tx.Exec(`DELETE FROM tags WHERE store = ? AND key = ?`, storeName, key); err != nil {
		return fmt.Errorf("failed to replace tags of %s: %w", key, err)
	}

	for _, t := range tags {
		if strings.Contains(t.Name, tagNameValueSplitter) || strings.Contains(t.Value, tagNameValueSplitter) {
			return fmt.Errorf("tag %s cannot contain '%s'", t.Name, tagNameValueSplitter)
		}

		_, err = tx.Exec(`INSERT INTO tags (store, key, name, value) VALUES (?, ?, ?, ?)
			ON CONFLICT (store, key, name) DO UPDATE SET value = excluded.value`, storeName, key, t.Name, t.Value)
		if err != nil {
			return fmt.Errorf("failed to insert tag %s of %s: %w", t.Name, key, err)
		}
	}

	return nil
}

func remove(tx *sql.Tx, storeName, key string) error {
	if _, err := tx.Exec(`DELETE FROM entries WHERE store = ? AND key = ?`, storeName, key); err != nil {
		return fmt.Errorf("failed to delete row: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM tags WHERE store = ? AND key = ?`, storeName, key); err != nil {
		return fmt.Errorf("failed to delete tags: %w", err)
	}

	return nil
}

type entry struct {
	key   string
	value []byte
}

type iterator struct {
	store   *store
	entries []entry
	total   int
	pos     int
}

func (i *iterator) Next() (bool, error) {
	if i.pos+1 >= len(i.entries) {
		return false, nil
	}

	i.pos++

	return true, nil
}

func (i *iterator) current() (*entry, error) {
	if i.pos < 0 || i.pos >= len(i.entries) {
		return nil, errors.New("iterator is not positioned on an entry")
	}

	return &i.entries[i.pos], nil
}

// Key returns the key of the current key-value pair.
func (i *iterator) Key() (string, error) {
	e, err := i.current()
	if err != nil {
		return "", err
	}

	return e.key, nil
}

// Value returns the value of the current key-value pair.
func (i *iterator) Value() ([]byte, error) {
	e, err := i.current()
	if err != nil {
		return nil, err
	}

	return e.value, nil
}

func (i *iterator) Tags() ([]storage.Tag, error) {
	e, err := i.current()
	if err != nil {
		return nil, err
	}

	return i.store.tags(e.key)
}

func (i *iterator) TotalItems() (int, error) {
	return i.total, nil
}

func (i *iterator) Close() error {
	return nil
}
