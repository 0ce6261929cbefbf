/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sqlite

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()

	p, err := NewProvider(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, p.Close())
	})

	return p
}

func TestNewProvider(t *testing.T) {
	t.Run("blank path", func(t *testing.T) {
		_, err := NewProvider("")
		require.EqualError(t, err, blankDBPathErrMsg)
	})

	t.Run("data survives reopening", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agent.db")

		p, err := NewProvider(path)
		require.NoError(t, err)

		s, err := p.OpenStore("Connections")
		require.NoError(t, err)
		require.NoError(t, s.Put("k", []byte("v"), storage.Tag{Name: "state", Value: "completed"}))
		require.NoError(t, p.Close())

		p, err = NewProvider(path)
		require.NoError(t, err)

		defer func() { require.NoError(t, p.Close()) }()

		_, err = p.GetStoreConfig("connections")
		require.NoError(t, err)

		s, err = p.OpenStore("connections")
		require.NoError(t, err)

		v, err := s.Get("k")
		require.NoError(t, err)
		require.Equal(t, []byte("v"), v)
	})
}

func TestProvider_StoreConfig(t *testing.T) {
	p := newProvider(t)

	_, err := p.GetStoreConfig("outofband")
	require.True(t, errors.Is(err, storage.ErrStoreNotFound))

	err = p.SetStoreConfig("outofband", storage.StoreConfiguration{TagNames: []string{"state"}})
	require.True(t, errors.Is(err, storage.ErrStoreNotFound))

	_, err = p.OpenStore("outofband")
	require.NoError(t, err)

	_, err = p.OpenStore("")
	require.Error(t, err)

	require.NoError(t, p.SetStoreConfig("outofband", storage.StoreConfiguration{TagNames: []string{"state"}}))

	config, err := p.GetStoreConfig("outofband")
	require.NoError(t, err)
	require.Equal(t, []string{"state"}, config.TagNames)

	err = p.SetStoreConfig("outofband", storage.StoreConfiguration{TagNames: []string{"a:b"}})
	require.Error(t, err)

	require.Len(t, p.GetOpenStores(), 1)
}

func TestStore_PutGetDelete(t *testing.T) {
	p := newProvider(t)

	s, err := p.OpenStore("records")
	require.NoError(t, err)

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, s.Put("id1", []byte(`{"a":1}`), storage.Tag{Name: "role", Value: "sender"}))

		v, err := s.Get("id1")
		require.NoError(t, err)
		require.JSONEq(t, `{"a":1}`, string(v))

		tags, err := s.GetTags("id1")
		require.NoError(t, err)
		require.Equal(t, []storage.Tag{{Name: "role", Value: "sender"}}, tags)
	})

	t.Run("put replaces value and tags", func(t *testing.T) {
		require.NoError(t, s.Put("id1", []byte(`{"a":2}`), storage.Tag{Name: "state", Value: "done"}))

		v, err := s.Get("id1")
		require.NoError(t, err)
		require.JSONEq(t, `{"a":2}`, string(v))

		tags, err := s.GetTags("id1")
		require.NoError(t, err)
		require.Equal(t, []storage.Tag{{Name: "state", Value: "done"}}, tags)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		require.Error(t, s.Put("", []byte("v")))
		require.Error(t, s.Put("k", nil))
		require.Error(t, s.Put("k", []byte("v"), storage.Tag{Name: "a:b"}))
		require.Error(t, s.Delete(""))

		_, err := s.Get("")
		require.Error(t, err)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.Get("missing")
		require.True(t, errors.Is(err, storage.ErrDataNotFound))

		_, err = s.GetTags("missing")
		require.True(t, errors.Is(err, storage.ErrDataNotFound))
	})

	t.Run("get bulk", func(t *testing.T) {
		values, err := s.GetBulk("id1", "missing")
		require.NoError(t, err)
		require.Len(t, values, 2)
		require.NotNil(t, values[0])
		require.Nil(t, values[1])
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete("id1"))

		_, err := s.Get("id1")
		require.True(t, errors.Is(err, storage.ErrDataNotFound))

		require.NoError(t, s.Delete("id1"))
	})

	t.Run("stores are isolated", func(t *testing.T) {
		other, err := p.OpenStore("other")
		require.NoError(t, err)

		require.NoError(t, other.Put("shared", []byte("other")))

		_, err = s.Get("shared")
		require.True(t, errors.Is(err, storage.ErrDataNotFound))
	})

	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
}

func TestStore_Query(t *testing.T) {
	p := newProvider(t)

	s, err := p.OpenStore("connections")
	require.NoError(t, err)

	require.NoError(t, s.Put("c1", []byte("1"),
		storage.Tag{Name: "state", Value: "completed"}, storage.Tag{Name: "role", Value: "requester"}))
	require.NoError(t, s.Put("c2", []byte("2"),
		storage.Tag{Name: "state", Value: "requested"}, storage.Tag{Name: "role", Value: "requester"}))
	require.NoError(t, s.Put("c3", []byte("3"),
		storage.Tag{Name: "state", Value: "completed"}, storage.Tag{Name: "role", Value: "responder"}))

	tests := []struct {
		name       string
		expression string
		options    []storage.QueryOption
		keys       []string
	}{
		{name: "tag name", expression: "state", keys: []string{"c1", "c2", "c3"}},
		{name: "tag name and value", expression: "state:completed", keys: []string{"c1", "c3"}},
		{name: "and", expression: "state:completed&&role:requester", keys: []string{"c1"}},
		{name: "no match", expression: "state:abandoned", keys: nil},
		{
			name:       "sorted descending",
			expression: "role",
			options: []storage.QueryOption{storage.WithSortOrder(&storage.SortOptions{
				Order: storage.SortDescending, TagName: "role",
			})},
			keys: []string{"c3", "c1", "c2"},
		},
		{
			name:       "second page",
			expression: "state",
			options:    []storage.QueryOption{storage.WithPageSize(2), storage.WithInitialPageNum(1)},
			keys:       []string{"c3"},
		},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			iter, err := s.Query(tc.expression, tc.options...)
			require.NoError(t, err)

			defer func() { require.NoError(t, iter.Close()) }()

			var keys []string

			for {
				ok, err := iter.Next()
				require.NoError(t, err)

				if !ok {
					break
				}

				k, err := iter.Key()
				require.NoError(t, err)

				_, err = iter.Value()
				require.NoError(t, err)

				tags, err := iter.Tags()
				require.NoError(t, err)
				require.Len(t, tags, 2)

				keys = append(keys, k)
			}

			if tc.name == "sorted descending" {
				// c1 and c2 share the tag value, so only the first position is fixed
				require.Equal(t, "c3", keys[0])
				require.ElementsMatch(t, tc.keys, keys)

				return
			}

			require.Equal(t, tc.keys, keys)
		})
	}

	t.Run("total items ignores paging", func(t *testing.T) {
		iter, err := s.Query("state", storage.WithPageSize(1), storage.WithInitialPageNum(2))
		require.NoError(t, err)

		total, err := iter.TotalItems()
		require.NoError(t, err)
		require.Equal(t, 3, total)
	})

	t.Run("invalid expression", func(t *testing.T) {
		_, err := s.Query("")
		require.Error(t, err)

		_, err = s.Query(":value")
		require.Error(t, err)
	})

	t.Run("iterator not positioned", func(t *testing.T) {
		iter, err := s.Query("state")
		require.NoError(t, err)

		_, err = iter.Key()
		require.Error(t, err)
	})
}

func TestStore_Batch(t *testing.T) {
	p := newProvider(t)

	s, err := p.OpenStore("batch")
	require.NoError(t, err)

	require.NoError(t, s.Put("old", []byte("old")))

	err = s.Batch([]storage.Operation{
		{Key: "a", Value: []byte("a"), Tags: []storage.Tag{{Name: "t"}}},
		{Key: "b", Value: []byte("b"), PutOptions: &storage.PutOptions{IsNewKey: true}},
		{Key: "old"},
	})
	require.NoError(t, err)

	_, err = s.Get("old")
	require.True(t, errors.Is(err, storage.ErrDataNotFound))

	v, err := s.Get("b")
	require.NoError(t, err)
	require.Equal(t, []byte("b"), v)

	t.Run("duplicate new key rolls back", func(t *testing.T) {
		err := s.Batch([]storage.Operation{
			{Key: "c", Value: []byte("c")},
			{Key: "a", Value: []byte("a"), PutOptions: &storage.PutOptions{IsNewKey: true}},
		})
		require.True(t, errors.Is(err, storage.ErrDuplicateKey))

		_, err = s.Get("c")
		require.True(t, errors.Is(err, storage.ErrDataNotFound))
	})

	t.Run("invalid", func(t *testing.T) {
		require.Error(t, s.Batch(nil))
		require.Error(t, s.Batch([]storage.Operation{{Value: []byte("v")}}))
	})
}
