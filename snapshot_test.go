package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var snapshotEpoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestSerializeLayout(t *testing.T) {
	clock := clockwork.NewFakeClockAt(snapshotEpoch)
	cache := NewLocalCache[string, int](&LocalCacheOptions[string]{
		MaxSize:                 Unbounded,
		Clock:                   clock,
		DisableActiveExpiration: true,
	})

	cache.Set("a", 1, 0)
	cache.Set("b", 2, time.Minute)

	data, err := cache.Serialize()
	require.NoError(t, err)

	expiresAt := snapshotEpoch.Add(time.Minute).UnixMilli()
	assert.JSONEq(t, fmt.Sprintf(`{
		"cache": [["a", 1], ["b", 2]],
		"expirationTimes": [["b", %d]],
		"maxSize": null
	}`, expiresAt), data)
}

func TestSerializeRoundTrip(t *testing.T) {
	for name, codec := range map[string]Codec{
		"json":    &JSONCodec{},
		"msgpack": &MsgpackCodec{},
	} {
		t.Run(name, func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(snapshotEpoch)
			options := &LocalCacheOptions[string]{
				MaxSize: 3,
				Codec:   codec,
				Clock:   clock,
				Logger:  zaptest.NewLogger(t),
			}
			cache := NewLocalCache[string, string](options)
			defer cache.Close()

			cache.Set("a", "1", 0)
			cache.Set("b", "2", time.Minute)
			cache.Set("c", "3", 0)
			cache.Set("d", "4", 0)
			cache.Remove("c")
			cache.Get("b")

			data, err := cache.Serialize()
			require.NoError(t, err)

			restored, err := Deserialize[string, string](data, options)
			require.NoError(t, err)
			defer restored.Close()

			assert.Equal(t, 3, restored.MaxSize())
			assert.Equal(t, cache.Keys(), restored.Keys())
			assert.Equal(t, []string{"d", "b"}, restored.Keys())
			assert.Equal(t, 0, restored.PendingExpirations())

			original := cache.Entries()
			entries := restored.Entries()
			require.Len(t, entries, len(original))
			for i := range original {
				assert.Equal(t, original[i].Key, entries[i].Key)
				assert.Equal(t, *original[i].Value, *entries[i].Value)
				assert.Equal(t, original[i].ExpiresAt.UnixMilli(), entries[i].ExpiresAt.UnixMilli())
				assert.Equal(t, original[i].ExpiresAt.IsZero(), entries[i].ExpiresAt.IsZero())
			}

			for _, key := range []string{"a", "b", "c", "d"} {
				want, wantOK := cache.Get(key)
				got, gotOK := restored.Get(key)
				assert.Equal(t, wantOK, gotOK, key)
				assert.Equal(t, want, got, key)
			}
		})
	}
}

func TestSerializeUnboundedRoundTrip(t *testing.T) {
	cache := NewLocalCache[int, float64](nil)
	cache.Set(1, 1.5, 0)

	data, err := cache.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize[int, float64](data, &LocalCacheOptions[int]{MaxSize: 10})
	require.NoError(t, err)
	assert.Equal(t, Unbounded, restored.MaxSize())

	value, ok := restored.Get(1)
	assert.True(t, ok)
	assert.Equal(t, 1.5, value)
}

func TestSerializeStructValues(t *testing.T) {
	type session struct {
		User  string   `json:"user" msgpack:"user"`
		Roles []string `json:"roles" msgpack:"roles"`
	}

	for name, codec := range map[string]Codec{
		"json":    &JSONCodec{},
		"msgpack": &MsgpackCodec{},
	} {
		t.Run(name, func(t *testing.T) {
			options := &LocalCacheOptions[int]{MaxSize: Unbounded, Codec: codec}
			cache := NewLocalCache[int, session](options)
			cache.Set(7, session{User: "jane", Roles: []string{"admin"}}, 0)

			data, err := cache.Serialize()
			require.NoError(t, err)

			restored, err := Deserialize[int, session](data, options)
			require.NoError(t, err)

			value, ok := restored.Get(7)
			assert.True(t, ok)
			assert.Equal(t, session{User: "jane", Roles: []string{"admin"}}, value)
		})
	}
}

func TestDeserializeOriginalFormat(t *testing.T) {
	clock := clockwork.NewFakeClockAt(snapshotEpoch)
	future := snapshotEpoch.Add(time.Hour).UnixMilli()
	past := snapshotEpoch.Add(-time.Hour).UnixMilli()

	data := fmt.Sprintf(`{"cache":[["a",1],["b",2],["c",3]],"expirationTimes":[["b",%d],["c",%d]],"maxSize":5}`, future, past)

	restored, err := Deserialize[string, int](data, &LocalCacheOptions[string]{Clock: clock})
	require.NoError(t, err)

	assert.Equal(t, 5, restored.MaxSize())
	assert.Equal(t, []string{"a", "b", "c"}, restored.Keys())

	value, ok := restored.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, value)

	// already stale when restored
	_, ok = restored.Get("c")
	assert.False(t, ok)
	assert.Equal(t, 2, restored.Size())
}

func TestDeserializeLazyExpiration(t *testing.T) {
	clock := clockwork.NewFakeClockAt(snapshotEpoch)
	expiresAt := snapshotEpoch.Add(time.Second).UnixMilli()
	data := fmt.Sprintf(`{"cache":[["k","v"]],"expirationTimes":[["k",%d]],"maxSize":null}`, expiresAt)

	restored, err := Deserialize[string, string](data, &LocalCacheOptions[string]{Clock: clock})
	require.NoError(t, err)
	assert.Equal(t, 0, restored.PendingExpirations())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, restored.Size())

	_, ok := restored.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, restored.Size())
}

func TestDeserializeRearmOnLoad(t *testing.T) {
	clock := clockwork.NewFakeClockAt(snapshotEpoch)
	future := snapshotEpoch.Add(time.Second).UnixMilli()
	past := snapshotEpoch.Add(-time.Second).UnixMilli()
	data := fmt.Sprintf(`{"cache":[["k","v"],["old","v"],["keep","v"]],"expirationTimes":[["k",%d],["old",%d]],"maxSize":null}`, future, past)

	restored, err := Deserialize[string, string](data, &LocalCacheOptions[string]{
		Clock:       clock,
		RearmOnLoad: true,
	})
	require.NoError(t, err)
	defer restored.Close()
	assert.Equal(t, 1, restored.PendingExpirations())

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool {
		return !restored.Contains("k") && restored.Size() == 2
	}, waitFor, tick)
	assert.Equal(t, []string{"old", "keep"}, restored.Keys())
}

func TestDeserializeAppliesMaxSize(t *testing.T) {
	data := `{"cache":[["a",1],["b",2],["c",3]],"expirationTimes":[],"maxSize":2}`

	restored, err := Deserialize[string, int](data, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, restored.Keys())

	restored.Set("d", 4, 0)
	assert.Equal(t, []string{"c", "d"}, restored.Keys())
}

func TestDeserializeDropsOrphanExpirations(t *testing.T) {
	data := `{"cache":[["a",1]],"expirationTimes":[["gone",1]],"maxSize":null}`

	restored, err := Deserialize[string, int](data, nil)
	require.NoError(t, err)

	entries := restored.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].ExpiresAt.IsZero())
}

func TestDeserializeEmptyLists(t *testing.T) {
	restored, err := Deserialize[string, int](`{"cache":[],"expirationTimes":[]}`, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, restored.Size())
	assert.Equal(t, Unbounded, restored.MaxSize())
}

func TestDeserializeZeroMaxSize(t *testing.T) {
	data := `{"cache":[["a",1],["b",2]],"expirationTimes":[],"maxSize":0}`

	restored, err := Deserialize[string, int](data, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, restored.MaxSize())
	assert.Equal(t, []string{"b"}, restored.Keys())

	restored.Set("c", 3, 0)
	assert.Equal(t, []string{"c"}, restored.Keys())

	out, err := restored.Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, `{"cache":[["c",3]],"expirationTimes":[],"maxSize":0}`, out)
}

func TestDeserializeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"garbage", "not json"},
		{"null", "null"},
		{"array", "[]"},
		{"truncated", `{"cache":[["a",1]`},
		{"short pair", `{"cache":[["a"]],"expirationTimes":[]}`},
		{"long pair", `{"cache":[["a",1,2]],"expirationTimes":[]}`},
		{"value type", `{"cache":[["a","x"]],"expirationTimes":[]}`},
		{"key type", `{"cache":[[1,1]],"expirationTimes":[]}`},
		{"expiration type", `{"cache":[],"expirationTimes":[["a","soon"]]}`},
		{"empty object", `{}`},
		{"unknown fields only", `{"foo":1}`},
		{"max size only", `{"maxSize":3}`},
		{"missing cache", `{"expirationTimes":[],"maxSize":3}`},
		{"missing expiration times", `{"cache":[["a",1]],"maxSize":3}`},
		{"null cache", `{"cache":null,"expirationTimes":[]}`},
		{"max size type", `{"cache":[],"expirationTimes":[],"maxSize":"big"}`},
		{"negative max size", `{"cache":[],"expirationTimes":[],"maxSize":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restored, err := Deserialize[string, int](tt.data, nil)
			assert.ErrorIs(t, err, ErrMalformedSnapshot)
			assert.Nil(t, restored)
		})
	}
}

func TestDeserializeMalformedMsgpack(t *testing.T) {
	_, err := Deserialize[string, int]("\xc1\xc1", &LocalCacheOptions[string]{Codec: &MsgpackCodec{}})
	assert.ErrorIs(t, err, ErrMalformedSnapshot)
}
