package cache

import (
	"errors"
	"fmt"
	"strconv"
)

var errKeyNotParseable = errors.New("cache: key type has no string parser")

// CacheKey converts keys to and from their string form. The string form is
// used for log fields and for prefix matching in RemovePrefix.
type CacheKey[K comparable] interface {
	Marshal(K) string
	Unmarshal(string) (K, error)
}

type StringCacheKey struct {
}

func (k *StringCacheKey) Marshal(key string) string {
	return key
}

func (k *StringCacheKey) Unmarshal(data string) (string, error) {
	return data, nil
}

type IntCacheKey struct {
}

func (k *IntCacheKey) Marshal(key int) string {
	return strconv.Itoa(key)
}

func (k *IntCacheKey) Unmarshal(data string) (int, error) {
	return strconv.Atoi(data)
}

// fmtCacheKey renders arbitrary keys with fmt. It cannot parse them back.
type fmtCacheKey[K comparable] struct {
}

func (k *fmtCacheKey[K]) Marshal(key K) string {
	return fmt.Sprint(key)
}

func (k *fmtCacheKey[K]) Unmarshal(data string) (K, error) {
	var zero K
	return zero, fmt.Errorf("%w: %q", errKeyNotParseable, data)
}

func defaultCacheKey[K comparable]() CacheKey[K] {
	if k, ok := any(&StringCacheKey{}).(CacheKey[K]); ok {
		return k
	}
	if k, ok := any(&IntCacheKey{}).(CacheKey[K]); ok {
		return k
	}
	return &fmtCacheKey[K]{}
}
