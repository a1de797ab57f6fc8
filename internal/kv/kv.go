// Package kv is the metadata store: site records, admin keys and login
// rate-limit counters all live here under fully qualified string keys.
package kv

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("kv: key not found")

// Page is one slice of a prefix listing. Cursor is passed back to List to
// continue; Done is set on the last page.
type Page struct {
	Keys   []string
	Cursor string
	Done   bool
}

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key. A ttl of zero means the entry never
	// expires; any other ttl replaces the previous expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix, cursor string, limit int) (Page, error)
}

// Purger is implemented by stores that keep expired entries until they
// are swept. Redis expires keys natively and does not implement it.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

const DefaultListLimit = 1000

// ListAll follows the cursor until every key with prefix has been seen.
func ListAll(ctx context.Context, s Store, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor string
	)
	for {
		page, err := s.List(ctx, prefix, cursor, DefaultListLimit)
		if err != nil {
			return nil, err
		}
		keys = append(keys, page.Keys...)
		if page.Done {
			return keys, nil
		}
		cursor = page.Cursor
	}
}
