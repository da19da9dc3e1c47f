// Package blob stores binary artifacts referenced by evidence items and
// signed notices. Keys are opaque; callers track them alongside the
// artifact's digest so downloads can be re-verified.
package blob

import "context"

type Object struct {
	Data        []byte
	ContentType string
}

type Store interface {
	Put(ctx context.Context, key string, obj Object) error
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
}
