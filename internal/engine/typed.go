package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetOrFetchAs is GetOrFetch with the payload converted to T. Entries
// restored from a snapshot hold raw JSON and are decoded into T.
func GetOrFetchAs[T any](ctx context.Context, e *Engine, key string, fetcher func(context.Context) (T, error), p Policy) (T, Result, error) {
	var zero T
	if fetcher == nil {
		return zero, Result{}, ErrNilFetcher
	}
	res, err := e.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetcher(ctx)
	}, p)
	if err != nil {
		return zero, res, err
	}
	v, err := As[T](res.Data)
	if err != nil {
		return zero, res, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, res, nil
}

// As converts a cached payload to T.
func As[T any](data any) (T, error) {
	var out T
	switch v := data.(type) {
	case T:
		return v, nil
	case nil:
		return out, nil
	case json.RawMessage:
		err := json.Unmarshal(v, &out)
		return out, err
	case []byte:
		err := json.Unmarshal(v, &out)
		return out, err
	}
	return out, fmt.Errorf("cached payload is %T, not %T", data, out)
}
