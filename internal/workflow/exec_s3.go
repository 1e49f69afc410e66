package workflow

import (
	"context"
	"fmt"
)

// ObjectStore is the object storage surface s3 steps run against. The
// archive package's S3 client satisfies it.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string, max int) ([]string, error)
}

// S3Executor runs "s3" steps: evidence snapshots, artifact pulls, cleanup.
// The step config selects the operation: put (key, body, content_type),
// get (key), delete (key), or list (prefix, max).
type S3Executor struct {
	store ObjectStore
}

func NewS3Executor(store ObjectStore) (*S3Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("s3 executor requires an object store")
	}
	return &S3Executor{store: store}, nil
}

func (e *S3Executor) Kind() string { return "s3" }

func (e *S3Executor) Run(ctx context.Context, config map[string]any) (map[string]any, error) {
	op, _ := config["operation"].(string)
	switch op {
	case "put":
		key, err := requiredKey(config)
		if err != nil {
			return nil, err
		}
		body, _ := config["body"].(string)
		contentType, _ := config["content_type"].(string)
		location, err := e.store.Put(ctx, key, []byte(body), contentType)
		if err != nil {
			return nil, fmt.Errorf("s3 put %s: %w", key, err)
		}
		return map[string]any{"success": true, "key": key, "location": location}, nil

	case "get":
		key, err := requiredKey(config)
		if err != nil {
			return nil, err
		}
		data, err := e.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("s3 get %s: %w", key, err)
		}
		return map[string]any{"success": true, "key": key, "content": string(data)}, nil

	case "delete":
		key, err := requiredKey(config)
		if err != nil {
			return nil, err
		}
		if err := e.store.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("s3 delete %s: %w", key, err)
		}
		return map[string]any{"success": true, "key": key}, nil

	case "list":
		prefix, _ := config["prefix"].(string)
		max := 0
		switch v := config["max"].(type) {
		case int:
			max = v
		case float64:
			max = int(v)
		}
		keys, err := e.store.List(ctx, prefix, max)
		if err != nil {
			return nil, fmt.Errorf("s3 list %s: %w", prefix, err)
		}
		return map[string]any{"success": true, "keys": keys, "count": len(keys)}, nil

	case "":
		return nil, fmt.Errorf("s3 step requires an operation")
	default:
		return nil, fmt.Errorf("unsupported s3 operation %q", op)
	}
}

func requiredKey(config map[string]any) (string, error) {
	key, _ := config["key"].(string)
	if key == "" {
		return "", fmt.Errorf("s3 step requires a key")
	}
	return key, nil
}
