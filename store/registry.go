// Package store keeps a registry of baodb.ReadonlyMap backends,
// so that a store can be described by a config map
// (typically decoded from JSON)
// and created by name.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/bobg/baodb"
)

// Factory creates a ReadonlyMap from its config.
type Factory func(context.Context, map[string]interface{}) (baodb.ReadonlyMap, error)

var registry = make(map[string]Factory)

// Register makes a backend available under key.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create creates a ReadonlyMap using the backend registered under key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (baodb.ReadonlyMap, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// CreateNested creates the store described by the "nested" parameter of conf,
// for backends that wrap another store.
func CreateNested(ctx context.Context, conf map[string]interface{}) (baodb.ReadonlyMap, error) {
	nested, ok := conf["nested"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf(`missing "nested" parameter`)
	}
	nestedType, ok := nested["type"].(string)
	if !ok {
		return nil, fmt.Errorf(`"nested" parameter missing "type"`)
	}
	return Create(ctx, nestedType, nested)
}

// Int gets an integer parameter from conf.
// It accepts the forms a JSON decoder may produce.
func Int(conf map[string]interface{}, key string) (int, bool) {
	switch v := conf[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

type loggerKey struct{}

// WithLogger attaches a logger to ctx for factories to use.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// Logger gets the logger attached with WithLogger.
func Logger(ctx context.Context) (*zap.Logger, bool) {
	l, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	return l, ok
}
