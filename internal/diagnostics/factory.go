package diagnostics

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// DefaultCapacity bounds the memory and redis sinks.
const DefaultCapacity = 500

type SinkFactory func(dsn string) (Sink, error)

var sinkFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]SinkFactory
}{
	factories: map[string]SinkFactory{},
}

// RegisterSinkFactory overrides or extends the schemes understood by
// BuildSinkFromDSN.
func RegisterSinkFactory(scheme string, factory SinkFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	sinkFactoryRegistry.mu.Lock()
	defer sinkFactoryRegistry.mu.Unlock()
	sinkFactoryRegistry.factories[scheme] = factory
}

func lookupSinkFactory(scheme string) (SinkFactory, bool) {
	scheme = normalizeScheme(scheme)
	sinkFactoryRegistry.mu.RLock()
	defer sinkFactoryRegistry.mu.RUnlock()
	factory, ok := sinkFactoryRegistry.factories[scheme]
	return factory, ok
}

// BuildSinkFromDSN returns the sink named by dsn. An empty dsn or "log"
// logs through logger.
func BuildSinkFromDSN(dsn string, logger Logger) (Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || strings.EqualFold(dsn, "log") {
		return NewLogSink(logger), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupSinkFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileSink(path)
	case "memory", "mem", "inmem":
		return NewMemorySink(DefaultCapacity), nil
	case "log":
		return NewLogSink(logger), nil
	case "postgres", "postgresql":
		return NewPostgresSink(dsn)
	case "redis", "rediss":
		return NewRedisSink(dsn)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: diagnostics sink %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported diagnostics sink scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if parsed.Host != "" && path != "" {
		path = parsed.Host + path
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
