package storage

import (
	"context"
	"log/slog"
)

// Binder attaches a store to an engine session under its URI, replacing any
// existing binding for the same URI.
type Binder interface {
	BindStore(ctx context.Context, store *S3Store) error
}

// Registrar resolves credentials, builds S3 stores and binds them.
type Registrar struct {
	binder   Binder
	lookup   LookupFunc
	defaults Credentials
	logger   *slog.Logger
}

// RegistrarOption configures a Registrar.
type RegistrarOption func(*Registrar)

// WithLookup replaces os.LookupEnv as the environment fallback.
func WithLookup(lookup LookupFunc) RegistrarOption {
	return func(r *Registrar) { r.lookup = lookup }
}

// WithDefaults supplies endpoint and URL style used when a registration does
// not set them.
func WithDefaults(c Credentials) RegistrarOption {
	return func(r *Registrar) { r.defaults = c }
}

// WithLogger sets the registrar's logger.
func WithLogger(logger *slog.Logger) RegistrarOption {
	return func(r *Registrar) { r.logger = logger }
}

// NewRegistrar creates a Registrar that binds stores through binder.
func NewRegistrar(binder Binder, opts ...RegistrarOption) *Registrar {
	r := &Registrar{binder: binder, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register resolves creds, builds a store for bucket and binds it. Missing
// credentials are reported in the order region, access key id, secret access
// key.
func (r *Registrar) Register(ctx context.Context, bucket string, creds Credentials) (*S3Store, error) {
	if creds.Endpoint == "" {
		creds.Endpoint = r.defaults.Endpoint
	}
	if creds.URLStyle == "" {
		creds.URLStyle = r.defaults.URLStyle
	}
	resolved, err := Resolve(creds, r.lookup)
	if err != nil {
		return nil, err
	}
	store, err := NewS3Store(bucket, resolved)
	if err != nil {
		return nil, err
	}
	if err := r.binder.BindStore(ctx, store); err != nil {
		return nil, err
	}
	r.logger.Debug("object store registered", "uri", store.URI(), "endpoint", resolved.Endpoint)
	return store, nil
}
