// Package duckframe runs guarded SQL against an embedded DuckDB session and
// decodes the results into plain Go values.
//
//	ctx := context.Background()
//	dc, err := duckframe.New(ctx)
//	if err != nil { ... }
//	defer dc.Close()
//
//	_ = dc.RegisterCSV(ctx, "trips", "trips.csv")
//	df, err := dc.SQL(ctx, "SELECT city, count(*) AS n FROM trips GROUP BY city")
//	cols, err := df.ToColumns(ctx)
//
// SQL only accepts single read-only statements; CreateTable runs any SQL.
// Every method blocks until the engine has finished.
package duckframe

import (
	"context"
	"log/slog"
	"sync/atomic"

	"duckframe/internal/bridge"
	"duckframe/internal/engine"
	"duckframe/internal/sqlguard"
	"duckframe/internal/storage"
)

// State describes whether anything has been registered with a Context. It is
// informational; every operation is valid in both states.
type State int

// Context states.
const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "uninitialized"
}

// Config is the engine configuration a Context is opened with.
type Config = engine.Config

// DefaultConfig returns an in-memory configuration with information_schema
// enabled.
func DefaultConfig() Config {
	return engine.DefaultConfig()
}

// Credentials are the optional explicit arguments of RegisterObjectStore.
// Empty fields fall back to AWS_REGION, AWS_ACCESS_KEY_ID and
// AWS_SECRET_ACCESS_KEY.
type Credentials = storage.Credentials

// Context owns one engine session.
type Context struct {
	session   *engine.Session
	registrar *storage.Registrar
	logger    *slog.Logger
	ready     atomic.Bool
}

type options struct {
	cfg      Config
	logger   *slog.Logger
	lookup   storage.LookupFunc
	defaults storage.Credentials
	binder   func(*engine.Session) storage.Binder
}

// Option configures New.
type Option func(*options)

// WithConfig sets the engine configuration. The default is DefaultConfig().
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the logger for the context and its session.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCredentialLookup replaces the process environment as the credential
// fallback of RegisterObjectStore.
func WithCredentialLookup(lookup storage.LookupFunc) Option {
	return func(o *options) { o.lookup = lookup }
}

// WithStoreDefaults sets the endpoint and URL style applied to object store
// registrations that do not set their own.
func WithStoreDefaults(endpoint, urlStyle string) Option {
	return func(o *options) {
		o.defaults = storage.Credentials{Endpoint: endpoint, URLStyle: urlStyle}
	}
}

// WithStoreBinder replaces the default binder, which registers stores with
// the session. Hosts use it to verify or intercept bindings.
func WithStoreBinder(fn func(*engine.Session) storage.Binder) Option {
	return func(o *options) { o.binder = fn }
}

// New opens a Context with a fresh engine session.
func New(ctx context.Context, opts ...Option) (*Context, error) {
	o := options{
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		binder: func(s *engine.Session) storage.Binder { return sessionBinder{s} },
	}
	for _, opt := range opts {
		opt(&o)
	}

	session, err := engine.Open(ctx, o.cfg, o.logger)
	if err != nil {
		return nil, err
	}
	regOpts := []storage.RegistrarOption{
		storage.WithDefaults(o.defaults),
		storage.WithLogger(o.logger),
	}
	if o.lookup != nil {
		regOpts = append(regOpts, storage.WithLookup(o.lookup))
	}
	return &Context{
		session:   session,
		registrar: storage.NewRegistrar(o.binder(session), regOpts...),
		logger:    o.logger,
	}, nil
}

// State reports whether a table or store has been registered.
func (c *Context) State() State {
	if c.ready.Load() {
		return Ready
	}
	return Uninitialized
}

// RegisterCSV exposes the CSV file(s) at path as table name.
func (c *Context) RegisterCSV(ctx context.Context, name, path string) error {
	if _, err := bridge.Drive(c.session.RegisterCSV(ctx, name, path)); err != nil {
		return err
	}
	c.ready.Store(true)
	return nil
}

// CreateTable runs ddl without any statement restriction.
func (c *Context) CreateTable(ctx context.Context, ddl string) error {
	if _, err := bridge.Drive(c.session.Exec(ctx, ddl)); err != nil {
		return err
	}
	c.ready.Store(true)
	return nil
}

// SQL plans a single read-only statement. DDL, DML, utility and
// multi-statement input fail with a *domain.PolicyError before reaching the
// engine.
func (c *Context) SQL(ctx context.Context, query string) (*DataFrame, error) {
	plan, err := bridge.Drive(c.session.SQL(ctx, sqlguard.Guard(query)))
	if err != nil {
		return nil, err
	}
	c.logger.Debug("query planned", "sql", query)
	return &DataFrame{plan: plan}, nil
}

// RegisterObjectStore binds s3://bucket to the session. Credentials left
// empty are read from the environment; the first one missing fails with a
// MissingCredential *domain.ConfigError. Registering a bucket again replaces
// its binding.
func (c *Context) RegisterObjectStore(ctx context.Context, bucket string, creds Credentials) error {
	if _, err := c.registrar.Register(ctx, bucket, creds); err != nil {
		return err
	}
	c.ready.Store(true)
	return nil
}

// Stores lists the bound store URIs.
func (c *Context) Stores() []string {
	return c.session.Stores()
}

// VerifyStores checks every bound store and reports the ones that cannot be
// reached with their credentials.
func (c *Context) VerifyStores(ctx context.Context) error {
	var checks []storage.Checker
	for _, uri := range c.session.Stores() {
		store, _ := c.session.Store(uri)
		if p, ok := store.(storage.Checker); ok {
			checks = append(checks, p)
		}
	}
	return storage.Verify(ctx, checks...)
}

// Session returns the underlying engine session.
func (c *Context) Session() *engine.Session {
	return c.session
}

// Close releases the engine session.
func (c *Context) Close() error {
	return c.session.Close()
}

// sessionBinder registers stores with an engine session.
type sessionBinder struct {
	session *engine.Session
}

func (b sessionBinder) BindStore(ctx context.Context, store *storage.S3Store) error {
	_, err := bridge.Drive(b.session.RegisterStore(ctx, store))
	return err
}
