// Package engine is the boundary to the embedded DuckDB query engine.
//
// Every Session operation returns a *bridge.Future and runs on its own
// goroutine; callers block on it with bridge.Drive. Operations on one Session
// are serialized.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"duckframe/internal/bridge"
	"duckframe/internal/ddl"
	"duckframe/internal/domain"
	"duckframe/internal/sqlguard"
)

// ErrClosed is returned by operations on a closed Session.
var ErrClosed = errors.New("session closed")

// Config holds the engine settings applied when a Session is opened.
type Config struct {
	Path               string // database file; empty means in-memory
	Threads            int    // 0 keeps the DuckDB default
	MemoryLimit        string // e.g. "4GB"; empty keeps the DuckDB default
	InformationSchema  bool
	AutoLoadExtensions bool
}

// DefaultConfig returns an in-memory configuration with information_schema
// introspection enabled.
func DefaultConfig() Config {
	return Config{InformationSchema: true, AutoLoadExtensions: true}
}

// settings returns the SET statements that apply c.
func (c Config) settings() []string {
	var out []string
	if c.Threads > 0 {
		out = append(out, fmt.Sprintf("SET threads = %d", c.Threads))
	}
	if c.MemoryLimit != "" {
		out = append(out, "SET memory_limit = "+ddl.QuoteLiteral(c.MemoryLimit))
	}
	out = append(out, fmt.Sprintf("SET autoload_known_extensions = %t", c.AutoLoadExtensions))
	return out
}

// Session is one live DuckDB instance together with the storage bindings
// registered against it.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	db     *sql.DB
	stores map[string]domain.ObjectStore
	httpfs bool
	closed bool
}

// Open starts a DuckDB instance configured by cfg.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, domain.ErrEngine("open", err)
	}
	// One connection keeps connection-local state (temporary objects and
	// settings) visible to every operation.
	db.SetMaxOpenConns(1)

	for _, stmt := range cfg.settings() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, domain.ErrEngine("configure", fmt.Errorf("%s: %w", stmt, err))
		}
	}

	logger.Debug("engine session opened",
		"path", cfg.Path,
		"threads", cfg.Threads,
		"memory_limit", cfg.MemoryLimit,
		"information_schema", cfg.InformationSchema,
	)
	return &Session{
		cfg:    cfg,
		logger: logger,
		db:     db,
		stores: make(map[string]domain.ObjectStore),
	}, nil
}

// Config returns the configuration the session was opened with.
func (s *Session) Config() Config {
	return s.cfg
}

// SQL verifies stmt against its policy and plans it. A statement the policy
// disallows fails with a *domain.PolicyError and never reaches DuckDB.
func (s *Session) SQL(ctx context.Context, stmt sqlguard.Statement) *bridge.Future[*Plan] {
	return bridge.Go(ctx, func(ctx context.Context) (*Plan, error) {
		if err := stmt.Verify(); err != nil {
			var pe *domain.PolicyError
			if errors.As(err, &pe) {
				return nil, err
			}
			return nil, domain.ErrEngine("plan", err)
		}
		if !s.cfg.InformationSchema && sqlguard.ReferencesSchema(stmt.Text, "information_schema") {
			return nil, domain.ErrEngine("plan", errors.New("information_schema is disabled for this session"))
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil, domain.ErrEngine("plan", ErrClosed)
		}
		// Preparing the last of several statements runs the ones before it,
		// so only a single statement is checked before Collect.
		if _, n, _ := sqlguard.Classify(stmt.Text); n > 1 {
			return &Plan{session: s, query: stmt.Text}, nil
		}
		prepared, err := s.db.PrepareContext(ctx, stmt.Text)
		if err != nil {
			return nil, domain.ErrEngine("plan", err)
		}
		_ = prepared.Close()
		return &Plan{session: s, query: stmt.Text}, nil
	})
}

// Exec runs text without any statement policy.
func (s *Session) Exec(ctx context.Context, text string) *bridge.Future[struct{}] {
	return bridge.Go(ctx, func(ctx context.Context) (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return struct{}{}, s.exec(ctx, "exec", text)
	})
}

// RegisterCSV exposes the CSV file(s) at path as the view name.
func (s *Session) RegisterCSV(ctx context.Context, name, path string) *bridge.Future[struct{}] {
	return bridge.Go(ctx, func(ctx context.Context) (struct{}, error) {
		stmt, err := ddl.CreateCSVView(name, path)
		if err != nil {
			return struct{}{}, domain.ErrEngine("register csv", err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.exec(ctx, "register csv", stmt); err != nil {
			return struct{}{}, err
		}
		s.logger.Info("registered csv table", "table", name, "path", path)
		return struct{}{}, nil
	})
}

// RegisterStore binds store to its URI. A later registration for the same URI
// replaces the earlier one.
func (s *Session) RegisterStore(ctx context.Context, store domain.ObjectStore) *bridge.Future[struct{}] {
	return bridge.Go(ctx, func(ctx context.Context) (struct{}, error) {
		uri := store.URI()
		creds := store.Credentials()
		endpoint, disableSSL := secretEndpoint(creds.Endpoint)
		stmt, err := ddl.CreateS3Secret(ddl.S3Secret{
			Name:       ddl.SecretName(uri),
			Scope:      uri,
			KeyID:      creds.AccessKeyID,
			Secret:     creds.SecretAccessKey,
			Region:     creds.Region,
			Endpoint:   endpoint,
			URLStyle:   creds.URLStyle,
			DisableSSL: disableSSL,
		})
		if err != nil {
			return struct{}{}, domain.ErrEngine("register store", err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.httpfs {
			load, err := ddl.LoadExtension("httpfs")
			if err != nil {
				return struct{}{}, domain.ErrEngine("register store", err)
			}
			if err := s.exec(ctx, "load httpfs", load); err != nil {
				return struct{}{}, err
			}
			s.httpfs = true
		}
		if err := s.exec(ctx, "register store", stmt); err != nil {
			return struct{}{}, err
		}

		if _, ok := s.stores[uri]; ok {
			s.logger.Warn("replacing storage binding", "uri", uri)
		} else {
			s.logger.Info("registered storage binding", "uri", uri, "region", creds.Region)
		}
		s.stores[uri] = store
		return struct{}{}, nil
	})
}

// Store returns the binding registered for uri.
func (s *Session) Store(uri string) (domain.ObjectStore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stores[uri]
	return st, ok
}

// Stores returns the bound URIs in sorted order.
func (s *Session) Stores() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uris := make([]string, 0, len(s.stores))
	for uri := range s.stores {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// Close releases the DuckDB instance and drops every binding. Closing twice
// is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stores = nil
	if err := s.db.Close(); err != nil {
		return domain.ErrEngine("close", err)
	}
	return nil
}

// exec runs text; the caller holds s.mu.
func (s *Session) exec(ctx context.Context, op, text string) error {
	if s.closed {
		return domain.ErrEngine(op, ErrClosed)
	}
	if _, err := s.db.ExecContext(ctx, text); err != nil {
		return domain.ErrEngine(op, err)
	}
	return nil
}

// secretEndpoint converts an endpoint URL into the host[:port] form DuckDB
// secrets expect.
func secretEndpoint(endpoint string) (host string, disableSSL bool) {
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), true
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), false
	default:
		return endpoint, false
	}
}
