package engine

import (
	"context"
	"fmt"

	duckdb "github.com/duckdb/duckdb-go/v2"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"duckframe/internal/bridge"
	"duckframe/internal/domain"
	"duckframe/internal/sqlguard"
)

// batchRows is the number of rows per collected record batch, matching the
// DuckDB vector size.
const batchRows = 2048

// Plan is a planned query. It holds no data; Collect executes it.
type Plan struct {
	session *Session
	query   string
}

// Query returns the SQL text of the plan.
func (p *Plan) Query() string {
	return p.query
}

// Batches is the collected output of a Plan. Records are retained until
// Release is called.
type Batches struct {
	Schema  *arrow.Schema
	Records []arrow.Record
}

// NumRows returns the total row count across all records.
func (b *Batches) NumRows() int64 {
	var n int64
	for _, rec := range b.Records {
		n += rec.NumRows()
	}
	return n
}

// Reader returns a reader over the records. The reader retains them.
func (b *Batches) Reader() (array.RecordReader, error) {
	return array.NewRecordReader(b.Schema, b.Records)
}

// Release releases every record.
func (b *Batches) Release() {
	for _, rec := range b.Records {
		rec.Release()
	}
	b.Records = nil
}

// Collect executes the plan and returns its output as Arrow record batches.
func (p *Plan) Collect(ctx context.Context) *bridge.Future[*Batches] {
	return p.CollectWith(ctx, memory.DefaultAllocator)
}

// CollectWith is Collect with an explicit allocator.
func (p *Plan) CollectWith(ctx context.Context, mem memory.Allocator) *bridge.Future[*Batches] {
	return bridge.Go(ctx, func(ctx context.Context) (*Batches, error) {
		var out *Batches
		err := p.session.prepare(ctx, "collect", p.query, func(ctx context.Context, stmt *duckdb.Stmt) error {
			schema, err := statementSchema(stmt)
			if err != nil {
				return err
			}
			rows, err := stmt.QueryContext(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = rows.Close() }()
			out, err = newEncoder(schema, mem).encode(ctx, rows)
			return err
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// Schema returns the Arrow schema of the plan's output. The statement is
// prepared but not executed, so no rows are read.
func (p *Plan) Schema(ctx context.Context) *bridge.Future[*arrow.Schema] {
	return bridge.Go(ctx, func(ctx context.Context) (*arrow.Schema, error) {
		if _, n, err := sqlguard.Classify(p.query); err != nil {
			return nil, domain.ErrEngine("schema", err)
		} else if n > 1 {
			// Preparing the last statement runs the ones before it.
			return nil, domain.ErrEngine("schema", fmt.Errorf("%d statements have no schema until collected", n))
		}
		var schema *arrow.Schema
		err := p.session.prepare(ctx, "schema", p.query, func(_ context.Context, stmt *duckdb.Stmt) error {
			var err error
			schema, err = statementSchema(stmt)
			return err
		})
		if err != nil {
			return nil, err
		}
		return schema, nil
	})
}

// prepare prepares text on the session's connection under the session lock
// and hands the statement to fn. Errors become EngineErrors for op.
func (s *Session) prepare(ctx context.Context, op, text string, fn func(context.Context, *duckdb.Stmt) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrEngine(op, ErrClosed)
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return domain.ErrEngine(op, err)
	}
	defer func() { _ = conn.Close() }()

	err = conn.Raw(func(dc any) error {
		c, ok := dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("driver connection is %T", dc)
		}
		prepared, err := c.PrepareContext(ctx, text)
		if err != nil {
			return err
		}
		defer func() { _ = prepared.Close() }()
		stmt, ok := prepared.(*duckdb.Stmt)
		if !ok {
			return fmt.Errorf("driver statement is %T", prepared)
		}
		return fn(ctx, stmt)
	})
	if err != nil {
		return domain.ErrEngine(op, err)
	}
	return nil
}
