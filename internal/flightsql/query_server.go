package flightsql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	arrowflight "github.com/apache/arrow-go/v18/arrow/flight"
	arrowflightsql "github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"duckframe/internal/ddl"
	"duckframe/internal/domain"
	"duckframe/pkg/duckframe"
)

// Executor plans guarded queries. *duckframe.Context implements it.
type Executor interface {
	SQL(ctx context.Context, query string) (*duckframe.DataFrame, error)
}

type queryServer struct {
	arrowflightsql.BaseServer

	exec    Executor
	tickets *ticketStore
}

func newQueryServer(exec Executor, version string, tickets *ticketStore) *queryServer {
	srv := &queryServer{exec: exec, tickets: tickets}
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerName, "duckframe")
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerVersion, version)
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerArrowVersion, "18")
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerSql, true)
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerReadOnly, true)
	return srv
}

// GetFlightInfoStatement runs the query and parks its batches under a new
// statement handle until DoGetStatement fetches them or the handle expires.
func (s *queryServer) GetFlightInfoStatement(ctx context.Context, stmt arrowflightsql.StatementQuery, desc *arrowflight.FlightDescriptor) (*arrowflight.FlightInfo, error) {
	df, err := s.exec.SQL(ctx, stmt.GetQuery())
	if err != nil {
		return nil, statusFromError(err)
	}
	batches, err := df.Collect(ctx)
	if err != nil {
		return nil, statusFromError(err)
	}

	handle := uuid.NewString()
	ticket, err := arrowflightsql.CreateStatementQueryTicket([]byte(handle))
	if err != nil {
		batches.Release()
		return nil, fmt.Errorf("create statement query ticket: %w", err)
	}
	schema, rows := batches.Schema, batches.NumRows()
	if err := s.tickets.put(handle, batches); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}

	return &arrowflight.FlightInfo{
		Schema:           arrowflight.SerializeSchema(schema, memory.DefaultAllocator),
		FlightDescriptor: desc,
		Endpoint: []*arrowflight.FlightEndpoint{{
			Ticket:   &arrowflight.Ticket{Ticket: ticket},
			Location: []*arrowflight.Location{{Uri: arrowflight.LocationReuseConnection}},
		}},
		TotalRecords: rows,
		TotalBytes:   -1,
		Ordered:      true,
	}, nil
}

func (s *queryServer) GetSchemaStatement(ctx context.Context, stmt arrowflightsql.StatementQuery, _ *arrowflight.FlightDescriptor) (*arrowflight.SchemaResult, error) {
	df, err := s.exec.SQL(ctx, stmt.GetQuery())
	if err != nil {
		return nil, statusFromError(err)
	}
	schema, err := df.Schema(ctx)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &arrowflight.SchemaResult{Schema: arrowflight.SerializeSchema(schema, memory.DefaultAllocator)}, nil
}

func (s *queryServer) DoGetStatement(ctx context.Context, queryTicket arrowflightsql.StatementQueryTicket) (*arrow.Schema, <-chan arrowflight.StreamChunk, error) {
	handle := string(queryTicket.GetStatementHandle())

	batches, ok := s.tickets.take(handle)
	if !ok {
		return nil, nil, status.Error(codes.NotFound, "unknown statement handle")
	}

	rdr, err := batches.Reader()
	batches.Release()
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan arrowflight.StreamChunk)
	go arrowflight.StreamChunksFromReader(ctx, rdr, ch)
	return batches.Schema, ch, nil
}

func (s *queryServer) GetFlightInfoTables(_ context.Context, req arrowflightsql.GetTables, desc *arrowflight.FlightDescriptor) (*arrowflight.FlightInfo, error) {
	return &arrowflight.FlightInfo{
		Schema:           arrowflight.SerializeSchema(tablesSchema(req.GetIncludeSchema()), memory.DefaultAllocator),
		FlightDescriptor: desc,
		Endpoint: []*arrowflight.FlightEndpoint{{
			Ticket:   &arrowflight.Ticket{Ticket: desc.Cmd},
			Location: []*arrowflight.Location{{Uri: arrowflight.LocationReuseConnection}},
		}},
		TotalRecords: -1,
		TotalBytes:   -1,
		Ordered:      true,
	}, nil
}

func (s *queryServer) GetSchemaTables(_ context.Context, req arrowflightsql.GetTables, _ *arrowflight.FlightDescriptor) (*arrowflight.SchemaResult, error) {
	return &arrowflight.SchemaResult{Schema: arrowflight.SerializeSchema(tablesSchema(req.GetIncludeSchema()), memory.DefaultAllocator)}, nil
}

// DoGetTables lists tables from information_schema, decoding the listing
// with the same materializer that serves ToColumns.
func (s *queryServer) DoGetTables(ctx context.Context, req arrowflightsql.GetTables) (*arrow.Schema, <-chan arrowflight.StreamChunk, error) {
	df, err := s.exec.SQL(ctx, buildTablesQuery(req))
	if err != nil {
		return nil, nil, statusFromError(err)
	}
	cols, err := df.ToColumns(ctx)
	if err != nil {
		return nil, nil, statusFromError(err)
	}
	tables := tableRows(cols)

	var schemas [][]byte
	if req.GetIncludeSchema() {
		schemas = make([][]byte, len(tables))
		for i, t := range tables {
			schema, err := s.tableSchema(ctx, t)
			if err != nil {
				return nil, nil, statusFromError(err)
			}
			schemas[i] = arrowflight.SerializeSchema(schema, memory.DefaultAllocator)
		}
	}

	schema := tablesSchema(req.GetIncludeSchema())
	rec := tablesRecord(schema, tables, schemas)
	defer rec.Release()
	rdr, err := array.NewRecordReader(schema, []arrow.Record{rec})
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan arrowflight.StreamChunk)
	go arrowflight.StreamChunksFromReader(ctx, rdr, ch)
	return schema, ch, nil
}

func (s *queryServer) tableSchema(ctx context.Context, t tableRow) (*arrow.Schema, error) {
	name := ddl.QuoteIdentifier(t.name)
	if t.schema != "" {
		name = ddl.QuoteIdentifier(t.schema) + "." + name
	}
	if t.catalog != "" {
		name = ddl.QuoteIdentifier(t.catalog) + "." + name
	}
	df, err := s.exec.SQL(ctx, "SELECT * FROM "+name)
	if err != nil {
		return nil, err
	}
	return df.Schema(ctx)
}

type tableRow struct {
	catalog, schema, name, kind string
}

func tableRows(cols duckframe.Columns) []tableRow {
	names := cols["table_name"]
	rows := make([]tableRow, len(names))
	for i := range names {
		rows[i] = tableRow{
			catalog: text(cols["table_catalog"], i),
			schema:  text(cols["table_schema"], i),
			name:    text(names, i),
			kind:    text(cols["table_type"], i),
		}
	}
	return rows
}

func text(vals []any, i int) string {
	if i >= len(vals) {
		return ""
	}
	s, _ := vals[i].(string)
	return s
}

func tablesSchema(includeSchema bool) *arrow.Schema {
	fields := []arrow.Field{
		{Name: "catalog_name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "db_schema_name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "table_name", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "table_type", Type: arrow.BinaryTypes.String, Nullable: false},
	}
	if includeSchema {
		fields = append(fields, arrow.Field{Name: "table_schema", Type: arrow.BinaryTypes.Binary, Nullable: false})
	}
	return arrow.NewSchema(fields, nil)
}

func tablesRecord(schema *arrow.Schema, tables []tableRow, schemas [][]byte) arrow.Record {
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	catalogs := b.Field(0).(*array.StringBuilder)
	dbSchemas := b.Field(1).(*array.StringBuilder)
	names := b.Field(2).(*array.StringBuilder)
	kinds := b.Field(3).(*array.StringBuilder)
	for i, t := range tables {
		appendOptional(catalogs, t.catalog)
		appendOptional(dbSchemas, t.schema)
		names.Append(t.name)
		kinds.Append(t.kind)
		if schemas != nil {
			b.Field(4).(*array.BinaryBuilder).Append(schemas[i])
		}
	}
	return b.NewRecord()
}

func appendOptional(b *array.StringBuilder, v string) {
	if v == "" {
		b.AppendNull()
		return
	}
	b.Append(v)
}

func buildTablesQuery(req arrowflightsql.GetTables) string {
	query := "SELECT table_catalog, table_schema, table_name, table_type FROM information_schema.tables"
	var filters []string

	if catalog := req.GetCatalog(); catalog != nil {
		filters = append(filters, "table_catalog = "+ddl.QuoteLiteral(*catalog))
	}
	if pattern := req.GetDBSchemaFilterPattern(); pattern != nil {
		filters = append(filters, "table_schema LIKE "+ddl.QuoteLiteral(*pattern))
	}
	if pattern := req.GetTableNameFilterPattern(); pattern != nil {
		filters = append(filters, "table_name LIKE "+ddl.QuoteLiteral(*pattern))
	}
	if types := req.GetTableTypes(); len(types) > 0 {
		var literals []string
		for _, t := range types {
			t = strings.ToUpper(strings.TrimSpace(t))
			if t == "" {
				continue
			}
			literals = append(literals, ddl.QuoteLiteral(t))
			if t == "TABLE" {
				literals = append(literals, ddl.QuoteLiteral("BASE TABLE"))
			}
		}
		if len(literals) > 0 {
			filters = append(filters, "UPPER(table_type) IN ("+strings.Join(literals, ", ")+")")
		}
	}

	if len(filters) > 0 {
		query += " WHERE " + strings.Join(filters, " AND ")
	}
	return query + " ORDER BY table_catalog, table_schema, table_name"
}

// statusFromError maps duckframe errors onto gRPC status codes.
func statusFromError(err error) error {
	var (
		pe *domain.PolicyError
		de *domain.DecodeError
		ee *domain.EngineError
	)
	switch {
	case errors.As(err, &pe):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.As(err, &de):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.As(err, &ee):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
