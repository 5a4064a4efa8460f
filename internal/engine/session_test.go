package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckframe/internal/bridge"
	"duckframe/internal/domain"
	"duckframe/internal/sqlguard"
)

func openTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := Open(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustExec(t *testing.T, s *Session, text string) {
	t.Helper()
	_, err := bridge.Drive(s.Exec(context.Background(), text))
	require.NoError(t, err)
}

func collect(t *testing.T, s *Session, query string) *Batches {
	t.Helper()
	ctx := context.Background()
	plan, err := bridge.Drive(s.SQL(ctx, sqlguard.Guard(query)))
	require.NoError(t, err)
	batches, err := bridge.Drive(plan.Collect(ctx))
	require.NoError(t, err)
	t.Cleanup(batches.Release)
	return batches
}

func TestSession_SQLCollect(t *testing.T) {
	s := openTestSession(t, DefaultConfig())

	batches := collect(t, s, "SELECT 42::BIGINT AS answer, 'duck' AS name, 1.5::DOUBLE AS ratio")
	require.Len(t, batches.Records, 1)
	assert.Equal(t, int64(1), batches.NumRows())

	schema := batches.Schema
	require.Equal(t, 3, schema.NumFields())
	assert.Equal(t, arrow.INT64, schema.Field(0).Type.ID())
	assert.Equal(t, arrow.STRING, schema.Field(1).Type.ID())
	assert.Equal(t, arrow.FLOAT64, schema.Field(2).Type.ID())

	rec := batches.Records[0]
	assert.Equal(t, int64(42), rec.Column(0).(*array.Int64).Value(0))
	assert.Equal(t, "duck", rec.Column(1).(*array.String).Value(0))
	assert.InDelta(t, 1.5, rec.Column(2).(*array.Float64).Value(0), 1e-9)
}

func TestSession_CollectSplitsBatches(t *testing.T) {
	s := openTestSession(t, DefaultConfig())

	batches := collect(t, s, "SELECT range::BIGINT AS n FROM range(5000)")
	assert.Len(t, batches.Records, 3)
	assert.Equal(t, int64(5000), batches.NumRows())

	rdr, err := batches.Reader()
	require.NoError(t, err)
	defer rdr.Release()
	var seen int64
	for rdr.Next() {
		seen += rdr.Record().NumRows()
	}
	assert.Equal(t, int64(5000), seen)
}

func TestSession_CollectEmptyResult(t *testing.T) {
	s := openTestSession(t, DefaultConfig())
	mustExec(t, s, "CREATE TABLE t (id BIGINT)")

	batches := collect(t, s, "SELECT id FROM t")
	assert.Empty(t, batches.Records)
	assert.Equal(t, "id", batches.Schema.Field(0).Name)
}

func TestSession_CollectNullsAndTimestamps(t *testing.T) {
	s := openTestSession(t, DefaultConfig())

	batches := collect(t, s, `SELECT
		NULL::BIGINT AS missing,
		'1970-01-01 00:00:01'::TIMESTAMP_MS AS ms,
		'1970-01-01 00:00:02'::TIMESTAMP_NS AS ns,
		MAP {'x': 1.0::DOUBLE, 'y': 2.0::DOUBLE} AS m`)
	rec := batches.Records[0]

	assert.True(t, rec.Column(0).IsNull(0))
	assert.Equal(t, arrow.Timestamp(1000), rec.Column(1).(*array.Timestamp).Value(0))
	assert.Equal(t, arrow.Timestamp(2_000_000_000), rec.Column(2).(*array.Timestamp).Value(0))

	m, ok := rec.Column(3).(*array.Map)
	require.True(t, ok, "map column is %T", rec.Column(3))
	assert.Equal(t, 2, m.Keys().Len())
}

func TestSession_Schema(t *testing.T) {
	s := openTestSession(t, DefaultConfig())
	ctx := context.Background()

	plan, err := bridge.Drive(s.SQL(ctx, sqlguard.Guard("SELECT 1::BIGINT AS a, true AS b")))
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1::BIGINT AS a, true AS b", plan.Query())

	schema, err := bridge.Drive(plan.Schema(ctx))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, []string{schema.Field(0).Name, schema.Field(1).Name})
	assert.Equal(t, arrow.BOOL, schema.Field(1).Type.ID())
}

func TestSession_GuardStopsMutationBeforeEngine(t *testing.T) {
	s := openTestSession(t, DefaultConfig())
	ctx := context.Background()
	mustExec(t, s, "CREATE TABLE t AS SELECT range::BIGINT AS id FROM range(3)")

	for _, text := range []string{
		"DELETE FROM t",
		"DROP TABLE t",
		"SELECT 1; DELETE FROM t",
	} {
		_, err := bridge.Drive(s.SQL(ctx, sqlguard.Guard(text)))
		var pe *domain.PolicyError
		require.ErrorAs(t, err, &pe, text)
	}

	batches := collect(t, s, "SELECT count(*)::BIGINT AS n FROM t")
	assert.Equal(t, int64(3), batches.Records[0].Column(0).(*array.Int64).Value(0))
}

func TestSession_UnrestrictedStatement(t *testing.T) {
	s := openTestSession(t, DefaultConfig())
	ctx := context.Background()
	mustExec(t, s, "CREATE TABLE t (id BIGINT)")

	plan, err := bridge.Drive(s.SQL(ctx, sqlguard.Statement{
		Text:    "INSERT INTO t VALUES (1)",
		Options: sqlguard.Options{AllowDML: true},
	}))
	require.NoError(t, err)
	batches, err := bridge.Drive(plan.Collect(ctx))
	require.NoError(t, err)
	batches.Release()

	got := collect(t, s, "SELECT id FROM t")
	assert.Equal(t, int64(1), got.NumRows())
}

func TestSession_PlanErrors(t *testing.T) {
	s := openTestSession(t, DefaultConfig())
	ctx := context.Background()

	_, err := bridge.Drive(s.SQL(ctx, sqlguard.Guard("SELECT * FROM no_such_table")))
	var ee *domain.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "plan", ee.Op)

	_, err = bridge.Drive(s.SQL(ctx, sqlguard.Guard("SELECT 'unterminated")))
	require.ErrorAs(t, err, &ee)
}

func TestSession_CollectNestedAndDecimal(t *testing.T) {
	s := openTestSession(t, DefaultConfig())

	batches := collect(t, s, `SELECT
		1.5 AS price,
		10::HUGEINT AS big,
		[1, 2, 3] AS xs,
		{'a': 1} AS st,
		MAP {2: 'b', 1: 'a'} AS m,
		NULL::INTEGER[] AS missing`)
	rec := batches.Records[0]
	schema := batches.Schema

	price, ok := schema.Field(0).Type.(*arrow.Decimal128Type)
	require.True(t, ok, "price is %s", schema.Field(0).Type)
	assert.Equal(t, int32(2), price.Precision)
	assert.Equal(t, int32(1), price.Scale)
	assert.Equal(t, decimal128.FromI64(15), rec.Column(0).(*array.Decimal128).Value(0))
	assert.Equal(t, decimal128.FromI64(10), rec.Column(1).(*array.Decimal128).Value(0))

	xs := rec.Column(2).(*array.List)
	assert.Equal(t, []int32{1, 2, 3}, xs.ListValues().(*array.Int32).Int32Values())

	st := rec.Column(3).(*array.Struct)
	assert.Equal(t, "a", schema.Field(3).Type.(*arrow.StructType).Field(0).Name)
	assert.Equal(t, int32(1), st.Field(0).(*array.Int32).Value(0))

	m := rec.Column(4).(*array.Map)
	assert.Equal(t, []int32{1, 2}, m.Keys().(*array.Int32).Int32Values(), "keys are sorted")
	assert.Equal(t, "a", m.Items().(*array.String).Value(0))

	assert.True(t, rec.Column(5).IsNull(0))
}

func TestSession_CollectOpaqueType(t *testing.T) {
	s := openTestSession(t, DefaultConfig())

	batches := collect(t, s, "SELECT 7::UHUGEINT AS u")
	assert.Equal(t, arrow.BINARY, batches.Schema.Field(0).Type.ID())
	assert.Equal(t, "7", string(batches.Records[0].Column(0).(*array.Binary).Value(0)))
}

func TestSession_SchemaDoesNotExecute(t *testing.T) {
	s := openTestSession(t, DefaultConfig())
	ctx := context.Background()

	plan, err := bridge.Drive(s.SQL(ctx, sqlguard.Guard("SELECT error('boom')::BIGINT AS x, 1.5 AS price")))
	require.NoError(t, err)

	schema, err := bridge.Drive(plan.Schema(ctx))
	require.NoError(t, err)
	require.Equal(t, 2, schema.NumFields())
	assert.Equal(t, "x", schema.Field(0).Name)
	assert.Equal(t, arrow.INT64, schema.Field(0).Type.ID())
	assert.Equal(t, arrow.DECIMAL128, schema.Field(1).Type.ID())

	_, err = bridge.Drive(plan.Collect(ctx))
	var ee *domain.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "collect", ee.Op)
	assert.Contains(t, err.Error(), "boom")
}

func TestSession_SchemaOfManyStatements(t *testing.T) {
	s := openTestSession(t, DefaultConfig())
	ctx := context.Background()
	mustExec(t, s, "CREATE TABLE t (id BIGINT)")

	plan, err := bridge.Drive(s.SQL(ctx, sqlguard.Statement{
		Text:    "INSERT INTO t VALUES (1); SELECT id FROM t",
		Options: sqlguard.Unrestricted(),
	}))
	require.NoError(t, err)
	_, err = bridge.Drive(plan.Schema(ctx))
	var ee *domain.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "schema", ee.Op)

	got := collect(t, s, "SELECT count(*)::BIGINT AS n FROM t")
	assert.Equal(t, int64(0), got.Records[0].Column(0).(*array.Int64).Value(0), "planning ran nothing")

	batches, err := bridge.Drive(plan.Collect(ctx))
	require.NoError(t, err)
	batches.Release()
	got = collect(t, s, "SELECT count(*)::BIGINT AS n FROM t")
	assert.Equal(t, int64(1), got.Records[0].Column(0).(*array.Int64).Value(0))
}

func TestSession_InformationSchema(t *testing.T) {
	ctx := context.Background()
	query := "SELECT table_name FROM information_schema.tables"

	enabled := openTestSession(t, DefaultConfig())
	_, err := bridge.Drive(enabled.SQL(ctx, sqlguard.Guard(query)))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.InformationSchema = false
	disabled := openTestSession(t, cfg)
	_, err = bridge.Drive(disabled.SQL(ctx, sqlguard.Guard(query)))
	var ee *domain.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, err.Error(), "information_schema is disabled")
}

func TestSession_RegisterCSV(t *testing.T) {
	s := openTestSession(t, DefaultConfig())
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "trips.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,city\n1,Oslo\n2,Lima\n"), 0o600))

	_, err := bridge.Drive(s.RegisterCSV(ctx, "trips", path))
	require.NoError(t, err)
	_, err = bridge.Drive(s.RegisterCSV(ctx, "trips", path))
	require.NoError(t, err, "re-registering replaces the view")

	batches := collect(t, s, "SELECT city FROM trips ORDER BY id")
	col := batches.Records[0].Column(0).(*array.String)
	assert.Equal(t, []string{"Oslo", "Lima"}, []string{col.Value(0), col.Value(1)})

	_, err = bridge.Drive(s.RegisterCSV(ctx, "", path))
	var ee *domain.EngineError
	require.ErrorAs(t, err, &ee)
}

func TestSession_ExecIsUnguarded(t *testing.T) {
	s := openTestSession(t, DefaultConfig())
	mustExec(t, s, "CREATE TABLE t (id BIGINT); INSERT INTO t VALUES (7)")

	batches := collect(t, s, "SELECT id FROM t")
	assert.Equal(t, int64(7), batches.Records[0].Column(0).(*array.Int64).Value(0))
}

func TestSession_Close(t *testing.T) {
	s := openTestSession(t, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := bridge.Drive(s.SQL(ctx, sqlguard.Guard("SELECT 1")))
	require.ErrorIs(t, err, ErrClosed)
	_, err = bridge.Drive(s.Exec(ctx, "SELECT 1"))
	require.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, s.Stores())
}

func TestConfig_Settings(t *testing.T) {
	cfg := Config{Threads: 4, MemoryLimit: "2GB", AutoLoadExtensions: false}
	assert.Equal(t, []string{
		"SET threads = 4",
		"SET memory_limit = '2GB'",
		"SET autoload_known_extensions = false",
	}, cfg.settings())

	assert.Equal(t, []string{"SET autoload_known_extensions = true"}, DefaultConfig().settings())
}

func TestOpen_BadSetting(t *testing.T) {
	_, err := Open(context.Background(), Config{MemoryLimit: "lots"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var ee *domain.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "configure", ee.Op)
}

func TestSecretEndpoint(t *testing.T) {
	tests := []struct {
		in         string
		host       string
		disableSSL bool
	}{
		{"", "", false},
		{"minio.local:9000", "minio.local:9000", false},
		{"http://localhost:9000/", "localhost:9000", true},
		{"https://storage.example.com", "storage.example.com", false},
	}
	for _, tt := range tests {
		host, disable := secretEndpoint(tt.in)
		assert.Equal(t, tt.host, host, tt.in)
		assert.Equal(t, tt.disableSSL, disable, tt.in)
	}
}

type fakeStore struct {
	uri   string
	creds domain.StoreCredentials
}

func (f fakeStore) URI() string                          { return f.uri }
func (f fakeStore) Bucket() string                       { return f.uri[len("s3://"):] }
func (f fakeStore) Credentials() domain.StoreCredentials { return f.creds }

// Loading httpfs may download the extension, so the test only runs when
// DUCKFRAME_TEST_HTTPFS is set.
func TestSession_RegisterStore(t *testing.T) {
	if os.Getenv("DUCKFRAME_TEST_HTTPFS") == "" {
		t.Skip("set DUCKFRAME_TEST_HTTPFS=1 to run httpfs tests")
	}
	s := openTestSession(t, DefaultConfig())
	ctx := context.Background()

	store := fakeStore{uri: "s3://lake", creds: domain.StoreCredentials{
		Region: "us-east-1", AccessKeyID: "AKIA", SecretAccessKey: "secret",
	}}
	_, err := bridge.Drive(s.RegisterStore(ctx, store))
	require.NoError(t, err)
	_, err = bridge.Drive(s.RegisterStore(ctx, store))
	require.NoError(t, err)

	assert.Equal(t, []string{"s3://lake"}, s.Stores())
	got, ok := s.Store("s3://lake")
	require.True(t, ok)
	assert.Equal(t, "us-east-1", got.Credentials().Region)

	batches := collect(t, s, "SELECT name FROM duckdb_secrets() WHERE name = 'store_s3_lake'")
	assert.Equal(t, int64(1), batches.NumRows())
}
