package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckframe/internal/domain"
)

type cliRun struct {
	stdout string
	stderr string
	err    error
}

// runCLI executes the root command with an isolated environment, no .env
// file and no profile config unless args supply them.
func runCLI(t *testing.T, ctx context.Context, stdin string, args ...string) cliRun {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, key := range []string{
		"DUCKFRAME_OUTPUT", "DUCKFRAME_DB_PATH", "DUCKFRAME_THREADS", "DUCKFRAME_S3_ENDPOINT",
		"DUCKFRAME_S3_URL_STYLE", "DUCKFRAME_INFORMATION_SCHEMA", "LOG_LEVEL", "FLIGHT_SQL_ADDR",
		"AWS_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
	} {
		t.Setenv(key, "")
	}

	base := []string{
		"--env-file", filepath.Join(dir, "missing.env"),
		"--config", filepath.Join(dir, "missing.yaml"),
	}
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(ctx)
	return cliRun{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cities.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,population\nOslo,709000\nLima,10000000\n"), 0o600))
	return path
}

func decodeRows(t *testing.T, out string) []map[string]any {
	t.Helper()
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows), out)
	return rows
}

func TestVersionCmd(t *testing.T) {
	res := runCLI(t, context.Background(), "", "-o", "json", "version")
	require.NoError(t, res.err)
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	assert.Equal(t, "dev", got["version"])

	res = runCLI(t, context.Background(), "", "-o", "table", "version")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "duckframe version dev")
}

func TestQueryCmd_Table(t *testing.T) {
	res := runCLI(t, context.Background(), "",
		"-o", "table", "-t", "cities="+writeCSV(t),
		"query", "SELECT name, population::BIGINT AS population FROM cities ORDER BY population")
	require.NoError(t, res.err)

	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"NAME", "POPULATION"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"Oslo", "709000"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"Lima", "10000000"}, strings.Fields(lines[2]))
	assert.Equal(t, "(2 rows)", lines[3])
}

func TestQueryCmd_JSON(t *testing.T) {
	res := runCLI(t, context.Background(), "",
		"-o", "json", "query", "SELECT 1::BIGINT AS n, NULL::DOUBLE AS x, 'a' AS s")
	require.NoError(t, res.err)

	rows := decodeRows(t, res.stdout)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(1), rows[0]["n"])
	assert.Nil(t, rows[0]["x"])
	assert.Equal(t, "a", rows[0]["s"])
}

func TestQueryCmd_Stdin(t *testing.T) {
	res := runCLI(t, context.Background(), "SELECT 2::BIGINT AS n\n", "-o", "json", "query", "-")
	require.NoError(t, res.err)
	assert.Equal(t, float64(2), decodeRows(t, res.stdout)[0]["n"])

	res = runCLI(t, context.Background(), "  \n", "query", "-")
	require.Error(t, res.err)
}

func TestQueryCmd_RejectsMutation(t *testing.T) {
	res := runCLI(t, context.Background(), "", "-o", "json", "query", "DROP TABLE anything")
	var pe *domain.PolicyError
	require.ErrorAs(t, res.err, &pe)
	assert.Equal(t, "policy_violation", errorObject(res.err)["code"])
}

func TestExecCmd_PersistsWithDB(t *testing.T) {
	db := filepath.Join(t.TempDir(), "frames.duckdb")

	res := runCLI(t, context.Background(), "", "--db", db, "-o", "table",
		"exec", "CREATE TABLE t (v BIGINT); INSERT INTO t VALUES (7)")
	require.NoError(t, res.err)
	assert.Equal(t, "OK\n", res.stdout)

	res = runCLI(t, context.Background(), "", "--db", db, "-o", "json", "query", "SELECT v FROM t")
	require.NoError(t, res.err)
	assert.Equal(t, float64(7), decodeRows(t, res.stdout)[0]["v"])
}

func TestQueryCmd_RunsQueryOnce(t *testing.T) {
	db := filepath.Join(t.TempDir(), "frames.duckdb")
	res := runCLI(t, context.Background(), "", "--db", db, "exec", "CREATE SEQUENCE ids")
	require.NoError(t, res.err)

	res = runCLI(t, context.Background(), "", "--db", db, "-o", "json", "query", "SELECT nextval('ids')::BIGINT AS n")
	require.NoError(t, res.err)
	assert.Equal(t, float64(1), decodeRows(t, res.stdout)[0]["n"])
}

func TestRootCmd_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"output format", []string{"-o", "xml", "version"}, "unsupported output format"},
		{"table spec", []string{"-t", "nopath", "query", "SELECT 1"}, "invalid --table"},
		{"unknown profile", []string{"-p", "ghost", "version"}, `profile "ghost" not found`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, context.Background(), "", tt.args...)
			require.Error(t, res.err)
			assert.Contains(t, res.err.Error(), tt.want)
		})
	}
}

func TestQueryCmd_BucketWithoutCredentials(t *testing.T) {
	res := runCLI(t, context.Background(), "", "-b", "lake", "query", "SELECT 1")
	var ce *domain.ConfigError
	require.ErrorAs(t, res.err, &ce)
	assert.Equal(t, domain.MissingCredential, ce.Kind)
	assert.Equal(t, "AWS_REGION", ce.EnvVar)
}

func TestQueryCmd_Profile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "current-profile: local\nprofiles:\n  local:\n    output: json\n    tables:\n      cities: " + writeCSV(t) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	res := runCLI(t, context.Background(), "", "--config", path, "query", "SELECT count(*)::BIGINT AS n FROM cities")
	require.NoError(t, res.err)
	assert.Equal(t, float64(2), decodeRows(t, res.stdout)[0]["n"])
}

func TestServeCmd_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	res := runCLI(t, ctx, "", "serve", "--addr", "127.0.0.1:0", "--grace", "1s")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "Flight SQL listener enabled")
}

func TestErrorObject(t *testing.T) {
	obj := errorObject(domain.ErrDecode(domain.UnhandledColumnType, "flag", "bool", "no decoder"))
	assert.Equal(t, domain.UnhandledColumnType.String(), obj["code"])
	assert.Equal(t, "flag", obj["column"])

	obj = errorObject(domain.ErrMissingCredential("region", "AWS_REGION"))
	assert.Equal(t, domain.MissingCredential.String(), obj["code"])

	obj = errorObject(assert.AnError)
	assert.NotContains(t, obj, "code")
	assert.Equal(t, assert.AnError.Error(), obj["error"])
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "NULL", formatValue(nil))
	assert.Equal(t, "x", formatValue("x"))
	assert.Equal(t, "1.5", formatValue(1.5))
	assert.Equal(t, "{a=1, b=NULL}", formatValue(map[string]any{"b": nil, "a": 1.0}))
}
