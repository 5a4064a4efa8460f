// Package ddl builds the DuckDB statements the engine session issues on its own
// behalf: CSV table registration, S3 secrets and extension loading.
package ddl

import (
	"fmt"
	"strings"
)

// S3Secret describes a scoped DuckDB S3 secret.
type S3Secret struct {
	Name     string
	Scope    string // e.g. s3://bucket
	KeyID    string
	Secret   string
	Region   string
	Endpoint string // optional, S3-compatible endpoint host
	URLStyle string // optional, "path" or "vhost"
	// DisableSSL is set for plain-HTTP endpoints.
	DisableSSL bool
}

// CreateS3Secret returns a DuckDB statement that creates or replaces a
// scoped S3 secret.
func CreateS3Secret(s S3Secret) (string, error) {
	if err := ValidateIdentifier(s.Name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	if s.Scope == "" {
		return "", fmt.Errorf("secret scope is required")
	}

	opts := []string{
		"TYPE S3",
		"KEY_ID " + QuoteLiteral(s.KeyID),
		"SECRET " + QuoteLiteral(s.Secret),
		"REGION " + QuoteLiteral(s.Region),
	}
	if s.Endpoint != "" {
		opts = append(opts, "ENDPOINT "+QuoteLiteral(s.Endpoint))
	}
	if s.URLStyle != "" {
		opts = append(opts, "URL_STYLE "+QuoteLiteral(s.URLStyle))
	}
	if s.DisableSSL {
		opts = append(opts, "USE_SSL false")
	}
	opts = append(opts, "SCOPE "+QuoteLiteral(s.Scope))

	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (\n\t%s\n)",
		QuoteIdentifier(s.Name),
		strings.Join(opts, ",\n\t"),
	), nil
}

// SecretName derives a secret identifier from an object store URI such as
// s3://my-bucket.
func SecretName(uri string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(uri) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return "store_" + name
}

// CreateCSVView returns a DuckDB statement that exposes the CSV file(s) at path
// as a view named name, replacing any earlier registration.
func CreateCSVView(name, path string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("table name is required")
	}
	if path == "" {
		return "", fmt.Errorf("source path is required")
	}
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM read_csv_auto(%s)",
		QuoteIdentifier(name),
		QuoteLiteral(path),
	), nil
}

// LoadExtension returns a statement that installs and loads a DuckDB extension.
func LoadExtension(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid extension name: %w", err)
	}
	return fmt.Sprintf("INSTALL %s; LOAD %s;", name, name), nil
}
