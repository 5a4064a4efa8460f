// Package domain defines the error taxonomy and the engine-facing ports shared
// by the execution context, the storage registrar and the materializer.
package domain

import (
	"fmt"
	"strings"
)

// EngineError indicates a query engine execution failure.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("engine error: %v", e.Err)
	}
	return fmt.Sprintf("engine error: %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// ArrowLayoutError indicates that an array does not match the schema that
// describes it.
type ArrowLayoutError struct {
	Column  string
	Type    string
	Message string
}

func (e *ArrowLayoutError) Error() string {
	return fmt.Sprintf("arrow layout error: column %q (%s): %s", e.Column, e.Type, e.Message)
}

// ConfigErrorKind enumerates the ConfigError variants.
type ConfigErrorKind int

// ConfigError variants.
const (
	MissingCredential ConfigErrorKind = iota + 1
	StorageConfig
)

func (k ConfigErrorKind) String() string {
	switch k {
	case MissingCredential:
		return "missing credential"
	case StorageConfig:
		return "storage config"
	default:
		return "unknown"
	}
}

// ConfigError indicates that a storage binding could not be configured.
// Credential and EnvVar are set for MissingCredential, Bucket and Err for
// StorageConfig.
type ConfigError struct {
	Kind       ConfigErrorKind
	Credential string
	EnvVar     string
	Bucket     string
	Err        error
}

func (e *ConfigError) Error() string {
	switch e.Kind {
	case MissingCredential:
		return fmt.Sprintf("config error: %s not provided and %s environment variable not set", e.Credential, e.EnvVar)
	case StorageConfig:
		return fmt.Sprintf("config error: storage client for bucket %q: %v", e.Bucket, e.Err)
	default:
		return fmt.Sprintf("config error: %v", e.Err)
	}
}

func (e *ConfigError) Unwrap() error { return e.Err }

// PolicyError indicates that guarded SQL attempted a statement category the
// guard disallows.
type PolicyError struct {
	Category string // "ddl", "dml", "statement" or "multiple statements"
	Keyword  string // leading keyword of the offending statement
}

func (e *PolicyError) Error() string {
	if e.Keyword == "" {
		return fmt.Sprintf("policy violation: %s not allowed", e.Category)
	}
	return fmt.Sprintf("policy violation: %s not allowed (%s)", e.Category, strings.ToUpper(e.Keyword))
}

// DecodeErrorKind enumerates the DecodeError variants.
type DecodeErrorKind int

// DecodeError variants.
const (
	UnsupportedPhysicalLayout DecodeErrorKind = iota + 1
	UnsupportedTimestampUnit
	UnsupportedMapValueType
	UnhandledColumnType
)

func (k DecodeErrorKind) String() string {
	switch k {
	case UnsupportedPhysicalLayout:
		return "unsupported physical layout"
	case UnsupportedTimestampUnit:
		return "unsupported timestamp unit"
	case UnsupportedMapValueType:
		return "unsupported map value type"
	case UnhandledColumnType:
		return "unhandled column type"
	default:
		return "unknown"
	}
}

// DecodeError indicates that a column could not be converted to generic values.
type DecodeError struct {
	Kind   DecodeErrorKind
	Column string
	Type   string // declared type
	Detail string // observed layout, unit or value type
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode error: %s: column %q (%s)", e.Kind, e.Column, e.Type)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// ErrEngine wraps err as an EngineError for op.
func ErrEngine(op string, err error) *EngineError {
	return &EngineError{Op: op, Err: err}
}

// ErrMissingCredential creates a MissingCredential ConfigError.
func ErrMissingCredential(credential, envVar string) *ConfigError {
	return &ConfigError{Kind: MissingCredential, Credential: credential, EnvVar: envVar}
}

// ErrStorageConfig creates a StorageConfig ConfigError.
func ErrStorageConfig(bucket string, err error) *ConfigError {
	return &ConfigError{Kind: StorageConfig, Bucket: bucket, Err: err}
}

// ErrDecode creates a DecodeError with a formatted detail.
func ErrDecode(kind DecodeErrorKind, column, typ, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: kind, Column: column, Type: typ, Detail: fmt.Sprintf(format, args...)}
}

// ErrArrowLayout creates an ArrowLayoutError with a formatted message.
func ErrArrowLayout(column, typ, format string, args ...interface{}) *ArrowLayoutError {
	return &ArrowLayoutError{Column: column, Type: typ, Message: fmt.Sprintf(format, args...)}
}
