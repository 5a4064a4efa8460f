// Package storage resolves object store credentials, builds S3 clients and
// binds them to an engine session.
package storage

import (
	"os"

	"duckframe/internal/domain"
)

// Environment variables consulted when a credential is not passed explicitly.
// The names are part of the public configuration surface.
const (
	EnvRegion          = "AWS_REGION"
	EnvAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
)

// LookupFunc reports the value of an environment variable. os.LookupEnv is
// the default.
type LookupFunc func(key string) (string, bool)

// Source yields a credential value, or false when it has none.
type Source func() (string, bool)

// Explicit is a source holding value; an empty value counts as absent.
func Explicit(value string) Source {
	return func() (string, bool) {
		return value, value != ""
	}
}

// Env reads the process environment variable name.
func Env(name string) Source {
	return EnvFrom(os.LookupEnv, name)
}

// EnvFrom reads name through lookup. A set but empty variable counts as absent.
func EnvFrom(lookup LookupFunc, name string) Source {
	return func() (string, bool) {
		v, ok := lookup(name)
		return v, ok && v != ""
	}
}

// Resolver resolves one credential by trying Sources in order.
type Resolver struct {
	Credential string // human-readable name used in errors
	EnvVar     string // environment fallback named in errors
	Sources    []Source
}

// Resolve returns the first value a source yields, or a MissingCredential
// error.
func (r Resolver) Resolve() (string, error) {
	for _, src := range r.Sources {
		if v, ok := src(); ok {
			return v, nil
		}
	}
	return "", domain.ErrMissingCredential(r.Credential, r.EnvVar)
}

// Credentials are the optional explicit arguments of a registration. Empty
// fields fall back to the environment.
type Credentials struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	URLStyle        string
}

// resolvers returns the resolvers for region, access key id and secret access
// key, in that order.
func resolvers(c Credentials, lookup LookupFunc) []Resolver {
	return []Resolver{
		{Credential: "AWS region", EnvVar: EnvRegion, Sources: []Source{Explicit(c.Region), EnvFrom(lookup, EnvRegion)}},
		{Credential: "AWS access key id", EnvVar: EnvAccessKeyID, Sources: []Source{Explicit(c.AccessKeyID), EnvFrom(lookup, EnvAccessKeyID)}},
		{Credential: "AWS secret access key", EnvVar: EnvSecretAccessKey, Sources: []Source{Explicit(c.SecretAccessKey), EnvFrom(lookup, EnvSecretAccessKey)}},
	}
}

// Resolve resolves c against lookup, failing on the first credential that
// neither c nor the environment provides.
func Resolve(c Credentials, lookup LookupFunc) (domain.StoreCredentials, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var vals [3]string
	for i, r := range resolvers(c, lookup) {
		v, err := r.Resolve()
		if err != nil {
			return domain.StoreCredentials{}, err
		}
		vals[i] = v
	}
	return domain.StoreCredentials{
		Region:          vals[0],
		AccessKeyID:     vals[1],
		SecretAccessKey: vals[2],
		Endpoint:        c.Endpoint,
		URLStyle:        c.URLStyle,
	}, nil
}
