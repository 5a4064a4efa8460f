package domain

// StoreCredentials is the resolved configuration of a remote storage binding.
type StoreCredentials struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // optional, S3-compatible host[:port]
	URLStyle        string // optional, "path" or "vhost"
}

// ObjectStore is a credentialed remote storage client that an engine session
// can bind to a URI such as s3://bucket.
// Implemented by storage.S3Store.
type ObjectStore interface {
	// URI returns the canonical scheme://bucket the store serves.
	URI() string
	Bucket() string
	Credentials() StoreCredentials
}
