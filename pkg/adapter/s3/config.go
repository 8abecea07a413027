// Package s3 implements the scheduler adapter for AWS S3 and S3-compatible
// object stores.
package s3

import (
	"github.com/bmatcuk/doublestar/v4"
)

// Config configures an S3 adapter.
//
// Authentication priority (AWS SDK v2 default chain):
//  1. Explicit AccessKeyID/SecretAccessKey (if provided)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials file (~/.aws/credentials)
//  4. Shared config file (~/.aws/config) with profile
//  5. EC2 instance metadata / ECS task role / EKS IRSA
//
// For S3-compatible stores (Wasabi, MinIO, DigitalOcean Spaces), set
// Endpoint and typically ForcePathStyle.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Prefix is the key prefix under which the per-state locations live,
	// e.g. "jobs" yields jobs/planned/, jobs/active/, jobs/completed/.
	// Empty places the state locations at the bucket root.
	Prefix string

	// Region is the AWS region. For AWS S3 it defaults to us-east-1 when
	// not resolvable from config or environment. When Endpoint is set no
	// default is applied.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores. Leave
	// empty for AWS S3.
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must
	// also be set. Takes precedence over the default credential chain.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key. Required if AccessKeyID
	// is set.
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path, not
	// subdomain). Required for most S3-compatible stores.
	ForcePathStyle bool

	// Pattern is the doublestar pattern an object's base name must match
	// to be discovered as a job document. Default: "*.yaml".
	Pattern string

	// OutputSuffix replaces the job document's extension to form the
	// output sidecar name. Default: ".out".
	OutputSuffix string

	// MaxKeys is the page size for List operations. Zero uses the S3
	// default (1000). Values over 1000 are clamped.
	MaxKeys int

	// RequestsPerSecond throttles S3 API calls. Zero disables throttling.
	RequestsPerSecond float64
}

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the maximum page size allowed by S3.
const MaxAllowedKeys = 1000

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// DefaultPattern matches the job documents recognized by a poll.
const DefaultPattern = "*.yaml"

// DefaultOutputSuffix is appended to the job name for output sidecars.
const DefaultOutputSuffix = ".out"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}

	// If one explicit credential is set, both must be set
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}

	if c.Pattern != "" && !doublestar.ValidatePattern(c.Pattern) {
		return &ConfigError{Field: "Pattern", Message: "invalid discovery pattern"}
	}

	if c.RequestsPerSecond < 0 {
		return &ConfigError{Field: "RequestsPerSecond", Message: "must be >= 0"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}

// clampMaxKeys applies defaults and limits to maxKeys values.
func clampMaxKeys(requested int) int {
	if requested <= 0 {
		return DefaultMaxKeys
	}
	if requested > MaxAllowedKeys {
		return MaxAllowedKeys
	}
	return requested
}

// resolveRegion determines the final region after SDK config loading. The
// SDK has already applied explicit config, environment, and profile
// resolution; only the AWS S3 fallback default remains.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	// S3-compatible: no default, the endpoint may not need a region.
	return ""
}
