package config

import "fmt"

// Object store access for uploaded output segments. When local_dir is set,
// uploads are written beneath that directory instead of contacting an object
// store (useful for development and tests).
type s3Config struct {
	// base URL of the S3-compatible object store
	EndpointURL string `yaml:"endpoint_url"`
	// bucket receiving compressed output segments
	Bucket string `yaml:"bucket"`
	// access key ID
	KeyId string `yaml:"key_id"`
	// secret access key
	Secret string `yaml:"secret"`
	// region passed to the client (many S3-compatible stores ignore it)
	Region string `yaml:"region"`
	// number of attempts per upload before the failure is surfaced
	MaxAttempts int `yaml:"max_attempts"`
	// when set, segments are "uploaded" into this local directory
	LocalDir string `yaml:"local_dir"`
}

// This helper validates the given object store parameters, returning an error
// indicating success or failure.
func validateS3Parameters(params s3Config) error {
	if params.MaxAttempts <= 0 {
		return fmt.Errorf("Invalid s3 max_attempts: %d (must be positive)",
			params.MaxAttempts)
	}
	if params.LocalDir != "" { // local uploads need nothing else
		return nil
	}
	if params.EndpointURL == "" {
		return fmt.Errorf("No s3 endpoint_url was provided!")
	}
	if params.Bucket == "" {
		return fmt.Errorf("No s3 bucket was provided!")
	}
	if params.KeyId == "" || params.Secret == "" {
		return fmt.Errorf("Incomplete s3 credentials!")
	}
	return nil
}
