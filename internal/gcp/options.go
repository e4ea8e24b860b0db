// Package gcp resolves Google Cloud credentials from the environment for all
// Google API clients used by the pipeline.
package gcp

import (
	"fmt"
	"os"

	"google.golang.org/api/option"
)

// ClientOptions returns the credential options for Google API clients.
// Inline GOOGLE_CREDENTIALS wins over GOOGLE_APPLICATION_CREDENTIALS; with
// neither set the clients fall back to Application Default Credentials.
func ClientOptions(extra ...option.ClientOption) []option.ClientOption {
	var opts []option.ClientOption
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	}
	return append(opts, extra...)
}

// HasExplicitCredentials reports whether a service account key was configured.
func HasExplicitCredentials() bool {
	return os.Getenv("GOOGLE_CREDENTIALS") != "" || os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != ""
}

// ServiceAccountKey returns the raw service account JSON, or nil when only
// Application Default Credentials are available.
func ServiceAccountKey() ([]byte, error) {
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		return []byte(credJSON), nil
	}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		data, err := os.ReadFile(credFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		return data, nil
	}
	return nil, nil
}
