// Package secrets resolves credentials from the process environment.
package secrets

import (
	"os"

	"github.com/cockroachdb/errors"
)

const npmTokenVar = "NPM_TOKEN"

// NpmToken returns the npm authentication token. The token is an opaque value
// owned by the deployment's secret store and surfaced to the process as an
// environment variable; callers must never log or persist it.
func NpmToken() (string, error) {
	token := os.Getenv(npmTokenVar)
	if token == "" {
		return "", errors.Newf("npm token not available: %s is not set", npmTokenVar)
	}
	return token, nil
}
