package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var principalPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.@-]*$`)

// CheckPrincipal rejects principal names that cannot be used as a file name.
func CheckPrincipal(principal string) error {
	if !principalPattern.MatchString(principal) {
		return fmt.Errorf("invalid principal name %q", principal)
	}
	return nil
}

// PrincipalFile returns the path of the principal's database file in
// dataDir, creating the directory if needed.
func PrincipalFile(dataDir, principal, ext string) (string, error) {
	if err := CheckPrincipal(principal); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return filepath.Join(dataDir, principal+ext), nil
}
