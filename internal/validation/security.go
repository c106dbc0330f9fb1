// Package validation provides security validation functions for preventing
// command injection and path traversal in compiler invocations and file
// access requests.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var dangerousChars = []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\x00"}

// moduleNamePattern restricts module names to identifiers so they can be used
// directly as file names inside a scratch directory.
var moduleNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// ValidateArgument validates a command line argument to prevent injection attacks
func ValidateArgument(arg string) error {
	for _, char := range dangerousChars {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %q", char)
		}
	}

	if strings.Contains(arg, "..") {
		return fmt.Errorf("contains path traversal: %s", arg)
	}

	return nil
}

// ValidateCommand validates an executable against an allowlist of base names.
// Absolute paths are accepted so a toolchain outside PATH can be configured.
func ValidateCommand(command string, allowedCommands map[string]bool) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	if err := ValidateArgument(command); err != nil {
		return fmt.Errorf("invalid command '%s': %w", command, err)
	}

	base := strings.TrimSuffix(filepath.Base(command), ".exe")
	if !allowedCommands[base] {
		return fmt.Errorf("command '%s' is not allowed", command)
	}

	return nil
}

// ValidateModuleName checks that a client-supplied module name is a plain
// identifier.
func ValidateModuleName(name string) error {
	if name == "" {
		return fmt.Errorf("module name cannot be empty")
	}
	if !moduleNamePattern.MatchString(name) {
		return fmt.Errorf("invalid module name %q: must be an identifier of letters, digits and underscores", name)
	}

	return nil
}

// ResolveWithinRoot joins a slash-separated relative path onto root and
// returns the absolute result, rejecting anything that escapes root.
func ResolveWithinRoot(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if strings.Contains(rel, "\x00") {
		return "", fmt.Errorf("path contains null byte")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("getting absolute root: %w", err)
	}

	native := filepath.FromSlash(rel)
	if filepath.IsAbs(native) || filepath.VolumeName(native) != "" {
		return "", fmt.Errorf("absolute path not allowed: %s", rel)
	}

	full := filepath.Join(absRoot, native)
	within, err := filepath.Rel(absRoot, full)
	if err != nil {
		return "", fmt.Errorf("path traversal detected: %s", rel)
	}
	if within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", rel)
	}

	return full, nil
}
