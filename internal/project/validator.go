package project

import (
	"os"
	"path/filepath"

	flickerrors "github.com/conneroisu/flick/internal/errors"
)

// Validator checks that a directory is a Flutter project flick can serve.
type Validator struct {
	root       string
	sourceDir  string
	entryPoint string
}

// NewValidator creates a validator for root.
func NewValidator(root, sourceDir, entryPoint string) *Validator {
	if sourceDir == "" {
		sourceDir = "lib"
	}
	if entryPoint == "" {
		entryPoint = "lib/main.dart"
	}
	return &Validator{root: root, sourceDir: sourceDir, entryPoint: entryPoint}
}

// Validate returns a ValidationFailed error for the first missing piece.
func (v *Validator) Validate() error {
	pubspecPath := filepath.Join(v.root, PubspecFile)
	raw, err := os.ReadFile(pubspecPath)
	if err != nil {
		return flickerrors.NewValidationFailed(flickerrors.ErrCodeMissingPubspec,
			"pubspec.yaml not found - not a Flutter project").
			WithContext("path", pubspecPath).
			WithHint("Run flick from the root of a Flutter project")
	}
	if _, err := ParsePubspec(raw); err != nil {
		return flickerrors.NewValidationFailed(flickerrors.ErrCodeInvalidPubspec, err.Error()).
			WithContext("path", pubspecPath)
	}

	libPath := filepath.Join(v.root, filepath.FromSlash(v.sourceDir))
	if info, err := os.Stat(libPath); err != nil || !info.IsDir() {
		return flickerrors.NewValidationFailed(flickerrors.ErrCodeMissingLibDir,
			v.sourceDir+"/ directory not found").
			WithContext("path", libPath)
	}

	entryPath := filepath.Join(v.root, filepath.FromSlash(v.entryPoint))
	if info, err := os.Stat(entryPath); err != nil || info.IsDir() {
		return flickerrors.NewValidationFailed(flickerrors.ErrCodeMissingEntryPoint,
			v.entryPoint+" not found").
			WithContext("path", entryPath)
	}

	return nil
}
