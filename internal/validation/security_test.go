package validation

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateArgument(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{"valid argument", "compile", false},
		{"valid file name", "m1.dart", false},
		{"valid flag", "-o", false},
		{"command injection semicolon", "compile; rm -rf /", true},
		{"command injection pipe", "compile | cat /etc/passwd", true},
		{"command injection backtick", "compile`whoami`", true},
		{"path traversal", "../../../etc/passwd", true},
		{"dangerous shell characters", "file$(whoami).txt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgument(tt.arg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArgument() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	allowedCommands := map[string]bool{"dart": true}

	tests := []struct {
		name    string
		command string
		wantErr bool
	}{
		{"plain dart", "dart", false},
		{"absolute dart", "/opt/flutter/bin/dart", false},
		{"windows dart", "dart.exe", false},
		{"disallowed command", "rm", true},
		{"empty command", "", true},
		{"command with injection", "dart; rm -rf /", true},
		{"command with dangerous chars", "dart`whoami`", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommand(tt.command, allowedCommands)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateModuleName(t *testing.T) {
	valid := []string{"m1", "counter_widget", "_private", "HomePage"}
	invalid := []string{"", "1abc", "../evil", "a/b", "with space", "dash-name", "m1.dart"}

	for _, name := range valid {
		assert.NoError(t, ValidateModuleName(name), name)
	}
	for _, name := range invalid {
		assert.Error(t, ValidateModuleName(name), name)
	}
}

func TestResolveWithinRoot(t *testing.T) {
	root := t.TempDir()

	full, err := ResolveWithinRoot(root, "lib/main.dart")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "lib", "main.dart"), full)

	full, err = ResolveWithinRoot(root, "lib/../pubspec.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "pubspec.yaml"), full)

	rejected := []string{
		"",
		"../secret",
		"lib/../../secret",
		"/etc/passwd",
		"..",
		"lib/\x00.dart",
	}
	for _, rel := range rejected {
		_, err := ResolveWithinRoot(root, rel)
		assert.Error(t, err, "%q should be rejected", rel)
	}
}
