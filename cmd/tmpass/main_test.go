package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DukeRupert/tmportal/internal/obfuscate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// pipedStdin returns a file standing in for redirected stdin.
func pipedStdin(t *testing.T, content string) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stdin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func runCmd(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, pipedStdin(t, stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRun_Obfuscation(t *testing.T) {
	encoded := obfuscate.Encode("secret1")

	tests := []struct {
		name  string
		args  []string
		stdin string
		want  string
	}{
		{"encode argument", []string{"encode", "secret1"}, "", encoded},
		{"encode stdin", []string{"encode"}, "secret1\n", encoded},
		{"encode stdin without newline", []string{"encode"}, "secret1", encoded},
		{"encode stdin crlf", []string{"encode"}, "secret1\r\n", encoded},
		{"decode", []string{"decode", encoded}, "", "secret1"},
		{"decode stdin", []string{"decode"}, encoded + "\n", "secret1"},
		{"decode foreign", []string{"decode", "not-base64!"}, "", obfuscate.Placeholder},
		{"mask", []string{"mask", "secret1"}, "", obfuscate.Mask("secret1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := runCmd(t, tt.stdin, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want+"\n", out)
		})
	}
}

func TestRun_Hash(t *testing.T) {
	out, _, err := runCmd(t, "", "hash", "Admin123!")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("Admin123!")))
}

func TestRun_HashRejectsBadLength(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"too short", "abc"},
		{"too long", strings.Repeat("a", 73)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := runCmd(t, "", "hash", tt.password)
			assert.Error(t, err)
			assert.Empty(t, out)
		})
	}
}

func TestRun_Check(t *testing.T) {
	t.Run("strong", func(t *testing.T) {
		out, _, err := runCmd(t, "", "check", "Abcdef1!")
		require.NoError(t, err)
		assert.NotContains(t, out, "FAIL")
		assert.Equal(t, 5, strings.Count(out, "ok"))
	})

	t.Run("weak", func(t *testing.T) {
		out, _, err := runCmd(t, "", "check", "abcdefgh")
		assert.EqualError(t, err, "password too weak")
		assert.Contains(t, out, "FAIL an uppercase letter")
		assert.Contains(t, out, "FAIL a number")
		assert.Contains(t, out, "FAIL a special character")
		assert.Contains(t, out, "ok   a lowercase letter")
	})
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frob"}},
		{"too many arguments", []string{"encode", "a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCmd(t, "", tt.args...)
			assert.ErrorIs(t, err, errUsage)
		})
	}
}

func TestRun_EmptyStdin(t *testing.T) {
	_, _, err := runCmd(t, "", "encode")
	assert.Error(t, err)
}

func TestReadSecret_Terminal(t *testing.T) {
	origRead, origTerm := readPassword, isTerminal
	t.Cleanup(func() { readPassword, isTerminal = origRead, origTerm })

	isTerminal = func(int) bool { return true }

	t.Run("reads without echo", func(t *testing.T) {
		readPassword = func(int) ([]byte, error) { return []byte("secret1"), nil }

		var stdout, stderr bytes.Buffer
		err := run([]string{"encode"}, pipedStdin(t, ""), &stdout, &stderr)
		require.NoError(t, err)
		assert.Equal(t, obfuscate.Encode("secret1")+"\n", stdout.String())
		assert.Equal(t, "Password: \n", stderr.String())
	})

	t.Run("read failure", func(t *testing.T) {
		readPassword = func(int) ([]byte, error) { return nil, errors.New("boom") }

		var stdout, stderr bytes.Buffer
		err := run([]string{"mask"}, pipedStdin(t, ""), &stdout, &stderr)
		assert.ErrorContains(t, err, "read password")
		assert.Empty(t, stdout.String())
	})
}
