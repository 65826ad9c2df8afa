package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command against an isolated, in-memory setup.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("RATE_LIMIT_BACKEND", "memory")
	t.Setenv("AUDIT_LOG_PATH", filepath.Join(dir, "audit.log"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("ARGON2_TIME", "1")
	t.Setenv("ARGON2_MEMORY_KIB", "1024")
	t.Setenv("ARGON2_THREADS", "1")

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--env-file", filepath.Join(dir, "missing.env")))

	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, sub := range []string{"user", "login", "logout", "validate", "reset", "password", "audit", "maintain"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_EnvFileFlag(t *testing.T) {
	envFile = ""

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{"--env-file=/etc/secure-auth.env", "--help"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "/etc/secure-auth.env", envFile)
}

func TestPasswordCommands(t *testing.T) {
	out, err := runCLI(t, "", "password", "hash", "--password", "Correct1!")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(hash, "$argon2id$"), hash)

	out, err = runCLI(t, "Correct1!\n", "password", "check", "--hash", hash)
	require.NoError(t, err)
	assert.Contains(t, out, "match")

	out, err = runCLI(t, "", "password", "check", "--hash", hash, "--password", "wrong")
	assert.ErrorIs(t, err, errNoMatch)
	assert.Contains(t, out, "no match")
}

func TestPasswordStrengthCommand(t *testing.T) {
	out, err := runCLI(t, "", "password", "strength", "--password", "abc")
	assert.ErrorIs(t, err, errWeakPassword)
	assert.Contains(t, out, "at least 8 characters")
	assert.Contains(t, out, "one digit")

	out, err = runCLI(t, "", "password", "strength", "--password", "Correct1!")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
}

func TestUserCreateCommand(t *testing.T) {
	out, err := runCLI(t, "", "user", "create", "--username", "alice", "--email", "alice@example.com", "--password", "Correct1!")
	require.NoError(t, err)
	assert.Contains(t, out, "created user alice")

	_, err = runCLI(t, "", "user", "create", "--username", "alice", "--email", "not-an-email", "--password", "Correct1!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email")
}

func TestLoginCommand_UnknownUser(t *testing.T) {
	out, err := runCLI(t, "", "login", "--username", "bob", "--password", "Whatever1!")
	assert.ErrorIs(t, err, errLoginFailed)
	assert.Contains(t, out, "invalid username or password")
}

func TestResetRequestCommand_DoesNotRevealAccounts(t *testing.T) {
	out, err := runCLI(t, "", "reset", "request", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "if the account exists")
}

func TestValidateCommand_UnknownToken(t *testing.T) {
	out, err := runCLI(t, "", "validate", "--token", "nope")
	assert.ErrorIs(t, err, errInvalidSession)
	assert.Contains(t, out, "not valid")
}

func TestMaintainCommand_Once(t *testing.T) {
	out, err := runCLI(t, "", "maintain", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 limiter keys")
}
