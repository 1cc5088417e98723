package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/civictrack/internal/config"
	"github.com/example/civictrack/internal/models"
	"github.com/example/civictrack/internal/repository"
)

func run(t *testing.T, store *repository.MemoryStore, args ...string) (string, error) {
	t.Helper()
	open := func() (repository.Store, func() error, error) {
		return store, func() error { return nil }, nil
	}
	cfg := config.Config{JWTSecret: "test", DefaultLanguage: "de"}
	cmd := newRootCmd(open, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEstimateCommand(t *testing.T) {
	out, err := run(t, repository.NewMemoryStore(), "estimate", "residence_registration", "--from", "2024-06-14")
	require.NoError(t, err)
	assert.Equal(t, "residence_registration: 1 business days, due Mon 2024-06-17\n", out)

	_, err = run(t, repository.NewMemoryStore(), "estimate", "teleportation")
	assert.Error(t, err)
}

func TestCreateUserCommand(t *testing.T) {
	store := repository.NewMemoryStore()
	out, err := run(t, store, "create-user",
		"--username", "lena", "--email", "lena@example.org", "--password", "sup3rsecret", "--role", "supervisor")
	require.NoError(t, err)
	assert.Contains(t, out, "created supervisor lena")

	user, err := store.Users().FindByUsername(context.Background(), "lena")
	require.NoError(t, err)
	assert.Equal(t, models.RoleSupervisor, user.Role)
	assert.Equal(t, "de", user.Language)

	_, err = run(t, store, "create-user", "--username", "nopass", "--email", "n@example.org")
	assert.Error(t, err)
}
