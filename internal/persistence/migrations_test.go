package persistence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsOrdered(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Contains(t, migrations[0].UpSQL, "CREATE TABLE IF NOT EXISTS tickets")
	assert.True(t, strings.Contains(migrations[1].UpSQL, "problem_id_seq"))
	assert.Contains(t, migrations[1].UpSQL, "title           TEXT NOT NULL UNIQUE")
}

func TestRedisDisabled(t *testing.T) {
	r := &Redis{}
	_, err := r.AcquireLock(t.Context(), "problems:sweep", 0)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, r.Ping(t.Context()), ErrNotConfigured)

	var lock *Lock
	assert.NoError(t, lock.Release(t.Context()))
}
