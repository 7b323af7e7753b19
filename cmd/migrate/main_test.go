package main

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	t.Run("single action", func(t *testing.T) {
		a, err := parseAction([]string{"-steps", "-2", "-path", "/tmp/m"}, io.Discard)
		require.NoError(t, err)
		assert.Equal(t, -2, a.steps)
		assert.Equal(t, "/tmp/m", a.path)
		assert.Equal(t, -1, a.force)
	})

	t.Run("force zero counts as an action", func(t *testing.T) {
		a, err := parseAction([]string{"-force", "0"}, io.Discard)
		require.NoError(t, err)
		assert.Equal(t, 0, a.force)
	})

	t.Run("no action", func(t *testing.T) {
		_, err := parseAction([]string{"-backend", "sqlite"}, io.Discard)
		assert.ErrorContains(t, err, "no action specified")
	})

	t.Run("two actions", func(t *testing.T) {
		_, err := parseAction([]string{"-up", "-version"}, io.Discard)
		assert.ErrorContains(t, err, "only one action")
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := parseAction([]string{"-sideways"}, io.Discard)
		assert.Error(t, err)
	})
}

func TestMigrateSQLite(t *testing.T) {
	t.Run("rejects rollback", func(t *testing.T) {
		err := migrateSQLite(action{down: true, force: -1}, t.TempDir()+"/wf.db", zerolog.Nop())
		assert.ErrorContains(t, err, "only -up and -version")
	})

	t.Run("applies the schema", func(t *testing.T) {
		require.NoError(t, migrateSQLite(action{up: true, force: -1}, t.TempDir()+"/wf.db", zerolog.Nop()))
	})
}
