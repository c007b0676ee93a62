package persistence

import (
	"NoteLedger/migrations"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, "000001", migrationVersion("000001_event_log.up.sql"))
	assert.Equal(t, "noversion", migrationVersion("noversion"))
}

func TestMigrator_PlanPairsFiles(t *testing.T) {
	src := fstest.MapFS{
		"000002_more.up.sql":        {Data: []byte("--")},
		"000001_event_log.up.sql":   {Data: []byte("--")},
		"000001_event_log.down.sql": {Data: []byte("--")},
		"000003_only_down.down.sql": {Data: []byte("--")},
		"README.md":                 {Data: []byte("#")},
		"000004_dir.up.sql/x":       {Data: []byte("--")},
	}

	plan, err := NewMigratorFS(nil, src, zerolog.Nop()).plan()
	require.NoError(t, err)

	assert.Equal(t, []migration{
		{version: "000001", up: "000001_event_log.up.sql", down: "000001_event_log.down.sql"},
		{version: "000002", up: "000002_more.up.sql"},
		{version: "000003", down: "000003_only_down.down.sql"},
	}, plan)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	plan, err := NewMigratorFS(nil, migrations.FS, zerolog.Nop()).plan()
	require.NoError(t, err)
	require.NotEmpty(t, plan)

	for _, mg := range plan {
		assert.NotEmpty(t, mg.up, "version %s has no up file", mg.version)
		assert.NotEmpty(t, mg.down, "version %s has no down file", mg.version)
	}
}
