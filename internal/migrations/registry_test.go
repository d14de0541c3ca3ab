package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	ms := reg.Migrations()
	require.Len(t, ms, 3)
	require.Equal(t, "001", ms[0].Version)
	require.Equal(t, "create_agent_reports_table", ms[0].Name)
	require.Contains(t, ms[0].UpSQL, "CREATE TABLE IF NOT EXISTS agent_reports")
	require.Contains(t, ms[0].UpSQL, "update_agent_reports_updated_at")
	require.Contains(t, ms[0].DownSQL, "DROP TABLE IF EXISTS agent_reports")
	require.Equal(t, "002", ms[1].Version)
	require.Equal(t, historyMigration, ms[1].Name)
	require.Equal(t, "remove_final_decision_column", ms[2].Name)
	require.Equal(t, "003", reg.Latest())

	m, ok := reg.Get("002")
	require.True(t, ok)
	require.Contains(t, m.UpSQL, "CREATE TABLE IF NOT EXISTS migration_history")
	_, ok = reg.Get("999")
	require.False(t, ok)
}

func TestDefaultRegistryChecksumsMatchRecordedHistory(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	want := map[string]string{
		"001": "ea1d3710bf2aa15286b62986f0711a4d8a95401fbc934ab69b73ed991c62bce7",
		"002": "74f712bfda899db98bbf1579e4b1b3d49c6ea964996095e3de5c8f859b71a30a",
		"003": "8915d22a16b00df8d92fc354d5af591d5f0e45498c4df4fb3fe38562430ecd26",
	}
	for _, m := range reg.Migrations() {
		require.Equal(t, want[m.Version], m.Checksum(), "migration %s", m.Version)
	}

	m, _ := reg.Get("003")
	require.Equal(t, "ALTER TABLE agent_reports DROP COLUMN IF EXISTS final_decision;", m.UpSQL)
	require.Equal(t, "ALTER TABLE agent_reports ADD COLUMN final_decision TEXT;", m.DownSQL)
}

func TestChecksum(t *testing.T) {
	m := Migration{Version: "001", Name: "init", UpSQL: "CREATE TABLE t (id int);", DownSQL: "DROP TABLE t;"}
	sum := m.Checksum()
	require.Len(t, sum, 64)
	require.Equal(t, sum, m.Checksum())

	drifted := m
	drifted.UpSQL = "CREATE TABLE t (id bigint);"
	require.NotEqual(t, sum, drifted.Checksum())
	renamed := m
	renamed.Name = "init2"
	require.NotEqual(t, sum, renamed.Checksum())
}

func TestNewRegistrySortsAndRejectsDuplicates(t *testing.T) {
	reg, err := NewRegistry(
		Migration{Version: "002", Name: "b"},
		Migration{Version: "001", Name: "a"},
	)
	require.NoError(t, err)
	require.Equal(t, "001", reg.Migrations()[0].Version)

	_, err = NewRegistry(Migration{Version: "001", Name: "a"}, Migration{Version: "001", Name: "b"})
	require.Error(t, err)
	_, err = NewRegistry(Migration{Version: "", Name: "a"})
	require.Error(t, err)

	empty, err := NewRegistry()
	require.NoError(t, err)
	require.Empty(t, empty.Latest())
}

func TestLoadWithoutDownFile(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_first.up.sql":   {Data: []byte("CREATE TABLE a (id int);")},
		"m/001_first.down.sql": {Data: []byte("DROP TABLE a;")},
		"m/002_second.up.sql":  {Data: []byte("CREATE INDEX ia ON a(id);")},
	}
	reg, err := Load(fsys, "m")
	require.NoError(t, err)
	ms := reg.Migrations()
	require.Len(t, ms, 2)
	require.Equal(t, "second", ms[1].Name)
	require.Empty(t, ms[1].DownSQL)
	require.Equal(t, "DROP TABLE a;", ms[0].DownSQL)
}
