package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func schemaFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys["sql/migrations/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestLoadSchemaSteps_OrdersByVersionAndChecksumsUp(t *testing.T) {
	plan, err := loadSchemaSteps(schemaFS(map[string]string{
		"0002_orders.up.sql":   "CREATE TABLE orders (id BIGINT);",
		"0002_orders.down.sql": "DROP TABLE orders;",
		"0001_geo.up.sql":      "CREATE TABLE cities (id BIGINT);",
		"0001_geo.down.sql":    "DROP TABLE cities;",
	}))
	require.NoError(t, err)
	require.Len(t, plan, 2)
	require.Equal(t, "0001_geo", plan[0].String())
	require.Equal(t, "0002_orders", plan[1].String())
	require.Len(t, plan[0].Checksum, 64)
	require.NotEqual(t, plan[0].Checksum, plan[1].Checksum)

	again, err := loadSchemaSteps(schemaFS(map[string]string{
		"0001_geo.up.sql":   "CREATE TABLE cities (id BIGINT);",
		"0001_geo.down.sql": "DROP TABLE cities CASCADE;",
	}))
	require.NoError(t, err)
	require.Equal(t, plan[0].Checksum, again[0].Checksum, "only the up file is checksummed")
}

func TestLoadSchemaSteps_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"missing down": {"0001_geo.up.sql": "SELECT 1;"},
		"bad name":     {"geo.sql": "SELECT 1;"},
		"upper case":   {"0001_Geo.up.sql": "SELECT 1;", "0001_Geo.down.sql": "SELECT 1;"},
		"empty body":   {"0001_geo.up.sql": "  \n", "0001_geo.down.sql": "SELECT 1;"},
		"two names":    {"0001_geo.up.sql": "SELECT 1;", "0001_cities.down.sql": "SELECT 1;"},
		"no files":     {},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadSchemaSteps(schemaFS(files))
			require.Error(t, err)
		})
	}
}

func TestLoadSchemaSteps_EmbeddedSchema(t *testing.T) {
	plan, err := loadSchemaSteps(schemaFiles)
	require.NoError(t, err)
	require.Len(t, plan, latestSchemaVersion)
	for i, step := range plan {
		require.EqualValues(t, i+1, step.Version)
	}
}

func TestVerifyApplied(t *testing.T) {
	plan := []schemaStep{{Version: 1, Name: "geo", Checksum: "a"}, {Version: 2, Name: "catalog", Checksum: "b"}}

	require.NoError(t, verifyApplied(plan, map[int64]string{1: "a"}))
	require.NoError(t, verifyApplied(plan, map[int64]string{1: "a", 7: "unknown"}))
	require.ErrorIs(t, verifyApplied(plan, map[int64]string{1: "a", 2: "edited"}), ErrSchemaDrift)
}
