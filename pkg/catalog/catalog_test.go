package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalogJSON = `{
	"version": 160302,
	"root": {
		"id": "Countries",
		"children": [
			{
				"id": "France",
				"name": "France",
				"children": [
					{"id": "France_Paris", "name": "Paris", "file": "France_Paris", "map_size": 100, "routing_size": 10},
					{"id": "France_Lyon", "name": "Lyon", "file": "France_Lyon", "map_size": 50, "routing_size": 5}
				]
			},
			{"id": "Andorra", "name": "Andorra", "map_size": 30, "routing_size": 3},
			{"id": "Disputed_Area", "name": "Disputed Area", "file": "Shared_Borders", "map_size": 7},
			{"id": "Disputed_Area_2", "name": "Disputed Area 2", "file": "Shared_Borders", "map_size": 7}
		]
	}
}`

func writeTestCatalog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func loadTestTree(t *testing.T) *Tree {
	t.Helper()
	tree, err := Load(context.Background(), writeTestCatalog(t, "countries.json", testCatalogJSON))
	require.NoError(t, err, "loading test catalog")
	return tree
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		content     string
		wantErr     bool
		errContains string
		check       func(t *testing.T, tree *Tree)
	}{
		{
			name:    "valid_json",
			file:    "countries.json",
			content: testCatalogJSON,
			check: func(t *testing.T, tree *Tree) {
				assert.Equal(t, int64(160302), tree.Version())
				assert.Equal(t, CountryID("Countries"), tree.Root())
				assert.Equal(t, 7, tree.Len())
			},
		},
		{
			name: "valid_yaml",
			file: "countries.yaml",
			content: `
version: 160302
root:
  id: Countries
  children:
    - id: Andorra
      map_size: 30
`,
			check: func(t *testing.T, tree *Tree) {
				assert.Equal(t, 2, tree.Len())
				c, err := tree.Country("Andorra")
				require.NoError(t, err)
				assert.Equal(t, int64(30), c.MapSize)
			},
		},
		{
			name:        "malformed_json",
			file:        "countries.json",
			content:     `{"version": 1, "root": `,
			wantErr:     true,
			errContains: "parsing catalog",
		},
		{
			name:        "missing_root",
			file:        "countries.json",
			content:     `{"version": 1}`,
			wantErr:     true,
			errContains: "no root node",
		},
		{
			name:        "missing_version",
			file:        "countries.json",
			content:     `{"root": {"id": "Countries"}}`,
			wantErr:     true,
			errContains: "version must be positive",
		},
		{
			name:        "duplicate_node_id",
			file:        "countries.json",
			content:     `{"version": 1, "root": {"id": "Countries", "children": [{"id": "A"}, {"id": "A"}]}}`,
			wantErr:     true,
			errContains: "duplicate catalog node id",
		},
		{
			name:        "empty_node_id",
			file:        "countries.json",
			content:     `{"version": 1, "root": {"id": "Countries", "children": [{"name": "nameless"}]}}`,
			wantErr:     true,
			errContains: "empty id",
		},
		{
			name:        "unsupported_extension",
			file:        "countries.toml",
			content:     `version = 1`,
			wantErr:     true,
			errContains: "no parser found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestCatalog(t, tt.file, tt.content)
			tree, err := Load(context.Background(), path)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, tree)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading catalog file")
}

func TestTreeLookups(t *testing.T) {
	tree := loadTestTree(t)

	t.Run("country_not_found", func(t *testing.T) {
		_, err := tree.Country("Atlantis")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, tree.Contains("Atlantis"))
	})

	t.Run("children", func(t *testing.T) {
		children, err := tree.Children("France")
		require.NoError(t, err)
		assert.Equal(t, []CountryID{"France_Paris", "France_Lyon"}, children)
	})

	t.Run("ancestors", func(t *testing.T) {
		assert.Equal(t, []CountryID{"France", "Countries"}, tree.Ancestors("France_Paris"))
		assert.Empty(t, tree.Ancestors("Countries"), "root has no ancestors")
	})

	t.Run("leaves_under", func(t *testing.T) {
		leaves, err := tree.LeavesUnder("Countries")
		require.NoError(t, err)
		assert.Equal(t, []CountryID{"France_Paris", "France_Lyon", "Andorra", "Disputed_Area", "Disputed_Area_2"}, leaves)

		leaves, err = tree.LeavesUnder("Andorra")
		require.NoError(t, err)
		assert.Equal(t, []CountryID{"Andorra"}, leaves, "a leaf returns itself")
	})

	t.Run("countries_count", func(t *testing.T) {
		assert.Equal(t, 5, tree.CountriesCount("Countries"))
		assert.Equal(t, 2, tree.CountriesCount("France"))
		assert.Equal(t, 0, tree.CountriesCount("Atlantis"))
	})

	t.Run("find_all_by_file", func(t *testing.T) {
		assert.Equal(t, []CountryID{"France_Paris"}, tree.FindAllByFile("France_Paris"))
		assert.Empty(t, tree.FindAllByFile("Atlantis"))

		// One physical file name can back several catalog entries.
		assert.Equal(t, []CountryID{"Disputed_Area", "Disputed_Area_2"}, tree.FindAllByFile("Shared_Borders"))
	})

	t.Run("group_and_country", func(t *testing.T) {
		group, country, err := tree.GroupAndCountry("France_Paris")
		require.NoError(t, err)
		assert.Equal(t, "France", group)
		assert.Equal(t, "Paris", country)

		group, country, err = tree.GroupAndCountry("Andorra")
		require.NoError(t, err)
		assert.Empty(t, group, "direct children of the root have no group")
		assert.Equal(t, "Andorra", country)
	})
}

func TestKind(t *testing.T) {
	assert.True(t, KindAll.Has(KindMap))
	assert.True(t, KindAll.Has(KindRouting))
	assert.False(t, KindMap.Has(KindRouting))

	assert.Equal(t, KindAll, KindMap.With(KindRouting))
	assert.Equal(t, KindMap, KindAll.Without(KindRouting))
	assert.Equal(t, 2, KindAll.Count())
	assert.Equal(t, []Kind{KindMap, KindRouting}, KindAll.Split())
	assert.Equal(t, KindMap, KindAll.First(), "map downloads before routing")

	assert.Equal(t, "map", KindMap.String())
	assert.Equal(t, "map+routing", KindAll.String())
	assert.Equal(t, "none", Kind(0).String())
}

func TestFilenames(t *testing.T) {
	assert.Equal(t, "Andorra.mwm", Filename("Andorra", KindMap))
	assert.Equal(t, "Andorra.mwm.routing", Filename("Andorra", KindRouting))

	base, kind, ok := ParseFilename("Andorra.mwm")
	require.True(t, ok)
	assert.Equal(t, "Andorra", base)
	assert.Equal(t, KindMap, kind)

	base, kind, ok = ParseFilename("Andorra.mwm.routing")
	require.True(t, ok)
	assert.Equal(t, "Andorra", base)
	assert.Equal(t, KindRouting, kind)

	_, _, ok = ParseFilename("notes.txt")
	assert.False(t, ok)
}

func TestCountrySize(t *testing.T) {
	tree := loadTestTree(t)
	c, err := tree.Country("France_Paris")
	require.NoError(t, err)

	assert.Equal(t, int64(100), c.Size(KindMap))
	assert.Equal(t, int64(10), c.Size(KindRouting))
	assert.Equal(t, int64(110), c.Size(KindAll))
	assert.True(t, c.IsLeaf())

	france, err := tree.Country("France")
	require.NoError(t, err)
	assert.False(t, france.IsLeaf())
}
