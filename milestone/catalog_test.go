package milestone

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogLoads(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)
	assert.NotEmpty(t, c.All())
	d, ok := c.Get("presence_7")
	require.True(t, ok)
	assert.Equal(t, 7, d.RequiredProgress)
}

func TestLoadCatalogFromFileSanitizesNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "milestones.yaml")
	body := `
milestones:
  - id: kind_3
    display_name: "<b>Kind</b> <script>alert(1)</script>streak"
    required_progress: 3
    reward_credits: 10
    category: kindness
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	d, ok := c.Get("kind_3")
	require.True(t, ok)
	assert.NotContains(t, d.DisplayName, "<")
	assert.Contains(t, d.DisplayName, "Kind")
}

func TestCatalogRejectsBadDefinitions(t *testing.T) {
	cases := map[string][]Definition{
		"no id":          {{RequiredProgress: 1, RewardCredits: 1}},
		"zero required":  {{ID: "a", RewardCredits: 1}},
		"zero reward":    {{ID: "a", RequiredProgress: 1}},
		"bad category":   {{ID: "a", RequiredProgress: 1, RewardCredits: 1, Category: "gratitude"}},
		"bad date":       {{ID: "a", RequiredProgress: 1, RewardCredits: 1, StartDate: "2024/01/01"}},
		"inverted range": {{ID: "a", RequiredProgress: 1, RewardCredits: 1, StartDate: "2024-02-01", EndDate: "2024-01-01"}},
		"duplicate":      {{ID: "a", RequiredProgress: 1, RewardCredits: 1}, {ID: "a", RequiredProgress: 2, RewardCredits: 1}},
	}
	for name, defs := range cases {
		_, err := NewCatalog(defs)
		assert.Error(t, err, name)
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
