package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand(viper.New())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRoutinesCommand_ListsBuiltins(t *testing.T) {
	out, err := run(t, "routines")
	require.NoError(t, err)

	assert.Contains(t, out, "geo_grid")
	assert.Contains(t, out, "json_api")
	assert.Contains(t, out, "html_list")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "scraparr version")
}

func TestMigrateCommand_RejectsDirection(t *testing.T) {
	_, err := run(t, "migrate", "sideways")
	require.Error(t, err)

	_, err = run(t, "migrate")
	require.Error(t, err)
}

func TestRenderStats(t *testing.T) {
	root := NewRootCommand(viper.New())
	var out bytes.Buffer
	root.SetOut(&out)

	id := int64(3)
	renderStats(root, &id, &domain.ExecutionStats{
		TotalExecutions:      4,
		SuccessfulExecutions: 3,
		FailedExecutions:     1,
		TotalItems:           120,
		AverageItems:         30,
		SuccessRate:          0.75,
	})

	assert.Contains(t, out.String(), "scraper 3")
	assert.Contains(t, out.String(), "75.0%")
	assert.Contains(t, out.String(), "120")
}

func TestDebugFlagBindsToViper(t *testing.T) {
	v := viper.New()
	root := NewRootCommand(v)
	root.SetArgs([]string{"--debug", "--config", "/tmp/x.yml", "version"})
	root.SetOut(&bytes.Buffer{})
	require.NoError(t, root.Execute())

	assert.True(t, v.GetBool("debug"))
	assert.Equal(t, "/tmp/x.yml", v.GetString("config"))
}
