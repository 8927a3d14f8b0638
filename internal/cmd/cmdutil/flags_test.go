package cmdutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/syncledger/internal/cmd/application"
	"github.com/agentstation/syncledger/internal/cmd/table"
	"github.com/agentstation/syncledger/pkg/errors"
)

func TestReadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "items.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- name: a\n- name: b\n"), 0o600))

	items, err := ReadYAMLFile[[]struct {
		Name string `yaml:"name"`
	}](path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[1].Name)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("- [unclosed"), 0o600))
	_, err = ReadYAMLFile[[]string](bad)
	var pe *errors.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, bad, pe.File)

	_, err = ReadYAMLFile[[]string](filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestPrintRejectsUnknownFormat(t *testing.T) {
	cmd := &cobra.Command{}
	app := &application.Mock{OutputFormatFunc: func() string { return "xml" }}
	err := Print(cmd, app, 1, nil)
	assert.True(t, errors.IsValidationError(err))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	app := &application.Mock{OutputFormatFunc: func() string { return "table" }}
	require.NoError(t, Print(cmd, app, nil, func() table.Data {
		return table.KeyValue([2]string{"Deleted", "3"})
	}))
	assert.Contains(t, buf.String(), "Deleted")
}

func TestAddPageFlags(t *testing.T) {
	cmd := &cobra.Command{}
	flags := AddPageFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--limit", "5", "--offset", "10"}))
	assert.Equal(t, 5, flags.Limit)
	assert.Equal(t, 10, flags.Offset)
}
