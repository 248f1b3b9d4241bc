package schemactl

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consulta-go/internal/config"
	"consulta-go/internal/schema"
)

func testOptions(t *testing.T, dir string) (Options, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	return Options{
		Stdout: &stdout,
		Stderr: &stderr,
		LoadConfig: func(string) (*config.Config, error) {
			app := config.DefaultAppConfig()
			app.SchemaDir = dir
			return &config.Config{App: app, Database: config.DefaultDatabaseConfig()}, nil
		},
	}, &stdout, &stderr
}

func TestListAndShow(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, schema.NewLoader(dir, nil).Save(schema.NewDescriptor("loja", schema.Default().Tables())))

	opts, stdout, stderr := testOptions(t, dir)
	require.Equal(t, 0, Run(context.Background(), []string{"list"}, opts), stderr.String())
	assert.Equal(t, "loja\n", stdout.String())

	stdout.Reset()
	require.Equal(t, 0, Run(context.Background(), []string{"show", "loja"}, opts), stderr.String())
	d, err := schema.Decode("loja", stdout.Bytes())
	require.NoError(t, err)
	assert.True(t, d.HasTable("pedidosvenda"))
}

func TestShowUnknown(t *testing.T) {
	opts, _, stderr := testOptions(t, t.TempDir())
	assert.Equal(t, 1, Run(context.Background(), []string{"show", "nada"}, opts))
	assert.Contains(t, stderr.String(), "error:")
}

func TestExportRequiresTarget(t *testing.T) {
	opts, _, stderr := testOptions(t, t.TempDir())

	assert.Equal(t, 1, Run(context.Background(), []string{"export"}, opts))
	assert.Contains(t, stderr.String(), "--tenant ou --all")

	stderr.Reset()
	assert.Equal(t, 1, Run(context.Background(), []string{"export", "--all"}, opts))
	assert.Contains(t, stderr.String(), "nenhum tenant configurado")

	stderr.Reset()
	assert.Equal(t, 1, Run(context.Background(), []string{"export", "--tenant", "fantasma"}, opts))
	assert.Contains(t, stderr.String(), "tenant fantasma")
}

func TestConfigError(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"list"}, Options{
		Stderr:     &stderr,
		LoadConfig: func(string) (*config.Config, error) { return nil, errors.New("JWT_SECRET curto") },
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "load config")
}

func TestUnknownCommand(t *testing.T) {
	opts, _, _ := testOptions(t, t.TempDir())
	assert.Equal(t, 1, Run(context.Background(), []string{"bogus"}, opts))
}
