package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDefaultDescriptor(t *testing.T) {
	d := Default()

	assert.Equal(t, []string{"entidades", "itenspedidovenda", "pedidosvenda", "produtos"}, d.TableNames())
	assert.True(t, d.HasTable("public.pedidosvenda"))
	assert.True(t, d.HasTable("PEDIDOSVENDA"))
	assert.False(t, d.HasTable("usuarios"))

	pv, ok := d.Table("pedidosvenda")
	require.True(t, ok)
	assert.True(t, pv.HasColumn("PEDI_TOTA"))
	assert.False(t, pv.HasColumn("enti_nome"))
	assert.Equal(t, "pedi_empr", pv.TenantColumn())

	assert.Equal(t, map[string]string{
		"entidades":        "enti_empr",
		"itenspedidovenda": "iped_empr",
		"pedidosvenda":     "pedi_empr",
		"produtos":         "prod_empr",
	}, d.TenantColumns())
}

func TestLoader_SaveLoadList(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir, zaptest.NewLogger(t))

	d := Default()
	d.Slug = "t1"
	require.NoError(t, loader.Save(d))

	_, err := os.Stat(filepath.Join(dir, "t1.json"))
	require.NoError(t, err)

	// a fresh loader reads the file back
	other := NewLoader(dir, nil)
	loaded, err := other.Load("t1")
	require.NoError(t, err)
	assert.Equal(t, d.TableNames(), loaded.TableNames())
	assert.Equal(t, "t1", loaded.Slug)

	other.Register("embutido", Default())
	slugs, err := other.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"embutido", "t1"}, slugs)
}

func TestLoader_NotFound(t *testing.T) {
	loader := NewLoader(t.TempDir(), nil)

	_, err := loader.Load("inexistente")
	assert.ErrorIs(t, err, ErrSchemaNotFound)

	_, err = loader.Load("../etc/passwd")
	assert.ErrorIs(t, err, ErrSchemaNotFound)

	empty := NewLoader("", nil)
	_, err = empty.Load("t1")
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestLoader_Invalidate(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir, nil)
	loader.Register("t1", Default())

	loader.Invalidate("t1")
	_, err := loader.Load("t1")
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestDecode(t *testing.T) {
	data := []byte(`{
		"pedidosvenda": {"columns": [
			{"name": "pedi_empr", "type": "integer", "nullable": false, "default": null, "is_primary_key": true},
			{"name": "pedi_tota", "type": "numeric", "nullable": true, "default": "0", "is_primary_key": false}
		]}
	}`)

	d, err := Decode("t2", data)
	require.NoError(t, err)
	pv, ok := d.Table("pedidosvenda")
	require.True(t, ok)
	assert.Equal(t, "pedi_empr", pv.TenantColumn())
	require.NotNil(t, pv.Columns[1].Default)
	assert.Equal(t, "0", *pv.Columns[1].Default)

	_, err = Decode("t2", []byte(`{}`))
	assert.Error(t, err)

	_, err = Decode("t2", []byte(`{"x": {"columns": []}}`))
	assert.Error(t, err)

	_, err = Decode("t2", []byte(`not json`))
	assert.Error(t, err)
}
