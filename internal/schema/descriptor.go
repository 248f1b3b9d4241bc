// Package schema describes the tables and columns a tenant database exposes.
package schema

import (
	"sort"
	"strings"

	"consulta-go/internal/lexicon"
)

// Column one column of a table.
type Column struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Nullable     bool    `json:"nullable"`
	Default      *string `json:"default"`
	IsPrimaryKey bool    `json:"is_primary_key"`
}

// Table table metadata.
type Table struct {
	Name    string   `json:"-"`
	Columns []Column `json:"columns"`

	columnSet map[string]struct{}
}

// HasColumn reports whether the table has the column, case-insensitively.
func (t *Table) HasColumn(name string) bool {
	if t.columnSet == nil {
		t.index()
	}
	_, ok := t.columnSet[strings.ToLower(name)]
	return ok
}

// TenantColumn returns the first column ending in the tenant suffix.
func (t *Table) TenantColumn() string {
	for _, c := range t.Columns {
		if strings.HasSuffix(strings.ToLower(c.Name), lexicon.TenantSuffix) {
			return strings.ToLower(c.Name)
		}
	}
	return ""
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (t *Table) index() {
	t.columnSet = make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		t.columnSet[strings.ToLower(c.Name)] = struct{}{}
	}
}

// Descriptor maps table names to their metadata. It is read-only once built.
type Descriptor struct {
	Slug   string
	tables map[string]*Table
}

// NewDescriptor builds a descriptor from tables keyed by name.
func NewDescriptor(slug string, tables map[string]*Table) *Descriptor {
	d := &Descriptor{Slug: slug, tables: make(map[string]*Table, len(tables))}
	for name, t := range tables {
		key := strings.ToLower(name)
		t.Name = key
		t.index()
		d.tables[key] = t
	}
	return d
}

// Table looks a table up by bare or schema-qualified name.
func (d *Descriptor) Table(name string) (*Table, bool) {
	key := strings.ToLower(name)
	key = strings.TrimPrefix(key, lexicon.DefaultSchemaName+".")
	t, ok := d.tables[key]
	return t, ok
}

// HasTable reports whether name, bare or qualified, is a known table.
func (d *Descriptor) HasTable(name string) bool {
	_, ok := d.Table(name)
	return ok
}

// TableNames returns the sorted table names.
func (d *Descriptor) TableNames() []string {
	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TenantColumns maps each table to its tenant column.
func (d *Descriptor) TenantColumns() map[string]string {
	out := make(map[string]string, len(d.tables))
	for name, t := range d.tables {
		if col := t.TenantColumn(); col != "" {
			out[name] = col
		}
	}
	return out
}

// Tables returns the tables keyed by name, used for JSON export.
func (d *Descriptor) Tables() map[string]*Table {
	return d.tables
}

// columns builds a column list; the first pk names form the primary key.
func columns(types map[string]string, pk int, order ...string) []Column {
	cols := make([]Column, 0, len(order))
	for i, name := range order {
		cols = append(cols, Column{
			Name:         name,
			Type:         types[name],
			Nullable:     i >= pk,
			IsPrimaryKey: i < pk,
		})
	}
	return cols
}

// Default returns the built-in descriptor of the sales schema family.
func Default() *Descriptor {
	integer := "integer"
	text := "character varying"
	numeric := "numeric"
	date := "date"
	boolean := "boolean"

	return NewDescriptor("default", map[string]*Table{
		lexicon.TablePedidosVenda: {Columns: columns(map[string]string{
			"pedi_empr": integer, "pedi_fili": integer, "pedi_nume": integer, "pedi_forn": text,
			"pedi_data": date, "pedi_tota": numeric, "pedi_canc": boolean, "pedi_fina": text,
			"pedi_vend": text, "pedi_stat": text, "pedi_obse": text,
		}, 3, "pedi_empr", "pedi_fili", "pedi_nume", "pedi_forn", "pedi_data", "pedi_tota",
			"pedi_canc", "pedi_fina", "pedi_vend", "pedi_stat", "pedi_obse")},
		lexicon.TableEntidades: {Columns: columns(map[string]string{
			"enti_empr": integer, "enti_clie": text, "enti_nome": text, "enti_tipo_enti": text,
			"enti_fant": text, "enti_cpf": text, "enti_cnpj": text, "enti_insc_esta": text,
			"enti_cep": text, "enti_ende": text, "enti_nume": text, "enti_cida": text,
			"enti_esta": text, "enti_fone": text, "enti_celu": text, "enti_emai": text,
		}, 2, "enti_empr", "enti_clie", "enti_nome", "enti_tipo_enti", "enti_fant", "enti_cpf",
			"enti_cnpj", "enti_insc_esta", "enti_cep", "enti_ende", "enti_nume", "enti_cida",
			"enti_esta", "enti_fone", "enti_celu", "enti_emai")},
		lexicon.TableItensPedidoVenda: {Columns: columns(map[string]string{
			"iped_empr": integer, "iped_fili": integer, "iped_pedi": integer, "iped_item": integer,
			"iped_prod": text, "iped_quan": numeric, "iped_unit": numeric, "iped_suto": numeric,
			"iped_tota": numeric, "iped_fret": numeric, "iped_desc": numeric, "iped_unli": numeric,
			"iped_forn": text, "iped_vend": text, "iped_cust": numeric, "iped_tipo": text,
			"iped_desc_item": boolean, "iped_perc_desc": numeric, "iped_unme": text, "iped_data": date,
		}, 4, "iped_empr", "iped_fili", "iped_pedi", "iped_item", "iped_prod", "iped_quan",
			"iped_unit", "iped_suto", "iped_tota", "iped_fret", "iped_desc", "iped_unli",
			"iped_forn", "iped_vend", "iped_cust", "iped_tipo", "iped_desc_item",
			"iped_perc_desc", "iped_unme", "iped_data")},
		lexicon.TableProdutos: {Columns: columns(map[string]string{
			"prod_empr": integer, "prod_codi": text, "prod_nome": text, "prod_unme": text,
			"prod_grup": text, "prod_sugr": text, "prod_fami": text, "prod_loca": text,
			"prod_ncm": text, "prod_marc": text, "prod_coba": text, "prod_foto": text,
		}, 2, "prod_empr", "prod_codi", "prod_nome", "prod_unme", "prod_grup", "prod_sugr",
			"prod_fami", "prod_loca", "prod_ncm", "prod_marc", "prod_coba", "prod_foto")},
	})
}
