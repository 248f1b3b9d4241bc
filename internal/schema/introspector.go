package schema

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"consulta-go/internal/lexicon"
)

// Querier is the subset of pgxpool.Pool used by the introspector.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// IntrospectorConfig introspection settings
type IntrospectorConfig struct {
	Timeout    time.Duration `json:"timeout"`
	SchemaName string        `json:"schema_name"`
	// Tables limits introspection to these tables; empty means the four sales tables.
	Tables []string `json:"tables"`
}

// DefaultIntrospectorConfig returns the default settings.
func DefaultIntrospectorConfig() *IntrospectorConfig {
	return &IntrospectorConfig{
		Timeout:    60 * time.Second,
		SchemaName: lexicon.DefaultSchemaName,
		Tables: []string{
			lexicon.TablePedidosVenda,
			lexicon.TableEntidades,
			lexicon.TableItensPedidoVenda,
			lexicon.TableProdutos,
		},
	}
}

// Introspector reads table metadata from information_schema.
type Introspector struct {
	db     Querier
	config *IntrospectorConfig
	logger *zap.Logger
}

// NewIntrospector creates an introspector over db.
func NewIntrospector(db Querier, config *IntrospectorConfig, logger *zap.Logger) *Introspector {
	if config == nil {
		config = DefaultIntrospectorConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Introspector{db: db, config: config, logger: logger}
}

const columnsQuery = `
SELECT
	c.table_name,
	c.column_name,
	c.data_type,
	c.is_nullable = 'YES' AS is_nullable,
	c.column_default,
	COALESCE(pk.is_pk, false) AS is_primary_key
FROM information_schema.columns c
LEFT JOIN (
	SELECT kcu.table_name, kcu.column_name, true AS is_pk
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
	WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1
) pk ON pk.table_name = c.table_name AND pk.column_name = c.column_name
WHERE c.table_schema = $1 AND c.table_name = ANY($2)
ORDER BY c.table_name, c.ordinal_position`

// Introspect builds a descriptor for slug from the live database.
func (i *Introspector) Introspect(ctx context.Context, slug string) (*Descriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, i.config.Timeout)
	defer cancel()

	start := time.Now()
	rows, err := i.db.Query(ctx, columnsQuery, i.config.SchemaName, i.config.Tables)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	tables := make(map[string]*Table)
	for rows.Next() {
		var (
			tableName string
			col       Column
		)
		if err := rows.Scan(&tableName, &col.Name, &col.Type, &col.Nullable, &col.Default, &col.IsPrimaryKey); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		key := strings.ToLower(tableName)
		t, ok := tables[key]
		if !ok {
			t = &Table{}
			tables[key] = t
		}
		t.Columns = append(t.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: no tables in schema %s", ErrSchemaNotFound, i.config.SchemaName)
	}

	i.logger.Info("schema introspected",
		zap.String("slug", slug),
		zap.Int("tables", len(tables)),
		zap.Duration("duration", time.Since(start)))

	return NewDescriptor(slug, tables), nil
}
