package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"consulta-go/internal/database"
)

// ConnectionSource lends connections from tenant pools.
type ConnectionSource interface {
	Acquire(ctx context.Context, tenant string) (database.Conn, error)
}

// SQLExecutorConfig executor limits
type SQLExecutorConfig struct {
	QueryTimeout time.Duration `json:"query_timeout"`
	MaxRows      int           `json:"max_rows"`
}

// DefaultSQLExecutorConfig returns a 30 second timeout and 1000 rows.
func DefaultSQLExecutorConfig() *SQLExecutorConfig {
	return &SQLExecutorConfig{
		QueryTimeout: 30 * time.Second,
		MaxRows:      1000,
	}
}

// QueryResult rows of one execution.
type QueryResult struct {
	Columns       []string         `json:"columns"`
	Rows          []map[string]any `json:"rows"`
	RowCount      int              `json:"row_count"`
	ExecutionTime time.Duration    `json:"execution_time"`
	Truncated     bool             `json:"truncated,omitempty"`
}

// SQLExecutor runs accepted SQL on a connection borrowed for the duration
// of one query.
type SQLExecutor struct {
	source ConnectionSource
	config *SQLExecutorConfig
	logger *zap.Logger
}

// NewSQLExecutor creates an executor.
func NewSQLExecutor(source ConnectionSource, config *SQLExecutorConfig, logger *zap.Logger) *SQLExecutor {
	if config == nil {
		config = DefaultSQLExecutorConfig()
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 30 * time.Second
	}
	if config.MaxRows <= 0 {
		config.MaxRows = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLExecutor{source: source, config: config, logger: logger}
}

// Execute runs sql on the tenant database. The connection is released on
// every path.
func (e *SQLExecutor) Execute(ctx context.Context, tenant, sql string) (*QueryResult, error) {
	start := time.Now()

	queryCtx, cancel := context.WithTimeout(ctx, e.config.QueryTimeout)
	defer cancel()

	conn, err := e.source.Acquire(queryCtx, tenant)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	result, err := e.run(queryCtx, conn, sql)
	if err != nil {
		if errors.Is(queryCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		e.logger.Error("SQL execution failed",
			zap.String("tenant", tenant),
			zap.String("sql", sql),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	}
	result.ExecutionTime = time.Since(start)

	e.logger.Info("SQL executed",
		zap.String("tenant", tenant),
		zap.Int("row_count", result.RowCount),
		zap.Bool("truncated", result.Truncated),
		zap.Duration("elapsed", result.ExecutionTime))
	return result, nil
}

func (e *SQLExecutor) run(ctx context.Context, conn database.Conn, sql string) (*QueryResult, error) {
	rows, err := conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &QueryResult{
		Columns: make([]string, len(fields)),
		Rows:    []map[string]any{},
	}
	for i, f := range fields {
		result.Columns[i] = f.Name
	}

	for rows.Next() {
		if result.RowCount >= e.config.MaxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]any, len(values))
		for i, v := range values {
			if i < len(result.Columns) {
				row[result.Columns[i]] = convertValue(v)
			}
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// convertValue turns driver values into JSON friendly ones.
func convertValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		return v.Format(time.RFC3339)
	case []byte:
		return base64.StdEncoding.EncodeToString(v)
	case [16]byte:
		return uuid.UUID(v).String()
	case pgtype.Numeric:
		if !v.Valid || v.NaN {
			return nil
		}
		if v.Exp >= 0 && v.Int != nil {
			n := new(big.Int).Mul(v.Int, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(v.Exp)), nil))
			if n.IsInt64() {
				return n.Int64()
			}
		}
		f, err := v.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case pgtype.Interval:
		if !v.Valid {
			return nil
		}
		return (time.Duration(v.Microseconds)*time.Microsecond + time.Duration(v.Days)*24*time.Hour).String()
	default:
		return v
	}
}
