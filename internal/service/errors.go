package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"consulta-go/internal/ai"
	"consulta-go/internal/database"
	"consulta-go/internal/schema"
)

// Kind classifies a failure for the user-facing message and retry policy.
type Kind string

const (
	KindSchemaNotFound        Kind = "schema_not_found"
	KindEncoding              Kind = "encoding_error"
	KindSQLValidation         Kind = "sql_validation_error"
	KindSQLInjectionSuspected Kind = "sql_injection_suspected"
	KindIntegrity             Kind = "integrity_error"
	KindDatabase              Kind = "database_error"
	KindUnknownDB             Kind = "unknown_db_error"
	KindSQLSyntax             Kind = "sql_syntax_error"
	KindColumnNotFound        Kind = "column_not_found"
	KindTableNotFound         Kind = "table_not_found"
	KindSQLExecution          Kind = "sql_execution_error"
	KindRateLimit             Kind = "rate_limit_error"
	KindTimeout               Kind = "timeout_error"
	KindLLM                   Kind = "llm_error"
	KindMCP                   Kind = "mcp_error"
	KindValidation            Kind = "validation_error"
	KindGeneric               Kind = "generic_error"
)

var (
	// ErrSchemaNotFound no descriptor exists for the tenant slug.
	ErrSchemaNotFound = schema.ErrSchemaNotFound
	// ErrTenantNotConfigured no database is configured for the tenant slug.
	ErrTenantNotConfigured = database.ErrTenantNotConfigured
	// ErrEmptyQuestion the request carried no question.
	ErrEmptyQuestion = errors.New("question is empty")
)

// QueryError is a classified pipeline failure.
type QueryError struct {
	Kind    Kind
	Message string
	// Details is technical text shown only when details are requested.
	Details     string
	Err         error
	Suggestions []string
	RetryAfter  time.Duration
	// Name is the failing integration for mcp_error.
	Name string
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// UserMessage renders the Portuguese text for the end user.
func (e *QueryError) UserMessage(includeDetails bool) string {
	var b strings.Builder
	b.WriteString(userMessage(e))
	if len(e.Suggestions) > 0 {
		b.WriteString("\n\n**Sugestões:**\n")
		b.WriteString(bullets(e.Suggestions))
	}
	if includeDetails && e.Details != "" {
		b.WriteString("\n\n**Detalhes técnicos:**\n```\n")
		b.WriteString(e.Details)
		b.WriteString("\n```")
	}
	return b.String()
}

func userMessage(e *QueryError) string {
	switch e.Kind {
	case KindSchemaNotFound:
		return e.Message
	case KindIntegrity:
		return "❌ **Erro:** Dados inconsistentes. Verifique as informações fornecidas."
	case KindDatabase:
		return "❌ **Erro:** Problema na consulta ao banco. Tente novamente em alguns instantes."
	case KindUnknownDB:
		return "❌ **Erro:** Problema inesperado no banco de dados."
	case KindValidation:
		return "❌ **Erro de validação:** " + e.Message
	case KindRateLimit:
		return "⏳ **Limite atingido:** Muitas consultas em pouco tempo. Aguarde alguns instantes e tente novamente."
	case KindTimeout:
		return "⏱️ **Timeout:** A consulta demorou muito para processar. Tente uma consulta mais simples."
	case KindLLM:
		return "🤖 **Erro do AI:** Problema no processamento da consulta. Reformule sua pergunta."
	case KindSQLSyntax:
		return "🔧 **Erro de sintaxe:** A consulta gerada tem problemas. Reformule sua pergunta de forma mais clara."
	case KindColumnNotFound:
		return "📋 **Campo inexistente:** Um dos campos mencionados não existe. Verifique os nomes utilizados."
	case KindTableNotFound:
		return "📊 **Tabela inexistente:** Uma das tabelas mencionadas não existe no banco."
	case KindSQLExecution:
		return "⚠️ **Erro na consulta:** Problema na execução da consulta SQL. Tente reformular."
	case KindMCP:
		name := e.Name
		if name == "" {
			name = "serviço externo"
		}
		return fmt.Sprintf("🔌 **Erro MCP:** Problema na integração com %s. Continuando sem essa funcionalidade.", name)
	case KindSQLValidation, KindEncoding, KindSQLInjectionSuspected:
		return e.Message
	default:
		return "❌ **Erro inesperado:** Algo deu errado. Tente novamente ou reformule sua consulta."
	}
}

// ShouldRetry reports whether the client may retry the same request.
func ShouldRetry(kind Kind) bool {
	switch kind {
	case KindRateLimit, KindTimeout, KindDatabase:
		return true
	}
	return false
}

// RetryDelay is how long the client should wait before retrying.
func RetryDelay(kind Kind) time.Duration {
	switch kind {
	case KindRateLimit:
		return 60 * time.Second
	case KindTimeout:
		return 10 * time.Second
	case KindDatabase:
		return 5 * time.Second
	}
	return 0
}

var kindSuggestions = map[Kind][]string{
	KindSQLSyntax: {
		"Tente usar termos mais simples",
		"Evite caracteres especiais",
		"Use 'total de vendas' em vez de 'vendas totais'",
		"Especifique o período: 'vendas de janeiro'",
	},
	KindColumnNotFound: {
		"Use 'cliente' ou 'comprador' para clientes",
		"Use 'produto' ou 'item' para produtos",
		"Use 'vendedor' ou 'representante' para vendedores",
		"Use 'total faturado' ou 'faturamento' para valores",
	},
	KindRateLimit: {
		"Aguarde alguns instantes antes de fazer nova consulta",
		"Tente uma consulta mais simples",
		"Divida consultas complexas em partes menores",
	},
}

// Suggestions returns rephrasing tips for a kind.
func Suggestions(kind Kind) []string {
	return append([]string(nil), kindSuggestions[kind]...)
}

var exampleQueries = []string{
	"Total faturado este mês",
	"Quantidade de pedidos hoje",
	"Vendas por cliente",
	"Produtos mais vendidos",
	"Faturamento por vendedor",
	"Pedidos cancelados",
	"Total de itens vendidos",
}

// ExampleQueries returns up to n questions known to work; n <= 0 returns all.
func ExampleQueries(n int) []string {
	if n <= 0 || n > len(exampleQueries) {
		n = len(exampleQueries)
	}
	return append([]string(nil), exampleQueries[:n]...)
}

// HTTPStatus maps a kind to a response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindSchemaNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindSQLValidation, KindEncoding, KindSQLInjectionSuspected:
		return http.StatusUnprocessableEntity
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindLLM, KindMCP:
		return http.StatusBadGateway
	case KindDatabase, KindUnknownDB:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func newQueryError(kind Kind, message string, err error) *QueryError {
	qe := &QueryError{Kind: kind, Message: message, Err: err, Suggestions: Suggestions(kind)}
	if err != nil {
		qe.Details = err.Error()
	}
	if ShouldRetry(kind) {
		qe.RetryAfter = RetryDelay(kind)
	}
	return qe
}

// SchemaNotFound builds the error for a tenant without a schema descriptor.
func SchemaNotFound(slug string, err error) *QueryError {
	return newQueryError(KindSchemaNotFound,
		fmt.Sprintf("❌ Não foi possível encontrar o schema do banco para o slug '%s'.", slug), err)
}

// NoValidSQL builds the hard error of the generation policy. The generator
// error is technical and only surfaces with details enabled.
func NoValidSQL(intentTag, llmError string, err error) *QueryError {
	msg := fmt.Sprintf("❌ **Erro crítico**: Não foi possível gerar SQL válido.\n\n**Tipo detectado**: %s\n\n**Sugestão**: Tente uma pergunta mais simples como 'quantos pedidos' ou 'total faturado'.",
		intentTag)
	qe := newQueryError(KindSQLValidation, msg, err)
	if llmError != "" {
		qe.Details = llmError
	}
	return qe
}

// MCPError builds the degraded-integration error.
func MCPError(name string, err error) *QueryError {
	qe := newQueryError(KindMCP, "integration failed", err)
	qe.Name = name
	return qe
}

var (
	columnMissingPattern = regexp.MustCompile(`column .* does not exist`)
	tableMissingPattern  = regexp.MustCompile(`(relation|table) .* does not exist`)
)

// ClassifyDBError maps a database error to a kind. SQLSTATE codes take
// precedence over the message text.
func ClassifyDBError(err error) *QueryError {
	if err == nil {
		return nil
	}
	if qe := classifyContext(err); qe != nil {
		return qe
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42601":
			return newQueryError(KindSQLSyntax, "syntax error", err)
		case pgErr.Code == "42703":
			return newQueryError(KindColumnNotFound, "undefined column", err)
		case pgErr.Code == "42P01":
			return newQueryError(KindTableNotFound, "undefined table", err)
		case strings.HasPrefix(pgErr.Code, "23"):
			return newQueryError(KindIntegrity, "integrity constraint violation", err)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"), strings.HasPrefix(pgErr.Code, "57"):
			return newQueryError(KindDatabase, "database unavailable", err)
		case strings.HasPrefix(pgErr.Code, "42"), strings.HasPrefix(pgErr.Code, "22"):
			return newQueryError(KindSQLExecution, "statement failed", err)
		}
		return newQueryError(KindUnknownDB, "database error", err)
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return newQueryError(KindDatabase, "connection failed", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax error"):
		return newQueryError(KindSQLSyntax, "syntax error", err)
	case columnMissingPattern.MatchString(msg):
		return newQueryError(KindColumnNotFound, "undefined column", err)
	case tableMissingPattern.MatchString(msg):
		return newQueryError(KindTableNotFound, "undefined table", err)
	case strings.Contains(msg, "connect") || strings.Contains(msg, "connection"):
		return newQueryError(KindDatabase, "connection failed", err)
	}
	return newQueryError(KindSQLExecution, "execution failed", err)
}

// ClassifyLLMError maps a model failure to a kind.
func ClassifyLLMError(err error) *QueryError {
	if err == nil {
		return nil
	}
	if qe := classifyContext(err); qe != nil {
		return qe
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return newQueryError(KindRateLimit, "model rate limited", err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return newQueryError(KindTimeout, "model timed out", err)
	}
	return newQueryError(KindLLM, "model call failed", err)
}

func classifyContext(err error) *QueryError {
	if errors.Is(err, context.DeadlineExceeded) {
		return newQueryError(KindTimeout, "deadline exceeded", err)
	}
	return nil
}

// Classify turns any pipeline error into a *QueryError.
func Classify(err error) *QueryError {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}
	if qe := classifyContext(err); qe != nil {
		return qe
	}
	if errors.Is(err, context.Canceled) {
		return newQueryError(KindTimeout, "request canceled", err)
	}
	if errors.Is(err, ErrEmptyQuestion) {
		return newQueryError(KindValidation, "a pergunta não pode ser vazia", err)
	}
	if errors.Is(err, ErrSchemaNotFound) {
		return newQueryError(KindSchemaNotFound, "❌ Não foi possível encontrar o schema do banco.", err)
	}
	if errors.Is(err, ErrTenantNotConfigured) {
		return newQueryError(KindDatabase, "tenant database not configured", err)
	}

	var verr *ai.ValidationError
	if errors.As(err, &verr) {
		switch {
		case verr.Injection():
			return newQueryError(KindSQLInjectionSuspected, "⚠️ **Consulta bloqueada:** A consulta gerada foi recusada pelas regras de segurança.", err)
		case verr.Encoding():
			return newQueryError(KindEncoding, "🔤 **Erro de codificação:** A consulta gerada contém caracteres inválidos.", err)
		}
		return newQueryError(KindSQLValidation, "⚠️ **Consulta inválida:** A consulta gerada não passou na validação.", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return ClassifyDBError(err)
	}
	return newQueryError(KindGeneric, "unexpected error", err)
}

func bullets(items []string) string {
	lines := make([]string, len(items))
	for i, s := range items {
		lines[i] = "• " + s
	}
	return strings.Join(lines, "\n")
}
