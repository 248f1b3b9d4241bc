package ai

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"consulta-go/internal/lexicon"
	"consulta-go/internal/schema"
)

// Category groups the issues of a validation report.
type Category string

const (
	CategoryEncoding  Category = "encoding"
	CategoryInjection Category = "injection"
	CategoryTables    Category = "tables"
	CategoryFields    Category = "fields"
)

var categoryOrder = []Category{CategoryEncoding, CategoryInjection, CategoryTables, CategoryFields}

// ValidationReport is the outcome of the four validation stages.
type ValidationReport struct {
	Valid  bool                  `json:"valid"`
	Issues map[Category][]string `json:"issues"`
}

// Summary joins the issues as "Category: issue; ...".
func (r *ValidationReport) Summary() string {
	var parts []string
	for _, c := range categoryOrder {
		for _, issue := range r.Issues[c] {
			name := string(c)
			parts = append(parts, fmt.Sprintf("%s: %s", strings.ToUpper(name[:1])+name[1:], issue))
		}
	}
	return strings.Join(parts, "; ")
}

// Stages reported by ValidationError.
const (
	StageEmpty     = "empty"
	StageSelect    = "select"
	StageSecurity  = "security"
	StageTenant    = "tenant"
	StageBusiness  = "business"
	StageSyntax    = "syntax"
	StageStructure = "structure"
	StageBasic     = "basic"
)

// ValidationError rejects a SQL candidate.
type ValidationError struct {
	Stage   string            `json:"stage"`
	Message string            `json:"message"`
	Report  *ValidationReport `json:"report,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// Injection reports whether the candidate was rejected for dangerous content.
func (e *ValidationError) Injection() bool {
	return e.Report != nil && len(e.Report.Issues[CategoryInjection]) > 0
}

// Encoding reports whether the candidate was rejected as corrupted text.
func (e *ValidationError) Encoding() bool {
	return e.Report != nil && len(e.Report.Issues[CategoryEncoding]) > 0
}

var (
	dangerousWords = []string{
		"drop", "delete", "truncate", "alter", "create", "insert", "update",
		"exec", "execute", "union", "script", "javascript", "vbscript", "onload", "onerror",
	}
	dangerousPrefixes = []string{"sp_", "xp_"}
	dangerousSymbols  = []string{"--", "/*", "*/", ";--"}

	accentRun       = regexp.MustCompile(`[úóáéíàèìòù]{3,}`)
	encodingWord    = regexp.MustCompile(wordChar + `+`)
	lineComment     = regexp.MustCompile(`(?m)--.*$`)
	extractFrom     = regexp.MustCompile(`(?i)EXTRACT\s*\(\s*\w+\s+FROM\b`)
	qualifiedField  = regexp.MustCompile(`\b([a-zA-Z0-9_]+)\.([a-zA-Z0-9_]+)\b`)
	selectFromShape = regexp.MustCompile(`(?is)select\s+.+\s+from\s+`)
	countCall       = regexp.MustCompile(`(?i)\bcount\s*\(`)
	sumCall         = regexp.MustCompile(`(?i)\bsum\s*\(`)
	groupByClause   = regexp.MustCompile(`(?i)\bgroup\s+by\b`)
	tableReferences = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bFROM\s+([a-zA-Z0-9_.]+)`),
		regexp.MustCompile(`(?i)\bJOIN\s+([a-zA-Z0-9_.]+)`),
		regexp.MustCompile(`(?i)\bUPDATE\s+([a-zA-Z0-9_.]+)`),
		regexp.MustCompile(`(?i)\bINSERT\s+INTO\s+([a-zA-Z0-9_.]+)`),
	}
)

type keywordPattern struct {
	name string
	re   *regexp.Regexp
}

// SQLValidator checks SQL candidates against security rules and a schema
// descriptor. It holds no mutable state.
type SQLValidator struct {
	schema    *schema.Descriptor
	keywords  []keywordPattern
	allowList map[string]struct{}
}

// NewSQLValidator builds a validator for the descriptor.
func NewSQLValidator(d *schema.Descriptor) *SQLValidator {
	v := &SQLValidator{
		schema:    d,
		allowList: map[string]struct{}{lexicon.DefaultSchemaName: {}},
	}
	for _, w := range dangerousWords {
		// word boundaries keep created_at or updated_by legal
		v.keywords = append(v.keywords, keywordPattern{w, regexp.MustCompile(`(?i)\b` + w + `\b`)})
	}
	for _, p := range dangerousPrefixes {
		v.keywords = append(v.keywords, keywordPattern{p, regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(p))})
	}
	for _, set := range lexicon.TableKeywordSets {
		v.allowList[set.Table] = struct{}{}
	}
	for _, name := range d.TableNames() {
		v.allowList[name] = struct{}{}
	}
	return v
}

// Validate runs the encoding, injection, table and field stages. A failed
// encoding stage stops the run.
func (v *SQLValidator) Validate(sql string) *ValidationReport {
	issues := make(map[Category][]string)

	if enc := checkEncoding(sql); len(enc) > 0 {
		issues[CategoryEncoding] = enc
		return &ValidationReport{Valid: false, Issues: issues}
	}
	if inj := v.checkInjection(sql); len(inj) > 0 {
		issues[CategoryInjection] = inj
	}
	if tables := v.checkTables(sql); len(tables) > 0 {
		issues[CategoryTables] = tables
	}
	if fields := v.checkFields(sql); len(fields) > 0 {
		issues[CategoryFields] = fields
	}
	return &ValidationReport{Valid: len(issues) == 0, Issues: issues}
}

func checkEncoding(sql string) []string {
	var problems []string

	seen := make(map[rune]struct{})
	var invalid []string
	for _, r := range sql {
		if r > unicode.MaxASCII && !unicode.IsSpace(r) {
			if _, ok := seen[r]; !ok && len(invalid) < 10 {
				seen[r] = struct{}{}
				invalid = append(invalid, string(r))
			}
		}
	}
	if len(invalid) > 0 {
		problems = append(problems, fmt.Sprintf("caracteres inválidos detectados: %v", invalid))
	}

	if accentRun.MatchString(sql) {
		problems = append(problems, "sequências suspeitas de caracteres acentuados detectadas")
	}

	var corrupted []string
	for _, word := range encodingWord.FindAllString(sql, -1) {
		n := utf8.RuneCountInString(word)
		if n <= 3 {
			continue
		}
		nonASCII := 0
		for _, r := range word {
			if r > unicode.MaxASCII {
				nonASCII++
			}
		}
		if float64(nonASCII) > float64(n)*0.5 && len(corrupted) < 5 {
			corrupted = append(corrupted, word)
		}
	}
	if len(corrupted) > 0 {
		problems = append(problems, fmt.Sprintf("palavras corrompidas detectadas: %v", corrupted))
	}
	return problems
}

func (v *SQLValidator) checkInjection(sql string) []string {
	var problems []string
	for _, kw := range v.keywords {
		if kw.re.MatchString(sql) {
			problems = append(problems, "palavra perigosa detectada: "+kw.name)
		}
	}
	for _, s := range dangerousSymbols {
		if strings.Contains(sql, s) {
			problems = append(problems, "palavra perigosa detectada: "+s)
		}
	}

	if strings.Count(sql, ";") > 1 {
		problems = append(problems, "múltiplas declarações SQL detectadas")
	} else if idx := strings.Index(sql, ";"); idx >= 0 && strings.TrimSpace(sql[idx+1:]) != "" {
		problems = append(problems, "conteúdo após o terminador de declaração")
	}

	if lineComment.MatchString(sql) {
		problems = append(problems, "comentários SQL suspeitos detectados")
	}
	return problems
}

// tableCandidates extracts identifiers after FROM, JOIN, UPDATE and INSERT
// INTO, ignoring EXTRACT(field FROM column). Only schema-qualified or known
// names count.
func (v *SQLValidator) tableCandidates(sql string) []string {
	stripped := extractFrom.ReplaceAllString(sql, "EXTRACT(")

	found := make(map[string]struct{})
	for _, re := range tableReferences {
		for _, m := range re.FindAllStringSubmatch(stripped, -1) {
			name := strings.ToLower(strings.TrimSpace(m[1]))
			if _, ok := v.allowList[name]; ok || strings.Contains(name, ".") {
				found[name] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(found))
	for name := range found {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (v *SQLValidator) checkTables(sql string) []string {
	var invalid []string
	for _, name := range v.tableCandidates(sql) {
		if !v.schema.HasTable(name) {
			invalid = append(invalid, name)
		}
	}
	return invalid
}

func (v *SQLValidator) checkFields(sql string) []string {
	var invalid []string
	for _, m := range qualifiedField.FindAllStringSubmatch(sql, -1) {
		alias, column := strings.ToLower(m[1]), strings.ToLower(m[2])
		table := alias
		if t, ok := lexicon.TableAliases[alias]; ok {
			table = t
		}
		t, ok := v.schema.Table(table)
		if !ok {
			// unmapped alias
			continue
		}
		if !t.HasColumn(column) {
			invalid = append(invalid, m[0])
		}
	}
	return invalid
}

// ReferencedTables returns the descriptor tables the SQL reads from.
func (v *SQLValidator) ReferencedTables(sql string) []*schema.Table {
	var tables []*schema.Table
	for _, name := range v.tableCandidates(sql) {
		if t, ok := v.schema.Table(name); ok {
			tables = append(tables, t)
		}
	}
	return tables
}

// ValidateStrict is the gate for model-generated SQL: the four-stage report,
// the tenant filter of every referenced table, business rules for the
// intent, balanced delimiters and a SELECT ... FROM shape.
func (v *SQLValidator) ValidateStrict(sql string, intent Intent) error {
	lower := strings.ToLower(strings.TrimSpace(sql))
	if lower == "" {
		return &ValidationError{Stage: StageEmpty, Message: "SQL vazio gerado"}
	}
	if !strings.HasPrefix(lower, "select") {
		return &ValidationError{Stage: StageSelect, Message: "SQL deve começar com SELECT"}
	}

	if report := v.Validate(sql); !report.Valid {
		return &ValidationError{
			Stage:   StageSecurity,
			Message: "problemas de segurança detectados: " + report.Summary(),
			Report:  report,
		}
	}

	if err := v.checkTenantFilter(lower); err != nil {
		return err
	}
	if err := checkBusinessRules(sql, intent); err != nil {
		return err
	}
	if err := checkDelimiters(sql); err != nil {
		return err
	}
	if !selectFromShape.MatchString(lower) {
		return &ValidationError{Stage: StageStructure, Message: "SQL deve ter estrutura SELECT ... FROM ..."}
	}
	return nil
}

func (v *SQLValidator) checkTenantFilter(lower string) error {
	tables := v.ReferencedTables(lower)
	if len(tables) == 0 {
		if !strings.Contains(lower, lexicon.TenantSuffix) {
			return &ValidationError{Stage: StageTenant, Message: "SQL deve incluir filtro de empresa"}
		}
		return nil
	}
	for _, t := range tables {
		col := t.TenantColumn()
		if col == "" {
			continue
		}
		if !strings.Contains(lower, col) {
			return &ValidationError{
				Stage:   StageTenant,
				Message: fmt.Sprintf("SQL deve incluir filtro de empresa (%s) para %s", col, t.Name),
			}
		}
	}
	return nil
}

func checkBusinessRules(sql string, intent Intent) error {
	switch intent.Operation {
	case OpContagem:
		if !countCall.MatchString(sql) {
			return &ValidationError{Stage: StageBusiness, Message: "consulta de contagem deve usar COUNT()"}
		}
	case OpSomaQuantidade:
		if !sumCall.MatchString(sql) || countCall.MatchString(sql) {
			return &ValidationError{Stage: StageBusiness, Message: "consulta de quantidade deve usar SUM(), não COUNT()"}
		}
	case OpSoma:
		if !sumCall.MatchString(sql) {
			return &ValidationError{Stage: StageBusiness, Message: "consulta de soma deve usar SUM()"}
		}
	}
	if intent.Has(ModAgrupamento) && !groupByClause.MatchString(sql) {
		return &ValidationError{Stage: StageBusiness, Message: "consulta de agrupamento deve usar GROUP BY"}
	}
	return nil
}

func checkDelimiters(sql string) error {
	depth := 0
	for _, r := range sql {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return &ValidationError{Stage: StageSyntax, Message: "parênteses desbalanceados"}
			}
		}
	}
	if depth != 0 {
		return &ValidationError{Stage: StageSyntax, Message: "parênteses desbalanceados"}
	}
	if strings.Count(sql, "'")%2 != 0 {
		return &ValidationError{Stage: StageSyntax, Message: "aspas simples desbalanceadas"}
	}
	if strings.Count(sql, `"`)%2 != 0 {
		return &ValidationError{Stage: StageSyntax, Message: "aspas duplas desbalanceadas"}
	}
	return nil
}

// ValidateBasic is the permissive gate for template SQL: no four-stage
// report, only shape, aggregate and a tenant reference.
func (v *SQLValidator) ValidateBasic(sql string, intent Intent) error {
	lower := strings.ToLower(strings.TrimSpace(sql))
	fail := func(msg string) error {
		return &ValidationError{Stage: StageBasic, Message: msg}
	}

	if len(lower) < 10 {
		return fail("SQL muito curto")
	}
	if !strings.HasPrefix(lower, "select") {
		return fail("SQL deve começar com SELECT")
	}
	if !strings.Contains(lower, "from") {
		return fail("SQL sem cláusula FROM")
	}
	switch intent.Operation {
	case OpSoma, OpSomaQuantidade:
		if !strings.Contains(lower, "sum(") {
			return fail("consulta de soma deve usar SUM()")
		}
	case OpContagem:
		if !strings.Contains(lower, "count(") {
			return fail("consulta de contagem deve usar COUNT()")
		}
	}
	if !strings.Contains(lower, lexicon.TenantSuffix) && !strings.Contains(lower, "empr =") {
		return fail("SQL deve incluir filtro de empresa")
	}
	if strings.Count(sql, "(") != strings.Count(sql, ")") {
		return fail("parênteses desbalanceados")
	}
	return nil
}

// CheckStructure is the quick gate applied to every model reply.
func CheckStructure(sql string) bool {
	lower := strings.ToLower(strings.TrimSpace(sql))
	return strings.HasPrefix(lower, "select") &&
		strings.Contains(lower, "from") &&
		strings.Contains(lower, lexicon.TenantSuffix) &&
		strings.Count(sql, "(") == strings.Count(sql, ")")
}

// CheckEncoding runs only the encoding stage.
func CheckEncoding(sql string) []string {
	return checkEncoding(sql)
}
