// Package memory keeps a bounded history of answered questions per tenant and
// session, plus the focus derived from it.
package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultMaxInteractions bounds each conversation history.
const DefaultMaxInteractions = 10

// DefaultSession is used when a request names no session.
const DefaultSession = "default"

// Topic is the subject the conversation is about.
type Topic string

const (
	TopicNone       Topic = ""
	TopicClientes   Topic = "clientes"
	TopicVendedores Topic = "vendedores"
	TopicProdutos   Topic = "produtos"
	TopicPedidos    Topic = "pedidos"
)

var topicWords = []struct {
	topic Topic
	words []string
}{
	{TopicClientes, []string{"cliente", "clientes"}},
	{TopicVendedores, []string{"vendedor", "vendedores", "funcionario"}},
	{TopicProdutos, []string{"produto", "produtos", "estoque"}},
	{TopicPedidos, []string{"pedido", "pedidos", "venda"}},
}

var topicSuggestions = map[Topic][]string{
	TopicClientes: {
		"Quantos pedidos esses clientes fizeram?",
		"Qual o valor total de vendas para esses clientes?",
		"Mostre os vendedores desses clientes",
	},
	TopicVendedores: {
		"Qual vendedor fez mais vendas?",
		"Faturamento por vendedor este ano",
		"Quantos pedidos por vendedor?",
	},
	TopicProdutos: {
		"Qual o estoque desses produtos?",
		"Quantas vezes foram vendidos?",
		"Qual a margem de lucro?",
	},
	TopicPedidos: {
		"Quais produtos foram mais vendidos?",
		"Qual vendedor fez mais vendas?",
		"Mostre o faturamento por período",
	},
}

// MaxSuggestions caps follow-up suggestions.
const MaxSuggestions = 3

// Interaction one answered question.
type Interaction struct {
	Timestamp time.Time        `json:"timestamp"`
	Question  string           `json:"question"`
	Answer    string           `json:"answer"`
	SQL       string           `json:"sql"`
	Rows      []map[string]any `json:"rows,omitempty"`
	FromCache bool             `json:"from_cache"`
}

// Focus is what the conversation currently centers on.
type Focus struct {
	Topic   Topic  `json:"topic"`
	Company string `json:"company,omitempty"`
	Branch  string `json:"branch,omitempty"`
	Period  string `json:"period,omitempty"`
}

// Snapshot is a copy of one conversation, safe to serialize.
type Snapshot struct {
	Tenant      string        `json:"tenant"`
	Session     string        `json:"session"`
	History     []Interaction `json:"history"`
	Focus       Focus         `json:"focus"`
	Suggestions []string      `json:"suggestions"`
}

// Conversation is the history and focus of one tenant session.
type Conversation struct {
	mu      sync.RWMutex
	max     int
	history []Interaction
	focus   Focus
}

func newConversation(max int) *Conversation {
	return &Conversation{max: max}
}

// Add appends an interaction, evicting the oldest beyond the bound, and
// updates the focus from the question and result rows.
func (c *Conversation) Add(in Interaction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}
	c.history = append(c.history, in)
	if over := len(c.history) - c.max; over > 0 {
		c.history = append([]Interaction(nil), c.history[over:]...)
	}
	c.updateFocus(in)
}

func (c *Conversation) updateFocus(in Interaction) {
	if topic := DetectTopic(in.Question); topic != TopicNone {
		c.focus.Topic = topic
	}
	if period := detectPeriod(in.Question); period != "" {
		c.focus.Period = period
	}
	if len(in.Rows) == 0 {
		return
	}
	for key, value := range in.Rows[0] {
		lk := strings.ToLower(key)
		switch {
		case strings.Contains(lk, "empr"):
			c.focus.Company = fmt.Sprint(value)
		case strings.Contains(lk, "fili"):
			c.focus.Branch = fmt.Sprint(value)
		}
	}
}

// DetectTopic maps question keywords to a topic.
func DetectTopic(question string) Topic {
	q := strings.ToLower(question)
	for _, tw := range topicWords {
		for _, w := range tw.words {
			if strings.Contains(q, w) {
				return tw.topic
			}
		}
	}
	return TopicNone
}

var periodWords = []string{"hoje", "ontem", "esta semana", "este mês", "mês passado", "este ano", "ano passado", "trimestre", "semestre"}

func detectPeriod(question string) string {
	q := strings.ToLower(question)
	for _, w := range periodWords {
		if strings.Contains(q, w) {
			return w
		}
	}
	return ""
}

// Context is the typed context block fed into prompts.
type Context struct {
	Topic        string
	Company      string
	LastQuestion string
}

// Empty reports whether there is nothing to tell the model.
func (c Context) Empty() bool {
	return c.Topic == "" && c.Company == "" && c.LastQuestion == ""
}

// String renders the block in the prompt format.
func (c Context) String() string {
	var parts []string
	if c.Topic != "" {
		parts = append(parts, "Tópico atual: "+c.Topic)
	}
	if c.Company != "" {
		parts = append(parts, "Empresa em foco: "+c.Company)
	}
	if c.LastQuestion != "" {
		parts = append(parts, "Última consulta: "+c.LastQuestion)
	}
	if len(parts) == 0 {
		return ""
	}
	return "CONTEXTO DA CONVERSA:\n- " + strings.Join(parts, "\n- ")
}

const lastQuestionPreview = 100

// Context returns the current prompt context.
func (c *Conversation) Context() Context {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ctx := Context{Topic: string(c.focus.Topic), Company: c.focus.Company}
	if n := len(c.history); n > 0 {
		q := []rune(c.history[n-1].Question)
		if len(q) > lastQuestionPreview {
			ctx.LastQuestion = string(q[:lastQuestionPreview]) + "..."
		} else {
			ctx.LastQuestion = string(q)
		}
	}
	return ctx
}

// Suggestions returns up to MaxSuggestions follow-ups for the current topic.
func (c *Conversation) Suggestions() []string {
	c.mu.RLock()
	topic := c.focus.Topic
	c.mu.RUnlock()

	s := topicSuggestions[topic]
	if len(s) > MaxSuggestions {
		s = s[:MaxSuggestions]
	}
	return append([]string(nil), s...)
}

// History returns a copy of the interactions, oldest first.
func (c *Conversation) History() []Interaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Interaction(nil), c.history...)
}

// Focus returns the current focus.
func (c *Conversation) Focus() Focus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.focus
}

// Reset clears history and focus.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	c.focus = Focus{}
}
