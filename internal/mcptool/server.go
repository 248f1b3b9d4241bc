// Package mcptool exposes the answering pipeline as MCP tools.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"consulta-go/internal/memory"
	"consulta-go/internal/service"
)

// Tool names.
const (
	ToolConsulta    = "consulta"
	ToolHistorico   = "historico"
	ToolLimparCache = "limpar_cache"
	ToolSchemas     = "schemas"
)

// Service is what the tools call.
type Service interface {
	Answer(ctx context.Context, req service.AnswerRequest) (*service.AnswerResponse, error)
	ErrorResponse(err error, includeDetails bool) (int, string)
	History(tenant, session string) memory.Snapshot
	ClearCache(ctx context.Context, expiredOnly bool) (int, error)
	Schemas() ([]string, error)
}

var _ Service = (*service.ConsultaService)(nil)

// Server registers the tools on an MCP server.
type Server struct {
	svc    Service
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates the MCP server with every tool registered.
func NewServer(svc Service, name, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:    svc,
		logger: logger,
		mcp: server.NewMCPServer(name, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves the tools on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp, server.WithErrorLogger(zap.NewStdLog(s.logger)))
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(ToolConsulta,
		mcp.WithDescription("Responde perguntas em português sobre vendas, pedidos, clientes e produtos do tenant."),
		mcp.WithString("question", mcp.Required(), mcp.Description("Pergunta em linguagem natural")),
		mcp.WithString("tenant", mcp.Description("Slug do tenant; vazio usa o padrão")),
		mcp.WithString("session_id", mcp.Description("Sessão de conversa")),
		mcp.WithBoolean("include_details", mcp.Description("Inclui detalhes técnicos nos erros")),
		mcp.WithBoolean("with_chart", mcp.Description("Sugere um gráfico para o resultado")),
	), s.handleConsulta)

	s.mcp.AddTool(mcp.NewTool(ToolHistorico,
		mcp.WithDescription("Retorna o histórico, o foco e sugestões da sessão."),
		mcp.WithString("tenant", mcp.Description("Slug do tenant")),
		mcp.WithString("session_id", mcp.Description("Sessão de conversa")),
	), s.handleHistorico)

	s.mcp.AddTool(mcp.NewTool(ToolLimparCache,
		mcp.WithDescription("Limpa o cache de respostas."),
		mcp.WithBoolean("expired_only", mcp.Description("Remove apenas entradas expiradas")),
	), s.handleLimparCache)

	s.mcp.AddTool(mcp.NewTool(ToolSchemas,
		mcp.WithDescription("Lista os schemas de banco disponíveis."),
	), s.handleSchemas)
}

func (s *Server) handleConsulta(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	req := service.AnswerRequest{
		Question:       question,
		Tenant:         request.GetString("tenant", ""),
		SessionID:      request.GetString("session_id", ""),
		IncludeDetails: request.GetBool("include_details", false),
		WithChart:      request.GetBool("with_chart", false),
	}

	resp, err := s.svc.Answer(ctx, req)
	if err != nil {
		_, message := s.svc.ErrorResponse(err, req.IncludeDetails)
		s.logger.Warn("consulta tool failed", zap.String("tenant", req.Tenant), zap.Error(err))
		return mcp.NewToolResultError(message), nil
	}

	result := mcp.NewToolResultText(resp.Answer)
	if resp.Chart != nil {
		chart, err := json.Marshal(resp.Chart)
		if err != nil {
			return nil, fmt.Errorf("encode chart: %w", err)
		}
		result.Content = append(result.Content, mcp.NewTextContent(string(chart)))
	}
	return result, nil
}

func (s *Server) handleHistorico(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snapshot := s.svc.History(request.GetString("tenant", ""), request.GetString("session_id", ""))
	return jsonResult(snapshot)
}

func (s *Server) handleLimparCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expiredOnly := request.GetBool("expired_only", false)
	removed, err := s.svc.ClearCache(ctx, expiredOnly)
	if err != nil {
		s.logger.Error("limpar_cache tool failed", zap.Error(err))
		return mcp.NewToolResultError("❌ Não foi possível limpar o cache."), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("🧹 Cache limpo: %d entradas removidas.", removed)), nil
}

func (s *Server) handleSchemas(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slugs, err := s.svc.Schemas()
	if err != nil {
		return mcp.NewToolResultError("❌ Não foi possível listar os schemas."), nil
	}
	return jsonResult(map[string][]string{"schemas": slugs})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
