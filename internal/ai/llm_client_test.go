package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap/zaptest"

	"consulta-go/internal/config"
)

// MockModel is a testify mock of llms.Model.
type MockModel struct {
	mock.Mock
}

func (m *MockModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	args := m.Called(ctx, messages, options)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llms.ContentResponse), args.Error(1)
}

func (m *MockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	args := m.Called(ctx, prompt, options)
	return args.String(0), args.Error(1)
}

func contentResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

func humanPrompt(prompt string) any {
	return mock.MatchedBy(func(messages []llms.MessageContent) bool {
		if len(messages) != 1 || messages[0].Role != llms.ChatMessageTypeHuman || len(messages[0].Parts) != 1 {
			return false
		}
		part, ok := messages[0].Parts[0].(llms.TextContent)
		return ok && part.Text == prompt
	})
}

func TestLLMClient_GenerateText(t *testing.T) {
	primary := new(MockModel)
	primary.On("GenerateContent", mock.Anything, humanPrompt("pergunta"), mock.Anything).
		Return(contentResponse("  SELECT 1  "), nil).Once()

	client := NewLLMClientFromModels(primary, nil, config.DefaultAIConfig(), zaptest.NewLogger(t))

	text, err := client.GenerateText(context.Background(), "pergunta")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", text)
	primary.AssertExpectations(t)
}

func TestLLMClient_FallsBackToSecondary(t *testing.T) {
	primary := new(MockModel)
	primary.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("429 too many requests")).Once()
	fallback := new(MockModel)
	fallback.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).
		Return(contentResponse("SELECT 2"), nil).Once()

	client := NewLLMClientFromModels(primary, fallback, config.DefaultAIConfig(), zaptest.NewLogger(t))

	text, err := client.GenerateText(context.Background(), "pergunta")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", text)
	primary.AssertExpectations(t)
	fallback.AssertExpectations(t)
}

func TestLLMClient_AllProvidersFail(t *testing.T) {
	primary := new(MockModel)
	primary.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).
		Return(&llms.ContentResponse{}, nil).Once()
	fallback := new(MockModel)
	fallback.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("boom")).Once()

	client := NewLLMClientFromModels(primary, fallback, config.DefaultAIConfig(), zaptest.NewLogger(t))

	_, err := client.GenerateText(context.Background(), "pergunta")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyCompletion)
	assert.Contains(t, err.Error(), "boom")
}

func TestLLMClient_ValidateConfiguration(t *testing.T) {
	primary := new(MockModel)
	primary.On("GenerateContent", mock.Anything, humanPrompt("Responda apenas: OK"), mock.Anything).
		Return(contentResponse("OK"), nil).Once()

	client := NewLLMClientFromModels(primary, nil, nil, nil)
	assert.NoError(t, client.ValidateConfiguration(context.Background()))
}

func TestCreateLLMProvider_Unsupported(t *testing.T) {
	_, err := createLLMProvider(config.ModelConfig{Provider: "bard"}, newHTTPClient(0))
	assert.ErrorContains(t, err, "unsupported LLM provider")
}

func TestNewLLMClient_Ollama(t *testing.T) {
	cfg := config.DefaultAIConfig()
	cfg.Primary = config.ModelConfig{Provider: string(config.ProviderOllama), ModelName: "llama3", BaseURL: "http://localhost:11434"}

	client, err := NewLLMClient(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, client.primary)
	assert.Nil(t, client.fallback)
}
