package gemini

import (
	"context"
	"fmt"
	"strings"

	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const titlePrompt = "You are a conversation title generator. " +
	"Based on the user's question and the assistant's answer, generate a concise title " +
	"in the language of the question, at most six words, summarizing the topic. " +
	"Output only the title; do not include any additional content."

// TitleModel produces short session titles from the first exchange.
type TitleModel struct {
	chatModel model.BaseChatModel
}

func NewTitleModel(ctx context.Context, c *Client, modelName string) (*TitleModel, error) {
	if modelName == "" {
		modelName = c.model
	}
	chatModel, err := einogemini.NewChatModel(ctx, &einogemini.Config{
		Client: c.genai,
		Model:  modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("init title model: %w", err)
	}
	return &TitleModel{chatModel: chatModel}, nil
}

func (t *TitleModel) GenerateTitle(ctx context.Context, query, answer string) (string, error) {
	userPrompt := fmt.Sprintf("Question:\n%s\n\nAnswer:\n%s", query, answer)
	resp, err := t.chatModel.Generate(ctx, []*schema.Message{
		{Role: schema.System, Content: titlePrompt},
		{Role: schema.User, Content: userPrompt},
	})
	if err != nil {
		return "", fmt.Errorf("generate title failed: %w", err)
	}
	title := strings.TrimSpace(resp.Content)
	if title == "" {
		return "Nova consulta", nil
	}
	return title, nil
}
