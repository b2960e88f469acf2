// Package llm talks to an OpenAI-compatible chat completions endpoint.
package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"kibot/internal/service"
)

const (
	DefaultSystemPrompt = "你是Ki酱，一个活泼可爱、乐于助人的群聊机器人。回答简洁自然，使用中文，不要使用Markdown格式。"

	DefaultGreetingPrompt = "你是Ki酱，一个活泼可爱的群聊机器人。下面是今天的日历信息，" +
		"请据此写一段简短温暖的问候，发到群里。保留日期、时间、节日等事实，不要编造信息，不要使用Markdown格式。"
)

type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxTokens      int64
	// Temperature nil means 0.7; an explicit 0 is sent as is.
	Temperature    *float64
	Timeout        time.Duration
	MaxRetries     int
	SystemPrompt   string
	GreetingPrompt string
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 512
	}
	if c.Temperature == nil {
		t := 0.7
		c.Temperature = &t
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if strings.TrimSpace(c.GreetingPrompt) == "" {
		c.GreetingPrompt = DefaultGreetingPrompt
	}
	return c
}

type Client struct {
	cfg Config
	api openai.Client
}

func New(cfg Config, hc *http.Client) *Client {
	cfg = cfg.withDefaults()
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &Client{cfg: cfg, api: openai.NewClient(opts...)}
}

// Chat answers a free-form message.
func (c *Client) Chat(ctx context.Context, text string) (string, error) {
	return c.complete(ctx, c.cfg.SystemPrompt, text)
}

// Greeting rephrases plain calendar lines into a chat greeting.
func (c *Client) Greeting(ctx context.Context, lines []string) (string, error) {
	return c.complete(ctx, c.cfg.GreetingPrompt, strings.Join(lines, "\n"))
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxTokens:   openai.Int(c.cfg.MaxTokens),
		Temperature: openai.Float(*c.cfg.Temperature),
	})
	if err != nil {
		return "", service.Unavailable(err, "chat completion")
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", service.Malformed(nil, "chat completion: no choices")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", service.Malformed(nil, "chat completion: empty content")
	}
	return out, nil
}
