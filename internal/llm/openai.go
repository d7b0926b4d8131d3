package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	openai "github.com/sashabaranov/go-openai"
)

// Message is a minimal chat message used by the prompt composer.
// Role must be one of: "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

// Transcript is the result of transcribing one captured patient turn.
type Transcript struct {
	Text       string
	Confidence float64
}

// Client defines the two collaborator operations the call engine needs:
// wording the next prompt and transcribing captured audio.  Both are
// non-deterministic and potentially slow; callers bound them with
// timeouts and fall back to canned text.
type Client interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Transcribe(ctx context.Context, audioURL string) (Transcript, error)
}

// OpenAIClient calls the OpenAI API for prompt wording (chat completions)
// and speech-to-text (Whisper).  Recorded audio is fetched from the
// telephony provider by URL before being submitted for transcription.
type OpenAIClient struct {
	client          *openai.Client
	http            *resty.Client
	chatModel       string
	transcribeModel string
}

// NewOpenAIClient constructs an OpenAI-backed collaborator client.
func NewOpenAIClient(apiKey, chatModel, transcribeModel string) *OpenAIClient {
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	if transcribeModel == "" {
		transcribeModel = openai.Whisper1
	}
	return &OpenAIClient{
		client:          openai.NewClient(apiKey),
		http:            resty.New(),
		chatModel:       chatModel,
		transcribeModel: transcribeModel,
	}
}

// Chat sends the message history to the chat completion API and returns
// the assistant's response.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}

	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    oaMsgs,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Transcribe downloads the recorded turn audio and submits it to the
// Whisper API.  The API does not report a confidence figure, so a full
// confidence of 1 is returned for any non-empty transcript.
func (c *OpenAIClient) Transcribe(ctx context.Context, audioURL string) (Transcript, error) {
	resp, err := c.http.R().SetContext(ctx).Get(audioURL)
	if err != nil {
		return Transcript{}, fmt.Errorf("fetch audio: %w", err)
	}
	if resp.IsError() {
		return Transcript{}, fmt.Errorf("fetch audio: status %d", resp.StatusCode())
	}

	out, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcribeModel,
		Reader:   bytes.NewReader(resp.Body()),
		FilePath: "turn.wav",
	})
	if err != nil {
		return Transcript{}, err
	}
	confidence := 0.0
	if out.Text != "" {
		confidence = 1.0
	}
	return Transcript{Text: out.Text, Confidence: confidence}, nil
}
