// Package dialogflow adapts a Dialogflow ES agent to the conversation NLPEngine.
package dialogflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	dialogflow "cloud.google.com/go/dialogflow/apiv2"
	"cloud.google.com/go/dialogflow/apiv2/dialogflowpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/estudia/material-bot/internal/application/conversation"
)

// Config holds agent settings.
type Config struct {
	ProjectID       string
	LanguageCode    string
	CredentialsFile string

	// RequestTimeout bounds each DetectIntent call. Zero means no extra bound.
	RequestTimeout time.Duration
}

// detector is the part of *dialogflow.SessionsClient the engine calls.
type detector interface {
	DetectIntent(ctx context.Context, req *dialogflowpb.DetectIntentRequest, opts ...gax.CallOption) (*dialogflowpb.DetectIntentResponse, error)
	Close() error
}

// Engine sends user text to the agent and flattens the reply.
type Engine struct {
	client detector
	cfg    Config
}

// New connects a sessions client.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("dialogflow: project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := dialogflow.NewSessionsClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialogflow: create sessions client: %w", err)
	}
	return newEngine(client, cfg), nil
}

func newEngine(client detector, cfg Config) *Engine {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "es"
	}
	return &Engine{client: client, cfg: cfg}
}

// Close releases the client connection.
func (e *Engine) Close() error {
	return e.client.Close()
}

// ProcessText detects the intent of text within the user's session.
func (e *Engine) ProcessText(ctx context.Context, sessionID, text string) (conversation.Intent, error) {
	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := e.client.DetectIntent(ctx, &dialogflowpb.DetectIntentRequest{
		Session: e.sessionPath(sessionID),
		QueryInput: &dialogflowpb.QueryInput{
			Input: &dialogflowpb.QueryInput_Text{
				Text: &dialogflowpb.TextInput{Text: text, LanguageCode: e.cfg.LanguageCode},
			},
		},
	})
	if err != nil {
		return conversation.Intent{}, fmt.Errorf("dialogflow: detect intent: %w", err)
	}
	return toIntent(resp.GetQueryResult()), nil
}

func (e *Engine) sessionPath(sessionID string) string {
	return fmt.Sprintf("projects/%s/agent/sessions/%s", e.cfg.ProjectID, sessionID)
}

// toIntent keeps the fulfillment text, the string fields of the first
// message carrying a payload, and the string query parameters.
func toIntent(qr *dialogflowpb.QueryResult) conversation.Intent {
	intent := conversation.Intent{
		Text:       qr.GetFulfillmentText(),
		Payload:    map[string]string{},
		Parameters: stringFields(qr.GetParameters()),
	}
	for _, msg := range qr.GetFulfillmentMessages() {
		if p := msg.GetPayload(); len(p.GetFields()) > 0 {
			intent.Payload = stringFields(p)
			break
		}
	}
	return intent
}

func stringFields(s *structpb.Struct) map[string]string {
	out := make(map[string]string, len(s.GetFields()))
	for k, v := range s.GetFields() {
		if sv, ok := v.GetKind().(*structpb.Value_StringValue); ok && sv.StringValue != "" {
			out[k] = sv.StringValue
		}
	}
	return out
}
