package chat

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/adapter"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/tool"
	"github.com/m-mizutani/ragnote/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/system.md
var systemPromptRaw string

var systemPromptTmpl = template.Must(template.New("system").Parse(systemPromptRaw))

const unavailableMessage = "note search is unavailable for the rest of this conversation"

// Session drives one request through the model/tool loop. A Session holds no per-request
// state and can be shared by concurrent requests.
type Session struct {
	gemini   adapter.Gemini
	registry *tool.Registry
	settings model.Settings
}

// NewInput contains parameters for creating a new chat session
type NewInput struct {
	Gemini   adapter.Gemini
	Registry *tool.Registry
	Settings model.Settings
}

func New(input NewInput) *Session {
	registry := input.Registry
	if registry == nil {
		registry = tool.New()
	}

	return &Session{
		gemini:   input.Gemini,
		registry: registry,
		settings: input.Settings,
	}
}

// EmitFunc receives text tokens as soon as the model produces them. Returning an error stops
// the conversation.
type EmitFunc func(token string) error

// Result describes how a conversation ended
type Result struct {
	State State
	Steps int

	// ToolCalls counts tool invocations including failed ones
	ToolCalls int

	// StepBoundExceeded is true when the model still wanted to continue at the step bound
	StepBoundExceeded bool

	// Text is all text emitted to the caller
	Text string

	// Messages are the assistant and tool messages produced by this run, in order
	Messages []*model.Message
}

type run struct {
	*Session
	emit     EmitFunc
	result   *Result
	failures int
	text     bytes.Buffer
}

// Run answers the last user message of the dialogue. Text is streamed through emit. A model
// failure returns ErrModelStreamFault with the partial result; tokens already emitted stay
// emitted.
func (s *Session) Run(ctx context.Context, messages []*model.Message, emit EmitFunc) (*Result, error) {
	if err := model.ValidateDialogue(messages); err != nil {
		return nil, err
	}
	if emit == nil {
		emit = func(string) error { return nil }
	}

	systemPrompt, err := s.buildSystemPrompt(ctx)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, ""),
		Tools:             s.registry.Specs(),
	}

	r := &run{
		Session: s,
		emit:    emit,
		result:  &Result{State: StateAwaitingModel},
	}
	contents := buildContents(messages)

	for step := 1; step <= s.settings.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, step, goerr.Wrap(err, "conversation canceled", goerr.V("step", step)))
		}
		r.result.Steps = step
		r.result.State = StateAwaitingModel

		modelContent, err := r.generate(ctx, step, contents, config)
		if err != nil {
			return r.fail(ctx, step, err)
		}
		contents = append(contents, modelContent)

		calls := functionCalls(modelContent)
		if len(calls) == 0 {
			return r.finish(), nil
		}

		r.result.State = StateToolExecuting
		responses := make([]*genai.Part, 0, len(calls))
		for _, fc := range calls {
			if err := ctx.Err(); err != nil {
				return r.fail(ctx, step, goerr.Wrap(err, "conversation canceled", goerr.V("step", step)))
			}
			resp := r.invoke(ctx, step, fc)
			responses = append(responses, &genai.Part{FunctionResponse: resp})
			r.result.Messages = append(r.result.Messages, &model.Message{
				Role: model.RoleTool,
				ToolResult: &model.ToolResult{
					ID:     resp.ID,
					Name:   resp.Name,
					Result: resp.Response,
				},
			})
		}
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: responses})
	}

	r.result.StepBoundExceeded = true
	logging.From(ctx).Info("conversation stopped at step bound",
		"steps", r.result.Steps,
		"tool_calls", r.result.ToolCalls,
	)
	return r.finish(), nil
}

func (s *Session) buildSystemPrompt(ctx context.Context) (string, error) {
	var buf bytes.Buffer
	if err := systemPromptTmpl.Execute(&buf, map[string]any{
		"ToolPrompts": s.registry.Prompts(ctx),
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute system prompt template")
	}
	return buf.String(), nil
}

// generate runs one model step, forwarding text parts as they arrive
func (r *run) generate(ctx context.Context, step int, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.Content, error) {
	stepCtx := ctx
	if r.settings.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, r.settings.StepTimeout)
		defer cancel()
	}

	modelContent := &genai.Content{Role: genai.RoleModel}
	var text bytes.Buffer

	for resp, err := range r.gemini.GenerateContentStream(stepCtx, contents, config) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, goerr.Wrap(ctxErr, "conversation canceled", goerr.V("step", step))
		}
		if err != nil {
			return nil, goerr.Wrap(model.ErrModelStreamFault, "model stream failed",
				goerr.V("step", step),
				goerr.V("cause", err),
			)
		}

		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}

		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil {
				continue
			}
			modelContent.Parts = append(modelContent.Parts, part)

			if part.Text == "" || part.Thought {
				continue
			}
			if err := r.emit(part.Text); err != nil {
				return nil, goerr.Wrap(err, "failed to emit token", goerr.V("step", step))
			}
			text.WriteString(part.Text)
			r.text.WriteString(part.Text)
		}
	}

	if err := stepCtx.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, goerr.Wrap(ctxErr, "conversation canceled", goerr.V("step", step))
		}
		return nil, goerr.Wrap(model.ErrModelStreamFault, "model step timed out",
			goerr.V("step", step),
			goerr.V("timeout", r.settings.StepTimeout),
		)
	}

	msg := &model.Message{Role: model.RoleAssistant, Content: text.String()}
	for _, fc := range functionCalls(modelContent) {
		msg.ToolCalls = append(msg.ToolCalls, &model.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
	}
	if msg.Content != "" || len(msg.ToolCalls) > 0 {
		r.result.Messages = append(r.result.Messages, msg)
	}

	return modelContent, nil
}

// invoke executes one tool call. Failures never escape: they become an error response that the
// model reads on its next step.
func (r *run) invoke(ctx context.Context, step int, fc *genai.FunctionCall) *genai.FunctionResponse {
	logger := logging.From(ctx)
	r.result.ToolCalls++

	if r.settings.MaxToolFailures > 0 && r.failures >= r.settings.MaxToolFailures {
		logger.Warn("tool call skipped after repeated failures",
			"tool", fc.Name,
			"step", step,
			"failures", r.failures,
		)
		return errorResponse(fc, unavailableMessage)
	}

	toolCtx := ctx
	if r.settings.ToolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, r.settings.ToolTimeout)
		defer cancel()
	}

	resp, err := r.registry.Execute(toolCtx, *fc)
	if err != nil {
		r.failures++
		logger.Warn("tool call failed",
			"tool", fc.Name,
			"args", fc.Args,
			"step", step,
			"error", err,
		)
		if errors.Is(err, tool.ErrToolNotFound) {
			return errorResponse(fc, "unknown tool: "+fc.Name)
		}
		return errorResponse(fc, "tool execution failed")
	}

	if _, failed := resp.Response["error"]; failed {
		r.failures++
	}

	resp.ID = fc.ID
	if resp.Name == "" {
		resp.Name = fc.Name
	}
	return resp
}

func (r *run) finish() *Result {
	r.result.State = StateDone
	r.result.Text = r.text.String()
	return r.result
}

func (r *run) fail(ctx context.Context, step int, err error) (*Result, error) {
	r.result.State = StateErrored
	r.result.Text = r.text.String()

	if ctx.Err() == nil {
		logging.From(ctx).Error("conversation failed",
			"step", step,
			"tool_calls", r.result.ToolCalls,
			"error", err,
		)
	}
	return r.result, err
}

func errorResponse(fc *genai.FunctionCall, msg string) *genai.FunctionResponse {
	return &genai.FunctionResponse{
		ID:       fc.ID,
		Name:     fc.Name,
		Response: map[string]any{"error": msg},
	}
}

func functionCalls(c *genai.Content) []*genai.FunctionCall {
	var calls []*genai.FunctionCall
	for _, part := range c.Parts {
		if part != nil && part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall)
		}
	}
	return calls
}
