// Package notes exposes note retrieval to the language model as a tool.
package notes

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/tool"
	"github.com/m-mizutani/ragnote/pkg/utils/logging"
	"google.golang.org/genai"
)

// FunctionName is the name the model calls the tool by
const FunctionName = "findRelevantNotes"

const description = "Search the notes of the user and return the ones relevant to a question. Use it whenever the user asks about their notes or about anything that may be written in them. Returns a list of notes with id, title, body and createdAt."

// FindInput is the only argument accepted from the model. The owner is never part of it.
type FindInput struct {
	Query string `json:"query" jsonschema:"Search query describing what the user asks about, written as a short natural language sentence"`
}

// Retriever is the retrieval service the tool calls
type Retriever interface {
	RetrieveRelevantNotes(ctx context.Context, query string, owner model.OwnerID) ([]*model.RetrievedNote, error)
}

// FindRelevantNotes is the findRelevantNotes tool bound to one owner
type FindRelevantNotes struct {
	retriever Retriever
	owner     model.OwnerID
	schema    *tool.Schema
	spec      *genai.Tool
}

var _ tool.Tool = (*FindRelevantNotes)(nil)

// New creates the tool for owner. The owner comes from the authenticated identity and every
// call searches only that owner's notes.
func New(retriever Retriever, owner model.OwnerID) (*FindRelevantNotes, error) {
	schema, err := tool.SchemaFor[FindInput]()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build findRelevantNotes schema")
	}

	return &FindRelevantNotes{
		retriever: retriever,
		owner:     owner,
		schema:    schema,
		spec: &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        FunctionName,
					Description: description,
					Parameters:  schema.Genai(),
				},
			},
		},
	}, nil
}

func (x *FindRelevantNotes) Spec() *genai.Tool {
	return x.spec
}

func (x *FindRelevantNotes) Prompt(ctx context.Context) string {
	return ""
}

// Find validates raw arguments and runs the retrieval
func (x *FindRelevantNotes) Find(ctx context.Context, args map[string]any) ([]*model.RetrievedNote, error) {
	if err := x.schema.Validate(args); err != nil {
		return nil, goerr.Wrap(model.ErrToolInvocationMalformed, "invalid findRelevantNotes arguments",
			goerr.V("cause", err),
			goerr.V("args", args))
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, goerr.Wrap(model.ErrToolInvocationMalformed, "failed to encode arguments", goerr.V("cause", err))
	}
	var input FindInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, goerr.Wrap(model.ErrToolInvocationMalformed, "failed to decode arguments", goerr.V("cause", err))
	}

	notes, err := x.retriever.RetrieveRelevantNotes(ctx, input.Query, x.owner)
	if err != nil {
		return nil, err
	}

	logging.From(ctx).Info("notes retrieved",
		"query", input.Query,
		"owner_id", x.owner,
		"count", len(notes))

	return notes, nil
}

// Execute answers a function call. Retrieval failures and malformed arguments are reported to
// the model in the response instead of being returned.
func (x *FindRelevantNotes) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	if fc.Name != FunctionName {
		return nil, goerr.Wrap(tool.ErrToolNotFound, "unexpected function name", goerr.V("name", fc.Name))
	}

	resp := &genai.FunctionResponse{
		ID:   fc.ID,
		Name: fc.Name,
	}

	notes, err := x.Find(ctx, fc.Args)
	if err != nil {
		logging.From(ctx).Warn("findRelevantNotes failed",
			"owner_id", x.owner,
			"args", fc.Args,
			"error", err)
		resp.Response = map[string]any{"error": DescribeError(err)}
		return resp, nil
	}

	// Response must be a JSON object, so the list goes under "output"
	output := make([]map[string]any, len(notes))
	for i, n := range notes {
		output[i] = map[string]any{
			"id":        string(n.ID),
			"title":     n.Title,
			"body":      n.Body,
			"createdAt": n.CreatedAt.Format(time.RFC3339),
		}
	}
	resp.Response = map[string]any{"output": output}

	return resp, nil
}

// DescribeError maps a retrieval error to the fixed message shown to the model. Details stay
// in the log.
func DescribeError(err error) string {
	switch {
	case errors.Is(err, model.ErrToolInvocationMalformed):
		return "invalid arguments"
	case errors.Is(err, model.ErrEmbeddingUnavailable), errors.Is(err, model.ErrIndexQueryFailed), errors.Is(err, model.ErrNoteStoreUnavailable):
		return "note search is temporarily unavailable"
	default:
		return "failed to search notes"
	}
}
