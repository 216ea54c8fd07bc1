// Package workflow evaluates Rego policies on the note write path.
package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// regoPrintHook forwards Rego print() statements to the logger in context
type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(pctx print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// IngestInput is the document passed to the policy as input
type IngestInput struct {
	Owner  string `json:"owner"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Source string `json:"source"`
}

// IngestDecision is the result of the ingest policy. A note is accepted when Deny is empty.
// Title replaces the note title when the policy sets one.
type IngestDecision struct {
	Deny  []string
	Title string
}

// Accepted reports whether the note may be stored
func (d *IngestDecision) Accepted() bool {
	return len(d.Deny) == 0
}

// IngestPolicy evaluates the data.ingest package against incoming notes. A policy like the
// following rejects empty bodies:
//
//	package ingest
//
//	deny contains "body is empty" if {
//		trim_space(input.body) == ""
//	}
type IngestPolicy struct {
	query *rego.PreparedEvalQuery
}

// NewIngestPolicy loads every .rego file in policyDir. It returns nil when the directory has no
// policy, and a nil policy accepts every note.
func NewIngestPolicy(ctx context.Context, policyDir string) (*IngestPolicy, error) {
	modules, err := loadModules(policyDir)
	if err != nil {
		return nil, err
	}
	if len(modules) == 0 {
		return nil, nil
	}

	query, err := prepareQuery(ctx, modules, "data.ingest", rego.EnablePrintStatements(true))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare ingest query")
	}

	return &IngestPolicy{query: query}, nil
}

// Evaluate runs the policy for one note
func (p *IngestPolicy) Evaluate(ctx context.Context, input *IngestInput) (*IngestDecision, error) {
	if p == nil {
		return &IngestDecision{}, nil
	}

	rs, err := p.query.Eval(ctx,
		rego.EvalInput(input),
		rego.EvalPrintHook(&regoPrintHook{ctx: ctx}),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate ingest policy", goerr.V("source", input.Source))
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return &IngestDecision{}, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("invalid ingest result: not an object", goerr.V("source", input.Source))
	}

	decision := &IngestDecision{
		Title: getString(data, "title"),
	}

	if raw, ok := data["deny"]; ok {
		items, ok := raw.([]any)
		if !ok {
			return nil, goerr.New("invalid ingest result: deny is not a set", goerr.V("source", input.Source))
		}
		for _, item := range items {
			decision.Deny = append(decision.Deny, fmt.Sprint(item))
		}
		sort.Strings(decision.Deny)
	}

	return decision, nil
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
