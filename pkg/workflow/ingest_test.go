package workflow_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/ragnote/pkg/workflow"
)

func writePolicy(t *testing.T, policy string) string {
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "ingest.rego"), []byte(policy), 0644))
	return dir
}

func TestIngestPolicyDeny(t *testing.T) {
	ctx := context.Background()
	dir := writePolicy(t, `package ingest

deny contains "body is empty" if {
	trim_space(input.body) == ""
}

deny contains "drafts are not imported" if {
	startswith(input.source, "drafts/")
}
`)

	policy, err := workflow.NewIngestPolicy(ctx, dir)
	gt.NoError(t, err)
	gt.True(t, policy != nil)

	testCases := []struct {
		name   string
		input  *workflow.IngestInput
		accept bool
		deny   int
	}{
		{
			name:   "accepted",
			input:  &workflow.IngestInput{Owner: "alice", Title: "Hiking", Body: "Went to the Alps", Source: "notes/hiking.md"},
			accept: true,
		},
		{
			name:  "empty body",
			input: &workflow.IngestInput{Owner: "alice", Title: "Hiking", Body: "  ", Source: "notes/hiking.md"},
			deny:  1,
		},
		{
			name:  "empty draft",
			input: &workflow.IngestInput{Owner: "alice", Title: "Hiking", Body: "", Source: "drafts/hiking.md"},
			deny:  2,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := policy.Evaluate(ctx, tc.input)
			gt.NoError(t, err)
			gt.Equal(t, decision.Accepted(), tc.accept)
			gt.A(t, decision.Deny).Length(tc.deny)
		})
	}
}

func TestIngestPolicyTitle(t *testing.T) {
	ctx := context.Background()
	dir := writePolicy(t, `package ingest

title := upper(input.title)
`)

	policy, err := workflow.NewIngestPolicy(ctx, dir)
	gt.NoError(t, err)

	decision, err := policy.Evaluate(ctx, &workflow.IngestInput{Title: "hiking"})
	gt.NoError(t, err)
	gt.True(t, decision.Accepted())
	gt.Equal(t, decision.Title, "HIKING")
}

func TestNoPolicyFiles(t *testing.T) {
	ctx := context.Background()

	policy, err := workflow.NewIngestPolicy(ctx, t.TempDir())
	gt.NoError(t, err)
	gt.True(t, policy == nil)

	// A nil policy accepts everything
	decision, err := policy.Evaluate(ctx, &workflow.IngestInput{Title: "anything"})
	gt.NoError(t, err)
	gt.True(t, decision.Accepted())
}
