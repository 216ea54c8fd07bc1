package note

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/chunk"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/utils/logging"
	"github.com/m-mizutani/ragnote/pkg/workflow"
)

// CreateInput is a note to be stored. Source names where the note came from and is only
// passed to the ingest policy.
type CreateInput struct {
	Owner  model.OwnerID
	Title  string
	Body   string
	Source string
}

// Create chunks, embeds and stores a note. Every embedding record carries the note's owner.
func (u *UseCase) Create(ctx context.Context, input CreateInput) (*model.Note, error) {
	if input.Owner == "" {
		return nil, goerr.Wrap(model.ErrInvalidRequest, "owner is required")
	}

	decision, err := u.policy.Evaluate(ctx, &workflow.IngestInput{
		Owner:  string(input.Owner),
		Title:  input.Title,
		Body:   input.Body,
		Source: input.Source,
	})
	if err != nil {
		return nil, err
	}
	if !decision.Accepted() {
		return nil, goerr.Wrap(model.ErrNoteRejected, "ingest policy denied the note",
			goerr.V("source", input.Source),
			goerr.V("reasons", decision.Deny))
	}

	note := &model.Note{
		ID:        model.NewNoteID(),
		OwnerID:   input.Owner,
		Title:     input.Title,
		Body:      input.Body,
		CreatedAt: time.Now(),
	}
	if decision.Title != "" {
		note.Title = decision.Title
	}

	chunks := chunk.Split(note.Text())
	if len(chunks) == 0 {
		return nil, goerr.Wrap(model.ErrInvalidRequest, "note has no text to index")
	}

	vectors, err := u.embedder.EmbedMany(ctx, chunks)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed note", goerr.V("chunks", len(chunks)))
	}

	records := make([]*model.EmbeddingRecord, len(chunks))
	for i, c := range chunks {
		records[i] = &model.EmbeddingRecord{
			ID:           model.NewEmbeddingRecordID(),
			OwnerID:      note.OwnerID,
			SourceNoteID: note.ID,
			Vector:       vectors[i],
			Content:      c,
		}
	}

	if err := u.repo.PutNote(ctx, note, records); err != nil {
		return nil, err
	}

	logging.From(ctx).Info("note created",
		"note_id", note.ID,
		"owner_id", note.OwnerID,
		"chunks", len(records))

	return note, nil
}

// Delete removes a note owned by owner. A note of another owner is reported as not found.
func (u *UseCase) Delete(ctx context.Context, owner model.OwnerID, id model.NoteID) error {
	note, err := u.repo.GetNote(ctx, id)
	if err != nil {
		return err
	}
	if note.OwnerID != owner {
		return goerr.Wrap(model.ErrNoteNotFound, "note does not exist", goerr.V("note_id", id))
	}

	if err := u.repo.DeleteNote(ctx, id); err != nil {
		return err
	}

	logging.From(ctx).Info("note deleted", "note_id", id, "owner_id", owner)
	return nil
}

// List returns notes of owner, newest first
func (u *UseCase) List(ctx context.Context, owner model.OwnerID, offset, limit int) ([]*model.Note, error) {
	return u.repo.ListNotes(ctx, owner, offset, limit)
}
