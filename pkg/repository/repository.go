package repository

import (
	"context"

	"github.com/m-mizutani/ragnote/pkg/model"
)

// VectorIndex answers similarity queries over embedded chunks
type VectorIndex interface {
	// QueryEmbeddings returns up to topK candidates owned by owner, most similar first.
	// Score is cosine similarity; records of other owners are never returned.
	QueryEmbeddings(ctx context.Context, vector []float32, owner model.OwnerID, topK int) ([]*model.ScoredCandidate, error)
}

// NoteStore resolves note IDs to notes
type NoteStore interface {
	// FetchNotes returns the notes found for ids. Missing ids are skipped and the order is not
	// guaranteed.
	FetchNotes(ctx context.Context, ids []model.NoteID) ([]*model.Note, error)
}

// Repository is the persistence layer of notes and their embedding records
type Repository interface {
	VectorIndex
	NoteStore

	// PutNote saves a note together with the embedding records of its chunks, replacing any
	// record previously stored for the note
	PutNote(ctx context.Context, note *model.Note, records []*model.EmbeddingRecord) error

	// GetNote retrieves a note by ID. It returns model.ErrNoteNotFound if the note does not exist.
	GetNote(ctx context.Context, id model.NoteID) (*model.Note, error)

	// DeleteNote removes a note and its embedding records
	DeleteNote(ctx context.Context, id model.NoteID) error

	// ListNotes retrieves notes of the owner, newest first. A limit of zero or less means no
	// limit.
	ListNotes(ctx context.Context, owner model.OwnerID, offset, limit int) ([]*model.Note, error)
}
