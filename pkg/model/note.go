package model

import (
	"time"

	"github.com/google/uuid"
)

type NoteID string

// NewNoteID generates a new unique NoteID
func NewNoteID() NoteID {
	return NoteID(uuid.New().String())
}

// OwnerID identifies the user who owns notes. It is resolved at authentication time and never
// taken from model output.
type OwnerID string

type Note struct {
	ID        NoteID
	OwnerID   OwnerID
	Title     string
	Body      string
	CreatedAt time.Time
}

// Text returns the text that is chunked and embedded for the note
func (n *Note) Text() string {
	return n.Title + "\n\n" + n.Body
}

// Chunk is a paragraph of note text, the unit that gets embedded
type Chunk struct {
	Content      string
	SourceNoteID NoteID
}

type EmbeddingRecordID string

// NewEmbeddingRecordID generates a new unique EmbeddingRecordID
func NewEmbeddingRecordID() EmbeddingRecordID {
	return EmbeddingRecordID(uuid.New().String())
}

// EmbeddingRecord is one embedded chunk. OwnerID must match the owner of the source note.
type EmbeddingRecord struct {
	ID           EmbeddingRecordID
	OwnerID      OwnerID
	SourceNoteID NoteID
	Vector       []float32
	Content      string
}

// ScoredCandidate is a single hit of a similarity query. Higher Score is more relevant.
type ScoredCandidate struct {
	RecordID     EmbeddingRecordID
	OwnerID      OwnerID
	SourceNoteID NoteID
	Score        float64
}

// RetrievedNote is what the model receives from findRelevantNotes
type RetrievedNote struct {
	ID        NoteID    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewRetrievedNote converts a note into the model-facing shape
func NewRetrievedNote(note *Note) *RetrievedNote {
	return &RetrievedNote{
		ID:        note.ID,
		Title:     note.Title,
		Body:      note.Body,
		CreatedAt: note.CreatedAt,
	}
}
