package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/philippgille/chromem-go"
)

const memoryCollection = "note_embeddings"

// Memory implements Repository in process. Notes live in a map and embedding records in a
// chromem collection. Nothing is persisted.
type Memory struct {
	mutex sync.RWMutex
	notes map[model.NoteID]*model.Note

	collection *chromem.Collection
}

// NewMemory creates an empty in-memory repository
func NewMemory() (*Memory, error) {
	db := chromem.NewDB()
	collection, err := db.CreateCollection(memoryCollection, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create chromem collection")
	}

	return &Memory{
		notes:      make(map[model.NoteID]*model.Note),
		collection: collection,
	}, nil
}

func (r *Memory) PutNote(ctx context.Context, note *model.Note, records []*model.EmbeddingRecord) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.deleteEmbeddings(ctx, note.ID); err != nil {
		return err
	}

	if len(records) > 0 {
		ids := make([]string, len(records))
		vectors := make([][]float32, len(records))
		metadatas := make([]map[string]string, len(records))
		contents := make([]string, len(records))
		for i, rec := range records {
			ids[i] = string(rec.ID)
			vectors[i] = rec.Vector
			metadatas[i] = map[string]string{
				"owner_id": string(rec.OwnerID),
				"note_id":  string(rec.SourceNoteID),
			}
			contents[i] = rec.Content
		}

		if err := r.collection.Add(ctx, ids, vectors, metadatas, contents); err != nil {
			return goerr.Wrap(err, "failed to add embedding records",
				goerr.V("note_id", note.ID),
				goerr.V("records", len(records)))
		}
	}

	copied := *note
	r.notes[note.ID] = &copied
	return nil
}

func (r *Memory) GetNote(ctx context.Context, id model.NoteID) (*model.Note, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	note, ok := r.notes[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNoteNotFound, "note does not exist", goerr.V("note_id", id))
	}

	copied := *note
	return &copied, nil
}

func (r *Memory) DeleteNote(ctx context.Context, id model.NoteID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.deleteEmbeddings(ctx, id); err != nil {
		return err
	}
	delete(r.notes, id)
	return nil
}

func (r *Memory) ListNotes(ctx context.Context, owner model.OwnerID, offset, limit int) ([]*model.Note, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var notes []*model.Note
	for _, note := range r.notes {
		if note.OwnerID != owner {
			continue
		}
		copied := *note
		notes = append(notes, &copied)
	}

	sort.Slice(notes, func(i, j int) bool {
		return notes[i].CreatedAt.After(notes[j].CreatedAt)
	})

	if offset >= len(notes) {
		return nil, nil
	}
	notes = notes[offset:]
	if limit > 0 && limit < len(notes) {
		notes = notes[:limit]
	}
	return notes, nil
}

func (r *Memory) QueryEmbeddings(ctx context.Context, vector []float32, owner model.OwnerID, topK int) ([]*model.ScoredCandidate, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	// chromem rejects nResults larger than the collection
	n := min(topK, r.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := r.collection.QueryEmbedding(ctx, vector, n, map[string]string{"owner_id": string(owner)}, nil)
	if err != nil {
		return nil, goerr.Wrap(model.ErrIndexQueryFailed, "failed to run vector query",
			goerr.V("cause", err),
			goerr.V("owner_id", owner))
	}

	candidates := make([]*model.ScoredCandidate, len(results))
	for i, res := range results {
		candidates[i] = &model.ScoredCandidate{
			RecordID:     model.EmbeddingRecordID(res.ID),
			OwnerID:      model.OwnerID(res.Metadata["owner_id"]),
			SourceNoteID: model.NoteID(res.Metadata["note_id"]),
			Score:        float64(res.Similarity),
		}
	}
	return candidates, nil
}

func (r *Memory) FetchNotes(ctx context.Context, ids []model.NoteID) ([]*model.Note, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	notes := make([]*model.Note, 0, len(ids))
	for _, id := range ids {
		note, ok := r.notes[id]
		if !ok {
			continue
		}
		copied := *note
		notes = append(notes, &copied)
	}
	return notes, nil
}

// deleteEmbeddings requires the write lock
func (r *Memory) deleteEmbeddings(ctx context.Context, id model.NoteID) error {
	if r.collection.Count() == 0 {
		return nil
	}
	if err := r.collection.Delete(ctx, map[string]string{"note_id": string(id)}, nil); err != nil {
		return goerr.Wrap(err, "failed to delete embedding records", goerr.V("note_id", id))
	}
	return nil
}
