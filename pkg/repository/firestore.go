package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	notesCollection      = "notes"
	embeddingsCollection = "embeddings"
	distanceField        = "vector_distance"

	// Firestore limits a single batch write to 500 operations
	firestoreBatchSize = 500
)

// Firestore implements Repository. A vector index on embeddings.embedding with a composite
// filter on owner_id must exist before QueryEmbeddings can run.
type Firestore struct {
	client *firestore.Client
}

type firestoreNote struct {
	OwnerID   string    `firestore:"owner_id"`
	Title     string    `firestore:"title"`
	Body      string    `firestore:"body"`
	CreatedAt time.Time `firestore:"created_at"`
}

type firestoreEmbedding struct {
	OwnerID   string             `firestore:"owner_id"`
	NoteID    string             `firestore:"note_id"`
	Content   string             `firestore:"content"`
	Embedding firestore.Vector32 `firestore:"embedding"`
}

// New creates a Firestore repository for the given project and database
func New(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	return &Firestore{client: client}, nil
}

// Close releases the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) PutNote(ctx context.Context, note *model.Note, records []*model.EmbeddingRecord) error {
	// Stale records go first so that a failure never leaves both generations searchable
	if err := r.deleteEmbeddings(ctx, note.ID); err != nil {
		return err
	}

	noteRef := r.client.Collection(notesCollection).Doc(string(note.ID))
	if _, err := noteRef.Set(ctx, &firestoreNote{
		OwnerID:   string(note.OwnerID),
		Title:     note.Title,
		Body:      note.Body,
		CreatedAt: note.CreatedAt,
	}); err != nil {
		return goerr.Wrap(err, "failed to put note", goerr.V("note_id", note.ID))
	}

	bw := r.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(records))
	for _, rec := range records {
		ref := r.client.Collection(embeddingsCollection).Doc(string(rec.ID))
		job, err := bw.Set(ref, &firestoreEmbedding{
			OwnerID:   string(rec.OwnerID),
			NoteID:    string(rec.SourceNoteID),
			Content:   rec.Content,
			Embedding: firestore.Vector32(rec.Vector),
		})
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue embedding record", goerr.V("record_id", rec.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to put embedding record",
				goerr.V("note_id", note.ID),
				goerr.V("record_id", records[i].ID))
		}
	}

	return nil
}

func (r *Firestore) GetNote(ctx context.Context, id model.NoteID) (*model.Note, error) {
	doc, err := r.client.Collection(notesCollection).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNoteNotFound, "note does not exist", goerr.V("note_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get note", goerr.V("note_id", id))
	}

	return decodeFirestoreNote(doc)
}

func (r *Firestore) DeleteNote(ctx context.Context, id model.NoteID) error {
	if err := r.deleteEmbeddings(ctx, id); err != nil {
		return err
	}

	if _, err := r.client.Collection(notesCollection).Doc(string(id)).Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete note", goerr.V("note_id", id))
	}
	return nil
}

func (r *Firestore) ListNotes(ctx context.Context, owner model.OwnerID, offset, limit int) ([]*model.Note, error) {
	query := r.client.Collection(notesCollection).
		Where("owner_id", "==", string(owner)).
		OrderBy("created_at", firestore.Desc).
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var notes []*model.Note
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list notes", goerr.V("owner_id", owner))
		}

		note, err := decodeFirestoreNote(doc)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}

	return notes, nil
}

func (r *Firestore) QueryEmbeddings(ctx context.Context, vector []float32, owner model.OwnerID, topK int) ([]*model.ScoredCandidate, error) {
	query := r.client.Collection(embeddingsCollection).
		Where("owner_id", "==", string(owner)).
		FindNearest("embedding", firestore.Vector32(vector), topK, firestore.DistanceMeasureCosine,
			&firestore.FindNearestOptions{DistanceResultField: distanceField})

	iter := query.Documents(ctx)
	defer iter.Stop()

	var candidates []*model.ScoredCandidate
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(model.ErrIndexQueryFailed, "failed to run vector query",
				goerr.V("cause", err),
				goerr.V("owner_id", owner))
		}

		var rec firestoreEmbedding
		if err := doc.DataTo(&rec); err != nil {
			return nil, goerr.Wrap(model.ErrIndexQueryFailed, "failed to decode embedding record",
				goerr.V("cause", err),
				goerr.V("record_id", doc.Ref.ID))
		}

		distance, ok := doc.Data()[distanceField].(float64)
		if !ok {
			return nil, goerr.Wrap(model.ErrIndexQueryFailed, "vector distance missing in result",
				goerr.V("record_id", doc.Ref.ID))
		}

		candidates = append(candidates, &model.ScoredCandidate{
			RecordID:     model.EmbeddingRecordID(doc.Ref.ID),
			OwnerID:      model.OwnerID(rec.OwnerID),
			SourceNoteID: model.NoteID(rec.NoteID),
			// cosine distance is 1 - cosine similarity
			Score: 1 - distance,
		})
	}

	return candidates, nil
}

func (r *Firestore) FetchNotes(ctx context.Context, ids []model.NoteID) ([]*model.Note, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = r.client.Collection(notesCollection).Doc(string(id))
	}

	docs, err := r.client.GetAll(ctx, refs)
	if err != nil {
		return nil, goerr.Wrap(model.ErrNoteStoreUnavailable, "failed to fetch notes",
			goerr.V("cause", err),
			goerr.V("count", len(ids)))
	}

	notes := make([]*model.Note, 0, len(docs))
	for _, doc := range docs {
		if !doc.Exists() {
			continue
		}
		note, err := decodeFirestoreNote(doc)
		if err != nil {
			return nil, goerr.Wrap(model.ErrNoteStoreUnavailable, "failed to decode note",
				goerr.V("cause", err))
		}
		notes = append(notes, note)
	}

	return notes, nil
}

func (r *Firestore) deleteEmbeddings(ctx context.Context, id model.NoteID) error {
	iter := r.client.Collection(embeddingsCollection).Where("note_id", "==", string(id)).Documents(ctx)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return goerr.Wrap(err, "failed to list embedding records", goerr.V("note_id", id))
		}
		refs = append(refs, doc.Ref)
	}

	for start := 0; start < len(refs); start += firestoreBatchSize {
		end := min(start+firestoreBatchSize, len(refs))
		err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			for _, ref := range refs[start:end] {
				if err := tx.Delete(ref); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return goerr.Wrap(err, "failed to delete embedding records",
				goerr.V("note_id", id),
				goerr.V("count", end-start))
		}
	}

	return nil
}

func decodeFirestoreNote(doc *firestore.DocumentSnapshot) (*model.Note, error) {
	var data firestoreNote
	if err := doc.DataTo(&data); err != nil {
		return nil, goerr.Wrap(err, "failed to decode note", goerr.V("note_id", doc.Ref.ID))
	}

	return &model.Note{
		ID:        model.NoteID(doc.Ref.ID),
		OwnerID:   model.OwnerID(data.OwnerID),
		Title:     data.Title,
		Body:      data.Body,
		CreatedAt: data.CreatedAt,
	}, nil
}
