package repository

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Postgres implements Repository on PostgreSQL with the pgvector extension
type Postgres struct {
	db *gorm.DB
}

type pgNote struct {
	ID        string    `gorm:"type:text;primaryKey"`
	OwnerID   string    `gorm:"type:text;not null;index"`
	Title     string    `gorm:"type:text"`
	Body      string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (pgNote) TableName() string {
	return "notes"
}

type pgEmbedding struct {
	ID        string          `gorm:"type:text;primaryKey"`
	OwnerID   string          `gorm:"type:text;not null;index"`
	NoteID    string          `gorm:"type:text;not null;index"`
	Content   string          `gorm:"type:text"`
	Embedding pgvector.Vector `gorm:"type:vector"`
}

func (pgEmbedding) TableName() string {
	return "note_embeddings"
}

// NewPostgres connects to PostgreSQL and migrates the notes and note_embeddings tables
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to postgres")
	}

	if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, goerr.Wrap(err, "failed to enable pgvector extension")
	}
	if err := db.WithContext(ctx).AutoMigrate(&pgNote{}, &pgEmbedding{}); err != nil {
		return nil, goerr.Wrap(err, "failed to migrate tables")
	}

	return &Postgres{db: db}, nil
}

func (r *Postgres) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return goerr.Wrap(err, "failed to get database handle")
	}
	return sqlDB.Close()
}

func (r *Postgres) PutNote(ctx context.Context, note *model.Note, records []*model.EmbeddingRecord) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("note_id = ?", string(note.ID)).Delete(&pgEmbedding{}).Error; err != nil {
			return err
		}

		if err := tx.Save(&pgNote{
			ID:        string(note.ID),
			OwnerID:   string(note.OwnerID),
			Title:     note.Title,
			Body:      note.Body,
			CreatedAt: note.CreatedAt,
		}).Error; err != nil {
			return err
		}

		if len(records) == 0 {
			return nil
		}

		rows := make([]*pgEmbedding, len(records))
		for i, rec := range records {
			rows[i] = &pgEmbedding{
				ID:        string(rec.ID),
				OwnerID:   string(rec.OwnerID),
				NoteID:    string(rec.SourceNoteID),
				Content:   rec.Content,
				Embedding: pgvector.NewVector(rec.Vector),
			}
		}
		return tx.Create(rows).Error
	})
	if err != nil {
		return goerr.Wrap(err, "failed to put note",
			goerr.V("note_id", note.ID),
			goerr.V("records", len(records)))
	}

	return nil
}

func (r *Postgres) GetNote(ctx context.Context, id model.NoteID) (*model.Note, error) {
	var row pgNote
	if err := r.db.WithContext(ctx).Where("id = ?", string(id)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, goerr.Wrap(model.ErrNoteNotFound, "note does not exist", goerr.V("note_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get note", goerr.V("note_id", id))
	}

	return row.toModel(), nil
}

func (r *Postgres) DeleteNote(ctx context.Context, id model.NoteID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("note_id = ?", string(id)).Delete(&pgEmbedding{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", string(id)).Delete(&pgNote{}).Error
	})
	if err != nil {
		return goerr.Wrap(err, "failed to delete note", goerr.V("note_id", id))
	}

	return nil
}

func (r *Postgres) ListNotes(ctx context.Context, owner model.OwnerID, offset, limit int) ([]*model.Note, error) {
	query := r.db.WithContext(ctx).
		Where("owner_id = ?", string(owner)).
		Order("created_at DESC").
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []*pgNote
	err := query.Find(&rows).Error
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list notes", goerr.V("owner_id", owner))
	}

	notes := make([]*model.Note, len(rows))
	for i, row := range rows {
		notes[i] = row.toModel()
	}
	return notes, nil
}

func (r *Postgres) QueryEmbeddings(ctx context.Context, vector []float32, owner model.OwnerID, topK int) ([]*model.ScoredCandidate, error) {
	type result struct {
		ID         string
		OwnerID    string
		NoteID     string
		Similarity float64
	}
	var results []result

	// <=> is cosine distance, so 1 - distance is cosine similarity
	queryVector := pgvector.NewVector(vector)
	err := r.db.WithContext(ctx).
		Table("note_embeddings").
		Select("id, owner_id, note_id, 1 - (embedding <=> ?) AS similarity", queryVector).
		Where("owner_id = ?", string(owner)).
		Order(gorm.Expr("embedding <=> ?", queryVector)).
		Limit(topK).
		Scan(&results).Error
	if err != nil {
		return nil, goerr.Wrap(model.ErrIndexQueryFailed, "failed to run vector query",
			goerr.V("cause", err),
			goerr.V("owner_id", owner))
	}

	candidates := make([]*model.ScoredCandidate, len(results))
	for i, res := range results {
		candidates[i] = &model.ScoredCandidate{
			RecordID:     model.EmbeddingRecordID(res.ID),
			OwnerID:      model.OwnerID(res.OwnerID),
			SourceNoteID: model.NoteID(res.NoteID),
			Score:        res.Similarity,
		}
	}
	return candidates, nil
}

func (r *Postgres) FetchNotes(ctx context.Context, ids []model.NoteID) ([]*model.Note, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}

	var rows []*pgNote
	if err := r.db.WithContext(ctx).Where("id IN ?", keys).Find(&rows).Error; err != nil {
		return nil, goerr.Wrap(model.ErrNoteStoreUnavailable, "failed to fetch notes",
			goerr.V("cause", err),
			goerr.V("count", len(ids)))
	}

	notes := make([]*model.Note, len(rows))
	for i, row := range rows {
		notes[i] = row.toModel()
	}
	return notes, nil
}

func (x *pgNote) toModel() *model.Note {
	return &model.Note{
		ID:        model.NoteID(x.ID),
		OwnerID:   model.OwnerID(x.OwnerID),
		Title:     x.Title,
		Body:      x.Body,
		CreatedAt: x.CreatedAt,
	}
}
