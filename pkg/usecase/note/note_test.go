package note_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/usecase/note"
)

type mockRepository struct {
	mu    sync.Mutex
	notes map[model.NoteID]*model.Note

	queryEmbeddings func(ctx context.Context, vector []float32, owner model.OwnerID, topK int) ([]*model.ScoredCandidate, error)
	fetchNotes      func(ctx context.Context, ids []model.NoteID) ([]*model.Note, error)

	queryCalls int
	puts       map[model.NoteID][]*model.EmbeddingRecord
}

func newMockRepository(notes ...*model.Note) *mockRepository {
	m := &mockRepository{
		notes: make(map[model.NoteID]*model.Note),
		puts:  make(map[model.NoteID][]*model.EmbeddingRecord),
	}
	for _, n := range notes {
		m.notes[n.ID] = n
	}
	return m
}

func (m *mockRepository) QueryEmbeddings(ctx context.Context, vector []float32, owner model.OwnerID, topK int) ([]*model.ScoredCandidate, error) {
	m.mu.Lock()
	m.queryCalls++
	m.mu.Unlock()
	return m.queryEmbeddings(ctx, vector, owner, topK)
}

func (m *mockRepository) FetchNotes(ctx context.Context, ids []model.NoteID) ([]*model.Note, error) {
	if m.fetchNotes != nil {
		return m.fetchNotes(ctx, ids)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var notes []*model.Note
	for _, id := range ids {
		if n, ok := m.notes[id]; ok {
			notes = append(notes, n)
		}
	}
	return notes, nil
}

func (m *mockRepository) PutNote(ctx context.Context, n *model.Note, records []*model.EmbeddingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[n.ID] = n
	m.puts[n.ID] = records
	return nil
}

func (m *mockRepository) GetNote(ctx context.Context, id model.NoteID) (*model.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok {
		return nil, model.ErrNoteNotFound
	}
	return n, nil
}

func (m *mockRepository) DeleteNote(ctx context.Context, id model.NoteID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notes, id)
	delete(m.puts, id)
	return nil
}

func (m *mockRepository) ListNotes(ctx context.Context, owner model.OwnerID, offset, limit int) ([]*model.Note, error) {
	return nil, nil
}

type mockEmbedder struct {
	embedOne  func(ctx context.Context, text string) ([]float32, error)
	embedMany func(ctx context.Context, texts []string) ([][]float32, error)
	calls     int
}

func (m *mockEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.embedOne == nil {
		return []float32{1, 0, 0}, nil
	}
	return m.embedOne(ctx, text)
}

func (m *mockEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if m.embedMany == nil {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 0, 0}
		}
		return out, nil
	}
	return m.embedMany(ctx, texts)
}

func testSettings() model.Settings {
	s := model.DefaultSettings()
	s.RetryBackoff = time.Millisecond
	return s
}

func newTestNote(owner model.OwnerID, title, body string) *model.Note {
	return &model.Note{
		ID:        model.NewNoteID(),
		OwnerID:   owner,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now(),
	}
}

func candidate(n *model.Note, score float64) *model.ScoredCandidate {
	return &model.ScoredCandidate{
		RecordID:     model.NewEmbeddingRecordID(),
		OwnerID:      n.OwnerID,
		SourceNoteID: n.ID,
		Score:        score,
	}
}

// ownerIndex answers queries like a real index: only the candidates of the requested owner
func ownerIndex(candidates ...*model.ScoredCandidate) func(ctx context.Context, vector []float32, owner model.OwnerID, topK int) ([]*model.ScoredCandidate, error) {
	return func(ctx context.Context, vector []float32, owner model.OwnerID, topK int) ([]*model.ScoredCandidate, error) {
		var out []*model.ScoredCandidate
		for _, c := range candidates {
			if c.OwnerID == owner {
				out = append(out, c)
			}
		}
		if len(out) > topK {
			out = out[:topK]
		}
		return out, nil
	}
}

func TestRetrieveHikingScenario(t *testing.T) {
	note1 := newTestNote("A", "Hiking in the Alps", "Trail notes")
	note2 := newTestNote("A", "Grocery list", "Milk and eggs")
	note3 := newTestNote("B", "Hiking in Yosemite", "Half Dome")

	repo := newMockRepository(note1, note2, note3)
	repo.queryEmbeddings = ownerIndex(
		candidate(note3, 0.9),
		candidate(note1, 0.62),
		candidate(note2, 0.12),
	)

	uc := note.New(repo, &mockEmbedder{}, testSettings())
	notes, err := uc.RetrieveRelevantNotes(context.Background(), "Tell me about my hiking trip", "A")
	gt.NoError(t, err)
	gt.A(t, notes).Length(1)
	gt.Equal(t, notes[0].ID, note1.ID)
	gt.Equal(t, notes[0].Title, note1.Title)
	gt.Equal(t, notes[0].Body, note1.Body)
}

func TestRetrieveThresholdIsExclusive(t *testing.T) {
	atThreshold := newTestNote("A", "at", "threshold")
	above := newTestNote("A", "above", "threshold")

	repo := newMockRepository(atThreshold, above)
	repo.queryEmbeddings = ownerIndex(
		candidate(above, 0.3000001),
		candidate(atThreshold, 0.3),
	)

	uc := note.New(repo, &mockEmbedder{}, testSettings())
	notes, err := uc.RetrieveRelevantNotes(context.Background(), "q", "A")
	gt.NoError(t, err)
	gt.A(t, notes).Length(1)
	gt.Equal(t, notes[0].ID, above.ID)
}

func TestRetrieveDeduplicatesNotes(t *testing.T) {
	n1 := newTestNote("A", "Trip", "Day one\n\nDay two")
	n2 := newTestNote("A", "Other", "Something")

	repo := newMockRepository(n1, n2)
	repo.queryEmbeddings = ownerIndex(
		candidate(n1, 0.5),
		candidate(n2, 0.7),
		candidate(n1, 0.8),
	)

	uc := note.New(repo, &mockEmbedder{}, testSettings())
	scored, err := uc.Search(context.Background(), "trip", "A")
	gt.NoError(t, err)
	gt.A(t, scored).Length(2)

	// n1 is ranked by its best chunk
	gt.Equal(t, scored[0].Note.ID, n1.ID)
	gt.Equal(t, scored[0].Score, 0.8)
	gt.Equal(t, scored[0].Note.Body, n1.Body)
	gt.Equal(t, scored[1].Note.ID, n2.ID)
}

func TestRetrieveOwnerIsolation(t *testing.T) {
	mine := newTestNote("A", "mine", "a")
	theirs := newTestNote("B", "theirs", "b")

	t.Run("index leaking another owner", func(t *testing.T) {
		repo := newMockRepository(mine, theirs)
		repo.queryEmbeddings = func(ctx context.Context, vector []float32, owner model.OwnerID, topK int) ([]*model.ScoredCandidate, error) {
			return []*model.ScoredCandidate{candidate(theirs, 0.99), candidate(mine, 0.5)}, nil
		}

		notes, err := note.New(repo, &mockEmbedder{}, testSettings()).RetrieveRelevantNotes(context.Background(), "q", "A")
		gt.NoError(t, err)
		gt.A(t, notes).Length(1)
		gt.Equal(t, notes[0].ID, mine.ID)
	})

	t.Run("note store returning another owner", func(t *testing.T) {
		forged := *theirs
		forged.ID = mine.ID

		repo := newMockRepository(mine)
		repo.queryEmbeddings = ownerIndex(candidate(mine, 0.5))
		repo.fetchNotes = func(ctx context.Context, ids []model.NoteID) ([]*model.Note, error) {
			return []*model.Note{&forged}, nil
		}

		notes, err := note.New(repo, &mockEmbedder{}, testSettings()).RetrieveRelevantNotes(context.Background(), "q", "A")
		gt.NoError(t, err)
		gt.A(t, notes).Length(0)
	})
}

func TestRetrieveEmptyQuery(t *testing.T) {
	n := newTestNote("A", "n", "b")
	repo := newMockRepository(n)
	repo.queryEmbeddings = ownerIndex(candidate(n, 0.4))

	embedder := &mockEmbedder{}
	notes, err := note.New(repo, embedder, testSettings()).RetrieveRelevantNotes(context.Background(), "", "A")
	gt.NoError(t, err)
	gt.A(t, notes).Length(1)
	gt.Equal(t, embedder.calls, 1)
	gt.Equal(t, repo.queryCalls, 1)
}

func TestRetrieveNoCandidates(t *testing.T) {
	repo := newMockRepository()
	repo.queryEmbeddings = ownerIndex()

	notes, err := note.New(repo, &mockEmbedder{}, testSettings()).RetrieveRelevantNotes(context.Background(), "q", "A")
	gt.NoError(t, err)
	gt.V(t, notes).NotNil()
	gt.A(t, notes).Length(0)
}

func TestRetrieveTopK(t *testing.T) {
	var notes []*model.Note
	var candidates []*model.ScoredCandidate
	for i := 0; i < 20; i++ {
		n := newTestNote("A", "n", "b")
		notes = append(notes, n)
		candidates = append(candidates, candidate(n, 0.9-float64(i)*0.01))
	}

	repo := newMockRepository(notes...)
	var requestedTopK int
	repo.queryEmbeddings = func(ctx context.Context, vector []float32, owner model.OwnerID, topK int) ([]*model.ScoredCandidate, error) {
		requestedTopK = topK
		return ownerIndex(candidates...)(ctx, vector, owner, topK)
	}

	got, err := note.New(repo, &mockEmbedder{}, testSettings()).RetrieveRelevantNotes(context.Background(), "q", "A")
	gt.NoError(t, err)
	gt.Equal(t, requestedTopK, 16)
	gt.A(t, got).Length(16)
	gt.Equal(t, got[0].ID, notes[0].ID)
}

func TestRetrieveFailures(t *testing.T) {
	t.Run("embedding unavailable after retries", func(t *testing.T) {
		repo := newMockRepository()
		repo.queryEmbeddings = ownerIndex()
		embedder := &mockEmbedder{
			embedOne: func(ctx context.Context, text string) ([]float32, error) {
				return nil, model.ErrEmbeddingUnavailable
			},
		}

		_, err := note.New(repo, embedder, testSettings()).RetrieveRelevantNotes(context.Background(), "q", "A")
		gt.True(t, errors.Is(err, model.ErrEmbeddingUnavailable))
		gt.Equal(t, embedder.calls, 2)
		gt.Equal(t, repo.queryCalls, 0)
	})

	t.Run("embedding recovers on retry", func(t *testing.T) {
		n := newTestNote("A", "n", "b")
		repo := newMockRepository(n)
		repo.queryEmbeddings = ownerIndex(candidate(n, 0.5))
		embedder := &mockEmbedder{}
		embedder.embedOne = func(ctx context.Context, text string) ([]float32, error) {
			if embedder.calls == 1 {
				return nil, model.ErrEmbeddingUnavailable
			}
			return []float32{1, 0, 0}, nil
		}

		notes, err := note.New(repo, embedder, testSettings()).RetrieveRelevantNotes(context.Background(), "q", "A")
		gt.NoError(t, err)
		gt.A(t, notes).Length(1)
	})

	t.Run("index failure is typed", func(t *testing.T) {
		repo := newMockRepository()
		repo.queryEmbeddings = func(ctx context.Context, vector []float32, owner model.OwnerID, topK int) ([]*model.ScoredCandidate, error) {
			return nil, errors.New("connection reset")
		}

		_, err := note.New(repo, &mockEmbedder{}, testSettings()).RetrieveRelevantNotes(context.Background(), "q", "A")
		gt.True(t, errors.Is(err, model.ErrIndexQueryFailed))
		gt.Equal(t, repo.queryCalls, 2)
	})

	t.Run("hanging index is cut off by timeout", func(t *testing.T) {
		repo := newMockRepository()
		repo.queryEmbeddings = func(ctx context.Context, vector []float32, owner model.OwnerID, topK int) ([]*model.ScoredCandidate, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		settings := testSettings()
		settings.IndexTimeout = 50 * time.Millisecond
		settings.RetrievalRetries = 1

		start := time.Now()
		_, err := note.New(repo, &mockEmbedder{}, settings).RetrieveRelevantNotes(context.Background(), "q", "A")
		elapsed := time.Since(start)

		gt.True(t, errors.Is(err, model.ErrIndexQueryFailed))
		gt.Equal(t, repo.queryCalls, 2)
		// two attempts of 50ms and one backoff of 1ms, with room for scheduling
		gt.True(t, elapsed < time.Second)
	})

	t.Run("note store failure is typed", func(t *testing.T) {
		n := newTestNote("A", "n", "b")
		repo := newMockRepository(n)
		repo.queryEmbeddings = ownerIndex(candidate(n, 0.5))
		repo.fetchNotes = func(ctx context.Context, ids []model.NoteID) ([]*model.Note, error) {
			return nil, errors.New("unavailable")
		}

		_, err := note.New(repo, &mockEmbedder{}, testSettings()).RetrieveRelevantNotes(context.Background(), "q", "A")
		gt.True(t, errors.Is(err, model.ErrNoteStoreUnavailable))
	})
}
