package note

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/utils/logging"
)

// ScoredNote is a retrieved note with the score of its best chunk
type ScoredNote struct {
	Note  *model.Note
	Score float64
}

// RetrieveRelevantNotes returns the owner's notes relevant to query, best first. The result
// has at most TopK notes and may be empty.
func (u *UseCase) RetrieveRelevantNotes(ctx context.Context, query string, owner model.OwnerID) ([]*model.RetrievedNote, error) {
	scored, err := u.Search(ctx, query, owner)
	if err != nil {
		return nil, err
	}

	notes := make([]*model.RetrievedNote, len(scored))
	for i, s := range scored {
		notes[i] = model.NewRetrievedNote(s.Note)
	}
	return notes, nil
}

// Search runs the retrieval pipeline and keeps the best chunk score of every note:
//  1. embed the query
//  2. query the index for the owner's top K chunks
//  3. drop chunks whose score is not strictly above the threshold
//  4. keep the first chunk of every note
//  5. resolve notes from the note store
func (u *UseCase) Search(ctx context.Context, query string, owner model.OwnerID) ([]*ScoredNote, error) {
	logger := logging.From(ctx).With("owner_id", owner)

	var vector []float32
	err := u.retry(ctx, "embed query", func(ctx context.Context) error {
		v, err := u.embedder.EmbedOne(ctx, query)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query", goerr.V("query", query), goerr.V("owner_id", owner))
	}

	var candidates []*model.ScoredCandidate
	err = u.retry(ctx, "query index", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, u.settings.IndexTimeout)
		defer cancel()

		c, err := u.repo.QueryEmbeddings(ctx, vector, owner, u.settings.TopK)
		if err != nil {
			if !errors.Is(err, model.ErrIndexQueryFailed) {
				return goerr.Wrap(model.ErrIndexQueryFailed, "vector index returned error", goerr.V("cause", err))
			}
			return err
		}
		candidates = c
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query index", goerr.V("query", query), goerr.V("owner_id", owner))
	}

	ranked := rankCandidates(candidates, owner, u.settings.ScoreThreshold)
	logger.Debug("vector query done",
		"query", query,
		"candidates", len(candidates),
		"notes", len(ranked))
	if len(ranked) == 0 {
		return []*ScoredNote{}, nil
	}

	ids := make([]model.NoteID, len(ranked))
	for i, c := range ranked {
		ids[i] = c.SourceNoteID
	}

	notes, err := u.repo.FetchNotes(ctx, ids)
	if err != nil {
		if !errors.Is(err, model.ErrNoteStoreUnavailable) {
			err = goerr.Wrap(model.ErrNoteStoreUnavailable, "note store returned error", goerr.V("cause", err))
		}
		return nil, goerr.Wrap(err, "failed to fetch notes", goerr.V("owner_id", owner))
	}

	byID := make(map[model.NoteID]*model.Note, len(notes))
	for _, n := range notes {
		if n.OwnerID != owner {
			logger.Warn("note store returned a note of another owner", "note_id", n.ID)
			continue
		}
		byID[n.ID] = n
	}

	result := make([]*ScoredNote, 0, len(ranked))
	for _, c := range ranked {
		n, ok := byID[c.SourceNoteID]
		if !ok {
			// Note deleted after its chunks were indexed
			logger.Debug("indexed note not found", "note_id", c.SourceNoteID)
			continue
		}
		result = append(result, &ScoredNote{Note: n, Score: c.Score})
	}

	return result, nil
}

// rankCandidates drops candidates of other owners and below the threshold, orders the rest by
// score and keeps the best candidate of every note
func rankCandidates(candidates []*model.ScoredCandidate, owner model.OwnerID, threshold float64) []*model.ScoredCandidate {
	passed := make([]*model.ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.OwnerID != owner {
			continue
		}
		if c.Score > threshold {
			passed = append(passed, c)
		}
	}

	sort.SliceStable(passed, func(i, j int) bool {
		return passed[i].Score > passed[j].Score
	})

	seen := make(map[model.NoteID]struct{}, len(passed))
	ranked := make([]*model.ScoredCandidate, 0, len(passed))
	for _, c := range passed {
		if _, ok := seen[c.SourceNoteID]; ok {
			continue
		}
		seen[c.SourceNoteID] = struct{}{}
		ranked = append(ranked, c)
	}

	return ranked
}

// retry runs fn up to RetrievalRetries+1 times with a linear backoff
func (u *UseCase) retry(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= u.settings.RetrievalRetries; attempt++ {
		if attempt > 0 {
			logging.From(ctx).Warn("retrying",
				"operation", name,
				"attempt", attempt,
				"error", err)

			timer := time.NewTimer(time.Duration(attempt) * u.settings.RetryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}

	return err
}
