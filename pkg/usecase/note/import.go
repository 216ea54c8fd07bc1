package note

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/adapter"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/utils/logging"
)

// maxImportSize bounds a single imported object
const maxImportSize = 1 << 20

// SkippedObject is an object that was not imported
type SkippedObject struct {
	Key    string
	Reason string
}

// ImportResult summarizes an import run
type ImportResult struct {
	Imported []*model.Note
	Skipped  []*SkippedObject
}

// Import creates a note from every .md and .txt object under prefix. Objects that are empty or
// denied by the ingest policy are skipped; other failures abort the import.
func (u *UseCase) Import(ctx context.Context, storage adapter.Storage, owner model.OwnerID, prefix string) (*ImportResult, error) {
	keys, err := storage.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	logger := logging.From(ctx)
	result := &ImportResult{}

	for _, key := range keys {
		ext := strings.ToLower(path.Ext(key))
		if ext != ".md" && ext != ".txt" {
			continue
		}

		text, err := readObject(ctx, storage, key)
		if err != nil {
			return result, err
		}

		if strings.TrimSpace(text) == "" {
			result.Skipped = append(result.Skipped, &SkippedObject{Key: key, Reason: "empty object"})
			continue
		}

		title, body := splitDocument(text)
		if title == "" {
			title = strings.TrimSuffix(path.Base(key), path.Ext(key))
		}
		note, err := u.Create(ctx, CreateInput{
			Owner:  owner,
			Title:  title,
			Body:   body,
			Source: key,
		})
		switch {
		case err == nil:
			result.Imported = append(result.Imported, note)
		case errors.Is(err, model.ErrNoteRejected), errors.Is(err, model.ErrInvalidRequest):
			logger.Info("object skipped", "key", key, "error", err)
			result.Skipped = append(result.Skipped, &SkippedObject{Key: key, Reason: err.Error()})
		default:
			return result, goerr.Wrap(err, "failed to import object", goerr.V("key", key))
		}
	}

	return result, nil
}

func readObject(ctx context.Context, storage adapter.Storage, key string) (string, error) {
	r, err := storage.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, maxImportSize))
	if err != nil {
		return "", goerr.Wrap(err, "failed to read object", goerr.V("key", key))
	}
	return string(data), nil
}

// splitDocument takes the first non-empty line as title, without a leading markdown heading
// marker
func splitDocument(text string) (string, string) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		body := strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		return title, body
	}

	return "", ""
}
