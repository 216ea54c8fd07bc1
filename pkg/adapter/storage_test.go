package adapter_test

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/ragnote/pkg/adapter"
)

func TestStorageListAndGet(t *testing.T) {
	bucket := os.Getenv("TEST_STORAGE_BUCKET")
	if bucket == "" {
		t.Skip("TEST_STORAGE_BUCKET is not set")
	}

	ctx := context.Background()
	s, err := adapter.NewStorage(ctx, bucket)
	gt.NoError(t, err)

	names, err := s.List(ctx, os.Getenv("TEST_STORAGE_PREFIX"))
	gt.NoError(t, err)
	if len(names) == 0 {
		t.Skip("no objects under the test prefix")
	}

	r, err := s.Get(ctx, names[0])
	gt.NoError(t, err)
	defer r.Close()

	_, err = io.ReadAll(r)
	gt.NoError(t, err)
}
