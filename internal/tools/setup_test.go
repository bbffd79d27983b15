package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/libris-ai/libris/internal/ingest"
	"github.com/libris-ai/libris/internal/log"
)

func testLogger() log.Logger {
	return log.NewNop()
}

// allowAllValidator lets tests reach httptest servers, which the real
// validator rejects as loopback addresses.
type allowAllValidator struct{}

func (allowAllValidator) ValidateURL(string) error { return nil }

// fakeDocStore is an in-memory DocumentStore.
type fakeDocStore struct {
	files map[uuid.UUID]*ingest.File
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{files: make(map[uuid.UUID]*ingest.File)}
}

func (s *fakeDocStore) add(name, mediaType, text string) uuid.UUID {
	id := uuid.New()
	s.files[id] = &ingest.File{
		ID:        id,
		Name:      name,
		MediaType: mediaType,
		Size:      int64(len(text)),
		Text:      text,
	}
	return id
}

func (s *fakeDocStore) Get(_ context.Context, id uuid.UUID) (*ingest.File, error) {
	f, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ingest.ErrFileNotFound, id)
	}
	return f, nil
}

// pdfDoc builds an uncompressed PDF-ish byte stream with enough show
// operators to clear the extractor's structured-scan threshold.
func pdfDoc(sentence string) []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	b.WriteString("BT /F1 12 Tf\n")
	for range 12 {
		b.WriteString("(" + sentence + ") Tj\n")
	}
	b.WriteString("ET\n")
	return []byte(b.String())
}
