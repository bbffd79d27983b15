package api

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"testing"

	"github.com/libris-ai/libris/internal/ingest"
)

// multipartBody builds a single-file multipart form. contentType may
// be empty for the CreateFormFile default (application/octet-stream).
func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	var (
		part io.Writer
		err  error
	)
	if contentType == "" {
		part, err = w.CreateFormFile("file", filename)
	} else {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err = w.CreatePart(h)
	}
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("writing form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func uploadFile(t *testing.T, env *apiEnv, filename, contentType string, data []byte) *http.Response {
	t.Helper()
	body, formType := multipartBody(t, filename, contentType, data)
	resp, err := http.Post(env.server.URL+"/api/files", formType, body)
	if err != nil {
		t.Fatalf("POST /api/files: %v", err)
	}
	return resp
}

func TestUploadFile(t *testing.T) {
	env := newAPIEnv(t, nil)

	resp := uploadFile(t, env, "notes.md", "text/markdown", []byte("# Findings\n\nCRISPR is promising."))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", resp.StatusCode, readBody(t, resp))
	}

	var file ingest.File
	decodeJSON(t, resp, &file)
	if file.Name != "notes.md" {
		t.Errorf("name = %q", file.Name)
	}
	if file.MediaType != "text/markdown" {
		t.Errorf("media type = %q", file.MediaType)
	}
	if file.Size == 0 {
		t.Error("size missing from response")
	}

	// Extracted text is stored but stays out of the JSON response.
	stored, err := env.files.Get(context.Background(), file.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(stored.Text, "CRISPR is promising.") {
		t.Errorf("stored text = %q", stored.Text)
	}
}

func TestUploadResponseOmitsText(t *testing.T) {
	env := newAPIEnv(t, nil)

	resp := uploadFile(t, env, "notes.txt", "text/plain", []byte("secret contents"))
	body := readBody(t, resp)
	if strings.Contains(body, "secret contents") {
		t.Errorf("response leaks extracted text: %s", body)
	}
}

func TestUploadWithoutContentTypeFallsBackToPlainText(t *testing.T) {
	env := newAPIEnv(t, nil)

	// CreateFormFile defaults the part to application/octet-stream; the
	// extractor sniffs valid UTF-8 and treats it as text.
	resp := uploadFile(t, env, "readme", "", []byte("plain enough"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", resp.StatusCode, readBody(t, resp))
	}
	var file ingest.File
	decodeJSON(t, resp, &file)

	stored, err := env.files.Get(context.Background(), file.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Text != "plain enough" {
		t.Errorf("stored text = %q", stored.Text)
	}
}

func TestUploadMissingFilePart(t *testing.T) {
	env := newAPIEnv(t, nil)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("other", "value"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	w.Close()

	resp, err := http.Post(env.server.URL+"/api/files", w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	wantError(t, resp, http.StatusBadRequest, "invalid_request")
}

func TestUploadTooLarge(t *testing.T) {
	env := newAPIEnv(t, nil)

	big := bytes.Repeat([]byte("a"), uploadLimit+16)
	resp := uploadFile(t, env, "big.txt", "text/plain", big)
	wantError(t, resp, http.StatusRequestEntityTooLarge, "too_large")
}

func TestUploadUnsupportedType(t *testing.T) {
	env := newAPIEnv(t, nil)

	resp := uploadFile(t, env, "blob.bin", "application/octet-stream", []byte{0xff, 0xfe, 0x00, 0x01})
	wantError(t, resp, http.StatusUnsupportedMediaType, "unsupported_type")
}
