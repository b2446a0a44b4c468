package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"

	"github.com/mokuren/passbook-flow/internal/common"
	"github.com/mokuren/passbook-flow/internal/engine"
)

// maxUploadBytes bounds one document upload (all pages).
const maxUploadBytes = 64 << 20

// handleProcessDocument accepts a multipart upload of page images
// under the "pages" field and runs the document through the pipeline
// synchronously.
func (s *Server) handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart upload: %w", err))
		return
	}

	files := r.MultipartForm.File["pages"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no page images in upload"))
		return
	}

	doc := engine.Document{Filename: files[0].Filename}
	for _, header := range files {
		page, err := readPage(header)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		doc.Pages = append(doc.Pages, page)
	}

	result, err := s.engine.Process(r.Context(), doc)
	switch {
	case errors.Is(err, common.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, err)
		return
	case errors.Is(err, common.ErrAllLegsFailed):
		// The failed run is persisted; hand back the record with the
		// upstream status.
		writeJSON(w, http.StatusBadGateway, result)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func readPage(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", header.Filename, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", header.Filename, err)
	}
	return data, nil
}

// handleGetResult returns one processing result with its transactions.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.store.GetResult(r.Context(), id)
	if errors.Is(err, common.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleListResults returns recent processing sessions, newest first,
// without transaction bodies.
func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	results, err := s.store.ListRecentResults(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
