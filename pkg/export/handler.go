package export

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinyfeat/pkg/httpx"
	"github.com/nicktill/tinyfeat/pkg/storage"
)

// MaxImportBytes caps request bodies accepted by HandleImport.
const MaxImportBytes = 256 << 20

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
}

// NewHandler creates a new export/import handler
func NewHandler(store storage.Store) *Handler {
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store),
	}
}

// HandleExport handles GET /v1/snapshots/{handle}/export
// Query params:
//   - format: "json" or "csv" (default: json)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	handle, err := storage.ParseHandle(mux.Vars(r)["handle"])
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid format. Must be 'json' or 'csv'")
		return
	}

	// Load before writing headers so lookup failures still get a JSON error.
	if _, err := h.exporter.storage.Info(r.Context(), handle); err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}

	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=tinyfeat-%s.%s", handle, format))

	result, err := h.exporter.Export(r.Context(), w, handle, format)
	if err != nil {
		slog.Error("export failed", slog.String("handle", string(handle)), slog.Any("error", err))
		return
	}
	slog.Info("snapshot exported",
		slog.String("handle", string(handle)),
		slog.String("format", format),
		slog.Int("results", result.Results))
}

// HandleImport handles POST /v1/import
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	body := http.MaxBytesReader(w, r.Body, MaxImportBytes)
	result, err := h.importer.ImportFromJSON(r.Context(), body)
	if err != nil {
		slog.Warn("import failed", slog.Any("error", err))
		httpx.RespondError(w, statusFor(err), err)
		return
	}

	slog.Info("snapshot imported",
		slog.String("handle", string(result.Handle)),
		slog.Int("rows", result.Rows),
		slog.Int("columns", result.Columns),
		slog.Int("warnings", len(result.Warnings)))
	httpx.RespondJSON(w, http.StatusCreated, result)
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidDocument), errors.As(err, &maxBytes):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrCorruptSnapshot):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
