// Package server exposes the change-tracking protocol over HTTP: a polling
// endpoint for changed books, an acknowledgment endpoint, and bulk-load and
// debug triggers.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hatssoftware/bookstore-sync/internal/catalog"
	"github.com/hatssoftware/bookstore-sync/internal/db"
)

// Handlers holds the HTTP surface over the catalog store
type Handlers struct {
	pool    db.PgxIface
	mutator *catalog.Mutator
	csvPath string
	version string
}

// New creates the handler set. csvPath is the snapshot the bulk loader
// reads; mutator backs the debug mutation endpoint.
func New(pool db.PgxIface, mutator *catalog.Mutator, csvPath, version string) *Handlers {
	return &Handlers{
		pool:    pool,
		mutator: mutator,
		csvPath: csvPath,
		version: version,
	}
}

// Router returns the HTTP routing table
func (h *Handlers) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.HandleRoot)
	mux.HandleFunc("/books/changed", h.HandleChangedBooks)
	mux.HandleFunc("/books/load-csv", h.HandleLoadCSV)
	mux.HandleFunc("/books/mark-synced", h.HandleMarkSynced)
	mux.HandleFunc("/debug/mutate", h.HandleDebugMutate)
	mux.HandleFunc("/debug/info", h.HandleDebugInfo)
	return mux
}

// HandleRoot serves the health/info payload listing available operations
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown endpoint")
		return
	}
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Bookstore sync API is running!",
		"code":    http.StatusOK,
		"endpoints": []string{
			"/books/changed - GET books that have changed since last sync",
			"/books/load-csv - POST load books from CSV",
			"/books/mark-synced - POST mark books as synced",
		},
	})
}

// HandleChangedBooks returns every book pending acknowledgment, newest
// change first. Polling never alters change markers, so consecutive calls
// with no intervening writes return identical sets.
func (h *Handlers) HandleChangedBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}

	books, err := catalog.ListPendingBooks(r.Context(), h.pool)
	if err != nil {
		logrus.WithError(err).Error("Failed to retrieve changed books")
		h.writeError(w, http.StatusInternalServerError, "store_unavailable", "Failed to retrieve changed books")
		return
	}

	total, err := catalog.CountBooks(r.Context(), h.pool)
	if err != nil {
		logrus.WithError(err).Error("Failed to count books")
		h.writeError(w, http.StatusInternalServerError, "store_unavailable", "Failed to retrieve changed books")
		return
	}

	if books == nil {
		books = []catalog.Book{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"changed_books":     books,
		"count":             len(books),
		"total_books_in_db": total,
		"timestamp":         time.Now().Format(time.RFC3339Nano),
		"message":           fmt.Sprintf("Found %d books that need syncing", len(books)),
	})
}

// HandleLoadCSV triggers the bulk loader against the configured snapshot
func (h *Handlers) HandleLoadCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	loaded, err := catalog.LoadCSVFile(r.Context(), h.pool, h.csvPath)
	if err != nil {
		logrus.WithError(err).WithField("path", h.csvPath).Error("Failed to load books from CSV")
		h.writeError(w, http.StatusInternalServerError, "load_failed", "Failed to load books from CSV")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message":      fmt.Sprintf("Successfully loaded %d books from CSV", loaded),
		"books_loaded": loaded,
	})
}

type markSyncedRequest struct {
	BookIDs []int64 `json:"book_ids"`
}

// HandleMarkSynced acknowledges consumed books. Unknown or already-synced
// ids are ignored; the response counts rows actually touched.
func (h *Handlers) HandleMarkSynced(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	var req markSyncedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse request body")
		return
	}
	if len(req.BookIDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "book_ids array is required")
		return
	}

	updated, err := catalog.MarkSynced(r.Context(), h.pool, req.BookIDs)
	if err != nil {
		logrus.WithError(err).Error("Failed to mark books as synced")
		h.writeError(w, http.StatusInternalServerError, "store_unavailable", "Failed to mark books as synced")
		return
	}

	logrus.WithField("updated", updated).Info("Marked books as synced")
	h.writeJSON(w, http.StatusOK, map[string]any{
		"message":       fmt.Sprintf("Successfully marked %d books as synced", updated),
		"updated_count": updated,
	})
}

// HandleDebugMutate runs one mutation batch, simulating storefront activity.
// Auxiliary endpoint for testing; the scheduled mutator is the normal writer.
func (h *Handlers) HandleDebugMutate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	count := 0
	if v := r.URL.Query().Get("count"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "count must be a positive integer")
			return
		}
		count = parsed
	}

	summary, err := h.mutator.Mutate(r.Context(), count)
	if err != nil {
		logrus.WithError(err).Error("Failed to run mutation batch")
		h.writeError(w, http.StatusInternalServerError, "mutation_failed", "Failed to run mutation batch")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Modified %d of %d selected books", summary.Modified, summary.Selected),
		"summary": summary,
	})
}

// HandleDebugInfo reports raw timing and environment info
func (h *Handlers) HandleDebugInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}

	total, err := catalog.CountBooks(r.Context(), h.pool)
	if err != nil {
		logrus.WithError(err).Error("Failed to count books")
		h.writeError(w, http.StatusInternalServerError, "store_unavailable", "Failed to gather debug info")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"timestamp":         time.Now().Format(time.RFC3339Nano),
		"total_books_in_db": total,
		"version":           h.version,
		"go_version":        runtime.Version(),
		"pid":               os.Getpid(),
	})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Error("Failed to encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
