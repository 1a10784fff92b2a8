package server

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatssoftware/bookstore-sync/internal/catalog"
)

var bookColumnNames = []string{
	"id", "isbn13", "isbn10", "title", "subtitle", "authors", "categories", "thumbnail", "description",
	"published_year", "average_rating", "num_pages", "ratings_count", "stock_quantity", "price",
	"last_updated", "synced_at",
}

func newTestHandlers(t *testing.T, csvPath string) (*Handlers, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mutator := catalog.NewMutator(mock, catalog.DefaultMutatorConfig(), rand.New(rand.NewSource(1)))
	return New(mock, mutator, csvPath, "test"), mock
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// TestHandleRoot tests the health/info payload
func TestHandleRoot(t *testing.T) {
	h, _ := newTestHandlers(t, "")

	rec := httptest.NewRecorder()
	h.HandleRoot(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["message"], "running")
	assert.Len(t, body["endpoints"], 3)
}

// TestHandleChangedBooks tests the poll envelope
func TestHandleChangedBooks(t *testing.T) {
	h, mock := newTestHandlers(t, "")

	now := time.Now()
	rating := 4.0
	rows := pgxmock.NewRows(bookColumnNames).
		AddRow(int64(1), "9780001", (*string)(nil), "Dune", (*string)(nil), (*string)(nil), (*string)(nil),
			(*string)(nil), (*string)(nil), (*int32)(nil), &rating, (*int32)(nil), (*int32)(nil),
			int32(10), 25.0, now, (*time.Time)(nil))
	mock.ExpectQuery(`SELECT (.+) FROM books WHERE synced_at IS NULL OR last_updated > synced_at`).
		WillReturnRows(rows)
	mock.ExpectQuery(`SELECT count\(\*\) FROM books`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	rec := httptest.NewRecorder()
	h.HandleChangedBooks(rec, httptest.NewRequest(http.MethodGet, "/books/changed", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, float64(42), body["total_books_in_db"])
	assert.NotEmpty(t, body["timestamp"])

	books, ok := body["changed_books"].([]any)
	require.True(t, ok)
	require.Len(t, books, 1)
	book := books[0].(map[string]any)
	assert.Equal(t, "Dune", book["title"])
	assert.NotEmpty(t, book["changedAt"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestHandleChangedBooksEmpty tests that an empty change set serializes as []
func TestHandleChangedBooksEmpty(t *testing.T) {
	h, mock := newTestHandlers(t, "")

	mock.ExpectQuery(`SELECT (.+) FROM books WHERE synced_at IS NULL`).
		WillReturnRows(pgxmock.NewRows(bookColumnNames))
	mock.ExpectQuery(`SELECT count\(\*\) FROM books`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))

	rec := httptest.NewRecorder()
	h.HandleChangedBooks(rec, httptest.NewRequest(http.MethodGet, "/books/changed", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"changed_books":[]`)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestHandleChangedBooksStoreFailure tests the server-error boundary
func TestHandleChangedBooksStoreFailure(t *testing.T) {
	h, mock := newTestHandlers(t, "")

	mock.ExpectQuery(`SELECT (.+) FROM books WHERE synced_at IS NULL`).
		WillReturnError(assert.AnError)

	rec := httptest.NewRecorder()
	h.HandleChangedBooks(rec, httptest.NewRequest(http.MethodGet, "/books/changed", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "store_unavailable", body["error"])
}

// TestHandleChangedBooksMethodNotAllowed tests the method check
func TestHandleChangedBooksMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandlers(t, "")

	rec := httptest.NewRecorder()
	h.HandleChangedBooks(rec, httptest.NewRequest(http.MethodPost, "/books/changed", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// TestHandleLoadCSV tests the bulk-load trigger end to end with a snapshot file
func TestHandleLoadCSV(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "data.csv")
	snapshot := strings.Join([]string{
		"isbn13,title,average_rating",
		"A,Dune,4.0",
		"B,Hyperion,",
	}, "\n")
	require.NoError(t, os.WriteFile(csvPath, []byte(snapshot), 0o644))

	h, mock := newTestHandlers(t, csvPath)

	batch := mock.ExpectBatch()
	batch.ExpectExec(`INSERT INTO books`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec(`INSERT INTO books`).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := httptest.NewRecorder()
	h.HandleLoadCSV(rec, httptest.NewRequest(http.MethodPost, "/books/load-csv", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["books_loaded"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestHandleLoadCSVMissingSnapshot tests the load failure path
func TestHandleLoadCSVMissingSnapshot(t *testing.T) {
	h, _ := newTestHandlers(t, "/nonexistent/data.csv")

	rec := httptest.NewRecorder()
	h.HandleLoadCSV(rec, httptest.NewRequest(http.MethodPost, "/books/load-csv", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "load_failed", body["error"])
}

// TestHandleMarkSynced tests acknowledgment over HTTP
func TestHandleMarkSynced(t *testing.T) {
	h, mock := newTestHandlers(t, "")

	mock.ExpectExec(`UPDATE books SET synced_at = now\(\)`).
		WithArgs([]int64{1, 2, 3}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	req := httptest.NewRequest(http.MethodPost, "/books/mark-synced",
		strings.NewReader(`{"book_ids":[1,2,3]}`))
	rec := httptest.NewRecorder()
	h.HandleMarkSynced(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["updated_count"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestHandleMarkSyncedValidation tests that bad input never reaches the store
func TestHandleMarkSyncedValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty array", `{"book_ids":[]}`},
		{"missing field", `{}`},
		{"malformed json", `{book_ids`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, mock := newTestHandlers(t, "")

			req := httptest.NewRequest(http.MethodPost, "/books/mark-synced", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.HandleMarkSynced(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, "invalid_request", body["error"])

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// TestHandleDebugMutate tests the mutation trigger
func TestHandleDebugMutate(t *testing.T) {
	h, mock := newTestHandlers(t, "")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, price, stock_quantity, average_rating FROM books`).
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "price", "stock_quantity", "average_rating"}))
	mock.ExpectCommit()

	req := httptest.NewRequest(http.MethodPost, "/debug/mutate?count=5", nil)
	rec := httptest.NewRecorder()
	h.HandleDebugMutate(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body, "summary")

	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestHandleDebugMutateBadCount tests count validation
func TestHandleDebugMutateBadCount(t *testing.T) {
	for _, count := range []string{"zero", "-5", "0"} {
		h, _ := newTestHandlers(t, "")

		req := httptest.NewRequest(http.MethodPost, "/debug/mutate?count="+count, nil)
		rec := httptest.NewRecorder()
		h.HandleDebugMutate(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "count=%s", count)
	}
}

// TestHandleDebugInfo tests the environment report
func TestHandleDebugInfo(t *testing.T) {
	h, mock := newTestHandlers(t, "")

	mock.ExpectQuery(`SELECT count\(\*\) FROM books`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))

	rec := httptest.NewRecorder()
	h.HandleDebugInfo(rec, httptest.NewRequest(http.MethodGet, "/debug/info", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(7), body["total_books_in_db"])
	assert.Equal(t, "test", body["version"])
	assert.NotEmpty(t, body["go_version"])
}

// TestRouterWiring tests that every endpoint is routed
func TestRouterWiring(t *testing.T) {
	h, mock := newTestHandlers(t, "")
	router := h.Router()

	mock.ExpectQuery(`SELECT (.+) FROM books WHERE synced_at IS NULL`).
		WillReturnRows(pgxmock.NewRows(bookColumnNames))
	mock.ExpectQuery(`SELECT count\(\*\) FROM books`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books/changed", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
