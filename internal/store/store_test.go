package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/contentops/tailor/models"
)

func testPage() models.PersonalizedPage {
	return models.PersonalizedPage{
		PageID:  "home",
		Segment: "finance",
		Content: models.PageContent{
			PageID: "home",
			Title:  "Home",
			URL:    "/home",
			Fields: []models.Field{
				{Name: "hero/title", Value: "Built for your balance sheet"},
				{Name: "hero/copy", Value: "<p>Close the books faster.</p>"},
			},
		},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPutUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := NewStoreWithDB(db)

	page := testPage()
	payload, _ := json.Marshal(page.Content)
	mock.ExpectExec(`INSERT INTO personalized_pages`).
		WithArgs("home", "finance", payload, page.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.Put(context.Background(), page); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := NewStoreWithDB(db)

	page := testPage()
	payload, _ := json.Marshal(page.Content)
	mock.ExpectQuery(`SELECT content, created_at FROM personalized_pages`).
		WithArgs("home", "finance").
		WillReturnRows(sqlmock.NewRows([]string{"content", "created_at"}).AddRow(payload, page.CreatedAt))

	got, err := st.Get(context.Background(), "home", "finance")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PageID != page.PageID || got.Segment != page.Segment {
		t.Fatalf("identity mismatch: %+v", got)
	}
	if len(got.Content.Fields) != 2 || got.Content.Fields[0].Value != page.Content.Fields[0].Value {
		t.Fatalf("content did not round-trip: %+v", got.Content)
	}
	if !got.CreatedAt.Equal(page.CreatedAt) {
		t.Fatalf("created_at mismatch: %v", got.CreatedAt)
	}
}

func TestGetMissReturnsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := NewStoreWithDB(db)

	mock.ExpectQuery(`SELECT content, created_at FROM personalized_pages`).
		WithArgs("home", "agriculture").
		WillReturnError(sql.ErrNoRows)

	_, err = st.Get(context.Background(), "home", "agriculture")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetConnectivityFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := NewStoreWithDB(db)

	mock.ExpectQuery(`SELECT content, created_at FROM personalized_pages`).
		WithArgs("home", "finance").
		WillReturnError(errors.New("connection refused"))

	_, err = st.Get(context.Background(), "home", "finance")
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestPutConnectivityFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := NewStoreWithDB(db)

	mock.ExpectExec(`INSERT INTO personalized_pages`).
		WillReturnError(errors.New("connection refused"))

	if err := st.Put(context.Background(), testPage()); !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSegments(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := NewStoreWithDB(db)

	mock.ExpectQuery(`SELECT segment FROM personalized_pages`).
		WithArgs("home").
		WillReturnRows(sqlmock.NewRows([]string{"segment"}).AddRow("finance").AddRow("healthcare"))

	segments, err := st.Segments(context.Background(), "home")
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(segments) != 2 || segments[0] != "finance" || segments[1] != "healthcare" {
		t.Fatalf("unexpected segments: %v", segments)
	}
}
