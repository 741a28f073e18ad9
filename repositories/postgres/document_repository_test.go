package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/rag-gateway/models"
	"github.com/upb/rag-gateway/repositories"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return Wrap(db, zap.NewNop()), mock
}

var documentRowColumns = []string{
	"id", "tenant_id", "title", "content", "category", "visibility",
	"assigned_to", "key_data", "created_at", "distance",
}

func TestVisibilityClause(t *testing.T) {
	member := uuid.New()

	tests := []struct {
		name     string
		viewer   models.Viewer
		want     string
		wantArgs int
	}{
		{
			name:   "admin sees all",
			viewer: models.Viewer{MemberType: models.MemberTypeAdmin, MemberID: &member},
			want:   "TRUE",
		},
		{
			name:   "no member type",
			viewer: models.Viewer{},
			want:   "d.visibility = 'everyone'",
		},
		{
			name:     "adult with member id",
			viewer:   models.Viewer{MemberType: models.MemberTypeAdult, MemberID: &member},
			want:     "(d.visibility IN ('everyone', 'adults_only') OR (d.visibility = 'private' AND d.assigned_to = $3))",
			wantArgs: 1,
		},
		{
			name:     "child with member id",
			viewer:   models.Viewer{MemberType: models.MemberTypeChild, MemberID: &member},
			want:     "(d.visibility = 'everyone' OR (d.visibility = 'private' AND d.assigned_to = $3))",
			wantArgs: 1,
		},
		{
			name:   "child without member id",
			viewer: models.Viewer{MemberType: models.MemberTypeChild},
			want:   "d.visibility = 'everyone'",
		},
		{
			name:   "unrecognized member type treated like child",
			viewer: models.Viewer{MemberType: "guest"},
			want:   "d.visibility = 'everyone'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause, args := visibilityClause(tt.viewer, 3)
			assert.Equal(t, tt.want, clause)
			assert.Len(t, args, tt.wantArgs)
		})
	}
}

func TestDocumentRepository_SearchDocuments(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, zap.NewNop())

	tenantID := uuid.New()
	memberID := uuid.New()
	docID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`FROM documents d\s+WHERE d.tenant_id = \$1`).
		WithArgs(tenantID, sqlmock.AnyArg(), memberID, 15).
		WillReturnRows(sqlmock.NewRows(documentRowColumns).
			AddRow(docID.String(), tenantID.String(), "Passport", "Passport number ABC123456", "identity", "private",
				memberID.String(), []byte(`{"number":"ABC123456"}`), now, 0.12).
			AddRow(uuid.New().String(), tenantID.String(), "Recipes", "Pancakes", "home", "everyone",
				nil, nil, now, 0.4))

	matches, err := repo.SearchDocuments(context.Background(), repositories.DocumentSearch{
		TenantID:  tenantID,
		Embedding: []float32{0.1, 0.2, 0.3},
		Viewer:    models.Viewer{MemberType: models.MemberTypeAdult, MemberID: &memberID},
		Limit:     15,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	first := matches[0]
	assert.Equal(t, docID, first.Document.ID)
	assert.Equal(t, models.VisibilityPrivate, first.Document.Visibility)
	require.NotNil(t, first.Document.AssignedTo)
	assert.Equal(t, memberID, *first.Document.AssignedTo)
	assert.Equal(t, "ABC123456", first.Document.KeyData["number"])
	assert.InDelta(t, 0.12, first.Distance, 1e-9)

	assert.Nil(t, matches[1].Document.AssignedTo)
	assert.Nil(t, matches[1].Document.KeyData)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_SearchDocuments_AdminHasNoMemberArg(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, zap.NewNop())

	tenantID := uuid.New()
	mock.ExpectQuery(`AND TRUE`).
		WithArgs(tenantID, sqlmock.AnyArg(), 5).
		WillReturnRows(sqlmock.NewRows(documentRowColumns))

	matches, err := repo.SearchDocuments(context.Background(), repositories.DocumentSearch{
		TenantID:  tenantID,
		Embedding: []float32{1},
		Viewer:    models.Viewer{MemberType: models.MemberTypeAdmin},
		Limit:     5,
	})
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_SearchDocuments_QueryError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM documents d`).WillReturnError(errors.New("connection reset"))

	_, err := repo.SearchDocuments(context.Background(), repositories.DocumentSearch{
		TenantID:  uuid.New(),
		Embedding: []float32{1},
		Limit:     5,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to search documents")
}

func TestDocumentRepository_SearchPages(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, zap.NewNop())

	tenantID := uuid.New()
	docID := uuid.New()
	pageID := uuid.New()

	columns := []string{
		"id", "document_id", "tenant_id", "page_number", "image_url", "ocr_text",
		"title", "visibility", "assigned_to", "similarity",
	}

	t.Run("scoped to a document", func(t *testing.T) {
		mock.ExpectQuery(`JOIN documents d ON d.id = p.document_id`).
			WithArgs(tenantID, sqlmock.AnyArg(), 0.3, docID, 5).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(pageID.String(), docID.String(), tenantID.String(), 2, "https://img/2.png", "page two", "Lease", "everyone", nil, 0.81))

		matches, err := repo.SearchPages(context.Background(), repositories.PageSearch{
			TenantID:      tenantID,
			Embedding:     []float32{0.5},
			Viewer:        models.Viewer{MemberType: models.MemberTypeChild},
			DocumentID:    &docID,
			MinSimilarity: 0.3,
			Limit:         5,
		})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, pageID, matches[0].Page.ID)
		assert.Equal(t, 2, matches[0].Page.PageNumber)
		assert.Equal(t, "Lease", matches[0].DocumentTitle)
		assert.Equal(t, models.VisibilityEveryone, matches[0].ParentVisibility)
		assert.Nil(t, matches[0].ParentAssignedTo)
		assert.InDelta(t, 0.81, matches[0].Similarity, 1e-9)
	})

	t.Run("tenant wide", func(t *testing.T) {
		mock.ExpectQuery(`FROM document_pages p`).
			WithArgs(tenantID, sqlmock.AnyArg(), 0.3, 5).
			WillReturnRows(sqlmock.NewRows(columns))

		matches, err := repo.SearchPages(context.Background(), repositories.PageSearch{
			TenantID:      tenantID,
			Embedding:     []float32{0.5},
			MinSimilarity: 0.3,
			Limit:         5,
		})
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, zap.NewNop())

	tenantID := uuid.New()
	docID := uuid.New()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(`WHERE d.tenant_id = \$1 AND d.id = \$2`).
			WithArgs(tenantID, docID).
			WillReturnRows(sqlmock.NewRows(documentRowColumns[:9]).
				AddRow(docID.String(), tenantID.String(), "Lease", "", "housing", "adults_only", nil, nil, time.Now()))

		doc, err := repo.GetByID(context.Background(), tenantID, docID)
		require.NoError(t, err)
		assert.Equal(t, models.VisibilityAdultsOnly, doc.Visibility)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`FROM documents d`).
			WithArgs(tenantID, docID).
			WillReturnRows(sqlmock.NewRows(documentRowColumns[:9]))

		_, err := repo.GetByID(context.Background(), tenantID, docID)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
