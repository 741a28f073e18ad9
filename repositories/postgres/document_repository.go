package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/upb/rag-gateway/models"
	"github.com/upb/rag-gateway/repositories"
	"go.uber.org/zap"
)

const documentColumns = `d.id, d.tenant_id, d.title, d.content, d.category, d.visibility,
		       d.assigned_to, d.key_data, d.created_at`

// DocumentRepository implements the repositories.DocumentRepository interface
// over pgvector columns
type DocumentRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *DB, logger *zap.Logger) repositories.DocumentRepository {
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

// visibilityClause renders the viewer's access predicate against alias d.
// next is the first free placeholder index; the returned args bind from there.
func visibilityClause(v models.Viewer, next int) (string, []interface{}) {
	switch v.MemberType {
	case models.MemberTypeAdmin:
		return "TRUE", nil
	case "":
		return "d.visibility = 'everyone'", nil
	}

	shared := "d.visibility = 'everyone'"
	if v.MemberType == models.MemberTypeAdult {
		shared = "d.visibility IN ('everyone', 'adults_only')"
	}

	if v.MemberID == nil {
		return shared, nil
	}

	clause := fmt.Sprintf("(%s OR (d.visibility = 'private' AND d.assigned_to = $%d))", shared, next)
	return clause, []interface{}{*v.MemberID}
}

// SearchDocuments returns the nearest visible documents by cosine distance
func (r *DocumentRepository) SearchDocuments(ctx context.Context, q repositories.DocumentSearch) ([]*models.DocumentMatch, error) {
	args := []interface{}{q.TenantID, pgvector.NewVector(q.Embedding)}
	visibility, visArgs := visibilityClause(q.Viewer, len(args)+1)
	args = append(args, visArgs...)
	args = append(args, q.Limit)

	query := fmt.Sprintf(`
		SELECT %s, d.embedding <=> $2 AS distance
		FROM documents d
		WHERE d.tenant_id = $1
		  AND d.embedding IS NOT NULL
		  AND %s
		ORDER BY distance ASC
		LIMIT $%d
	`, documentColumns, visibility, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	var matches []*models.DocumentMatch
	for rows.Next() {
		var distance float64
		doc, err := scanDocument(rows, &distance)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		matches = append(matches, &models.DocumentMatch{Document: doc, Distance: distance})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	r.logger.Debug("document search completed",
		zap.String("tenant_id", q.TenantID.String()),
		zap.Int("candidates", len(matches)))
	return matches, nil
}

// SearchPages returns visible page hits above the similarity floor.
// The parent document is joined so page access follows document access.
func (r *DocumentRepository) SearchPages(ctx context.Context, q repositories.PageSearch) ([]*models.PageMatch, error) {
	args := []interface{}{q.TenantID, pgvector.NewVector(q.Embedding), q.MinSimilarity}
	visibility, visArgs := visibilityClause(q.Viewer, len(args)+1)
	args = append(args, visArgs...)

	var scope strings.Builder
	if q.DocumentID != nil {
		args = append(args, *q.DocumentID)
		fmt.Fprintf(&scope, "AND p.document_id = $%d", len(args))
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf(`
		SELECT p.id, p.document_id, p.tenant_id, p.page_number, p.image_url, p.ocr_text,
		       d.title, d.visibility, d.assigned_to,
		       1 - (p.embedding <=> $2) AS similarity
		FROM document_pages p
		JOIN documents d ON d.id = p.document_id AND d.tenant_id = p.tenant_id
		WHERE p.tenant_id = $1
		  AND p.embedding IS NOT NULL
		  AND 1 - (p.embedding <=> $2) >= $3
		  AND %s
		  %s
		ORDER BY p.embedding <=> $2 ASC
		LIMIT $%d
	`, visibility, scope.String(), len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search pages: %w", err)
	}
	defer rows.Close()

	var matches []*models.PageMatch
	for rows.Next() {
		page := &models.DocumentPage{}
		match := &models.PageMatch{Page: page}
		var assignedTo uuid.NullUUID

		err := rows.Scan(
			&page.ID,
			&page.DocumentID,
			&page.TenantID,
			&page.PageNumber,
			&page.ImageURL,
			&page.OCRText,
			&match.DocumentTitle,
			&match.ParentVisibility,
			&assignedTo,
			&match.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		if assignedTo.Valid {
			id := assignedTo.UUID
			match.ParentAssignedTo = &id
		}
		matches = append(matches, match)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pages: %w", err)
	}

	r.logger.Debug("page search completed",
		zap.String("tenant_id", q.TenantID.String()),
		zap.Int("hits", len(matches)))
	return matches, nil
}

// GetByID retrieves a document of the tenant
func (r *DocumentRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Document, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM documents d
		WHERE d.tenant_id = $1 AND d.id = $2
	`, documentColumns)

	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return doc, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanDocument reads documentColumns plus any trailing destinations
func scanDocument(row rowScanner, extra ...interface{}) (*models.Document, error) {
	doc := &models.Document{}
	var assignedTo uuid.NullUUID
	var keyData []byte

	dest := []interface{}{
		&doc.ID,
		&doc.TenantID,
		&doc.Title,
		&doc.Content,
		&doc.Category,
		&doc.Visibility,
		&assignedTo,
		&keyData,
		&doc.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if assignedTo.Valid {
		id := assignedTo.UUID
		doc.AssignedTo = &id
	}
	if len(keyData) > 0 {
		if err := json.Unmarshal(keyData, &doc.KeyData); err != nil {
			return nil, fmt.Errorf("failed to decode key_data: %w", err)
		}
	}

	return doc, nil
}
