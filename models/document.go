package models

import (
	"time"

	"github.com/google/uuid"
)

// Visibility is the access class of a document
type Visibility string

const (
	VisibilityEveryone   Visibility = "everyone"
	VisibilityAdultsOnly Visibility = "adults_only"
	VisibilityAdminOnly  Visibility = "admin_only"
	VisibilityPrivate    Visibility = "private"
)

// IsValid checks if the visibility is one of the known classes
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityEveryone, VisibilityAdultsOnly, VisibilityAdminOnly, VisibilityPrivate:
		return true
	}
	return false
}

// Document is a tenant-owned piece of content with a text embedding.
// Embeddings are written by the ingestion service and only read here.
type Document struct {
	ID         uuid.UUID              `json:"id" db:"id"`
	TenantID   uuid.UUID              `json:"tenant_id" db:"tenant_id"`
	Title      string                 `json:"title" db:"title"`
	Content    string                 `json:"content" db:"content"`
	Category   string                 `json:"category" db:"category"`
	Visibility Visibility             `json:"visibility" db:"visibility"`
	AssignedTo *uuid.UUID             `json:"assigned_to,omitempty" db:"assigned_to"`
	KeyData    map[string]interface{} `json:"key_data,omitempty" db:"key_data"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Document model
func (Document) TableName() string {
	return "documents"
}

// DocumentPage is a single page image of a document with its own image embedding.
// Visibility is inherited from the parent document.
type DocumentPage struct {
	ID         uuid.UUID `json:"id" db:"id"`
	DocumentID uuid.UUID `json:"document_id" db:"document_id"`
	TenantID   uuid.UUID `json:"tenant_id" db:"tenant_id"`
	PageNumber int       `json:"page_number" db:"page_number"`
	ImageURL   string    `json:"image_url" db:"image_url"`
	OCRText    string    `json:"ocr_text" db:"ocr_text"`
}

// TableName returns the table name for the DocumentPage model
func (DocumentPage) TableName() string {
	return "document_pages"
}

// DocumentMatch is a nearest-neighbour candidate with its cosine distance
type DocumentMatch struct {
	Document *Document
	Distance float64
}

// PageMatch is a page-search hit. Parent visibility fields are carried along
// so the caller can re-check access in memory.
type PageMatch struct {
	Page             *DocumentPage
	DocumentTitle    string
	ParentVisibility Visibility
	ParentAssignedTo *uuid.UUID
	Similarity       float64
}

// RetrievalResult is a ranked, relevance-scored document
type RetrievalResult struct {
	DocumentID uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Category   string    `json:"category"`
	Relevance  float64   `json:"relevance"`
	Snippet    string    `json:"snippet"`
	Distance   float64   `json:"-"`

	// Excerpt and KeyData are what the generator reads; Snippet is display only
	Excerpt string                 `json:"-"`
	KeyData map[string]interface{} `json:"-"`
}

// PageResult is a ranked page-search hit
type PageResult struct {
	PageID        uuid.UUID `json:"id"`
	DocumentID    uuid.UUID `json:"document_id"`
	DocumentTitle string    `json:"title"`
	PageNumber    int       `json:"page_number"`
	ImageURL      string    `json:"image_url"`
	Snippet       string    `json:"snippet"`
	Similarity    float64   `json:"relevance"`
}
