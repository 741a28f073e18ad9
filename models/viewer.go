package models

import "github.com/google/uuid"

// MemberType is the role of a tenant member as carried in the token.
// Only admin and adult are special-cased; any other value is treated
// like a child.
type MemberType string

const (
	MemberTypeAdmin MemberType = "admin"
	MemberTypeAdult MemberType = "adult"
	MemberTypeChild MemberType = "child"
)

// Viewer is the identity that retrieval is evaluated for
type Viewer struct {
	MemberType MemberType
	MemberID   *uuid.UUID
}

// IsAdmin reports whether the viewer sees every document of the tenant
func (v Viewer) IsAdmin() bool {
	return v.MemberType == MemberTypeAdmin
}

// Allows evaluates the visibility predicate for a document.
// An empty member type only ever sees "everyone" documents.
func (v Viewer) Allows(visibility Visibility, assignedTo *uuid.UUID) bool {
	switch v.MemberType {
	case MemberTypeAdmin:
		return true
	case "":
		return visibility == VisibilityEveryone
	}

	switch visibility {
	case VisibilityEveryone:
		return true
	case VisibilityAdultsOnly:
		return v.MemberType == MemberTypeAdult
	case VisibilityPrivate:
		return v.MemberID != nil && assignedTo != nil && *v.MemberID == *assignedTo
	default:
		return false
	}
}

// AllowsDocument is a convenience wrapper around Allows
func (v Viewer) AllowsDocument(doc *Document) bool {
	if doc == nil {
		return false
	}
	return v.Allows(doc.Visibility, doc.AssignedTo)
}
