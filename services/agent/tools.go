package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/rag-gateway/models"
	"github.com/upb/rag-gateway/services/providers"
)

// Tool names declared to the model
const (
	ToolSearchDocuments = "search_documents"
	ToolVisualSearch    = "visual_search"
)

var errMalformedArguments = errors.New("malformed tool arguments")

const systemPrompt = `You are a household document assistant. Answer questions using only the documents you can find with the provided tools.
Use search_documents for questions about document text such as policies, ids, dates and amounts.
Use visual_search for questions about how a page looks, signatures, stamps, photos or scanned forms.
Quote exact values (numbers, dates, names) as they appear in the documents. If nothing relevant is found, say so plainly. Never invent document content.`

const contextPrompt = `You are a household document assistant. Answer the question using only the documents below. Quote exact values as they appear. If they do not contain the answer, say so plainly.`

// toolDeclarations returns the tools offered on the first generation call
func toolDeclarations() []providers.Tool {
	return []providers.Tool{
		{
			Name:        ToolSearchDocuments,
			Description: "Search the family's documents by meaning. Returns the most relevant documents with their content and key fields.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "What to look for"}
				},
				"required": ["query"]
			}`),
		},
		{
			Name:        ToolVisualSearch,
			Description: "Search scanned document pages by their visual content. Optionally restrict to one document.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "What the page shows"},
					"document_id": {"type": "string", "description": "Optional document id to search within"}
				},
				"required": ["query"]
			}`),
		},
	}
}

// toolArgs are the decoded arguments of either tool
type toolArgs struct {
	Query      string
	DocumentID *uuid.UUID
}

// parseToolArgs validates a tool call. Unknown tools, bad JSON, a missing
// query or a bad document id are all malformed.
func parseToolArgs(call providers.ToolCall) (toolArgs, error) {
	if call.Name != ToolSearchDocuments && call.Name != ToolVisualSearch {
		return toolArgs{}, fmt.Errorf("%w: unknown tool %q", errMalformedArguments, call.Name)
	}

	var raw struct {
		Query      string `json:"query"`
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(call.Arguments, &raw); err != nil {
		return toolArgs{}, fmt.Errorf("%w: %v", errMalformedArguments, err)
	}

	args := toolArgs{Query: strings.TrimSpace(raw.Query)}
	if args.Query == "" {
		return toolArgs{}, fmt.Errorf("%w: query is required", errMalformedArguments)
	}

	if call.Name == ToolVisualSearch && raw.DocumentID != "" {
		id, err := uuid.Parse(raw.DocumentID)
		if err != nil {
			return toolArgs{}, fmt.Errorf("%w: invalid document_id", errMalformedArguments)
		}
		args.DocumentID = &id
	}
	return args, nil
}

// toolResultContent serializes a tool result for the model
// toolDocument is a search hit as the model sees it
type toolDocument struct {
	ID        string                 `json:"id"`
	Title     string                 `json:"title"`
	Category  string                 `json:"category"`
	Relevance float64                `json:"relevance"`
	Content   string                 `json:"content"`
	KeyData   map[string]interface{} `json:"key_data,omitempty"`
}

func toolDocuments(results []models.RetrievalResult) []toolDocument {
	out := make([]toolDocument, len(results))
	for i, r := range results {
		out[i] = toolDocument{
			ID:        r.DocumentID.String(),
			Title:     r.Title,
			Category:  r.Category,
			Relevance: r.Relevance,
			Content:   excerpt(r),
			KeyData:   r.KeyData,
		}
	}
	return out
}

func excerpt(r models.RetrievalResult) string {
	if r.Excerpt != "" {
		return r.Excerpt
	}
	return r.Snippet
}

func toolResultContent(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return `{"error":"failed to encode tool result"}`
	}
	return string(raw)
}
