// Package models defines API request/response data structures shared by the
// HTTP and gRPC transports.
package models

import (
	"time"

	"github.com/goclaw/recall/pkg/consolidation"
	"github.com/goclaw/recall/pkg/engine"
	"github.com/goclaw/recall/pkg/formatter"
	"github.com/goclaw/recall/pkg/memory"
)

// RetrieveRequest selects context for one query.
type RetrieveRequest struct {
	// Scope is the conversation or user the memories belong to.
	Scope string `json:"scope" validate:"required"`

	// Query is the text the context is selected for.
	Query string `json:"query"`

	// Limit caps the number of items. Zero uses the configured default.
	Limit int `json:"limit" validate:"gte=0,lte=1000"`

	// Tags are explicit query tags; extracted from the query when empty.
	Tags []string `json:"tags"`

	// IntentConfidence is the upstream classifier's confidence.
	IntentConfidence    float64  `json:"intent_confidence" validate:"gte=0,lte=1"`
	ConfidenceThreshold *float64 `json:"confidence_threshold" validate:"omitempty,gte=0,lte=1"`

	ExcludeIDs    []string `json:"exclude_ids"`
	UseImportance *bool    `json:"use_importance"`
	BypassCache   bool     `json:"bypass_cache"`
}

// GetScope returns the addressed memory scope.
func (r *RetrieveRequest) GetScope() string { return r.Scope }

// Options converts the request into engine retrieval options.
func (r *RetrieveRequest) Options() engine.RetrieveOptions {
	return engine.RetrieveOptions{
		Limit:               r.Limit,
		Tags:                r.Tags,
		IntentConfidence:    r.IntentConfidence,
		ConfidenceThreshold: r.ConfidenceThreshold,
		ExcludeIDs:          r.ExcludeIDs,
		UseImportance:       r.UseImportance,
		BypassCache:         r.BypassCache,
	}
}

// FormatContextRequest retrieves and renders a context block. Unset
// rendering fields take the configured defaults.
type FormatContextRequest struct {
	RetrieveRequest
	Layout        string `json:"layout" validate:"omitempty,oneof=grouped flat"`
	SortBy        string `json:"sort_by" validate:"omitempty,oneof=relevance time importance"`
	MaxTokens     *int   `json:"max_tokens" validate:"omitempty,gte=0"`
	Title         string `json:"title"`
	PreferSummary *bool  `json:"prefer_summary"`
}

// Apply overlays the request's rendering fields on defaults.
func (r *FormatContextRequest) Apply(defaults formatter.Options) formatter.Options {
	opts := defaults
	if r.Layout != "" {
		opts.Layout = formatter.Layout(r.Layout)
	}
	if r.SortBy != "" {
		opts.SortBy = formatter.SortBy(r.SortBy)
	}
	if r.MaxTokens != nil {
		opts.MaxTokens = *r.MaxTokens
	}
	if r.Title != "" {
		opts.Title = r.Title
	}
	if r.PreferSummary != nil {
		opts.PreferSummary = *r.PreferSummary
	}
	return opts
}

// FormatContextResponse is the rendered block plus the ranking behind it.
type FormatContextResponse struct {
	formatter.Output
	FromWorkingMemoryOnly bool `json:"from_working_memory_only"`
	Candidates            int  `json:"candidates"`
}

// NewFormatContextResponse renders res with opts.
func NewFormatContextResponse(res *engine.RetrieveResult, opts formatter.Options) FormatContextResponse {
	return FormatContextResponse{
		Output:                formatter.Format(res.Items, opts),
		FromWorkingMemoryOnly: res.FromWorkingMemoryOnly,
		Candidates:            len(res.Items),
	}
}

// RecordTurnRequest appends one turn to working memory.
type RecordTurnRequest struct {
	Scope           string     `json:"scope" validate:"required"`
	ID              string     `json:"id"`
	Content         string     `json:"content" validate:"required"`
	ContentSummary  string     `json:"content_summary"`
	Kind            string     `json:"kind"`
	Role            string     `json:"role"`
	Tags            []string   `json:"tags"`
	Priority        *int       `json:"priority" validate:"omitempty,gte=0,lte=10"`
	Confidence      *float64   `json:"confidence" validate:"omitempty,gte=0,lte=1"`
	ImportanceScore *float64   `json:"importance_score" validate:"omitempty,gte=0,lte=1"`
	ImportanceLevel string     `json:"importance_level" validate:"omitempty,oneof=critical high medium low"`
	Timestamp       *time.Time `json:"timestamp"`
	ExpiresAt       *time.Time `json:"expires_at"`
	RelatedTo       []string   `json:"related_to"`
}

// GetScope returns the addressed memory scope.
func (r *RecordTurnRequest) GetScope() string { return r.Scope }

// Item converts the request into a memory item. An empty kind is left for
// the engine to default; an absent priority or confidence takes the model
// default, while an explicit zero is kept.
func (r *RecordTurnRequest) Item() memory.Item {
	kind := memory.Kind("")
	if r.Kind != "" {
		kind = memory.ParseKind(r.Kind)
	}
	priority := memory.DefaultPriority
	if r.Priority != nil {
		priority = *r.Priority
	}
	confidence := memory.DefaultConfidence
	if r.Confidence != nil {
		confidence = *r.Confidence
	}
	return memory.Item{
		ID:              r.ID,
		Scope:           r.Scope,
		Content:         r.Content,
		ContentSummary:  r.ContentSummary,
		Kind:            kind,
		Role:            r.Role,
		Tags:            r.Tags,
		Priority:        priority,
		Confidence:      confidence,
		ImportanceScore: r.ImportanceScore,
		ImportanceLevel: memory.ImportanceLevel(r.ImportanceLevel),
		Timestamp:       r.Timestamp,
		ExpiresAt:       r.ExpiresAt,
		RelatedTo:       r.RelatedTo,
	}
}

// WorkingMemoryRequest lists the live turns of a scope.
type WorkingMemoryRequest struct {
	Scope      string   `json:"scope" validate:"required"`
	ExcludeIDs []string `json:"exclude_ids"`
}

// GetScope returns the addressed memory scope.
func (r *WorkingMemoryRequest) GetScope() string { return r.Scope }

// WorkingMemoryResponse is a scope's live turns, oldest first.
type WorkingMemoryResponse struct {
	Scope string        `json:"scope"`
	Items []memory.Item `json:"items"`
}

// ConsolidateRequest runs a consolidation pass over the scope's working
// memory. Unset options take the configured values.
type ConsolidateRequest struct {
	Scope            string   `json:"scope" validate:"required"`
	Async            bool     `json:"async"`
	MinConfidence    *float64 `json:"min_confidence" validate:"omitempty,gte=0,lte=1"`
	MaxItems         *int     `json:"max_items" validate:"omitempty,gte=0"`
	GenerateInsights *bool    `json:"generate_insights"`
}

// GetScope returns the addressed memory scope.
func (r *ConsolidateRequest) GetScope() string { return r.Scope }

// Apply overlays the request's pass options on defaults.
func (r *ConsolidateRequest) Apply(defaults consolidation.Options) consolidation.Options {
	opts := defaults
	if r.MinConfidence != nil {
		opts.MinConfidence = *r.MinConfidence
	}
	if r.MaxItems != nil {
		opts.MaxItems = *r.MaxItems
	}
	if r.GenerateInsights != nil {
		opts.GenerateInsights = *r.GenerateInsights
	}
	return opts
}

// ConsolidateAccepted acknowledges a background pass.
type ConsolidateAccepted struct {
	Scope    string `json:"scope"`
	Accepted bool   `json:"accepted"`
}
