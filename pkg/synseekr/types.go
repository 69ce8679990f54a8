package synseekr

import "time"

// Result is the envelope every capability call returns.
type Result struct {
	Success   bool                   `json:"success"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// DocumentRequest analyze a single document
type DocumentRequest struct {
	DocumentID string                 `json:"document_id,omitempty"`
	CaseID     string                 `json:"case_id,omitempty"`
	Content    string                 `json:"content,omitempty"`
	Options    map[string]interface{} `json:"options,omitempty"`
}

type EntityRequest struct {
	DocumentID  string   `json:"document_id,omitempty"`
	Content     string   `json:"content,omitempty"`
	EntityTypes []string `json:"entity_types,omitempty"` // person, organization, date, amount ...
}

type RAGRequest struct {
	Query  string `json:"query"`
	CaseID string `json:"case_id,omitempty"`
	TopK   int    `json:"top_k,omitempty"`
}

type InvestigationRequest struct {
	CaseID    string `json:"case_id"`
	Objective string `json:"objective"`
	Depth     string `json:"depth,omitempty"` // quick, standard, deep
}

type ContradictionRequest struct {
	CaseID      string   `json:"case_id"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

type ClassifyRequest struct {
	DocumentID string   `json:"document_id,omitempty"`
	Content    string   `json:"content,omitempty"`
	Labels     []string `json:"labels,omitempty"`
}

type AgentRequest struct {
	Agent   string                 `json:"agent"`
	Task    string                 `json:"task"`
	CaseID  string                 `json:"case_id,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

type SearchRequest struct {
	Query  string `json:"query"`
	CaseID string `json:"case_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type TimelineRequest struct {
	CaseID string `json:"case_id"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

// ErrorResponse is the body returned with 4xx/5xx statuses.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	RequestID string `json:"request_id"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// Config client configuration
type Config struct {
	Enabled    bool          `yaml:"enabled"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	TenantID   string        `yaml:"tenant_id"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "http://localhost:8100",
		Timeout:    60 * time.Second,
		MaxRetries: 2,
		RetryDelay: 1 * time.Second,
	}
}
