package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"boardflow/internal/models"
	"boardflow/pkg/synseekr"
)

// intelCapability binds one remote document-intelligence call to an action type.
type intelCapability struct {
	action   models.ActionType
	label    string
	validate func(evt Event, cfg ActionConfig) error
	call     func(ctx context.Context, client IntelligenceClient, evt Event, cfg ActionConfig) (*synseekr.Result, error)
}

func documentID(evt Event, cfg ActionConfig) string {
	if id := cfg.String("document_id"); id != "" {
		return id
	}
	if id := metadataString(evt.Metadata, "document_id"); id != "" {
		return id
	}
	return metadataString(evt.Metadata, "file_id")
}

// caseID falls back to the board, which is the case scope for legal boards.
func caseID(evt Event, cfg ActionConfig) string {
	if id := cfg.String("case_id"); id != "" {
		return id
	}
	if id := metadataString(evt.Metadata, "case_id"); id != "" {
		return id
	}
	return evt.ScopeID
}

func requireDocument(evt Event, cfg ActionConfig) error {
	if documentID(evt, cfg) == "" && cfg.String("content") == "" {
		return errors.New("document_id or content is required")
	}
	return nil
}

func requireKey(key string) func(Event, ActionConfig) error {
	return func(_ Event, cfg ActionConfig) error {
		if cfg.String(key) == "" {
			return fmt.Errorf("%s is required", key)
		}
		return nil
	}
}

var intelCapabilities = []intelCapability{
	{
		action:   models.ActionSynSeekrAnalyzeDocument,
		label:    "document analysis",
		validate: requireDocument,
		call: func(ctx context.Context, client IntelligenceClient, evt Event, cfg ActionConfig) (*synseekr.Result, error) {
			return client.AnalyzeDocument(ctx, &synseekr.DocumentRequest{
				DocumentID: documentID(evt, cfg),
				CaseID:     caseID(evt, cfg),
				Content:    cfg.String("content"),
			})
		},
	},
	{
		action:   models.ActionSynSeekrExtractEntities,
		label:    "entity extraction",
		validate: requireDocument,
		call: func(ctx context.Context, client IntelligenceClient, evt Event, cfg ActionConfig) (*synseekr.Result, error) {
			return client.ExtractEntities(ctx, &synseekr.EntityRequest{
				DocumentID:  documentID(evt, cfg),
				Content:     cfg.String("content"),
				EntityTypes: cfg.Strings("entity_types"),
			})
		},
	},
	{
		action:   models.ActionSynSeekrRAGQuery,
		label:    "RAG query",
		validate: requireKey("query"),
		call: func(ctx context.Context, client IntelligenceClient, evt Event, cfg ActionConfig) (*synseekr.Result, error) {
			return client.RAGQuery(ctx, &synseekr.RAGRequest{
				Query:  cfg.String("query"),
				CaseID: caseID(evt, cfg),
				TopK:   cfg.Int("top_k", 5),
			})
		},
	},
	{
		action:   models.ActionSynSeekrRunInvestigation,
		label:    "investigation",
		validate: requireKey("objective"),
		call: func(ctx context.Context, client IntelligenceClient, evt Event, cfg ActionConfig) (*synseekr.Result, error) {
			return client.RunInvestigation(ctx, &synseekr.InvestigationRequest{
				CaseID:    caseID(evt, cfg),
				Objective: cfg.String("objective"),
				Depth:     cfg.String("depth"),
			})
		},
	},
	{
		action: models.ActionSynSeekrDetectContradictions,
		label:  "contradiction detection",
		call: func(ctx context.Context, client IntelligenceClient, evt Event, cfg ActionConfig) (*synseekr.Result, error) {
			return client.DetectContradictions(ctx, &synseekr.ContradictionRequest{
				CaseID:      caseID(evt, cfg),
				DocumentIDs: cfg.Strings("document_ids"),
			})
		},
	},
	{
		action:   models.ActionSynSeekrClassifyDocument,
		label:    "document classification",
		validate: requireDocument,
		call: func(ctx context.Context, client IntelligenceClient, evt Event, cfg ActionConfig) (*synseekr.Result, error) {
			return client.ClassifyDocument(ctx, &synseekr.ClassifyRequest{
				DocumentID: documentID(evt, cfg),
				Content:    cfg.String("content"),
				Labels:     cfg.Strings("labels"),
			})
		},
	},
	{
		action:   models.ActionSynSeekrRunAgent,
		label:    "agent run",
		validate: requireKey("agent"),
		call: func(ctx context.Context, client IntelligenceClient, evt Event, cfg ActionConfig) (*synseekr.Result, error) {
			return client.RunAgent(ctx, &synseekr.AgentRequest{
				Agent:  cfg.String("agent"),
				Task:   cfg.FirstString("task", "instructions"),
				CaseID: caseID(evt, cfg),
				Context: map[string]interface{}{
					"task_id":  evt.EntityID,
					"trigger":  string(evt.Type),
					"metadata": evt.Metadata,
				},
			})
		},
	},
	{
		action:   models.ActionSynSeekrSearchDocuments,
		label:    "document search",
		validate: requireKey("query"),
		call: func(ctx context.Context, client IntelligenceClient, evt Event, cfg ActionConfig) (*synseekr.Result, error) {
			return client.SearchDocuments(ctx, &synseekr.SearchRequest{
				Query:  cfg.String("query"),
				CaseID: caseID(evt, cfg),
				Limit:  cfg.Int("limit", 10),
			})
		},
	},
	{
		action: models.ActionSynSeekrGetTimeline,
		label:  "timeline retrieval",
		call: func(ctx context.Context, client IntelligenceClient, evt Event, cfg ActionConfig) (*synseekr.Result, error) {
			return client.GetTimelineEvents(ctx, &synseekr.TimelineRequest{
				CaseID: caseID(evt, cfg),
				From:   cfg.String("from"),
				To:     cfg.String("to"),
			})
		},
	},
}

func registerIntelligenceHandlers(d *Dispatcher) {
	for _, capability := range intelCapabilities {
		capability := capability
		d.Register(capability.action, handler{
			execute: func(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
				return executeIntel(ctx, capability, evt, cfg, c)
			},
			describe: func(cfg ActionConfig) string {
				desc := fmt.Sprintf("run SynSeekr %s", capability.label)
				if f := cfg.String("output_field"); f != "" {
					desc += " and store the result in field " + f
				}
				return desc
			},
			effect: func(cfg ActionConfig) (Effect, bool) {
				f := cfg.String("output_field")
				if f == "" {
					return Effect{}, false
				}
				return Effect{Trigger: models.TriggerFieldChanged, Field: f}, true
			},
		})
	}
}

func executeIntel(ctx context.Context, capability intelCapability, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
	action := capability.action
	if c.Intelligence == nil || !c.Intelligence.IsEnabled() {
		return Outcome{}, notConnected(action, "SynSeekr")
	}
	if capability.validate != nil {
		if err := capability.validate(evt, cfg); err != nil {
			return Outcome{}, configError(action, "%v", err)
		}
	}

	result, err := capability.call(ctx, c.Intelligence, evt, cfg)
	if err != nil {
		return Outcome{}, providerError(action, err)
	}
	if result == nil || !result.Success {
		msg := "request failed"
		if result != nil && result.Error != "" {
			msg = result.Error
		}
		return Outcome{}, providerError(action, fmt.Errorf("SynSeekr %s failed: %s", capability.label, msg))
	}

	out := completed("SynSeekr %s completed", capability.label)
	out.Data = result.Data

	field := cfg.String("output_field")
	if field == "" || evt.EntityID == "" {
		return out, nil
	}
	task, skip, err := loadTask(ctx, action, evt, c)
	if task == nil {
		if err != nil {
			return Outcome{}, err
		}
		out.Message += "; " + skip.Message
		return out, nil
	}
	value, err := resultValue(result.Data, cfg.String("output_key"))
	if err != nil {
		return Outcome{}, providerError(action, err)
	}
	updated, changed, skip, err := setTaskFields(ctx, action, c, task, map[string]interface{}{field: value})
	if updated == nil {
		if err != nil {
			return Outcome{}, err
		}
		out.Message += "; " + skip.Message
		return out, nil
	}
	out.Message += fmt.Sprintf(", stored in %s", field)
	out.FollowUps = fieldFollowUps(task, updated, changed)
	return out, nil
}

// resultValue picks data[key] or, with no key, the whole payload as JSON text.
func resultValue(data map[string]interface{}, key string) (interface{}, error) {
	if key != "" {
		v, ok := data[key]
		if !ok {
			return nil, fmt.Errorf("%w: response has no %q", ErrUnparseableResponse, key)
		}
		return v, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
