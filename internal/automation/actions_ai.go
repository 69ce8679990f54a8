package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gorm.io/datatypes"

	"boardflow/internal/models"
	"boardflow/pkg/utils"
)

const aiInputLimit = 6000

func registerAIHandlers(d *Dispatcher) {
	d.Register(models.ActionAISummarize, handler{
		execute: executeSummarize,
		describe: func(cfg ActionConfig) string {
			return fmt.Sprintf("summarize the task with AI into field %s", outputField(cfg, "ai_summary"))
		},
		effect: func(cfg ActionConfig) (Effect, bool) {
			return Effect{Trigger: models.TriggerFieldChanged, Field: outputField(cfg, "ai_summary")}, true
		},
	})
	d.Register(models.ActionAICategorize, handler{
		execute: executeCategorize,
		describe: func(cfg ActionConfig) string {
			if cats := cfg.Strings("categories"); len(cats) > 0 {
				return fmt.Sprintf("categorize the task with AI into one of %v and merge suggested tags", cats)
			}
			return "categorize the task with AI and merge suggested tags"
		},
		effect: func(cfg ActionConfig) (Effect, bool) {
			return Effect{Trigger: models.TriggerTagAdded, Field: "tags"}, true
		},
	})
	d.Register(models.ActionAIExtract, handler{
		execute: executeExtract,
		describe: func(cfg ActionConfig) string {
			return fmt.Sprintf("extract %v from the task with AI into custom fields", cfg.Strings("fields"))
		},
		effect: func(cfg ActionConfig) (Effect, bool) {
			return Effect{Trigger: models.TriggerFieldChanged}, true
		},
	})
	d.Register(models.ActionAITranslate, handler{
		execute: executeTranslate,
		describe: func(cfg ActionConfig) string {
			lang := orPlaceholder(cfg.FirstString("target_language", "language"))
			return fmt.Sprintf("translate the task to %s into field %s", lang, outputField(cfg, "translation_"+lang))
		},
		effect: func(cfg ActionConfig) (Effect, bool) {
			lang := cfg.FirstString("target_language", "language")
			return Effect{Trigger: models.TriggerFieldChanged, Field: outputField(cfg, "translation_"+lang)}, true
		},
	})
}

func outputField(cfg ActionConfig, def string) string {
	if f := cfg.String("output_field"); f != "" {
		return f
	}
	return def
}

// prepareAI checks the provider and loads the task. A nil task with nil error
// means skip.
func prepareAI(ctx context.Context, action models.ActionType, evt Event, c Collaborators) (*models.Task, Outcome, error) {
	if c.Completion == nil || !c.Completion.Available() {
		return nil, Outcome{}, notConnected(action, "AI")
	}
	return loadTask(ctx, action, evt, c)
}

// taskText is the content sent to the model: the configured text or the task itself.
func taskText(cfg ActionConfig, task *models.Task) string {
	if text := cfg.String("text"); text != "" {
		return utils.Truncate(text, aiInputLimit)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", task.Name)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}
	fmt.Fprintf(&b, "Status: %s\nPriority: %s\n", task.Status, task.Priority)
	if len(task.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(task.Tags, ", "))
	}
	return utils.Truncate(b.String(), aiInputLimit)
}

func completionConfig(cfg ActionConfig, jsonMode bool) CompletionConfig {
	cc := CompletionConfig{
		Model:     cfg.String("model"),
		MaxTokens: cfg.Int("max_tokens", 0),
		JSONMode:  jsonMode,
	}
	if t, ok := toFloat64(cfg["temperature"]); ok {
		cc.Temperature = float32(t)
	}
	return cc
}

func complete(ctx context.Context, action models.ActionType, c Collaborators, system, user string, cc CompletionConfig) (string, error) {
	text, err := c.Completion.Complete(ctx, []ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, cc)
	if err != nil {
		return "", providerError(action, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", providerError(action, fmt.Errorf("%w: empty completion", ErrUnparseableResponse))
	}
	return text, nil
}

// setTaskFields writes values into the task's custom fields and returns the keys that changed.
func setTaskFields(ctx context.Context, action models.ActionType, c Collaborators, task *models.Task, values map[string]interface{}) (*models.Task, []string, Outcome, error) {
	fields := datatypes.JSONMap{}
	for k, v := range task.Fields {
		fields[k] = v
	}
	var changed []string
	for k, v := range values {
		if prev, ok := fields[k]; ok && valuesEqual(prev, v) {
			continue
		}
		fields[k] = v
		changed = append(changed, k)
	}
	if len(changed) == 0 {
		return task, nil, Outcome{}, nil
	}
	sort.Strings(changed)
	updated, skip, err := updateTask(ctx, action, c, task.ID, map[string]interface{}{"fields": fields})
	if updated == nil {
		return nil, nil, skip, err
	}
	return updated, changed, Outcome{}, nil
}

func fieldFollowUps(before, after *models.Task, keys []string) []Event {
	events := make([]Event, 0, len(keys))
	for _, k := range keys {
		events = append(events, Event{
			Type:          models.TriggerFieldChanged,
			ScopeID:       after.BoardID,
			EntityID:      after.ID,
			Field:         k,
			PreviousValue: before.Fields[k],
			NewValue:      after.Fields[k],
		})
	}
	return events
}

func executeSummarize(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
	const action = models.ActionAISummarize
	task, skip, err := prepareAI(ctx, action, evt, c)
	if task == nil {
		return skip, err
	}

	maxWords := cfg.Int("max_words", 60)
	summary, err := complete(ctx, action, c,
		fmt.Sprintf("You summarize work items for a project board. Reply with a plain-text summary of at most %d words.", maxWords),
		taskText(cfg, task), completionConfig(cfg, false))
	if err != nil {
		return Outcome{}, err
	}

	field := outputField(cfg, "ai_summary")
	updated, changed, skip, err := setTaskFields(ctx, action, c, task, map[string]interface{}{field: summary})
	if updated == nil {
		return skip, err
	}
	out := completed("summary written to %s", field)
	out.Data = map[string]interface{}{"summary": summary}
	out.FollowUps = fieldFollowUps(task, updated, changed)
	return out, nil
}

type categorization struct {
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseCategorization(text string) (categorization, error) {
	var result categorization
	body := stripCodeFence(text)
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		// tolerate prose around a single JSON object
		start, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}')
		if start < 0 || end <= start {
			return result, fmt.Errorf("%w: %s", ErrUnparseableResponse, utils.Truncate(text, 120))
		}
		if err := json.Unmarshal([]byte(body[start:end+1]), &result); err != nil {
			return result, fmt.Errorf("%w: %v", ErrUnparseableResponse, err)
		}
	}
	result.Category = strings.TrimSpace(result.Category)
	tags := make([]string, 0, len(result.Tags))
	for _, t := range result.Tags {
		if t = utils.NormalizeTag(t); t != "" {
			tags = append(tags, t)
		}
	}
	result.Tags = tags
	return result, nil
}

func executeCategorize(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
	const action = models.ActionAICategorize
	task, skip, err := prepareAI(ctx, action, evt, c)
	if task == nil {
		return skip, err
	}

	prompt := `You categorize work items. Respond ONLY with a JSON object of the form {"category": "<category>", "tags": ["<tag>", ...]} with at most 5 short lowercase tags.`
	if cats := cfg.Strings("categories"); len(cats) > 0 {
		prompt += " The category must be one of: " + strings.Join(cats, ", ") + "."
	}
	text, err := complete(ctx, action, c, prompt, taskText(cfg, task), completionConfig(cfg, true))
	if err != nil {
		return Outcome{}, err
	}
	result, err := parseCategorization(text)
	if err != nil {
		return Outcome{}, providerError(action, err)
	}

	field := cfg.String("category_field")
	if field == "" {
		field = "category"
	}
	var extra map[string]interface{}
	if result.Category != "" && !valuesEqual(task.Fields[field], result.Category) {
		fields := datatypes.JSONMap{}
		for k, v := range task.Fields {
			fields[k] = v
		}
		fields[field] = result.Category
		extra = map[string]interface{}{"fields": fields}
	}

	updated, added, skip, err := applyTags(ctx, action, c, task, result.Tags, extra)
	if updated == nil {
		return skip, err
	}
	if len(added) == 0 && extra == nil {
		return completed("already categorized as %s", orPlaceholder(result.Category)), nil
	}

	out := completed("categorized as %s, added tags %v", orPlaceholder(result.Category), added)
	out.Data = map[string]interface{}{"category": result.Category, "tags": []string(updated.Tags)}
	out.FollowUps = tagFollowUps(updated, added)
	if extra != nil {
		out.FollowUps = append(out.FollowUps, fieldFollowUps(task, updated, []string{field})...)
	}
	return out, nil
}

func executeExtract(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
	const action = models.ActionAIExtract
	wanted := cfg.Strings("fields")
	if len(wanted) == 0 {
		return Outcome{}, configError(action, "fields is required")
	}
	task, skip, err := prepareAI(ctx, action, evt, c)
	if task == nil {
		return skip, err
	}

	prompt := fmt.Sprintf(`Extract the following fields from the work item: %s. Respond ONLY with a JSON object whose keys are exactly those field names; use null when a value is not present.`,
		strings.Join(wanted, ", "))
	text, err := complete(ctx, action, c, prompt, taskText(cfg, task), completionConfig(cfg, true))
	if err != nil {
		return Outcome{}, err
	}

	var extracted map[string]interface{}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &extracted); err != nil {
		return Outcome{}, providerError(action, fmt.Errorf("%w: %v", ErrUnparseableResponse, err))
	}

	values := make(map[string]interface{}, len(wanted))
	for _, k := range wanted {
		if v, ok := extracted[k]; ok && v != nil {
			values[k] = v
		}
	}
	if len(values) == 0 {
		return completed("no fields extracted"), nil
	}

	updated, changed, skip, err := setTaskFields(ctx, action, c, task, values)
	if updated == nil {
		return skip, err
	}
	out := completed("extracted %d of %d fields", len(values), len(wanted))
	out.Data = map[string]interface{}{"extracted": values}
	out.FollowUps = fieldFollowUps(task, updated, changed)
	return out, nil
}

func executeTranslate(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
	const action = models.ActionAITranslate
	lang := cfg.FirstString("target_language", "language")
	if lang == "" {
		return Outcome{}, configError(action, "target_language is required")
	}
	task, skip, err := prepareAI(ctx, action, evt, c)
	if task == nil {
		return skip, err
	}

	source := cfg.String("text")
	if source == "" {
		source = strings.TrimSpace(task.Name + "\n\n" + task.Description)
	}
	translated, err := complete(ctx, action, c,
		fmt.Sprintf("Translate the user's text into %s. Reply with the translation only.", lang),
		utils.Truncate(source, aiInputLimit), completionConfig(cfg, false))
	if err != nil {
		return Outcome{}, err
	}

	field := outputField(cfg, "translation_"+lang)
	updated, changed, skip, err := setTaskFields(ctx, action, c, task, map[string]interface{}{field: translated})
	if updated == nil {
		return skip, err
	}
	out := completed("translated to %s into %s", lang, field)
	out.Data = map[string]interface{}{"translation": translated}
	out.FollowUps = fieldFollowUps(task, updated, changed)
	return out, nil
}
