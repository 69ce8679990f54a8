package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"boardflow/internal/models"
	"boardflow/pkg/utils"
)

// Notification channels.
const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelChat  = "chat"
)

func registerNotificationHandlers(d *Dispatcher) {
	d.Register(models.ActionSendNotification, notifyHandler(models.ActionSendNotification, ChannelInApp))
	d.Register(models.ActionSendEmail, notifyHandler(models.ActionSendEmail, ChannelEmail))
	d.Register(models.ActionSendChatMessage, notifyHandler(models.ActionSendChatMessage, ChannelChat))
}

func notifyHandler(action models.ActionType, channel string) handler {
	return handler{
		execute: func(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
			return executeNotify(ctx, action, channel, evt, cfg, c)
		},
		describe: func(cfg ActionConfig) string {
			to := recipientFrom(channel, cfg)
			if to == "" {
				to = "the task assignee"
			}
			return fmt.Sprintf("queue a %s message to %s", channel, to)
		},
	}
}

func recipientFrom(channel string, cfg ActionConfig) string {
	switch channel {
	case ChannelEmail:
		return cfg.FirstString("to", "email", "recipient")
	case ChannelChat:
		return cfg.FirstString("channel", "channel_id", "recipient")
	default:
		return cfg.FirstString("recipient", "user_id", "person_id")
	}
}

func executeNotify(ctx context.Context, action models.ActionType, channel string, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
	if c.Notifier == nil {
		return Outcome{}, notConnected(action, "notification")
	}

	// The task only enriches the message; a missing task does not block delivery.
	var task *models.Task
	if evt.EntityID != "" && c.Store != nil {
		t, err := c.Store.GetEntity(ctx, evt.EntityID)
		if err != nil && !errors.Is(err, ErrEntityNotFound) {
			return Outcome{}, storeError(action, err)
		}
		task = t
	}

	recipient := recipientFrom(channel, cfg)
	if recipient == "" && channel == ChannelInApp && task != nil {
		recipient = task.AssigneeID
	}
	if recipient == "" && channel != ChannelInApp {
		return Outcome{}, configError(action, "recipient is required for %s", channel)
	}

	body := cfg.FirstString("message", "body", "text")
	if body == "" {
		body = defaultNotificationBody(evt)
	}
	subject := cfg.String("subject")
	if subject == "" && channel == ChannelEmail {
		subject = "Automation update"
	}

	n := &models.Notification{
		ID:        utils.GenerateID(),
		BoardID:   evt.ScopeID,
		TaskID:    evt.EntityID,
		Channel:   channel,
		Recipient: recipient,
		Subject:   renderTemplate(subject, evt, task),
		Body:      renderTemplate(body, evt, task),
		Status:    "queued",
		CreatedAt: c.now(),
	}
	if err := c.Notifier.Enqueue(ctx, n); err != nil {
		return Outcome{}, providerError(action, fmt.Errorf("enqueue %s notification: %w", channel, err))
	}

	target := recipient
	if target == "" {
		target = "board " + evt.ScopeID
	}
	out := completed("%s notification queued for %s", channel, target)
	out.Data = map[string]interface{}{"notification_id": n.ID}
	return out, nil
}

func defaultNotificationBody(evt Event) string {
	if evt.Field != "" {
		return fmt.Sprintf("{{task_name}}: %s changed from {{previous_value}} to {{new_value}}", evt.Field)
	}
	return fmt.Sprintf("{{task_name}}: %s", strings.ReplaceAll(string(evt.Type), "_", " "))
}

// renderTemplate substitutes {{placeholders}} from the event and task.
func renderTemplate(s string, evt Event, task *models.Task) string {
	if s == "" || !strings.Contains(s, "{{") {
		return s
	}
	name := evt.EntityID
	status, priority, due := "", "", ""
	if task != nil {
		name, status, priority = task.Name, task.Status, task.Priority
		if task.DueDate != nil {
			due = utils.FormatTime(task.DueDate.UTC())
		}
	}
	r := strings.NewReplacer(
		"{{task_name}}", name,
		"{{task_id}}", evt.EntityID,
		"{{board_id}}", evt.ScopeID,
		"{{field}}", evt.Field,
		"{{previous_value}}", stringify(evt.PreviousValue),
		"{{new_value}}", stringify(evt.NewValue),
		"{{status}}", status,
		"{{priority}}", priority,
		"{{due_date}}", due,
		"{{trigger}}", string(evt.Type),
	)
	return r.Replace(s)
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
