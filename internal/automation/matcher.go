package automation

import "boardflow/internal/models"

// MatchRules returns the rules whose trigger matches evt, preserving the
// store's order. It does not consult conditions or the cascade guard.
func MatchRules(evt Event, rules []models.AutomationRule) []models.AutomationRule {
	matched := make([]models.AutomationRule, 0, len(rules))
	for _, rule := range rules {
		if ruleMatches(rule, evt) {
			matched = append(matched, rule)
		}
	}
	return matched
}

func ruleMatches(rule models.AutomationRule, evt Event) bool {
	if !rule.Active {
		return false
	}
	if rule.TriggerType != evt.Type {
		return false
	}
	if rule.TriggerField != "" && rule.TriggerField != evt.Field {
		return false
	}
	if rule.TriggerValue != "" {
		// strict: only a string new value can equal the configured value
		nv, ok := evt.NewValue.(string)
		if !ok || nv != rule.TriggerValue {
			return false
		}
	}
	return true
}
