package automation

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// PermissionRequest is the input document handed to the policy.
type PermissionRequest struct {
	ActorID    string `json:"actor_id"`
	ActorRole  string `json:"actor_role"`
	Permission string `json:"permission"`
	BoardID    string `json:"board_id"`
	EntityID   string `json:"entity_id"`
}

// PermissionChecker decides permission conditions.
type PermissionChecker interface {
	Allowed(ctx context.Context, req PermissionRequest) (bool, error)
}

// PolicyPermissionChecker evaluates a prepared rego query.
type PolicyPermissionChecker struct {
	query rego.PreparedEvalQuery
}

// NewPolicyPermissionChecker compiles policy; an empty policy uses DefaultPermissionPolicy.
func NewPolicyPermissionChecker(ctx context.Context, policy string) (*PolicyPermissionChecker, error) {
	if policy == "" {
		policy = DefaultPermissionPolicy
	}
	r := rego.New(
		rego.Query("data.automation.permissions.allow"),
		rego.Module("automation_permissions.rego", policy),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &PolicyPermissionChecker{query: query}, nil
}

func (p *PolicyPermissionChecker) Allowed(ctx context.Context, req PermissionRequest) (bool, error) {
	input := map[string]interface{}{
		"actor_id":   req.ActorID,
		"actor_role": req.ActorRole,
		"permission": req.Permission,
		"board_id":   req.BoardID,
		"entity_id":  req.EntityID,
	}
	results, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy returned %T, want bool", results[0].Expressions[0].Value)
	}
	return allowed, nil
}

// DefaultPermissionPolicy grants admins everything, members task edits, and
// viewers only read access.
const DefaultPermissionPolicy = `
package automation.permissions

default allow = false

allow {
	input.actor_role == "admin"
}

allow {
	input.actor_role == "member"
	member_permissions[input.permission]
}

allow {
	input.actor_role == "viewer"
	input.permission == "task:read"
}

member_permissions = {"task:read", "task:edit", "task:assign", "automation:run"}
`
