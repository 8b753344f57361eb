package authz

import (
	"context"
	"errors"
	"fmt"

	"crewdesk.org/internal/auth"
)

// ruleKind enumerates the closed set of access rule variants. Every
// resource's policy is a list of these combined with OR semantics, so each
// policy is auditable in one table below instead of scattered predicates.
type ruleKind int

const (
	ruleRole               ruleKind = iota // principal holds a specific global role
	ruleOwnership                          // principal owns/created the resource
	ruleAssignment                         // principal is assigned to the task
	ruleCollaboration                      // principal is a project collaborator
	ruleExplicitPermission                 // principal holds a specific permission grant
	ruleAnyPermission                      // principal has any grant entry at all
)

type rule struct {
	kind ruleKind
	role auth.Role  // ruleRole
	perm Permission // ruleExplicitPermission
}

// Task policy. Delete deliberately has no role rule: MANAGER may edit any
// task but never delete one it does not own.
var taskRules = map[Action][]rule{
	ActionView:   {{kind: ruleRole, role: auth.RoleManager}, {kind: ruleOwnership}, {kind: ruleAssignment}},
	ActionModify: {{kind: ruleRole, role: auth.RoleManager}, {kind: ruleOwnership}, {kind: ruleAssignment}},
	ActionDelete: {{kind: ruleOwnership}},
}

// Project policy. Delete is empty: only the admin override grants it.
var projectRules = map[Action][]rule{
	ActionView:                {{kind: ruleOwnership}, {kind: ruleCollaboration}, {kind: ruleAnyPermission}},
	ActionModify:              {{kind: ruleOwnership}},
	ActionArchive:             {{kind: ruleOwnership}},
	ActionManageCollaborators: {{kind: ruleOwnership}, {kind: ruleExplicitPermission, perm: PermissionAdmin}},
	ActionDelete:              {},
}

// Engine is the single authorization decision point. Given a principal, a
// resource and an action it returns nil (allow), ErrForbidden or
// ErrNotFound. It holds no mutable state; checks may run fully in parallel.
type Engine struct {
	facts FactProvider
}

// NewEngine constructs an Engine over a fact provider.
func NewEngine(facts FactProvider) (*Engine, error) {
	if facts == nil {
		return nil, errors.New("authz: fact provider is required")
	}
	return &Engine{facts: facts}, nil
}

// Authorize evaluates the policy for one principal/resource/action triple.
// Evaluation order is fixed: resource existence first (so soft-deleted tasks
// and projects mask as not found for everyone), then the admin override,
// then the resource-kind rules. No rule matching means deny.
func (e *Engine) Authorize(ctx context.Context, p auth.Principal, res Resource, action Action) error {
	if !p.IsActive {
		return ErrForbidden
	}
	switch res.Kind {
	case KindTask:
		return e.authorizeTask(ctx, p, res.ID, action)
	case KindProject:
		return e.authorizeProject(ctx, p, res.ID, action)
	case KindThread:
		return e.authorizeThread(ctx, p, res.ID, action)
	case KindMessage:
		return e.authorizeMessage(ctx, p, res.ID, action)
	case KindUser:
		return e.authorizeAccount(ctx, p, res.ID, action)
	}
	return fmt.Errorf("authz: unknown resource kind %q", res.Kind)
}

// AuthorizeRoleChange decides whether the principal may set newRole on the
// target account. Nobody, including an admin, may change their own role.
func (e *Engine) AuthorizeRoleChange(ctx context.Context, p auth.Principal, targetID string, newRole auth.Role) error {
	if !p.IsActive {
		return ErrForbidden
	}
	target, err := e.facts.UserFacts(ctx, targetID)
	if err != nil {
		return err
	}
	if p.ID == target.ID {
		return ErrForbidden
	}
	switch p.Role {
	case auth.RoleAdmin:
		return nil
	case auth.RoleManager:
		// A manager may move accounts between MEMBER and MANAGER but can
		// neither grant nor revoke ADMIN.
		if newRole == auth.RoleAdmin || target.Role == auth.RoleAdmin {
			return ErrForbidden
		}
		return nil
	}
	return ErrForbidden
}

func (e *Engine) authorizeTask(ctx context.Context, p auth.Principal, taskID string, action Action) error {
	facts, err := e.facts.TaskFacts(ctx, taskID)
	if err != nil {
		return err
	}
	if p.Role == auth.RoleAdmin {
		return nil
	}
	rules, ok := taskRules[action]
	if !ok {
		return ErrForbidden
	}
	for _, r := range rules {
		switch r.kind {
		case ruleRole:
			if p.Role == r.role {
				return nil
			}
		case ruleOwnership:
			if p.ID == facts.OwnerID {
				return nil
			}
		case ruleAssignment:
			if facts.IsAssignee(p.ID) {
				return nil
			}
		}
	}
	return ErrForbidden
}

func (e *Engine) authorizeProject(ctx context.Context, p auth.Principal, projectID string, action Action) error {
	facts, err := e.facts.ProjectFacts(ctx, projectID)
	if err != nil {
		return err
	}
	if p.Role == auth.RoleAdmin {
		return nil
	}
	rules, ok := projectRules[action]
	if !ok {
		return ErrForbidden
	}
	for _, r := range rules {
		switch r.kind {
		case ruleOwnership:
			if p.ID == facts.CreatorID {
				return nil
			}
		case ruleCollaboration:
			if facts.IsCollaborator(p.ID) {
				return nil
			}
		case ruleExplicitPermission:
			if facts.Permissions[p.ID] == r.perm {
				return nil
			}
		case ruleAnyPermission:
			if _, ok := facts.Permissions[p.ID]; ok {
				return nil
			}
		}
	}
	return ErrForbidden
}

// authorizeThread handles chat thread view/post. A task-linked thread
// inherits the task view rule; a standalone thread grants view by
// participation and allows any active principal to post, which is how
// participation is first established.
func (e *Engine) authorizeThread(ctx context.Context, p auth.Principal, threadKey string, action Action) error {
	if action != ActionView && action != ActionPost {
		return ErrForbidden
	}
	taskID, err := e.facts.ThreadTaskID(ctx, threadKey)
	if err != nil {
		return err
	}
	if taskID != "" {
		return e.authorizeTask(ctx, p, taskID, ActionView)
	}
	if p.Role == auth.RoleAdmin {
		return nil
	}
	if action == ActionPost {
		return nil
	}
	posted, err := e.facts.HasPosted(ctx, threadKey, p.ID)
	if err != nil {
		return err
	}
	if posted {
		return nil
	}
	return ErrForbidden
}

func (e *Engine) authorizeMessage(ctx context.Context, p auth.Principal, messageID string, action Action) error {
	if action != ActionModify && action != ActionDelete {
		return ErrForbidden
	}
	facts, err := e.facts.MessageFacts(ctx, messageID)
	if err != nil {
		return err
	}
	if p.Role == auth.RoleAdmin {
		return nil
	}
	if facts.AuthorID == p.ID {
		return nil
	}
	return ErrForbidden
}

// authorizeAccount covers user-account edit and delete. The admin override
// excludes self-deletion; account edit by an admin of their own record stays
// allowed.
func (e *Engine) authorizeAccount(ctx context.Context, p auth.Principal, targetID string, action Action) error {
	target, err := e.facts.UserFacts(ctx, targetID)
	if err != nil {
		return err
	}
	switch action {
	case ActionModify:
		if p.Role == auth.RoleAdmin {
			return nil
		}
		if p.Role == auth.RoleManager && target.Role != auth.RoleAdmin {
			return nil
		}
	case ActionDelete:
		if p.Role == auth.RoleAdmin && p.ID != target.ID {
			return nil
		}
	}
	return ErrForbidden
}
