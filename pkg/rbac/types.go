package rbac

import (
	"fmt"
	"strings"
)

// Resource represents a resource type in the system
type Resource string

const (
	ResourcePost         Resource = "post"
	ResourceComment      Resource = "comment"
	ResourceThread       Resource = "thread"
	ResourceMember       Resource = "member"
	ResourceRole         Resource = "role"
	ResourceOrganization Resource = "organization"
	ResourceReport       Resource = "report"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionCreate   Action = "create"
	ActionRead     Action = "read"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionModerate Action = "moderate"
	ActionInvite   Action = "invite"
	ActionRemove   Action = "remove"
	ActionManage   Action = "manage"
)

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource Resource `json:"resource" yaml:"resource"`
	Action   Action   `json:"action" yaml:"action"`
}

// String returns a string representation of the permission
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// ParsePermission parses "resource:action".
func ParsePermission(s string) (Permission, error) {
	res, act, ok := strings.Cut(s, ":")
	if !ok || res == "" || act == "" {
		return Permission{}, fmt.Errorf("invalid permission %q: want resource:action", s)
	}
	return Permission{Resource: Resource(res), Action: Action(act)}, nil
}

// RolePermission is one row of the tenant-scoped permission table.
type RolePermission struct {
	TenantID int64    `json:"organizationId" yaml:"-"`
	RoleID   string   `json:"roleId" yaml:"role"`
	Resource Resource `json:"resource" yaml:"resource"`
	Action   Action   `json:"action" yaml:"action"`
	Allowed  bool     `json:"allowed" yaml:"allowed"`
}

// Permission returns the resource/action pair of the row.
func (rp RolePermission) Permission() Permission {
	return Permission{Resource: rp.Resource, Action: rp.Action}
}

// Built-in role identifiers
const (
	RoleOwner     = "owner"
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleMember    = "member"
)

// BuiltInGrants returns the permissions seeded for a new organization.
func BuiltInGrants() map[string][]Permission {
	member := []Permission{
		{Resource: ResourcePost, Action: ActionCreate},
		{Resource: ResourcePost, Action: ActionRead},
		{Resource: ResourceComment, Action: ActionCreate},
		{Resource: ResourceComment, Action: ActionRead},
		{Resource: ResourceThread, Action: ActionRead},
		{Resource: ResourceReport, Action: ActionCreate},
	}
	moderator := append(append([]Permission(nil), member...),
		Permission{Resource: ResourcePost, Action: ActionModerate},
		Permission{Resource: ResourcePost, Action: ActionDelete},
		Permission{Resource: ResourceComment, Action: ActionModerate},
		Permission{Resource: ResourceComment, Action: ActionDelete},
		Permission{Resource: ResourceThread, Action: ActionModerate},
		Permission{Resource: ResourceReport, Action: ActionRead},
		Permission{Resource: ResourceReport, Action: ActionUpdate},
	)
	admin := append(append([]Permission(nil), moderator...),
		Permission{Resource: ResourceThread, Action: ActionCreate},
		Permission{Resource: ResourceThread, Action: ActionDelete},
		Permission{Resource: ResourceMember, Action: ActionInvite},
		Permission{Resource: ResourceMember, Action: ActionRemove},
		Permission{Resource: ResourceRole, Action: ActionRead},
		Permission{Resource: ResourceRole, Action: ActionUpdate},
	)
	owner := append(append([]Permission(nil), admin...),
		Permission{Resource: ResourceOrganization, Action: ActionUpdate},
		Permission{Resource: ResourceOrganization, Action: ActionDelete},
		Permission{Resource: ResourceRole, Action: ActionManage},
	)
	return map[string][]Permission{
		RoleOwner:     owner,
		RoleAdmin:     admin,
		RoleModerator: moderator,
		RoleMember:    member,
	}
}
