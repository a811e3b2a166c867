package repo

import (
	"crm/entity"
)

// ToScopeConditions translates an access scope into SQL conditions so that
// list queries filter in the database instead of post-filtering pages in
// memory. Must stay in lockstep with entity.Scope.Match.
func ToScopeConditions(scope entity.Scope) []*Condition {
	switch scope.GetRole() {
	case entity.RoleSuperAdmin, entity.RoleAdmin:
		return nil
	case entity.RoleSalesManager:
		if scope.GetDepartment() == "" {
			return []*Condition{
				{Field: "owner_id", Value: scope.GetUserID(), Op: OpEq},
			}
		}
		return []*Condition{
			{
				Group: []*Condition{
					{Field: "owner_id", Value: scope.GetUserID(), Op: OpEq, NextLogicalOp: Or},
					{Field: "department", Value: scope.GetDepartment(), Op: OpEq},
				},
			},
		}
	case entity.RoleSalesRep:
		return []*Condition{
			{Field: "owner_id", Value: scope.GetUserID(), Op: OpEq},
		}
	case entity.RoleMarketing:
		if scope.GetKind() == entity.ResourceLead {
			return []*Condition{
				{Field: "creator_id", Value: scope.GetUserID(), Op: OpEq},
			}
		}
		// only templates carry a shared flag
		if scope.GetKind() == entity.ResourceTemplate {
			return []*Condition{
				{
					Group: []*Condition{
						{Field: "owner_id", Value: scope.GetUserID(), Op: OpEq, NextLogicalOp: Or},
						{Field: "shared", Value: true, Op: OpEq},
					},
				},
			}
		}
		return []*Condition{
			{Field: "owner_id", Value: scope.GetUserID(), Op: OpEq},
		}
	default:
		// unknown role sees nothing
		return []*Condition{
			{Field: "id", Value: uint64(0), Op: OpEq},
		}
	}
}
