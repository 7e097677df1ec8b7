package rbac

import (
	"time"

	"github.com/platinummonkey/campus/pkg/auth"
)

// Role is a stored role definition
type Role struct {
	ID          string            `json:"id"`
	Name        auth.Role         `json:"name"`
	Description string            `json:"description"`
	Permissions []auth.Permission `json:"permissions"`
	IsActive    bool              `json:"isActive"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Assignment binds a principal to a role. The oldest assignment is the
// principal's primary role.
type Assignment struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	RoleID      string            `json:"roleId"`
	RoleName    auth.Role         `json:"roleName"`
	Permissions []auth.Permission `json:"permissions"`
	SchoolID    *string           `json:"schoolId,omitempty"`
	GrantedAt   time.Time         `json:"grantedAt"`
}

// Requirement is the access rule attached to a route. Empty fields impose no
// constraint. Permissions are satisfied by holding any one of them.
type Requirement struct {
	Roles       []auth.Role       `json:"roles,omitempty" yaml:"roles,omitempty"`
	Permissions []auth.Permission `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// IsZero reports whether the requirement allows any authenticated caller
func (r Requirement) IsZero() bool {
	return len(r.Roles) == 0 && len(r.Permissions) == 0
}

// BuiltInRoles returns the fixed role catalog seeded at startup
func BuiltInRoles() []Role {
	return []Role{
		{
			Name:        auth.RoleSuperAdmin,
			Description: "Platform operator across all schools",
			Permissions: []auth.Permission{
				auth.PermManageAllSchools,
				auth.PermApproveSchools,
				auth.PermSuspendSchools,
				auth.PermManageSubscriptions,
				auth.PermViewSystemAnalytics,
			},
		},
		{
			Name:        auth.RoleSchoolAdmin,
			Description: "Administrator of a single school",
			Permissions: []auth.Permission{
				auth.PermManageSchoolProfile,
				auth.PermManageClasses,
				auth.PermManageSections,
				auth.PermManageSubjects,
				auth.PermManageStudents,
				auth.PermManageTeachers,
				auth.PermManageStaff,
				auth.PermViewAttendance,
				auth.PermManageExams,
				auth.PermManageResults,
				auth.PermManageFees,
				auth.PermSendNotices,
			},
		},
		{
			Name:        auth.RoleTeacher,
			Description: "Teaching staff",
			Permissions: []auth.Permission{
				auth.PermTakeAttendance,
				auth.PermUploadHomework,
				auth.PermUploadMaterials,
				auth.PermEnterExamMarks,
				auth.PermSendClassNotices,
				auth.PermCommunicateParents,
				auth.PermViewAssignedClasses,
				auth.PermViewStudentData,
			},
		},
		{
			Name:        auth.RoleParent,
			Description: "Parent or guardian of enrolled students",
			Permissions: []auth.Permission{
				auth.PermViewChildAttendance,
				auth.PermViewHomework,
				auth.PermViewNotices,
				auth.PermViewExamResults,
				auth.PermViewPerformance,
				auth.PermViewFees,
				auth.PermCommunicateTeachers,
			},
		},
		{
			Name:        auth.RoleStudent,
			Description: "Enrolled student",
			Permissions: []auth.Permission{
				auth.PermViewOwnHomework,
				auth.PermViewOwnResults,
				auth.PermViewClassRoutine,
				auth.PermViewOwnNotices,
			},
		},
	}
}
