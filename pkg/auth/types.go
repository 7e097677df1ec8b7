package auth

import "time"

// Role is the name of a role in the closed role catalog
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"  // Platform operator, not bound to a school
	RoleSchoolAdmin Role = "school_admin" // Administers one school
	RoleTeacher     Role = "teacher"
	RoleParent      Role = "parent"
	RoleStudent     Role = "student"
)

// Roles returns every role in the catalog
func Roles() []Role {
	return []Role{RoleSuperAdmin, RoleSchoolAdmin, RoleTeacher, RoleParent, RoleStudent}
}

// Valid reports whether r belongs to the role catalog
func (r Role) Valid() bool {
	for _, known := range Roles() {
		if r == known {
			return true
		}
	}
	return false
}

// Permission is an opaque token naming one granted capability
type Permission string

const (
	// Platform
	PermManageAllSchools    Permission = "manage_all_schools"
	PermApproveSchools      Permission = "approve_schools"
	PermSuspendSchools      Permission = "suspend_schools"
	PermManageSubscriptions Permission = "manage_subscriptions"
	PermViewSystemAnalytics Permission = "view_system_analytics"

	// School administration
	PermManageSchoolProfile Permission = "manage_school_profile"
	PermManageClasses       Permission = "manage_classes"
	PermManageSections      Permission = "manage_sections"
	PermManageSubjects      Permission = "manage_subjects"
	PermManageStudents      Permission = "manage_students"
	PermManageTeachers      Permission = "manage_teachers"
	PermManageStaff         Permission = "manage_staff"
	PermViewAttendance      Permission = "view_attendance"
	PermManageExams         Permission = "manage_exams"
	PermManageResults       Permission = "manage_results"
	PermManageFees          Permission = "manage_fees"
	PermSendNotices         Permission = "send_notices"

	// Teaching
	PermTakeAttendance      Permission = "take_attendance"
	PermUploadHomework      Permission = "upload_homework"
	PermUploadMaterials     Permission = "upload_materials"
	PermEnterExamMarks      Permission = "enter_exam_marks"
	PermSendClassNotices    Permission = "send_class_notices"
	PermCommunicateParents  Permission = "communicate_parents"
	PermViewAssignedClasses Permission = "view_assigned_classes"
	PermViewStudentData     Permission = "view_student_data"

	// Parents
	PermViewChildAttendance Permission = "view_child_attendance"
	PermViewHomework        Permission = "view_homework"
	PermViewNotices         Permission = "view_notices"
	PermViewExamResults     Permission = "view_exam_results"
	PermViewPerformance     Permission = "view_performance"
	PermViewFees            Permission = "view_fees"
	PermCommunicateTeachers Permission = "communicate_teachers"

	// Students
	PermViewOwnHomework  Permission = "view_own_homework"
	PermViewOwnResults   Permission = "view_own_results"
	PermViewClassRoutine Permission = "view_class_routine"
	PermViewOwnNotices   Permission = "view_own_notices"
)

// Principal is a stored account
type Principal struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	FirstName        string     `json:"firstName"`
	LastName         string     `json:"lastName"`
	Phone            *string    `json:"phone,omitempty"`
	SchoolID         *string    `json:"schoolId,omitempty"` // nil only for super_admin
	IsActive         bool       `json:"isActive"`
	RefreshTokenHash *string    `json:"-"`
	LastLoginAt      *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Resolution is the outcome of resolving a principal's role assignments
type Resolution struct {
	PrimaryRole Role
	Permissions []Permission
}

// PrincipalSummary is the identity summary returned by login, refresh and lookups
type PrincipalSummary struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	FirstName   string       `json:"firstName"`
	LastName    string       `json:"lastName"`
	Role        Role         `json:"role"`
	SchoolID    *string      `json:"schoolId,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Profile is the full view of the calling principal
type Profile struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	FirstName   string       `json:"firstName"`
	LastName    string       `json:"lastName"`
	Phone       *string      `json:"phone,omitempty"`
	Role        Role         `json:"role"`
	SchoolID    *string      `json:"schoolId,omitempty"`
	Permissions []Permission `json:"permissions"`
	LastLoginAt *time.Time   `json:"lastLoginAt,omitempty"`
}

// LoginResult is returned by a successful login
type LoginResult struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	User         *PrincipalSummary `json:"user"`
}

// RefreshResult is returned by a successful refresh
type RefreshResult struct {
	AccessToken string            `json:"accessToken"`
	User        *PrincipalSummary `json:"user"`
}

// RegisterRequest describes a new principal
type RegisterRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Phone     *string `json:"phone,omitempty"`
	Role      Role    `json:"role"`
	SchoolID  *string `json:"schoolId,omitempty"`
}

// ListFilter narrows a principal listing
type ListFilter struct {
	SchoolID *string // nil means every school
	Limit    int
	Offset   int
}

// PrincipalContext is the verified identity of the caller of a request
type PrincipalContext struct {
	UserID      string       `json:"userId"`
	Email       string       `json:"email"`
	Role        Role         `json:"role"`
	SchoolID    *string      `json:"schoolId,omitempty"`
	Permissions []Permission `json:"permissions"`
	AccessToken string       `json:"-"`
}

// IsSuperAdmin reports whether the caller holds the top-level role
func (pc *PrincipalContext) IsSuperAdmin() bool {
	return pc != nil && pc.Role == RoleSuperAdmin
}

// HasPermission checks if the caller holds perm
func (pc *PrincipalContext) HasPermission(perm Permission) bool {
	if pc == nil {
		return false
	}
	for _, p := range pc.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// HasAnyPermission checks if the caller holds at least one of perms
func (pc *PrincipalContext) HasAnyPermission(perms ...Permission) bool {
	for _, perm := range perms {
		if pc.HasPermission(perm) {
			return true
		}
	}
	return false
}
