package auth

import "sort"

// Permission keys use <resource>:<action> form. The catalog is a closed,
// compile-time enumeration: the ADMIN fast path and the seed data both derive
// from it, so a key missing here does not exist anywhere in the system.
const (
	PermCourseRead      = "course:read"
	PermCourseCreate    = "course:create"
	PermCourseUpdate    = "course:update"
	PermCourseUpdateAny = "course:update_any"
	PermCoursePublish   = "course:publish"
	PermCourseDelete    = "course:delete"
	PermCourseDeleteAny = "course:delete_any"

	PermUnitRead      = "unit:read"
	PermUnitCreate    = "unit:create"
	PermUnitUpdate    = "unit:update"
	PermUnitUpdateAny = "unit:update_any"
	PermUnitPublish   = "unit:publish"
	PermUnitDelete    = "unit:delete"
	PermUnitDeleteAny = "unit:delete_any"

	PermPathRead   = "learning_path:read"
	PermPathCreate = "learning_path:create"
	PermPathUpdate = "learning_path:update"
	PermPathDelete = "learning_path:delete"

	PermUserRead             = "user:read"
	PermUserCreate           = "user:create"
	PermUserUpdate           = "user:update"
	PermUserDelete           = "user:delete"
	PermUserAssignRole       = "user:assign_role"
	PermUserAssignPermission = "user:assign_permission"
	PermUserImpersonate      = "user:impersonate"

	PermUserTypesRead = "user_types:read"

	PermGroupRead   = "group:read"
	PermGroupCreate = "group:create"
	PermGroupUpdate = "group:update"
	PermGroupDelete = "group:delete"

	PermBranchesRead   = "branches:read"
	PermBranchesCreate = "branches:create"
	PermBranchesUpdate = "branches:update"
	PermBranchesDelete = "branches:delete"

	PermDashboardRead = "dashboard:read"

	PermAssignmentRead   = "assignment:read"
	PermAssignmentCreate = "assignment:create"
	PermAssignmentUpdate = "assignment:update"
	PermAssignmentDelete = "assignment:delete"
	PermAssignmentAssign = "assignment:assign"

	PermSubmissionRead     = "submission:read"
	PermSubmissionCreate   = "submission:create"
	PermSubmissionGrade    = "submission:grade"
	PermSubmissionPublish  = "submission:publish"
	PermSubmissionDownload = "submission:download"

	PermReportsRead   = "reports:read"
	PermReportsExport = "reports:export"

	PermCalendarRead   = "calendar:read"
	PermCalendarCreate = "calendar:create"
	PermCalendarUpdate = "calendar:update"
	PermCalendarDelete = "calendar:delete"

	PermConferenceRead   = "conference:read"
	PermConferenceCreate = "conference:create"
	PermConferenceUpdate = "conference:update"
	PermConferenceDelete = "conference:delete"

	PermSkillsRead   = "skills:read"
	PermSkillsCreate = "skills:create"
	PermSkillsUpdate = "skills:update"
	PermSkillsDelete = "skills:delete"

	PermAutomationsRead   = "automations:read"
	PermAutomationsCreate = "automations:create"
	PermAutomationsUpdate = "automations:update"
	PermAutomationsDelete = "automations:delete"

	PermNotificationsRead   = "notifications:read"
	PermNotificationsCreate = "notifications:create"
	PermNotificationsUpdate = "notifications:update"
	PermNotificationsDelete = "notifications:delete"

	PermSecuritySessionsRead   = "security:sessions:read"
	PermSecuritySessionsRevoke = "security:sessions:revoke"
	PermSecurityAuditRead      = "security:audit:read"

	PermCertTemplateRead   = "certificate:template:read"
	PermCertTemplateCreate = "certificate:template:create"
	PermCertTemplateUpdate = "certificate:template:update"
	PermCertTemplateDelete = "certificate:template:delete"
	PermCertIssueRead      = "certificate:issue:read"
	PermCertIssueCreate    = "certificate:issue:create"
	PermCertViewOwn        = "certificate:view_own"

	PermRolesRead        = "roles:read"
	PermPermissionsRead  = "permissions:read"
	PermOrganizationRead = "organization:read"
)

var catalog = []string{
	PermCourseRead, PermCourseCreate, PermCourseUpdate, PermCourseUpdateAny,
	PermCoursePublish, PermCourseDelete, PermCourseDeleteAny,
	PermUnitRead, PermUnitCreate, PermUnitUpdate, PermUnitUpdateAny,
	PermUnitPublish, PermUnitDelete, PermUnitDeleteAny,
	PermPathRead, PermPathCreate, PermPathUpdate, PermPathDelete,
	PermUserRead, PermUserCreate, PermUserUpdate, PermUserDelete,
	PermUserAssignRole, PermUserAssignPermission, PermUserImpersonate,
	PermUserTypesRead,
	PermGroupRead, PermGroupCreate, PermGroupUpdate, PermGroupDelete,
	PermBranchesRead, PermBranchesCreate, PermBranchesUpdate, PermBranchesDelete,
	PermDashboardRead,
	PermAssignmentRead, PermAssignmentCreate, PermAssignmentUpdate,
	PermAssignmentDelete, PermAssignmentAssign,
	PermSubmissionRead, PermSubmissionCreate, PermSubmissionGrade,
	PermSubmissionPublish, PermSubmissionDownload,
	PermReportsRead, PermReportsExport,
	PermCalendarRead, PermCalendarCreate, PermCalendarUpdate, PermCalendarDelete,
	PermConferenceRead, PermConferenceCreate, PermConferenceUpdate, PermConferenceDelete,
	PermSkillsRead, PermSkillsCreate, PermSkillsUpdate, PermSkillsDelete,
	PermAutomationsRead, PermAutomationsCreate, PermAutomationsUpdate, PermAutomationsDelete,
	PermNotificationsRead, PermNotificationsCreate, PermNotificationsUpdate, PermNotificationsDelete,
	PermSecuritySessionsRead, PermSecuritySessionsRevoke, PermSecurityAuditRead,
	PermCertTemplateRead, PermCertTemplateCreate, PermCertTemplateUpdate, PermCertTemplateDelete,
	PermCertIssueRead, PermCertIssueCreate, PermCertViewOwn,
	PermRolesRead, PermPermissionsRead, PermOrganizationRead,
}

// Catalog returns the full permission catalog, sorted.
func Catalog() []string {
	out := make([]string, len(catalog))
	copy(out, catalog)
	sort.Strings(out)
	return out
}

// InCatalog reports whether key is a known permission.
func InCatalog(key string) bool {
	for _, p := range catalog {
		if p == key {
			return true
		}
	}
	return false
}

// DefaultRolePermissions is the built-in role/permission matrix used to seed
// storage. ADMIN is deliberately absent: it resolves to the full catalog by
// policy, not through role-permission rows.
var DefaultRolePermissions = map[RoleKey][]string{
	RoleSuperInstructor: {
		PermDashboardRead,
		PermCourseRead, PermCourseCreate, PermCourseUpdate, PermCourseUpdateAny,
		PermCoursePublish, PermCourseDelete,
		PermUnitRead, PermUnitCreate, PermUnitUpdate, PermUnitUpdateAny,
		PermUnitPublish, PermUnitDelete,
		PermPathRead, PermPathCreate, PermPathUpdate, PermPathDelete,
		PermGroupRead, PermGroupCreate, PermGroupUpdate, PermGroupDelete,
		PermUserRead, PermUserCreate, PermUserUpdate, PermUserDelete,
		PermAssignmentRead, PermAssignmentCreate, PermAssignmentUpdate,
		PermAssignmentDelete, PermAssignmentAssign,
		PermSubmissionRead, PermSubmissionGrade, PermSubmissionPublish, PermSubmissionDownload,
		PermReportsRead, PermReportsExport,
		PermCalendarRead, PermCalendarCreate, PermCalendarUpdate, PermCalendarDelete,
		PermConferenceRead, PermConferenceCreate, PermConferenceUpdate, PermConferenceDelete,
		PermSkillsRead, PermSkillsCreate, PermSkillsUpdate, PermSkillsDelete,
		PermCertTemplateRead, PermCertTemplateCreate, PermCertTemplateUpdate, PermCertTemplateDelete,
		PermCertIssueRead,
	},
	RoleInstructor: {
		PermDashboardRead,
		PermCourseRead, PermCourseCreate, PermCourseUpdate, PermCoursePublish,
		PermUnitRead, PermUnitCreate, PermUnitUpdate, PermUnitPublish, PermUnitDelete,
		PermPathRead, PermPathCreate, PermPathUpdate,
		PermGroupRead, PermGroupCreate, PermGroupUpdate, PermGroupDelete,
		PermUserRead,
		PermAssignmentRead, PermAssignmentCreate, PermAssignmentUpdate,
		PermAssignmentDelete, PermAssignmentAssign,
		PermSubmissionRead, PermSubmissionGrade, PermSubmissionPublish, PermSubmissionDownload,
		PermReportsRead,
		PermCalendarRead, PermCalendarCreate, PermCalendarUpdate, PermCalendarDelete,
		PermConferenceRead, PermConferenceCreate, PermConferenceUpdate, PermConferenceDelete,
		PermSkillsRead,
		PermCertTemplateRead, PermCertIssueRead,
	},
	RoleLearner: {
		PermCourseRead,
		PermUnitRead,
		PermPathRead,
		PermAssignmentRead,
		PermSubmissionRead, PermSubmissionCreate,
		PermCalendarRead,
		PermSkillsRead,
		PermCertViewOwn,
	},
}
