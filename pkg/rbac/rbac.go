package rbac

// 权限常量
const (
	// 普通操作权限
	PermissionReadMilestone   = "milestone:read"
	PermissionCreateMilestone = "milestone:create"
	PermissionWriteProgress   = "progress:write"
	PermissionIngestSnapshot  = "snapshot:ingest"

	// 敏感操作权限
	PermissionOverrideStatus  = "milestone:override"
	PermissionDeleteMilestone = "milestone:delete"
)

// 角色常量
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleMember: {
		PermissionReadMilestone,
		PermissionCreateMilestone,
		PermissionWriteProgress,
		PermissionIngestSnapshot,
	},
	RoleAdmin: {
		PermissionReadMilestone,
		PermissionCreateMilestone,
		PermissionWriteProgress,
		PermissionIngestSnapshot,
		PermissionOverrideStatus,
		PermissionDeleteMilestone,
	},
}

// HasPermission 检查角色是否有指定权限；未知角色没有任何权限
func HasPermission(role, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}

// ValidateGroupIDInPayload 验证 payload 中的 group_id 是否与 token 中的 group_id 匹配
func ValidateGroupIDInPayload(tokenGroupID, payloadGroupID int64) error {
	if payloadGroupID != tokenGroupID {
		return &GroupIDMismatchError{
			TokenGroupID:   tokenGroupID,
			PayloadGroupID: payloadGroupID,
		}
	}
	return nil
}

// GroupIDMismatchError 表示 group_id 不匹配的错误
type GroupIDMismatchError struct {
	TokenGroupID   int64
	PayloadGroupID int64
}

func (e *GroupIDMismatchError) Error() string {
	return "group_id in payload does not match token"
}
