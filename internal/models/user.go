package models

// UserRole 是用户在工地项目中的角色。
type UserRole string

const (
	RoleAreaManager UserRole = "area_manager"
	RoleCEO         UserRole = "ceo"
	RolePM          UserRole = "pm"
	RolePIC         UserRole = "pic"
	RoleHRSite      UserRole = "hr_site"
	RoleStaff       UserRole = "staff"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r UserRole) bool {
	switch r {
	case RoleAreaManager, RoleCEO, RolePM, RolePIC, RoleHRSite, RoleStaff:
		return true
	}
	return false
}

// User 代表系统中的用户。认证由上游负责，这里只保存聊天需要的资料。
type User struct {
	BaseModel
	Username  string   `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Nickname  string   `gorm:"type:varchar(100)" json:"nickname,omitempty"`
	Role      UserRole `gorm:"type:varchar(20);not null;default:'staff'" json:"role"`
	AvatarURL string   `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
}

// DisplayName 返回昵称，没有昵称时返回用户名。
func (u *User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}

// ProjectMember 记录用户属于哪个工地项目，决定 project 房间和讨论区的访问权限。
type ProjectMember struct {
	ID        uint `gorm:"primarykey" json:"id"`
	ProjectID uint `gorm:"not null;uniqueIndex:idx_project_user" json:"projectId"`
	UserID    uint `gorm:"not null;uniqueIndex:idx_project_user;index" json:"userId"`
}

func (ProjectMember) TableName() string {
	return "project_members"
}
