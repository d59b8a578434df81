package db

import (
	"time"

	"gorm.io/gorm"
)

// AccessToken 是文档存储服务签发的 bearer token。
// AccessToken 与 RefreshToken 均唯一；ExpiresAt 之后访问令牌失效，刷新令牌仍可换取新令牌。
type AccessToken struct {
	gorm.Model
	UserID       uint      `gorm:"index;not null"`
	User         User      `gorm:"constraint:OnDelete:CASCADE"`
	ClientID     string    `gorm:"size:100"`
	AccessToken  string    `gorm:"size:100;uniqueIndex;not null"`
	RefreshToken string    `gorm:"size:100;uniqueIndex;not null"`
	ExpiresAt    time.Time `gorm:"index"`
}

// Container 是某个用户名下的文档容器（对应远端的应用文件夹）。
// 同一用户下 Name 唯一。
type Container struct {
	gorm.Model
	PublicID string `gorm:"size:64;uniqueIndex;not null"`
	UserID   uint   `gorm:"index:idx_container_owner_name,unique;not null"`
	Name     string `gorm:"size:200;index:idx_container_owner_name,unique;not null"`
}

// Document 是容器中的一个 JSON 文档。
type Document struct {
	gorm.Model
	PublicID    string    `gorm:"size:64;uniqueIndex;not null"`
	ContainerID uint      `gorm:"index;not null"`
	Container   Container `gorm:"constraint:OnDelete:CASCADE"`
	Name        string    `gorm:"size:200;index"`
	Content     string    `gorm:"type:text"`
	// Revision 每次写入递增。
	Revision int64
}
