package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem   ActorType = "system"
	ActorTypeAdmin    ActorType = "admin"
	ActorTypeWorker   ActorType = "worker"
	ActorTypeBusiness ActorType = "business"
)

type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	ActorType  string            `json:"actor_type" gorm:"column:actor_type;not null"`
	ActorID    *string           `json:"actor_id,omitempty" gorm:"column:actor_id"`
	Action     string            `json:"action" gorm:"column:action;not null"`
	TargetType string            `json:"target_type" gorm:"column:target_type;not null"`
	TargetID   *string           `json:"target_id,omitempty" gorm:"column:target_id"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty" gorm:"column:metadata;type:jsonb"`
	IPAddress  *string           `json:"ip_address,omitempty" gorm:"column:ip_address"`
	UserAgent  *string           `json:"user_agent,omitempty" gorm:"column:user_agent"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
