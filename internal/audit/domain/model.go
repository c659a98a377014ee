// Package domain defines the append-only audit trail.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldbill/fieldbill/pkg/db/pagination"
	"gorm.io/datatypes"
)

// AuditLog is one recorded action against a billing entity.
type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	CompanyID  snowflake.ID      `json:"company_id" gorm:"not null;index"`
	ActorID    string            `json:"actor_id" gorm:"type:text"`
	ActorRole  string            `json:"actor_role" gorm:"type:text"`
	Action     string            `json:"action" gorm:"type:text;not null"`
	TargetType string            `json:"target_type" gorm:"type:text;not null"`
	TargetID   string            `json:"target_id" gorm:"type:text;index"`
	Metadata   datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;index"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

// ListFilter narrows an audit log listing.
type ListFilter struct {
	CompanyID  snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *pagination.Cursor
	Limit      int
}
