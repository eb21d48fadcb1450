package models

import (
	"time"

	"gorm.io/datatypes"
)

// Activity is an extracurricular offering. The name is the primary key and is case-sensitive.
// Capacity is fixed once the activity is created.
type Activity struct {
	Name        string    `gorm:"primaryKey;size:255" json:"name"`
	Description string    `gorm:"type:text;not null" json:"description"`
	Schedule    string    `gorm:"size:255;not null" json:"schedule"`
	Capacity    int       `gorm:"not null;check:capacity > 0" json:"max_participants"`
	Seq         int       `gorm:"not null;index" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Signup records one student email enrolled in one activity.
type Signup struct {
	ActivityName string            `gorm:"primaryKey;size:255" json:"activity_name"`
	Email        string            `gorm:"primaryKey;size:255" json:"email"`
	Seq          int               `gorm:"not null" json:"-"`
	Metadata     datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Activity     Activity          `gorm:"foreignKey:ActivityName;references:Name;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}
