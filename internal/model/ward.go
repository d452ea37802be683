package model

import "time"

// Ward represents an ICU unit that groups beds.
type Ward struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:128;not null" json:"name"`
	CreatedAt time.Time `gorm:"not null" json:"-"`
	UpdatedAt time.Time `gorm:"not null" json:"-"`

	// Associations
	Beds []Bed `gorm:"foreignKey:WardID" json:"-"`
}
