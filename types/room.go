package types

import (
	"time"
)

// Room metadata. The real-time engine treats any room id as valid, Room records only back the listings.
type Room struct {
	Id           string      `json:"id" gorm:"primaryKey"`
	Name         string      `json:"name" gorm:"uniqueIndex;not null"`
	Description  string      `json:"description"`
	CreatedBy    string      `json:"createdBy"`
	Members      StringSlice `json:"members"`
	CreatedAt    time.Time   `json:"createdAt"`
	LastActivity time.Time   `json:"lastActivity" gorm:"index"`
}
