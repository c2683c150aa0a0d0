package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Activity actions.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionCancel  = "cancel"
	ActionSuggest = "suggest"
	ActionExport  = "export"
)

// Activity is one entry of the assistant's audit log
type Activity struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	Action    string     `gorm:"index" json:"action"`
	EventID   string     `gorm:"index" json:"event_id,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
	Request   string     `json:"request,omitempty"`
	Attendees string     `json:"attendees,omitempty"`
	Link      string     `json:"link,omitempty"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns an ID when the caller left it empty
func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
