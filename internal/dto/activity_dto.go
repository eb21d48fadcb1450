package dto

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/noah-isme/mergington-api/internal/models"
)

// ActivityView is the public representation of an activity and its participants.
type ActivityView struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Schedule        string   `json:"schedule"`
	MaxParticipants int      `json:"maxParticipants"`
	Participants    []string `json:"participants"`
}

// NewActivityView builds a view from an activity and its enrolled emails.
func NewActivityView(activity models.Activity, participants []string) ActivityView {
	if participants == nil {
		participants = []string{}
	}
	return ActivityView{
		Name:            activity.Name,
		Description:     activity.Description,
		Schedule:        activity.Schedule,
		MaxParticipants: activity.Capacity,
		Participants:    participants,
	}
}

// ActivityDirectory is the ordered activity listing. It encodes as a JSON object keyed by
// activity name whose members keep the order of Items.
type ActivityDirectory struct {
	Items []ActivityView
}

type activityDetails struct {
	Description     string   `json:"description"`
	Schedule        string   `json:"schedule"`
	MaxParticipants int      `json:"maxParticipants"`
	Participants    []string `json:"participants"`
}

// MarshalJSON implements json.Marshaler.
func (d ActivityDirectory) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, item := range d.Items {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(item.Name)
		if err != nil {
			return nil, err
		}
		participants := item.Participants
		if participants == nil {
			participants = []string{}
		}
		value, err := json.Marshal(activityDetails{
			Description:     item.Description,
			Schedule:        item.Schedule,
			MaxParticipants: item.MaxParticipants,
			Participants:    participants,
		})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EmailInput carries the minimal email precondition checked before touching the roster.
type EmailInput struct {
	Email string `validate:"required,max=254,contains=@"`
}

// SignupResponse is returned after a successful signup or unregister.
type SignupResponse struct {
	Activity string `json:"activity"`
	Email    string `json:"email"`
}

// SeedActivityRequest is one entry of a JSON seed file.
type SeedActivityRequest struct {
	Name            string   `json:"name" validate:"required,max=255"`
	Description     string   `json:"description" validate:"required"`
	Schedule        string   `json:"schedule" validate:"required,max=255"`
	MaxParticipants int      `json:"maxParticipants" validate:"gt=0"`
	Participants    []string `json:"participants" validate:"dive,required,contains=@"`
}

// Roster event types.
const (
	RosterEventSubscribed   = "subscribed"
	RosterEventEnrolled     = "enrolled"
	RosterEventUnregistered = "unregistered"
)

// RosterEvent announces a change to an activity roster.
type RosterEvent struct {
	Type            string    `json:"type"`
	Activity        string    `json:"activity,omitempty"`
	Email           string    `json:"email,omitempty"`
	Participants    int       `json:"participants"`
	MaxParticipants int       `json:"maxParticipants"`
	OccurredAt      time.Time `json:"occurredAt"`
}
