package models

import "time"

type Event struct {
	ID            int       `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Location      string    `json:"location"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	OrganizerID   int       `json:"organizer_id"`
	OrganizerName string    `json:"organizer_name"`
}

type User struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Role        string `json:"role"` // customer, organizer, admin
	PhoneNumber string `json:"phone_number,omitempty"`
}
