package contact

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UnknownBirthYear marks a birthday whose day and month are known but the
// year is not.
const UnknownBirthYear = 9999

type Contact struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name          string             `json:"name" bson:"name"`
	Phone         string             `json:"phone" bson:"phone"`
	Email         string             `json:"email,omitempty" bson:"email,omitempty"`
	Birthday      *time.Time         `json:"birthday,omitempty" bson:"birthday,omitempty"`
	Tags          []string           `json:"tags" bson:"tags"`
	Notes         string             `json:"notes,omitempty" bson:"notes,omitempty"`
	LastContacted *time.Time         `json:"last_contacted,omitempty" bson:"last_contacted,omitempty"`
	MessageCount  int                `json:"message_count" bson:"message_count"`
	IsActive      bool               `json:"is_active" bson:"is_active"`
	CreatedBy     primitive.ObjectID `json:"created_by" bson:"created_by"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" bson:"updated_at"`
}

func (c *Contact) HasUnknownBirthYear() bool {
	return c.Birthday != nil && c.Birthday.Year() == UnknownBirthYear
}

// BirthdayOn reports whether the contact celebrates on the calendar day of t.
// Only month and day are compared. A 29 February birthday is celebrated on
// 28 February in non-leap years.
func (c *Contact) BirthdayOn(t time.Time) bool {
	if c.Birthday == nil {
		return false
	}
	for _, md := range BirthdayKeys(t) {
		if c.Birthday.Month() == md.Month && c.Birthday.Day() == md.Day {
			return true
		}
	}
	return false
}

// HasTags reports whether the contact holds every tag in tags.
func (c *Contact) HasTags(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	held := make(map[string]struct{}, len(c.Tags))
	for _, t := range c.Tags {
		held[t] = struct{}{}
	}
	for _, t := range tags {
		if _, ok := held[t]; !ok {
			return false
		}
	}
	return true
}

type MonthDay struct {
	Month time.Month
	Day   int
}

// BirthdayKeys lists the birthday month/day pairs celebrated on t's date.
func BirthdayKeys(t time.Time) []MonthDay {
	keys := []MonthDay{{Month: t.Month(), Day: t.Day()}}
	if t.Month() == time.February && t.Day() == 28 && !isLeap(t.Year()) {
		keys = append(keys, MonthDay{Month: time.February, Day: 29})
	}
	return keys
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// FieldKind describes how an automation may write a contact field.
type FieldKind int

const (
	FieldText FieldKind = iota
	FieldTime
	FieldCounter
	FieldBool
)

// UpdatableFields is the set of contact fields automations may change.
var UpdatableFields = map[string]FieldKind{
	"name":           FieldText,
	"email":          FieldText,
	"notes":          FieldText,
	"last_contacted": FieldTime,
	"message_count":  FieldCounter,
	"is_active":      FieldBool,
}

// Update is a partial contact mutation.
type Update struct {
	Set     map[string]interface{}
	Inc     map[string]int
	AddTags []string
}

func (u Update) IsEmpty() bool {
	return len(u.Set) == 0 && len(u.Inc) == 0 && len(u.AddTags) == 0
}

// Activity is a structured activity record written by log_activity actions.
type Activity struct {
	ID           primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	ContactID    primitive.ObjectID     `json:"contact_id" bson:"contact_id"`
	AutomationID primitive.ObjectID     `json:"automation_id,omitempty" bson:"automation_id,omitempty"`
	Type         string                 `json:"type" bson:"type"`
	Message      string                 `json:"message" bson:"message"`
	Details      map[string]interface{} `json:"details,omitempty" bson:"details,omitempty"`
	CreatedAt    time.Time              `json:"created_at" bson:"created_at"`
}
