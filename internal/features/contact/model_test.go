package contact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestBirthdayOn(t *testing.T) {
	tests := []struct {
		name     string
		birthday *time.Time
		today    time.Time
		want     bool
	}{
		{"full date same day", date(1990, time.May, 15), *date(2024, time.May, 15), true},
		{"unknown year same day", date(UnknownBirthYear, time.May, 15), *date(2024, time.May, 15), true},
		{"unknown year other day", date(UnknownBirthYear, time.May, 16), *date(2024, time.May, 15), false},
		{"same day other month", date(1990, time.June, 15), *date(2024, time.May, 15), false},
		{"no birthday", nil, *date(2024, time.May, 15), false},
		{"leap day on leap year", date(2000, time.February, 29), *date(2024, time.February, 29), true},
		{"leap day on 28th of non-leap year", date(2000, time.February, 29), *date(2023, time.February, 28), true},
		{"leap day not on 28th of leap year", date(2000, time.February, 29), *date(2024, time.February, 28), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Contact{Birthday: tt.birthday}
			assert.Equal(t, tt.want, c.BirthdayOn(tt.today))
		})
	}
}

func TestBirthdayOnIgnoresTimeOfDay(t *testing.T) {
	c := &Contact{Birthday: date(UnknownBirthYear, time.May, 15)}
	for minute := 0; minute < 24*60; minute += 97 {
		now := time.Date(2024, time.May, 15, 0, minute, 0, 0, time.UTC)
		assert.True(t, c.BirthdayOn(now), now.String())
	}
	assert.True(t, c.HasUnknownBirthYear())
}

func TestHasTags(t *testing.T) {
	c := &Contact{Tags: []string{"vip", "customer"}}
	assert.True(t, c.HasTags(nil))
	assert.True(t, c.HasTags([]string{"vip"}))
	assert.True(t, c.HasTags([]string{"vip", "customer"}))
	assert.False(t, c.HasTags([]string{"vip", "lead"}))
}

func TestUpdateDocument(t *testing.T) {
	now := time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)
	doc := updateDocument(Update{
		Set:     map[string]interface{}{"notes": "called"},
		Inc:     map[string]int{"message_count": 1},
		AddTags: []string{"greeted"},
	}, now)

	set := doc["$set"].(bson.M)
	assert.Equal(t, "called", set["notes"])
	assert.Equal(t, now, set["updated_at"])
	assert.Equal(t, bson.M{"message_count": 1}, doc["$inc"])
	assert.Equal(t, bson.M{"tags": bson.M{"$each": []string{"greeted"}}}, doc["$addToSet"])
}

func TestBirthdayFilterIncludesLeapDay(t *testing.T) {
	f := birthdayFilter(*date(2023, time.February, 28))
	or := f["$expr"].(bson.M)["$or"].(bson.A)
	assert.Len(t, or, 2)

	f = birthdayFilter(*date(2024, time.May, 15))
	or = f["$expr"].(bson.M)["$or"].(bson.A)
	assert.Len(t, or, 1)
}
