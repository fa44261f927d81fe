package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCity(t *testing.T) {
	cases := map[string]string{
		"Addis Ababa":       "addis ababa",
		"  addis   ababa  ": "addis ababa",
		"ADDIS-ABABA":       "addisababa",
		"St. Louis":         "st louis",
		"São Paulo":         "so paulo",
		"Frankfurt am Main": "frankfurt am main",
		"Paris .":           "paris",
		"  (Rome)  ":        "rome",
		"":                  "",
	}
	for in, want := range cases {
		assert.Equal(t, want, City(in), "City(%q)", in)
	}
}

func TestCity_SamePlace(t *testing.T) {
	assert.Equal(t, City("Addis Ababa"), City("addis ababa"))
	assert.Equal(t, City("New  York"), City("new york "))
	assert.Equal(t, City("Paris"), City("Paris ."))
	assert.NotEqual(t, City("Nairobi"), City("Mombasa"))
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, DaysUntil(now, now))
	assert.Equal(t, 3, DaysUntil(now, now.Add(3*24*time.Hour)))
	assert.Equal(t, 3, DaysUntil(now, now.Add(3*24*time.Hour+23*time.Hour)))
	assert.Equal(t, 0, DaysUntil(now, now.Add(23*time.Hour)))
	assert.Equal(t, -2, DaysUntil(now, now.Add(-2*24*time.Hour)))
	assert.Equal(t, 0, DaysUntil(now, now.Add(-time.Hour)))
}
