package repositories

import (
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestEditWindowBoundary(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	window := 15 * time.Minute

	cases := []struct {
		name string
		now  time.Time
		open bool
	}{
		{"just inside", created.Add(14*time.Minute + 59*time.Second), true},
		{"exactly at the boundary", created.Add(15 * time.Minute), true},
		{"just past", created.Add(15*time.Minute + 1*time.Second), false},
		{"long past", created.Add(2 * time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.open, editWindowOpen(created, tc.now, window))
		})
	}
}

func TestUnreadDecrementTargets(t *testing.T) {
	participants := []int{1, 2, 3, 4}

	// Sender 1; user 2 has read the message. Only 3 and 4 still count it.
	assert.Equal(t, []int{3, 4}, unreadDecrementTargets(participants, 1, []int{1, 2}))

	// Everyone has read it: nobody to decrement.
	assert.Empty(t, unreadDecrementTargets(participants, 1, []int{1, 2, 3, 4}))

	// Nobody but the sender has a receipt.
	assert.Equal(t, []int{2, 3, 4}, unreadDecrementTargets(participants, 1, []int{1}))
}

func TestIsUniqueViolation(t *testing.T) {
	unique := &pq.Error{Code: "23505"}

	assert.True(t, isUniqueViolation(unique))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", unique)))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(fmt.Errorf("plain failure")))
	assert.False(t, isUniqueViolation(nil))
}
