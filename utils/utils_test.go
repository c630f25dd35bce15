package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayKey(t *testing.T) {
	// 23:59 UTC on March 14th.
	moment := time.Date(2025, 3, 14, 23, 59, 0, 0, time.UTC)

	assert.Equal(t, "2025-03-14", DayKey(moment, time.UTC))
	assert.Equal(t, "2025-03-14", DayKey(moment, nil))

	// The same instant is already March 15th in Tokyo, so a recurring rule
	// keyed on the organization-local day sees a different date.
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-15", DayKey(moment, tokyo))

	// Two minutes later UTC crosses its own midnight.
	later := moment.Add(2 * time.Minute)
	assert.Equal(t, "2025-03-15", DayKey(later, time.UTC))
}

func TestParseUint(t *testing.T) {
	assert.EqualValues(t, 42, ParseUint("42"))
	assert.EqualValues(t, 0, ParseUint("not-a-number"))
	assert.EqualValues(t, 0, ParseUint(""))
}
