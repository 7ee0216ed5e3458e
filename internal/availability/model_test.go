package availability

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeekdayTable(t *testing.T) {
	for _, d := range Weekdays {
		back, ok := ParseWeekday(d.String())
		require.True(t, ok, d.String())
		assert.Equal(t, d, back)
	}

	_, ok := ParseWeekday("Monday")
	assert.False(t, ok, "keys are lower-case")
	assert.Equal(t, "weekday(9)", Weekday(9).String())
}

func TestWeekdayOf_MatchesStdlib(t *testing.T) {
	// 2026-11-02 is a Monday
	monday := time.Date(2026, 11, 2, 12, 0, 0, 0, time.UTC)
	for i, d := range Weekdays {
		day := monday.AddDate(0, 0, i)
		assert.Equal(t, d, WeekdayOf(day))
		assert.Equal(t, day.Weekday(), d.TimeWeekday())
	}
}

func TestNewWeeklyAvailability_AllDisabled(t *testing.T) {
	w := NewWeeklyAvailability()
	for _, d := range Weekdays {
		day := w.Day(d)
		assert.False(t, day.Enabled)
		assert.NotNil(t, day.TimeSlots)
		assert.Empty(t, day.TimeSlots)
	}
	assert.False(t, w.HasEnabledDay())
}

func TestWeeklyAvailability_JSON(t *testing.T) {
	t.Run("missing days fall back to disabled", func(t *testing.T) {
		var w WeeklyAvailability
		err := json.Unmarshal([]byte(`{"tuesday":{"enabled":true,"timeSlots":[{"start":"09:00","end":"12:00"}]}}`), &w)
		require.NoError(t, err)

		assert.True(t, w.Day(Tuesday).Enabled)
		assert.Equal(t, []TimeRange{{Start: "09:00", End: "12:00"}}, w.Day(Tuesday).TimeSlots)
		assert.False(t, w.Day(Monday).Enabled)
		assert.Empty(t, w.Day(Sunday).TimeSlots)
	})

	t.Run("unknown day rejected", func(t *testing.T) {
		var w WeeklyAvailability
		err := json.Unmarshal([]byte(`{"funday":{"enabled":true,"timeSlots":[]}}`), &w)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("always emits seven days", func(t *testing.T) {
		data, err := json.Marshal(NewWeeklyAvailability())
		require.NoError(t, err)

		var raw map[string]DayAvailability
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.Len(t, raw, 7)
		assert.Contains(t, string(data), `"timeSlots":[]`)
	})
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"25:00", 0, true},
		{"12:60", 0, true},
		{"9:00", 0, true},
		{"ab:cd", 0, true},
		{"0900", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				var vErr *ValidationError
				assert.True(t, errors.As(err, &vErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, FormatClock(got))
		})
	}
}

func TestTimeRange_Validate(t *testing.T) {
	assert.NoError(t, TimeRange{Start: "09:00", End: "10:00"}.Validate())
	assert.Error(t, TimeRange{Start: "10:00", End: "10:00"}.Validate())
	assert.Error(t, TimeRange{Start: "11:00", End: "10:00"}.Validate())
	assert.Error(t, TimeRange{Start: "25:00", End: "10:00"}.Validate())
}

func TestNormalize(t *testing.T) {
	t.Run("merges strictly overlapping ranges", func(t *testing.T) {
		day, err := Normalize(DayAvailability{Enabled: true, TimeSlots: []TimeRange{
			{Start: "14:00", End: "16:00"},
			{Start: "09:00", End: "11:00"},
			{Start: "10:30", End: "12:00"},
		}})
		require.NoError(t, err)
		assert.Equal(t, []TimeRange{
			{Start: "09:00", End: "12:00"},
			{Start: "14:00", End: "16:00"},
		}, day.TimeSlots)
	})

	t.Run("keeps touching ranges apart", func(t *testing.T) {
		day, err := Normalize(DayAvailability{Enabled: true, TimeSlots: []TimeRange{
			{Start: "10:00", End: "11:00"},
			{Start: "09:00", End: "10:00"},
		}})
		require.NoError(t, err)
		assert.Equal(t, []TimeRange{
			{Start: "09:00", End: "10:00"},
			{Start: "10:00", End: "11:00"},
		}, day.TimeSlots)
	})

	t.Run("contained range disappears", func(t *testing.T) {
		day, err := Normalize(DayAvailability{Enabled: true, TimeSlots: []TimeRange{
			{Start: "09:00", End: "17:00"},
			{Start: "12:00", End: "13:00"},
		}})
		require.NoError(t, err)
		assert.Equal(t, []TimeRange{{Start: "09:00", End: "17:00"}}, day.TimeSlots)
	})

	t.Run("drops malformed and reports them", func(t *testing.T) {
		day, err := Normalize(DayAvailability{Enabled: true, TimeSlots: []TimeRange{
			{Start: "25:00", End: "10:00"},
			{Start: "09:00", End: "10:00"},
		}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))
		assert.Equal(t, []TimeRange{{Start: "09:00", End: "10:00"}}, day.TimeSlots)
	})
}

func TestWeeklyAvailability_Validate(t *testing.T) {
	w := NewWeeklyAvailability()
	w.SetDay(Friday, DayAvailability{Enabled: true, TimeSlots: []TimeRange{{Start: "09:00", End: "08:00"}}})

	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "friday")
	assert.True(t, errors.Is(err, ErrValidation))
}
