package parse

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transit/model"
)

func TestParseCalendar(t *testing.T) {
	header := "service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday"

	for _, tc := range []struct {
		name      string
		content   []string
		services  map[string]bool
		dates     DateRange
		calendars []model.Calendar
		err       bool
	}{
		{
			name:     "weekdays and weekend",
			content:  []string{header, "wd,20200101,20201231,1,1,1,1,1,0,0", "we,20200301,20210131,0,0,0,0,0,1,1"},
			services: map[string]bool{"wd": true, "we": true},
			dates:    DateRange{"20200101", "20210131"},
			calendars: []model.Calendar{
				{
					ServiceID: "wd",
					StartDate: "20200101",
					EndDate:   "20201231",
					Weekday:   1<<time.Monday | 1<<time.Tuesday | 1<<time.Wednesday | 1<<time.Thursday | 1<<time.Friday,
				},
				{
					ServiceID: "we",
					StartDate: "20200301",
					EndDate:   "20210131",
					Weekday:   1<<time.Saturday | 1<<time.Sunday,
				},
			},
		},
		{
			name:     "no days",
			content:  []string{header, "none,20200101,20200101,0,0,0,0,0,0,0"},
			services: map[string]bool{"none": true},
			dates:    DateRange{"20200101", "20200101"},
			calendars: []model.Calendar{
				{ServiceID: "none", StartDate: "20200101", EndDate: "20200101"},
			},
		},
		{name: "invalid weekday value", content: []string{header, "s,20200101,20201231,2,0,0,0,0,0,0"}, err: true},
		{name: "repeated service_id", content: []string{header, "s,20200101,20201231,1,0,0,0,0,0,0", "s,20200101,20201231,1,0,0,0,0,0,0"}, err: true},
		{name: "empty service_id", content: []string{header, ",20200101,20201231,1,0,0,0,0,0,0"}, err: true},
		{name: "bad start_date", content: []string{header, "s,2020-01-01,20201231,1,0,0,0,0,0,0"}, err: true},
		{name: "bad end_date", content: []string{header, "s,20200101,20201332,1,0,0,0,0,0,0"}, err: true},
		{name: "ends before start", content: []string{header, "s,20200102,20200101,1,0,0,0,0,0,0"}, err: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			writer, read := memoryFeed(t)

			services, dates, err := ParseCalendar(writer, csv(tc.content...))
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.services, services)
			assert.Equal(t, tc.dates, dates)

			calendars, err := read().Calendars()
			require.NoError(t, err)
			sort.Slice(calendars, func(i, j int) bool {
				return calendars[i].ServiceID < calendars[j].ServiceID
			})
			assert.Equal(t, tc.calendars, calendars)
		})
	}
}

func TestParseCalendarDates(t *testing.T) {
	header := "service_id,date,exception_type"

	for _, tc := range []struct {
		name     string
		content  []string
		services map[string]bool
		dates    DateRange
		count    int
		err      bool
	}{
		{
			name:     "added and removed",
			content:  []string{header, "s1,20200105,1", "s1,20200103,2", "s2,20200110,1"},
			services: map[string]bool{"s1": true, "s2": true},
			dates:    DateRange{"20200103", "20200110"},
			count:    3,
		},
		{
			name:     "no records",
			content:  []string{header},
			services: map[string]bool{},
			count:    0,
		},
		{name: "invalid exception_type", content: []string{header, "s,20200101,3"}, err: true},
		{name: "invalid date", content: []string{header, "s,2020010,1"}, err: true},
		{name: "duplicate service date", content: []string{header, "s,20200101,1", "s,20200101,2"}, err: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			writer, read := memoryFeed(t)

			services, dates, err := ParseCalendarDates(writer, csv(tc.content...))
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.services, services)
			assert.Equal(t, tc.dates, dates)

			cds, err := read().CalendarDates()
			require.NoError(t, err)
			assert.Equal(t, tc.count, len(cds))
		})
	}
}
