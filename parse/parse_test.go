package parse

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/storage"
)

func buildZip(t *testing.T, files map[string][]string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// Writer backed by fresh memory storage, and a function reading the
// written feed back.
func memoryFeed(t *testing.T) (storage.FeedWriter, func() storage.FeedReader) {
	s := storage.NewMemoryStorage()
	writer, err := s.GetWriter("test")
	require.NoError(t, err)

	return writer, func() storage.FeedReader {
		reader, err := s.GetReader("test")
		require.NoError(t, err)
		return reader
	}
}

func csv(lines ...string) *bytes.Buffer {
	return bytes.NewBufferString(strings.Join(lines, "\n"))
}

// A simple GTFS feed with all required data
func fixtureSimple() map[string][]string {
	return map[string][]string{
		"agency.txt": {
			"agency_timezone,agency_name,agency_url",
			"America/Los_Angeles,Fake Agency,http://agency/index.html",
		},
		"routes.txt": {
			"route_id,route_short_name,route_type",
			"r,R,3",
		},
		"calendar.txt": {
			"service_id,monday,start_date,end_date",
			"mondays,1,20190101,20190301",
		},
		"calendar_dates.txt": {
			"service_id,date,exception_type",
			"mondays,20190302,1",
		},
		"trips.txt": {
			"route_id,service_id,trip_id",
			"r,mondays,t",
		},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"s,S,12,34",
			"u,U,12.001,34",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"t,12:00:00,12:00:00,s,1",
			"t,12:10:00,12:11:00,u,2",
		},
		"transfers.txt": {
			"from_stop_id,to_stop_id,transfer_type,min_transfer_time",
			"u,s,2,300",
		},
	}
}

func TestParseValidFeed(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			var s storage.Storage = storage.NewMemoryStorage()
			if backend == "sqlite" {
				var err error
				s, err = storage.NewSQLiteStorage()
				require.NoError(t, err)
			}
			writer, err := s.GetWriter("test")
			require.NoError(t, err)

			metadata, err := ParseStatic(writer, buildZip(t, fixtureSimple()))
			require.NoError(t, err)
			assert.Equal(t, &storage.FeedMetadata{
				Timezone:          "America/Los_Angeles",
				CalendarStartDate: "20190101",
				CalendarEndDate:   "20190302",
				MaxArrival:        "121000",
				MaxDeparture:      "121100",
			}, metadata)

			reader, err := s.GetReader("test")
			require.NoError(t, err)

			agencies, err := reader.Agencies()
			require.NoError(t, err)
			assert.Equal(t, []model.Agency{{
				Timezone: "America/Los_Angeles",
				Name:     "Fake Agency",
				URL:      "http://agency/index.html",
			}}, agencies)

			routes, err := reader.Routes()
			require.NoError(t, err)
			assert.Equal(t, []model.Route{{
				ID:        "r",
				ShortName: "R",
				Type:      model.RouteTypeBus,
				Color:     "FFFFFF",
				TextColor: "000000",
			}}, routes)

			calendar, err := reader.Calendars()
			require.NoError(t, err)
			assert.Equal(t, []model.Calendar{{
				ServiceID: "mondays",
				Weekday:   1 << time.Monday,
				StartDate: "20190101",
				EndDate:   "20190301",
			}}, calendar)

			calendarDates, err := reader.CalendarDates()
			require.NoError(t, err)
			assert.Equal(t, []model.CalendarDate{{
				ServiceID:     "mondays",
				Date:          "20190302",
				ExceptionType: model.ExceptionTypeAdded,
			}}, calendarDates)

			trips, err := reader.Trips()
			require.NoError(t, err)
			assert.Equal(t, []model.Trip{{
				ID:        "t",
				RouteID:   "r",
				ServiceID: "mondays",
			}}, trips)

			stops, err := reader.Stops()
			require.NoError(t, err)
			assert.Equal(t, 2, len(stops))

			stopTimes, err := reader.StopTimes()
			require.NoError(t, err)
			assert.Equal(t, []model.StopTime{
				{TripID: "t", Arrival: "120000", Departure: "120000", StopID: "s", StopSequence: 1},
				{TripID: "t", Arrival: "121000", Departure: "121100", StopID: "u", StopSequence: 2},
			}, stopTimes)

			transfers, err := reader.Transfers()
			require.NoError(t, err)
			assert.Equal(t, []model.Transfer{{
				FromStopID:      "u",
				ToStopID:        "s",
				Type:            model.TransferTypeMinimumTime,
				MinTransferTime: 300,
			}}, transfers)
		})
	}
}

func TestParseMissingFiles(t *testing.T) {
	for _, file := range []string{
		"agency.txt",
		"routes.txt",
		"trips.txt",
		"stops.txt",
		"stop_times.txt",
	} {
		writer, _ := memoryFeed(t)
		files := fixtureSimple()
		delete(files, file)
		_, err := ParseStatic(writer, buildZip(t, files))
		assert.Error(t, err, "missing "+file)
	}

	for _, tc := range []struct {
		missing    []string
		start, end string
	}{
		{[]string{"calendar.txt"}, "20190302", "20190302"},
		{[]string{"calendar_dates.txt"}, "20190101", "20190301"},
		{[]string{"transfers.txt"}, "20190101", "20190302"},
	} {
		writer, read := memoryFeed(t)
		files := fixtureSimple()
		for _, f := range tc.missing {
			delete(files, f)
		}
		metadata, err := ParseStatic(writer, buildZip(t, files))
		require.NoError(t, err, "missing %v", tc.missing)
		assert.Equal(t, tc.start, metadata.CalendarStartDate)
		assert.Equal(t, tc.end, metadata.CalendarEndDate)

		if tc.missing[0] == "transfers.txt" {
			transfers, err := read().Transfers()
			require.NoError(t, err)
			assert.Empty(t, transfers)
		}
	}

	// But not OK for both calendar files to be missing
	writer, _ := memoryFeed(t)
	files := fixtureSimple()
	delete(files, "calendar.txt")
	delete(files, "calendar_dates.txt")
	_, err := ParseStatic(writer, buildZip(t, files))
	assert.Error(t, err)
}

func TestParseBrokenFile(t *testing.T) {
	for file := range fixtureSimple() {
		writer, _ := memoryFeed(t)
		files := fixtureSimple()
		files[file][1] = "malformed"

		_, err := ParseStatic(writer, buildZip(t, files))
		assert.Error(t, err, "malformed "+file)
	}

	writer, _ := memoryFeed(t)
	_, err := ParseStatic(writer, []byte("malformed"))
	assert.Error(t, err, "malformed zip file")
}

// Some agencies place files in subdirectories.
func TestParseUnorthodoxArchiveStructure(t *testing.T) {
	nested := map[string][]string{}
	for name, contents := range fixtureSimple() {
		nested["bad/agency/"+name] = contents
	}

	writer, read := memoryFeed(t)
	metadata, err := ParseStatic(writer, buildZip(t, nested))
	require.NoError(t, err)
	assert.Equal(t, "America/Los_Angeles", metadata.Timezone)

	agencies, err := read().Agencies()
	require.NoError(t, err)
	assert.Equal(t, 1, len(agencies))
}
