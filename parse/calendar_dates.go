package parse

import (
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/storage"
)

type CalendarDateCSV struct {
	ServiceID     string `csv:"service_id"`
	Date          string `csv:"date"`
	ExceptionType int8   `csv:"exception_type"`
}

// Returns set of all service IDs and the range of dates covered.
func ParseCalendarDates(writer storage.FeedWriter, data io.Reader) (map[string]bool, DateRange, error) {
	calendarDateCsv := []*CalendarDateCSV{}
	if err := gocsv.Unmarshal(data, &calendarDateCsv); err != nil {
		return nil, DateRange{}, errors.Wrap(err, "unmarshaling calendar_dates csv")
	}

	type serviceDate struct {
		service string
		date    string
	}

	services := map[string]bool{}
	seen := map[serviceDate]bool{}
	dates := DateRange{}

	for _, cd := range calendarDateCsv {
		exception := model.ExceptionType(cd.ExceptionType)
		if exception != model.ExceptionTypeAdded && exception != model.ExceptionTypeRemoved {
			return nil, DateRange{}, errors.Errorf("illegal exception_type: '%d'", cd.ExceptionType)
		}

		if err := parseDate(cd.Date); err != nil {
			return nil, DateRange{}, errors.Wrapf(err, "parsing date '%s'", cd.Date)
		}

		key := serviceDate{cd.ServiceID, cd.Date}
		if seen[key] {
			return nil, DateRange{}, errors.Errorf("duplicate service/date: '%s-%s'", cd.Date, cd.ServiceID)
		}
		seen[key] = true
		services[cd.ServiceID] = true
		dates.extend(cd.Date, cd.Date)

		err := writer.WriteCalendarDate(model.CalendarDate{
			ServiceID:     cd.ServiceID,
			Date:          cd.Date,
			ExceptionType: exception,
		})
		if err != nil {
			return nil, DateRange{}, errors.Wrap(err, "writing calendar date")
		}
	}

	return services, dates, nil
}
