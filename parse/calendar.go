package parse

import (
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/storage"
)

type CalendarCSV struct {
	ServiceID string `csv:"service_id"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
	Monday    int8   `csv:"monday"`
	Tuesday   int8   `csv:"tuesday"`
	Wednesday int8   `csv:"wednesday"`
	Thursday  int8   `csv:"thursday"`
	Friday    int8   `csv:"friday"`
	Saturday  int8   `csv:"saturday"`
	Sunday    int8   `csv:"sunday"`
}

func (c *CalendarCSV) weekdays() (int8, error) {
	var mask int8
	for day, v := range map[time.Weekday]int8{
		time.Sunday:    c.Sunday,
		time.Monday:    c.Monday,
		time.Tuesday:   c.Tuesday,
		time.Wednesday: c.Wednesday,
		time.Thursday:  c.Thursday,
		time.Friday:    c.Friday,
		time.Saturday:  c.Saturday,
	} {
		switch v {
		case 0:
		case 1:
			mask |= 1 << day
		default:
			return 0, errors.Errorf("invalid %s value '%d'", day, v)
		}
	}
	return mask, nil
}

func parseDate(s string) error {
	_, err := time.ParseInLocation("20060102", s, time.UTC)
	return err
}

// Returns set of all service IDs and the range of dates covered.
func ParseCalendar(writer storage.FeedWriter, data io.Reader) (map[string]bool, DateRange, error) {
	calendarCsv := []*CalendarCSV{}
	if err := gocsv.Unmarshal(data, &calendarCsv); err != nil {
		return nil, DateRange{}, errors.Wrap(err, "unmarshaling calendar csv")
	}

	services := map[string]bool{}
	dates := DateRange{}

	for _, c := range calendarCsv {
		if c.ServiceID == "" {
			return nil, DateRange{}, errors.New("empty service_id")
		}
		if services[c.ServiceID] {
			return nil, DateRange{}, errors.Errorf("repeated service_id '%s'", c.ServiceID)
		}
		services[c.ServiceID] = true

		weekday, err := c.weekdays()
		if err != nil {
			return nil, DateRange{}, errors.Wrapf(err, "service_id '%s'", c.ServiceID)
		}

		if err := parseDate(c.StartDate); err != nil {
			return nil, DateRange{}, errors.Wrap(err, "parsing start_date")
		}
		if err := parseDate(c.EndDate); err != nil {
			return nil, DateRange{}, errors.Wrap(err, "parsing end_date")
		}
		if c.EndDate < c.StartDate {
			return nil, DateRange{}, errors.Errorf("service_id '%s' ends before it starts", c.ServiceID)
		}
		dates.extend(c.StartDate, c.EndDate)

		err = writer.WriteCalendar(model.Calendar{
			ServiceID: c.ServiceID,
			StartDate: c.StartDate,
			EndDate:   c.EndDate,
			Weekday:   weekday,
		})
		if err != nil {
			return nil, DateRange{}, errors.Wrap(err, "writing calendar")
		}
	}

	return services, dates, nil
}
