package parse

import (
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/storage"
)

type AgencyCSV struct {
	ID       string `csv:"agency_id"`
	Name     string `csv:"agency_name"`
	URL      string `csv:"agency_url"`
	Timezone string `csv:"agency_timezone"`
}

// Returns the set of agency IDs and the feed timezone.
func ParseAgency(writer storage.FeedWriter, data io.Reader) (map[string]bool, string, error) {
	agencyCsv := []*AgencyCSV{}
	if err := gocsv.Unmarshal(data, &agencyCsv); err != nil {
		return nil, "", errors.Wrap(err, "unmarshaling agency csv")
	}
	if len(agencyCsv) == 0 {
		return nil, "", errors.New("no agency record found")
	}

	// All agencies of a feed share one timezone.
	tz := agencyCsv[0].Timezone
	if tz == "" {
		return nil, "", errors.New("missing agency_timezone")
	}
	for _, a := range agencyCsv[1:] {
		if a.Timezone != tz {
			return nil, "", errors.New("multiple agency_timezone")
		}
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, "", errors.Wrapf(err, "agency_timezone '%s' is invalid", tz)
	}

	agency := map[string]bool{}
	for _, a := range agencyCsv {
		if agency[a.ID] {
			return nil, "", errors.Errorf("duplicated agency_id: '%s'", a.ID)
		}
		agency[a.ID] = true

		if a.Name == "" {
			return nil, "", errors.New("missing agency_name")
		}
		if a.URL == "" {
			return nil, "", errors.New("missing agency_url")
		}

		err := writer.WriteAgency(model.Agency{
			ID:       a.ID,
			Name:     a.Name,
			URL:      a.URL,
			Timezone: tz,
		})
		if err != nil {
			return nil, "", errors.Wrapf(err, "writing agency '%s'", a.ID)
		}
	}

	return agency, tz, nil
}
