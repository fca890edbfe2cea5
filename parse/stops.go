package parse

import (
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/storage"
)

type StopCSV struct {
	ID            string  `csv:"stop_id"`
	Code          string  `csv:"stop_code"`
	Name          string  `csv:"stop_name"`
	Desc          string  `csv:"stop_desc"`
	Lat           float64 `csv:"stop_lat"`
	Lon           float64 `csv:"stop_lon"`
	URL           string  `csv:"stop_url"`
	LocationType  int8    `csv:"location_type"`
	ParentStation string  `csv:"parent_station"`
	PlatformCode  string  `csv:"platform_code"`
}

// Generic nodes and boarding areas may lack name and coordinates.
func locatable(t model.LocationType) bool {
	return t != model.LocationTypeGenericNode && t != model.LocationTypeBoardingArea
}

func ParseStops(writer storage.FeedWriter, data io.Reader) (map[string]bool, error) {
	stopCsv := []*StopCSV{}
	if err := gocsv.Unmarshal(data, &stopCsv); err != nil {
		return nil, errors.Wrap(err, "unmarshaling stops csv")
	}

	stops := map[string]bool{}
	parents := map[string]string{}
	for _, st := range stopCsv {
		if st.ID == "" {
			return nil, errors.New("empty stop_id")
		}
		if stops[st.ID] {
			return nil, errors.Errorf("repeated stop_id '%s'", st.ID)
		}
		stops[st.ID] = true

		locationType := model.LocationType(st.LocationType)
		if locationType < model.LocationTypeStop || locationType > model.LocationTypeBoardingArea {
			return nil, errors.Errorf("invalid location_type %d for stop_id '%s'", st.LocationType, st.ID)
		}
		if locatable(locationType) {
			if st.Name == "" {
				return nil, errors.Errorf("empty stop_name for stop_id '%s'", st.ID)
			}
			if st.Lat == 0 || st.Lon == 0 {
				return nil, errors.Errorf("empty stop_lat or stop_lon for stop_id '%s'", st.ID)
			}
		}

		if st.ParentStation != "" {
			parents[st.ID] = st.ParentStation
		}

		err := writer.WriteStop(model.Stop{
			ID:            st.ID,
			Code:          st.Code,
			Name:          st.Name,
			Desc:          st.Desc,
			Lat:           st.Lat,
			Lon:           st.Lon,
			URL:           st.URL,
			LocationType:  locationType,
			ParentStation: st.ParentStation,
			PlatformCode:  st.PlatformCode,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "writing stop '%s'", st.ID)
		}
	}

	for stopID, parentID := range parents {
		if !stops[parentID] {
			return nil, errors.Errorf("stop '%s' references unknown parent_station '%s'", stopID, parentID)
		}
	}

	return stops, nil
}
