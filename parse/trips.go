package parse

import (
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/storage"
)

type TripCSV struct {
	ID          string `csv:"trip_id"`
	RouteID     string `csv:"route_id"`
	ServiceID   string `csv:"service_id"`
	Headsign    string `csv:"trip_headsign"`
	ShortName   string `csv:"trip_short_name"`
	DirectionID int8   `csv:"direction_id"`
}

func ParseTrips(
	writer storage.FeedWriter,
	data io.Reader,
	routes map[string]bool,
	services map[string]bool,
) (map[string]bool, error) {
	trips := map[string]bool{}

	err := gocsv.UnmarshalToCallbackWithError(data, func(t *TripCSV) error {
		if t.ID == "" {
			return errors.New("empty trip_id")
		}
		if trips[t.ID] {
			return errors.Errorf("repeated trip_id '%s'", t.ID)
		}
		trips[t.ID] = true

		if t.RouteID == "" {
			return errors.Errorf("empty route_id for trip_id '%s'", t.ID)
		}
		if !routes[t.RouteID] {
			return errors.Errorf("unknown route_id '%s'", t.RouteID)
		}
		if !services[t.ServiceID] {
			return errors.Errorf("unknown service_id '%s'", t.ServiceID)
		}
		if t.DirectionID != 0 && t.DirectionID != 1 {
			return errors.Errorf("invalid direction_id '%d'", t.DirectionID)
		}

		return errors.Wrap(writer.WriteTrip(model.Trip{
			ID:          t.ID,
			RouteID:     t.RouteID,
			ServiceID:   t.ServiceID,
			Headsign:    t.Headsign,
			ShortName:   t.ShortName,
			DirectionID: t.DirectionID,
		}), "writing trip")
	})
	if err != nil {
		return nil, errors.Wrap(err, "unmarshaling trips csv")
	}

	return trips, nil
}
