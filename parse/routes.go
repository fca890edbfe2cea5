package parse

import (
	"encoding/hex"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/storage"
)

type RouteCSV struct {
	ID        string `csv:"route_id"`
	AgencyID  string `csv:"agency_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	Desc      string `csv:"route_desc"`
	Type      string `csv:"route_type"`
	URL       string `csv:"route_url"`
	Color     string `csv:"route_color"`
	TextColor string `csv:"route_text_color"`
}

func validRouteColor(color string) bool {
	if len(color) != 6 {
		return false
	}
	_, err := hex.DecodeString(color)
	return err == nil
}

// Colors default to white on black text when absent.
func routeColor(color, fallback string) (string, bool) {
	if color == "" {
		return fallback, true
	}
	return color, validRouteColor(color)
}

func ParseRoutes(writer storage.FeedWriter, data io.Reader, agency map[string]bool) (map[string]bool, error) {
	routeCsv := []*RouteCSV{}
	if err := gocsv.Unmarshal(data, &routeCsv); err != nil {
		return nil, errors.Wrap(err, "unmarshaling routes csv")
	}

	routes := map[string]bool{}

	for _, r := range routeCsv {
		if r.ID == "" {
			return nil, errors.New("route has no route_id")
		}
		if routes[r.ID] {
			return nil, errors.Errorf("repeated route_id: '%s'", r.ID)
		}
		routes[r.ID] = true

		// With multiple agencies, agency_id is required
		if len(agency) > 1 && r.AgencyID == "" {
			return nil, errors.Errorf("route_id '%s' has no agency_id", r.ID)
		}
		if r.AgencyID != "" && !agency[r.AgencyID] {
			return nil, errors.Errorf("unknown agency_id: '%s'", r.AgencyID)
		}

		if r.ShortName == "" && r.LongName == "" {
			return nil, errors.Errorf("route_id '%s' has no short_name or long_name", r.ID)
		}

		if r.Type == "" {
			return nil, errors.Errorf("route_id '%s' has no route_type", r.ID)
		}
		n, err := strconv.Atoi(r.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "route_id '%s' has invalid route_type", r.ID)
		}
		routeType := model.RouteType(n)
		if !routeType.Valid() {
			return nil, errors.Errorf("route_id '%s' has invalid route_type: %d", r.ID, n)
		}

		color, ok := routeColor(r.Color, "FFFFFF")
		if !ok {
			return nil, errors.Errorf("route_id '%s' has invalid route_color: %s", r.ID, r.Color)
		}
		textColor, ok := routeColor(r.TextColor, "000000")
		if !ok {
			return nil, errors.Errorf("route_id '%s' has invalid route_text_color: %s", r.ID, r.TextColor)
		}

		err = writer.WriteRoute(model.Route{
			ID:        r.ID,
			AgencyID:  r.AgencyID,
			ShortName: r.ShortName,
			LongName:  r.LongName,
			Desc:      r.Desc,
			Type:      routeType,
			URL:       r.URL,
			Color:     color,
			TextColor: textColor,
		})
		if err != nil {
			return nil, errors.Wrap(err, "writing route")
		}
	}

	return routes, nil
}
