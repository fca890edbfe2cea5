package parse

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transit/model"
)

func TestParseRoutes(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content []string
		agency  map[string]bool
		routes  []model.Route
		err     bool
	}{
		{
			name:    "minimal with short name",
			content: []string{"route_id,route_short_name,route_type", "1,1,3"},
			routes: []model.Route{
				{ID: "1", ShortName: "1", Type: model.RouteTypeBus, Color: "FFFFFF", TextColor: "000000"},
			},
		},
		{
			name:    "minimal with long name",
			content: []string{"route_id,route_long_name,route_type", "1,Route One,2"},
			routes: []model.Route{
				{ID: "1", LongName: "Route One", Type: model.RouteTypeRail, Color: "FFFFFF", TextColor: "000000"},
			},
		},
		{
			name: "all fields set",
			content: []string{
				"route_id,agency_id,route_short_name,route_long_name,route_desc,route_type,route_url,route_color,route_text_color",
				"r1,a1,one,Route One,Description1,0,http://one/,FFFFF0,00000F",
				"r2,a2,two,Route Two,Description2,109,http://two/,FFFFF1,00000E",
			},
			agency: map[string]bool{"a1": true, "a2": true},
			routes: []model.Route{
				{
					ID: "r1", AgencyID: "a1", ShortName: "one", LongName: "Route One", Desc: "Description1",
					Type: model.RouteTypeTram, URL: "http://one/", Color: "FFFFF0", TextColor: "00000F",
				},
				{
					ID: "r2", AgencyID: "a2", ShortName: "two", LongName: "Route Two", Desc: "Description2",
					Type: 109, URL: "http://two/", Color: "FFFFF1", TextColor: "00000E",
				},
			},
		},
		{name: "missing route_id", content: []string{"route_id,route_short_name,route_type", ",1,3"}, err: true},
		{name: "no name", content: []string{"route_id,route_desc,route_type", "1,desc,3"}, err: true},
		{name: "no route_type", content: []string{"route_id,route_short_name", "1,1"}, err: true},
		{name: "non-numeric route_type", content: []string{"route_id,route_short_name,route_type", "1,1,bus"}, err: true},
		{name: "invalid route_type", content: []string{"route_id,route_short_name,route_type", "1,1,9"}, err: true},
		{name: "invalid route_color", content: []string{"route_id,route_short_name,route_type,route_color", "1,1,3,FFFFFG"}, err: true},
		{name: "invalid route_text_color", content: []string{"route_id,route_short_name,route_type,route_text_color", "1,1,3,FFF"}, err: true},
		{name: "repeated route_id", content: []string{"route_id,route_short_name,route_type", "1,1,3", "1,2,3"}, err: true},
		{
			name:    "unknown agency_id",
			content: []string{"route_id,agency_id,route_short_name,route_type", "1,a1,1,3"},
			agency:  map[string]bool{"b1": true},
			err:     true,
		},
		{
			name:    "multiple agencies, one missing id",
			content: []string{"route_id,agency_id,route_short_name,route_type", "1,,1,3"},
			agency:  map[string]bool{"a1": true, "": true},
			err:     true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			writer, read := memoryFeed(t)

			agency := tc.agency
			if agency == nil {
				agency = map[string]bool{"": true}
			}
			ids, err := ParseRoutes(writer, csv(tc.content...), agency)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tc.routes), len(ids))

			routes, err := read().Routes()
			require.NoError(t, err)
			sort.Slice(routes, func(i, j int) bool {
				return routes[i].ID < routes[j].ID
			})
			assert.Equal(t, tc.routes, routes)
		})
	}
}

func TestRouteTypeLongDistance(t *testing.T) {
	assert.True(t, model.RouteTypeRail.LongDistance())
	assert.True(t, model.RouteType(102).LongDistance())
	assert.False(t, model.RouteTypeBus.LongDistance())
	assert.False(t, model.RouteType(700).LongDistance())
}
