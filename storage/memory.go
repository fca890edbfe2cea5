package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"tidbyt.dev/transit/model"
)

// In memory implementation of Storage below

type memoryMetadataKey struct {
	URL  string
	Hash string
}

type MemoryStorage struct {
	mu       sync.Mutex
	feeds    map[string]*MemoryStorageFeed
	metadata map[memoryMetadataKey]*FeedMetadata
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		feeds:    map[string]*MemoryStorageFeed{},
		metadata: map[memoryMetadataKey]*FeedMetadata{},
	}
}

func (s *MemoryStorage) ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	feeds := []*FeedMetadata{}
	for _, metadata := range s.metadata {
		if filter.URL != "" && metadata.URL != filter.URL {
			continue
		}
		if filter.Hash != "" && metadata.Hash != filter.Hash {
			continue
		}
		copied := *metadata
		feeds = append(feeds, &copied)
	}
	sort.Slice(feeds, func(i, j int) bool {
		return feeds[i].RetrievedAt.After(feeds[j].RetrievedAt)
	})
	return feeds, nil
}

func (s *MemoryStorage) WriteFeedMetadata(feed *FeedMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *feed
	s.metadata[memoryMetadataKey{feed.URL, feed.Hash}] = &copied
	return nil
}

func (s *MemoryStorage) GetReader(feed string) (FeedReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feeds[feed]
	if !ok {
		return nil, fmt.Errorf("feed %s does not exist", feed)
	}
	return f, nil
}

func (s *MemoryStorage) GetWriter(feed string) (FeedWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := &MemoryStorageFeed{
		agency:       map[string]model.Agency{},
		stops:        map[string]model.Stop{},
		routes:       map[string]model.Route{},
		trips:        map[string]model.Trip{},
		calendar:     map[string]model.Calendar{},
		calendarDate: map[string][]model.CalendarDate{},
	}
	s.feeds[feed] = f

	return f, nil
}

type MemoryStorageFeed struct {
	agency       map[string]model.Agency
	stops        map[string]model.Stop
	routes       map[string]model.Route
	trips        map[string]model.Trip
	calendar     map[string]model.Calendar
	calendarDate map[string][]model.CalendarDate
	transfers    []model.Transfer
	stopTimes    []model.StopTime
}

func (f *MemoryStorageFeed) WriteAgency(agency model.Agency) error {
	f.agency[agency.ID] = agency
	return nil
}

func (f *MemoryStorageFeed) WriteStop(stop model.Stop) error {
	f.stops[stop.ID] = stop
	return nil
}

func (f *MemoryStorageFeed) WriteRoute(route model.Route) error {
	f.routes[route.ID] = route
	return nil
}

func (f *MemoryStorageFeed) BeginTrips() error {
	return nil
}

func (f *MemoryStorageFeed) WriteTrip(trip model.Trip) error {
	f.trips[trip.ID] = trip
	return nil
}

func (f *MemoryStorageFeed) EndTrips() error {
	return nil
}

func (f *MemoryStorageFeed) BeginStopTimes() error {
	return nil
}

func (f *MemoryStorageFeed) WriteStopTime(stopTime model.StopTime) error {
	f.stopTimes = append(f.stopTimes, stopTime)
	return nil
}

func (f *MemoryStorageFeed) EndStopTimes() error {
	sort.SliceStable(f.stopTimes, func(i, j int) bool {
		if f.stopTimes[i].TripID != f.stopTimes[j].TripID {
			return f.stopTimes[i].TripID < f.stopTimes[j].TripID
		}
		return f.stopTimes[i].StopSequence < f.stopTimes[j].StopSequence
	})
	return nil
}

func (f *MemoryStorageFeed) WriteCalendar(row model.Calendar) error {
	f.calendar[row.ServiceID] = row
	return nil
}

func (f *MemoryStorageFeed) WriteCalendarDate(row model.CalendarDate) error {
	f.calendarDate[row.ServiceID] = append(f.calendarDate[row.ServiceID], row)
	return nil
}

func (f *MemoryStorageFeed) WriteTransfer(row model.Transfer) error {
	f.transfers = append(f.transfers, row)
	return nil
}

func (f *MemoryStorageFeed) Close() error {
	return nil
}

func (f *MemoryStorageFeed) Agencies() ([]model.Agency, error) {
	agencies := []model.Agency{}
	for _, v := range f.agency {
		agencies = append(agencies, v)
	}
	return agencies, nil
}

func (f *MemoryStorageFeed) Stops() ([]model.Stop, error) {
	stops := []model.Stop{}
	for _, v := range f.stops {
		stops = append(stops, v)
	}
	return stops, nil
}

func (f *MemoryStorageFeed) Routes() ([]model.Route, error) {
	routes := []model.Route{}
	for _, v := range f.routes {
		routes = append(routes, v)
	}
	return routes, nil
}

func (f *MemoryStorageFeed) Trips() ([]model.Trip, error) {
	trips := []model.Trip{}
	for _, v := range f.trips {
		trips = append(trips, v)
	}
	return trips, nil
}

func (f *MemoryStorageFeed) StopTimes() ([]model.StopTime, error) {
	return append([]model.StopTime{}, f.stopTimes...), nil
}

func (f *MemoryStorageFeed) Calendars() ([]model.Calendar, error) {
	cals := []model.Calendar{}
	for _, v := range f.calendar {
		cals = append(cals, v)
	}
	return cals, nil
}

func (f *MemoryStorageFeed) CalendarDates() ([]model.CalendarDate, error) {
	cds := []model.CalendarDate{}
	for _, v := range f.calendarDate {
		cds = append(cds, v...)
	}
	return cds, nil
}

func (f *MemoryStorageFeed) Transfers() ([]model.Transfer, error) {
	return append([]model.Transfer{}, f.transfers...), nil
}

func (f *MemoryStorageFeed) ActiveServices(date string) ([]string, error) {
	services := map[string]bool{}

	parsedDate, err := time.Parse("20060102", date)
	if err != nil {
		return nil, fmt.Errorf("invalid date: %s", date)
	}

	for _, calendar := range f.calendar {
		if calendar.Weekday&(1<<parsedDate.Weekday()) == 0 {
			continue
		}
		if calendar.StartDate > date || calendar.EndDate < date {
			continue
		}
		services[calendar.ServiceID] = true
	}

	for _, cds := range f.calendarDate {
		for _, cd := range cds {
			if cd.Date != date {
				continue
			}
			switch cd.ExceptionType {
			case model.ExceptionTypeAdded:
				services[cd.ServiceID] = true
			case model.ExceptionTypeRemoved:
				services[cd.ServiceID] = false
			}
		}
	}

	activeServices := []string{}
	for serviceID, active := range services {
		if active {
			activeServices = append(activeServices, serviceID)
		}
	}
	sort.Strings(activeServices)

	return activeServices, nil
}
