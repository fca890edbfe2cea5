package parse

import (
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/storage"
)

type TransferCSV struct {
	FromStopID      string `csv:"from_stop_id"`
	ToStopID        string `csv:"to_stop_id"`
	TransferType    int8   `csv:"transfer_type"`
	MinTransferTime string `csv:"min_transfer_time"`
}

// Only stop to stop transfers are kept. Rows scoped to routes or
// trips carry from_route_id/from_trip_id columns, which are
// ignored.
func ParseTransfers(writer storage.FeedWriter, data io.Reader, stops map[string]bool) error {
	transferCsv := []*TransferCSV{}
	if err := gocsv.Unmarshal(data, &transferCsv); err != nil {
		return errors.Wrap(err, "unmarshaling transfers csv")
	}

	for i, t := range transferCsv {
		if !stops[t.FromStopID] {
			return errors.Errorf("unknown from_stop_id '%s' (row %d)", t.FromStopID, i+1)
		}
		if !stops[t.ToStopID] {
			return errors.Errorf("unknown to_stop_id '%s' (row %d)", t.ToStopID, i+1)
		}

		transferType := model.TransferType(t.TransferType)
		if transferType < model.TransferTypeRecommended || transferType > model.TransferTypeNotPossible {
			return errors.Errorf("invalid transfer_type %d (row %d)", t.TransferType, i+1)
		}

		minTime := 0
		if t.MinTransferTime != "" {
			n, err := parseNonNegative(t.MinTransferTime)
			if err != nil {
				return errors.Wrapf(err, "parsing min_transfer_time (row %d)", i+1)
			}
			minTime = n
		}
		if transferType == model.TransferTypeMinimumTime && t.MinTransferTime == "" {
			return errors.Errorf("transfer_type 2 requires min_transfer_time (row %d)", i+1)
		}

		err := writer.WriteTransfer(model.Transfer{
			FromStopID:      t.FromStopID,
			ToStopID:        t.ToStopID,
			Type:            transferType,
			MinTransferTime: minTime,
		})
		if err != nil {
			return errors.Wrap(err, "writing transfer")
		}
	}

	return nil
}

func parseNonNegative(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.Errorf("negative value %d", n)
	}
	return n, nil
}
