// Package stats derives summary statistics from a snapshot of reports.
package stats

import (
	"encoding/json"
	"math"
	"time"

	"github.com/ubuntu/ais-insights/internal/common/constants"
	"github.com/ubuntu/ais-insights/internal/models"
)

// UnknownMessageType labels reports without a message description.
const UnknownMessageType = "Unknown"

// Summary is the statistical view of a snapshot.
type Summary struct {
	// VesselCount is the number of distinct MMSIs.
	VesselCount int
	// AvgSpeed is the mean of the speeds that are present, 0 if none are.
	AvgSpeed float64
	// MessageTypes counts reports per message description.
	MessageTypes map[string]int
	// LastUpdate is when the summary was computed.
	LastUpdate time.Time
}

// Summarize computes the summary of reports at time now.
func Summarize(reports []models.Report, now time.Time) Summary {
	s := Summary{
		MessageTypes: make(map[string]int),
		LastUpdate:   now,
	}

	vessels := make(map[string]struct{})
	var total float64
	var speeds int
	for _, r := range reports {
		vessels[r.MMSI] = struct{}{}

		if v, ok := r.Speed(); ok {
			total += v
			speeds++
		}

		label := r.MessageDescription()
		if label == "" {
			label = UnknownMessageType
		}
		s.MessageTypes[label]++
	}

	s.VesselCount = len(vessels)
	if speeds > 0 {
		s.AvgSpeed = total / float64(speeds)
	}
	return s
}

// MarshalJSON emits the summary with the average speed rounded to one decimal.
func (s Summary) MarshalJSON() ([]byte, error) {
	types := s.MessageTypes
	if types == nil {
		types = map[string]int{}
	}
	return json.Marshal(struct {
		VesselCount  int            `json:"vessel_count"`
		AvgSpeed     float64        `json:"avg_speed"`
		MessageTypes map[string]int `json:"message_types"`
		LastUpdate   string         `json:"last_update"`
	}{
		VesselCount:  s.VesselCount,
		AvgSpeed:     math.Round(s.AvgSpeed*10) / 10,
		MessageTypes: types,
		LastUpdate:   s.LastUpdate.Format(constants.TimestampLayout),
	})
}
