package areaverde

import (
	"github.com/paulmach/orb"
)

// Link labels of a vehicle that is not on a network link
const (
	LinkWaiting = "waiting_at_origin_node"
	LinkAborted = "trip_aborted"
	LinkEnded   = "trip_end"
)

// VehicleID indexes the vehicle arena of a world
type VehicleID int

// Attributes travel with a vehicle and end up in its trajectory rows
type Attributes struct {
	AddedPrevHour bool   `parquet:"added_prev_hour" yaml:"added_prev_hour"`
	PrevName      string `parquet:"prev_name" yaml:"prev_name"`
}

// AreaDemand spreads Volume vehicles between two catchment circles over
// [TStart, TEnd)
type AreaDemand struct {
	Orig   orb.Point
	ROrig  float64
	Dest   orb.Point
	RDest  float64
	TStart float64
	TEnd   float64
	Volume int
	Attr   Attributes
}

// TrajectoryRow is one compressed log entry of a vehicle
type TrajectoryRow struct {
	T    float64
	Link string
	X    float64
	S    float64
	V    float64
}

// VehicleTrajectory is the compressed log of one vehicle (a platoon of deltan)
type VehicleTrajectory struct {
	Name   string
	DeltaN int
	Orig   string
	Dest   string
	Attr   Attributes
	Rows   []TrajectoryRow
}

// World is a simulation bound to a network, a horizon and a seed
type World interface {
	AddDemandArea2Area(d AreaDemand) error
	AddVehicle(orig, dest string, departure float64, attr Attributes) (VehicleID, error)
	// Exec blocks until the clock advanced by duration seconds or reached the horizon
	Exec(duration float64) error
	Time() float64
	Vehicles() []VehicleTrajectory
	LinkStats() []LinkStat
	Release()
}
