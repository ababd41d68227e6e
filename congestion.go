package areaverde

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

type VehicleKind uint8

const (
	// Reached the destination
	VEHICLE_COMPLETED = VehicleKind(iota + 1)
	// Not moving at the end of the run
	VEHICLE_STUCK
	// Stood still for too long at least once
	VEHICLE_FULL_STUCK
)

func (iotaIdx VehicleKind) String() string {
	return [...]string{"completed", "stuck", "full_stuck"}[iotaIdx-1]
}

func ParseVehicleKind(s string) (VehicleKind, error) {
	switch s {
	case "completed":
		return VEHICLE_COMPLETED, nil
	case "stuck":
		return VEHICLE_STUCK, nil
	case "full_stuck":
		return VEHICLE_FULL_STUCK, nil
	default:
		return 0, fmt.Errorf("Vehicle kind is '%s', but should have values in [completed, stuck, full_stuck]", s)
	}
}

func (iotaIdx *VehicleKind) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseVehicleKind(node.Value)
	if err != nil {
		return err
	}
	*iotaIdx = v
	return nil
}

type vehicleRows struct {
	name string
	rows []TrajectoryRecord
}

// groupByVehicle keeps vehicles in order of first appearance
func groupByVehicle(records []TrajectoryRecord) []*vehicleRows {
	groups := []*vehicleRows{}
	idx := make(map[string]int)
	for _, record := range records {
		i, ok := idx[record.Name]
		if !ok {
			i = len(groups)
			idx[record.Name] = i
			groups = append(groups, &vehicleRows{name: record.Name})
		}
		groups[i].rows = append(groups[i].rows, record)
	}
	return groups
}

func hasEnded(rows []TrajectoryRecord) bool {
	for _, row := range rows {
		if row.Link == LinkEnded {
			return true
		}
	}
	return false
}

// ClassifyVehicles returns the names of the vehicles of the given kind. A
// vehicle is stuck when it has not reached its destination and either
// never left its origin, was aborted, logged a single row or spent more than
// nStuck minutes on its last link. It is full_stuck when any two consecutive
// rows are more than nStuck minutes apart.
func ClassifyVehicles(records []TrajectoryRecord, kind VehicleKind, nStuck int) []string {
	limit := float64(nStuck * 60)
	names := []string{}
	for _, group := range groupByVehicle(records) {
		switch kind {
		case VEHICLE_COMPLETED:
			if hasEnded(group.rows) {
				names = append(names, group.name)
			}
		case VEHICLE_STUCK:
			if hasEnded(group.rows) {
				continue
			}
			rows := make([]TrajectoryRecord, len(group.rows))
			copy(rows, group.rows)
			sort.SliceStable(rows, func(i, j int) bool {
				return rows[i].T > rows[j].T
			})
			last := rows[0].Link
			if last == LinkWaiting || last == LinkAborted || len(rows) == 1 || rows[0].T-rows[1].T > limit {
				names = append(names, group.name)
			}
		case VEHICLE_FULL_STUCK:
			for i := 1; i < len(group.rows); i++ {
				if group.rows[i].T-group.rows[i-1].T > limit {
					names = append(names, group.name)
					break
				}
			}
		}
	}
	return names
}

// StuckLink counts rows of vehicles that stood still on a link
type StuckLink struct {
	Link            string
	StuckCount      int
	TotalCount      int
	StuckPercentage float64
}

// StuckLinks counts, for every network link, the rows followed by a gap
// longer than nStuck minutes. Sentinel labels are left out.
func StuckLinks(records []TrajectoryRecord, nStuck int) []StuckLink {
	limit := float64(nStuck * 60)
	stats := make(map[string]*StuckLink)
	order := []string{}
	for _, group := range groupByVehicle(records) {
		for i, row := range group.rows {
			if !IsResumableLink(row.Link) {
				continue
			}
			st, ok := stats[row.Link]
			if !ok {
				st = &StuckLink{Link: row.Link}
				stats[row.Link] = st
				order = append(order, row.Link)
			}
			st.TotalCount++
			if i+1 < len(group.rows) && group.rows[i+1].T-row.T > limit {
				st.StuckCount++
			}
		}
	}
	out := make([]StuckLink, 0, len(order))
	for _, link := range order {
		st := stats[link]
		st.StuckPercentage = float64(st.StuckCount) / float64(st.TotalCount) * 100
		out = append(out, *st)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StuckCount > out[j].StuckCount
	})
	return out
}

func ExportStuckLinksToCSV(fname string, stats []StuckLink) error {
	file, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create file")
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()
	writer.Comma = ';'

	err = writer.Write([]string{"link", "stuck_count", "total_count", "stuck_percentage"})
	if err != nil {
		return errors.Wrap(err, "Can't write header")
	}
	for _, st := range stats {
		err = writer.Write([]string{
			st.Link,
			fmt.Sprintf("%d", st.StuckCount),
			fmt.Sprintf("%d", st.TotalCount),
			fmt.Sprintf("%f", st.StuckPercentage),
		})
		if err != nil {
			return errors.Wrap(err, "Can't write stuck link")
		}
	}
	return nil
}

// AggregateLinkStats averages link statistics of several seeds. Travel
// times only count seeds where some vehicle left the link; their standard
// deviation is the root of the mean variance.
func AggregateLinkStats(perSeed [][]LinkStat) []LinkStat {
	type acc struct {
		stat      LinkStat
		volumes   []float64
		remains   []float64
		means     []float64
		variances []float64
	}
	accs := make(map[string]*acc)
	order := []string{}
	for _, stats := range perSeed {
		for _, ls := range stats {
			a, ok := accs[ls.Link]
			if !ok {
				a = &acc{stat: ls}
				accs[ls.Link] = a
				order = append(order, ls.Link)
			}
			a.volumes = append(a.volumes, float64(ls.TrafficVolume))
			a.remains = append(a.remains, float64(ls.VehiclesRemain))
			if ls.AverageTravelTime >= 0 {
				a.means = append(a.means, ls.AverageTravelTime)
				a.variances = append(a.variances, ls.StdDivTravelTime*ls.StdDivTravelTime)
			}
		}
	}
	out := make([]LinkStat, 0, len(order))
	for _, link := range order {
		a := accs[link]
		ls := a.stat
		ls.TrafficVolume = int(math.Round(stat.Mean(a.volumes, nil)))
		ls.VehiclesRemain = int(math.Round(stat.Mean(a.remains, nil)))
		ls.AverageTravelTime = -1
		ls.StdDivTravelTime = -1
		if len(a.means) > 0 {
			ls.AverageTravelTime = stat.Mean(a.means, nil)
			ls.StdDivTravelTime = math.Sqrt(stat.Mean(a.variances, nil))
		}
		out = append(out, ls)
	}
	return out
}
