package areaverde

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// TrajectoryRecord is one row of the vehicle trajectory export
type TrajectoryRecord struct {
	Name      string     `parquet:"name"`
	DeltaN    int        `parquet:"dn"`
	Orig      string     `parquet:"orig"`
	Dest      string     `parquet:"dest"`
	T         float64    `parquet:"t"`
	Link      string     `parquet:"link"`
	X         float64    `parquet:"x"`
	S         float64    `parquet:"s"`
	V         float64    `parquet:"v"`
	Attribute Attributes `parquet:"attribute"`
}

// LinkStat holds the per-link analytics of one world
type LinkStat struct {
	Link              string  `parquet:"link"`
	StartNode         string  `parquet:"start_node"`
	EndNode           string  `parquet:"end_node"`
	Length            float64 `parquet:"length"`
	TrafficVolume     int     `parquet:"traffic_volume"`
	VehiclesRemain    int     `parquet:"vehicles_remain"`
	FreeTravelTime    float64 `parquet:"free_travel_time"`
	AverageTravelTime float64 `parquet:"average_travel_time"`
	StdDivTravelTime  float64 `parquet:"stddiv_travel_time"`
}

// TrajectoryRecords flattens vehicle logs, vehicle after vehicle
func TrajectoryRecords(vehicles []VehicleTrajectory) []TrajectoryRecord {
	size := 0
	for _, veh := range vehicles {
		size += len(veh.Rows)
	}
	records := make([]TrajectoryRecord, 0, size)
	for _, veh := range vehicles {
		for _, row := range veh.Rows {
			records = append(records, TrajectoryRecord{
				Name:      veh.Name,
				DeltaN:    veh.DeltaN,
				Orig:      veh.Orig,
				Dest:      veh.Dest,
				T:         row.T,
				Link:      row.Link,
				X:         row.X,
				S:         row.S,
				V:         row.V,
				Attribute: veh.Attr,
			})
		}
	}
	return records
}

func SaveTrajectories(fname string, vehicles []VehicleTrajectory) error {
	err := parquet.WriteFile(fname, TrajectoryRecords(vehicles))
	if err != nil {
		return errors.Wrap(err, "Can't write trajectories parquet")
	}
	return nil
}

func LoadTrajectories(fname string) ([]TrajectoryRecord, error) {
	records, err := parquet.ReadFile[TrajectoryRecord](fname)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read trajectories parquet")
	}
	return records, nil
}

func SaveLinkStats(fname string, stats []LinkStat) error {
	err := parquet.WriteFile(fname, stats)
	if err != nil {
		return errors.Wrap(err, "Can't write link stats parquet")
	}
	return nil
}

func LoadLinkStats(fname string) ([]LinkStat, error) {
	stats, err := parquet.ReadFile[LinkStat](fname)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read link stats parquet")
	}
	return stats, nil
}

// ExportLinkStatsToCSV writes link statistics with the lon/lat geometry of
// each link when the network knows it
func ExportLinkStatsToCSV(fname string, stats []LinkStat, net *Network, format GeomFormat) error {
	file, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create file")
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()
	writer.Comma = ';'

	err = writer.Write([]string{"link", "start_node", "end_node", "length", "traffic_volume", "vehicles_remain", "free_travel_time", "average_travel_time", "stddiv_travel_time", "geom"})
	if err != nil {
		return errors.Wrap(err, "Can't write header")
	}

	for _, ls := range stats {
		geom := ""
		if net != nil {
			if link, ok := net.Link(ls.Link); ok {
				geom = prepareLineString(lineToSpherical(link.Geom), format)
			}
		}
		err = writer.Write([]string{
			ls.Link,
			ls.StartNode,
			ls.EndNode,
			fmt.Sprintf("%f", ls.Length),
			fmt.Sprintf("%d", ls.TrafficVolume),
			fmt.Sprintf("%d", ls.VehiclesRemain),
			fmt.Sprintf("%f", ls.FreeTravelTime),
			fmt.Sprintf("%f", ls.AverageTravelTime),
			fmt.Sprintf("%f", ls.StdDivTravelTime),
			geom,
		})
		if err != nil {
			return errors.Wrap(err, "Can't write link stat")
		}
	}
	return nil
}

// Drainer is implemented by worlds that can hand over ended vehicles early
type Drainer interface {
	DrainEnded(save func([]VehicleTrajectory) error) (int, error)
}

// OnlineSaver appends trajectories of ended vehicles to one Parquet file
// while the world keeps running
type OnlineSaver struct {
	file   *os.File
	writer *parquet.GenericWriter[TrajectoryRecord]
	rows   int
}

func NewOnlineSaver(fname string) (*OnlineSaver, error) {
	file, err := os.Create(fname)
	if err != nil {
		return nil, errors.Wrap(err, "Can't create file")
	}
	return &OnlineSaver{
		file:   file,
		writer: parquet.NewGenericWriter[TrajectoryRecord](file),
	}, nil
}

// Flush moves the ended vehicles of the world into the file. Vehicles leave
// the world only after their rows are written.
func (saver *OnlineSaver) Flush(world Drainer) (int, error) {
	return world.DrainEnded(func(vehicles []VehicleTrajectory) error {
		n, err := saver.writer.Write(TrajectoryRecords(vehicles))
		saver.rows += n
		if err != nil {
			return errors.Wrap(err, "Can't append trajectories")
		}
		return nil
	})
}

func (saver *OnlineSaver) Rows() int {
	return saver.rows
}

func (saver *OnlineSaver) Close() error {
	errWriter := saver.writer.Close()
	errFile := saver.file.Close()
	if errWriter != nil {
		return errors.Wrap(errWriter, "Can't close parquet writer")
	}
	if errFile != nil {
		return errors.Wrap(errFile, "Can't close file")
	}
	return nil
}

// trajectoryFile joins the output prefix and a run suffix
func trajectoryFile(prefix, suffix string) string {
	return strings.Join([]string{prefix, suffix}, "_") + ".parquet"
}
