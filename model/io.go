package model

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// ZoneRecord is one hourly observation of a zone
type ZoneRecord struct {
	Zone              string  `parquet:"id_zone"`
	Hour              int32   `parquet:"hour"`
	InflowFromInside  float64 `parquet:"inflow_from_inside_mean"`
	InflowFromOutside float64 `parquet:"inflow_from_outside_mean"`
	Traffic           float64 `parquet:"traffic_in_zone_mean"`
}

// ZoneSeriesRecord is one slot of the reference and modified series of a zone.
// Values are means over draws.
type ZoneSeriesRecord struct {
	Zone               string  `parquet:"zone"`
	Slot               int32   `parquet:"slot"`
	Time               string  `parquet:"time"`
	ReferenceInflow    float64 `parquet:"reference_inflow"`
	ModifiedInflow     float64 `parquet:"modified_inflow"`
	ReferenceTraffic   float64 `parquet:"reference_traffic"`
	ModifiedTraffic    float64 `parquet:"modified_traffic"`
	ReferenceEmissions float64 `parquet:"reference_emissions"`
	ModifiedEmissions  float64 `parquet:"modified_emissions"`
}

// TotalZone names the rows holding the whole-area series
const TotalZone = "total"

// LoadProfile reads the per-slot inflow and starting series from a
// ';'-separated file with header slot;inflow;starting.
func LoadProfile(fname string) (inflow, starting []float64, err error) {
	file, err := os.Open(fname)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't open profile")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = ';'
	header, err := reader.Read()
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't read header")
	}
	cols, err := columnIndex(header, "inflow", "starting")
	if err != nil {
		return nil, nil, err
	}
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "Can't read line %d", line)
		}
		in, err := strconv.ParseFloat(strings.TrimSpace(row[cols[0]]), 64)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "Bad inflow on line %d", line)
		}
		st, err := strconv.ParseFloat(strings.TrimSpace(row[cols[1]]), 64)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "Bad starting on line %d", line)
		}
		inflow = append(inflow, in)
		starting = append(starting, st)
	}
	return inflow, starting, nil
}

func columnIndex(header []string, names ...string) ([]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	out := make([]int, len(names))
	for i, name := range names {
		p, ok := pos[name]
		if !ok {
			return nil, fmt.Errorf("Column '%s' is missing", name)
		}
		out[i] = p
	}
	return out, nil
}

// LoadZones reads hourly zone observations from a Parquet file or a
// ';'-separated CSV file with the ZoneRecord column names.
func LoadZones(fname string) ([]ZoneInput, error) {
	var records []ZoneRecord
	var err error
	switch strings.ToLower(filepath.Ext(fname)) {
	case ".parquet":
		records, err = parquet.ReadFile[ZoneRecord](fname)
		if err != nil {
			return nil, errors.Wrap(err, "Can't read zones parquet")
		}
	case ".csv":
		records, err = readZonesCSV(fname)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("File extension '%s' for file '%s' is not handled yet", filepath.Ext(fname), fname)
	}
	return ZonesFromRecords(records)
}

func readZonesCSV(fname string) ([]ZoneRecord, error) {
	file, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open zones")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = ';'
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "Can't read header")
	}
	cols, err := columnIndex(header, "id_zone", "hour", "inflow_from_inside_mean", "inflow_from_outside_mean", "traffic_in_zone_mean")
	if err != nil {
		return nil, err
	}
	records := []ZoneRecord{}
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "Can't read line %d", line)
		}
		hour, err := strconv.Atoi(strings.TrimSpace(row[cols[1]]))
		if err != nil {
			return nil, errors.Wrapf(err, "Bad hour on line %d", line)
		}
		values := make([]float64, 3)
		for i := range values {
			values[i], err = strconv.ParseFloat(strings.TrimSpace(row[cols[2+i]]), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "Bad value on line %d", line)
			}
		}
		records = append(records, ZoneRecord{
			Zone:              strings.TrimSpace(row[cols[0]]),
			Hour:              int32(hour),
			InflowFromInside:  values[0],
			InflowFromOutside: values[1],
			Traffic:           values[2],
		})
	}
	return records, nil
}

// ZonesFromRecords groups records by zone. Each zone needs all 24 hours.
// Zones keep the order of their first appearance.
func ZonesFromRecords(records []ZoneRecord) ([]ZoneInput, error) {
	byZone := make(map[string]*ZoneInput)
	seen := make(map[string][]bool)
	order := []string{}
	for _, r := range records {
		if r.Hour < 0 || r.Hour > 23 {
			return nil, fmt.Errorf("Zone '%s' has hour %d out of [0, 23]", r.Zone, r.Hour)
		}
		z, ok := byZone[r.Zone]
		if !ok {
			z = &ZoneInput{
				ID:                r.Zone,
				InflowFromInside:  make([]float64, 24),
				InflowFromOutside: make([]float64, 24),
				Traffic:           make([]float64, 24),
			}
			byZone[r.Zone] = z
			seen[r.Zone] = make([]bool, 24)
			order = append(order, r.Zone)
		}
		z.InflowFromInside[r.Hour] = r.InflowFromInside
		z.InflowFromOutside[r.Hour] = r.InflowFromOutside
		z.Traffic[r.Hour] = r.Traffic
		seen[r.Zone][r.Hour] = true
	}
	zones := make([]ZoneInput, 0, len(order))
	for _, id := range order {
		for h, ok := range seen[id] {
			if !ok {
				return nil, fmt.Errorf("Zone '%s' misses hour %d", id, h)
			}
		}
		zones = append(zones, *byZone[id])
	}
	return zones, nil
}

// ZoneSeries flattens a batch into per-slot rows for every zone and for the
// whole area. Zones are sorted by id.
func ZoneSeries(m *Model, batch *Batch) []ZoneSeriesRecord {
	zones := make([]string, len(m.Zones))
	copy(zones, m.Zones)
	sort.Strings(zones)

	rows := make([]ZoneSeriesRecord, 0, (len(zones)+1)*Slots)
	appendZone := func(zone string, refIn, modIn, refTr, modTr, refEm, modEm *Index) {
		series := [6][]float64{}
		for i, idx := range []*Index{refIn, modIn, refTr, modTr, refEm, modEm} {
			series[i] = broadcastRow(batch.Get(idx).ColumnMeans(), Slots)
		}
		for t := 0; t < Slots; t++ {
			rows = append(rows, ZoneSeriesRecord{
				Zone:               zone,
				Slot:               int32(t),
				Time:               SlotTime(t),
				ReferenceInflow:    series[0][t],
				ModifiedInflow:     series[1][t],
				ReferenceTraffic:   series[2][t],
				ModifiedTraffic:    series[3][t],
				ReferenceEmissions: series[4][t],
				ModifiedEmissions:  series[5][t],
			})
		}
	}
	appendZone(TotalZone, m.Inflow, m.ModifiedInflow, m.Traffic, m.ModifiedTraffic, m.Emissions, m.ModifiedEmissions)
	for _, z := range zones {
		appendZone(z, m.ZoneInflow[z], m.ModifiedZoneInflow[z], m.ZoneTraffic[z], m.ModifiedZoneTraffic[z], m.ZoneEmissions[z], m.ModifiedZoneEmissions[z])
	}
	return rows
}

func broadcastRow(values []float64, n int) []float64 {
	if len(values) == n {
		return values
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = values[0]
	}
	return out
}

// SlotTime formats a slot as HH:MM
func SlotTime(slot int) string {
	minutes := slot * 60 / RecordFrequency
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func ExportZoneSeriesToParquet(rows []ZoneSeriesRecord, fname string) error {
	err := parquet.WriteFile(fname, rows)
	if err != nil {
		return errors.Wrap(err, "Can't write zone series parquet")
	}
	return nil
}

func ExportZoneSeriesToCSV(rows []ZoneSeriesRecord, fname string) error {
	file, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create file")
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()
	writer.Comma = ';'

	err = writer.Write([]string{"zone", "slot", "time", "reference_inflow", "modified_inflow", "reference_traffic", "modified_traffic", "reference_emissions", "modified_emissions"})
	if err != nil {
		return errors.Wrap(err, "Can't write header")
	}
	for _, r := range rows {
		err = writer.Write([]string{
			r.Zone,
			fmt.Sprintf("%d", r.Slot),
			r.Time,
			fmt.Sprintf("%f", r.ReferenceInflow),
			fmt.Sprintf("%f", r.ModifiedInflow),
			fmt.Sprintf("%f", r.ReferenceTraffic),
			fmt.Sprintf("%f", r.ModifiedTraffic),
			fmt.Sprintf("%f", r.ReferenceEmissions),
			fmt.Sprintf("%f", r.ModifiedEmissions),
		})
		if err != nil {
			return errors.Wrap(err, "Can't write zone series")
		}
	}
	return nil
}
