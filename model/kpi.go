package model

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// KPI is a daily indicator averaged over the draws of a batch
type KPI struct {
	Name  string
	Unit  string
	Value int64
}

func (k KPI) String() string {
	return fmt.Sprintf("%s [%s]: %d", k.Name, k.Unit, k.Value)
}

// ComputeKPIs reduces a batch to the daily indicators of the policy.
// Values are truncated to integers like the reference reports.
func ComputeKPIs(m *Model, batch *Batch) []KPI {
	mean := func(idx *Index) float64 {
		return batch.Get(idx).Mean()
	}
	paying := int64(0)
	if mean(m.ModifiedAvgCostPerPayer) > 0 {
		paying = int64(mean(m.TotalPaying))
	}
	emissions := int64(mean(m.TotalEmissions))
	modified := int64(mean(m.TotalModifiedEmissions))
	return []KPI{
		{Name: "Base inflow", Unit: "veh/day", Value: int64(mean(m.TotalBaseInflow))},
		{Name: "Mode-shifted inflow", Unit: "veh/day", Value: int64(mean(m.TotalModeShifted))},
		{Name: "Lost inflow", Unit: "veh/day", Value: int64(mean(m.TotalLost))},
		{Name: "Modified inflow", Unit: "veh/day", Value: int64(mean(m.TotalModifiedInflow))},
		{Name: "Time-shifted inflow", Unit: "veh/day", Value: int64(mean(m.TotalTimeShifted))},
		{Name: "Paying inflow", Unit: "veh/day", Value: paying},
		{Name: "Collected fees", Unit: "€/day", Value: int64(mean(m.TotalPaid))},
		{Name: "Emissions", Unit: "NOx gr/day", Value: modified},
		{Name: "Emissions difference", Unit: "NOx gr/day", Value: emissions - modified},
	}
}

// ExportKPIsToCSV writes one row per indicator
func ExportKPIsToCSV(kpis []KPI, fname string) error {
	file, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create file")
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()
	writer.Comma = ';'

	err = writer.Write([]string{"kpi", "unit", "value"})
	if err != nil {
		return errors.Wrap(err, "Can't write header")
	}
	for _, k := range kpis {
		err = writer.Write([]string{
			k.Name,
			k.Unit,
			fmt.Sprintf("%d", k.Value),
		})
		if err != nil {
			return errors.Wrap(err, "Can't write KPI")
		}
	}
	return nil
}
