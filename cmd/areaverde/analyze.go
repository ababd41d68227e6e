package main

import (
	"os"
	"path/filepath"

	areaverde "github.com/H4miiiid/Ethisc-in-AI-Unibo-Project"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func analyzeCommand() *cobra.Command {
	var vehicleFiles, linkFiles []string
	var minutes int
	var out, geomf string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Classify stuck vehicles and aggregate link statistics across seeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := cfg.Logger()
			format, err := areaverde.ParseGeomFormat(geomf)
			if err != nil {
				return err
			}
			if out == "" {
				out = filepath.Join(cfg.Output.Dir, "analysis")
			}
			if err = os.MkdirAll(out, 0755); err != nil {
				return errors.Wrap(err, "Can't create output directory")
			}

			records := []areaverde.TrajectoryRecord{}
			for _, fname := range vehicleFiles {
				loaded, err := areaverde.LoadTrajectories(fname)
				if err != nil {
					return errors.Wrapf(err, "File '%s'", fname)
				}
				// Vehicle names restart in every file
				for i := range loaded {
					loaded[i].Name = fname + ":" + loaded[i].Name
				}
				records = append(records, loaded...)
			}
			if len(records) > 0 {
				for _, kind := range []areaverde.VehicleKind{areaverde.VEHICLE_COMPLETED, areaverde.VEHICLE_STUCK, areaverde.VEHICLE_FULL_STUCK} {
					names := areaverde.ClassifyVehicles(records, kind, minutes)
					logger.WithFields(log.Fields{"kind": kind.String(), "vehicles": len(names)}).Info("Vehicles classified")
				}
				err = areaverde.ExportStuckLinksToCSV(filepath.Join(out, "stuck_links.csv"), areaverde.StuckLinks(records, minutes))
				if err != nil {
					return err
				}
			}

			if len(linkFiles) == 0 {
				return nil
			}
			perSeed := make([][]areaverde.LinkStat, 0, len(linkFiles))
			for _, fname := range linkFiles {
				stats, err := areaverde.LoadLinkStats(fname)
				if err != nil {
					return errors.Wrapf(err, "File '%s'", fname)
				}
				perSeed = append(perSeed, stats)
			}
			var net *areaverde.Network
			if loaded, err := areaverde.LoadNetwork(cfg.Network.Nodes, cfg.Network.Links); err == nil {
				net = loaded
			} else {
				logger.WithError(err).Warn("No network, link geometry left empty")
			}
			return areaverde.ExportLinkStatsToCSV(filepath.Join(out, "links_aggregated.csv"), areaverde.AggregateLinkStats(perSeed), net, format)
		},
	}
	cmd.Flags().StringSliceVar(&vehicleFiles, "vehicles", nil, "Vehicle trajectory Parquet files")
	cmd.Flags().StringSliceVar(&linkFiles, "links", nil, "Link statistics Parquet files, one per seed")
	cmd.Flags().IntVar(&minutes, "stuck-minutes", 10, "Minutes without moving that make a vehicle stuck")
	cmd.Flags().StringVar(&out, "out", "", "Output directory")
	cmd.Flags().StringVar(&geomf, "geomf", "wkt", "Format of output geometry. Expected values: wkt / geojson")
	return cmd
}
