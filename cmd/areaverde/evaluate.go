package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/H4miiiid/Ethisc-in-AI-Unibo-Project/model"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func evaluateCommand() *cobra.Command {
	var ethical bool
	var draws int
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the behavioural response model and export KPIs and zone series",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := cfg.Logger()
			modelCfg := cfg.Model.Config
			if draws > 0 {
				modelCfg.Draws = draws
			}

			inflow, starting, err := model.LoadProfile(cfg.Model.Profile)
			if err != nil {
				return err
			}
			zones := []model.ZoneInput{}
			if cfg.Model.Zones != "" {
				if _, err := os.Stat(cfg.Model.Zones); err == nil {
					zones, err = model.LoadZones(cfg.Model.Zones)
					if err != nil {
						return err
					}
				} else {
					logger.WithField("file", cfg.Model.Zones).Warn("No zone file, evaluating the whole area only")
				}
			}

			logger.Info("Preparing model...")
			st := time.Now()
			m, err := model.NewModel(modelCfg, model.Inputs{Inflow: inflow, Starting: starting, Zones: zones})
			if err != nil {
				return err
			}
			batch, err := m.Run()
			if err != nil {
				return errors.Wrap(err, "Can't evaluate model")
			}
			logger.WithField("draws", modelCfg.Draws).Infof("Done in %v", time.Since(st))

			err = os.MkdirAll(cfg.Model.OutputDir, 0755)
			if err != nil {
				return errors.Wrap(err, "Can't create output directory")
			}
			kpis := model.ComputeKPIs(m, batch)
			for _, kpi := range kpis {
				logger.Info(kpi.String())
			}
			err = model.ExportKPIsToCSV(kpis, filepath.Join(cfg.Model.OutputDir, "kpis.csv"))
			if err != nil {
				return err
			}

			rows := model.ZoneSeries(m, batch)
			if ethical || cfg.Model.Ethical.Enabled {
				e := cfg.Model.Ethical
				rows = model.EthicalAdjustZoneSeries(rows, e.FemalePercentage, e.FragilityIndex, e.Params)
				logger.WithFields(log.Fields{"female_percentage": e.FemalePercentage, "fragility_index": e.FragilityIndex}).Info("Ethical adjustment applied")
			}
			err = model.ExportZoneSeriesToCSV(rows, filepath.Join(cfg.Model.OutputDir, "zone_series.csv"))
			if err != nil {
				return err
			}
			return model.ExportZoneSeriesToParquet(rows, filepath.Join(cfg.Model.OutputDir, "zone_series.parquet"))
		},
	}
	cmd.Flags().BoolVar(&ethical, "ethical", false, "Apply the ethical adjustment to the modified series")
	cmd.Flags().IntVar(&draws, "draws", 0, "Override the number of Monte Carlo draws")
	return cmd
}
