package main

import (
	"strings"

	areaverde "github.com/H4miiiid/Ethisc-in-AI-Unibo-Project"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func convertCommand() *cobra.Command {
	var osmFile, nodesFile, linksFile, geoJSONFile, types string
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert an OSM extract (.osm or .pbf) into the nodes and links files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if osmFile == "" {
				osmFile = cfg.Network.OSM
			}
			if osmFile == "" {
				return errors.New("No OSM file given")
			}
			if nodesFile == "" {
				nodesFile = cfg.Network.Nodes
			}
			if linksFile == "" {
				linksFile = cfg.Network.Links
			}
			options := []func(*areaverde.OSMConverter){areaverde.WithOSMLogger(cfg.Logger())}
			if types != "" {
				linkTypes := []areaverde.LinkType{}
				for _, name := range strings.Split(types, ",") {
					linkType := areaverde.ParseLinkType(strings.TrimSpace(name))
					if linkType == 0 {
						return errors.Errorf("Unknown link type '%s'", name)
					}
					linkTypes = append(linkTypes, linkType)
				}
				options = append(options, areaverde.WithOSMLinkTypes(linkTypes...))
			}
			net, err := areaverde.ConvertOSM(osmFile, options...)
			if err != nil {
				return err
			}
			if err = net.ExportCSV(nodesFile, linksFile); err != nil {
				return err
			}
			if geoJSONFile != "" {
				return net.ExportGeoJSON(geoJSONFile)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&osmFile, "file", "", "OSM extract, .osm/.xml or .pbf")
	cmd.Flags().StringVar(&nodesFile, "nodes", "", "Output nodes file")
	cmd.Flags().StringVar(&linksFile, "links", "", "Output links file")
	cmd.Flags().StringVar(&geoJSONFile, "geojson", "", "Optional GeoJSON output")
	cmd.Flags().StringVar(&types, "types", "", "Link types to keep, separated by commas (e.g. primary,secondary)")
	return cmd
}
