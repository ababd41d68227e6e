package areaverde

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	geojson "github.com/paulmach/go.geojson"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/pkg/errors"
)

var (
	ErrEmptyNetwork  = errors.New("Network has no nodes or links")
	ErrUnknownNode   = errors.New("Node is not in the network")
	ErrDuplicateNode = errors.New("Node is already in the network")
	ErrDuplicateLink = errors.New("Link is already in the network")
)

// Node is a network vertex. Coordinates are EPSG:3857 metres.
type Node struct {
	ID    string
	Point orb.Point
}

// Link is a directed road segment named "{from}_{to}_{key}"
type Link struct {
	Name string
	From string
	To   string
	Key  string
	// Metres
	Length float64
	// Metres per second
	FreeFlowSpeed float64
	Lanes         int
	Type          LinkType
	Geom          orb.LineString
}

// FreeTravelTime in seconds
func (link *Link) FreeTravelTime() float64 {
	return link.Length / link.FreeFlowSpeed
}

// Capacity is the outflow capacity in vehicles per second
func (link *Link) Capacity() float64 {
	return float64(link.Lanes*defaultCapacityByLinkType[link.Type]) / 3600
}

func linkName(from, to, key string) string {
	return fmt.Sprintf("%s_%s_%s", from, to, key)
}

type Network struct {
	Nodes []*Node
	Links []*Link

	nodeIdx map[string]int
	linkIdx map[string]int
}

func NewNetwork() *Network {
	return &Network{
		Nodes:   make([]*Node, 0),
		Links:   make([]*Link, 0),
		nodeIdx: make(map[string]int),
		linkIdx: make(map[string]int),
	}
}

func (net *Network) AddNode(id string, pt orb.Point) error {
	if _, ok := net.nodeIdx[id]; ok {
		return errors.Wrapf(ErrDuplicateNode, "Node '%s'", id)
	}
	net.nodeIdx[id] = len(net.Nodes)
	net.Nodes = append(net.Nodes, &Node{ID: id, Point: pt})
	return nil
}

// AddLink connects two existing nodes. A nil geometry is replaced by the
// straight segment between them; a zero link type is guessed from the speed.
func (net *Network) AddLink(from, to, key string, length, freeFlowSpeed float64, lanes int, linkType LinkType, geom orb.LineString) (*Link, error) {
	source, ok := net.Node(from)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownNode, "Link source '%s'", from)
	}
	target, ok := net.Node(to)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownNode, "Link target '%s'", to)
	}
	if length <= 0 || freeFlowSpeed <= 0 || lanes <= 0 {
		return nil, fmt.Errorf("Link %s->%s should have positive length, speed and lanes, got %f, %f, %d", from, to, length, freeFlowSpeed, lanes)
	}
	name := linkName(from, to, key)
	if _, ok := net.linkIdx[name]; ok {
		return nil, errors.Wrapf(ErrDuplicateLink, "Link '%s'", name)
	}
	if linkType == 0 {
		linkType = linkTypeForSpeed(freeFlowSpeed * 3.6)
	}
	if geom == nil {
		geom = orb.LineString{source.Point, target.Point}
	}
	link := &Link{
		Name:          name,
		From:          from,
		To:            to,
		Key:           key,
		Length:        length,
		FreeFlowSpeed: freeFlowSpeed,
		Lanes:         lanes,
		Type:          linkType,
		Geom:          geom,
	}
	net.linkIdx[name] = len(net.Links)
	net.Links = append(net.Links, link)
	return link, nil
}

func (net *Network) Node(id string) (*Node, bool) {
	idx, ok := net.nodeIdx[id]
	if !ok {
		return nil, false
	}
	return net.Nodes[idx], true
}

func (net *Network) Link(name string) (*Link, bool) {
	idx, ok := net.linkIdx[name]
	if !ok {
		return nil, false
	}
	return net.Links[idx], true
}

// NodesWithin returns the nodes inside the catchment circle, in network order
func (net *Network) NodesWithin(center orb.Point, radius float64) []string {
	bound := orb.Bound{
		Min: orb.Point{center.X() - radius, center.Y() - radius},
		Max: orb.Point{center.X() + radius, center.Y() + radius},
	}
	found := []string{}
	for _, node := range net.Nodes {
		if !bound.Contains(node.Point) {
			continue
		}
		if planar.Distance(center, node.Point) <= radius {
			found = append(found, node.ID)
		}
	}
	return found
}

// NearestNode is the fallback for empty catchment circles
func (net *Network) NearestNode(p orb.Point) (string, bool) {
	best := ""
	bestDist := -1.0
	for _, node := range net.Nodes {
		d := planar.DistanceSquared(p, node.Point)
		if bestDist < 0 || d < bestDist {
			best, bestDist = node.ID, d
		}
	}
	return best, bestDist >= 0
}

// LoadNetwork reads nodes (node_id,x,y) and links
// (from_node,to_node,link_key,length,free_flow_speed,lane_count[,link_type]).
// A leading header row is tolerated in both files.
func LoadNetwork(nodesFile, linksFile string) (*Network, error) {
	net := NewNetwork()
	err := readRows(nodesFile, 3, func(row []string, line int) error {
		x, errX := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if errX != nil || errY != nil {
			if line == 1 {
				return nil
			}
			return fmt.Errorf("Bad coordinates on line %d of '%s'", line, nodesFile)
		}
		return net.AddNode(strings.TrimSpace(row[0]), orb.Point{x, y})
	})
	if err != nil {
		return nil, errors.Wrap(err, "Can't read nodes")
	}
	err = readRows(linksFile, 6, func(row []string, line int) error {
		values := [3]float64{}
		for i := range values {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[3+i]), 64)
			if err != nil {
				if line == 1 {
					return nil
				}
				return errors.Wrapf(err, "Bad value on line %d of '%s'", line, linksFile)
			}
			values[i] = v
		}
		linkType := LinkType(0)
		if len(row) > 6 {
			linkType = ParseLinkType(strings.TrimSpace(row[6]))
		}
		_, err := net.AddLink(strings.TrimSpace(row[0]), strings.TrimSpace(row[1]), strings.TrimSpace(row[2]), values[0], values[1], int(values[2]), linkType, nil)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "Can't read links")
	}
	if len(net.Nodes) == 0 || len(net.Links) == 0 {
		return nil, ErrEmptyNetwork
	}
	return net, nil
}

func readRows(fname string, minFields int, handle func(row []string, line int) error) error {
	file, err := os.Open(fname)
	if err != nil {
		return errors.Wrap(err, "Can't open file")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	for line := 1; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "Can't read line %d", line)
		}
		if len(row) < minFields {
			return fmt.Errorf("Line %d of '%s' has %d fields, expected at least %d", line, fname, len(row), minFields)
		}
		if err = handle(row, line); err != nil {
			return err
		}
	}
}

// ExportCSV writes the network in the format LoadNetwork reads
func (net *Network) ExportCSV(nodesFile, linksFile string) error {
	err := net.exportNodesToCSV(nodesFile)
	if err != nil {
		return errors.Wrap(err, "Can't export nodes")
	}
	err = net.exportLinksToCSV(linksFile)
	if err != nil {
		return errors.Wrap(err, "Can't export links")
	}
	return nil
}

func (net *Network) exportNodesToCSV(fname string) error {
	file, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create file")
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	for _, node := range net.Nodes {
		err = writer.Write([]string{
			node.ID,
			fmt.Sprintf("%f", node.Point.X()),
			fmt.Sprintf("%f", node.Point.Y()),
		})
		if err != nil {
			return errors.Wrap(err, "Can't write node")
		}
	}
	return nil
}

func (net *Network) exportLinksToCSV(fname string) error {
	file, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create file")
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	for _, link := range net.Links {
		err = writer.Write([]string{
			link.From,
			link.To,
			link.Key,
			fmt.Sprintf("%f", link.Length),
			fmt.Sprintf("%f", link.FreeFlowSpeed),
			fmt.Sprintf("%d", link.Lanes),
			fmt.Sprintf("%s", link.Type),
		})
		if err != nil {
			return errors.Wrap(err, "Can't write link")
		}
	}
	return nil
}

// ExportGeoJSON writes nodes and links as lon/lat features
func (net *Network) ExportGeoJSON(fname string) error {
	fc := geojson.NewFeatureCollection()
	for _, node := range net.Nodes {
		pt := pointToSpherical(node.Point)
		feature := geojson.NewPointFeature([]float64{pt.Lon(), pt.Lat()})
		feature.SetProperty("id", node.ID)
		fc.AddFeature(feature)
	}
	for _, link := range net.Links {
		line := lineToSpherical(link.Geom)
		pts := make([][]float64, len(line))
		for i, pt := range line {
			pts[i] = []float64{pt.Lon(), pt.Lat()}
		}
		feature := geojson.NewLineStringFeature(pts)
		feature.SetProperty("name", link.Name)
		feature.SetProperty("start_node", link.From)
		feature.SetProperty("end_node", link.To)
		feature.SetProperty("length", link.Length)
		feature.SetProperty("free_flow_speed", link.FreeFlowSpeed)
		feature.SetProperty("lanes", link.Lanes)
		feature.SetProperty("link_type", link.Type.String())
		fc.AddFeature(feature)
	}
	b, err := fc.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "Can't marshal GeoJSON")
	}
	err = os.WriteFile(fname, b, 0644)
	if err != nil {
		return errors.Wrap(err, "Can't write GeoJSON")
	}
	return nil
}
