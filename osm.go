package areaverde

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type OSMScanner interface {
	Scan() bool
	Close() error
	Err() error
	Object() osm.Object
}

var (
	speedRegExp = regexp.MustCompile(`\d+\.?\d*`)
	lanesRegExp = regexp.MustCompile(`\d+`)
)

const mphToKmh = 1.609344

// OSMConverter holds the options of ConvertOSM
type OSMConverter struct {
	linkTypes map[LinkType]struct{}
	logger    *log.Entry
}

func WithOSMLinkTypes(linkTypes ...LinkType) func(*OSMConverter) {
	return func(c *OSMConverter) {
		c.linkTypes = make(map[LinkType]struct{}, len(linkTypes))
		for _, linkType := range linkTypes {
			c.linkTypes[linkType] = struct{}{}
		}
	}
}

func WithOSMLogger(logger *log.Entry) func(*OSMConverter) {
	return func(c *OSMConverter) {
		c.logger = logger
	}
}

// wayData keeps the tags of a highway way that matter for the network
type wayData struct {
	ID         osm.WayID
	Nodes      []osm.NodeID
	Oneway     bool
	IsReversed bool
	linkType   LinkType
	// Total lanes, -1 when not tagged
	lanes int
	// km/h, -1 when not tagged
	maxSpeed float64
}

// ConvertOSM builds a network from the drivable highways of an OSM extract
// (.osm/.xml or .pbf). Node ids are OSM ids, coordinates EPSG:3857 metres.
func ConvertOSM(fname string, options ...func(*OSMConverter)) (*Network, error) {
	converter := &OSMConverter{
		linkTypes: map[LinkType]struct{}{
			LINK_MOTORWAY:    {},
			LINK_TRUNK:       {},
			LINK_PRIMARY:     {},
			LINK_SECONDARY:   {},
			LINK_TERTIARY:    {},
			LINK_RESIDENTIAL: {},
		},
		logger: log.NewEntry(log.StandardLogger()),
	}
	for _, option := range options {
		option(converter)
	}
	return converter.convert(fname)
}

func newScanner(fname string, file io.Reader) (OSMScanner, error) {
	ext := filepath.Ext(fname)
	switch ext {
	case ".osm", ".xml":
		return osmxml.New(context.Background(), file), nil
	case ".pbf":
		return osmpbf.New(context.Background(), file, 4), nil
	default:
		return nil, fmt.Errorf("File extension '%s' for file '%s' is not handled yet", ext, fname)
	}
}

func (c *OSMConverter) convert(fname string) (*Network, error) {
	logger := c.logger.WithField("file", fname)
	file, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open OSM file")
	}
	defer file.Close()

	logger.Info("Processing ways...")
	st := time.Now()
	ways := []*wayData{}
	nodeUse := make(map[osm.NodeID]int)
	{
		scannerWays, err := newScanner(fname, file)
		if err != nil {
			return nil, err
		}
		defer scannerWays.Close()

		for scannerWays.Scan() {
			obj := scannerWays.Object()
			if obj.ObjectID().Type() != "way" {
				continue
			}
			way := obj.(*osm.Way)
			prepared := c.prepareWay(way, logger)
			if prepared == nil {
				continue
			}
			for i, nodeID := range prepared.Nodes {
				nodeUse[nodeID]++
				// Way ends always split
				if i == 0 || i == len(prepared.Nodes)-1 {
					nodeUse[nodeID]++
				}
			}
			ways = append(ways, prepared)
		}
		if err = scannerWays.Err(); err != nil {
			return nil, errors.Wrap(err, "Can't scan ways")
		}
	}
	logger.Infof("Done in %v, %d ways kept", time.Since(st), len(ways))

	_, err = file.Seek(0, io.SeekStart)
	if err != nil {
		return nil, errors.Wrap(err, "Can't repeat seeking after ways scanning")
	}

	logger.Info("Processing nodes...")
	st = time.Now()
	points := make(map[osm.NodeID]orb.Point, len(nodeUse))
	{
		scannerNodes, err := newScanner(fname, file)
		if err != nil {
			return nil, err
		}
		defer scannerNodes.Close()

		for scannerNodes.Scan() {
			obj := scannerNodes.Object()
			if obj.ObjectID().Type() != "node" {
				continue
			}
			node := obj.(*osm.Node)
			if _, ok := nodeUse[node.ID]; ok {
				points[node.ID] = orb.Point{node.Lon, node.Lat}
			}
		}
		if err = scannerNodes.Err(); err != nil {
			return nil, errors.Wrap(err, "Can't scan nodes")
		}
	}
	logger.Infof("Done in %v, %d nodes kept", time.Since(st), len(points))

	logger.Info("Preparing links...")
	st = time.Now()
	net := NewNetwork()
	keys := make(map[string]int)
	addLink := func(segment []osm.NodeID, way *wayData) error {
		lonLat := make(orb.LineString, len(segment))
		for i, nodeID := range segment {
			lonLat[i] = points[nodeID]
		}
		length := geo.LengthHaversign(lonLat)
		if length <= 0 {
			return nil
		}
		projected := make(orb.LineString, len(lonLat))
		for i, pt := range lonLat {
			projected[i] = pointToEuclidean(pt)
		}
		for _, nodeID := range []osm.NodeID{segment[0], segment[len(segment)-1]} {
			id := fmt.Sprintf("%d", nodeID)
			if _, ok := net.Node(id); !ok {
				if err := net.AddNode(id, pointToEuclidean(points[nodeID])); err != nil {
					return err
				}
			}
		}
		from := fmt.Sprintf("%d", segment[0])
		to := fmt.Sprintf("%d", segment[len(segment)-1])
		pair := from + "_" + to
		key := keys[pair]
		keys[pair]++
		_, err := net.AddLink(from, to, strconv.Itoa(key), length, way.speed()/3.6, way.lanesPerDirection(), way.linkType, projected)
		return err
	}
	skipped := 0
	for _, way := range ways {
		nodes := make([]osm.NodeID, 0, len(way.Nodes))
		for _, nodeID := range way.Nodes {
			if _, ok := points[nodeID]; ok {
				nodes = append(nodes, nodeID)
			}
		}
		if len(nodes) < 2 {
			skipped++
			continue
		}
		if way.IsReversed {
			for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
				nodes[i], nodes[j] = nodes[j], nodes[i]
			}
		}
		start := 0
		for i := 1; i < len(nodes); i++ {
			if nodeUse[nodes[i]] < 2 && i != len(nodes)-1 {
				continue
			}
			segment := nodes[start : i+1]
			start = i
			if err = addLink(segment, way); err != nil {
				return nil, errors.Wrapf(err, "Can't add forward link for way %d", way.ID)
			}
			if way.Oneway {
				continue
			}
			backward := make([]osm.NodeID, len(segment))
			for k := range segment {
				backward[k] = segment[len(segment)-1-k]
			}
			if err = addLink(backward, way); err != nil {
				return nil, errors.Wrapf(err, "Can't add backward link for way %d", way.ID)
			}
		}
	}
	logger.WithField("skipped", skipped).Debug("Ways without enough nodes")
	logger.Infof("Done in %v, %d nodes and %d links", time.Since(st), len(net.Nodes), len(net.Links))
	if len(net.Links) == 0 {
		return nil, ErrEmptyNetwork
	}
	return net, nil
}

func (c *OSMConverter) prepareWay(way *osm.Way, logger *log.Entry) *wayData {
	highway := getHighwayType(way.Tags.Find("highway"))
	if highway == 0 {
		return nil
	}
	linkType := linkTypeByHighway[highway]
	if _, ok := c.linkTypes[linkType]; !ok {
		return nil
	}
	if way.Tags.Find("area") == "yes" {
		return nil
	}
	if !carAllowed(way.Tags) {
		logger.Debugf("Way %d is closed to cars", way.ID)
		return nil
	}
	prepared := &wayData{
		ID:       way.ID,
		Nodes:    make([]osm.NodeID, 0, len(way.Nodes)),
		linkType: linkType,
		lanes:    -1,
		maxSpeed: -1,
	}
	for _, node := range way.Nodes {
		prepared.Nodes = append(prepared.Nodes, node.ID)
	}
	onewayText := way.Tags.Find("oneway")
	switch onewayText {
	case "yes", "1":
		prepared.Oneway = true
	case "no", "0":
		prepared.Oneway = false
	case "-1":
		prepared.Oneway = true
		prepared.IsReversed = true
	case "":
		if _, ok := junctionTypes[way.Tags.Find("junction")]; ok {
			prepared.Oneway = true
		}
	default:
		// Reversible or alternating ways depend on time conditions
		if _, found := onewayReversible[onewayText]; !found {
			logger.Warnf("Unhandled `oneway` tag value has been met: '%s'. Way ID: '%d'", onewayText, way.ID)
		}
	}
	if lanes := lanesRegExp.FindString(way.Tags.Find("lanes")); lanes != "" {
		if v, err := strconv.Atoi(lanes); err == nil && v > 0 {
			prepared.lanes = v
		}
	}
	prepared.maxSpeed = parseMaxSpeed(way.Tags.Find("maxspeed"))
	return prepared
}

// parseMaxSpeed returns km/h, -1 when the tag is missing or not numeric
func parseMaxSpeed(tag string) float64 {
	number := speedRegExp.FindString(tag)
	if number == "" {
		return -1
	}
	v, err := strconv.ParseFloat(number, 64)
	if err != nil || v <= 0 {
		return -1
	}
	if strings.Contains(tag, "mph") {
		return v * mphToKmh
	}
	return v
}

func (way *wayData) speed() float64 {
	if way.maxSpeed > 0 {
		return way.maxSpeed
	}
	return defaultSpeedByLinkType[way.linkType]
}

func (way *wayData) lanesPerDirection() int {
	if way.lanes <= 0 {
		return defaultLanesByLinkType[way.linkType]
	}
	if way.Oneway {
		return way.lanes
	}
	if way.lanes < 2 {
		return 1
	}
	return way.lanes / 2
}
