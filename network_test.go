package areaverde

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.Out = io.Discard
	return log.NewEntry(logger)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	fname := filepath.Join(dir, name)
	if err := os.WriteFile(fname, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return fname
}

// testNetwork is a two way street A <-> B of 1 km at 10 m/s plus a dead end
// node C reachable from B only
func testNetwork(t *testing.T) *Network {
	t.Helper()
	net := NewNetwork()
	for id, pt := range map[string]orb.Point{"1": {0, 0}, "2": {1000, 0}, "3": {2000, 0}} {
		if err := net.AddNode(id, pt); err != nil {
			t.Fatal(err)
		}
	}
	links := [][2]string{{"1", "2"}, {"2", "1"}, {"2", "3"}}
	for _, pair := range links {
		if _, err := net.AddLink(pair[0], pair[1], "0", 1000, 10, 1, 0, nil); err != nil {
			t.Fatal(err)
		}
	}
	return net
}

func TestLoadNetwork(t *testing.T) {
	dir := t.TempDir()
	nodes := writeFile(t, dir, "nodes.csv", "node_id,x,y\n10,0,0\n20,300,400\n30,5000,0\n")
	links := writeFile(t, dir, "edges.csv", "from_node,to_node,link_key,length,free_flow_speed,lane_count\n10,20,0,500,13.9,2\n20,10,0,500,13.9,2\n20,30,0,4700,27.8,3,motorway\n")
	net, err := LoadNetwork(nodes, links)
	if err != nil {
		t.Fatal(err)
	}
	if len(net.Nodes) != 3 {
		t.Errorf("Network should have 3 nodes, but got %d", len(net.Nodes))
	}
	if len(net.Links) != 3 {
		t.Errorf("Network should have 3 links, but got %d", len(net.Links))
	}
	link, ok := net.Link("20_30_0")
	if !ok {
		t.Fatalf("Link '20_30_0' should exist")
	}
	if link.Type != LINK_MOTORWAY {
		t.Errorf("Link type should be %s, but got %s", LINK_MOTORWAY, link.Type)
	}
	if link.Lanes != 3 {
		t.Errorf("Link should have 3 lanes, but got %d", link.Lanes)
	}
	if len(link.Geom) != 2 || link.Geom[1] != (orb.Point{5000, 0}) {
		t.Errorf("Link geometry should be the straight segment between its nodes, but got %v", link.Geom)
	}
	guessed, _ := net.Link("10_20_0")
	// 13.9 m/s is about 50 km/h
	if guessed.Type != LINK_TERTIARY && guessed.Type != LINK_SECONDARY {
		t.Errorf("Link type should be guessed from speed, but got %s", guessed.Type)
	}
	if Round(guessed.FreeTravelTime(), 0.01) != Round(500/13.9, 0.01) {
		t.Errorf("Free travel time should be %f, but got %f", 500/13.9, guessed.FreeTravelTime())
	}
}

func TestLoadNetworkUnknownNode(t *testing.T) {
	dir := t.TempDir()
	nodes := writeFile(t, dir, "nodes.csv", "1,0,0\n2,10,0\n")
	links := writeFile(t, dir, "edges.csv", "1,3,0,10,10,1\n")
	_, err := LoadNetwork(nodes, links)
	if err == nil {
		t.Fatalf("Link to an unknown node should fail")
	}
	if errors.Cause(err) != ErrUnknownNode {
		t.Errorf("Error should be caused by %v, but got %v", ErrUnknownNode, err)
	}
}

func TestAddLinkValidation(t *testing.T) {
	net := testNetwork(t)
	if _, err := net.AddLink("1", "2", "0", 1000, 10, 1, 0, nil); errors.Cause(err) != ErrDuplicateLink {
		t.Errorf("Duplicate link should fail with %v, but got %v", ErrDuplicateLink, err)
	}
	if _, err := net.AddLink("1", "2", "1", 0, 10, 1, 0, nil); err == nil {
		t.Errorf("Zero length link should fail")
	}
	if err := net.AddNode("1", orb.Point{}); errors.Cause(err) != ErrDuplicateNode {
		t.Errorf("Duplicate node should fail with %v, but got %v", ErrDuplicateNode, err)
	}
}

func TestNodesWithin(t *testing.T) {
	net := testNetwork(t)
	found := net.NodesWithin(orb.Point{900, 0}, 150)
	if len(found) != 1 || found[0] != "2" {
		t.Errorf("Circle should hold node 2 only, but got %v", found)
	}
	found = net.NodesWithin(orb.Point{500, 0}, 500)
	if len(found) != 2 {
		t.Errorf("Circle should hold 2 nodes, but got %v", found)
	}
	found = net.NodesWithin(orb.Point{500, 900}, 100)
	if len(found) != 0 {
		t.Errorf("Circle should be empty, but got %v", found)
	}
	nearest, ok := net.NearestNode(orb.Point{1900, 300})
	if !ok || nearest != "3" {
		t.Errorf("Nearest node should be 3, but got %s", nearest)
	}
	if _, ok := NewNetwork().NearestNode(orb.Point{}); ok {
		t.Errorf("Empty network should have no nearest node")
	}
}

func TestExportCSV(t *testing.T) {
	net := testNetwork(t)
	dir := t.TempDir()
	nodes := filepath.Join(dir, "nodes.csv")
	links := filepath.Join(dir, "edges.csv")
	if err := net.ExportCSV(nodes, links); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadNetwork(nodes, links)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Nodes) != len(net.Nodes) || len(loaded.Links) != len(net.Links) {
		t.Fatalf("Exported network should have %d nodes and %d links, but got %d and %d", len(net.Nodes), len(net.Links), len(loaded.Nodes), len(loaded.Links))
	}
	for i, link := range net.Links {
		got := loaded.Links[i]
		if got.Name != link.Name || got.Type != link.Type || got.Lanes != link.Lanes {
			t.Errorf("Link %d should be %s/%s/%d, but got %s/%s/%d", i, link.Name, link.Type, link.Lanes, got.Name, got.Type, got.Lanes)
		}
	}
	geo := filepath.Join(dir, "network.geojson")
	if err := net.ExportGeoJSON(geo); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(geo); err != nil || info.Size() == 0 {
		t.Errorf("GeoJSON file should not be empty")
	}
}
