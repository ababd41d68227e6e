package areaverde

import (
	"math"
	"testing"

	"github.com/paulmach/osm"
)

const sampleOSM = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="manual">
 <node id="1" lat="44.490" lon="11.340" version="1"/>
 <node id="2" lat="44.491" lon="11.340" version="1"/>
 <node id="3" lat="44.492" lon="11.340" version="1"/>
 <node id="4" lat="44.491" lon="11.341" version="1"/>
 <node id="5" lat="44.500" lon="11.350" version="1"/>
 <way id="100" version="1">
  <nd ref="1"/>
  <nd ref="2"/>
  <nd ref="3"/>
  <tag k="highway" v="residential"/>
 </way>
 <way id="101" version="1">
  <nd ref="2"/>
  <nd ref="4"/>
  <tag k="highway" v="primary"/>
  <tag k="oneway" v="yes"/>
  <tag k="maxspeed" v="30 mph"/>
  <tag k="lanes" v="2"/>
 </way>
 <way id="103" version="1">
  <nd ref="4"/>
  <nd ref="5"/>
  <tag k="highway" v="residential"/>
  <tag k="access" v="private"/>
 </way>
 <way id="102" version="1">
  <nd ref="3"/>
  <nd ref="5"/>
  <tag k="highway" v="footway"/>
 </way>
</osm>
`

func TestConvertOSM(t *testing.T) {
	fname := writeFile(t, t.TempDir(), "sample.osm", sampleOSM)
	net, err := ConvertOSM(fname, WithOSMLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if len(net.Nodes) != 4 {
		t.Errorf("Network should have 4 nodes, but got %d", len(net.Nodes))
	}
	if _, ok := net.Node("5"); ok {
		t.Errorf("Footway node should not be in the network")
	}
	// Residential way split at node 2 in both directions plus one oneway link
	correctLinks := []string{"1_2_0", "2_1_0", "2_3_0", "3_2_0", "2_4_0"}
	if len(net.Links) != len(correctLinks) {
		t.Fatalf("Network should have %d links, but got %d", len(correctLinks), len(net.Links))
	}
	for _, name := range correctLinks {
		if _, ok := net.Link(name); !ok {
			t.Errorf("Link '%s' should exist", name)
		}
	}
	if _, ok := net.Link("4_2_0"); ok {
		t.Errorf("Oneway way should not have a backward link")
	}

	residential, _ := net.Link("1_2_0")
	if residential.Type != LINK_RESIDENTIAL || residential.Lanes != 1 {
		t.Errorf("Residential link should have default lanes, but got %s with %d lanes", residential.Type, residential.Lanes)
	}
	if math.Abs(residential.Length-111.2) > 1 {
		t.Errorf("Link length should be about 111 m, but got %f", residential.Length)
	}
	if Round(residential.FreeFlowSpeed, 0.001) != Round(30/3.6, 0.001) {
		t.Errorf("Residential speed should be 30 km/h, but got %f m/s", residential.FreeFlowSpeed)
	}
	primary, _ := net.Link("2_4_0")
	if primary.Lanes != 2 {
		t.Errorf("Oneway link should keep all its lanes, but got %d", primary.Lanes)
	}
	if Round(primary.FreeFlowSpeed, 0.001) != Round(30*mphToKmh/3.6, 0.001) {
		t.Errorf("Speed in mph should be converted, but got %f m/s", primary.FreeFlowSpeed)
	}
	node, _ := net.Node("1")
	back := pointToSpherical(node.Point)
	if Round(back.Lat(), 1e-6) != Round(44.49, 1e-6) {
		t.Errorf("Node should be projected to metres, but got %v", node.Point)
	}
}

func TestConvertOSMLinkTypes(t *testing.T) {
	fname := writeFile(t, t.TempDir(), "sample.osm", sampleOSM)
	net, err := ConvertOSM(fname, WithOSMLinkTypes(LINK_PRIMARY), WithOSMLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if len(net.Links) != 1 || net.Links[0].Name != "2_4_0" {
		t.Errorf("Only the primary link should be kept, but got %d links", len(net.Links))
	}
	if _, err = ConvertOSM(fname, WithOSMLinkTypes(LINK_MOTORWAY), WithOSMLogger(quietLogger())); err != ErrEmptyNetwork {
		t.Errorf("No matching ways should fail with %v, but got %v", ErrEmptyNetwork, err)
	}
	if _, err = ConvertOSM("network.shp"); err == nil {
		t.Errorf("Unknown extension should fail")
	}
}

func TestCarAllowed(t *testing.T) {
	cases := []struct {
		tags    osm.Tags
		allowed bool
	}{
		{osm.Tags{}, true},
		{osm.Tags{{Key: "access", Value: "private"}}, false},
		{osm.Tags{{Key: "access", Value: "no"}, {Key: "motor_vehicle", Value: "yes"}}, true},
		{osm.Tags{{Key: "motorcar", Value: "no"}, {Key: "access", Value: "yes"}}, false},
		{osm.Tags{{Key: "access", Value: "destination"}}, true},
	}
	for i, c := range cases {
		if got := carAllowed(c.tags); got != c.allowed {
			t.Errorf("Case %d: cars allowed should be %t, but got %t", i, c.allowed, got)
		}
	}
}

func TestParseMaxSpeed(t *testing.T) {
	cases := map[string]float64{
		"50":       50,
		"30 mph":   30 * mphToKmh,
		"":         -1,
		"none":     -1,
		"RU:urban": -1,
	}
	for tag, expected := range cases {
		if got := parseMaxSpeed(tag); Round(got, 1e-9) != Round(expected, 1e-9) {
			t.Errorf("Max speed of '%s' should be %f, but got %f", tag, expected, got)
		}
	}
}
