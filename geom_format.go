package areaverde

import (
	"fmt"
	"strings"

	geojson "github.com/paulmach/go.geojson"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	log "github.com/sirupsen/logrus"
)

// GeomFormat is the text encoding of geometry columns in CSV exports
type GeomFormat uint16

const (
	GEOM_WKT = GeomFormat(iota + 1)
	GEOM_GEOJSON
)

func (iotaIdx GeomFormat) String() string {
	return [...]string{"wkt", "geojson"}[iotaIdx-1]
}

func ParseGeomFormat(s string) (GeomFormat, error) {
	switch strings.ToLower(s) {
	case "wkt":
		return GEOM_WKT, nil
	case "geojson":
		return GEOM_GEOJSON, nil
	default:
		return 0, fmt.Errorf("unknown geometry format '%s'", s)
	}
}

// prepareLineString encodes a lon/lat line. Unknown formats give WKT
func prepareLineString(line orb.LineString, format GeomFormat) string {
	if format != GEOM_GEOJSON {
		return wkt.MarshalString(line)
	}
	pts := make([][]float64, len(line))
	for i := range line {
		pts[i] = []float64{line[i].Lon(), line[i].Lat()}
	}
	b, err := geojson.NewLineStringGeometry(pts).MarshalJSON()
	if err != nil {
		log.WithError(err).Warn("Can't convert geometry to GeoJSON")
		return ""
	}
	return string(b)
}
