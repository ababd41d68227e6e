package areaverde

import "github.com/paulmach/osm"

type AccessType uint16

const (
	ACCESS_MOTOR_VEHICLE = AccessType(iota + 1)
	ACCESS_MOTORCAR
	ACCESS_OSM_ACCESS
)

func (iotaIdx AccessType) String() string {
	return [...]string{"motor_vehicle", "motorcar", "access"}[iotaIdx-1]
}

var (
	// Checked in this order: the most specific tag decides
	carAccessTags = []AccessType{ACCESS_MOTORCAR, ACCESS_MOTOR_VEHICLE, ACCESS_OSM_ACCESS}

	carAccessAllowed = map[string]struct{}{
		"yes":         {},
		"permissive":  {},
		"designated":  {},
		"destination": {},
	}

	carAccessDenied = map[string]struct{}{
		"no":           {},
		"private":      {},
		"agricultural": {},
		"forestry":     {},
		"delivery":     {},
	}
)

// carAllowed reports whether private cars may use a way. Untagged ways are open.
func carAllowed(tags osm.Tags) bool {
	for _, accessType := range carAccessTags {
		value := tags.Find(accessType.String())
		if _, ok := carAccessAllowed[value]; ok {
			return true
		}
		if _, ok := carAccessDenied[value]; ok {
			return false
		}
	}
	return true
}
