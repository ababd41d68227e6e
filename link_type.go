package areaverde

import "math"

type LinkType uint16

const (
	LINK_MOTORWAY = LinkType(iota + 1)
	LINK_TRUNK
	LINK_PRIMARY
	LINK_SECONDARY
	LINK_TERTIARY
	LINK_RESIDENTIAL
	LINK_LIVING_STREET
	LINK_SERVICE
	LINK_UNCLASSIFIED
	LINK_CONNECTOR
)

func (iotaIdx LinkType) String() string {
	return [...]string{"motorway", "trunk", "primary", "secondary", "tertiary", "residential", "living_street", "service", "unclassified", "connector"}[iotaIdx-1]
}

// ParseLinkType returns 0 for unknown names
func ParseLinkType(str string) LinkType {
	if found, ok := linkTypes[str]; ok {
		return found
	}
	return 0
}

var (
	linkTypes = map[string]LinkType{
		"motorway":      LINK_MOTORWAY,
		"trunk":         LINK_TRUNK,
		"primary":       LINK_PRIMARY,
		"secondary":     LINK_SECONDARY,
		"tertiary":      LINK_TERTIARY,
		"residential":   LINK_RESIDENTIAL,
		"living_street": LINK_LIVING_STREET,
		"service":       LINK_SERVICE,
		"unclassified":  LINK_UNCLASSIFIED,
		"connector":     LINK_CONNECTOR,
	}
	// Lanes per direction
	defaultLanesByLinkType = map[LinkType]int{
		LINK_MOTORWAY:      4,
		LINK_TRUNK:         3,
		LINK_PRIMARY:       3,
		LINK_SECONDARY:     2,
		LINK_TERTIARY:      2,
		LINK_RESIDENTIAL:   1,
		LINK_LIVING_STREET: 1,
		LINK_SERVICE:       1,
		LINK_UNCLASSIFIED:  1,
		LINK_CONNECTOR:     2,
	}
	// km/h
	defaultSpeedByLinkType = map[LinkType]float64{
		LINK_MOTORWAY:      120,
		LINK_TRUNK:         100,
		LINK_PRIMARY:       80,
		LINK_SECONDARY:     60,
		LINK_TERTIARY:      40,
		LINK_RESIDENTIAL:   30,
		LINK_LIVING_STREET: 20,
		LINK_SERVICE:       30,
		LINK_UNCLASSIFIED:  30,
		LINK_CONNECTOR:     120,
	}
	// Vehicles per hour per lane
	defaultCapacityByLinkType = map[LinkType]int{
		LINK_MOTORWAY:      2300,
		LINK_TRUNK:         2200,
		LINK_PRIMARY:       1800,
		LINK_SECONDARY:     1600,
		LINK_TERTIARY:      1200,
		LINK_RESIDENTIAL:   1000,
		LINK_LIVING_STREET: 800,
		LINK_SERVICE:       800,
		LINK_UNCLASSIFIED:  800,
		LINK_CONNECTOR:     9999,
	}
)

// linkTypeForSpeed picks the road type whose default speed is the closest to
// the given free-flow speed (km/h). Connectors are never guessed.
func linkTypeForSpeed(kmh float64) LinkType {
	best := LINK_UNCLASSIFIED
	bestDiff := math.Inf(1)
	for linkType := LINK_MOTORWAY; linkType < LINK_CONNECTOR; linkType++ {
		diff := math.Abs(defaultSpeedByLinkType[linkType] - kmh)
		if diff < bestDiff {
			best, bestDiff = linkType, diff
		}
	}
	return best
}
