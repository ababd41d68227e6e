package areaverde

type HighwayType uint16

const (
	HIGHWAY_MOTORWAY = HighwayType(iota + 1)
	HIGHWAY_MOTORWAY_LINK
	HIGHWAY_TRUNK
	HIGHWAY_TRUNK_LINK
	HIGHWAY_PRIMARY
	HIGHWAY_PRIMARY_LINK
	HIGHWAY_SECONDARY
	HIGHWAY_SECONDARY_LINK
	HIGHWAY_TERTIARY
	HIGHWAY_TERTIARY_LINK
	HIGHWAY_RESIDENTIAL
	HIGHWAY_LIVING_STREET
	HIGHWAY_SERVICE
	HIGHWAY_UNCLASSIFIED
)

func (iotaIdx HighwayType) String() string {
	return [...]string{"motorway", "motorway_link", "trunk", "trunk_link", "primary", "primary_link", "secondary", "secondary_link", "tertiary", "tertiary_link", "residential", "living_street", "service", "unclassified"}[iotaIdx-1]
}

func getHighwayType(str string) HighwayType {
	if found, ok := highwaysTypes[str]; ok {
		return found
	}
	return 0
}

var (
	// Ramps share the road type of the road they connect
	linkTypeByHighway = map[HighwayType]LinkType{
		HIGHWAY_MOTORWAY:       LINK_MOTORWAY,
		HIGHWAY_MOTORWAY_LINK:  LINK_MOTORWAY,
		HIGHWAY_TRUNK:          LINK_TRUNK,
		HIGHWAY_TRUNK_LINK:     LINK_TRUNK,
		HIGHWAY_PRIMARY:        LINK_PRIMARY,
		HIGHWAY_PRIMARY_LINK:   LINK_PRIMARY,
		HIGHWAY_SECONDARY:      LINK_SECONDARY,
		HIGHWAY_SECONDARY_LINK: LINK_SECONDARY,
		HIGHWAY_TERTIARY:       LINK_TERTIARY,
		HIGHWAY_TERTIARY_LINK:  LINK_TERTIARY,
		HIGHWAY_RESIDENTIAL:    LINK_RESIDENTIAL,
		HIGHWAY_LIVING_STREET:  LINK_LIVING_STREET,
		HIGHWAY_SERVICE:        LINK_SERVICE,
		HIGHWAY_UNCLASSIFIED:   LINK_UNCLASSIFIED,
	}

	highwaysTypes = map[string]HighwayType{
		"motorway":       HIGHWAY_MOTORWAY,
		"motorway_link":  HIGHWAY_MOTORWAY_LINK,
		"trunk":          HIGHWAY_TRUNK,
		"trunk_link":     HIGHWAY_TRUNK_LINK,
		"primary":        HIGHWAY_PRIMARY,
		"primary_link":   HIGHWAY_PRIMARY_LINK,
		"secondary":      HIGHWAY_SECONDARY,
		"secondary_link": HIGHWAY_SECONDARY_LINK,
		"tertiary":       HIGHWAY_TERTIARY,
		"tertiary_link":  HIGHWAY_TERTIARY_LINK,
		"residential":    HIGHWAY_RESIDENTIAL,
		"living_street":  HIGHWAY_LIVING_STREET,
		"service":        HIGHWAY_SERVICE,
		"unclassified":   HIGHWAY_UNCLASSIFIED,
	}

	junctionTypes = map[string]struct{}{
		"circular":   {},
		"roundabout": {},
	}

	// See ref.: https://wiki.openstreetmap.org/wiki/Tag:oneway%3Dreversible
	onewayReversible = map[string]struct{}{
		"reversible":  {},
		"alternating": {},
	}
)
