package areaverde

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var resumableLinkRegExp = regexp.MustCompile(`^[0-9_]+$`)

// IsResumableLink reports whether a link label names a network link a trip
// can be resumed from
func IsResumableLink(label string) bool {
	return resumableLinkRegExp.MatchString(label)
}

// Leftover is an unfinished trip of a previous run
type Leftover struct {
	PrevName string
	Orig     string
	Dest     string
}

// Leftovers finds the vehicles of a trajectory log that did not reach their
// destination, in order of first appearance. Vehicles waiting at the origin
// resume from it, vehicles on a link resume from its start node; any other
// final state cannot be resumed.
func Leftovers(records []TrajectoryRecord) []Leftover {
	type tail struct {
		orig string
		dest string
		link string
	}
	order := []string{}
	tails := make(map[string]*tail)
	for _, record := range records {
		tl, ok := tails[record.Name]
		if !ok {
			tl = &tail{orig: record.Orig, dest: record.Dest}
			tails[record.Name] = tl
			order = append(order, record.Name)
		}
		tl.link = record.Link
	}
	leftovers := []Leftover{}
	for _, name := range order {
		tl := tails[name]
		if tl.link == LinkEnded || tl.dest == "" {
			continue
		}
		var orig string
		switch {
		case tl.link == LinkWaiting:
			orig = tl.orig
		case IsResumableLink(tl.link):
			orig = strings.Split(tl.link, "_")[0]
		default:
			continue
		}
		leftovers = append(leftovers, Leftover{PrevName: name, Orig: orig, Dest: tl.dest})
	}
	return leftovers
}

// InjectLeftovers adds every unfinished trip to the world as a single vehicle
// departing at time zero and returns how many were added
func InjectLeftovers(w World, records []TrajectoryRecord) (int, error) {
	leftovers := Leftovers(records)
	for i, leftover := range leftovers {
		_, err := w.AddVehicle(leftover.Orig, leftover.Dest, 0, Attributes{AddedPrevHour: true, PrevName: leftover.PrevName})
		if err != nil {
			return i, errors.Wrapf(err, "Can't resume vehicle '%s'", leftover.PrevName)
		}
	}
	return len(leftovers), nil
}
