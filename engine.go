package areaverde

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/LdDl/ch"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrReleased = errors.New("World has been released")
	ErrNoRoute  = errors.New("No route between nodes")
)

type VehicleState uint8

const (
	VEHICLE_HOME = VehicleState(iota + 1)
	VEHICLE_WAIT
	VEHICLE_RUN
	VEHICLE_END
	VEHICLE_ABORT
)

func (iotaIdx VehicleState) String() string {
	return [...]string{"home", "wait", "run", "end", "abort"}[iotaIdx-1]
}

type vehicle struct {
	id        VehicleID
	name      string
	orig      string
	dest      string
	departure float64
	attr      Attributes
	state     VehicleState

	// Link indices from origin to destination
	route    []int
	routeIdx int
	x        float64
	speed    float64
	// Time the vehicle entered its current link
	enteredAt float64

	rows      []TrajectoryRow
	last      TrajectoryRow
	lastKept  bool
	lastLabel string
}

// record keeps a row when the link label changes and remembers the latest
// one so the final state is always exported
func (veh *vehicle) record(row TrajectoryRow) {
	veh.last = row
	if row.Link != veh.lastLabel || len(veh.rows) == 0 {
		veh.rows = append(veh.rows, row)
		veh.lastLabel = row.Link
		veh.lastKept = true
		return
	}
	veh.lastKept = false
}

func (veh *vehicle) trajectory(deltan int) VehicleTrajectory {
	rows := make([]TrajectoryRow, len(veh.rows), len(veh.rows)+1)
	copy(rows, veh.rows)
	if !veh.lastKept {
		rows = append(rows, veh.last)
	}
	return VehicleTrajectory{
		Name:   veh.name,
		DeltaN: deltan,
		Orig:   veh.orig,
		Dest:   veh.dest,
		Attr:   veh.attr,
		Rows:   rows,
	}
}

type linkState struct {
	link *Link
	// Vehicles on the link in entry order
	queue []VehicleID
	// Platoons the link can store
	storage int
	// Vehicles per second
	capacity float64
	credit   float64
	// Platoons that entered the link
	entered     int
	travelTimes []float64
}

func (ls *linkState) hasRoom() bool {
	return len(ls.queue) < ls.storage
}

// Engine is the built-in World: platoons of deltan vehicles move along
// free-flow shortest paths over links modelled as point queues.
type Engine struct {
	net        *Network
	tmax       float64
	deltan     int
	step       float64
	jamDensity float64
	logger     *log.Entry

	rng      *rand.Rand
	graph    *ch.Graph
	nodeIdx  map[string]int
	links    []*linkState
	bestLink map[[2]int]int
	routes   map[[2]int][]int

	// Vehicle arena indexed by VehicleID, nil slots are drained vehicles
	arena     []*vehicle
	living    map[VehicleID]struct{}
	archived  []VehicleID
	home      []VehicleID
	homeDirty bool
	waiting   []VehicleID

	t        float64
	released bool
}

func WithStep(step float64) func(*Engine) {
	return func(e *Engine) {
		e.step = step
	}
}

func WithJamDensity(jamDensity float64) func(*Engine) {
	return func(e *Engine) {
		e.jamDensity = jamDensity
	}
}

func WithEngineLogger(logger *log.Entry) func(*Engine) {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewWorld builds the reference engine over net for [0, tmax) seconds
func NewWorld(net *Network, tmax float64, deltan int, seed uint64, options ...func(*Engine)) (*Engine, error) {
	if net == nil || len(net.Nodes) == 0 || len(net.Links) == 0 {
		return nil, ErrEmptyNetwork
	}
	if deltan <= 0 {
		return nil, fmt.Errorf("Deltan should be positive, got %d", deltan)
	}
	if tmax <= 0 {
		return nil, fmt.Errorf("Time horizon should be positive, got %f", tmax)
	}
	engine := &Engine{
		net:        net,
		tmax:       tmax,
		deltan:     deltan,
		step:       5,
		jamDensity: 0.2,
		logger:     log.NewEntry(log.StandardLogger()),
		rng:        rand.New(rand.NewPCG(seed, seed)),
		nodeIdx:    make(map[string]int, len(net.Nodes)),
		links:      make([]*linkState, len(net.Links)),
		bestLink:   make(map[[2]int]int),
		routes:     make(map[[2]int][]int),
		arena:      make([]*vehicle, 0),
		living:     make(map[VehicleID]struct{}),
		archived:   make([]VehicleID, 0),
	}
	for _, option := range options {
		option(engine)
	}
	if engine.step <= 0 || engine.jamDensity <= 0 {
		return nil, fmt.Errorf("Step and jam density should be positive, got %f and %f", engine.step, engine.jamDensity)
	}

	st := time.Now()
	engine.graph = &ch.Graph{}
	for i, node := range net.Nodes {
		engine.nodeIdx[node.ID] = i
		if err := engine.graph.CreateVertex(int64(i)); err != nil {
			return nil, errors.Wrapf(err, "Can't create vertex for node '%s'", node.ID)
		}
	}
	for i, link := range net.Links {
		from, to := engine.nodeIdx[link.From], engine.nodeIdx[link.To]
		storage := int(link.Length * float64(link.Lanes) * engine.jamDensity / float64(deltan))
		if storage < 1 {
			storage = 1
		}
		engine.links[i] = &linkState{
			link:        link,
			queue:       make([]VehicleID, 0),
			storage:     storage,
			capacity:    link.Capacity(),
			travelTimes: make([]float64, 0),
		}
		pair := [2]int{from, to}
		if best, ok := engine.bestLink[pair]; !ok || link.FreeTravelTime() < net.Links[best].FreeTravelTime() {
			engine.bestLink[pair] = i
		}
	}
	for i, link := range net.Links {
		from, to := engine.nodeIdx[link.From], engine.nodeIdx[link.To]
		if engine.bestLink[[2]int{from, to}] != i {
			continue
		}
		err := engine.graph.AddEdge(int64(from), int64(to), link.FreeTravelTime())
		if err != nil {
			return nil, errors.Wrapf(err, "Can't add edge for link '%s'", link.Name)
		}
	}
	engine.graph.PrepareContractionHierarchies()
	engine.logger.WithFields(log.Fields{"nodes": len(net.Nodes), "links": len(net.Links)}).Debugf("World prepared in %v", time.Since(st))
	return engine, nil
}

func (e *Engine) route(orig, dest int) ([]int, error) {
	pair := [2]int{orig, dest}
	if r, ok := e.routes[pair]; ok {
		return r, nil
	}
	cost, path := e.graph.ShortestPath(int64(orig), int64(dest))
	if cost < 0 || len(path) < 2 {
		return nil, ErrNoRoute
	}
	r := make([]int, 0, len(path)-1)
	for i := 1; i < len(path); i++ {
		linkIdx, ok := e.bestLink[[2]int{int(path[i-1]), int(path[i])}]
		if !ok {
			return nil, ErrNoRoute
		}
		r = append(r, linkIdx)
	}
	e.routes[pair] = r
	return r, nil
}

func (e *Engine) addVehicle(orig, dest string, departure float64, attr Attributes) VehicleID {
	id := VehicleID(len(e.arena))
	e.arena = append(e.arena, &vehicle{
		id:        id,
		name:      strconv.Itoa(int(id)),
		orig:      orig,
		dest:      dest,
		departure: departure,
		attr:      attr,
		state:     VEHICLE_HOME,
	})
	e.living[id] = struct{}{}
	e.home = append(e.home, id)
	e.homeDirty = true
	return id
}

// AddVehicle adds a single platoon departing at the given time
func (e *Engine) AddVehicle(orig, dest string, departure float64, attr Attributes) (VehicleID, error) {
	if e.released {
		return 0, ErrReleased
	}
	if _, ok := e.nodeIdx[orig]; !ok {
		return 0, errors.Wrapf(ErrUnknownNode, "Origin '%s'", orig)
	}
	if _, ok := e.nodeIdx[dest]; !ok {
		return 0, errors.Wrapf(ErrUnknownNode, "Destination '%s'", dest)
	}
	return e.addVehicle(orig, dest, departure, attr), nil
}

// AddDemandArea2Area spreads round(volume/deltan) platoons evenly over the
// demand window. Each picks its nodes at random inside the circles, or the
// nearest node when a circle holds none.
func (e *Engine) AddDemandArea2Area(d AreaDemand) error {
	if e.released {
		return ErrReleased
	}
	if d.TEnd < d.TStart {
		return fmt.Errorf("Demand window [%f, %f) is reversed", d.TStart, d.TEnd)
	}
	origins, err := e.catchment(d.Orig, d.ROrig)
	if err != nil {
		return errors.Wrap(err, "Can't find origin nodes")
	}
	destinations, err := e.catchment(d.Dest, d.RDest)
	if err != nil {
		return errors.Wrap(err, "Can't find destination nodes")
	}
	n := int(math.Round(float64(d.Volume) / float64(e.deltan)))
	for i := 0; i < n; i++ {
		departure := d.TStart + float64(i)*(d.TEnd-d.TStart)/float64(n)
		orig := origins[e.rng.IntN(len(origins))]
		dest := destinations[e.rng.IntN(len(destinations))]
		e.addVehicle(orig, dest, departure, d.Attr)
	}
	return nil
}

func (e *Engine) catchment(center orb.Point, radius float64) ([]string, error) {
	nodes := e.net.NodesWithin(center, radius)
	if len(nodes) > 0 {
		return nodes, nil
	}
	nearest, ok := e.net.NearestNode(center)
	if !ok {
		return nil, ErrEmptyNetwork
	}
	return []string{nearest}, nil
}

func (e *Engine) Time() float64 {
	return e.t
}

// Exec advances the clock by duration seconds, stopping at the horizon
func (e *Engine) Exec(duration float64) error {
	if e.released {
		return ErrReleased
	}
	if duration <= 0 {
		return fmt.Errorf("Duration should be positive, got %f", duration)
	}
	end := math.Min(e.t+duration, e.tmax)
	st := time.Now()
	for e.t+e.step/2 < end {
		e.advance()
	}
	e.logger.WithFields(log.Fields{"living": len(e.living), "archived": len(e.archived)}).Debugf("Simulated up to %.0fs in %v", e.t, time.Since(st))
	return nil
}

func (e *Engine) archive(veh *vehicle, state VehicleState) {
	veh.state = state
	delete(e.living, veh.id)
	e.archived = append(e.archived, veh.id)
}

func offLink(t float64, label string) TrajectoryRow {
	return TrajectoryRow{T: t, Link: label, X: -1, S: -1, V: -1}
}

func (e *Engine) depart(t float64) {
	if e.homeDirty {
		sort.SliceStable(e.home, func(i, j int) bool {
			return e.arena[e.home[i]].departure < e.arena[e.home[j]].departure
		})
		e.homeDirty = false
	}
	departed := 0
	for _, id := range e.home {
		veh := e.arena[id]
		// Departures inside the step leave at its start
		if veh.departure >= t+e.step {
			break
		}
		departed++
		if veh.orig == veh.dest {
			veh.record(offLink(t, LinkEnded))
			e.archive(veh, VEHICLE_END)
			continue
		}
		route, err := e.route(e.nodeIdx[veh.orig], e.nodeIdx[veh.dest])
		if err != nil {
			veh.record(offLink(t, LinkAborted))
			e.archive(veh, VEHICLE_ABORT)
			continue
		}
		veh.route = route
		veh.state = VEHICLE_WAIT
		veh.record(offLink(t, LinkWaiting))
		e.waiting = append(e.waiting, id)
	}
	e.home = e.home[departed:]
}

func (e *Engine) linkSpeed(ls *linkState) float64 {
	density := float64(len(ls.queue)*e.deltan) / (ls.link.Length * float64(ls.link.Lanes))
	v := ls.link.FreeFlowSpeed * (1 - density/e.jamDensity)
	return math.Max(v, 1)
}

func (e *Engine) advance() {
	t := e.t
	dt := e.step
	next := t + dt
	e.depart(t)

	for _, ls := range e.links {
		if len(ls.queue) == 0 {
			continue
		}
		v := e.linkSpeed(ls)
		for _, id := range ls.queue {
			veh := e.arena[id]
			veh.speed = v
			veh.x = math.Min(veh.x+v*dt, ls.link.Length)
		}
	}

	for _, ls := range e.links {
		ls.credit = math.Min(ls.credit+ls.capacity*dt, float64(e.deltan)+ls.capacity*dt)
		for len(ls.queue) > 0 {
			veh := e.arena[ls.queue[0]]
			if veh.x < ls.link.Length || ls.credit < float64(e.deltan) {
				break
			}
			if veh.routeIdx == len(veh.route)-1 {
				ls.queue = ls.queue[1:]
				ls.travelTimes = append(ls.travelTimes, next-veh.enteredAt)
				ls.credit -= float64(e.deltan)
				veh.record(offLink(next, LinkEnded))
				e.archive(veh, VEHICLE_END)
				continue
			}
			target := e.links[veh.route[veh.routeIdx+1]]
			if !target.hasRoom() {
				break
			}
			ls.queue = ls.queue[1:]
			ls.travelTimes = append(ls.travelTimes, next-veh.enteredAt)
			ls.credit -= float64(e.deltan)
			veh.routeIdx++
			veh.x = 0
			veh.enteredAt = next
			target.queue = append(target.queue, veh.id)
			target.entered++
		}
	}

	stillWaiting := e.waiting[:0]
	for _, id := range e.waiting {
		veh := e.arena[id]
		first := e.links[veh.route[0]]
		if !first.hasRoom() {
			stillWaiting = append(stillWaiting, id)
			continue
		}
		veh.state = VEHICLE_RUN
		veh.x = 0
		veh.speed = 0
		veh.enteredAt = next
		first.queue = append(first.queue, id)
		first.entered++
	}
	e.waiting = stillWaiting
	e.t = next

	for _, ls := range e.links {
		if len(ls.queue) == 0 {
			continue
		}
		spacing := ls.link.Length * float64(ls.link.Lanes) / float64(len(ls.queue))
		for _, id := range ls.queue {
			veh := e.arena[id]
			veh.record(TrajectoryRow{T: next, Link: ls.link.Name, X: veh.x, S: spacing, V: veh.speed})
		}
	}
	for _, id := range e.waiting {
		e.arena[id].record(offLink(next, LinkWaiting))
	}
}

// Vehicles returns the compressed logs of every departed vehicle, in
// creation order
func (e *Engine) Vehicles() []VehicleTrajectory {
	out := make([]VehicleTrajectory, 0, len(e.arena))
	for _, veh := range e.arena {
		if veh == nil || len(veh.rows) == 0 {
			continue
		}
		out = append(out, veh.trajectory(e.deltan))
	}
	return out
}

// DrainEnded hands the logs of the vehicles that reached their destination
// to save and drops them from the arena once save succeeds. On error the
// vehicles stay and the error is returned as is.
func (e *Engine) DrainEnded(save func([]VehicleTrajectory) error) (int, error) {
	if e.released {
		return 0, ErrReleased
	}
	out := []VehicleTrajectory{}
	for _, id := range e.archived {
		if veh := e.arena[id]; veh.state == VEHICLE_END {
			out = append(out, veh.trajectory(e.deltan))
		}
	}
	if len(out) == 0 {
		return 0, nil
	}
	if err := save(out); err != nil {
		return 0, err
	}
	kept := e.archived[:0]
	for _, id := range e.archived {
		if e.arena[id].state != VEHICLE_END {
			kept = append(kept, id)
			continue
		}
		e.arena[id] = nil
	}
	e.archived = kept
	return len(out), nil
}

func (e *Engine) LinkStats() []LinkStat {
	out := make([]LinkStat, 0, len(e.links))
	for _, ls := range e.links {
		stats := LinkStat{
			Link:              ls.link.Name,
			StartNode:         ls.link.From,
			EndNode:           ls.link.To,
			Length:            ls.link.Length,
			TrafficVolume:     ls.entered * e.deltan,
			VehiclesRemain:    len(ls.queue) * e.deltan,
			FreeTravelTime:    ls.link.FreeTravelTime(),
			AverageTravelTime: -1,
			StdDivTravelTime:  -1,
		}
		if len(ls.travelTimes) > 0 {
			stats.AverageTravelTime, stats.StdDivTravelTime = stat.PopMeanStdDev(ls.travelTimes, nil)
		}
		out = append(out, stats)
	}
	return out
}

// Living is the number of vehicles that have not ended or aborted
func (e *Engine) Living() int {
	return len(e.living)
}

// Release drops every vehicle at once. The world is unusable afterwards.
func (e *Engine) Release() {
	e.arena = nil
	e.living = nil
	e.archived = nil
	e.home = nil
	e.waiting = nil
	e.links = nil
	e.routes = nil
	e.graph = nil
	e.released = true
}
