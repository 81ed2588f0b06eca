package detect

import (
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/graph"
)

// Fan/velocity thresholds over a forward-looking 72-hour window.
const (
	fanWindow              = 72 * time.Hour
	fanPartnerThreshold    = 10
	velocityEventThreshold = 20
)

// FanStats holds the windowed fan metrics and volume totals for one account.
// MaxFanIn/MaxFanOut are the maximum distinct-partner counts observed in any
// 72h window; they feed the score breakdown independently of the flags.
type FanStats struct {
	MaxFanIn  int
	MaxFanOut int
	InVolume  float64
	OutVolume float64
}

type event struct {
	partner string
	txID    string
	ts      time.Time
}

// FanIn returns the accounts with at least 10 distinct senders inside some
// 72h window.
func FanIn(g *graph.Graph) map[string]bool {
	flagged := make(map[string]bool)
	for _, node := range g.Nodes() {
		if maxWindowPartners(incomingEvents(g, node)) >= fanPartnerThreshold {
			flagged[node] = true
		}
	}
	return flagged
}

// FanOut returns the accounts with at least 10 distinct receivers inside
// some 72h window.
func FanOut(g *graph.Graph) map[string]bool {
	flagged := make(map[string]bool)
	for _, node := range g.Nodes() {
		if maxWindowPartners(outgoingEvents(g, node)) >= fanPartnerThreshold {
			flagged[node] = true
		}
	}
	return flagged
}

// HighVelocity returns the accounts with at least 20 transactions, incoming
// and outgoing combined, inside some 72h window. Raw event count, not
// distinct partners.
func HighVelocity(g *graph.Graph) map[string]bool {
	flagged := make(map[string]bool)
	for _, node := range g.Nodes() {
		events := append(incomingEvents(g, node), outgoingEvents(g, node)...)
		if maxWindowEvents(events) >= velocityEventThreshold {
			flagged[node] = true
		}
	}
	return flagged
}

// Stats computes the per-account fan metrics and directional volume totals.
func Stats(g *graph.Graph) map[string]FanStats {
	stats := make(map[string]FanStats, g.NodeCount())
	for _, node := range g.Nodes() {
		in := incomingEvents(g, node)
		out := outgoingEvents(g, node)

		s := FanStats{
			MaxFanIn:  maxWindowPartners(in),
			MaxFanOut: maxWindowPartners(out),
		}
		for _, e := range g.InEdges(node) {
			for _, tx := range e.Transactions {
				s.InVolume += tx.Amount
			}
		}
		for _, e := range g.OutEdges(node) {
			for _, tx := range e.Transactions {
				s.OutVolume += tx.Amount
			}
		}
		stats[node] = s
	}
	return stats
}

func incomingEvents(g *graph.Graph, node string) []event {
	var events []event
	for _, e := range g.InEdges(node) {
		for _, tx := range e.Transactions {
			events = append(events, event{partner: e.From, txID: tx.ID, ts: tx.Timestamp})
		}
	}
	return events
}

func outgoingEvents(g *graph.Graph, node string) []event {
	var events []event
	for _, e := range g.OutEdges(node) {
		for _, tx := range e.Transactions {
			events = append(events, event{partner: e.To, txID: tx.ID, ts: tx.Timestamp})
		}
	}
	return events
}

// sortEvents orders events by timestamp, ties broken by transaction id so
// repeated runs sweep in the same order.
func sortEvents(events []event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].ts.Equal(events[j].ts) {
			return events[i].ts.Before(events[j].ts)
		}
		return events[i].txID < events[j].txID
	})
}

// maxWindowPartners returns the maximum number of distinct partners inside
// any window [t, t+72h] anchored at an event timestamp t. The events are
// swept in ascending order; each anchor scans forward until it leaves the
// window.
func maxWindowPartners(events []event) int {
	if len(events) == 0 {
		return 0
	}
	sortEvents(events)

	max := 0
	for i := range events {
		end := events[i].ts.Add(fanWindow)
		partners := make(map[string]struct{})
		for j := i; j < len(events); j++ {
			if events[j].ts.After(end) {
				break
			}
			partners[events[j].partner] = struct{}{}
		}
		if len(partners) > max {
			max = len(partners)
		}
	}
	return max
}

// maxWindowEvents is the event-count variant used for the velocity check.
func maxWindowEvents(events []event) int {
	if len(events) == 0 {
		return 0
	}
	sortEvents(events)

	max := 0
	for i := range events {
		end := events[i].ts.Add(fanWindow)
		count := 0
		for j := i; j < len(events); j++ {
			if events[j].ts.After(end) {
				break
			}
			count++
		}
		if count > max {
			max = count
		}
	}
	return max
}
