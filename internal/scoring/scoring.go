// Package scoring fuses the detector outputs into fraud rings and
// per-account suspicion scores, then applies the output policy.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

// Score weights and thresholds. Fixed heuristics, not learned.
const (
	cycleScore       = 50.0
	shortCycleScore  = 15.0
	fanPassThrough   = 40.0
	fanBase          = 25.0
	fanTrusted       = 5.0
	shellScore       = 30.0
	shellPassThrough = 10.0
	velocityScore    = 15.0
	confirmedMule    = 10.0
	dormantPenalty   = 30.0
	volumeCap        = 20.0
	volumeGate       = 20.0
	trustCap         = 40.0
	dormantSpan      = 7 * 24 * time.Hour
)

// Policy selects which scored accounts and rings survive into the external
// result. Everything still influences scoring and ring assignment
// internally; the policy only restricts visibility.
type Policy interface {
	KeepAccount(rec *domain.SuspicionRecord, inCycle bool) (bool, error)
	KeepRing(ring *domain.FraudRing) (bool, error)
}

// accountState is the per-account mutable slot used during the single
// orchestration pass. One slot per account, no cross-account aliasing.
type accountState struct {
	patterns map[string]struct{}
	inCycle  bool
	rings    []string // ring ids joined, in creation order
}

// Run retains the complete state of one analysis: the graph, every ring,
// and every account record, unfiltered. The API layer serves ring and
// account projections from here without recomputation. Result holds the
// policy-filtered external payload.
type Run struct {
	Graph    *graph.Graph
	Accounts map[string]*domain.SuspicionRecord
	Rings    map[string]*domain.FraudRing
	InCycle  map[string]bool
	Result   *domain.AnalysisResult
}

// Ring returns a ring by id, nil when unknown.
func (r *Run) Ring(id string) *domain.FraudRing {
	return r.Rings[id]
}

// Account returns the suspicion record for an account id, nil when the
// account never appeared in the run's input.
func (r *Run) Account(id string) *domain.SuspicionRecord {
	return r.Accounts[id]
}

// Analyze runs the detectors over the graph, builds rings, scores every
// account, and applies the output policy. The computation is deterministic:
// the same graph yields byte-identical ordered output.
func Analyze(g *graph.Graph, pol Policy) (*Run, error) {
	cycles := detect.Cycles(g)
	fanIn := detect.FanIn(g)
	fanOut := detect.FanOut(g)
	highVelocity := detect.HighVelocity(g)
	chains := detect.ShellChains(g)
	stats := detect.Stats(g)

	states := make(map[string]*accountState, g.NodeCount())
	for _, node := range g.Nodes() {
		states[node] = &accountState{patterns: make(map[string]struct{})}
	}

	// Ring construction in fixed order: cycles, fan-in, fan-out, shell
	// chains, high-velocity singletons. The counter is owned by this
	// invocation; ids are never reused.
	var rings []*domain.FraudRing
	nextRing := func(patternType string, members []string) *domain.FraudRing {
		ring := &domain.FraudRing{
			RingID:         fmt.Sprintf("RING_%03d", len(rings)+1),
			MemberAccounts: members,
			PatternType:    patternType,
		}
		rings = append(rings, ring)
		return ring
	}

	for _, cycle := range cycles {
		ring := nextRing(domain.RingCycle, append([]string(nil), cycle...))
		for _, node := range cycle {
			st := states[node]
			st.inCycle = true
			if len(cycle) >= 3 && len(cycle) <= 5 {
				st.patterns[domain.PatternCycleLen35] = struct{}{}
			} else {
				// Unreachable while the detector only emits 3-5 hop
				// cycles; the plain tag covers wider bounds.
				st.patterns[domain.PatternCycle] = struct{}{}
			}
			st.rings = append(st.rings, ring.RingID)
		}
	}

	for _, node := range g.Nodes() {
		if !fanIn[node] {
			continue
		}
		st := states[node]
		st.patterns[domain.PatternFanIn] = struct{}{}
		if st.inCycle {
			continue
		}
		members := append([]string{node}, g.Predecessors(node)...)
		ring := nextRing(domain.RingFanIn, members)
		for _, m := range members {
			states[m].rings = append(states[m].rings, ring.RingID)
		}
	}

	for _, node := range g.Nodes() {
		if !fanOut[node] {
			continue
		}
		st := states[node]
		st.patterns[domain.PatternFanOut] = struct{}{}
		if st.inCycle {
			continue
		}
		members := append([]string{node}, g.Successors(node)...)
		ring := nextRing(domain.RingFanOut, members)
		for _, m := range members {
			states[m].rings = append(states[m].rings, ring.RingID)
		}
	}

	for _, chain := range chains {
		overlapping := false
		for _, m := range chain.Members {
			if states[m].inCycle {
				overlapping = true
				break
			}
		}
		if overlapping {
			continue
		}
		ring := nextRing(domain.RingShellChain, append([]string(nil), chain.Members...))
		for _, m := range chain.Members {
			states[m].patterns[domain.PatternShell] = struct{}{}
			states[m].rings = append(states[m].rings, ring.RingID)
		}
	}

	for _, node := range g.Nodes() {
		if !highVelocity[node] {
			continue
		}
		st := states[node]
		st.patterns[domain.PatternHighVelocity] = struct{}{}
		if hasStructuralPattern(st) {
			continue
		}
		ring := nextRing(domain.RingHighVelocity, []string{node})
		st.rings = append(st.rings, ring.RingID)
	}

	// Per-account scoring.
	accounts := make(map[string]*domain.SuspicionRecord, g.NodeCount())
	scores := make(map[string]float64, g.NodeCount())
	for _, node := range g.Nodes() {
		rec := scoreAccount(g, node, states[node], stats[node])
		accounts[node] = rec
		scores[node] = rec.SuspicionScore
	}

	// Ring risk: 0.6 x max member score + 0.4 x mean member score.
	for _, ring := range rings {
		ring.RiskScore = ringRisk(ring.MemberAccounts, scores)
	}

	ringsByID := make(map[string]*domain.FraudRing, len(rings))
	for _, ring := range rings {
		ringsByID[ring.RingID] = ring
	}

	// Best-ring assignment: highest risk, ties to the smaller ring id.
	for _, node := range g.Nodes() {
		rec := accounts[node]
		if rec.SuspicionScore <= 0 {
			continue
		}
		rec.RingID = bestRing(states[node].rings, ringsByID)
	}

	inCycle := make(map[string]bool, len(states))
	for node, st := range states {
		inCycle[node] = st.inCycle
	}

	result, err := buildResult(g, accounts, rings, inCycle, pol)
	if err != nil {
		return nil, err
	}

	return &Run{
		Graph:    g,
		Accounts: accounts,
		Rings:    ringsByID,
		InCycle:  inCycle,
		Result:   result,
	}, nil
}

func hasStructuralPattern(st *accountState) bool {
	for _, p := range []string{
		domain.PatternCycle,
		domain.PatternCycleLen35,
		domain.PatternFanIn,
		domain.PatternFanOut,
		domain.PatternShell,
	} {
		if _, ok := st.patterns[p]; ok {
			return true
		}
	}
	return false
}

// scoreAccount applies the additive rule table in order, accumulating a
// breakdown entry per applied rule, then clamps to [0,100].
func scoreAccount(g *graph.Graph, node string, st *accountState, fs detect.FanStats) *domain.SuspicionRecord {
	var score float64
	var breakdown []domain.ScoreEntry
	add := func(reason string, points float64) {
		score += points
		breakdown = append(breakdown, domain.ScoreEntry{Reason: reason, Points: points})
	}

	has := func(p string) bool {
		_, ok := st.patterns[p]
		return ok
	}

	totalVolume := fs.InVolume + fs.OutVolume

	volumeScore := 0.0
	if totalVolume > 0 {
		volumeScore = math.Min(volumeCap, math.Log10(totalVolume)*2)
	}

	// Flow ratio classifies behavior: an account that forwards what it
	// receives is pass-through; heavy one-way flow with real volume looks
	// like a merchant (inbound) or payroll (outbound).
	flowRatio := 999.0
	if fs.InVolume > 0 {
		flowRatio = fs.OutVolume / fs.InVolume
	}
	passThrough := flowRatio >= 0.9 && flowRatio <= 1.1
	merchantLike := flowRatio < 0.1 && fs.InVolume > 1000
	payrollLike := flowRatio > 10.0 && fs.OutVolume > 1000

	if st.inCycle {
		add("In Cycle", cycleScore)
		if has(domain.PatternCycleLen35) {
			add("Short Cycle (3-5 hops)", shortCycleScore)
		}
	}

	if has(domain.PatternFanIn) {
		switch {
		case merchantLike:
			add("Fan In (Merchant-like)", fanTrusted)
		case passThrough:
			add("Fan In (Pass-through)", fanPassThrough)
		default:
			add("Fan In Pattern", fanBase)
		}
	}

	if has(domain.PatternFanOut) {
		switch {
		case payrollLike:
			add("Fan Out (Payroll-like)", fanTrusted)
		case passThrough:
			add("Fan Out (Pass-through)", fanPassThrough)
		default:
			add("Fan Out Pattern", fanBase)
		}
	}

	if has(domain.PatternShell) {
		add("Shell Chain Member", shellScore)
		if passThrough {
			add("Shell Pass-through", shellPassThrough)
		}
	}

	if has(domain.PatternHighVelocity) {
		add("High Velocity", velocityScore)
	}

	if score > volumeGate {
		score += volumeScore
		breakdown = append(breakdown, domain.ScoreEntry{
			Reason: fmt.Sprintf("High Volume ($%s)", formatDollars(totalVolume)),
			Points: math.Round(volumeScore*10) / 10,
		})
	}

	if passThrough && (st.inCycle || has(domain.PatternShell)) {
		add("Confirmed Mule Behavior", confirmedMule)
	}

	if !st.inCycle && !has(domain.PatternFanIn) && !has(domain.PatternFanOut) && !has(domain.PatternHighVelocity) {
		if activitySpan(g, node) > dormantSpan {
			add("Long Duration (>7 days)", -dormantPenalty)
		}
	}

	if merchantLike && !st.inCycle && score > trustCap {
		breakdown = append(breakdown, domain.ScoreEntry{Reason: "Merchant Trust Cap", Points: -(score - trustCap)})
		score = trustCap
	}
	if payrollLike && !st.inCycle && score > trustCap {
		breakdown = append(breakdown, domain.ScoreEntry{Reason: "Payroll Trust Cap", Points: -(score - trustCap)})
		score = trustCap
	}

	score = math.Max(0, math.Min(100, score))

	patterns := make([]string, 0, len(st.patterns))
	for p := range st.patterns {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	return &domain.SuspicionRecord{
		AccountID:         node,
		SuspicionScore:    math.Round(score*100) / 100,
		ScoreBreakdown:    breakdown,
		DetectedPatterns:  patterns,
		TotalTransactions: g.Degree(node),
		FanInCount:        fs.MaxFanIn,
		FanOutCount:       fs.MaxFanOut,
	}
}

// activitySpan is the interval between an account's earliest and latest
// transaction, incoming or outgoing.
func activitySpan(g *graph.Graph, node string) time.Duration {
	var first, last time.Time
	observe := func(ts time.Time) {
		if first.IsZero() || ts.Before(first) {
			first = ts
		}
		if last.IsZero() || ts.After(last) {
			last = ts
		}
	}
	for _, e := range g.InEdges(node) {
		for _, tx := range e.Transactions {
			observe(tx.Timestamp)
		}
	}
	for _, e := range g.OutEdges(node) {
		for _, tx := range e.Transactions {
			observe(tx.Timestamp)
		}
	}
	if first.IsZero() {
		return 0
	}
	return last.Sub(first)
}

func ringRisk(members []string, scores map[string]float64) float64 {
	if len(members) == 0 {
		return 0
	}
	var max, sum float64
	for _, m := range members {
		s := scores[m]
		if s > max {
			max = s
		}
		sum += s
	}
	mean := sum / float64(len(members))
	return math.Round((max*0.6+mean*0.4)*100) / 100
}

func bestRing(joined []string, rings map[string]*domain.FraudRing) string {
	best := ""
	bestRisk := 0.0
	for _, rid := range joined {
		ring := rings[rid]
		if ring == nil {
			continue
		}
		if best == "" || ring.RiskScore > bestRisk || (ring.RiskScore == bestRisk && rid < best) {
			best = rid
			bestRisk = ring.RiskScore
		}
	}
	return best
}

// buildResult applies the output policy and the final ordering: accounts by
// score descending then id ascending, rings in creation order.
func buildResult(g *graph.Graph, accounts map[string]*domain.SuspicionRecord, rings []*domain.FraudRing, inCycle map[string]bool, pol Policy) (*domain.AnalysisResult, error) {
	var kept []domain.SuspicionRecord
	for _, node := range g.Nodes() {
		rec := accounts[node]
		if rec.SuspicionScore <= 0 {
			continue
		}
		keep, err := pol.KeepAccount(rec, inCycle[node])
		if err != nil {
			return nil, fmt.Errorf("account policy: %w", err)
		}
		if keep {
			kept = append(kept, *rec)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].SuspicionScore != kept[j].SuspicionScore {
			return kept[i].SuspicionScore > kept[j].SuspicionScore
		}
		return kept[i].AccountID < kept[j].AccountID
	})

	var keptRings []domain.FraudRing
	for _, ring := range rings {
		keep, err := pol.KeepRing(ring)
		if err != nil {
			return nil, fmt.Errorf("ring policy: %w", err)
		}
		if keep {
			keptRings = append(keptRings, *ring)
		}
	}

	return &domain.AnalysisResult{
		Summary: domain.Summary{
			TotalAccounts:      g.NodeCount(),
			SuspiciousAccounts: len(kept),
			FraudRings:         len(keptRings),
		},
		Accounts: kept,
		Rings:    keptRings,
	}, nil
}

// formatDollars renders a volume total with thousands separators and no
// decimals, e.g. 1234567.8 -> "1,234,568".
func formatDollars(v float64) string {
	n := int64(math.Round(v))
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return string(out)
}
