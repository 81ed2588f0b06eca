package detect

import (
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

// hubGraph builds a graph where n distinct senders pay HUB, spaced by the
// given interval starting at a fixed base time.
func hubGraph(t *testing.T, n int, spacing time.Duration) *graph.Graph {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := make([]domain.Transaction, n)
	for i := 0; i < n; i++ {
		txs[i] = domain.Transaction{
			ID:        fmt.Sprintf("T%03d", i),
			Sender:    fmt.Sprintf("SRC_%02d", i),
			Receiver:  "HUB",
			Amount:    100,
			Timestamp: base.Add(time.Duration(i) * spacing),
		}
	}
	g, err := graph.Build(txs)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return g
}

func TestFanInThreshold(t *testing.T) {
	t.Run("TenPartnersFlagged", func(t *testing.T) {
		g := hubGraph(t, 10, time.Hour)
		if !FanIn(g)["HUB"] {
			t.Error("expected HUB flagged with 10 senders in window")
		}
	})

	t.Run("NinePartnersNotFlagged", func(t *testing.T) {
		g := hubGraph(t, 9, time.Hour)
		if FanIn(g)["HUB"] {
			t.Error("expected HUB not flagged with 9 senders")
		}
	})

	t.Run("RepeatSendersCountOnce", func(t *testing.T) {
		// 20 transactions but only 5 distinct senders.
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		var txs []domain.Transaction
		for i := 0; i < 20; i++ {
			txs = append(txs, domain.Transaction{
				ID:        fmt.Sprintf("T%03d", i),
				Sender:    fmt.Sprintf("SRC_%d", i%5),
				Receiver:  "HUB",
				Amount:    100,
				Timestamp: base.Add(time.Duration(i) * time.Hour),
			})
		}
		g, err := graph.Build(txs)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if FanIn(g)["HUB"] {
			t.Error("repeat senders must not trip the distinct-partner threshold")
		}
	})
}

func TestFanWindowBoundary(t *testing.T) {
	// 10 senders spread over exactly 72 hours: the last event lands on the
	// inclusive window edge and still counts.
	g := hubGraph(t, 10, 8*time.Hour)
	if !FanIn(g)["HUB"] {
		t.Error("expected event at the 72h boundary to count")
	}

	// Spacing of 9h puts the tenth sender at 81h, outside every window.
	g = hubGraph(t, 10, 9*time.Hour)
	if FanIn(g)["HUB"] {
		t.Error("expected events outside the 72h window to be excluded")
	}
}

func TestFanOut(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var txs []domain.Transaction
	for i := 0; i < 10; i++ {
		txs = append(txs, domain.Transaction{
			ID:        fmt.Sprintf("T%03d", i),
			Sender:    "DIST",
			Receiver:  fmt.Sprintf("DST_%02d", i),
			Amount:    100,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
	}
	g, err := graph.Build(txs)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !FanOut(g)["DIST"] {
		t.Error("expected DIST flagged for fan-out")
	}
	if FanIn(g)["DIST"] {
		t.Error("DIST has no inbound flow, must not be fan-in")
	}
}

func TestHighVelocity(t *testing.T) {
	build := func(n int) *graph.Graph {
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		var txs []domain.Transaction
		for i := 0; i < n; i++ {
			txs = append(txs, domain.Transaction{
				ID:        fmt.Sprintf("T%03d", i),
				Sender:    "FAST",
				Receiver:  fmt.Sprintf("DST_%d", i%3),
				Amount:    50,
				Timestamp: base.Add(time.Duration(i) * time.Hour),
			})
		}
		g, err := graph.Build(txs)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		return g
	}

	if !HighVelocity(build(20))["FAST"] {
		t.Error("expected FAST flagged at 20 events")
	}
	if HighVelocity(build(19))["FAST"] {
		t.Error("expected FAST not flagged at 19 events")
	}

	// Only 3 distinct receivers, so velocity trips without fan-out.
	g := build(20)
	if FanOut(g)["FAST"] {
		t.Error("3 distinct receivers must not be fan-out")
	}
}

func TestStats(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []domain.Transaction{
		{ID: "T1", Sender: "A", Receiver: "M", Amount: 100, Timestamp: base},
		{ID: "T2", Sender: "B", Receiver: "M", Amount: 200, Timestamp: base.Add(time.Hour)},
		{ID: "T3", Sender: "M", Receiver: "C", Amount: 250, Timestamp: base.Add(2 * time.Hour)},
	}
	g, err := graph.Build(txs)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	stats := Stats(g)
	m := stats["M"]
	if m.MaxFanIn != 2 {
		t.Errorf("expected MaxFanIn 2, got %d", m.MaxFanIn)
	}
	if m.MaxFanOut != 1 {
		t.Errorf("expected MaxFanOut 1, got %d", m.MaxFanOut)
	}
	if m.InVolume != 300 {
		t.Errorf("expected InVolume 300, got %v", m.InVolume)
	}
	if m.OutVolume != 250 {
		t.Errorf("expected OutVolume 250, got %v", m.OutVolume)
	}

	a := stats["A"]
	if a.MaxFanIn != 0 || a.OutVolume != 100 {
		t.Errorf("unexpected stats for A: %+v", a)
	}
}
