// Datagen generates synthetic transaction CSVs for exercising Harrier.
//
// Usage:
//   go run cmd/datagen/main.go -out transactions.csv -seed 42
//
// The output mixes benign background traffic with injected laundering
// structures: cycles, fan-in/fan-out hubs, shell chains, and one
// high-velocity account. The same seed always produces the same file.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"
)

const timeLayout = "2006-01-02T15:04:05"

type generator struct {
	rng    *rand.Rand
	writer *csv.Writer
	base   time.Time
	txSeq  int
	acctSq int
}

func main() {
	out := flag.String("out", "transactions.csv", "Output CSV path")
	seed := flag.Int64("seed", 42, "Random seed")
	accounts := flag.Int("accounts", 200, "Number of background accounts")
	noise := flag.Int("noise", 1000, "Number of benign background transactions")
	cycles := flag.Int("cycles", 3, "Number of injected cycles (lengths 3-5)")
	fanHubs := flag.Int("fan-hubs", 2, "Number of injected fan-in/fan-out hub pairs")
	shellChains := flag.Int("shell-chains", 1, "Number of injected shell chains")
	flag.Parse()

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create %s: %v\n", *out, err)
		os.Exit(1)
	}
	defer f.Close()

	g := &generator{
		rng:    rand.New(rand.NewSource(*seed)),
		writer: csv.NewWriter(f),
		base:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := g.writer.Write([]string{"transaction_id", "sender_id", "receiver_id", "amount", "timestamp"}); err != nil {
		fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
		os.Exit(1)
	}

	pool := make([]string, *accounts)
	for i := range pool {
		pool[i] = g.newAccount("ACC")
	}

	g.background(pool, *noise)

	for i := 0; i < *cycles; i++ {
		g.cycle(3 + g.rng.Intn(3))
	}
	for i := 0; i < *fanHubs; i++ {
		g.fanHub(pool)
	}
	for i := 0; i < *shellChains; i++ {
		g.shellChain()
	}
	g.highVelocity(pool)

	g.writer.Flush()
	if err := g.writer.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %d transactions to %s\n", g.txSeq, *out)
}

func (g *generator) newAccount(prefix string) string {
	g.acctSq++
	return fmt.Sprintf("%s_%04d", prefix, g.acctSq)
}

func (g *generator) emit(sender, receiver string, amount float64, at time.Time) {
	g.txSeq++
	_ = g.writer.Write([]string{
		fmt.Sprintf("TXN_%06d", g.txSeq),
		sender,
		receiver,
		strconv.FormatFloat(amount, 'f', 2, 64),
		at.Format(timeLayout),
	})
}

// background emits benign traffic spread over 30 days.
func (g *generator) background(pool []string, n int) {
	for i := 0; i < n; i++ {
		from := pool[g.rng.Intn(len(pool))]
		to := pool[g.rng.Intn(len(pool))]
		if from == to {
			continue
		}
		amount := 10 + g.rng.Float64()*990
		at := g.base.Add(time.Duration(g.rng.Intn(30*24)) * time.Hour)
		g.emit(from, to, amount, at)
	}
}

// cycle injects a closed loop of fresh accounts moving a similar amount
// hop to hop within a few hours.
func (g *generator) cycle(length int) {
	members := make([]string, length)
	for i := range members {
		members[i] = g.newAccount("MULE")
	}

	amount := 5000 + g.rng.Float64()*5000
	at := g.base.Add(time.Duration(g.rng.Intn(20*24)) * time.Hour)
	for i := 0; i < length; i++ {
		next := members[(i+1)%length]
		// Small skim at each hop, as launderers do
		hop := amount * (0.97 + g.rng.Float64()*0.02)
		g.emit(members[i], next, hop, at)
		at = at.Add(time.Duration(1+g.rng.Intn(3)) * time.Hour)
	}
}

// fanHub injects one collector receiving from many sources and one
// distributor paying out to many targets, all within a 72h window.
func (g *generator) fanHub(pool []string) {
	collector := g.newAccount("HUB")
	distributor := g.newAccount("HUB")
	at := g.base.Add(time.Duration(g.rng.Intn(20*24)) * time.Hour)

	for i := 0; i < 12; i++ {
		src := pool[g.rng.Intn(len(pool))]
		g.emit(src, collector, 200+g.rng.Float64()*300, at.Add(time.Duration(i*4)*time.Hour))
	}
	g.emit(collector, distributor, 3000, at.Add(50*time.Hour))
	for i := 0; i < 12; i++ {
		dst := pool[g.rng.Intn(len(pool))]
		g.emit(distributor, dst, 200+g.rng.Float64()*50, at.Add(time.Duration(52+i)*time.Hour))
	}
}

// shellChain injects a linear chain of low-degree pass-through accounts
// between a funder and a final recipient.
func (g *generator) shellChain() {
	funder := g.newAccount("SRC")
	sink := g.newAccount("DST")

	shells := make([]string, 3)
	for i := range shells {
		shells[i] = g.newAccount("SHELL")
	}

	amount := 8000.0
	at := g.base.Add(time.Duration(g.rng.Intn(15*24)) * time.Hour)

	prev := funder
	for _, shell := range shells {
		g.emit(prev, shell, amount, at)
		amount *= 0.99
		at = at.Add(6 * time.Hour)
		prev = shell
	}
	g.emit(prev, sink, amount, at)
}

// highVelocity injects one account with a burst of small transfers
// inside a 72h window.
func (g *generator) highVelocity(pool []string) {
	burst := g.newAccount("FAST")
	at := g.base.Add(time.Duration(g.rng.Intn(10*24)) * time.Hour)

	for i := 0; i < 25; i++ {
		dst := pool[g.rng.Intn(len(pool))]
		g.emit(burst, dst, 50+g.rng.Float64()*100, at.Add(time.Duration(i*2)*time.Hour))
	}
}
