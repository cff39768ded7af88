// Command genmock generates deterministic mock incident fixtures for tests
// and demos. It builds reports with the real domain constructors so the
// output matches what field clients send, and prints the dispatch prediction
// for the generated set so test assertions can be updated.
//
// Usage:
//
//	go run ./cmd/genmock -n 40 -seed 7 -out internal/domain/testdata/generated.json
//	go run ./cmd/genmock -n 20 -post http://localhost:5001
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/couchcryptid/resqnet-dispatch/internal/adapter/apiclient"
	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var baseTime = time.Date(2025, time.July, 14, 6, 0, 0, 0, time.UTC)

// namespace seeds deterministic report IDs.
var namespace = uuid.MustParse("6f0c1d5e-8a34-4c1b-9a57-2f3f1d4e0b7a")

type site struct {
	name     string
	lat, lon float64
}

var sites = []site{
	{"Mumbai CST", 19.0760, 72.8777},
	{"Pune Station", 18.5204, 73.8567},
	{"New Delhi", 28.6139, 77.2090},
	{"Bengaluru MG Road", 12.9716, 77.5946},
	{"Chennai Central", 13.0827, 80.2707},
}

type template struct {
	incidentType string
	details      []string
}

var templates = []template{
	{"Fire", []string{"Building on fire, third floor", "Warehouse blaze", "Smoke from a market stall"}},
	{"Flood", []string{"Water rising fast near the station", "Basement flooding", "Road under knee-deep water"}},
	{"Medical", []string{"Injured person needs help", "Elderly resident unconscious", "Gas cylinder blast reported"}},
	{"Landslide", []string{"Road blocked by debris", "Hillside collapsed onto houses"}},
	{"Blocked Road", []string{"Fallen tree across both lanes", "Overturned truck"}},
}

var users = []string{"asha@example.org", "ravi@example.org", "meera@example.org", "kiran@example.org", ""}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	n := flag.Int("n", 25, "number of incidents to generate")
	seed := flag.Uint64("seed", 1, "random seed; the same seed yields the same fixture")
	sosRate := flag.Float64("sos-rate", 0.1, "fraction of incidents that are SOS beacons")
	out := flag.String("out", "", "output path for the JSON fixture")
	post := flag.String("post", "", "dispatch server URL to insert the incidents into")
	flag.Parse()

	if *out == "" && *post == "" {
		flag.Usage()
		return fmt.Errorf("at least one of -out or -post is required")
	}
	if *n <= 0 {
		return fmt.Errorf("-n must be positive")
	}

	// Fixed clock for reproducible created_at timestamps.
	clock := clockwork.NewFakeClockAt(baseTime)
	domain.SetClock(clock)
	defer domain.SetClock(nil)

	incidents := generate(rand.New(rand.NewPCG(*seed, *seed)), clock, *n, *sosRate)
	log.Printf("generated %d incidents", len(incidents))

	if *out != "" {
		if err := writeJSON(*out, incidents); err != nil {
			return fmt.Errorf("writing fixture: %w", err)
		}
		log.Printf("wrote fixture: %s", *out)
	}

	if *post != "" {
		if err := postAll(*post, incidents); err != nil {
			return err
		}
	}

	printStats(incidents)
	return nil
}

func generate(rng *rand.Rand, clock *clockwork.FakeClock, n int, sosRate float64) []domain.IncidentReport {
	incidents := make([]domain.IncidentReport, 0, n)
	for i := range n {
		s := sites[rng.IntN(len(sites))]
		// Jitter of up to ~200 m keeps most reports at a handful of sites.
		coords := domain.Coordinates{
			Lat: round6(s.lat + (rng.Float64()-0.5)*0.004),
			Lon: round6(s.lon + (rng.Float64()-0.5)*0.004),
		}
		user := users[rng.IntN(len(users))]

		var inc domain.IncidentReport
		if rng.Float64() < sosRate {
			inc = domain.NewSOSReport(user, coords)
		} else {
			t := templates[rng.IntN(len(templates))]
			inc = domain.NewIncidentReport(t.incidentType, t.details[rng.IntN(len(t.details))], coords, user)
		}
		inc.ID = uuid.NewSHA1(namespace, fmt.Appendf(nil, "incident-%d", i)).String()

		switch r := rng.Float64(); {
		case r < 0.2:
			inc.Status = domain.StatusResolved
		case r < 0.5:
			inc.Status = domain.StatusActive
		}

		incidents = append(incidents, inc)
		clock.Advance(time.Duration(1+rng.IntN(5)) * time.Minute)
	}
	return incidents
}

func round6(v float64) float64 {
	return float64(int64(v*1e6+0.5)) / 1e6
}

func postAll(serverURL string, incidents []domain.IncidentReport) error {
	client := apiclient.New(serverURL, 15*time.Second)
	ctx := context.Background()
	for i := range incidents {
		if err := client.Insert(ctx, incidents[i]); err != nil {
			return fmt.Errorf("posting %s: %w", incidents[i].ID, err)
		}
	}
	log.Printf("posted %d incidents to %s", len(incidents), serverURL)
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

type count struct {
	key string
	n   int
}

func sortedCounts(m map[string]int) []count {
	out := make([]count, 0, len(m))
	for k, n := range m {
		out = append(out, count{k, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].key < out[j].key
	})
	return out
}

func printStats(incidents []domain.IncidentReport) {
	types := map[string]int{}
	statuses := map[string]int{}
	authors := map[string]int{}
	for i := range incidents {
		types[incidents[i].Type]++
		statuses[string(incidents[i].Status)]++
		authors[incidents[i].AuthorIdentity]++
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d (active %d)\n", len(incidents), domain.CountActive(incidents))
	for _, group := range []struct {
		label  string
		counts map[string]int
	}{{"By type", types}, {"By status", statuses}, {"By author", authors}} {
		fmt.Printf("%s:", group.label)
		for _, c := range sortedCounts(group.counts) {
			fmt.Printf(" %s=%d", c.key, c.n)
		}
		fmt.Println()
	}

	p := domain.Predict(incidents)
	fmt.Printf("Prediction: ambulances=%d fire_vans=%d volunteers=%d\n", p.Ambulances, p.FireVans, p.Volunteers)
}
