// Command validate checks incident data integrity: a JSON fixture (such as
// genmock output) on its own, and optionally against a dispatch server's
// SQLite database. It verifies field validity, id uniqueness, that stored
// statuses are reachable from the fixture's, and that both sources yield the
// same dispatch prediction.
//
// Usage:
//
//	go run ./cmd/validate -fixture internal/domain/testdata/incidents.json
//	go run ./cmd/validate -fixture data/mock/incidents.json -db data/incidents.db
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/couchcryptid/resqnet-dispatch/internal/adapter/sqlite"
	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	fixture := flag.String("fixture", "", "path to a JSON array of incident reports")
	dbPath := flag.String("db", "", "optional dispatch server database to cross-check")
	flag.Parse()

	if *fixture == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(*fixture, *dbPath))
}

func run(fixturePath, dbPath string) int {
	incidents, err := loadJSON[domain.IncidentReport](fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 1
	}
	fmt.Printf("fixture: %d incidents\n", len(incidents))

	phases := []*phase{
		validateFields(incidents),
		validateUniqueIDs(incidents),
	}

	if dbPath != "" {
		stored, err := loadDB(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load database: %v\n", err)
			return 1
		}
		fmt.Printf("database: %d incidents\n", len(stored))
		phases = append(phases,
			validateStoredMatchesFixture(incidents, stored),
			validatePredictionAgreement(incidents, stored),
		)
	}

	failed := 0
	for _, p := range phases {
		if p.passed() {
			fmt.Printf("PASS  %s\n", p.name)
			continue
		}
		failed++
		fmt.Printf("FAIL  %s (%d problems)\n", p.name, len(p.errors))
		for _, e := range p.errors {
			fmt.Printf("      - %s\n", e)
		}
	}
	if failed > 0 {
		return 2
	}
	return 0
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

func loadDB(path string) ([]domain.IncidentReport, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	repo, err := sqlite.OpenIncidents(path)
	if err != nil {
		return nil, err
	}
	defer repo.Close()
	return repo.ListAll(context.Background())
}

func validateFields(incidents []domain.IncidentReport) *phase {
	p := &phase{name: "field validity"}
	for i := range incidents {
		inc := &incidents[i]
		if err := inc.Validate(); err != nil {
			p.errorf("[%d] %s: %v", i, inc.ID, err)
		}
		if inc.AuthorIdentity == "" {
			p.errorf("[%d] %s: missing user_email", i, inc.ID)
		}
		if inc.CreatedAt.IsZero() {
			p.errorf("[%d] %s: missing created_at", i, inc.ID)
		}
		if inc.Type == domain.SOSType && inc.Details != domain.SOSDetails {
			p.errorf("[%d] %s: SOS report has details %q", i, inc.ID, inc.Details)
		}
	}
	return p
}

func validateUniqueIDs(incidents []domain.IncidentReport) *phase {
	p := &phase{name: "unique ids"}
	seen := make(map[string]int, len(incidents))
	for i := range incidents {
		if first, ok := seen[incidents[i].ID]; ok {
			p.errorf("id %s at [%d] duplicates [%d]", incidents[i].ID, i, first)
			continue
		}
		seen[incidents[i].ID] = i
	}
	return p
}

// validateStoredMatchesFixture checks that every fixture incident is stored
// with the same immutable fields and a status reachable from the fixture's.
func validateStoredMatchesFixture(fixture, stored []domain.IncidentReport) *phase {
	p := &phase{name: "database matches fixture"}
	byID := make(map[string]domain.IncidentReport, len(stored))
	for _, s := range stored {
		byID[s.ID] = s
	}

	for i := range fixture {
		want := &fixture[i]
		got, ok := byID[want.ID]
		if !ok {
			p.errorf("%s: not in database", want.ID)
			continue
		}
		if got.Type != want.Type || got.Details != want.Details {
			p.errorf("%s: content mismatch: %q/%q vs %q/%q", want.ID, got.Type, got.Details, want.Type, want.Details)
		}
		if got.Coordinates != want.Coordinates {
			p.errorf("%s: coordinates %v vs %v", want.ID, got.Coordinates, want.Coordinates)
		}
		if got.AuthorIdentity != want.AuthorIdentity {
			p.errorf("%s: author %q vs %q", want.ID, got.AuthorIdentity, want.AuthorIdentity)
		}
		from := want.Status
		if from == "" {
			from = domain.StatusPending
		}
		if err := domain.CheckTransition(from, got.Status); err != nil {
			p.errorf("%s: stored status: %v", want.ID, err)
		}
	}
	return p
}

// validatePredictionAgreement compares predictions over the fixture's ids
// only. Status changes applied on the server since loading show up here.
func validatePredictionAgreement(fixture, stored []domain.IncidentReport) *phase {
	p := &phase{name: "prediction agreement"}
	ids := make(map[string]struct{}, len(fixture))
	for i := range fixture {
		ids[fixture[i].ID] = struct{}{}
	}
	var subset []domain.IncidentReport
	for _, s := range stored {
		if _, ok := ids[s.ID]; ok {
			subset = append(subset, s)
		}
	}

	want := domain.Predict(fixture)
	got := domain.Predict(subset)

	if got.ActiveIncidents != want.ActiveIncidents {
		p.errorf("active incidents: database %d, fixture %d", got.ActiveIncidents, want.ActiveIncidents)
	}
	if got.View().Predictions != want.View().Predictions {
		p.errorf("predictions: database %+v, fixture %+v", got.View().Predictions, want.View().Predictions)
	}
	fmt.Printf("prediction: ambulances=%d fire_vans=%d volunteers=%d\n", got.Ambulances, got.FireVans, got.Volunteers)
	return p
}
