package store

import (
	"testing"
	"time"

	"github.com/setevik/sosdesk/internal/incident"
)

func TestCheckCooldownSequence(t *testing.T) {
	db := testDB(t)
	base := time.Now().Add(-10 * time.Minute)
	window := 5 * time.Minute
	threshold := 3

	var results []CooldownResult
	for i := 0; i < 5; i++ {
		inc := makeIncident(incident.TypeSmokeDetector, "B-205", base.Add(time.Duration(i)*30*time.Second))
		mustInsert(t, db, inc)

		res, err := db.CheckCooldown(inc, window, threshold)
		if err != nil {
			t.Fatalf("CheckCooldown #%d: %v", i, err)
		}
		results = append(results, res)
	}

	want := []struct {
		alert      bool
		aggregated bool
		count      int
	}{
		{true, false, 0},
		{false, false, 1},
		{false, false, 2},
		{true, true, 3},
		{false, false, 4},
	}
	for i, w := range want {
		got := results[i]
		if got.ShouldAlert != w.alert || got.Aggregated != w.aggregated || got.RecentCount != w.count {
			t.Errorf("#%d: got %+v, want alert=%v aggregated=%v count=%d", i, got, w.alert, w.aggregated, w.count)
		}
	}
}

func TestCheckCooldownIsolatesFlatAndType(t *testing.T) {
	db := testDB(t)
	now := time.Now()

	first := makeIncident(incident.TypeSOS, "A-101", now.Add(-time.Minute))
	mustInsert(t, db, first)

	for _, inc := range []*incident.Incident{
		makeIncident(incident.TypeSOS, "A-102", now),
		makeIncident(incident.TypeFireAlarm, "A-101", now),
	} {
		mustInsert(t, db, inc)
		res, err := db.CheckCooldown(inc, 5*time.Minute, 3)
		if err != nil {
			t.Fatal(err)
		}
		if !res.ShouldAlert || res.RecentCount != 0 {
			t.Errorf("%s/%s: got %+v, want first-occurrence alert", inc.FlatNumber, inc.Type, res)
		}
	}
}

func TestCheckCooldownWindowExpired(t *testing.T) {
	db := testDB(t)
	now := time.Now()

	mustInsert(t, db, makeIncident(incident.TypeGasLeak, "D-404", now.Add(-time.Hour)))
	inc := makeIncident(incident.TypeGasLeak, "D-404", now)
	mustInsert(t, db, inc)

	res, err := db.CheckCooldown(inc, 5*time.Minute, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !res.ShouldAlert {
		t.Errorf("expected alert after window expiry, got %+v", res)
	}
}
