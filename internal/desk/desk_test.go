package desk

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setevik/sosdesk/internal/config"
	"github.com/setevik/sosdesk/internal/dashboard"
	"github.com/setevik/sosdesk/internal/directory"
	"github.com/setevik/sosdesk/internal/incident"
	"github.com/setevik/sosdesk/internal/intake"
	"github.com/setevik/sosdesk/internal/store"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []incident.Incident
	err  error
}

func (f *fakeNotifier) Report(_ context.Context, inc *incident.Incident) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.sent = append(f.sent, *inc)
	return true, nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var fixedNow = time.Date(2025, 6, 14, 10, 0, 0, 0, time.UTC)

func newTestDesk(t *testing.T, ntf Notifier) (*Desk, *store.DB) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir, err := directory.Load("")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Society.Timezone = "UTC"

	d, err := New(cfg, db, dir, ntf)
	require.NoError(t, err)
	d.now = func() time.Time { return fixedNow }
	return d, db
}

func TestRaiseEnrichesStoresAndNotifies(t *testing.T) {
	ntf := &fakeNotifier{}
	d, db := newTestDesk(t, ntf)

	inc := incident.New(incident.TypeSOS, "A-101", fixedNow)
	require.NoError(t, d.Raise(context.Background(), inc))

	got, err := db.Get(inc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mrs. Priya Sharma", got.ResidentName)
	assert.Equal(t, "Emergency SOS button pressed", got.Description)
	assert.True(t, got.Notified)
	assert.Equal(t, 1, ntf.count())

	hist, err := db.History(inc.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "Alert sent to staff", hist[1].Action)
	assert.Equal(t, "system", hist[1].Actor)
}

func TestRaiseSuppressedAlertWritesNoAlertHistory(t *testing.T) {
	ntf := &fakeNotifier{}
	d, db := newTestDesk(t, ntf)

	first := incident.New(incident.TypeSOS, "A-101", fixedNow)
	second := incident.New(incident.TypeSOS, "A-101", fixedNow.Add(time.Second))
	require.NoError(t, d.Raise(context.Background(), first))
	require.NoError(t, d.Raise(context.Background(), second))

	hist, err := db.History(second.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 1, "only the raised entry")
}

func TestRaiseRejectsUnknownType(t *testing.T) {
	d, _ := newTestDesk(t, nil)

	inc := incident.New(incident.Type("flood"), "A-101", fixedNow)
	err := d.Raise(context.Background(), inc)
	assert.ErrorIs(t, err, incident.ErrUnknownType)
}

func TestRaiseCooldownSuppressesRepeats(t *testing.T) {
	ntf := &fakeNotifier{}
	d, db := newTestDesk(t, ntf)

	for i := 0; i < 5; i++ {
		inc := incident.New(incident.TypeFallDetection, "C-302", fixedNow.Add(time.Duration(i)*time.Second))
		require.NoError(t, d.Raise(context.Background(), inc))
	}

	// First occurrence and the aggregated alert at threshold 3.
	require.Equal(t, 2, ntf.count())
	assert.True(t, strings.HasPrefix(ntf.sent[1].Description, "[x4] "), ntf.sent[1].Description)

	n, err := db.Count()
	require.NoError(t, err)
	assert.Equal(t, 5, n, "suppressed incidents are still stored")
}

func TestRaiseNotifierFailureKeepsIncident(t *testing.T) {
	ntf := &fakeNotifier{err: errors.New("ntfy down")}
	d, db := newTestDesk(t, ntf)

	inc := incident.New(incident.TypeGasLeak, "C-302", fixedNow)
	require.NoError(t, d.Raise(context.Background(), inc))

	got, err := db.Get(inc.ID)
	require.NoError(t, err)
	assert.False(t, got.Notified)
}

func TestAdvanceDefaultsToNextStatus(t *testing.T) {
	d, _ := newTestDesk(t, nil)

	inc := incident.New(incident.TypeSOS, "A-101", fixedNow)
	require.NoError(t, d.Raise(context.Background(), inc))

	got, err := d.Advance(inc.ID, "", "Ramesh Yadav")
	require.NoError(t, err)
	assert.Equal(t, incident.StatusAttending, got.Status)

	got, err = d.Advance(inc.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, incident.StatusAttended, got.Status)

	_, err = d.Advance(inc.ID, "", "")
	assert.ErrorIs(t, err, incident.ErrTerminal)

	_, hist, err := d.Get(inc.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "Ramesh Yadav", hist[1].Actor)
	assert.Equal(t, "staff", hist[2].Actor)
}

func TestAdvanceNotFound(t *testing.T) {
	d, _ := newTestDesk(t, nil)
	_, err := d.Advance("missing", "", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStatsAndList(t *testing.T) {
	d, _ := newTestDesk(t, nil)
	ctx := context.Background()

	yesterday := fixedNow.AddDate(0, 0, -1)
	incs := []*incident.Incident{
		incident.New(incident.TypeSOS, "A-101", fixedNow.Add(-3*time.Hour)),
		incident.New(incident.TypeFireAlarm, "B-205", fixedNow.Add(-2*time.Hour)),
		incident.New(incident.TypeSOS, "C-302", fixedNow.Add(-1*time.Hour)),
		incident.New(incident.TypeSOS, "A-101", yesterday),
	}
	for _, inc := range incs {
		require.NoError(t, d.Raise(ctx, inc))
	}
	_, err := d.Advance(incs[1].ID, "", "guard")
	require.NoError(t, err)

	today, err := d.ParseDate("")
	require.NoError(t, err)

	stats, err := d.Stats(today)
	require.NoError(t, err)
	assert.Equal(t, dashboard.Stats{YetToAttend: 2, Attending: 1, Total: 3}, stats)

	list, err := d.List(dashboard.Filter{Status: incident.AnyStatus, Type: incident.TypeSOS, Date: today})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, incs[0].ID, list[0].ID)
	assert.Equal(t, incs[2].ID, list[1].ID)

	day, err := d.ParseDate(yesterday.Format(DateLayout))
	require.NoError(t, err)
	list, err = d.List(dashboard.Filter{Date: day})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, incs[3].ID, list[0].ID)
}

func TestParseDateInvalid(t *testing.T) {
	d, _ := newTestDesk(t, nil)
	_, err := d.ParseDate("14/06/2025")
	assert.Error(t, err)
}

func TestConsumeRaisesFromSignals(t *testing.T) {
	ntf := &fakeNotifier{}
	d, db := newTestDesk(t, ntf)

	input := strings.Join([]string{
		`{"device_tag":"smoke-b205","kind":"smoke_detector","ts":"2025-06-14T09:00:00Z"}`,
		`{"device_tag":"sos-a101","kind":"heartbeat"}`,
		`not json`,
		`{"device_tag":"fall-c302","kind":"fall_sensor","flat":"C-302","message":"Fall detected"}`,
	}, "\n") + "\n"

	err := d.Consume(context.Background(), intake.NewReaderSource(strings.NewReader(input)))
	require.ErrorIs(t, err, intake.ErrClosed, "a source ending on its own is reported")

	n, err := db.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, ntf.count())

	list, err := d.List(dashboard.Filter{Date: fixedNow})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "B-205", list[0].FlatNumber, "flat resolved from device tag")
	assert.Equal(t, "Mr. Rajesh Kumar", list[0].ResidentName)
}

func TestConsumeCancelledReturnsNil(t *testing.T) {
	d, _ := newTestDesk(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	defer pw.Close()

	done := make(chan error, 1)
	go func() { done <- d.Consume(ctx, intake.NewReaderSource(pr)) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

type brokenBridge struct{}

func (brokenBridge) Signals(context.Context) (<-chan intake.Signal, error) {
	return nil, errors.New("bridge not found")
}

func (brokenBridge) Stop() {}

func TestConsumeReportsSupervisorGivingUp(t *testing.T) {
	d, _ := newTestDesk(t, nil)

	src := intake.NewSupervisedSource(func() intake.Source {
		return brokenBridge{}
	}, time.Millisecond, 2)

	err := d.Consume(context.Background(), src)
	assert.ErrorIs(t, err, intake.ErrClosed)
}

func TestStatsInSocietyTimezone(t *testing.T) {
	d, _ := newTestDesk(t, nil)
	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	d.loc = ist

	ctx := context.Background()
	late := incident.New(incident.TypeSOS, "A-101", time.Date(2025, 6, 14, 18, 29, 0, 0, time.UTC))
	early := incident.New(incident.TypeFireAlarm, "B-205", time.Date(2025, 6, 14, 20, 0, 0, 0, time.UTC))
	require.NoError(t, d.Raise(ctx, late))
	require.NoError(t, d.Raise(ctx, early))

	day14, err := d.ParseDate("2025-06-14")
	require.NoError(t, err)
	day15, err := d.ParseDate("2025-06-15")
	require.NoError(t, err)

	stats, err := d.Stats(day14)
	require.NoError(t, err)
	assert.Equal(t, dashboard.Stats{YetToAttend: 1, Total: 1}, stats)

	list, err := d.List(dashboard.Filter{Date: day15})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, early.ID, list[0].ID)
}
