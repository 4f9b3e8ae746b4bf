package command

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarchuk/tierbot/internal/domain"
	"github.com/dmarchuk/tierbot/internal/monitor"
	"github.com/dmarchuk/tierbot/internal/notify"
	"github.com/dmarchuk/tierbot/internal/report"
)

const mintA = "EoNnCWvXtrCrNYMHq2z6DbrSZCsG5hSHG9QjqiAN7ZaG"

type fakeWatcher struct {
	spawned  []monitor.Spec
	spawnErr error
	watching map[string]bool
	cancels  []string
}

func (f *fakeWatcher) Spawn(ctx context.Context, spec monitor.Spec) error {
	if f.spawnErr != nil {
		return f.spawnErr
	}
	f.spawned = append(f.spawned, spec)
	return nil
}

func (f *fakeWatcher) Cancel(assetID string) error {
	if !f.watching[assetID] {
		return domain.ErrNotFound
	}
	f.cancels = append(f.cancels, assetID)
	return nil
}

func (f *fakeWatcher) Watching(assetID string) bool { return f.watching[assetID] }

type fakeCloser struct {
	closed []string
	result domain.Position
	err    error
}

func (f *fakeCloser) CloseManual(ctx context.Context, positionID string) (domain.Position, error) {
	f.closed = append(f.closed, positionID)
	return f.result, f.err
}

type fakeFinder struct {
	open map[string]domain.Position
}

func (f *fakeFinder) FindOpenByAsset(ctx context.Context, assetID string) (domain.Position, error) {
	p, ok := f.open[assetID]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

type fakeReporter struct {
	rep report.Report
	err error
}

func (f *fakeReporter) Build(ctx context.Context) (report.Report, error) { return f.rep, f.err }

type fakeBalance struct {
	sol float64
	err error
}

func (f *fakeBalance) Balance(ctx context.Context) (float64, error) { return f.sol, f.err }

type recordedNote struct {
	event notify.Event
	title string
}

type recordingNotifier struct {
	notes []recordedNote
}

func (f *recordingNotifier) Notify(ctx context.Context, event notify.Event, title, message string) error {
	f.notes = append(f.notes, recordedNote{event: event, title: title})
	return nil
}

type fixture struct {
	watcher  *fakeWatcher
	closer   *fakeCloser
	finder   *fakeFinder
	reporter *fakeReporter
	balance  *fakeBalance
	notes    *recordingNotifier
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		watcher:  &fakeWatcher{watching: make(map[string]bool)},
		closer:   &fakeCloser{},
		finder:   &fakeFinder{open: make(map[string]domain.Position)},
		reporter: &fakeReporter{},
		balance:  &fakeBalance{sol: 20},
		notes:    &recordingNotifier{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = New(f.watcher, f.closer, f.finder, f.reporter, f.balance, f.notes, logger)
	return f
}

func TestParseSizeSpec(t *testing.T) {
	t.Parallel()

	abs, err := ParseSizeSpec("1.5")
	require.NoError(t, err)
	assert.False(t, abs.IsPercent)
	assert.Equal(t, 1.5, abs.AmountSOL)

	pct, err := ParseSizeSpec("25%")
	require.NoError(t, err)
	assert.True(t, pct.IsPercent)
	assert.Equal(t, 25.0, pct.Percent)

	for _, bad := range []string{"", "abc", "-1", "0", "0%", "150%"} {
		_, err := ParseSizeSpec(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "size %q", bad)
	}
}

func TestResolvePercentUsesBalance(t *testing.T) {
	t.Parallel()

	spec, err := ParseSizeSpec("25%")
	require.NoError(t, err)

	amount, err := spec.Resolve(context.Background(), &fakeBalance{sol: 20})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, amount, 1e-9)
}

func TestOpenPositionSpawnsResolvedWatch(t *testing.T) {
	t.Parallel()
	f := newFixture()

	size, err := ParseSizeSpec("50%")
	require.NoError(t, err)

	res, err := f.svc.OpenPosition(context.Background(), mintA, 250_000, size)
	require.NoError(t, err)
	assert.True(t, res.OK)

	require.Len(t, f.watcher.spawned, 1)
	spec := f.watcher.spawned[0]
	assert.Equal(t, mintA, spec.AssetID)
	assert.Equal(t, 250_000.0, spec.TargetMarketCap)
	assert.InDelta(t, 10.0, spec.BuyAmountSOL, 1e-9)

	require.Len(t, f.notes.notes, 1, "exactly one terminal notification")
	assert.Equal(t, notify.EventEntry, f.notes.notes[0].event)
}

func TestOpenPositionDuplicateRejected(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.watcher.spawnErr = domain.ErrStateConflict

	res, err := f.svc.OpenPosition(context.Background(), mintA, 250_000, SizeSpec{AmountSOL: 1})
	assert.ErrorIs(t, err, domain.ErrStateConflict)
	assert.False(t, res.OK)

	require.Len(t, f.notes.notes, 1)
	assert.Equal(t, notify.EventError, f.notes.notes[0].event)
}

func TestClosePositionSellsActivePosition(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.finder.open[mintA] = domain.Position{ID: "p1", AssetID: mintA, Status: domain.PositionStatusActive}
	f.closer.result = domain.Position{ID: "p1", Status: domain.PositionStatusCompleted, RealizedPnL: 3.0}

	res, err := f.svc.ClosePosition(context.Background(), mintA)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"p1"}, f.closer.closed)
	assert.Contains(t, res.Summary, "+3.0000 SOL")

	require.Len(t, f.notes.notes, 1)
	assert.Equal(t, notify.EventExit, f.notes.notes[0].event)
}

func TestClosePositionCancelsPendingWatch(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.watcher.watching[mintA] = true

	res, err := f.svc.ClosePosition(context.Background(), mintA)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{mintA}, f.watcher.cancels)
	assert.Empty(t, f.closer.closed)
}

func TestClosePositionNothingToClose(t *testing.T) {
	t.Parallel()
	f := newFixture()

	res, err := f.svc.ClosePosition(context.Background(), mintA)
	assert.Error(t, err)
	assert.False(t, res.OK)

	require.Len(t, f.notes.notes, 1)
	assert.Equal(t, notify.EventError, f.notes.notes[0].event)
}

func TestReportPnLDeliversSnapshot(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.reporter.rep = report.Report{RealizedSOL: 13}

	res, err := f.svc.ReportPnL(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Contains(t, res.Summary, "Realized")

	require.Len(t, f.notes.notes, 1)
	assert.Equal(t, notify.EventReport, f.notes.notes[0].event)
}

func TestGetBalanceReportsFailure(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.balance.err = errors.New("rpc down")

	res, err := f.svc.GetBalance(context.Background())
	assert.Error(t, err)
	assert.False(t, res.OK)

	require.Len(t, f.notes.notes, 1)
	assert.Equal(t, notify.EventError, f.notes.notes[0].event)
}
