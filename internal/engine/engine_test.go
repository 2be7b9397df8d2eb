package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/meshtrace/pathprobe/internal/correlate"
	"github.com/meshtrace/pathprobe/internal/dedup"
	"github.com/meshtrace/pathprobe/internal/geo"
	"github.com/meshtrace/pathprobe/internal/repeater"
	"github.com/meshtrace/pathprobe/internal/report"
	"github.com/meshtrace/pathprobe/internal/resolve"
	"github.com/meshtrace/pathprobe/internal/source"
)

// header 0x25 = flood route, trace payload; two hops 7e,a3; payload dead
const traceFrameHex = "25027ea3dead"

// header 0x09 = flood route, text message payload
const textFrameHex = "09027ea3dead"

func testEngine(t *testing.T, out chan report.Batch, windowDur time.Duration) *Engine {
	t.Helper()
	repo := repeater.NewMemory()
	now := time.Now()
	repo.Put(repeater.Record{PublicKey: "7e1111", Name: "Hilltop", Role: repeater.RoleRepeater,
		Location: geo.Point{Lat: 40.1, Lon: -105}, LastHeard: now})
	repo.Put(repeater.Record{PublicKey: "a32222", Name: "Valley", Role: repeater.RoleRepeater,
		Location: geo.Point{Lat: 40.2, Lon: -105}, LastHeard: now})

	log := zap.NewNop().Sugar()
	res, err := resolve.New(resolve.DefaultConfig(), repo, log)
	if err != nil {
		t.Fatal(err)
	}
	hist := correlate.NewHistory(64)
	win := correlate.NewWindow(windowDur, hist, log)
	bot := geo.Point{Lat: 40, Lon: -105}
	return New("p1", "r1", &bot, 0, dedup.NewMemory(), repo, repo, res, win, hist, nil, out, log)
}

// waitForCorrelation drains batches until one carries a correlation; the
// window close runs on its own goroutine, so emission is asynchronous.
func waitForCorrelation(t *testing.T, out chan report.Batch, timeout time.Duration) report.Correlation {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case b := <-out:
			if len(b.Correlations) > 0 {
				return b.Correlations[0]
			}
		case <-deadline:
			t.Fatal("no correlation emitted before timeout")
		}
	}
}

func TestHandleFrame_ResolvesEveryHop(t *testing.T) {
	out := make(chan report.Batch, 4)
	e := testEngine(t, out, 10*time.Millisecond)

	e.HandleFrame(context.Background(), source.Observation{RawHex: textFrameHex, TS: time.Now().Unix()})

	select {
	case b := <-out:
		if len(b.Resolutions) != 2 {
			t.Fatalf("got %d resolutions, want 2", len(b.Resolutions))
		}
		if b.Resolutions[0].NodeID != "7e" || b.Resolutions[0].Repeater != "Hilltop" {
			t.Errorf("hop 0 = %+v", b.Resolutions[0])
		}
		if b.Resolutions[1].NodeID != "a3" || b.Resolutions[1].Repeater != "Valley" {
			t.Errorf("hop 1 = %+v", b.Resolutions[1])
		}
	default:
		t.Fatal("no batch emitted")
	}
}

func TestHandleFrame_TraceTriggersCorrelation(t *testing.T) {
	out := make(chan report.Batch, 4)
	e := testEngine(t, out, 10*time.Millisecond)

	e.HandleFrame(context.Background(), source.Observation{RawHex: traceFrameHex, TS: time.Now().Unix()})

	c := waitForCorrelation(t, out, 2*time.Second)
	if len(c.Paths) != 1 || c.Paths[0] != "7e,a3" {
		t.Errorf("correlation paths = %v, want the seeding frame's path", c.Paths)
	}
}

func TestRun_SingleWorkerCollectsRetransmissions(t *testing.T) {
	// the worker that opens a window must not block on its deadline: with
	// one worker, the retransmission behind the trace frame in the queue
	// still has to be observed while the window is open
	out := make(chan report.Batch, 16)
	e := testEngine(t, out, 300*time.Millisecond)

	obs := make(chan source.Observation, 2)
	now := time.Now().Unix()
	obs <- source.Observation{RawHex: traceFrameHex, TS: now}  // path 7e,a3
	obs <- source.Observation{RawHex: "2502b1c2dead", TS: now} // same payload, path b1,c2
	close(obs)

	done := make(chan struct{})
	go func() {
		e.Run(context.Background(), obs, 1)
		close(done)
	}()

	c := waitForCorrelation(t, out, 3*time.Second)
	if len(c.Paths) != 2 || c.Paths[0] != "7e,a3" || c.Paths[1] != "b1,c2" {
		t.Fatalf("correlation paths = %v, want both physical paths", c.Paths)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after the window closed")
	}
}

func TestHandleFrame_DuplicateSuppressed(t *testing.T) {
	out := make(chan report.Batch, 8)
	e := testEngine(t, out, 10*time.Millisecond)

	obs := source.Observation{RawHex: textFrameHex, TS: time.Now().Unix()}
	e.HandleFrame(context.Background(), obs)
	e.HandleFrame(context.Background(), obs)

	if got := len(out); got != 1 {
		t.Errorf("got %d batches, want 1: retransmission must not re-resolve", got)
	}
}

func TestHandleFrame_MalformedSkipsResolution(t *testing.T) {
	out := make(chan report.Batch, 4)
	e := testEngine(t, out, 10*time.Millisecond)

	e.HandleFrame(context.Background(), source.Observation{RawHex: "25ff", TS: time.Now().Unix()})

	if len(out) != 0 {
		t.Error("truncated frame must not produce resolutions")
	}
	if e.LastFrameAt().IsZero() {
		t.Error("even malformed frames count as pipeline activity")
	}
}

func TestRun_DrainsChannel(t *testing.T) {
	out := make(chan report.Batch, 16)
	e := testEngine(t, out, 10*time.Millisecond)

	obs := make(chan source.Observation, 3)
	obs <- source.Observation{RawHex: textFrameHex, TS: time.Now().Unix()}
	obs <- source.Observation{RawHex: "junk", TS: time.Now().Unix()}
	close(obs)

	done := make(chan struct{})
	go func() {
		e.Run(context.Background(), obs, 2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
}
