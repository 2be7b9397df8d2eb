// Package report accumulates resolution and correlation results into
// batches and ships them to an ingest endpoint, spooling to disk when the
// endpoint is unreachable.
package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/meshtrace/pathprobe/internal/logging"
)

// Resolution is one resolved (or unresolvable) hop of one frame's path.
type Resolution struct {
	Identity   string    `json:"identity"`
	NodeID     string    `json:"node_id"`
	HopIndex   int       `json:"hop_index"`
	Repeater   string    `json:"repeater,omitempty"`
	PublicKey  string    `json:"public_key,omitempty"`
	Confidence float64   `json:"confidence"`
	Collision  bool      `json:"collision,omitempty"`
	Candidates int       `json:"candidates"`
	ObservedAt time.Time `json:"observed_at"`
}

// Correlation is the outcome of one correlation window.
type Correlation struct {
	Identity   string    `json:"identity"`
	Paths      []string  `json:"paths"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
	SenderKey  string    `json:"sender,omitempty"`
}

type Batch struct {
	ProbeID      string        `json:"probe_id"`
	RunID        string        `json:"run_id"`
	Resolutions  []Resolution  `json:"resolutions"`
	Correlations []Correlation `json:"correlations"`
}

func (b Batch) empty() bool {
	return len(b.Resolutions)+len(b.Correlations) == 0
}

type Emitter struct {
	ingest     string
	probeID    string
	runID      string
	batchMax   int
	flushEvery time.Duration
	spoolDir   string
	client     *http.Client
	writer     *Writer
	retryMax   time.Duration
	mu         sync.Mutex
	acc        Batch
}

func NewEmitter(ingest, probeID, runID string, batchMax int, flushEvery time.Duration, spoolDir string, writer *Writer, mtlsCert, mtlsKey, mtlsCA string) *Emitter {
	tr := &http.Transport{TLSClientConfig: &tls.Config{}}
	if mtlsCert != "" && mtlsKey != "" {
		cert, err := tls.LoadX509KeyPair(mtlsCert, mtlsKey)
		if err == nil {
			tr.TLSClientConfig.Certificates = []tls.Certificate{cert}
		}
	}
	if mtlsCA != "" {
		if pem, err := os.ReadFile(mtlsCA); err == nil {
			pool := x509.NewCertPool()
			if pool.AppendCertsFromPEM(pem) {
				tr.TLSClientConfig.RootCAs = pool
			}
		}
	}
	_ = os.MkdirAll(spoolDir, 0o755)
	return &Emitter{
		ingest: ingest, probeID: probeID, runID: runID,
		batchMax: batchMax, flushEvery: flushEvery, spoolDir: spoolDir,
		client:   &http.Client{Transport: tr, Timeout: 20 * time.Second},
		writer:   writer,
		retryMax: 30 * time.Second,
		acc:      Batch{ProbeID: probeID, RunID: runID},
	}
}

func (e *Emitter) Run(ctx context.Context, in <-chan Batch, log *logging.Logger) {
	t := time.NewTimer(e.flushEvery)
	for {
		select {
		case b, ok := <-in:
			if !ok {
				return
			}
			e.append(b)
			if e.size() >= e.batchMax {
				e.flush(log)
				if !t.Stop() {
					select {
					case <-t.C:
					default:
					}
				}
				t.Reset(e.flushEvery)
			}
		case <-t.C:
			e.flush(log)
			t.Reset(e.flushEvery)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Emitter) append(b Batch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acc.Resolutions = append(e.acc.Resolutions, b.Resolutions...)
	e.acc.Correlations = append(e.acc.Correlations, b.Correlations...)
}

func (e *Emitter) size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.acc.Resolutions) + len(e.acc.Correlations)
}

func (e *Emitter) flush(log *logging.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acc.empty() {
		return
	}
	if e.ingest == "" {
		if err := e.writer.WriteBatch(e.acc); err != nil {
			log.Warnw("write batch", "err", err)
		}
	} else {
		if err := e.post(e.acc); err != nil {
			log.Warnw("ingest failed, spooling", "err", err)
			e.spool(e.acc, log)
		}
	}
	e.acc = Batch{ProbeID: e.probeID, RunID: e.runID}
}

func (e *Emitter) post(b Batch) error {
	buf := &bytes.Buffer{}
	_ = json.NewEncoder(buf).Encode(b)
	op := func() error {
		req, _ := http.NewRequest("POST", e.ingest, bytes.NewReader(buf.Bytes()))
		req.Header.Set("Content-Type", "application/json")
		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("bad status: %d", resp.StatusCode)
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = e.retryMax
	return backoff.Retry(op, bo)
}

func (e *Emitter) spool(b Batch, log *logging.Logger) {
	name := time.Now().UTC().Format("20060102T150405.000000000") + ".json"
	path := filepath.Join(e.spoolDir, name)
	f, err := os.Create(path)
	if err != nil {
		log.Errorw("spool create", "err", err)
		return
	}
	defer f.Close()
	_ = json.NewEncoder(f).Encode(b)
}

// Drain flushes the accumulator and retries spooled batches.
func (e *Emitter) Drain(log *logging.Logger) {
	e.flush(log)
	entries, _ := os.ReadDir(e.spoolDir)
	for _, ent := range entries {
		p := filepath.Join(e.spoolDir, ent.Name())
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		var b Batch
		if err := json.NewDecoder(f).Decode(&b); err == nil {
			if e.ingest == "" || e.post(b) == nil {
				_ = f.Close()
				_ = os.Remove(p)
				continue
			}
		}
		_ = f.Close()
	}
}
