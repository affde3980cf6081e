package engine

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"

	"github.com/strandbio/spindle/internal/sac"
)

// AgentSnapshot is the compact per-agent record inside a tick snapshot.
type AgentSnapshot struct {
	ID             int     `msgpack:"id"`
	State          string  `msgpack:"state"`
	Tension        float64 `msgpack:"tension"`
	StabilityCount int     `msgpack:"stability"`
	MisattachTicks int     `msgpack:"misattach_ticks"`
}

// TickSnapshot is the full system state after one tick. The msgpack encoding
// of the snapshot stream is what the trace digest is computed over, so any
// divergence in agent state between two runs changes the digest.
type TickSnapshot struct {
	Tick      int             `msgpack:"tick"`
	MCC       float64         `msgpack:"mcc"`
	Committed bool            `msgpack:"committed"`
	Arrested  bool            `msgpack:"arrested"`
	Agents    []AgentSnapshot `msgpack:"agents"`
}

// recorder feeds every tick into a running blake3 digest and, when a logs
// root is configured, mirrors the run to trace.ndjson (telemetry) and
// snapshots.bin (msgpack snapshot stream).
type recorder struct {
	hasher *blake3.Hasher

	ndjson *os.File
	snaps  *os.File
}

func newRecorder(logsRoot string) (*recorder, error) {
	r := &recorder{hasher: blake3.New()}
	if logsRoot == "" {
		return r, nil
	}
	if err := os.MkdirAll(logsRoot, 0o755); err != nil {
		return nil, err
	}
	ndjson, err := os.Create(filepath.Join(logsRoot, "trace.ndjson"))
	if err != nil {
		return nil, err
	}
	snaps, err := os.Create(filepath.Join(logsRoot, "snapshots.bin"))
	if err != nil {
		_ = ndjson.Close()
		return nil, err
	}
	r.ndjson = ndjson
	r.snaps = snaps
	return r, nil
}

func (r *recorder) Record(stats TickStats, agents []*sac.Agent) error {
	snap := TickSnapshot{
		Tick:      stats.Tick,
		MCC:       stats.MCCConcentration,
		Committed: stats.Committed,
		Arrested:  stats.Arrested,
		Agents:    make([]AgentSnapshot, 0, len(agents)),
	}
	for _, a := range agents {
		snap.Agents = append(snap.Agents, AgentSnapshot{
			ID:             a.ID,
			State:          string(a.State),
			Tension:        a.Tension,
			StabilityCount: a.StabilityCount,
			MisattachTicks: a.MisattachTicks,
		})
	}

	b, err := msgpack.Marshal(snap)
	if err != nil {
		return err
	}
	if _, err := r.hasher.Write(b); err != nil {
		return err
	}
	if r.snaps != nil {
		if _, err := r.snaps.Write(b); err != nil {
			return err
		}
	}
	if r.ndjson != nil {
		line, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		if _, err := r.ndjson.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// Digest returns the hex blake3 digest of the snapshot stream so far.
func (r *recorder) Digest() string {
	return hex.EncodeToString(r.hasher.Sum(nil))
}

func (r *recorder) Close() error {
	var firstErr error
	if r.ndjson != nil {
		if err := r.ndjson.Close(); err != nil {
			firstErr = err
		}
		r.ndjson = nil
	}
	if r.snaps != nil {
		if err := r.snaps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.snaps = nil
	}
	return firstErr
}

// ReadSnapshots decodes a snapshots.bin stream back into tick snapshots.
// Used by replay tooling and determinism tests.
func ReadSnapshots(path string) ([]TickSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	dec := msgpack.NewDecoder(f)
	var out []TickSnapshot
	for {
		var snap TickSnapshot
		if err := dec.Decode(&snap); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return out, err
		}
		out = append(out, snap)
	}
	return out, nil
}
