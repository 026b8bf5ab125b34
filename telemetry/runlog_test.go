package telemetry

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sanjibansg/general-perceivers/metrics"
)

func TestRunLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	log, err := OpenRunLog(path)
	if err != nil {
		t.Fatalf("OpenRunLog failed: %v", err)
	}

	records := []metrics.Record{
		{
			"train/step":     metrics.NewScalar(0),
			"train/loss_avg": metrics.NewScalar(2.25),
			"train/loss_class": metrics.NewByClass(map[int]float64{
				0: 1.5,
				1: 3.0,
			}),
		},
		{
			"train/step":     metrics.NewScalar(1),
			"train/loss_avg": metrics.NewScalar(1.75),
		},
	}
	for _, record := range records {
		if err := log.Log(record); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	decoded, err := ReadRunLog(path)
	if err != nil {
		t.Fatalf("ReadRunLog failed: %v", err)
	}
	if !reflect.DeepEqual(decoded, records) {
		t.Errorf("decoded %v, expected %v", decoded, records)
	}
}

func TestRunLogAppendsAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")

	for step := 0; step < 2; step++ {
		log, err := OpenRunLog(path)
		if err != nil {
			t.Fatalf("OpenRunLog failed: %v", err)
		}
		record := metrics.Record{"train/step": metrics.NewScalar(float64(step))}
		if err := log.Log(record); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
		if err := log.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	decoded, err := ReadRunLog(path)
	if err != nil {
		t.Fatalf("ReadRunLog failed: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("decoded %d records, expected 2", len(decoded))
	}
	for step, record := range decoded {
		if record["train/step"].Scalar != float64(step) {
			t.Errorf("record %d has step %v", step, record["train/step"].Scalar)
		}
	}
}

func TestRunLogRunIDs(t *testing.T) {
	dir := t.TempDir()
	first, err := OpenRunLog(filepath.Join(dir, "a.log"))
	if err != nil {
		t.Fatalf("OpenRunLog failed: %v", err)
	}
	defer first.Close()
	second, err := OpenRunLog(filepath.Join(dir, "b.log"))
	if err != nil {
		t.Fatalf("OpenRunLog failed: %v", err)
	}
	defer second.Close()

	if first.RunID() == "" {
		t.Error("empty run ID")
	}
	if first.RunID() == second.RunID() {
		t.Error("two sessions share a run ID")
	}
}

func TestReadRunLogEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	log, err := OpenRunLog(path)
	if err != nil {
		t.Fatalf("OpenRunLog failed: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	decoded, err := ReadRunLog(path)
	if err != nil {
		t.Fatalf("ReadRunLog failed: %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("decoded %d records from an empty log", len(decoded))
	}
}

func TestReadRunLogMissingFile(t *testing.T) {
	if _, err := ReadRunLog(filepath.Join(t.TempDir(), "absent.log")); err == nil {
		t.Error("Expected error for a missing log file")
	}
}
