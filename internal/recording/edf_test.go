package recording

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OpenPSG/edf"
)

// writeEDFFile builds a finalized EDF session with one-second records.
// gen supplies the physical value of each channel/sample pair; values
// survive the int16 digitization within ~0.02 uV at the ±500 range.
func writeEDFFile(t *testing.T, dir string, labels []string, fs, records int, gen func(ch, sample int) float64) string {
	t.Helper()
	path := filepath.Join(dir, "session.edf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	signals := make([]edf.Signal, len(labels))
	for i, l := range labels {
		signals[i] = edf.Signal{
			Label:             l,
			PhysicalDimension: "uV",
			PhysicalMin:       -500,
			PhysicalMax:       500,
			DigitalMin:        -32768,
			DigitalMax:        32767,
			SamplesPerRecord:  fs,
		}
	}
	w, err := edf.Create(f, edf.Header{
		Version:            edf.Version0,
		StartTime:          time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
		DataRecordDuration: time.Second,
		SignalCount:        len(labels),
		Signals:            signals,
	})
	if err != nil {
		t.Fatal(err)
	}
	for rec := 0; rec < records; rec++ {
		chunk := make([][]float64, len(labels))
		for ch := range chunk {
			chunk[ch] = make([]float64, fs)
			for k := range chunk[ch] {
				chunk[ch][k] = gen(ch, rec*fs+k)
			}
		}
		if err := w.WriteRecord(chunk); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func rampValue(ch, sample int) float64 {
	return float64(ch*100) + float64(sample%50)
}

func TestLoadEDF_RoundTrip(t *testing.T) {
	t.Parallel()

	path := writeEDFFile(t, t.TempDir(), []string{"C3", "C4"}, 100, 2, rampValue)
	rec, err := LoadEDF(path, LoadOptions{})
	if err != nil {
		t.Fatalf("LoadEDF failed: %v", err)
	}

	if rec.SamplingRate != 100 {
		t.Errorf("SamplingRate = %g, want 100", rec.SamplingRate)
	}
	if rec.NumSamples() != 200 {
		t.Errorf("NumSamples() = %d, want 200", rec.NumSamples())
	}
	if len(rec.Channels) != 2 || rec.Channels[0] != "C3" || rec.Channels[1] != "C4" {
		t.Errorf("channels = %v, want [C3 C4]", rec.Channels)
	}
	for _, s := range []int{0, 49, 150, 199} {
		for ch := 0; ch < 2; ch++ {
			want := rampValue(ch, s)
			if got := rec.Values.At(ch, s); math.Abs(got-want) > 0.05 {
				t.Errorf("value[%d,%d] = %g, want %g within digitization error", ch, s, got, want)
			}
		}
	}
	if rec.Timestamps[100] != 1 {
		t.Errorf("timestamp 100 = %g, want 1", rec.Timestamps[100])
	}
	if len(rec.Markers) != 0 {
		t.Errorf("markers = %v, want none without a sidecar", rec.Markers)
	}
}

func TestLoadEDF_MarkerSidecar(t *testing.T) {
	t.Parallel()

	path := writeEDFFile(t, t.TempDir(), []string{"C3", "C4"}, 100, 2, rampValue)
	sidecar := `[{"sample":50,"code":21},{"sample":150,"code":32}]`
	if err := os.WriteFile(path+MarkerSidecarSuffix, []byte(sidecar), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, err := LoadEDF(path, LoadOptions{})
	if err != nil {
		t.Fatalf("LoadEDF failed: %v", err)
	}
	want := []Marker{{Sample: 50, Code: 21}, {Sample: 150, Code: 32}}
	if len(rec.Markers) != len(want) {
		t.Fatalf("markers = %v, want %v", rec.Markers, want)
	}
	for i := range want {
		if rec.Markers[i] != want[i] {
			t.Errorf("marker %d = %+v, want %+v", i, rec.Markers[i], want[i])
		}
	}
}

func TestLoadEDF_SidecarErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeEDFFile(t, dir, []string{"C3", "C4"}, 100, 2, rampValue)

	if err := os.WriteFile(path+MarkerSidecarSuffix, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadEDF(path, LoadOptions{}); err == nil || !strings.Contains(err.Error(), "sidecar") {
		t.Errorf("malformed sidecar gave %v, want a parse error", err)
	}

	// a marker past the last sample must fail validation
	if err := os.WriteFile(path+MarkerSidecarSuffix, []byte(`[{"sample":1000,"code":21}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadEDF(path, LoadOptions{}); err == nil || !strings.Contains(err.Error(), "outside") {
		t.Errorf("out-of-range marker gave %v, want a validation error", err)
	}
}

func TestLoadEDF_EmbeddedMarkerChannel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	gen := func(ch, sample int) float64 {
		if ch == 2 {
			if sample >= 120 && sample < 140 {
				return 21
			}
			return 0
		}
		return rampValue(ch, sample)
	}
	path := writeEDFFile(t, dir, []string{"C3", "C4", "STI"}, 100, 2, gen)
	// a sidecar that must be ignored once the embedded channel is used
	if err := os.WriteFile(path+MarkerSidecarSuffix, []byte(`[{"sample":10,"code":99}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, err := LoadEDF(path, LoadOptions{MarkerChannel: "STI"})
	if err != nil {
		t.Fatalf("LoadEDF failed: %v", err)
	}
	if len(rec.Channels) != 2 || rec.Channels[0] != "C3" || rec.Channels[1] != "C4" {
		t.Errorf("channels = %v, want [C3 C4] after marker extraction", rec.Channels)
	}
	if len(rec.Markers) != 1 || rec.Markers[0] != (Marker{Sample: 120, Code: 21}) {
		t.Errorf("markers = %v, want code 21 at sample 120", rec.Markers)
	}
}

func TestLoadEDF_Options(t *testing.T) {
	t.Parallel()

	path := writeEDFFile(t, t.TempDir(), []string{"C3", "C4"}, 100, 1, rampValue)

	rec, err := LoadEDF(path, LoadOptions{DropChannels: []string{"c3"}})
	if err != nil {
		t.Fatalf("LoadEDF failed: %v", err)
	}
	if len(rec.Channels) != 1 || rec.Channels[0] != "C4" {
		t.Errorf("channels = %v, want [C4]", rec.Channels)
	}

	rec, err = LoadEDF(path, LoadOptions{SamplingRate: 200})
	if err != nil {
		t.Fatalf("LoadEDF failed: %v", err)
	}
	if rec.SamplingRate != 200 {
		t.Errorf("SamplingRate = %g, want the 200 override", rec.SamplingRate)
	}
	if rec.Timestamps[1] != 0.005 {
		t.Errorf("timestamp 1 = %g, want 0.005 under the override", rec.Timestamps[1])
	}
}

func TestLoadEDF_MixedRates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "mixed.edf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w, err := edf.Create(f, edf.Header{
		Version:            edf.Version0,
		StartTime:          time.Now(),
		DataRecordDuration: time.Second,
		SignalCount:        2,
		Signals: []edf.Signal{
			{Label: "C3", PhysicalMin: -500, PhysicalMax: 500, DigitalMin: -32768, DigitalMax: 32767, SamplesPerRecord: 100},
			{Label: "Pulse", PhysicalMin: -500, PhysicalMax: 500, DigitalMin: -32768, DigitalMax: 32767, SamplesPerRecord: 50},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRecord([][]float64{make([]float64, 100), make([]float64, 50)}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadEDF(path, LoadOptions{}); !errors.Is(err, ErrMultiRate) {
		t.Errorf("LoadEDF gave %v, want ErrMultiRate", err)
	}
}

func TestLoadEDF_UnfinalizedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "partial.edf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := edf.Create(f, edf.Header{
		Version:            edf.Version0,
		StartTime:          time.Now(),
		DataRecordDuration: time.Second,
		SignalCount:        1,
		Signals: []edf.Signal{
			{Label: "C3", PhysicalMin: -500, PhysicalMax: 500, DigitalMin: -32768, DigitalMax: 32767, SamplesPerRecord: 100},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRecord([][]float64{make([]float64, 100)}); err != nil {
		t.Fatal(err)
	}
	// close the file handle without finalizing the writer: the header
	// keeps its provisional -1 record count
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadEDF(path, LoadOptions{}); err == nil || !strings.Contains(err.Error(), "never finalized") {
		t.Errorf("unfinalized file gave %v, want a finalization error", err)
	}
}

func TestLoadEDF_NoRecords(t *testing.T) {
	t.Parallel()

	path := writeEDFFile(t, t.TempDir(), []string{"C3"}, 100, 0, rampValue)
	if _, err := LoadEDF(path, LoadOptions{}); err == nil || !strings.Contains(err.Error(), "no data records") {
		t.Errorf("empty file gave %v, want a no-records error", err)
	}
}

func TestLoadEDF_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadEDF(filepath.Join(t.TempDir(), "absent.edf"), LoadOptions{}); err == nil {
		t.Error("missing file should fail to load")
	}
}
