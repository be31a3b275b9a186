package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/OpenPSG/edf"

	"github.com/emihelj/cybathlon/internal/recording"
)

// Canonical 10-20 labels for small montages; larger ones fall back to
// numbered channels.
var channelLabels = []string{"Fp1", "Fp2", "C3", "C4", "Cz", "P3", "P4", "Oz"}

func main() {
	var (
		out      = flag.String("out", "session.edf", "Output EDF file")
		channels = flag.Int("channels", 8, "Number of EEG channels")
		fs       = flag.Int("fs", 500, "Sampling rate in Hz")
		seconds  = flag.Int("seconds", 120, "Recording length in seconds")
		events   = flag.Int("events", 24, "Number of cue markers")
		seed     = flag.Int64("seed", 42, "Random seed")
	)
	flag.Parse()

	fmt.Printf("Generating synthetic session %s...\n", *out)
	fmt.Printf("  Channels: %d\n", *channels)
	fmt.Printf("  Rate: %d Hz\n", *fs)
	fmt.Printf("  Length: %ds, %d events\n", *seconds, *events)

	rng := rand.New(rand.NewSource(*seed))

	markers := placeMarkers(rng, *fs, *seconds, *events)

	if err := writeEDF(*out, *channels, *fs, *seconds, markers, rng); err != nil {
		log.Fatalf("Failed to write EDF: %v", err)
	}

	sidecar := *out + recording.MarkerSidecarSuffix
	if err := writeSidecar(sidecar, markers); err != nil {
		log.Fatalf("Failed to write marker sidecar: %v", err)
	}

	fmt.Printf("✓ Generated %s and %s\n", *out, sidecar)
}

// placeMarkers spreads the cues evenly, cycling through the four
// classes, starting 5 seconds in so every cue has a full window of
// signal before it. Codes are two digits: class digit then a random
// trailing digit, like the acquisition software emits.
func placeMarkers(rng *rand.Rand, fs, seconds, events int) []recording.Marker {
	markers := make([]recording.Marker, 0, events)
	span := float64(seconds - 10)
	for i := 0; i < events; i++ {
		t := 5 + span*float64(i)/float64(events)
		code := (1+i%4)*10 + rng.Intn(10)
		markers = append(markers, recording.Marker{Sample: int(t * float64(fs)), Code: code})
	}
	return markers
}

func writeEDF(path string, channels, fs, seconds int, markers []recording.Marker, rng *rand.Rand) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	signals := make([]edf.Signal, channels)
	for i := range signals {
		signals[i] = edf.Signal{
			Label:             label(i),
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
		PatientID:          "X",
		RecordingID:        "synthetic motor imagery session",
		StartTime:          time.Now(),
		DataRecordDuration: time.Second,
		SignalCount:        channels,
		Signals:            signals,
	})
	if err != nil {
		return err
	}

	for sec := 0; sec < seconds; sec++ {
		record := make([][]float64, channels)
		for ch := range record {
			record[ch] = make([]float64, fs)
			for k := 0; k < fs; k++ {
				record[ch][k] = sampleValue(sec*fs+k, ch, fs, markers, rng)
			}
		}
		if err := w.WriteRecord(record); err != nil {
			return err
		}
	}

	return w.Close()
}

// sampleValue synthesizes one sample: a quiet 10 Hz background with
// noise, plus a class-dependent burst in the second leading up to each
// marker so the decoders have something to find.
func sampleValue(sample, ch, fs int, markers []recording.Marker, rng *rand.Rand) float64 {
	t := float64(sample) / float64(fs)
	v := 10*math.Sin(2*math.Pi*10*t+float64(ch)) + 4*rng.NormFloat64()

	for _, m := range markers {
		if sample >= m.Sample-fs && sample < m.Sample {
			class := m.Code/10 - 1
			freq := 8 + 2*float64(class)
			v += 25 * math.Sin(2*math.Pi*freq*t+float64(ch))
			break
		}
	}

	if v > 499 {
		v = 499
	} else if v < -499 {
		v = -499
	}
	return v
}

func writeSidecar(path string, markers []recording.Marker) error {
	data, err := json.MarshalIndent(markers, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func label(i int) string {
	if i < len(channelLabels) {
		return channelLabels[i]
	}
	return fmt.Sprintf("Ch%d", i+1)
}
