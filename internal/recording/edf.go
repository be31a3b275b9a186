package recording

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/OpenPSG/edf"
	"gonum.org/v1/gonum/mat"
)

// ErrMultiRate reports an EDF file whose signals carry different
// sample counts per record; mixed-rate sessions are not supported.
var ErrMultiRate = errors.New("edf signals use mixed sampling rates")

// MarkerSidecarSuffix is appended to an EDF path to locate its JSON
// marker list when the markers are not embedded as a signal.
const MarkerSidecarSuffix = ".markers.json"

// edfMeta is the slice of the EDF header the loader needs beyond what
// the signal reader exposes: the record geometry and signal labels.
type edfMeta struct {
	records  int
	duration float64
	labels   []string
	samples  []int
}

// LoadEDF reads an EDF session. Markers come either from an embedded
// stimulus signal (opts.MarkerChannel) or from a JSON sidecar next to
// the file; a missing sidecar means an unannotated session.
func LoadEDF(path string, opts LoadOptions) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open edf: %w", err)
	}
	defer f.Close()

	meta, err := readEDFMeta(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if meta.records < 0 {
		return nil, fmt.Errorf("%s: header reports %d data records, file was never finalized", path, meta.records)
	}
	if meta.records == 0 {
		return nil, fmt.Errorf("%s: file holds no data records", path)
	}
	if meta.duration <= 0 {
		return nil, fmt.Errorf("%s: record duration must be positive, got %g", path, meta.duration)
	}
	for _, n := range meta.samples[1:] {
		if n != meta.samples[0] {
			return nil, fmt.Errorf("%s: %w", path, ErrMultiRate)
		}
	}
	spr := meta.samples[0]
	if spr <= 0 {
		return nil, fmt.Errorf("%s: signals declare %d samples per record", path, spr)
	}
	fs := float64(spr) / meta.duration
	total := meta.records * spr

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind edf: %w", err)
	}
	r, err := edf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("parse edf: %w", err)
	}

	values := mat.NewDense(len(meta.labels), total, nil)
	row := make([]float64, total)
	for i, label := range meta.labels {
		sig, err := r.Signal(i)
		if err != nil {
			return nil, fmt.Errorf("signal %q: %w", label, err)
		}
		n, err := sig.Read(row)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read signal %q: %w", label, err)
		}
		if n != total {
			return nil, fmt.Errorf("signal %q yielded %d of %d samples", label, n, total)
		}
		values.SetRow(i, row)
	}

	labels := meta.labels
	var markers []Marker
	if opts.MarkerChannel != "" {
		values, labels, markers, err = takeMarkerRow(values, labels, opts.MarkerChannel)
		if err != nil {
			return nil, err
		}
	} else {
		markers, err = loadMarkerSidecar(path + MarkerSidecarSuffix)
		if err != nil {
			return nil, err
		}
		// sidecar order is whatever the tooling wrote; replay needs
		// event order
		sort.Slice(markers, func(i, j int) bool { return markers[i].Sample < markers[j].Sample })
	}
	values, labels, err = dropRows(values, labels, opts.DropChannels)
	if err != nil {
		return nil, err
	}

	if opts.SamplingRate > 0 {
		fs = opts.SamplingRate
	}
	rec := &Recording{
		Values:       values,
		Timestamps:   timeline(total, fs),
		SamplingRate: fs,
		Channels:     labels,
		Markers:      markers,
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

// readEDFMeta parses the fixed 256-byte header and the field-major
// signal header block that follows it.
func readEDFMeta(r io.Reader) (*edfMeta, error) {
	fixed := make([]byte, 256)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	records, err := edfInt(fixed[236:244])
	if err != nil {
		return nil, fmt.Errorf("record count: %w", err)
	}
	duration, err := edfFloat(fixed[244:252])
	if err != nil {
		return nil, fmt.Errorf("record duration: %w", err)
	}
	ns, err := edfInt(fixed[252:256])
	if err != nil {
		return nil, fmt.Errorf("signal count: %w", err)
	}
	if ns <= 0 {
		return nil, fmt.Errorf("header declares %d signals", ns)
	}

	block := make([]byte, ns*256)
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, fmt.Errorf("read signal headers: %w", err)
	}
	meta := &edfMeta{records: records, duration: duration}
	for i := 0; i < ns; i++ {
		meta.labels = append(meta.labels, strings.TrimSpace(string(block[i*16:(i+1)*16])))
	}
	// samples-per-record sits after labels, transducers, dimensions,
	// physical and digital ranges and prefiltering notes
	base := ns * 216
	for i := 0; i < ns; i++ {
		n, err := edfInt(block[base+i*8 : base+(i+1)*8])
		if err != nil {
			return nil, fmt.Errorf("samples per record of signal %d: %w", i, err)
		}
		meta.samples = append(meta.samples, n)
	}
	return meta, nil
}

func edfInt(b []byte) (int, error) {
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func edfFloat(b []byte) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
}

// loadMarkerSidecar reads the JSON marker list next to an EDF file.
func loadMarkerSidecar(path string) ([]Marker, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read marker sidecar: %w", err)
	}
	var markers []Marker
	if err := json.Unmarshal(raw, &markers); err != nil {
		return nil, fmt.Errorf("parse marker sidecar: %w", err)
	}
	return markers, nil
}
