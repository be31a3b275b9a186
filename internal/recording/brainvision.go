package recording

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// BrainVision Core 1.0 section names, lowercased for lookup.
const (
	bvSectionCommon   = "common infos"
	bvSectionBinary   = "binary infos"
	bvSectionChannels = "channel infos"
)

type bvHeader struct {
	dataFile     string
	markerFile   string
	channelCount int
	samplingRate float64
	dataFormat   string
	orientation  string
	binaryFormat string
	labels       []string
	resolutions  []float64
}

// LoadBrainVision reads a BrainVision triplet starting from the .vhdr
// header: the header names the .eeg data file and the .vmrk marker
// file, both resolved relative to the header's directory.
func LoadBrainVision(path string, opts LoadOptions) (*Recording, error) {
	hdr, err := parseVHDR(path)
	if err != nil {
		return nil, err
	}

	dataPath := filepath.Join(filepath.Dir(path), hdr.dataFile)
	values, err := readBVData(dataPath, hdr)
	if err != nil {
		return nil, err
	}
	_, samples := values.Dims()

	var markers []Marker
	if hdr.markerFile != "" {
		markerPath := filepath.Join(filepath.Dir(path), hdr.markerFile)
		markers, err = parseVMRK(markerPath, samples)
		if err != nil {
			return nil, err
		}
	}

	labels := hdr.labels
	if opts.MarkerChannel != "" {
		var embedded []Marker
		values, labels, embedded, err = takeMarkerRow(values, labels, opts.MarkerChannel)
		if err != nil {
			return nil, err
		}
		markers = append(markers, embedded...)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].Sample < markers[j].Sample })
	values, labels, err = dropRows(values, labels, opts.DropChannels)
	if err != nil {
		return nil, err
	}

	fs := hdr.samplingRate
	if opts.SamplingRate > 0 {
		fs = opts.SamplingRate
	}
	rec := &Recording{
		Values:       values,
		Timestamps:   timeline(samples, fs),
		SamplingRate: fs,
		Channels:     labels,
		Markers:      markers,
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

func parseVHDR(path string) (*bvHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open header: %w", err)
	}
	defer f.Close()

	hdr := &bvHeader{dataFormat: "BINARY", orientation: "MULTIPLEXED"}
	type chInfo struct {
		idx   int
		label string
		res   float64
	}
	var channels []chInfo

	section := ""
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch section {
		case bvSectionCommon:
			switch strings.ToLower(key) {
			case "datafile":
				hdr.dataFile = value
			case "markerfile":
				hdr.markerFile = value
			case "numberofchannels":
				hdr.channelCount, err = strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("channel count %q: %w", value, err)
				}
			case "samplinginterval":
				us, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return nil, fmt.Errorf("sampling interval %q: %w", value, err)
				}
				if us <= 0 {
					return nil, fmt.Errorf("sampling interval must be positive, got %g", us)
				}
				hdr.samplingRate = 1e6 / us // interval is in microseconds
			case "dataformat":
				hdr.dataFormat = strings.ToUpper(value)
			case "dataorientation":
				hdr.orientation = strings.ToUpper(value)
			}
		case bvSectionBinary:
			if strings.EqualFold(key, "binaryformat") {
				hdr.binaryFormat = strings.ToUpper(value)
			}
		case bvSectionChannels:
			low := strings.ToLower(key)
			if !strings.HasPrefix(low, "ch") {
				continue
			}
			idx, err := strconv.Atoi(low[2:])
			if err != nil {
				continue
			}
			parts := strings.Split(value, ",")
			info := chInfo{idx: idx, label: strings.TrimSpace(parts[0]), res: 1}
			if len(parts) >= 3 {
				if r := strings.TrimSpace(parts[2]); r != "" {
					if v, err := strconv.ParseFloat(r, 64); err == nil {
						info.res = v
					}
				}
			}
			channels = append(channels, info)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	if hdr.dataFile == "" {
		return nil, fmt.Errorf("header names no data file")
	}
	if hdr.channelCount <= 0 {
		return nil, fmt.Errorf("header declares %d channels", hdr.channelCount)
	}
	if hdr.samplingRate <= 0 {
		return nil, fmt.Errorf("header declares no sampling interval")
	}
	if hdr.dataFormat != "BINARY" {
		return nil, fmt.Errorf("unsupported data format %q", hdr.dataFormat)
	}
	if hdr.orientation != "MULTIPLEXED" {
		return nil, fmt.Errorf("unsupported data orientation %q", hdr.orientation)
	}

	hdr.labels = make([]string, hdr.channelCount)
	hdr.resolutions = make([]float64, hdr.channelCount)
	for i := range hdr.resolutions {
		hdr.labels[i] = fmt.Sprintf("Ch%d", i+1)
		hdr.resolutions[i] = 1
	}
	for _, c := range channels {
		if c.idx < 1 || c.idx > hdr.channelCount {
			return nil, fmt.Errorf("channel entry Ch%d outside declared count %d", c.idx, hdr.channelCount)
		}
		hdr.labels[c.idx-1] = c.label
		hdr.resolutions[c.idx-1] = c.res
	}
	return hdr, nil
}

// readBVData decodes the multiplexed sample frames of a .eeg file,
// applying each channel's resolution to get physical units.
func readBVData(path string, hdr *bvHeader) (*mat.Dense, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}

	var bytesPer int
	switch hdr.binaryFormat {
	case "IEEE_FLOAT_32":
		bytesPer = 4
	case "INT_16":
		bytesPer = 2
	default:
		return nil, fmt.Errorf("unsupported binary format %q", hdr.binaryFormat)
	}
	frame := hdr.channelCount * bytesPer
	if len(raw) == 0 || len(raw)%frame != 0 {
		return nil, fmt.Errorf("data file size %d is not a whole number of %d-byte frames", len(raw), frame)
	}
	samples := len(raw) / frame

	values := mat.NewDense(hdr.channelCount, samples, nil)
	for s := 0; s < samples; s++ {
		base := s * frame
		for ch := 0; ch < hdr.channelCount; ch++ {
			off := base + ch*bytesPer
			var v float64
			switch hdr.binaryFormat {
			case "IEEE_FLOAT_32":
				v = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[off:])))
			case "INT_16":
				v = float64(int16(binary.LittleEndian.Uint16(raw[off:])))
			}
			values.Set(ch, s, v*hdr.resolutions[ch])
		}
	}
	return values, nil
}

// parseVMRK keeps the Stimulus markers of a .vmrk file. Positions are
// 1-based in the format and shifted to 0-based sample indices here.
func parseVMRK(path string, samples int) ([]Marker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open marker file: %w", err)
	}
	defer f.Close()

	var markers []Marker
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(strings.ToLower(line), "mk") {
			continue
		}
		_, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		parts := strings.Split(value, ",")
		if len(parts) < 3 {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(parts[0]), "Stimulus") {
			continue
		}
		code, ok := parseStimulusCode(parts[1])
		if !ok {
			continue
		}
		pos, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || pos < 1 || pos > samples {
			continue
		}
		markers = append(markers, Marker{Sample: pos - 1, Code: code})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read marker file: %w", err)
	}
	return markers, nil
}

// parseStimulusCode turns descriptions like "S 12" or "S12" into 12.
func parseStimulusCode(desc string) (int, bool) {
	desc = strings.TrimSpace(desc)
	if len(desc) > 0 && (desc[0] == 'S' || desc[0] == 's') {
		desc = strings.TrimSpace(desc[1:])
	}
	code, err := strconv.Atoi(desc)
	if err != nil {
		return 0, false
	}
	return code, true
}
