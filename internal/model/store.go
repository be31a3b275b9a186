package model

import (
	"encoding/gob"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/openfluke/loom/nn"
	"github.com/rs/zerolog/log"
)

// Artifact extensions the store dispatches on: loom networks ship as
// JSON, classical pipelines as gob.
const (
	extConvNet   = ".json"
	extClassical = ".gob"
)

const downloadTimeout = 30 * time.Second

// ClassicalArtifact is the on-disk form of a fitted classical decoder.
// Exactly one of the extractor sections matches Kind.
type ClassicalArtifact struct {
	Kind    string
	CSP     *CSPArtifact
	FBCSP   *FBCSPArtifact
	Riemann *RiemannArtifact
	SVC     SVCArtifact
}

// CSPArtifact holds fitted spatial filters, one row per filter.
type CSPArtifact struct {
	Filters [][]float64
}

// FBCSPArtifact holds per-band filters plus the selected feature
// indices.
type FBCSPArtifact struct {
	Bands         [][2]float64
	Pairs         int
	Filters       [][][]float64
	Selected      []int
	RegularizeCov bool
	SamplingRate  float64
}

// RiemannArtifact holds the fitted reference whitening transform.
type RiemannArtifact struct {
	Whitener [][]float64
}

// SVCArtifact mirrors the SVC fields produced by the offline trainer.
type SVCArtifact struct {
	Kernel         string
	Gamma          float64
	Coef0          float64
	Degree         int
	Classes        []int
	SupportVectors [][]float64
	SupportCounts  []int
	DualCoefs      [][]float64
	Intercepts     []float64
}

// WriteFile encodes the artifact in the format Load expects.
func (a ClassicalArtifact) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(a); err != nil {
		f.Close()
		return fmt.Errorf("encode artifact: %w", err)
	}
	return f.Close()
}

// Store resolves model references to loaded decoders. A reference is a
// file name under the store directory, an absolute path, or an http(s)
// URL that is downloaded into the store once and reused.
type Store struct {
	dir     string
	classes int
	client  *resty.Client
}

// NewStore builds a store rooted at dir for decoders emitting the
// given number of classes.
func NewStore(dir string, classes int) *Store {
	return &Store{
		dir:     dir,
		classes: classes,
		client:  resty.New().SetTimeout(downloadTimeout),
	}
}

// Load resolves one reference and builds the matching decoder handle.
func (s *Store) Load(ref string) (Handle, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case extConvNet:
		return s.loadConvNet(path)
	case extClassical:
		return s.loadClassical(path)
	default:
		return nil, fmt.Errorf("model %q: unsupported artifact extension %q", ref, filepath.Ext(path))
	}
}

// LoadEnsemble loads every named member and rejects mixed families,
// since probability rows and hard labels cannot be fused together.
func (s *Store) LoadEnsemble(refs []string) ([]Handle, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("ensemble has no members")
	}
	handles := make([]Handle, 0, len(refs))
	for _, ref := range refs {
		h, err := s.Load(ref)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	neural := handles[0].Kind().Neural()
	for _, h := range handles[1:] {
		if h.Kind().Neural() != neural {
			return nil, fmt.Errorf("ensemble mixes neural and classical members")
		}
	}
	return handles, nil
}

func (s *Store) resolve(ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return s.download(ref)
	}
	if filepath.IsAbs(ref) {
		return ref, nil
	}
	return filepath.Join(s.dir, ref), nil
}

// download fetches a remote artifact into the store directory; an
// already-present copy is reused without touching the network.
func (s *Store) download(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("model url %q: %w", ref, err)
	}
	name := filepath.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("model url %q has no file name", ref)
	}
	local := filepath.Join(s.dir, name)
	if _, err := os.Stat(local); err == nil {
		log.Debug().Str("model", name).Msg("using cached artifact")
		return local, nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	resp, err := s.client.R().SetOutput(local).Get(ref)
	if err != nil {
		return "", fmt.Errorf("download model %q: %w", ref, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("download model %q: status %s", ref, resp.Status())
	}
	log.Info().Str("url", ref).Str("into", local).Msg("model artifact downloaded")
	return local, nil
}

// loadConvNet reads a loom network saved under the file's base name.
func (s *Store) loadConvNet(path string) (Handle, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	net, err := nn.LoadModel(path, name)
	if err != nil {
		return nil, fmt.Errorf("load convnet %q: %w", name, err)
	}
	return NewConvNet(name, s.classes, loomForwarder{net: net})
}

func (s *Store) loadClassical(path string) (Handle, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact %q: %w", name, err)
	}
	defer f.Close()
	var art ClassicalArtifact
	if err := gob.NewDecoder(f).Decode(&art); err != nil {
		return nil, fmt.Errorf("decode artifact %q: %w", name, err)
	}
	return buildClassical(name, art)
}

// buildClassical wires a decoded artifact back into a runnable
// pipeline.
func buildClassical(name string, art ClassicalArtifact) (*Pipeline, error) {
	kind, err := ParseKind(art.Kind)
	if err != nil {
		return nil, fmt.Errorf("artifact %q: %w", name, err)
	}

	var feat FeatureExtractor
	switch kind {
	case KindCSP:
		if art.CSP == nil {
			return nil, fmt.Errorf("artifact %q is missing csp parameters", name)
		}
		csp := NewCSP(0)
		if err := csp.SetFilters(art.CSP.Filters); err != nil {
			return nil, fmt.Errorf("artifact %q: %w", name, err)
		}
		feat = csp
	case KindFBCSP:
		if art.FBCSP == nil {
			return nil, fmt.Errorf("artifact %q is missing fbcsp parameters", name)
		}
		fb := NewFBCSP(art.FBCSP.SamplingRate, art.FBCSP.Pairs, 0, art.FBCSP.RegularizeCov)
		if err := fb.restore(art.FBCSP); err != nil {
			return nil, fmt.Errorf("artifact %q: %w", name, err)
		}
		feat = fb
	case KindRiemann:
		if art.Riemann == nil {
			return nil, fmt.Errorf("artifact %q is missing riemann parameters", name)
		}
		rm := NewRiemann()
		if err := rm.SetWhitener(art.Riemann.Whitener); err != nil {
			return nil, fmt.Errorf("artifact %q: %w", name, err)
		}
		feat = rm
	default:
		return nil, fmt.Errorf("artifact %q declares neural kind %q in a classical container", name, art.Kind)
	}

	svc := &SVC{
		Kernel:         art.SVC.Kernel,
		Gamma:          art.SVC.Gamma,
		Coef0:          art.SVC.Coef0,
		Degree:         art.SVC.Degree,
		Classes:        art.SVC.Classes,
		SupportVectors: art.SVC.SupportVectors,
		SupportCounts:  art.SVC.SupportCounts,
		DualCoefs:      art.SVC.DualCoefs,
		Intercepts:     art.SVC.Intercepts,
	}
	return NewPipeline(name, kind, feat, svc)
}
