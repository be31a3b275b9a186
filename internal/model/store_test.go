package model

import (
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/openfluke/loom/nn"
	"gonum.org/v1/gonum/mat"

	"github.com/emihelj/cybathlon/internal/epoch"
)

// contrastCrop builds a two-channel crop with a strong wave on one
// channel and a faint orthogonal wave on the other, so variance-based
// features point clearly at the strong channel.
func contrastCrop(strong int) epoch.Crop {
	const n = 32
	data := make([]float64, 2*n)
	for s := 0; s < n; s++ {
		hi := 1.0
		if s%2 == 1 {
			hi = -1
		}
		lo := 0.001
		if (s/2)%2 == 1 {
			lo = -0.001
		}
		if strong == 0 {
			data[s], data[n+s] = hi, lo
		} else {
			data[s], data[n+s] = lo, hi
		}
	}
	return epoch.Crop{Values: mat.NewDense(2, n, data)}
}

// contrastSVC separates on the first feature minus the last: the
// decision is positive when the first channel carries the energy.
func contrastSVC(dim int) SVCArtifact {
	pos := make([]float64, dim)
	neg := make([]float64, dim)
	pos[0], pos[dim-1] = 0.5, -0.5
	neg[0], neg[dim-1] = -0.5, 0.5
	return SVCArtifact{
		Kernel:         "linear",
		Classes:        []int{0, 1},
		SupportVectors: [][]float64{pos, neg},
		SupportCounts:  []int{1, 1},
		DualCoefs:      [][]float64{{1, -1}},
		Intercepts:     []float64{0},
	}
}

func identityFilters() [][]float64 {
	return [][]float64{{1, 0}, {0, 1}}
}

func TestStore_ClassicalRoundTrips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind Kind
		art  ClassicalArtifact
	}{
		{
			name: "motor-csp",
			kind: KindCSP,
			art: ClassicalArtifact{
				Kind: "csp",
				CSP:  &CSPArtifact{Filters: identityFilters()},
				SVC:  contrastSVC(2),
			},
		},
		{
			name: "motor-fbcsp",
			kind: KindFBCSP,
			art: ClassicalArtifact{
				Kind: "fbcsp",
				FBCSP: &FBCSPArtifact{
					Bands:        [][2]float64{{0, 32}},
					Pairs:        1,
					Filters:      [][][]float64{identityFilters()},
					SamplingRate: 64,
				},
				SVC: contrastSVC(2),
			},
		},
		{
			name: "motor-riemann",
			kind: KindRiemann,
			art: ClassicalArtifact{
				Kind:    "riemann",
				Riemann: &RiemannArtifact{Whitener: identityFilters()},
				SVC:     contrastSVC(3),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			file := tt.name + ".gob"
			if err := tt.art.WriteFile(filepath.Join(dir, file)); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}

			h, err := NewStore(dir, 2).Load(file)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if h.Name() != tt.name {
				t.Errorf("Name = %q, want %q", h.Name(), tt.name)
			}
			if h.Kind() != tt.kind {
				t.Errorf("Kind = %v, want %v", h.Kind(), tt.kind)
			}

			lp, ok := h.(LabelPredictor)
			if !ok {
				t.Fatalf("classical handle %T does not predict labels", h)
			}
			labels, err := lp.PredictLabels([]epoch.Crop{contrastCrop(0), contrastCrop(1)})
			if err != nil {
				t.Fatalf("PredictLabels failed: %v", err)
			}
			if want := []int{0, 1}; !reflect.DeepEqual(labels, want) {
				t.Errorf("labels = %v, want %v", labels, want)
			}
		})
	}
}

func TestStore_ConvNetRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	net := nn.NewNetwork(64, 1, 1, 1)
	net.BatchSize = 1
	net.SetLayer(0, 0, 0, nn.InitDenseLayer(64, 2, nn.ActivationSigmoid))
	net.InitializeWeights()
	if err := net.SaveModel(filepath.Join(dir, "tiny-net.json"), "tiny-net"); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	h, err := NewStore(dir, 2).Load("tiny-net.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if h.Name() != "tiny-net" {
		t.Errorf("Name = %q, want tiny-net", h.Name())
	}
	if !h.Kind().Neural() {
		t.Errorf("Kind = %v, want a neural family", h.Kind())
	}

	pp, ok := h.(ProbaPredictor)
	if !ok {
		t.Fatalf("neural handle %T does not predict probabilities", h)
	}
	proba, err := pp.PredictProba([]epoch.Crop{contrastCrop(0)})
	if err != nil {
		t.Fatalf("PredictProba failed: %v", err)
	}
	r, c := proba.Dims()
	if r != 1 || c != 2 {
		t.Fatalf("proba is %dx%d, want 1x2", r, c)
	}
	for j := 0; j < 2; j++ {
		if v := proba.At(0, j); math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("score %d = %g, want finite", j, v)
		}
	}
}

func TestStore_LoadErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "corrupt.gob"), []byte("not a gob"), 0o644); err != nil {
		t.Fatal(err)
	}
	write := func(name string, art ClassicalArtifact) {
		t.Helper()
		if err := art.WriteFile(filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}
	write("unknown-kind.gob", ClassicalArtifact{Kind: "lda", SVC: contrastSVC(2)})
	write("missing-params.gob", ClassicalArtifact{Kind: "csp", SVC: contrastSVC(2)})
	write("neural-kind.gob", ClassicalArtifact{Kind: "convnet", SVC: contrastSVC(2)})

	s := NewStore(dir, 2)
	tests := []struct {
		ref  string
		want string
	}{
		{"notes.txt", "unsupported artifact extension"},
		{"absent.gob", "open artifact"},
		{"corrupt.gob", "decode artifact"},
		{"unknown-kind.gob", "unknown model kind"},
		{"missing-params.gob", "missing csp parameters"},
		{"neural-kind.gob", "classical container"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			_, err := s.Load(tt.ref)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load(%q) = %v, want error containing %q", tt.ref, err, tt.want)
			}
		})
	}
}

func TestStore_ResolvesAbsolutePaths(t *testing.T) {
	t.Parallel()

	elsewhere := t.TempDir()
	art := ClassicalArtifact{
		Kind: "csp",
		CSP:  &CSPArtifact{Filters: identityFilters()},
		SVC:  contrastSVC(2),
	}
	path := filepath.Join(elsewhere, "side-loaded.gob")
	if err := art.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	h, err := NewStore(t.TempDir(), 2).Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if h.Name() != "side-loaded" {
		t.Errorf("Name = %q, want side-loaded", h.Name())
	}
}

func TestStore_LoadEnsemble(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	art := ClassicalArtifact{
		Kind: "csp",
		CSP:  &CSPArtifact{Filters: identityFilters()},
		SVC:  contrastSVC(2),
	}
	for _, name := range []string{"member-a.gob", "member-b.gob"} {
		if err := art.WriteFile(filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}
	net := nn.NewNetwork(64, 1, 1, 1)
	net.BatchSize = 1
	net.SetLayer(0, 0, 0, nn.InitDenseLayer(64, 2, nn.ActivationSigmoid))
	net.InitializeWeights()
	if err := net.SaveModel(filepath.Join(dir, "member-net.json"), "member-net"); err != nil {
		t.Fatal(err)
	}

	s := NewStore(dir, 2)

	if _, err := s.LoadEnsemble(nil); err == nil {
		t.Error("an empty member list should fail")
	}

	handles, err := s.LoadEnsemble([]string{"member-a.gob", "member-b.gob"})
	if err != nil {
		t.Fatalf("LoadEnsemble failed: %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("got %d handles, want 2", len(handles))
	}

	_, err = s.LoadEnsemble([]string{"member-a.gob", "member-net.json"})
	if err == nil || !strings.Contains(err.Error(), "mixes neural and classical") {
		t.Errorf("mixed ensemble = %v, want a family mix error", err)
	}
}

func TestStore_DownloadsAndCaches(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	art := ClassicalArtifact{
		Kind: "csp",
		CSP:  &CSPArtifact{Filters: identityFilters()},
		SVC:  contrastSVC(2),
	}
	if err := art.WriteFile(filepath.Join(src, "remote-csp.gob")); err != nil {
		t.Fatal(err)
	}
	payload, err := os.ReadFile(filepath.Join(src, "remote-csp.gob"))
	if err != nil {
		t.Fatal(err)
	}

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing-csp.gob") {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&hits, 1)
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	s := NewStore(dir, 2)

	h, err := s.Load(srv.URL + "/remote-csp.gob")
	if err != nil {
		t.Fatalf("Load over http failed: %v", err)
	}
	if h.Name() != "remote-csp" {
		t.Errorf("Name = %q, want remote-csp", h.Name())
	}
	if _, err := os.Stat(filepath.Join(dir, "remote-csp.gob")); err != nil {
		t.Errorf("downloaded artifact not in store dir: %v", err)
	}

	if _, err := s.Load(srv.URL + "/remote-csp.gob"); err != nil {
		t.Fatalf("cached Load failed: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("server hit %d times, want 1 with the cache warm", n)
	}

	if _, err := s.Load(srv.URL + "/missing-csp.gob"); err == nil {
		t.Error("a 404 download should fail")
	}
}
