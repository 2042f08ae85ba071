package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"seqcast/internal/signal"
)

func TestReadMatrixSkipsHeaderAndBlankLines(t *testing.T) {
	m, err := ReadMatrix(strings.NewReader("x,y\n1,2\n\n3, 4\n"))
	if err != nil {
		t.Fatalf("read matrix: %v", err)
	}
	r, c := m.Dims()
	if r != 2 || c != 2 {
		t.Fatalf("expected 2x2, got %dx%d", r, c)
	}
	if m.At(1, 1) != 4 {
		t.Fatalf("unexpected value: %v", m.At(1, 1))
	}
}

func TestReadMatrixRejectsBadValues(t *testing.T) {
	if _, err := ReadMatrix(strings.NewReader("1,2\n3,oops\n")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ReadMatrix(strings.NewReader("1,2\n3\n")); !errors.Is(err, signal.ErrRaggedRows) {
		t.Fatalf("expected ragged rows error, got %v", err)
	}
}

func TestMatrixFileChannelMajorRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.csv")
	m := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	if err := WriteMatrixFile(path, m, signal.ChannelMajor); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if got := string(raw); got != "1,3,5\n2,4,6\n" {
		t.Fatalf("unexpected channel-major layout: %q", got)
	}
	back, err := ReadMatrixFile(path, signal.ChannelMajor)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !mat.Equal(m, back) {
		t.Fatalf("round trip mismatch: %v", mat.Formatted(back))
	}
}

func TestSamplesWindows(t *testing.T) {
	m := mat.NewDense(6, 1, []float64{0, 1, 2, 3, 4, 5})
	samples, err := Samples(m, 2, 1, 1)
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(samples))
	}
	last := samples[3]
	if last.X.At(0, 0) != 3 || last.X.At(1, 0) != 4 || last.Y.At(0, 0) != 5 {
		t.Fatalf("unexpected last sample x=%v y=%v", mat.Formatted(last.X), mat.Formatted(last.Y))
	}

	strided, err := Samples(m, 2, 2, 2)
	if err != nil {
		t.Fatalf("strided samples: %v", err)
	}
	if len(strided) != 2 {
		t.Fatalf("expected 2 strided samples, got %d", len(strided))
	}
	if _, err := Samples(m, 4, 3, 1); err == nil {
		t.Fatal("expected error for short matrix")
	}
}

func TestSplitKeepsChronologicalTail(t *testing.T) {
	samples := make([]Sample, 10)
	for i := range samples {
		samples[i] = Sample{X: mat.NewDense(1, 1, []float64{float64(i)})}
	}
	train, val := Split(samples, 0.2)
	if len(train) != 8 || len(val) != 2 {
		t.Fatalf("unexpected split %d/%d", len(train), len(val))
	}
	if val[0].X.At(0, 0) != 8 {
		t.Fatalf("validation should start at sample 8, got %v", val[0].X.At(0, 0))
	}
	train, val = Split(samples[:3], 0.01)
	if len(train) != 2 || len(val) != 1 {
		t.Fatalf("expected at least one validation sample, got %d/%d", len(train), len(val))
	}
}

func TestSplitValidationHoldsOutTail(t *testing.T) {
	train := mat.NewDense(10, 1, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	init := mat.NewDense(2, 1, []float64{100, 101})
	b := Bundle{Dataset: "d", PairID: 8, Train: []*mat.Dense{train}, Init: init, PredictionTimesteps: 50}

	val, err := SplitValidation(b, 4)
	if err != nil {
		t.Fatalf("split validation: %v", err)
	}
	if signal.Len(val.Primary()) != 6 || signal.Len(val.Validation) != 4 {
		t.Fatalf("unexpected split sizes train=%d val=%d", signal.Len(val.Primary()), signal.Len(val.Validation))
	}
	if val.PredictionTimesteps != 4 {
		t.Fatalf("expected validation prediction count 4, got %d", val.PredictionTimesteps)
	}
	if val.Init.At(0, 0) != 6 || val.Init.At(1, 0) != 7 || signal.Len(val.Init) != 2 {
		t.Fatalf("validation init should be the head of the held-out part, got %v", mat.Formatted(val.Init))
	}
	if signal.Len(b.Primary()) != 10 {
		t.Fatal("split validation mutated the input bundle")
	}
	if _, err := SplitValidation(b, 10); err == nil {
		t.Fatal("expected error when holding out every row")
	}
}

func TestDirProviderLoadsGeneratedDataset(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultLorenzConfig()
	cfg.Steps = 120
	manifest, err := GenerateLorenzDataset(root, GenerateOptions{
		Name:                "ODE_Lorenz",
		Lorenz:              cfg,
		PairIDs:             []int{1, 2},
		InitPairIDs:         []int{8},
		InitRows:            5,
		PredictionTimesteps: 40,
		ValidationRows:      30,
		Orientation:         signal.ChannelMajor,
		Seed:                3,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := manifest.PairIDs(); len(got) != 3 || got[2] != 8 {
		t.Fatalf("unexpected pair ids: %v", got)
	}

	provider := NewDirProvider(root)
	names, err := provider.Names()
	if err != nil || len(names) != 1 || names[0] != "ODE_Lorenz" {
		t.Fatalf("unexpected names %v err=%v", names, err)
	}

	ctx := context.Background()
	b, err := provider.Load(ctx, "ODE_Lorenz", 8)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r, c := b.Primary().Dims(); r != 120 || c != 3 {
		t.Fatalf("expected time-major 120x3 train, got %dx%d", r, c)
	}
	if signal.Len(b.Init) != 5 || b.PredictionTimesteps != 40 {
		t.Fatalf("unexpected init=%d prediction=%d", signal.Len(b.Init), b.PredictionTimesteps)
	}
	if b.Primary().At(0, 0) != 1 {
		t.Fatalf("expected trajectory to start at 1, got %v", b.Primary().At(0, 0))
	}

	v, err := provider.LoadValidation(ctx, "ODE_Lorenz", 8)
	if err != nil {
		t.Fatalf("load validation: %v", err)
	}
	if signal.Len(v.Primary()) != 90 || v.PredictionTimesteps != 30 || signal.Len(v.Init) != 5 {
		t.Fatalf("unexpected validation bundle train=%d pred=%d init=%d", signal.Len(v.Primary()), v.PredictionTimesteps, signal.Len(v.Init))
	}

	if _, err := provider.Load(ctx, "ODE_Lorenz", 99); !errors.Is(err, ErrPairNotFound) {
		t.Fatalf("expected pair not found, got %v", err)
	}
	if _, err := provider.Load(ctx, "PDE_KS", 1); !errors.Is(err, ErrDatasetNotFound) {
		t.Fatalf("expected dataset not found, got %v", err)
	}
}

func TestDirProviderExplicitValidationFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "KS_Official")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := WriteMatrixFile(filepath.Join(dir, "train.csv"), mat.NewDense(8, 2, nil), signal.TimeMajor); err != nil {
		t.Fatalf("write train: %v", err)
	}
	if err := WriteMatrixFile(filepath.Join(dir, "val.csv"), mat.NewDense(3, 2, nil), signal.TimeMajor); err != nil {
		t.Fatalf("write val: %v", err)
	}
	err := WriteManifest(dir, Manifest{
		Name:  "KS_Official",
		Pairs: []PairSpec{{ID: 1, Train: []string{"train.csv"}, Validation: "val.csv", PredictionTimesteps: 100}},
	})
	if err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	v, err := NewDirProvider(root).LoadValidation(context.Background(), "KS_Official", 1)
	if err != nil {
		t.Fatalf("load validation: %v", err)
	}
	if v.PredictionTimesteps != 3 || signal.Len(v.Primary()) != 8 {
		t.Fatalf("unexpected validation bundle pred=%d train=%d", v.PredictionTimesteps, signal.Len(v.Primary()))
	}
}

func TestManifestValidate(t *testing.T) {
	cases := []Manifest{
		{},
		{Name: "x", Orientation: "diagonal"},
		{Name: "x", Pairs: []PairSpec{{ID: 1}}},
		{Name: "x", Pairs: []PairSpec{{ID: 1, Train: []string{"a"}}, {ID: 1, Train: []string{"b"}}}},
	}
	for i, m := range cases {
		if err := m.Validate(); !errors.Is(err, ErrInvalidManifest) {
			t.Fatalf("case %d: expected invalid manifest, got %v", i, err)
		}
	}
}

func TestMemoryProviderCopies(t *testing.T) {
	p := NewMemoryProvider()
	train := mat.NewDense(10, 1, nil)
	if err := p.Put(Bundle{Dataset: "d", PairID: 1, Train: []*mat.Dense{train}, PredictionTimesteps: 7}, 3); err != nil {
		t.Fatalf("put: %v", err)
	}
	train.Set(0, 0, 42)

	b, err := p.Load(context.Background(), "d", 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.Primary().At(0, 0) != 0 {
		t.Fatal("provider should copy bundles on put")
	}
	b.Primary().Set(1, 0, 5)

	v, err := p.LoadValidation(context.Background(), "d", 1)
	if err != nil {
		t.Fatalf("load validation: %v", err)
	}
	if v.PredictionTimesteps != 3 || signal.Len(v.Primary()) != 7 || v.Primary().At(1, 0) != 0 {
		t.Fatalf("unexpected validation bundle: pred=%d rows=%d", v.PredictionTimesteps, signal.Len(v.Primary()))
	}
	if _, err := p.Load(context.Background(), "d", 2); !errors.Is(err, ErrPairNotFound) {
		t.Fatalf("expected pair not found, got %v", err)
	}
}

func TestLorenzRejectsBadConfig(t *testing.T) {
	if _, err := Lorenz(LorenzConfig{Steps: 0, Dt: 0.01}); err == nil {
		t.Fatal("expected error")
	}
}
