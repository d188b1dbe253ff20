package datasets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/shapeworld/archive"
	"github.com/Noofbiz/shapeworld/values"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConfigRegistered(t *testing.T) {
	ds, err := FromConfig("sequence/registered")
	require.NoError(t, err)
	assert.Equal(t, "sequence registered", ds.String())

	_, err = FromConfig("sequence/unknown")
	assert.True(t, errors.Is(err, ErrUnknownDataset), "got %v", err)
	_, err = FromConfig("nonsense")
	assert.Error(t, err)
}

func init() {
	RegisterProviders("shapes", func(spec *Specification) (*Providers, error) {
		return &Providers{
			Generator:   &fakeGenerator{worlds: [][]string{{"square"}, {"circle", "triangle"}, {"triangle"}}},
			Classes:     classesOf,
			Captioner:   &fakeCaptioner{},
			Realizer:    &fakeRealizer{},
			NumClasses:  3,
			Vocabulary:  agreementVocabulary,
			CaptionSize: 5,
		}, nil
	})
}

func TestFromConfigRegisteredTypes(t *testing.T) {
	ds, err := FromConfig("classification/shapes")
	require.NoError(t, err)
	require.IsType(t, &Classification{}, ds)
	batch, err := ds.Generate(3, GenerateOptions{})
	require.NoError(t, err)
	assert.Len(t, values.Get[[]float32](batch, "classification")[0], 3)

	ds, err = FromConfig("agreement/shapes")
	require.NoError(t, err)
	require.IsType(t, &CaptionAgreement{}, ds)
	assert.Equal(t, DefaultCorrectRatio, ds.(*CaptionAgreement).CorrectRatio(ModeTrain))

	_, err = FromConfig("agreement/unknown")
	assert.True(t, errors.Is(err, ErrUnknownDataset), "got %v", err)
	_, err = FromConfig("selection/unknown")
	assert.True(t, errors.Is(err, ErrUnknownDataset), "got %v", err)

	// Options are read from the specification, providers are found by name.
	dir := t.TempDir()
	spec := ds.Specification()
	spec.Name = "renamed"
	spec.Extra[ProvidersField] = "shapes"
	spec.Extra["test_correct_ratio"] = 0.25
	agreementFile := filepath.Join(dir, "agreement.json")
	require.NoError(t, spec.Save(agreementFile))
	ds, err = FromConfig(agreementFile)
	require.NoError(t, err)
	require.IsType(t, &CaptionAgreement{}, ds)
	assert.Equal(t, "agreement renamed", ds.String())
	assert.Equal(t, 0.25, ds.(*CaptionAgreement).CorrectRatio(ModeTest))

	spec.Type = SelectionType
	spec.Extra["num_texts"] = 2
	spec.Extra["multi_shape"] = true
	selectionFile := filepath.Join(dir, "selection.yaml")
	require.NoError(t, spec.Save(selectionFile))
	ds, err = FromConfig(selectionFile)
	require.NoError(t, err)
	require.IsType(t, &TextSelection{}, ds)
	assert.Equal(t, 2, ds.(*TextSelection).NumTexts())
	batch, err = ds.Generate(6, GenerateOptions{Mode: ModeTest})
	require.NoError(t, err)
	for _, texts := range values.Get[[]string](batch, "texts_str") {
		assert.Len(t, texts, 2)
	}
	assert.IsType(t, [][]string{}, values.Get[[][]string](batch, "pred_items")[0])

	spec.Type = ClassificationType
	spec.Extra["multi_class"] = "yes"
	_, err = New(spec)
	assert.ErrorContains(t, err, "must be a boolean")
}

func TestFromConfigLoadAndMix(t *testing.T) {
	root := t.TempDir()
	first := writeParts(t, mustSequenceDataset(t, "first", 0, "a", "b"), filepath.Join(root, "first"), partsLayout{
		Splits: map[Mode]int{ModeTrain: 1}, PartSize: 4,
	})
	second := writeParts(t, mustSequenceDataset(t, "second", 100, "b", "c"), filepath.Join(root, "second"), partsLayout{
		Splits: map[Mode]int{ModeTrain: 1}, PartSize: 4, Archive: archive.Zip,
	})

	ds, err := FromConfig("load(" + first + ")")
	require.NoError(t, err)
	assert.IsType(t, &LoadedDataset{}, ds)

	// A specification file of an unregistered dataset with parts loads them.
	ds, err = FromConfig(filepath.Join(second, "specification.json"))
	require.NoError(t, err)
	assert.IsType(t, &LoadedDataset{}, ds)

	ds, err = FromConfig("mix(load(" + first + "), load(" + second + "))")
	require.NoError(t, err)
	m, ok := ds.(*Mixer)
	require.True(t, ok)
	assert.Equal(t, 2, m.NumSources())
	assert.Equal(t, []string{"", "a", "b", "c", "[UNKNOWN]"}, m.Tables().Vocabularies["language"].Words())

	mixFile := filepath.Join(root, "mix.yaml")
	require.NoError(t, os.WriteFile(mixFile, []byte(`
datasets:
  - load(`+first+`)
  - load(`+second+`)
consistent_batches: true
distribution: [1, 4]
`), 0o644))
	ds, err = FromConfig("mix(" + mixFile + ")")
	require.NoError(t, err)
	m = ds.(*Mixer)
	assert.InDeltaSlice(t, []float64{0.2, 0.8}, m.Distribution(ModeTest).Probabilities(), 1e-12)
	batch, sources, err := m.GenerateWithSources(4, GenerateOptions{Mode: ModeTrain})
	require.NoError(t, err)
	assert.Equal(t, 4, batch.Size())
	assert.Equal(t, []int{sources[0], sources[0], sources[0], sources[0]}, sources)
}

func TestLoadMissingSpecification(t *testing.T) {
	_, err := Load(t.TempDir(), LoadOptions{})
	assert.ErrorContains(t, err, "no specification file")
}

func TestSplitConfigs(t *testing.T) {
	assert.Equal(t, []string{"load(a)", "mix(b,c)", "d/e"}, splitConfigs("load(a), mix(b,c) ,d/e"))
	assert.Equal(t, []string{"x"}, splitConfigs("x"))
}

func TestMixerConfigOptions(t *testing.T) {
	c := &MixerConfig{Distribution: []float64{1, 2}, TestDistribution: []float64{0, 1}}
	opts := c.Options()
	assert.Equal(t, []float64{1, 2}, opts.Weights)
	assert.Equal(t, []float64{0, 1}, opts.ModeWeights[ModeTest])
	assert.Nil(t, opts.ModeWeights[ModeTrain])

	_, err := NewMixer([]Dataset{mustSequenceDataset(t, "a", 0), mustSequenceDataset(t, "b", 0)}, opts)
	assert.Error(t, err, "train and validation distributions are missing")
}
