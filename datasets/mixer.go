package datasets

import (
	"maps"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"

	"github.com/Noofbiz/shapeworld/values"
	"github.com/Noofbiz/shapeworld/vocab"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrSchemaMismatch is returned when datasets combined by a Mixer are not
// structurally compatible.
var ErrSchemaMismatch = errors.New("mixed datasets differ")

// MixerName is the name of the datasets created by NewMixer.
const MixerName = "mixer"

// MixerOptions configures a Mixer.
type MixerOptions struct {
	// ConsistentBatches draws each whole batch from a single dataset, instead
	// of drawing a dataset per instance.
	ConsistentBatches bool

	// Weights are the relative probabilities of the datasets. Defaults to
	// uniform.
	Weights []float64

	// ModeWeights overrides Weights per mode. If set, it must have an entry
	// for each of train, validation and test.
	ModeWeights map[Mode][]float64

	// Rand is the source of randomness. Defaults to a randomly seeded one.
	Rand *rand.Rand
}

// Mixer composes datasets of the same type and schema into one.
//
// At construction the datasets are switched to shared tables holding, for
// each vector value, the largest length among them and, for each vocabulary,
// the sorted union of their words. Their batches are then interchangeable.
type Mixer struct {
	*Base

	datasets      []Dataset
	consistent    bool
	distributions map[Mode]*Distribution

	mu  sync.Mutex
	rng *rand.Rand
}

var _ Dataset = (*Mixer)(nil)

// NewMixer creates a Mixer over datasets. Each dataset can only be part of
// one Mixer, and Mixers cannot be nested.
func NewMixer(datasets []Dataset, opts MixerOptions) (*Mixer, error) {
	if len(datasets) == 0 {
		return nil, errors.New("mixer needs at least one dataset")
	}
	if err := checkCompatible(datasets); err != nil {
		return nil, err
	}

	tables := unionTables(datasets)
	spec := datasets[0].Specification()
	spec.Name = MixerName
	spec.Directory, spec.Archive, spec.NumConcatImages, spec.Extra = "", "", 0, nil
	spec.Vectors = tables.Vectors
	spec.Vocabularies = make(map[string][]string, len(tables.Vocabularies))
	for name, v := range tables.Vocabularies {
		spec.Vocabularies[name] = v.Words()
	}
	base, err := NewBase(spec)
	if err != nil {
		return nil, err
	}
	base.tables = tables
	// All children must accept the tables before any of them is switched.
	for i, ds := range datasets {
		if ds.Shared() {
			return nil, errors.Errorf("dataset %d (%s) already uses shared tables", i, ds)
		}
		for j := range i {
			if datasets[j] == ds {
				return nil, errors.Errorf("dataset %d (%s) is given twice", i, ds)
			}
		}
	}
	for _, ds := range datasets {
		if err = ds.Share(tables); err != nil {
			return nil, err
		}
	}

	m := &Mixer{
		Base:       base,
		datasets:   slices.Clone(datasets),
		consistent: opts.ConsistentBatches,
		rng:        opts.Rand,
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if m.distributions, err = mixerDistributions(len(datasets), opts); err != nil {
		return nil, err
	}
	klog.Infof("mixer over %d %s datasets, %d shared vocabularies", len(datasets), spec.Type, len(tables.Vocabularies))
	return m, nil
}

func checkCompatible(datasets []Dataset) error {
	first := datasets[0]
	d0, t0 := first.Descriptor(), first.Tables()
	for i, ds := range datasets {
		if _, nested := ds.(*Mixer); nested {
			return errors.Errorf("dataset %d is a mixer: mixers cannot be nested", i)
		}
		if i == 0 {
			continue
		}
		d, t := ds.Descriptor(), ds.Tables()
		switch {
		case d.Type != d0.Type:
			return errors.Wrapf(ErrSchemaMismatch, "dataset %d has type %q, dataset 0 %q", i, d.Type, d0.Type)
		case d.Language != d0.Language:
			return errors.Wrapf(ErrSchemaMismatch, "dataset %d has language %q, dataset 0 %q", i, d.Language, d0.Language)
		case !d.Schema.Equal(d0.Schema):
			return errors.Wrapf(ErrSchemaMismatch, "dataset %d has different values than dataset 0", i)
		case t.WorldSize != t0.WorldSize:
			return errors.Wrapf(ErrSchemaMismatch, "dataset %d has world size %v, dataset 0 %v", i, t.WorldSize, t0.WorldSize)
		case !slices.Equal(sortedKeys(t.Vectors), sortedKeys(t0.Vectors)):
			return errors.Wrapf(ErrSchemaMismatch, "dataset %d has vectors %v, dataset 0 %v",
				i, sortedKeys(t.Vectors), sortedKeys(t0.Vectors))
		case !slices.Equal(sortedKeys(t.Vocabularies), sortedKeys(t0.Vocabularies)):
			return errors.Wrapf(ErrSchemaMismatch, "dataset %d has vocabularies %v, dataset 0 %v",
				i, sortedKeys(t.Vocabularies), sortedKeys(t0.Vocabularies))
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := slices.Collect(maps.Keys(m))
	sort.Strings(keys)
	return keys
}

// unionTables takes the largest vector lengths and the union of the
// vocabularies of datasets.
func unionTables(datasets []Dataset) *Tables {
	first := datasets[0].Tables()
	tables := &Tables{
		WorldSize:    first.WorldSize,
		Vectors:      make(map[string]int, len(first.Vectors)),
		Vocabularies: make(map[string]*vocab.Vocabulary, len(first.Vocabularies)),
	}
	for name := range first.Vectors {
		for _, ds := range datasets {
			tables.Vectors[name] = max(tables.Vectors[name], ds.Tables().Vectors[name])
		}
	}
	for name := range first.Vocabularies {
		all := make([]*vocab.Vocabulary, len(datasets))
		for i, ds := range datasets {
			all[i] = ds.Tables().Vocabularies[name]
		}
		tables.Vocabularies[name] = vocab.Union(all...)
	}
	return tables
}

func mixerDistributions(n int, opts MixerOptions) (map[Mode]*Distribution, error) {
	base := UniformDistribution(n)
	if opts.Weights != nil {
		if len(opts.Weights) != n {
			return nil, errors.Errorf("%d weights given for %d datasets", len(opts.Weights), n)
		}
		var err error
		if base, err = NewDistribution(opts.Weights); err != nil {
			return nil, err
		}
	}
	distributions := map[Mode]*Distribution{ModeNone: base}
	for _, mode := range Modes {
		distributions[mode] = base
	}
	if opts.ModeWeights == nil {
		return distributions, nil
	}
	for _, mode := range Modes {
		weights := opts.ModeWeights[mode]
		if weights == nil {
			return nil, errors.Errorf("mode weights must be given for all of train, validation and test, missing %s", mode)
		}
		if len(weights) != n {
			return nil, errors.Errorf("%d %s weights given for %d datasets", len(weights), mode, n)
		}
		d, err := NewDistribution(weights)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s weights", mode)
		}
		distributions[mode] = d
	}
	return distributions, nil
}

// NumSources returns the number of mixed datasets.
func (m *Mixer) NumSources() int {
	return len(m.datasets)
}

// Sources returns the mixed datasets.
func (m *Mixer) Sources() []Dataset {
	return slices.Clone(m.datasets)
}

// Distribution returns the distribution over datasets used for mode.
func (m *Mixer) Distribution(mode Mode) *Distribution {
	return m.distributions[mode]
}

// Sample draws the index of a dataset for mode.
func (m *Mixer) Sample(mode Mode) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.distributions[mode].Sample(m.rng)
}

// Generate implements Dataset.
func (m *Mixer) Generate(n int, opts GenerateOptions) (*values.Batch, error) {
	batch, _, err := m.GenerateWithSources(n, opts)
	return batch, err
}

// GenerateWithSources is Generate, also returning the index of the dataset
// each instance was drawn from.
func (m *Mixer) GenerateWithSources(n int, opts GenerateOptions) (*values.Batch, []int, error) {
	if err := checkBatchSize(n); err != nil {
		return nil, nil, err
	}
	if _, found := m.distributions[opts.Mode]; !found {
		return nil, nil, errors.Errorf("unknown mode %q", opts.Mode)
	}
	sources := make([]int, n)
	if m.consistent {
		k := m.Sample(opts.Mode)
		for i := range sources {
			sources[i] = k
		}
		batch, err := m.datasets[k].Generate(n, opts)
		return batch, sources, errors.WithMessagef(err, "mixed dataset %d", k)
	}

	batch := m.ZeroBatch(n, opts)
	for i := range sources {
		k := m.Sample(opts.Mode)
		sources[i] = k
		single, err := m.datasets[k].Generate(1, opts)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "mixed dataset %d", k)
		}
		for _, name := range batch.Names() {
			column, found := single.Column(name)
			if !found {
				return nil, nil, errors.Errorf("mixed dataset %d generated no value %q", k, name)
			}
			if err = batch.SetInstance(name, i, column.At(0)); err != nil {
				return nil, nil, err
			}
		}
	}
	return batch, sources, nil
}
