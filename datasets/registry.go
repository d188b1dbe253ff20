package datasets

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// ErrUnknownDataset is returned when no constructor is registered for a
// dataset type and name.
var ErrUnknownDataset = errors.New("unknown dataset")

// Constructor creates a dataset from a (possibly partial) specification.
// Only Type, Name and Language are guaranteed to be set; dataset specific
// options are in Extra.
type Constructor func(spec *Specification) (Dataset, error)

type registryKey struct {
	typ, name string
}

var (
	registryMu   sync.RWMutex
	registry     = make(map[registryKey]Constructor)
	typeRegistry = make(map[string]Constructor)
)

// Register makes a dataset constructor available to New and FromConfig
// under the given type and name. It is meant to be called from init
// functions; registering the same key twice is fatal.
func Register(typ, name string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	key := registryKey{typ, name}
	if _, found := registry[key]; found {
		klog.Fatalf("dataset %s %s registered twice", typ, name)
	}
	registry[key] = constructor
}

// RegisterType makes constructor available to New for every dataset of
// the given type without a constructor of its own.
func RegisterType(typ string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := typeRegistry[typ]; found {
		klog.Fatalf("dataset type %s registered twice", typ)
	}
	typeRegistry[typ] = constructor
}

// New creates the registered dataset for spec.Type and spec.Name, falling
// back to the constructor registered for spec.Type.
func New(spec *Specification) (Dataset, error) {
	registryMu.RLock()
	constructor, found := registry[registryKey{spec.Type, spec.Name}]
	if !found {
		constructor, found = typeRegistry[spec.Type]
	}
	registryMu.RUnlock()
	if !found {
		return nil, errors.Wrapf(ErrUnknownDataset, "%s %s", spec.Type, spec.Name)
	}
	return constructor(spec)
}

// SpecificationFileNames are the names under which Load looks for the
// specification of a dataset directory.
var SpecificationFileNames = []string{"specification.json", "specification.yaml", "specification.yml"}

// Load creates a LoadedDataset from a specification file, or from a
// directory holding one of SpecificationFileNames.
func Load(path string, opts LoadOptions) (*LoadedDataset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading dataset")
	}
	if info.IsDir() {
		dir := path
		path = ""
		for _, name := range SpecificationFileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return nil, errors.Errorf("no specification file (%s) in %q", strings.Join(SpecificationFileNames, ", "), dir)
		}
	}
	spec, err := LoadSpecification(path)
	if err != nil {
		return nil, err
	}
	return NewLoadedDataset(spec, opts)
}

// MixerConfig is the document form of a Mixer.
type MixerConfig struct {
	// Datasets are config strings, as accepted by FromConfig.
	Datasets []string `json:"datasets" yaml:"datasets"`

	ConsistentBatches      bool      `json:"consistent_batches,omitempty" yaml:"consistent_batches,omitempty"`
	Distribution           []float64 `json:"distribution,omitempty" yaml:"distribution,omitempty"`
	TrainDistribution      []float64 `json:"train_distribution,omitempty" yaml:"train_distribution,omitempty"`
	ValidationDistribution []float64 `json:"validation_distribution,omitempty" yaml:"validation_distribution,omitempty"`
	TestDistribution       []float64 `json:"test_distribution,omitempty" yaml:"test_distribution,omitempty"`
}

// Options converts the distributions of the config.
func (c *MixerConfig) Options() MixerOptions {
	opts := MixerOptions{ConsistentBatches: c.ConsistentBatches, Weights: c.Distribution}
	if c.TrainDistribution != nil || c.ValidationDistribution != nil || c.TestDistribution != nil {
		opts.ModeWeights = map[Mode][]float64{
			ModeTrain:      c.TrainDistribution,
			ModeValidation: c.ValidationDistribution,
			ModeTest:       c.TestDistribution,
		}
	}
	return opts
}

// FromConfig resolves a dataset config string:
//
//   - "load(<path>)": a LoadedDataset, see Load.
//   - "mix(<config>,<config>,...)": a uniform Mixer over the given configs.
//   - "mix(<file>)": a Mixer described by a MixerConfig JSON or YAML file.
//   - "<file>.json", "<file>.yaml": the registered dataset for the
//     specification in the file, or a LoadedDataset if the specification
//     names a directory of parts.
//   - "<type>/<name>": the registered dataset, with default options.
func FromConfig(config string) (Dataset, error) {
	config = strings.TrimSpace(config)
	if inner, found := unwrap(config, "load"); found {
		return Load(inner, LoadOptions{})
	}
	if inner, found := unwrap(config, "mix"); found {
		mixerConfig := &MixerConfig{}
		if info, err := os.Stat(inner); err == nil && !info.IsDir() {
			if err = readDocument(inner, mixerConfig); err != nil {
				return nil, err
			}
		} else {
			mixerConfig.Datasets = splitConfigs(inner)
		}
		children := make([]Dataset, len(mixerConfig.Datasets))
		for i, childConfig := range mixerConfig.Datasets {
			child, err := FromConfig(childConfig)
			if err != nil {
				return nil, errors.WithMessagef(err, "mixed dataset %d", i)
			}
			children[i] = child
		}
		return NewMixer(children, mixerConfig.Options())
	}
	if info, err := os.Stat(config); err == nil && !info.IsDir() {
		spec, err := LoadSpecification(config)
		if err != nil {
			return nil, err
		}
		ds, err := New(spec)
		if errors.Is(err, ErrUnknownDataset) && hasParts(spec.Directory) {
			return NewLoadedDataset(spec, LoadOptions{})
		}
		return ds, err
	}
	typ, name, found := strings.Cut(config, "/")
	if !found {
		return nil, errors.Errorf("invalid dataset config %q", config)
	}
	return New(&Specification{Type: typ, Name: name})
}

// unwrap returns the argument of "<function>(<argument>)".
func unwrap(config, function string) (string, bool) {
	if strings.HasPrefix(config, function+"(") && strings.HasSuffix(config, ")") {
		return strings.TrimSpace(config[len(function)+1 : len(config)-1]), true
	}
	return "", false
}

// splitConfigs splits a comma separated list of configs, ignoring commas
// nested in parentheses.
func splitConfigs(list string) []string {
	var configs []string
	depth, start := 0, 0
	for i, r := range list {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				configs = append(configs, strings.TrimSpace(list[start:i]))
				start = i + 1
			}
		}
	}
	return append(configs, strings.TrimSpace(list[start:]))
}

func readDocument(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %q", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, target)
	default:
		err = json.Unmarshal(data, target)
	}
	return errors.Wrapf(err, "decoding %q", path)
}

func hasParts(dir string) bool {
	if dir == "" {
		return false
	}
	for _, mode := range Modes {
		if info, err := os.Stat(filepath.Join(dir, string(mode))); err == nil && info.IsDir() {
			return true
		}
	}
	matches, _ := filepath.Glob(filepath.Join(dir, partPrefix+"*"))
	return len(matches) > 0
}

// extraNumber reads a numeric Extra field of spec, as decoded from JSON or
// YAML.
func extraNumber(spec *Specification, key string) (float64, bool, error) {
	value, found := spec.Extra[key]
	if !found || value == nil {
		return 0, false, nil
	}
	switch v := value.(type) {
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	}
	return 0, false, errors.Errorf("specification field %q must be a number, got %T", key, value)
}

func extraBool(spec *Specification, key string) (bool, error) {
	value, found := spec.Extra[key]
	if !found || value == nil {
		return false, nil
	}
	b, ok := value.(bool)
	if !ok {
		return false, errors.Errorf("specification field %q must be a boolean, got %T", key, value)
	}
	return b, nil
}
