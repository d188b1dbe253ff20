package datasets

import (
	"encoding/json"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"

	"github.com/Noofbiz/shapeworld/values"
	"github.com/Noofbiz/shapeworld/vocab"
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// AgreementType is the type of CaptionAgreement datasets.
const AgreementType = "agreement"

// CaptionerReinitialization is the number of failed attempts at captioning
// a world after which the captioner model is sampled again.
const CaptionerReinitialization = 100

// DefaultCorrectRatio is the ratio of correct captions when none is given.
const DefaultCorrectRatio = 0.5

// AgreementConfig configures a CaptionAgreement dataset.
type AgreementConfig struct {
	Name     string
	Language string

	// CaptionSize is the capacity of the caption value, in words.
	CaptionSize int

	// Vocabulary lists the words of captions, sorted.
	Vocabulary []string

	// CorrectRatio is the probability of a correct caption. Zero means
	// DefaultCorrectRatio.
	CorrectRatio float64

	// ModeCorrectRatios overrides CorrectRatio per mode.
	ModeCorrectRatios map[Mode]float64

	// Rand is the source of randomness. Defaults to a randomly seeded one.
	Rand *rand.Rand
}

// CaptionAgreement generates worlds paired with a caption, and whether the
// caption is a correct description of the world.
type CaptionAgreement struct {
	*Base

	generator WorldGenerator
	captioner Captioner
	realizer  Realizer
	ratios    map[Mode]float64
	rng       *rand.Rand
}

var _ Dataset = (*CaptionAgreement)(nil)

var agreementValues = []string{
	"world", "world",
	"world_model", "model",
	"caption", "language",
	"caption_length", "int",
	"caption_rpn", "rpn",
	"caption_rpn_length", "int",
	"caption_model", "model",
	"agreement", "float",
}

func init() {
	RegisterType(AgreementType, func(spec *Specification) (Dataset, error) {
		p, err := providersFor(spec)
		if err != nil {
			return nil, err
		}
		config, err := agreementConfigOf(spec, p)
		if err != nil {
			return nil, err
		}
		return NewCaptionAgreement(p.Generator, p.Captioner, p.Realizer, config)
	})
}

// NewCaptionAgreement creates a CaptionAgreement dataset.
func NewCaptionAgreement(generator WorldGenerator, captioner Captioner, realizer Realizer, config AgreementConfig) (*CaptionAgreement, error) {
	spec, err := agreementSpecification(AgreementType, values.MustParseSchema(agreementValues...), generator, captioner, config)
	if err != nil {
		return nil, err
	}
	return newCaptionAgreement(spec, generator, captioner, realizer, config)
}

// agreementSpecification checks config and returns the specification of a
// caption dataset with the given type and values.
func agreementSpecification(typ string, schema *values.Schema, generator WorldGenerator, captioner Captioner, config AgreementConfig) (*Specification, error) {
	if generator == nil || captioner == nil {
		return nil, errors.New("caption datasets need a world generator and a captioner")
	}
	if config.CaptionSize <= 0 {
		return nil, errors.Errorf("caption size must be positive, got %d", config.CaptionSize)
	}
	if len(config.Vocabulary) == 0 || !slices.IsSorted(config.Vocabulary) {
		return nil, errors.New("caption vocabulary must be non-empty and sorted")
	}
	extra := make(map[string]any)
	for mode, ratio := range correctRatios(config) {
		if mode == ModeNone {
			extra[correctRatioField] = ratio
		} else {
			extra[string(mode)+"_"+correctRatioField] = ratio
		}
	}
	return &Specification{
		Type:      typ,
		Name:      config.Name,
		Language:  config.Language,
		Values:    schema,
		WorldSize: generator.WorldSize(),
		Vectors: map[string]int{
			"caption":     config.CaptionSize,
			"caption_rpn": captioner.MaxSymbolLength(),
		},
		Vocabularies: map[string][]string{
			"language": slices.Clone(config.Vocabulary),
			"rpn":      slices.Sorted(slices.Values(captioner.SymbolVocabulary())),
		},
		Extra: extra,
	}, nil
}

func newCaptionAgreement(spec *Specification, generator WorldGenerator, captioner Captioner, realizer Realizer, config AgreementConfig) (*CaptionAgreement, error) {
	if realizer == nil {
		return nil, errors.New("caption datasets need a realizer")
	}
	base, err := NewBase(spec)
	if err != nil {
		return nil, err
	}
	a := &CaptionAgreement{
		Base:      base,
		generator: generator,
		captioner: captioner,
		realizer:  realizer,
		ratios:    correctRatios(config),
		rng:       config.Rand,
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return a, nil
}

const correctRatioField = "correct_ratio"

// correctRatios resolves the correct ratio of every mode.
func correctRatios(config AgreementConfig) map[Mode]float64 {
	ratio := config.CorrectRatio
	if ratio == 0 {
		ratio = DefaultCorrectRatio
	}
	ratios := map[Mode]float64{ModeNone: ratio}
	for _, mode := range Modes {
		ratios[mode] = ratio
		if r, found := config.ModeCorrectRatios[mode]; found {
			ratios[mode] = r
		}
	}
	return ratios
}

// agreementConfigOf reads the options of a caption dataset from spec, with
// the vocabulary and caption size of p as defaults.
func agreementConfigOf(spec *Specification, p *Providers) (AgreementConfig, error) {
	if p.Captioner == nil || p.Realizer == nil {
		return AgreementConfig{}, errors.Errorf("providers of %s %s do not caption worlds", spec.Type, spec.Name)
	}
	config := AgreementConfig{
		Name:        spec.Name,
		Language:    spec.Language,
		CaptionSize: p.CaptionSize,
		Vocabulary:  p.Vocabulary,
	}
	if size, found := spec.Vectors["caption"]; found {
		config.CaptionSize = size
	}
	if words, found := spec.Vocabularies["language"]; found {
		config.Vocabulary = slices.DeleteFunc(slices.Clone(words), func(word string) bool {
			return word == vocab.Padding || word == vocab.Unknown
		})
	}
	ratio, _, err := extraNumber(spec, correctRatioField)
	if err != nil {
		return config, err
	}
	config.CorrectRatio = ratio
	for _, mode := range Modes {
		ratio, found, err := extraNumber(spec, string(mode)+"_"+correctRatioField)
		if err != nil {
			return config, err
		}
		if found {
			if config.ModeCorrectRatios == nil {
				config.ModeCorrectRatios = make(map[Mode]float64)
			}
			config.ModeCorrectRatios[mode] = ratio
		}
	}
	return config, nil
}

// CorrectRatio returns the probability of a correct caption in mode.
func (a *CaptionAgreement) CorrectRatio(mode Mode) float64 {
	return a.ratios[mode]
}

// Generate implements Dataset.
//
// Each instance samples a world and a caption until the captioner accepts
// the world; the captioner model is resampled every
// CaptionerReinitialization attempts. The captions of the whole batch are
// then realized at once. Words missing from the vocabulary and captions
// longer than the caption size are reported for the whole batch, and fail
// it.
func (a *CaptionAgreement) Generate(n int, opts GenerateOptions) (*values.Batch, error) {
	batch, _, err := a.generate(n, opts)
	return batch, err
}

// captioned is a generated world with its caption, in semantic and realized
// forms.
type captioned struct {
	world   World
	caption Caption
	words   []string
}

func (a *CaptionAgreement) generate(n int, opts GenerateOptions) (*values.Batch, []captioned, error) {
	if err := checkBatchSize(n); err != nil {
		return nil, nil, err
	}
	ratio, found := a.ratios[opts.Mode]
	if !found {
		return nil, nil, errors.Errorf("unknown mode %q", opts.Mode)
	}
	rpnVocabulary := a.Tables().Vocabularies["rpn"]
	rpnSize := a.Tables().Vectors["caption_rpn"]

	batch := a.ZeroBatch(n, opts)
	worlds := values.Get[*values.Image](batch, "world")
	agreements := values.Get[float32](batch, "agreement")
	rpns := values.Get[[]int32](batch, "caption_rpn")
	rpnLengths := values.Get[int32](batch, "caption_rpn_length")
	worldModels := values.Get[any](batch, "world_model")
	captionModels := values.Get[any](batch, "caption_model")

	proposed := make(map[uint64]struct{})
	used := make(map[uint64]struct{})
	instances := make([]captioned, n)
	captions := make([]Caption, n)
	for i := 0; i < n; i++ {
		correct := a.rng.Float64() < ratio
		var world World
		var caption Caption
		var captionerModel uint64
		for attempt := 0; ; attempt++ {
			a.generator.Initialize(opts.Mode)
			if attempt%CaptionerReinitialization == 0 {
				for !a.captioner.Initialize(opts.Mode, correct) {
				}
				captionerModel = fingerprint(a.captioner.Model())
				proposed[captionerModel] = struct{}{}
			}
			world = generateWorld(a.generator)
			var ok bool
			if caption, ok = a.captioner.Caption(world); ok {
				break
			}
		}
		used[captionerModel] = struct{}{}
		captions[i] = caption
		instances[i] = captioned{world: world, caption: caption}

		worlds[i] = world.Image(opts.NoiseRange)
		if correct {
			agreements[i] = 1
		}
		rpn := caption.ReversePolishForm()
		if len(rpn) > rpnSize {
			return nil, nil, errors.Errorf("dataset %s: reverse Polish form of length %d exceeds %d", a, len(rpn), rpnSize)
		}
		for k, symbol := range rpn {
			id, known := rpnVocabulary.ID(symbol)
			if !known {
				return nil, nil, errors.Errorf("dataset %s: unknown reverse Polish symbol %q", a, symbol)
			}
			rpns[i][k] = int32(id)
		}
		rpnLengths[i] = int32(len(rpn))
		if opts.IncludeMetadata {
			worldModels[i] = world.Model()
			captionModels[i] = caption.Model()
		}
	}
	if len(used) < len(proposed) {
		klog.V(2).Infof("dataset %s: %d captioner models proposed, %d used", a, len(proposed), len(used))
	}

	realized, err := a.realizer.Realize(captions)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "dataset %s: realizing captions", a)
	}
	if len(realized) != n {
		return nil, nil, errors.Errorf("dataset %s: realizer returned %d captions for %d", a, len(realized), n)
	}
	if err = a.encodeCaptions(batch, realized); err != nil {
		return nil, nil, err
	}
	for i := range instances {
		instances[i].words = realized[i]
	}
	return batch, instances, nil
}

// encodeCaptions fills the caption values from the realized words.
func (a *CaptionAgreement) encodeCaptions(batch *values.Batch, realized [][]string) error {
	words := a.Tables().Vocabularies["language"]
	captionSize := a.Tables().Vectors["caption"]
	encoded := values.Get[[]int32](batch, "caption")
	lengths := values.Get[int32](batch, "caption_length")

	unused := make(map[string]struct{}, words.Len())
	for _, word := range words.Words() {
		if word != vocab.Padding && word != vocab.Unknown {
			unused[word] = struct{}{}
		}
	}
	missing := make(map[string]struct{})
	longest := captionSize
	for i, caption := range realized {
		if len(caption) > captionSize {
			longest = max(longest, len(caption))
			continue
		}
		for k, word := range caption {
			id, known := words.ID(word)
			if !known {
				missing[word] = struct{}{}
				continue
			}
			delete(unused, word)
			encoded[i][k] = int32(id)
		}
		lengths[i] = int32(len(caption))
	}

	if len(unused) > 0 {
		klog.V(2).Infof("dataset %s: words unused in vocabulary: %s", a, strings.Join(sortedSet(unused), ", "))
	}
	if len(missing) > 0 {
		klog.Warningf("dataset %s: words missing in vocabulary: %s", a, strings.Join(sortedSet(missing), ", "))
	}
	if longest > captionSize {
		klog.Warningf("dataset %s: caption size exceeds maximum: %d > %d", a, longest, captionSize)
	}
	if len(missing) > 0 || longest > captionSize {
		return errors.Errorf("dataset %s: %d words missing in vocabulary, longest caption %d for size %d",
			a, len(missing), longest, captionSize)
	}
	return nil
}

// fingerprint identifies a JSON encodable model.
func fingerprint(model any) uint64 {
	data, err := json.Marshal(model)
	if err != nil {
		klog.V(1).Infof("captioner model cannot be encoded: %v", err)
	}
	return xxhash.Sum64(data)
}

func sortedSet(set map[string]struct{}) []string {
	items := make([]string, 0, len(set))
	for item := range set {
		items = append(items, item)
	}
	sort.Strings(items)
	return items
}
