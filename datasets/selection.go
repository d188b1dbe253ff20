package datasets

import (
	"slices"
	"strings"

	"github.com/Noofbiz/shapeworld/values"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SelectionType is the type of TextSelection datasets.
const SelectionType = "selection"

// DefaultNumTexts is the number of texts per instance when none is given.
const DefaultNumTexts = 10

// SelectionConfig configures a TextSelection dataset. The correct ratios of
// the embedded AgreementConfig are ignored: every caption is correct.
type SelectionConfig struct {
	AgreementConfig

	// NumTexts is the number of texts of each instance, its own caption
	// included. Zero means DefaultNumTexts.
	NumTexts int

	// MultiShape takes the prediction items from the entities of the world
	// instead of the caption, and rejects distractors describing a world
	// with any of these entities.
	MultiShape bool
}

// TextSelection generates worlds with a correct caption, and a list of
// texts to pick the caption from. The other texts are captions of other
// instances of the batch, about different prediction items. The "target"
// value is the position of the caption among the texts.
type TextSelection struct {
	*CaptionAgreement

	numTexts   int
	multiShape bool
}

var _ Dataset = (*TextSelection)(nil)

func init() {
	RegisterType(SelectionType, func(spec *Specification) (Dataset, error) {
		p, err := providersFor(spec)
		if err != nil {
			return nil, err
		}
		config := SelectionConfig{}
		if config.AgreementConfig, err = agreementConfigOf(spec, p); err != nil {
			return nil, err
		}
		num, _, err := extraNumber(spec, "num_texts")
		if err != nil {
			return nil, err
		}
		config.NumTexts = int(num)
		if config.MultiShape, err = extraBool(spec, "multi_shape"); err != nil {
			return nil, err
		}
		return NewTextSelection(p.Generator, p.Captioner, p.Realizer, config)
	})
}

// NewTextSelection creates a TextSelection dataset. Captions must implement
// ItemCaption, or worlds EntityWorld if config.MultiShape is set.
func NewTextSelection(generator WorldGenerator, captioner Captioner, realizer Realizer, config SelectionConfig) (*TextSelection, error) {
	if config.NumTexts == 0 {
		config.NumTexts = DefaultNumTexts
	}
	if config.NumTexts < 1 {
		return nil, errors.Errorf("number of texts must be positive, got %d", config.NumTexts)
	}
	config.CorrectRatio, config.ModeCorrectRatios = 1, nil
	items := "str_list_list"
	if config.MultiShape {
		items = "str_list_list_list"
	}
	schema := values.MustParseSchema(append(slices.Clone(agreementValues),
		"pred_items", items,
		"caption_str", "str_list",
		"texts", "skip",
		"texts_str", "str_list_list",
		"target", "int",
	)...)
	spec, err := agreementSpecification(SelectionType, schema, generator, captioner, config.AgreementConfig)
	if err != nil {
		return nil, err
	}
	spec.Extra["num_texts"] = config.NumTexts
	spec.Extra["multi_shape"] = config.MultiShape
	a, err := newCaptionAgreement(spec, generator, captioner, realizer, config.AgreementConfig)
	if err != nil {
		return nil, err
	}
	return &TextSelection{CaptionAgreement: a, numTexts: config.NumTexts, multiShape: config.MultiShape}, nil
}

// NumTexts returns the number of texts of each instance.
func (s *TextSelection) NumTexts() int { return s.numTexts }

// Generate implements Dataset. The batch must hold enough instances about
// other items for every instance to get its distractors.
func (s *TextSelection) Generate(n int, opts GenerateOptions) (*values.Batch, error) {
	batch, instances, err := s.generate(n, opts)
	if err != nil {
		return nil, err
	}
	items := make([][][]string, n)
	for i, instance := range instances {
		if items[i], err = s.itemsOf(instance); err != nil {
			return nil, errors.WithMessagef(err, "dataset %s: instance %d", s, i)
		}
	}

	captions := values.Get[string](batch, "caption_str")
	for i, instance := range instances {
		captions[i] = strings.Join(instance.words, " ")
		if s.multiShape {
			values.Get[[][]string](batch, "pred_items")[i] = items[i]
		} else {
			values.Get[[]string](batch, "pred_items")[i] = items[i][0]
		}
	}
	texts := values.Get[[]string](batch, "texts_str")
	targets := values.Get[int32](batch, "target")
	for i := range instances {
		selected, err := s.selectTexts(i, items)
		if err != nil {
			return nil, err
		}
		texts[i] = make([]string, len(selected))
		for k, j := range selected {
			texts[i][k] = captions[j]
			if j == i {
				targets[i] = int32(k)
			}
		}
	}
	if klog.V(2).Enabled() {
		for i := range min(n, 3) {
			klog.Infof("dataset %s: items %v, caption %q, texts %q", s, items[i], captions[i], texts[i])
		}
	}
	return batch, nil
}

// itemsOf returns the prediction items of an instance, as groups of names.
func (s *TextSelection) itemsOf(instance captioned) ([][]string, error) {
	if !s.multiShape {
		caption, ok := instance.caption.(ItemCaption)
		if !ok {
			return nil, errors.Errorf("caption %T does not name its prediction items", instance.caption)
		}
		names := slices.Compact(slices.Sorted(slices.Values(caption.PredictionItems())))
		if len(names) == 0 {
			return nil, errors.New("caption has no prediction items")
		}
		return [][]string{names}, nil
	}
	world, ok := instance.world.(EntityWorld)
	if !ok {
		return nil, errors.Errorf("world %T does not list its entities", instance.world)
	}
	var groups [][]string
	for _, entity := range world.Entities() {
		groups = append(groups, []string{entity.Shape, entity.Color})
	}
	if len(groups) == 0 {
		return nil, errors.New("world has no entities")
	}
	return groups, nil
}

// selectTexts picks the instances whose captions make the texts of instance
// i: i itself and NumTexts-1 distinct others sharing no item group with i,
// in random order.
func (s *TextSelection) selectTexts(i int, items [][][]string) ([]int, error) {
	var candidates []int
	for j := range items {
		if j != i && !sharesGroup(items[i], items[j]) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) < s.numTexts-1 {
		return nil, errors.Errorf("dataset %s: instance %d has %d possible distractors in a batch of %d, %d needed",
			s, i, len(candidates), len(items), s.numTexts-1)
	}
	s.rng.Shuffle(len(candidates), func(a, b int) { candidates[a], candidates[b] = candidates[b], candidates[a] })
	selected := append(candidates[:s.numTexts-1:s.numTexts-1], i)
	s.rng.Shuffle(len(selected), func(a, b int) { selected[a], selected[b] = selected[b], selected[a] })
	return selected, nil
}

// sharesGroup reports whether a and b have a group with the same names, in
// any order.
func sharesGroup(a, b [][]string) bool {
	for _, x := range a {
		for _, y := range b {
			if sameNames(x, y) {
				return true
			}
		}
	}
	return false
}

func sameNames(x, y []string) bool {
	return slices.Equal(slices.Compact(slices.Sorted(slices.Values(x))), slices.Compact(slices.Sorted(slices.Values(y))))
}
