package datasets

import (
	"sync"

	"github.com/Noofbiz/shapeworld/values"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// WorldGenerator samples worlds. It is provided by the procedural world
// generation layer.
type WorldGenerator interface {
	// WorldSize is the size of the images of generated worlds.
	WorldSize() WorldSize

	// Initialize prepares the generator for the given mode. It is called
	// before each instance is generated.
	Initialize(mode Mode)

	// Generate returns a world, or false if this attempt failed and should
	// be retried.
	Generate() (World, bool)
}

// World is one generated scene.
type World interface {
	// Image renders the world, with noise of the given scale.
	Image(noiseRange float64) *values.Image

	// Model returns a JSON encodable description of the world.
	Model() any
}

// Captioner produces captions about worlds, which are either correct or
// incorrect descriptions of them.
type Captioner interface {
	// Initialize samples the internal caption model for mode. It returns
	// false if it failed and should be called again.
	Initialize(mode Mode, correct bool) bool

	// Caption returns a caption of world, or false if the current caption
	// model cannot be applied to it.
	Caption(world World) (Caption, bool)

	// Model returns a JSON encodable description of the internal caption
	// model.
	Model() any

	// SymbolVocabulary lists the symbols used by reverse Polish forms.
	SymbolVocabulary() []string

	// MaxSymbolLength is the longest reverse Polish form produced.
	MaxSymbolLength() int
}

// Caption is the semantic representation of a caption.
type Caption interface {
	// ReversePolishForm is the linear symbolic form of the caption.
	ReversePolishForm() []string

	// Model returns a JSON encodable description of the caption.
	Model() any
}

// ItemCaption is a Caption naming its prediction items: the shape, color or
// attribute names another text has to share to describe the same thing.
type ItemCaption interface {
	Caption
	PredictionItems() []string
}

// Entity is the shape and color of one object of a world.
type Entity struct {
	Shape, Color string
}

// EntityWorld is a World listing its entities.
type EntityWorld interface {
	World
	Entities() []Entity
}

// Realizer turns captions into their surface text.
type Realizer interface {
	// Realize returns the words of each caption, in order.
	Realize(captions []Caption) ([][]string, error)
}

// Providers are the providers a registered dataset type builds on, and the
// options its specification may leave out.
type Providers struct {
	Generator WorldGenerator

	// Classes labels the worlds of classification datasets.
	Classes func(World) []int

	// Captioner and Realizer caption the worlds of agreement and selection
	// datasets.
	Captioner Captioner
	Realizer  Realizer

	// Used when the specification has no "classification" vector or
	// "num_classes" field.
	NumClasses int

	// Used when the specification has no "language" vocabulary or "caption"
	// vector.
	Vocabulary  []string
	CaptionSize int
}

// ProviderFactory creates the providers of the dataset described by spec.
type ProviderFactory func(spec *Specification) (*Providers, error)

// ProvidersField is the specification field naming the providers of a
// dataset. Without it, the providers registered under the dataset name are
// used.
const ProvidersField = "providers"

var (
	providersMu       sync.RWMutex
	providerFactories = make(map[string]ProviderFactory)
)

// RegisterProviders makes a provider factory available to the dataset types
// registered with RegisterType. It is meant to be called from init
// functions; registering the same name twice is fatal.
func RegisterProviders(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	if _, found := providerFactories[name]; found {
		klog.Fatalf("providers %s registered twice", name)
	}
	providerFactories[name] = factory
}

// providersFor creates the providers of spec. Missing providers are reported
// as ErrUnknownDataset.
func providersFor(spec *Specification) (*Providers, error) {
	name := spec.Name
	if value, found := spec.Extra[ProvidersField]; found {
		var ok bool
		if name, ok = value.(string); !ok {
			return nil, errors.Errorf("specification field %q must be a string, got %T", ProvidersField, value)
		}
	}
	providersMu.RLock()
	factory, found := providerFactories[name]
	providersMu.RUnlock()
	if !found {
		return nil, errors.Wrapf(ErrUnknownDataset, "%s %s: no providers %q", spec.Type, spec.Name, name)
	}
	p, err := factory(spec)
	if err != nil {
		return nil, errors.WithMessagef(err, "providers %q", name)
	}
	if p == nil || p.Generator == nil {
		return nil, errors.Errorf("providers %q have no world generator", name)
	}
	return p, nil
}
