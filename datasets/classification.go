package datasets

import (
	"github.com/Noofbiz/shapeworld/values"
	"github.com/pkg/errors"
)

// ClassificationType is the type of Classification datasets.
const ClassificationType = "classification"

// ClassificationConfig configures a Classification dataset.
type ClassificationConfig struct {
	Name       string
	NumClasses int

	// MultiClass allows instances of any number of classes, including none.
	MultiClass bool

	// ClassCount makes the classification vector count the occurrences of
	// each class instead of flagging them. Requires MultiClass.
	ClassCount bool
}

// Classification generates worlds labeled with a vector over classes.
type Classification struct {
	*Base

	generator WorldGenerator
	classes   func(World) []int
	config    ClassificationConfig
}

var _ Dataset = (*Classification)(nil)

func init() {
	RegisterType(ClassificationType, func(spec *Specification) (Dataset, error) {
		p, err := providersFor(spec)
		if err != nil {
			return nil, err
		}
		config, err := classificationConfigOf(spec, p)
		if err != nil {
			return nil, err
		}
		return NewClassification(p.Generator, p.Classes, config)
	})
}

// classificationConfigOf reads the options of a classification dataset from
// spec, with the number of classes of p as default.
func classificationConfigOf(spec *Specification, p *Providers) (ClassificationConfig, error) {
	if p.Classes == nil {
		return ClassificationConfig{}, errors.Errorf("providers of %s %s do not classify worlds", spec.Type, spec.Name)
	}
	config := ClassificationConfig{Name: spec.Name, NumClasses: p.NumClasses}
	if size, found := spec.Vectors["classification"]; found {
		config.NumClasses = size
	}
	num, found, err := extraNumber(spec, "num_classes")
	if err != nil {
		return config, err
	}
	if found {
		config.NumClasses = int(num)
	}
	if config.MultiClass, err = extraBool(spec, "multi_class"); err != nil {
		return config, err
	}
	config.ClassCount, err = extraBool(spec, "class_count")
	return config, err
}

// NewClassification creates a Classification dataset of worlds from
// generator, labeled with the classes returned by classes.
func NewClassification(generator WorldGenerator, classes func(World) []int, config ClassificationConfig) (*Classification, error) {
	if config.NumClasses <= 0 {
		return nil, errors.Errorf("classification needs a positive number of classes, got %d", config.NumClasses)
	}
	if config.ClassCount && !config.MultiClass {
		return nil, errors.New("class counts require multi-class classification")
	}
	spec := &Specification{
		Type: ClassificationType,
		Name: config.Name,
		Values: values.MustParseSchema(
			"world", "world",
			"world_model", "model",
			"classification", "vector(float)",
		),
		WorldSize: generator.WorldSize(),
		Vectors:   map[string]int{"classification": config.NumClasses},
		Extra: map[string]any{
			"num_classes": config.NumClasses,
			"multi_class": config.MultiClass,
			"class_count": config.ClassCount,
		},
	}
	base, err := NewBase(spec)
	if err != nil {
		return nil, err
	}
	return &Classification{Base: base, generator: generator, classes: classes, config: config}, nil
}

// Generate implements Dataset.
func (c *Classification) Generate(n int, opts GenerateOptions) (*values.Batch, error) {
	if err := checkBatchSize(n); err != nil {
		return nil, err
	}
	batch := c.ZeroBatch(n, opts)
	worlds := values.Get[*values.Image](batch, "world")
	models := values.Get[any](batch, "world_model")
	classifications := values.Get[[]float32](batch, "classification")
	for i := 0; i < n; i++ {
		c.generator.Initialize(opts.Mode)
		world := generateWorld(c.generator)

		worlds[i] = world.Image(opts.NoiseRange)
		if opts.IncludeMetadata {
			models[i] = world.Model()
		}
		classes := c.classes(world)
		if len(classes) == 0 && !c.config.MultiClass {
			return nil, errors.Errorf("dataset %s: world %d has no class", c, i)
		}
		for _, class := range classes {
			if class < 0 || class >= c.config.NumClasses {
				return nil, errors.Errorf("dataset %s: class %d out of range [0, %d)", c, class, c.config.NumClasses)
			}
			if c.config.ClassCount {
				classifications[i][class]++
			} else {
				classifications[i][class] = 1
			}
		}
	}
	return batch, nil
}

// generateWorld retries until generator succeeds.
func generateWorld(generator WorldGenerator) World {
	for {
		if world, ok := generator.Generate(); ok {
			return world
		}
	}
}
