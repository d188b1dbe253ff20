// Package monte estimates the statistics of a dataset stream by Monte Carlo
// sampling: it draws batches, then summarizes every numeric value, counts
// the words of token values and, for mixers, how often each source was
// picked.
package monte

import (
	"encoding/json"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/Noofbiz/shapeworld/datasets"
	"github.com/Noofbiz/shapeworld/values"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// Summary describes the samples drawn for one numeric value. Vector values
// contribute every component, images the mean intensity of each image.
type Summary struct {
	Name   string  `json:"name"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// WordCount is the number of occurrences of a word.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Report holds the result of a Monte run.
type Report struct {
	Dataset   string `json:"dataset"`
	Instances int    `json:"instances"`

	// Summaries are in schema order.
	Summaries []Summary `json:"summaries"`

	// Words maps each token value to its word counts, most frequent first.
	// Padding is not counted.
	Words map[string][]WordCount `json:"words,omitempty"`

	// Sources holds, for mixers, the fraction of instances drawn from each
	// source.
	Sources []float64 `json:"sources,omitempty"`
}

// Save writes the report as JSON.
func (r *Report) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding report")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "saving report")
}

// Monte draws batches from DS to estimate its statistics.
type Monte struct {
	DS        datasets.Dataset
	BatchSize int
	Options   datasets.GenerateOptions

	// Workers is the number of goroutines summarizing values. Defaults to
	// the number of CPUs.
	Workers int
}

// NewMonte creates a new Monte object drawing batches of batchSize.
func NewMonte(ds datasets.Dataset, batchSize int) (*Monte, error) {
	if ds == nil {
		return nil, errors.New("dataset cannot be nil")
	}
	if batchSize < 1 {
		return nil, errors.Errorf("batch size must be >= 1, got %d", batchSize)
	}
	return &Monte{DS: ds, BatchSize: batchSize, Workers: runtime.NumCPU()}, nil
}

// SetMode sets the mode batches are drawn for.
func (m *Monte) SetMode(mode datasets.Mode) {
	if m == nil {
		return
	}
	m.Options.Mode = mode
}

// Run draws numBatches batches and summarizes them. onBatch, if not nil, is
// called after each batch, for progress reporting.
func (m *Monte) Run(numBatches int, onBatch func(batch *values.Batch)) (*Report, error) {
	if m == nil {
		return nil, errors.New("Monte object is nil")
	}
	if numBatches <= 0 {
		return nil, errors.Errorf("numBatches must be > 0, got %d", numBatches)
	}

	mixer, isMixer := m.DS.(*datasets.Mixer)
	var sourceCounts []int
	if isMixer {
		sourceCounts = make([]int, mixer.NumSources())
	}
	schema := m.DS.Descriptor().Schema
	samples := make(map[string][]float64)
	words := make(map[string]map[int32]int)
	instances := 0
	for b := 0; b < numBatches; b++ {
		var batch *values.Batch
		var err error
		if isMixer {
			var sources []int
			batch, sources, err = mixer.GenerateWithSources(m.BatchSize, m.Options)
			for _, k := range sources {
				sourceCounts[k]++
			}
		} else {
			batch, err = m.DS.Generate(m.BatchSize, m.Options)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "batch %d", b)
		}
		instances += batch.Size()
		for _, f := range schema.Fields() {
			column, found := batch.Column(f.Name)
			if !found {
				continue
			}
			if f.Type.Kind == values.KindTokens {
				if words[f.Name] == nil {
					words[f.Name] = make(map[int32]int)
				}
				countWords(column, words[f.Name])
				continue
			}
			samples[f.Name] = appendSamples(samples[f.Name], column)
		}
		if onBatch != nil {
			onBatch(batch)
		}
	}

	report := &Report{Dataset: m.DS.String(), Instances: instances}
	for _, f := range schema.Fields() {
		if len(samples[f.Name]) > 0 {
			report.Summaries = append(report.Summaries, Summary{Name: f.Name})
		}
	}
	m.summarize(report.Summaries, samples)

	tables := m.DS.Tables()
	if len(words) > 0 {
		report.Words = make(map[string][]WordCount, len(words))
	}
	for name, counts := range words {
		t, _ := schema.Lookup(name)
		report.Words[name] = sortedWordCounts(counts, func(id int32) string {
			return tables.Vocabularies[t.Vocabulary].Word(int(id))
		})
	}
	if isMixer {
		report.Sources = make([]float64, len(sourceCounts))
		for k, count := range sourceCounts {
			report.Sources[k] = float64(count) / float64(instances)
		}
	}
	klog.V(1).Infof("monte: %d instances of %s summarized", instances, report.Dataset)
	return report, nil
}

// summarize fills summaries from samples, with a pool of workers.
func (m *Monte) summarize(summaries []Summary, samples map[string][]float64) {
	workerCount := max(1, min(m.Workers, len(summaries)))
	jobs := make(chan int, len(summaries))
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				s := &summaries[i]
				xs := samples[s.Name]
				s.Count = len(xs)
				if s.Count == 0 {
					continue
				}
				s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
				s.Min, s.Max = floats.Min(xs), floats.Max(xs)
			}
		}()
	}
	for i := range summaries {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

// appendSamples adds the numbers of column to xs. Columns of non-numeric
// values leave xs unchanged.
func appendSamples(xs []float64, column values.Values) []float64 {
	switch c := column.(type) {
	case *values.Column[int32]:
		for _, v := range c.Items() {
			xs = append(xs, float64(v))
		}
	case *values.Column[float32]:
		for _, v := range c.Items() {
			xs = append(xs, float64(v))
		}
	case *values.Column[[]int32]:
		for _, vs := range c.Items() {
			for _, v := range vs {
				xs = append(xs, float64(v))
			}
		}
	case *values.Column[[]float32]:
		for _, vs := range c.Items() {
			for _, v := range vs {
				xs = append(xs, float64(v))
			}
		}
	case *values.Column[*values.Image]:
		for _, img := range c.Items() {
			xs = append(xs, meanIntensity(img))
		}
	case *values.Column[[]*values.Image]:
		for _, alts := range c.Items() {
			for _, img := range alts {
				xs = append(xs, meanIntensity(img))
			}
		}
	}
	return xs
}

func meanIntensity(img *values.Image) float64 {
	if len(img.Pix) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range img.Pix {
		sum += float64(v)
	}
	return sum / float64(len(img.Pix))
}

// countWords counts the non-padding tokens of a token column, with or
// without alternatives.
func countWords(column values.Values, counts map[int32]int) {
	count := func(ids []int32) {
		for _, id := range ids {
			if id != 0 {
				counts[id]++
			}
		}
	}
	switch c := column.(type) {
	case *values.Column[[]int32]:
		for _, ids := range c.Items() {
			count(ids)
		}
	case *values.Column[[][]int32]:
		for _, alts := range c.Items() {
			for _, ids := range alts {
				count(ids)
			}
		}
	}
}

func sortedWordCounts(counts map[int32]int, word func(int32) string) []WordCount {
	out := make([]WordCount, 0, len(counts))
	for id, count := range counts {
		out = append(out, WordCount{Word: word(id), Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	return out
}
