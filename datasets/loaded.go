package datasets

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/Noofbiz/shapeworld/archive"
	"github.com/Noofbiz/shapeworld/values"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrNoParts is returned when a mode has no part left to load.
var ErrNoParts = errors.New("no parts left")

// RecordsDir is the optional directory of auxiliary parts of a loaded
// dataset, such as pre-converted training records. They are listed by
// LoadedDataset.RecordPaths but never loaded.
const RecordsDir = "tf-records"

const partPrefix = "part"

// LoadOptions configures a LoadedDataset.
type LoadOptions struct {
	// PartOnce removes each part from its mode's list once loaded, so that
	// no part is served twice. Generate fails with ErrNoParts after all
	// parts of a mode were used.
	PartOnce bool

	// Rand is the source of randomness. Defaults to a randomly seeded one.
	Rand *rand.Rand
}

// LoadedDataset replays instances stored in parts under a directory:
//
//	<directory>/{train,validation,test}/part<N>[.<archive>]
//	<directory>/tf-records/part*   (optional)
//
// A directory with no split subdirectories may hold the parts directly, in
// which case they make up the train split. Parts are directories of records,
// or archive files if the specification names an archive kind.
//
// Instances are loaded one whole part at a time into a pool, from which
// batches are drawn uniformly without replacement. Changing mode discards
// the pool.
type LoadedDataset struct {
	*Base

	kind     archive.Kind
	parts    map[Mode][]string
	records  []string
	partOnce bool

	// tracked are the values read from parts.
	tracked []values.Field

	mu     sync.Mutex
	rng    *rand.Rand
	active bool
	mode   Mode
	pool   map[string]values.Values
	size   int
}

var _ Dataset = (*LoadedDataset)(nil)

// NewLoadedDataset creates a LoadedDataset over the parts in spec.Directory.
func NewLoadedDataset(spec *Specification, opts LoadOptions) (*LoadedDataset, error) {
	base, err := NewBase(spec)
	if err != nil {
		return nil, err
	}
	kind, err := archive.ParseKind(spec.Archive)
	if err != nil {
		return nil, err
	}
	l := &LoadedDataset{
		Base:     base,
		kind:     kind,
		partOnce: opts.PartOnce,
		rng:      opts.Rand,
	}
	if l.rng == nil {
		l.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	l.parts, l.records, err = discoverParts(spec.Directory, kind)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %s", base)
	}
	for _, f := range spec.Values.Fields() {
		if f.Type.Kind == values.KindSkip || (f.Type.Kind == values.KindMetadata && !spec.IncludeMetadata) {
			continue
		}
		l.tracked = append(l.tracked, f)
	}
	klog.Infof("dataset %s: %d train, %d validation and %d test parts in %q", base,
		len(l.parts[ModeTrain]), len(l.parts[ModeValidation]), len(l.parts[ModeTest]), spec.Directory)
	return l, nil
}

// discoverParts lists the parts of each split under dir. Part directories
// must be named part<N>; part files only need the prefix.
func discoverParts(dir string, kind archive.Kind) (map[Mode][]string, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, errors.Wrap(err, "listing dataset directory")
	}
	parts := make(map[Mode][]string)
	var records, rootParts []string
	splits := 0
	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(dir, name)
		switch {
		case entry.IsDir() && slices.Contains(Modes, Mode(name)):
			if parts[Mode(name)], err = listParts(path, kind); err != nil {
				return nil, nil, err
			}
			splits++
		case entry.IsDir() && name == RecordsDir:
			if records, err = listParts(path, archive.Zip); err != nil {
				return nil, nil, err
			}
		case isPart(name, entry.IsDir(), kind):
			rootParts = append(rootParts, path)
		case !entry.IsDir() && slices.Contains(SpecificationFileNames, name):
		default:
			return nil, nil, errors.Errorf("unexpected entry %q in dataset directory %q", name, dir)
		}
	}
	if splits > 0 && len(rootParts) > 0 {
		return nil, nil, errors.Errorf("dataset directory %q mixes split directories and parts", dir)
	}
	if len(rootParts) > 0 {
		parts[ModeTrain] = rootParts
	}
	total := 0
	for _, paths := range parts {
		total += len(paths)
	}
	if total == 0 {
		return nil, nil, errors.Errorf("no parts found in %q", dir)
	}
	return parts, records, nil
}

// listParts lists the parts of one split directory.
func listParts(dir string, kind archive.Kind) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if !isPart(entry.Name(), entry.IsDir(), kind) {
			return nil, errors.Errorf("invalid part %q in %q", entry.Name(), dir)
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}

func isPart(name string, isDir bool, kind archive.Kind) bool {
	if !strings.HasPrefix(name, partPrefix) {
		return false
	}
	if isDir {
		digits := name[len(partPrefix):]
		return kind == archive.Directory && digits != "" && strings.Trim(digits, "0123456789") == ""
	}
	return kind != archive.Directory
}

// Parts returns the parts still available for mode.
func (l *LoadedDataset) Parts(mode Mode) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.parts[splitOf(mode)])
}

// RecordPaths returns the auxiliary parts in the tf-records directory.
func (l *LoadedDataset) RecordPaths() ([]string, error) {
	if len(l.records) == 0 {
		return nil, errors.Errorf("dataset %s has no %s directory", l, RecordsDir)
	}
	return slices.Clone(l.records), nil
}

// PoolSize returns the number of instances loaded and not yet served.
func (l *LoadedDataset) PoolSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

func splitOf(mode Mode) Mode {
	if mode == ModeNone {
		return ModeTrain
	}
	return mode
}

// Generate implements Dataset. It draws n instances of the pool without
// replacement, loading new parts while the pool holds fewer than n.
func (l *LoadedDataset) Generate(n int, opts GenerateOptions) (*values.Batch, error) {
	if err := checkBatchSize(n); err != nil {
		return nil, err
	}
	if opts.IncludeMetadata && !l.spec.IncludeMetadata {
		return nil, errors.Errorf("dataset %s was stored without metadata", l)
	}
	mode := splitOf(opts.Mode)

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active || l.mode != mode {
		l.resetPool(mode)
	}
	for l.size < n {
		if err := l.refill(); err != nil {
			return nil, err
		}
	}

	batch := l.ZeroBatch(n, opts)
	for i := 0; i < n; i++ {
		index := l.rng.IntN(l.size)
		l.size--
		for _, f := range l.tracked {
			value := l.pool[f.Name].Remove(index)
			if _, found := batch.Column(f.Name); !found {
				continue
			}
			if f.Type.Alternatives && !opts.Alternatives {
				var ok bool
				if value, ok = pickAlternative(value, l.rng); !ok {
					continue
				}
			}
			if err := batch.SetInstance(f.Name, i, value); err != nil {
				return nil, errors.WithMessagef(err, "dataset %s", l)
			}
		}
	}
	if err := AddNoise(batch, l.Schema(), opts.NoiseRange, l.rng); err != nil {
		return nil, err
	}
	return batch, nil
}

func (l *LoadedDataset) resetPool(mode Mode) {
	l.active = true
	l.mode = mode
	l.size = 0
	l.pool = make(map[string]values.Values, len(l.tracked))
	for _, f := range l.tracked {
		l.pool[f.Name] = values.NewColumnFor(f.Type)
	}
}

// refill loads one randomly picked part of the active mode into the pool.
func (l *LoadedDataset) refill() error {
	parts := l.parts[l.mode]
	if len(parts) == 0 {
		return errors.Wrapf(ErrNoParts, "dataset %s, mode %s", l, l.mode)
	}
	k := l.rng.IntN(len(parts))
	path := parts[k]
	if l.partOnce {
		l.parts[l.mode] = slices.Delete(parts, k, k+1)
	}

	loaded := make(map[string]values.Values, len(l.tracked))
	count := -1
	var bytesRead uint64
	err := archive.Read(path, l.kind, func(r archive.Reader) error {
		counted := &countingReader{Reader: r, count: &bytesRead}
		for _, f := range l.tracked {
			column, err := values.Deserialize(counted, f.Name, f.Type, values.CodecOptions{
				Vocabulary:      l.Vocabulary(f.Type),
				NumConcatImages: l.spec.NumConcatImages,
			})
			if err != nil {
				return err
			}
			if count >= 0 && column.Len() != count {
				return errors.Errorf("value %q has %d instances, expected %d", f.Name, column.Len(), count)
			}
			count = column.Len()
			loaded[f.Name] = column
		}
		return nil
	})
	if err != nil {
		return errors.WithMessagef(err, "loading part %q", path)
	}
	if count <= 0 {
		return errors.Errorf("part %q holds no instances", path)
	}
	for _, f := range l.tracked {
		if err = l.pool[f.Name].Append(loaded[f.Name]); err != nil {
			return err
		}
	}
	l.size += count
	klog.V(1).Infof("dataset %s: loaded %d instances (%s) from %q, pool holds %d", l, count,
		humanize.Bytes(bytesRead), path, l.size)
	return nil
}

// countingReader sums the size of the records read.
type countingReader struct {
	archive.Reader
	count *uint64
}

func (c *countingReader) Read(name string) ([]byte, error) {
	data, err := c.Reader.Read(name)
	*c.count += uint64(len(data))
	return data, err
}

// pickAlternative returns one random element of alts, a slice of
// alternatives, or false if it is empty.
func pickAlternative(alts any, rng *rand.Rand) (any, bool) {
	v := reflect.ValueOf(alts)
	if v.Kind() != reflect.Slice || v.Len() == 0 {
		return nil, false
	}
	return v.Index(rng.IntN(v.Len())).Interface(), true
}
