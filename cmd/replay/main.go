// replay draws batches from a dataset, writes them as parts that can be
// loaded back with "load(<out>)", and reports statistics of the stream.
//
// Examples:
//
//	replay -config "load(data/existential)" -batches 100
//	replay -config "mix(load(data/a),load(data/b))" -out data/ab -parts 4 -part-size 1000 -archive zip
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Noofbiz/shapeworld/archive"
	"github.com/Noofbiz/shapeworld/datasets"
	"github.com/Noofbiz/shapeworld/monte"
	"github.com/Noofbiz/shapeworld/values"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// GenerationIDField is the specification field identifying a run of replay.
const GenerationIDField = "generation_id"

var (
	flagConfig   = flag.String("config", "", "dataset config: load(<dir>), mix(<a>,<b>,...), a specification file or <type>/<name>")
	flagMode     = flag.String("mode", "train", "mode statistics are drawn for: train, validation, test or none")
	flagNoise    = flag.Float64("noise", 0, "scale of the Gaussian noise added to images")
	flagMetadata = flag.Bool("include-metadata", false, "generate the model values")

	flagBatches   = flag.Int("batches", 10, "number of batches drawn for statistics, 0 to skip them")
	flagBatchSize = flag.Int("batch-size", 100, "number of instances per batch drawn for statistics")
	flagReport    = flag.String("report", "", "if set, path of the JSON statistics report")
	flagPlot      = flag.String("plot", "", "if set and the dataset is a mixer, path of the source frequencies plot (.png, .svg or .pdf)")

	flagOut          = flag.String("out", "", "if set, directory parts are written to")
	flagParts        = flag.Int("parts", 1, "number of parts written per mode")
	flagPartSize     = flag.Int("part-size", 100, "number of instances per part")
	flagArchive      = flag.String("archive", "", "archive kind of the parts: \"\" (directory), zip, tar.gz, tar.zst, tar.lz4, tar.s2 or sqlite")
	flagConcatImages = flag.Bool("concat-images", false, "tile all images of a part into one record")
	flagHTML         = flag.Bool("html", false, "write an HTML report into each part")
	flagWorkers      = flag.Int("workers", 0, "number of parts serialized in parallel (0 = NumCPU)")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *flagConfig == "" {
		klog.Fatalf("-config is required")
	}
	mode := must.M1(datasets.ParseMode(*flagMode))
	ds, err := datasets.FromConfig(*flagConfig)
	if err != nil {
		klog.Fatalf("failed to resolve dataset %q: %+v", *flagConfig, err)
	}
	fmt.Printf("Dataset: %s\n", ds)

	opts := datasets.GenerateOptions{
		Mode:            mode,
		NoiseRange:      *flagNoise,
		IncludeMetadata: *flagMetadata,
	}
	if *flagOut != "" {
		if err := writeParts(ds, *flagOut, opts); err != nil {
			klog.Fatalf("failed to write parts: %+v", err)
		}
	}
	if *flagBatches > 0 {
		report, err := runMonte(ds, opts)
		if err != nil {
			klog.Fatalf("failed to draw statistics: %+v", err)
		}
		printReport(report)
		if *flagReport != "" {
			must.M(report.Save(*flagReport))
		}
		if mixer, ok := ds.(*datasets.Mixer); ok && *flagPlot != "" {
			if err := plotSources(*flagPlot, mixer, mode, report.Sources); err != nil {
				klog.Fatalf("failed to plot source frequencies: %+v", err)
			}
			fmt.Printf("Source frequencies plotted to %s\n", *flagPlot)
		}
	}
}

// hasAlternatives returns whether any value of schema holds alternatives.
func hasAlternatives(schema *values.Schema) bool {
	for _, f := range schema.Fields() {
		if f.Type.Alternatives {
			return true
		}
	}
	return false
}

// writeParts generates -parts parts of -part-size instances for every mode,
// into <out>/<mode>/part<k>, and saves the specification that loads them.
// Batches are generated in order and serialized in parallel.
func writeParts(ds datasets.Dataset, out string, opts datasets.GenerateOptions) error {
	kind, err := archive.ParseKind(*flagArchive)
	if err != nil {
		return err
	}
	if *flagParts < 1 || *flagPartSize < 1 {
		return errors.Errorf("-parts and -part-size must be >= 1, got %d and %d", *flagParts, *flagPartSize)
	}
	opts.Alternatives = hasAlternatives(ds.Descriptor().Schema)
	serializeOpts := datasets.SerializeOptions{Archive: kind, ConcatImages: *flagConcatImages, HTML: *flagHTML}

	if err := os.MkdirAll(out, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", out)
	}
	workers := *flagWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	total := len(datasets.Modes) * *flagParts
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("writing parts"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	var g errgroup.Group
	g.SetLimit(workers)
	for _, mode := range datasets.Modes {
		opts.Mode = mode
		for k := 0; k < *flagParts; k++ {
			batch, err := ds.Generate(*flagPartSize, opts)
			if err != nil {
				_ = g.Wait()
				return errors.WithMessagef(err, "generating %s part %d", mode, k)
			}
			path := filepath.Join(out, string(mode), fmt.Sprintf("part%d", k))
			g.Go(func() error {
				if err := datasets.Serialize(path, ds, batch, serializeOpts); err != nil {
					return err
				}
				klog.V(1).Infof("wrote %s", kind.Path(path))
				return bar.Add(1)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	_ = bar.Finish()

	spec := ds.Specification()
	spec.Directory = ""
	spec.Archive = string(kind)
	spec.IncludeMetadata = opts.IncludeMetadata
	spec.NumConcatImages = 0
	if *flagConcatImages {
		spec.NumConcatImages = *flagPartSize
	}
	if spec.Extra == nil {
		spec.Extra = make(map[string]any)
	}
	spec.Extra[GenerationIDField] = uuid.NewString()
	if err := spec.Save(filepath.Join(out, "specification.json")); err != nil {
		return err
	}

	size, err := dirSize(out)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s instances in %d parts to %s (%s), generation %s\n",
		humanize.Comma(int64(total * *flagPartSize)), total, out, humanize.Bytes(size), spec.Extra[GenerationIDField])
	return nil
}

func dirSize(dir string) (uint64, error) {
	var size uint64
	err := filepath.WalkDir(dir, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		size += uint64(info.Size())
		return nil
	})
	return size, errors.Wrapf(err, "measuring %s", dir)
}

func runMonte(ds datasets.Dataset, opts datasets.GenerateOptions) (*monte.Report, error) {
	m, err := monte.NewMonte(ds, *flagBatchSize)
	if err != nil {
		return nil, err
	}
	m.Options = opts
	bar := progressbar.NewOptions(*flagBatches,
		progressbar.OptionSetDescription("drawing batches"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	report, err := m.Run(*flagBatches, func(*values.Batch) { _ = bar.Add(1) })
	_ = bar.Finish()
	return report, err
}

func printReport(report *monte.Report) {
	fmt.Printf("%s instances of %s\n", humanize.Comma(int64(report.Instances)), report.Dataset)
	for _, s := range report.Summaries {
		fmt.Printf("  %-20s n=%-10s mean=%-10.4g std=%-10.4g min=%-10.4g max=%.4g\n",
			s.Name, humanize.Comma(int64(s.Count)), s.Mean, s.StdDev, s.Min, s.Max)
	}
	for name, counts := range report.Words {
		top := counts[:min(len(counts), 10)]
		parts := make([]string, len(top))
		for i, c := range top {
			parts[i] = fmt.Sprintf("%s:%d", c.Word, c.Count)
		}
		fmt.Printf("  %-20s %d distinct words, most frequent %s\n", name, len(counts), strings.Join(parts, " "))
	}
	for k, fraction := range report.Sources {
		fmt.Printf("  source %d: %.2f%%\n", k, 100*fraction)
	}
}
