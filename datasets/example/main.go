package main

// Example command that loads a dataset from a config string and converts a
// few batches into gomlx tensors with datasets.Stream.
//
// Usage:
//
//	go run ./datasets/example -config "load(data/existential)" -inputs world,caption -labels agreement
//
// Parts can be generated with cmd/replay.

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/Noofbiz/shapeworld/datasets"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagConfig    = flag.String("config", "", "dataset config, e.g. load(<dir>)")
	flagMode      = flag.String("mode", "train", "mode batches are drawn for")
	flagInputs    = flag.String("inputs", "world", "comma-separated values used as inputs")
	flagLabels    = flag.String("labels", "", "comma-separated values used as labels")
	flagBatchSize = flag.Int("batch-size", 8, "instances per batch")
	flagBatches   = flag.Int("batches", 2, "batches per epoch")
)

func splitNames(list string) []string {
	if list == "" {
		return nil
	}
	names := strings.Split(list, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	return names
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	ds, err := datasets.FromConfig(*flagConfig)
	if err != nil {
		klog.Fatalf("failed to load dataset %q: %+v", *flagConfig, err)
	}
	fmt.Printf("Loaded %s\n", ds)
	for _, f := range ds.Descriptor().Schema.Fields() {
		fmt.Printf("  %-20s %s\n", f.Name, f.Type)
	}

	stream := &datasets.Stream{
		Dataset:    ds,
		BatchSize:  *flagBatchSize,
		Options:    datasets.GenerateOptions{Mode: must.M1(datasets.ParseMode(*flagMode))},
		Inputs:     splitNames(*flagInputs),
		Labels:     splitNames(*flagLabels),
		NumBatches: *flagBatches,
	}
	for b := 0; ; b++ {
		_, inputs, labels, err := stream.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			klog.Fatalf("failed to yield batch %d: %+v", b, err)
		}
		fmt.Printf("Batch %d:\n", b)
		for i, t := range inputs {
			fmt.Printf("  input %-14s %s\n", stream.Inputs[i], t.Shape())
		}
		for i, t := range labels {
			fmt.Printf("  label %-14s %s\n", stream.Labels[i], t.Shape())
		}
	}
	fmt.Println("Example completed successfully!")
}
