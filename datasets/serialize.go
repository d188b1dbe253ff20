package datasets

import (
	"github.com/Noofbiz/shapeworld/archive"
	"github.com/Noofbiz/shapeworld/report"
	"github.com/Noofbiz/shapeworld/values"
	"github.com/pkg/errors"
)

// HTMLRecord is the record holding the report written by Serialize.
const HTMLRecord = "data.html"

// Additional is a value serialized along with a batch, though not part of
// the dataset schema.
type Additional struct {
	Type   values.Type
	Values values.Values
}

// SerializeOptions configures Serialize.
type SerializeOptions struct {
	// Archive is the kind of container written.
	Archive archive.Kind

	// ConcatImages tiles the images of each value into a single bitmap.
	ConcatImages bool

	// HTML also writes a report of the batch as HTMLRecord.
	HTML bool

	// Additional values to write, by name.
	Additional map[string]Additional
}

// Serialize writes batch, generated by ds, as one part at path.
//
// Values are written in schema order. Values the batch lacks, such as
// "model" values of a batch generated without metadata, are not written.
// If the schema has "alts(...)" values, batch must have been generated with
// alternatives.
func Serialize(path string, ds Dataset, batch *values.Batch, opts SerializeOptions) error {
	schema := ds.Descriptor().Schema
	_, alternatives := batch.Column(AlternativesValue)
	for _, f := range schema.Fields() {
		if f.Type.Alternatives && !alternatives {
			return errors.Errorf("dataset %s: value %q needs a batch generated with alternatives", ds, f.Name)
		}
	}
	for name := range opts.Additional {
		if _, found := schema.Lookup(name); found {
			return errors.Errorf("dataset %s: additional value %q is already part of the schema", ds, name)
		}
	}

	tables := ds.Tables()
	write := func(w archive.Writer, name string, t values.Type, column values.Values) error {
		if column.Len() != batch.Size() {
			return errors.Errorf("value %q has %d instances, batch has %d", name, column.Len(), batch.Size())
		}
		return values.Serialize(w, name, t, column, values.CodecOptions{
			Vocabulary:   tables.Vocabularies[t.Vocabulary],
			ConcatImages: opts.ConcatImages,
		})
	}
	err := archive.Write(path, opts.Archive, func(w archive.Writer) error {
		for _, f := range schema.Fields() {
			column, found := batch.Column(f.Name)
			if !found || f.Type.Kind == values.KindSkip {
				continue
			}
			if err := write(w, f.Name, f.Type, column); err != nil {
				return err
			}
		}
		for _, name := range sortedKeys(opts.Additional) {
			extra := opts.Additional[name]
			if err := write(w, name, extra.Type, extra.Values); err != nil {
				return err
			}
		}
		if !opts.HTML {
			return nil
		}
		html, err := report.HTML(schema, batch, report.Options{
			Type:         ds.Descriptor().Type,
			Vocabularies: tables.Vocabularies,
		})
		if err != nil {
			return err
		}
		return w.Write(HTMLRecord, []byte(html))
	})
	return errors.WithMessagef(err, "dataset %s: serializing to %q", ds, path)
}
