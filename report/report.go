// Package report renders batches as self-contained HTML pages, one row per
// instance, for visual inspection of generated or replayed data.
package report

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"strings"

	"github.com/Noofbiz/shapeworld/values"
	"github.com/Noofbiz/shapeworld/vocab"
	"github.com/pkg/errors"
)

// Layout selects which values are shown for a dataset type, and in which
// order. Values missing from a batch are left out.
type Layout struct {
	Title  string
	Values []string
}

// Layouts maps a dataset type to its layout. Types without one show every
// value of the schema but "model" and "skip" values.
var Layouts = map[string]Layout{
	"classification": {Title: "Classification", Values: []string{"world", "classification"}},
	"agreement": {Title: "Caption agreement", Values: []string{
		"world", "caption", "caption_rpn", "agreement",
	}},
}

// Options configures HTML.
type Options struct {
	// Type selects the layout.
	Type string

	// Vocabularies decode token values, by vocabulary name. Token values
	// without a vocabulary are shown as indices.
	Vocabularies map[string]*vocab.Vocabulary
}

type page struct {
	Title   string
	Headers []string
	Rows    [][]cell
}

type cell struct {
	Images []template.URL
	Text   []string
}

var pageTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
table { border-collapse: collapse; font-family: sans-serif; }
th, td { border: 1px solid #ccc; padding: 4px 8px; vertical-align: top; }
img { image-rendering: pixelated; margin: 2px; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<table>
<tr><th>#</th>{{range .Headers}}<th>{{.}}</th>{{end}}</tr>
{{range $i, $row := .Rows}}<tr><td>{{$i}}</td>{{range $row}}<td>{{range .Images}}<img src="{{.}}">{{end}}{{range .Text}}<div>{{.}}</div>{{end}}</td>{{end}}</tr>
{{end}}</table>
</body>
</html>
`))

// HTML renders batch, whose values are described by schema.
func HTML(schema *values.Schema, batch *values.Batch, opts Options) (string, error) {
	layout, found := Layouts[opts.Type]
	if !found {
		layout = Layout{Title: opts.Type}
		for _, f := range schema.Fields() {
			if f.Type.Kind != values.KindSkip && f.Type.Kind != values.KindMetadata {
				layout.Values = append(layout.Values, f.Name)
			}
		}
	}

	p := page{Title: layout.Title, Rows: make([][]cell, batch.Size())}
	for _, name := range layout.Values {
		t, declared := schema.Lookup(name)
		column, present := batch.Column(name)
		if !declared || !present {
			continue
		}
		p.Headers = append(p.Headers, name)
		v := opts.Vocabularies[t.Vocabulary]
		for i := range p.Rows {
			c, err := render(column.At(i), v)
			if err != nil {
				return "", errors.WithMessagef(err, "value %q, instance %d", name, i)
			}
			p.Rows[i] = append(p.Rows[i], c)
		}
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, p); err != nil {
		return "", errors.Wrap(err, "rendering report")
	}
	return buf.String(), nil
}

// render formats one instance. Alternatives become one line, or one image,
// per alternative.
func render(value any, v *vocab.Vocabulary) (cell, error) {
	var c cell
	switch value := value.(type) {
	case *values.Image:
		uri, err := imageURL(value)
		if err != nil {
			return c, err
		}
		c.Images = []template.URL{uri}
	case []*values.Image:
		for _, img := range value {
			uri, err := imageURL(img)
			if err != nil {
				return c, err
			}
			c.Images = append(c.Images, uri)
		}
	case []int32:
		c.Text = []string{formatInts(value, v)}
	case [][]int32:
		for _, alt := range value {
			c.Text = append(c.Text, formatInts(alt, v))
		}
	case []float32:
		c.Text = []string{formatList(value)}
	case [][]float32:
		for _, alt := range value {
			c.Text = append(c.Text, formatList(alt))
		}
	case []string:
		c.Text = value
	case [][]string:
		for _, list := range value {
			c.Text = append(c.Text, strings.Join(list, ", "))
		}
	default:
		c.Text = []string{fmt.Sprint(value)}
	}
	return c, nil
}

func imageURL(img *values.Image) (template.URL, error) {
	data, err := values.EncodeBMP(img.NRGBA())
	if err != nil {
		return "", err
	}
	return template.URL("data:image/bmp;base64," + base64.StdEncoding.EncodeToString(data)), nil
}

// formatInts decodes token indices through v, dropping padding, or lists
// the numbers if v is nil.
func formatInts(ids []int32, v *vocab.Vocabulary) string {
	if v == nil {
		return formatList(ids)
	}
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			words = append(words, v.Word(int(id)))
		}
	}
	return strings.Join(words, " ")
}

func formatList[T int32 | float32](items []T) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, ", ")
}
