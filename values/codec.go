package values

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/Noofbiz/shapeworld/vocab"
	"github.com/pkg/errors"
)

// Writer stores named records. It is implemented by the archive package.
type Writer interface {
	Write(name string, data []byte) error
}

// Reader returns named records. A missing record yields an error for which
// errors.Is(err, fs.ErrNotExist) holds.
type Reader interface {
	Read(name string) ([]byte, error)
}

// Reserved separators of the text records. Values containing them do not
// survive a round trip; they are not escaped.
const (
	lineSeparator        = "\n"
	alternativeSeparator = ";"
	componentSeparator   = ","
	tokenSeparator       = " "
	stringListSeparator  = " || "
	stringItemSeparator  = ", "
)

// String lists can hold empty strings, so their empty lists are written as
// reserved markers, one per nesting level. Strings equal to a marker are not
// supported either.
const (
	emptyStringList     = "[]"
	emptyStringItemList = "()"
)

// CodecOptions configures Serialize and Deserialize.
type CodecOptions struct {
	// Vocabulary is required by token values.
	Vocabulary *vocab.Vocabulary

	// ConcatImages makes Serialize tile all images of a value into one bitmap.
	ConcatImages bool

	// NumConcatImages tells Deserialize that the images of a non-alternatives
	// value were tiled, and how many there are. Zero means one bitmap per image.
	NumConcatImages int
}

// RecordName returns the record holding the text or JSON encoding of value name.
func RecordName(name string, t Type) string {
	if t.Kind == KindMetadata {
		return name + ".json"
	}
	return name + ".txt"
}

func imageRecord(name string, k int) string {
	return fmt.Sprintf("%s-%d.bmp", name, k)
}

func alternativeImageRecord(name string, k, j int) string {
	return fmt.Sprintf("%s-%d-%d.bmp", name, k, j)
}

// Serialize encodes the instances of value name into w.
//
//   - int, float: one instance per line; alternatives joined by ";".
//   - vectors: components joined by ","; alternatives joined by ";".
//   - tokens: words joined by " ", one instance per line, trailing padding
//     dropped.
//   - str_list, str_list_list, str_list_list_list: one instance per line,
//     nested levels joined by " || " then ", ", empty lists written "[]" and
//     "()" respectively.
//   - alternatives of tokens and string lists: per instance, a line with the
//     number of alternatives followed by one line per alternative.
//   - model: a single JSON document with the list of all instances.
//   - world: one "<name>-<k>.bmp" bitmap per instance, or a single tiled
//     "<name>.bmp" with opts.ConcatImages. Alternatives also store the number
//     of alternatives per instance in "<name>.txt".
//
// "skip" values are never written.
func Serialize(w Writer, name string, t Type, column Values, opts CodecOptions) error {
	err := serialize(w, name, t, column, opts)
	return errors.Wrapf(err, "serializing value %q (%s)", name, t)
}

func serialize(w Writer, name string, t Type, column Values, opts CodecOptions) error {
	switch t.Kind {
	case KindSkip:
		return nil
	case KindImage:
		return serializeImages(w, name, t, column, opts)
	case KindMetadata:
		items, err := columnItems[any](column)
		if err != nil {
			return err
		}
		if items == nil {
			items = []any{}
		}
		data, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encoding metadata")
		}
		return w.Write(RecordName(name, t), data)
	}

	var lines []string
	var err error
	switch t.Kind {
	case KindInt:
		lines, err = encodeLines(column, t.Alternatives, formatInt32, alternativeSeparator)
	case KindFloat:
		lines, err = encodeLines(column, t.Alternatives, formatFloat, alternativeSeparator)
	case KindIntVector:
		if err = checkAlternativeVectors[int32](column, t.Alternatives); err != nil {
			return err
		}
		lines, err = encodeLines(column, t.Alternatives, joinWith(formatInt32, componentSeparator), alternativeSeparator)
	case KindFloatVector:
		if err = checkAlternativeVectors[float32](column, t.Alternatives); err != nil {
			return err
		}
		lines, err = encodeLines(column, t.Alternatives, joinWith(formatFloat, componentSeparator), alternativeSeparator)
	case KindStrings:
		lines, err = encodeInstances(column, t.Alternatives, identity)
	case KindStringLists:
		lines, err = encodeInstances(column, t.Alternatives, joinList(identity, stringListSeparator, emptyStringList))
	case KindStringListLists:
		lines, err = encodeInstances(column, t.Alternatives,
			joinList(joinList(identity, stringItemSeparator, emptyStringItemList), stringListSeparator, emptyStringList))
	case KindTokens:
		if opts.Vocabulary == nil {
			return errors.Errorf("no vocabulary %q given", t.Vocabulary)
		}
		lines, err = encodeInstances(column, t.Alternatives, func(ids []int32) string {
			return encodeTokens(ids, opts.Vocabulary)
		})
	default:
		return errors.Errorf("unsupported value kind %s", t.Kind)
	}
	if err != nil {
		return err
	}
	return w.Write(RecordName(name, t), []byte(joinLines(lines)))
}

// Deserialize decodes the instances of value name from r. It is the inverse
// of Serialize given the same type and options.
func Deserialize(r Reader, name string, t Type, opts CodecOptions) (Values, error) {
	column, err := deserialize(r, name, t, opts)
	return column, errors.Wrapf(err, "deserializing value %q (%s)", name, t)
}

func deserialize(r Reader, name string, t Type, opts CodecOptions) (Values, error) {
	switch t.Kind {
	case KindSkip:
		return nil, errors.New("skip values are not serialized")
	case KindImage:
		return deserializeImages(r, name, t, opts)
	case KindTokens:
		if opts.Vocabulary == nil {
			return nil, errors.Errorf("no vocabulary %q given", t.Vocabulary)
		}
	}

	data, err := r.Read(RecordName(name, t))
	if err != nil {
		return nil, err
	}
	if t.Kind == KindMetadata {
		var items []any
		if err = json.Unmarshal(data, &items); err != nil {
			return nil, errors.Wrap(err, "decoding metadata")
		}
		return NewColumn(items), nil
	}

	lines, err := splitRecords(string(data), lineSeparator)
	if err != nil {
		return nil, err
	}
	switch t.Kind {
	case KindInt:
		return decodeLines(lines, t.Alternatives, parseInt32, alternativeSeparator)
	case KindFloat:
		return decodeLines(lines, t.Alternatives, parseFloat32, alternativeSeparator)
	case KindIntVector:
		return decodeLines(lines, t.Alternatives, splitWith(parseInt32, componentSeparator, ""), alternativeSeparator)
	case KindFloatVector:
		return decodeLines(lines, t.Alternatives, splitWith(parseFloat32, componentSeparator, ""), alternativeSeparator)
	case KindStrings:
		return decodeInstances(lines, t.Alternatives, parseString)
	case KindStringLists:
		return decodeInstances(lines, t.Alternatives, splitWith(parseString, stringListSeparator, emptyStringList))
	case KindStringListLists:
		return decodeInstances(lines, t.Alternatives,
			splitWith(splitWith(parseString, stringItemSeparator, emptyStringItemList), stringListSeparator, emptyStringList))
	case KindTokens:
		return decodeInstances(lines, t.Alternatives, func(s string) ([]int32, error) {
			return decodeTokens(s, opts.Vocabulary)
		})
	}
	return nil, errors.Errorf("unsupported value kind %s", t.Kind)
}

func columnItems[T any](column Values) ([]T, error) {
	c, ok := column.(*Column[T])
	if !ok {
		var zero T
		return nil, errors.Errorf("expected a column of %T, got %T", zero, column)
	}
	return c.items, nil
}

// encodeLines formats one line per instance. With alternatives each instance
// is a []T whose formatted elements are joined by altSep.
func encodeLines[T any](column Values, alternatives bool, format func(T) string, altSep string) ([]string, error) {
	if alternatives {
		items, err := columnItems[[]T](column)
		if err != nil {
			return nil, err
		}
		lines := make([]string, len(items))
		for i, alts := range items {
			lines[i] = joinWith(format, altSep)(alts)
		}
		return lines, nil
	}
	items, err := columnItems[T](column)
	if err != nil {
		return nil, err
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = format(item)
	}
	return lines, nil
}

func decodeLines[T any](lines []string, alternatives bool, parse func(string) (T, error), altSep string) (Values, error) {
	if alternatives {
		items := make([][]T, len(lines))
		for i, line := range lines {
			var err error
			if items[i], err = decodeList(line, altSep, "", parse); err != nil {
				return nil, errors.Wrapf(err, "line %d", i)
			}
		}
		return NewColumn(items), nil
	}
	items := make([]T, len(lines))
	for i, line := range lines {
		var err error
		if items[i], err = parse(line); err != nil {
			return nil, errors.Wrapf(err, "line %d", i)
		}
	}
	return NewColumn(items), nil
}

// encodeInstances formats one line per instance. With alternatives, each
// instance is a line holding the number of alternatives followed by one line
// per alternative, so that empty alternatives keep their place.
func encodeInstances[T any](column Values, alternatives bool, format func(T) string) ([]string, error) {
	if !alternatives {
		return encodeLines(column, false, format, "")
	}
	items, err := columnItems[[]T](column)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, alts := range items {
		lines = append(lines, strconv.Itoa(len(alts)))
		for _, item := range alts {
			lines = append(lines, format(item))
		}
	}
	return lines, nil
}

func decodeInstances[T any](lines []string, alternatives bool, parse func(string) (T, error)) (Values, error) {
	if !alternatives {
		return decodeLines(lines, false, parse, "")
	}
	var items [][]T
	for i := 0; i < len(lines); {
		count, err := strconv.Atoi(lines[i])
		if err != nil || count < 0 {
			return nil, errors.Errorf("malformed number of alternatives %q at line %d", lines[i], i)
		}
		if i+1+count > len(lines) {
			return nil, errors.Errorf("instance %d: %d alternatives announced at line %d, %d lines left",
				len(items), count, i, len(lines)-i-1)
		}
		alts := make([]T, count)
		for j := range alts {
			if alts[j], err = parse(lines[i+1+j]); err != nil {
				return nil, errors.Wrapf(err, "line %d", i+1+j)
			}
		}
		items = append(items, alts)
		i += 1 + count
	}
	if items == nil {
		items = [][]T{}
	}
	return NewColumn(items), nil
}

// checkAlternativeVectors rejects empty vectors among alternatives, which
// would be indistinguishable from an instance without alternatives.
func checkAlternativeVectors[T any](column Values, alternatives bool) error {
	if !alternatives {
		return nil
	}
	items, err := columnItems[[][]T](column)
	if err != nil {
		return err
	}
	for k, alts := range items {
		for j, vector := range alts {
			if len(vector) == 0 {
				return errors.Errorf("instance %d: alternative %d is an empty vector", k, j)
			}
		}
	}
	return nil
}

// joinWith formats each element and joins them with sep.
func joinWith[T any](format func(T) string, sep string) func([]T) string {
	return func(items []T) string {
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = format(item)
		}
		return strings.Join(parts, sep)
	}
}

// joinList is joinWith writing the empty list as empty.
func joinList[T any](format func(T) string, sep, empty string) func([]T) string {
	join := joinWith(format, sep)
	return func(items []T) string {
		if len(items) == 0 {
			return empty
		}
		return join(items)
	}
}

// splitWith is the inverse of joinWith, or of joinList given the same empty
// marker. Without a marker the empty string is the empty list.
func splitWith[T any](parse func(string) (T, error), sep, empty string) func(string) ([]T, error) {
	return func(s string) ([]T, error) {
		return decodeList(s, sep, empty, parse)
	}
}

func decodeList[T any](s, sep, empty string, parse func(string) (T, error)) ([]T, error) {
	if s == empty {
		return []T{}, nil
	}
	parts := strings.Split(s, sep)
	items := make([]T, len(parts))
	for i, part := range parts {
		var err error
		if items[i], err = parse(part); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// joinLines terminates every line with a newline.
func joinLines(lines []string) string {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteString(lineSeparator)
	}
	return sb.String()
}

// splitRecords splits text into the records it holds, each terminated by sep.
func splitRecords(text, sep string) ([]string, error) {
	if text == "" {
		return nil, nil
	}
	if !strings.HasSuffix(text, sep) {
		return nil, errors.Errorf("malformed record: missing final %q", sep)
	}
	return strings.Split(strings.TrimSuffix(text, sep), sep), nil
}

func identity(s string) string { return s }

func parseString(s string) (string, error) { return s, nil }

func parseInt32(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed int %q", s)
	}
	return int32(v), nil
}

func parseFloat32(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed float %q", s)
	}
	return float32(v), nil
}

// formatFloat writes the shortest representation that parses back to v,
// always with a decimal point or exponent: 1 -> "1.0", 0.5 -> "0.5".
func formatFloat(v float32) string {
	s := strconv.FormatFloat(float64(v), 'g', -1, 32)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// encodeTokens writes the words of ids, without the trailing padding.
func encodeTokens(ids []int32, v *vocab.Vocabulary) string {
	end := len(ids)
	for end > 0 && ids[end-1] == 0 {
		end--
	}
	words := make([]string, end)
	for i, id := range ids[:end] {
		words[i] = v.Word(int(id))
	}
	return strings.Join(words, tokenSeparator)
}

func decodeTokens(s string, v *vocab.Vocabulary) ([]int32, error) {
	return decodeList(s, tokenSeparator, "", func(word string) (int32, error) {
		id, found := v.ID(word)
		if !found {
			return 0, errors.Errorf("word %q not in vocabulary", word)
		}
		return int32(id), nil
	})
}

func serializeImages(w Writer, name string, t Type, column Values, opts CodecOptions) error {
	var images []*Image
	if t.Alternatives {
		items, err := columnItems[[]*Image](column)
		if err != nil {
			return err
		}
		counts := make([]string, len(items))
		for k, alts := range items {
			counts[k] = strconv.Itoa(len(alts))
			if !opts.ConcatImages {
				for j, img := range alts {
					if err = writeImage(w, alternativeImageRecord(name, k, j), img); err != nil {
						return err
					}
				}
			}
			images = append(images, alts...)
		}
		if err = w.Write(RecordName(name, t), []byte(joinLines(counts))); err != nil {
			return err
		}
		if !opts.ConcatImages {
			return nil
		}
	} else {
		var err error
		if images, err = columnItems[*Image](column); err != nil {
			return err
		}
		if !opts.ConcatImages {
			for k, img := range images {
				if err = writeImage(w, imageRecord(name, k), img); err != nil {
					return err
				}
			}
			return nil
		}
	}
	if len(images) == 0 {
		return nil
	}
	grid, err := Tile(images)
	if err != nil {
		return err
	}
	data, err := EncodeBMP(grid)
	if err != nil {
		return err
	}
	return w.Write(name+".bmp", data)
}

func writeImage(w Writer, record string, img *Image) error {
	data, err := EncodeBMP(img.NRGBA())
	if err != nil {
		return errors.Wrapf(err, "record %q", record)
	}
	return w.Write(record, data)
}

func readImage(r Reader, record string) (*Image, error) {
	data, err := r.Read(record)
	if err != nil {
		return nil, err
	}
	img, err := DecodeBMP(data)
	return img, errors.Wrapf(err, "record %q", record)
}

func readTiled(r Reader, name string, count int) ([]*Image, error) {
	if count == 0 {
		return nil, nil
	}
	grid, err := readImage(r, name+".bmp")
	if err != nil {
		return nil, err
	}
	return Untile(grid, count)
}

func deserializeImages(r Reader, name string, t Type, opts CodecOptions) (Values, error) {
	if t.Alternatives {
		data, err := r.Read(RecordName(name, t))
		if err != nil {
			return nil, err
		}
		lines, err := splitRecords(string(data), lineSeparator)
		if err != nil {
			return nil, err
		}
		counts := make([]int, len(lines))
		total := 0
		for k, line := range lines {
			if counts[k], err = strconv.Atoi(line); err != nil || counts[k] < 0 {
				return nil, errors.Errorf("malformed number of alternatives %q at line %d", line, k)
			}
			total += counts[k]
		}
		// A single tiled bitmap exists only if the images were concatenated.
		tiled, err := readTiled(r, name, total)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		concatenated := err == nil
		items := make([][]*Image, len(counts))
		next := 0
		for k, count := range counts {
			items[k] = make([]*Image, count)
			for j := range items[k] {
				if concatenated {
					items[k][j] = tiled[next]
					next++
				} else if items[k][j], err = readImage(r, alternativeImageRecord(name, k, j)); err != nil {
					return nil, err
				}
			}
		}
		return NewColumn(items), nil
	}

	if opts.NumConcatImages > 0 {
		images, err := readTiled(r, name, opts.NumConcatImages)
		if err != nil {
			return nil, err
		}
		return NewColumn(images), nil
	}
	var images []*Image
	for k := 0; ; k++ {
		img, err := readImage(r, imageRecord(name, k))
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return NewColumn(images), nil
}

func formatInt32(v int32) string { return strconv.FormatInt(int64(v), 10) }
