package table

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"panorama/internal/model"
)

var (
	ErrInvalidJSON = errors.New("table: invalid JSON")
	ErrInvalidUTF8 = errors.New("table: body is not valid UTF-8")
)

func Decode(body []byte, shape model.ResponseShape) (model.Table, error) {
	if !utf8.Valid(body) {
		return model.Table{}, ErrInvalidUTF8
	}
	if !gjson.ValidBytes(body) {
		return model.Table{}, ErrInvalidJSON
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return model.Table{}, fmt.Errorf("table: expected a JSON array, got %s", root.Type)
	}
	items := root.Array()

	switch shape {
	case model.ShapeHeaderMap:
		return decodeHeaderMap(items)
	case model.ShapeRecords:
		return decodeRecords(items)
	default:
		return model.Table{}, fmt.Errorf("table: unknown response shape %q", shape)
	}
}

// decodeHeaderMap reads element 0 as a code -> label dictionary and the rest
// as rows keyed by the same codes.
func decodeHeaderMap(items []gjson.Result) (model.Table, error) {
	out := model.Table{}
	if len(items) == 0 {
		return out, nil
	}
	header := items[0]
	if !header.IsObject() {
		return model.Table{}, fmt.Errorf("table: header element is %s, want object", header.Type)
	}

	index := make(map[string]int)
	addCode := func(code, label string) {
		if _, ok := index[code]; ok {
			return
		}
		if label == "" {
			label = code
		}
		index[code] = len(out.Columns)
		out.Columns = append(out.Columns, label)
		out.Codes = append(out.Codes, code)
	}

	header.ForEach(func(key, value gjson.Result) bool {
		addCode(key.String(), value.String())
		return true
	})

	rows := items[1:]
	for i, item := range rows {
		if !item.IsObject() {
			return model.Table{}, fmt.Errorf("table: row %d is %s, want object", i+1, item.Type)
		}
		item.ForEach(func(key, _ gjson.Result) bool {
			addCode(key.String(), "")
			return true
		})
	}

	out.Rows = buildRows(rows, index, len(out.Columns))
	if len(rows) > 0 {
		out.Sample = []byte(rows[0].Raw)
	}
	return out, nil
}

// decodeRecords uses already-named objects as-is. Column order follows the
// order in which keys are first seen.
func decodeRecords(items []gjson.Result) (model.Table, error) {
	out := model.Table{}
	index := make(map[string]int)
	for i, item := range items {
		if !item.IsObject() {
			return model.Table{}, fmt.Errorf("table: record %d is %s, want object", i, item.Type)
		}
		item.ForEach(func(key, _ gjson.Result) bool {
			name := key.String()
			if _, ok := index[name]; !ok {
				index[name] = len(out.Columns)
				out.Columns = append(out.Columns, name)
				out.Codes = append(out.Codes, name)
			}
			return true
		})
	}

	out.Rows = buildRows(items, index, len(out.Columns))
	if len(items) > 0 {
		out.Sample = []byte(items[0].Raw)
	}
	return out, nil
}

func buildRows(items []gjson.Result, index map[string]int, width int) [][]model.Cell {
	rows := make([][]model.Cell, 0, len(items))
	for _, item := range items {
		row := make([]model.Cell, width)
		for i := range row {
			row[i] = model.MissingCell()
		}
		item.ForEach(func(key, value gjson.Result) bool {
			if i, ok := index[key.String()]; ok {
				row[i] = cellFromJSON(value)
			}
			return true
		})
		rows = append(rows, row)
	}
	return rows
}

func cellFromJSON(value gjson.Result) model.Cell {
	switch value.Type {
	case gjson.Null:
		return model.MissingCell()
	case gjson.String:
		return model.TextCell(value.Str)
	default:
		// numbers keep their literal text so no precision is lost before coercion
		return model.TextCell(value.Raw)
	}
}
