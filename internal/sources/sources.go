package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"panorama/internal/model"
)

// sidraRename maps SIDRA column labels to canonical names for tables using the
// "Setores e subsetores" classification.
func sidraRename() map[string]string {
	return map[string]string{
		"Nível Territorial (Código)":    "nivel_territorial_cod",
		"Nível Territorial":             "nivel_territorial_nome",
		"Unidade de Medida (Código)":    "unidade_medida_cod",
		"Unidade de Medida":             "unidade_medida_nome",
		"Valor":                         "valor",
		"Trimestre (Código)":            "trimestre_codigo",
		"Trimestre":                     "trimestre_nome",
		"Brasil (Código)":               "geo_cod",
		"Brasil":                        "geo_nome",
		"Setores e subsetores (Código)": "setor_cod",
		"Setores e subsetores":          "setor_nome",
		"Variável (Código)":             "variavel_cod",
		"Variável":                      "variavel_nome",
	}
}

func quarterPeriod() *model.PeriodSpec {
	return &model.PeriodSpec{
		Field:      "trimestre_codigo",
		Frequency:  model.FrequencyQuarter,
		YearField:  "ano",
		SubField:   "trimestre_num",
		LabelField: "periodo_trimestral",
	}
}

func Builtin() map[string]model.SourceSpec {
	list := []model.SourceSpec{
		{
			ID:          "bacen",
			Provider:    "bcb",
			Description: "BCB SGS: PTAX USD sell rate (daily)",
			Shape:       model.ShapeRecords,
			Series: []model.Series{
				{Name: "cambio_usd_venda", Code: 1},
			},
			ValueFields: []string{"cambio_usd_venda"},
			IndexField:  "data",
			DateField:   "data",
			DateLayout:  "02/01/2006",
			Output:      "indicadores_bacen_bruto.csv",
		},
		{
			ID:          "cnt_6613",
			Provider:    "sidra",
			Description: "SIDRA 6613: quarterly national accounts by sector, seasonally adjusted",
			Shape:       model.ShapeHeaderMap,
			Table: &model.TableQuery{
				Table:          "6613",
				GeoLevel:       "n1",
				GeoCode:        "1",
				Variables:      "all",
				Periods:        "all",
				Classification: "c11255",
				Categories:     "all",
				Format:         "v9319 2",
			},
			Rename:      sidraRename(),
			ValueFields: []string{"valor"},
			IndexField:  "periodo_trimestral",
			Period:      quarterPeriod(),
			Drop:        []string{"trimestre_codigo", "trimestre_nome", "ano", "trimestre_num"},
			Output:      "cnt_6613_setorial_dessazonalizado_bruto.csv",
		},
		{
			ID:          "pib_1621",
			Provider:    "sidra",
			Description: "SIDRA 1621: quarterly GDP volume index, seasonally adjusted",
			Shape:       model.ShapeHeaderMap,
			Table: &model.TableQuery{
				Table:          "1621",
				GeoLevel:       "n1",
				GeoCode:        "1",
				Variables:      "all",
				Periods:        "all",
				Classification: "c11255",
				Categories:     "90707",
				Format:         "v584 2",
			},
			Rename:      sidraRename(),
			ValueFields: []string{"valor"},
			IndexField:  "periodo_trimestral",
			Period:      quarterPeriod(),
			Drop:        []string{"trimestre_codigo", "trimestre_nome", "ano", "trimestre_num"},
			Output:      "pib_1621_dessazonalizado_bruto.csv",
		},
	}

	out := make(map[string]model.SourceSpec, len(list))
	for _, spec := range list {
		out[spec.ID] = spec
	}
	return out
}

func LoadFile(path string) ([]model.SourceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sources: %w", err)
	}
	var specs []model.SourceSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("sources: parsing %s: %w", path, err)
	}
	for i, spec := range specs {
		if err := Validate(spec); err != nil {
			return nil, fmt.Errorf("sources: %s entry %d: %w", path, i, err)
		}
	}
	return specs, nil
}

// Merge overlays extra specs on base; an extra spec replaces the base spec
// with the same id.
func Merge(base map[string]model.SourceSpec, extra []model.SourceSpec) map[string]model.SourceSpec {
	out := make(map[string]model.SourceSpec, len(base)+len(extra))
	for id, spec := range base {
		out[id] = spec
	}
	for _, spec := range extra {
		out[spec.ID] = spec
	}
	return out
}

func Validate(spec model.SourceSpec) error {
	if strings.TrimSpace(spec.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(spec.Provider) == "" {
		return fmt.Errorf("%s: provider is required", spec.ID)
	}
	switch spec.Shape {
	case "", model.ShapeHeaderMap, model.ShapeRecords:
	default:
		return fmt.Errorf("%s: unknown shape %q", spec.ID, spec.Shape)
	}
	if strings.TrimSpace(spec.Output) == "" {
		return fmt.Errorf("%s: output file name is required", spec.ID)
	}
	if spec.Period != nil && strings.TrimSpace(spec.Period.Field) == "" {
		return fmt.Errorf("%s: period field is required", spec.ID)
	}
	return nil
}

// Select resolves ids against the set; an empty id list selects every
// source, sorted by id. Ids match case-insensitively when there is no exact
// match.
func Select(set map[string]model.SourceSpec, ids []string) ([]model.SourceSpec, error) {
	if len(ids) == 0 {
		out := make([]model.SourceSpec, 0, len(set))
		for _, spec := range set {
			out = append(out, spec)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	}
	out := make([]model.SourceSpec, 0, len(ids))
	for _, id := range ids {
		spec, ok := lookup(set, id)
		if !ok {
			return nil, fmt.Errorf("unknown source: %s", id)
		}
		out = append(out, spec)
	}
	return out, nil
}

func lookup(set map[string]model.SourceSpec, id string) (model.SourceSpec, bool) {
	if spec, ok := set[id]; ok {
		return spec, true
	}
	for key, spec := range set {
		if strings.EqualFold(key, id) {
			return spec, true
		}
	}
	return model.SourceSpec{}, false
}

// WithRange fills Start and End from defaults when the spec leaves them empty.
func WithRange(spec model.SourceSpec, start, end string) model.SourceSpec {
	if spec.Start == "" {
		spec.Start = start
	}
	if spec.End == "" {
		spec.End = end
	}
	return spec
}
