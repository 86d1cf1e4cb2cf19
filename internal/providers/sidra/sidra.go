package sidra

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"panorama/internal/fetch"
	"panorama/internal/model"
	"panorama/internal/providers"
)

const defaultBaseURL = "https://apisidra.ibge.gov.br/values/"

type Config struct {
	BaseURL string
}

// Provider reads tables from the IBGE SIDRA API. Requests are path style:
// /t/{table}/{geo_level}/{geo_code}/v/{variables}/p/{periods}/{classification}/{categories}/d/{format}
type Provider struct {
	config Config
	client *fetch.Client
}

func New(cfg Config, client *fetch.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("sidra: http client is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"
	return &Provider{config: cfg, client: client}, nil
}

func (p *Provider) Name() string {
	return "sidra"
}

func (p *Provider) Endpoints(spec model.SourceSpec) ([]string, error) {
	endpoint, err := p.tableURL(spec.Table)
	if err != nil {
		return nil, fmt.Errorf("sidra: source %s: %w", spec.ID, err)
	}
	return []string{endpoint}, nil
}

func (p *Provider) FetchTable(ctx context.Context, spec model.SourceSpec) (model.Table, error) {
	endpoint, err := p.tableURL(spec.Table)
	if err != nil {
		return model.Table{}, fmt.Errorf("sidra: source %s: %w", spec.ID, err)
	}
	shape := spec.Shape
	if shape == "" {
		shape = model.ShapeHeaderMap
	}
	return p.client.GetTable(ctx, endpoint, shape)
}

func (p *Provider) tableURL(query *model.TableQuery) (string, error) {
	if query == nil {
		return "", errors.New("table query is required")
	}
	required := []struct {
		name  string
		value string
	}{
		{"table", query.Table},
		{"geo_level", query.GeoLevel},
		{"geo_code", query.GeoCode},
		{"variables", query.Variables},
		{"periods", query.Periods},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return "", fmt.Errorf("%s is required", field.name)
		}
	}

	segments := []string{
		"t", query.Table,
		query.GeoLevel, query.GeoCode,
		"v", query.Variables,
		"p", query.Periods,
	}
	if strings.TrimSpace(query.Classification) != "" {
		categories := query.Categories
		if strings.TrimSpace(categories) == "" {
			categories = "all"
		}
		segments = append(segments, query.Classification, categories)
	}
	if strings.TrimSpace(query.Format) != "" {
		segments = append(segments, "d", query.Format)
	}

	escaped := make([]string, len(segments))
	for i, segment := range segments {
		escaped[i] = escapeSegment(strings.TrimSpace(segment))
	}
	return p.config.BaseURL + strings.Join(escaped, "/"), nil
}

// escapeSegment path-escapes a selector but keeps the commas SIDRA uses to
// separate lists of codes.
func escapeSegment(segment string) string {
	return strings.ReplaceAll(url.PathEscape(segment), "%2C", ",")
}

var _ providers.Provider = (*Provider)(nil)
