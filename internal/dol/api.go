package dol

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

// Dataset is one entry of the DOL data catalog as returned by /datasets.
type Dataset struct {
	Name        string   `json:"name"`
	Agency      string   `json:"agency"`
	Endpoint    string   `json:"endpoint"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Frequency   string   `json:"frequency"`
	Tags        []string `json:"tags"`
	UpdatedAt   string   `json:"updated_at"`
}

// Pagination describes where a DatasetPage sits in the catalog.
type Pagination struct {
	CurrentPage int  `json:"current_page"`
	NextPage    *int `json:"next_page"`
	PrevPage    *int `json:"prev_page"`
	TotalPages  int  `json:"total_pages"`
	TotalCount  int  `json:"total_count"`
}

// DatasetPage is one page of the live catalog.
type DatasetPage struct {
	Datasets   []Dataset  `json:"datasets"`
	Pagination Pagination `json:"pagination"`
}

// QueryParams selects records from a dataset. Zero values are omitted from
// the request.
type QueryParams struct {
	Agency       string
	Endpoint     string
	Format       string
	Limit        *int
	Offset       *int
	Fields       string
	Sort         string
	SortBy       string
	FilterObject string
}

// ListDatasets fetches one page (1-based) of the live data catalog. Missing or
// mistyped fields in the upstream payload degrade to zero values.
func (c *Client) ListDatasets(ctx context.Context, page int) (*DatasetPage, error) {
	if page < 1 {
		page = 1
	}

	var raw struct {
		Datasets []json.RawMessage `json:"datasets"`
		Meta     json.RawMessage   `json:"meta"`
	}
	if err := c.Get(ctx, "/datasets", url.Values{"page": {strconv.Itoa(page)}}, &raw); err != nil {
		return nil, err
	}
	if raw.Datasets == nil && raw.Meta == nil {
		return nil, &Error{Kind: KindMalformed, Message: "Failed to parse datasets response"}
	}

	out := &DatasetPage{Datasets: make([]Dataset, 0, len(raw.Datasets))}
	for _, item := range raw.Datasets {
		out.Datasets = append(out.Datasets, decodeDataset(item))
	}

	out.Pagination = Pagination{CurrentPage: page, TotalPages: 1, TotalCount: len(out.Datasets)}
	var meta struct {
		CurrentPage *int `json:"current_page"`
		NextPage    *int `json:"next_page"`
		PrevPage    *int `json:"prev_page"`
		TotalPages  *int `json:"total_pages"`
		TotalCount  *int `json:"total_count"`
	}
	if len(raw.Meta) > 0 && json.Unmarshal(raw.Meta, &meta) == nil {
		if meta.CurrentPage != nil {
			out.Pagination.CurrentPage = *meta.CurrentPage
		}
		if meta.TotalPages != nil {
			out.Pagination.TotalPages = *meta.TotalPages
		}
		if meta.TotalCount != nil {
			out.Pagination.TotalCount = *meta.TotalCount
		}
		out.Pagination.NextPage = meta.NextPage
		out.Pagination.PrevPage = meta.PrevPage
	}
	return out, nil
}

// decodeDataset reads each field independently so one bad field does not
// lose the whole entry.
func decodeDataset(data json.RawMessage) Dataset {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Dataset{Tags: []string{}}
	}

	str := func(key string) string {
		var s string
		json.Unmarshal(fields[key], &s)
		return s
	}

	ds := Dataset{
		Name:        str("name"),
		Endpoint:    str("api_url"),
		Description: str("description"),
		Category:    str("category_name"),
		Frequency:   str("frequency"),
		UpdatedAt:   str("updated_at"),
		Tags:        []string{},
	}

	var agency struct {
		Abbr string `json:"abbr"`
	}
	if json.Unmarshal(fields["agency"], &agency) == nil {
		ds.Agency = agency.Abbr
	}

	var tags []string
	if json.Unmarshal(fields["tag_list"], &tags) == nil && tags != nil {
		ds.Tags = tags
	}
	return ds
}

// Metadata returns the field descriptions of a dataset.
func (c *Client) Metadata(ctx context.Context, agency, endpoint, format string) (any, error) {
	if format == "" {
		format = "json"
	}
	var out any
	if err := c.Get(ctx, datasetPath(agency, endpoint, format)+"/metadata", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Query returns dataset records. JSON responses are decoded; other formats
// are returned as text.
func (c *Client) Query(ctx context.Context, p QueryParams) (any, error) {
	format := p.Format
	if format == "" {
		format = "json"
	}

	params := url.Values{}
	if p.Limit != nil {
		params.Set("limit", strconv.Itoa(*p.Limit))
	}
	if p.Offset != nil {
		params.Set("offset", strconv.Itoa(*p.Offset))
	}
	if p.Fields != "" {
		params.Set("fields", p.Fields)
	}
	if p.Sort != "" {
		params.Set("sort", p.Sort)
	}
	if p.SortBy != "" {
		params.Set("sort_by", p.SortBy)
	}
	if p.FilterObject != "" {
		params.Set("filter_object", p.FilterObject)
	}

	path := datasetPath(p.Agency, p.Endpoint, format)
	if format != "json" {
		return c.GetText(ctx, path, params)
	}

	var out any
	if err := c.Get(ctx, path, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func datasetPath(agency, endpoint, format string) string {
	return "/get/" + url.PathEscape(agency) + "/" + url.PathEscape(endpoint) + "/" + url.PathEscape(format)
}
