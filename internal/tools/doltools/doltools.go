// Package doltools exposes the DOL API to the model as tools.
package doltools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/michaelbrown/dolchat/internal/dol"
	"github.com/michaelbrown/dolchat/internal/tools"
)

const (
	QueryData    = "query_data"
	GetMetadata  = "get_metadata"
	ListDatasets = "list_datasets"
)

// QueryDataInput is the input of query_data.
type QueryDataInput struct {
	Agency       string `json:"agency"`
	Endpoint     string `json:"endpoint"`
	Format       string `json:"format,omitempty" jsonschema:"enum=json,enum=csv"`
	Limit        *int   `json:"limit,omitempty" jsonschema:"minimum=1,maximum=10000"`
	Offset       *int   `json:"offset,omitempty" jsonschema:"minimum=0"`
	Fields       string `json:"fields,omitempty"`
	Sort         string `json:"sort,omitempty" jsonschema:"enum=asc,enum=desc"`
	SortBy       string `json:"sort_by,omitempty"`
	FilterObject string `json:"filter_object,omitempty"`
}

func (QueryDataInput) JSONSchemaExtend(s *jsonschema.Schema) {
	tools.Describe(s, map[string]string{
		"agency":        "Agency abbreviation, e.g. OSHA, MSHA, WHD",
		"endpoint":      "Dataset endpoint name from the catalog",
		"format":        "Response format (default: json)",
		"limit":         "Maximum number of records to return",
		"offset":        "Number of records to skip (for pagination)",
		"fields":        "Comma-separated list of field names to return",
		"sort":          "Sort direction: asc or desc",
		"sort_by":       "Field name to sort by",
		"filter_object": `JSON string for filtering records. Single condition: {"field":"year","operator":"eq","value":"2022"}. Combine with {"and":[...]} or {"or":[...]}. Operators: eq, neq, gt, lt, in, not_in, like.`,
	})
}

// MetadataInput is the input of get_metadata.
type MetadataInput struct {
	Agency   string `json:"agency"`
	Endpoint string `json:"endpoint"`
	Format   string `json:"format,omitempty" jsonschema:"enum=json"`
}

func (MetadataInput) JSONSchemaExtend(s *jsonschema.Schema) {
	tools.Describe(s, map[string]string{
		"agency":   "Agency abbreviation, e.g. OSHA, MSHA, WHD",
		"endpoint": "Dataset endpoint name from the catalog",
		"format":   "Response format (default: json)",
	})
}

// ListDatasetsInput is the input of list_datasets.
type ListDatasetsInput struct {
	Page int `json:"page,omitempty" jsonschema:"minimum=1"`
}

func (ListDatasetsInput) JSONSchemaExtend(s *jsonschema.Schema) {
	tools.Describe(s, map[string]string{
		"page": "Page number for pagination (default 1)",
	})
}

// Tools builds the DOL tool set backed by c.
func Tools(c *dol.Client) ([]tools.Tool, error) {
	specs := []struct {
		name, description string
		input             any
		handler           tools.HandlerFunc
	}{
		{
			name: QueryData,
			description: "Query records from a DOL dataset. Supports pagination, field selection, sorting, and conditional filtering. " +
				"Pick agency and endpoint from the dataset catalog in your instructions and use get_metadata to discover available fields. " +
				`For filter_object: single condition {"field":"year","operator":"eq","value":"2022"}; AND/OR: {"and":[...]} / {"or":[...]}. ` +
				"Operators: eq, neq, gt, lt, in, not_in, like.",
			input:   QueryDataInput{},
			handler: queryData(c),
		},
		{
			name:        GetMetadata,
			description: "Get the metadata (column names, types, descriptions) for a specific DOL dataset.",
			input:       MetadataInput{},
			handler:     getMetadata(c),
		},
		{
			name: ListDatasets,
			description: "Browse the live Department of Labor Data Catalog. Returns agency abbreviations, dataset names, and endpoint names, paginated (default page 1). " +
				"Use the agency and endpoint values as parameters of get_metadata and query_data.",
			input:   ListDatasetsInput{},
			handler: listDatasets(c),
		},
	}

	out := make([]tools.Tool, 0, len(specs))
	for _, s := range specs {
		params, err := tools.SchemaFor(s.input)
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", s.name, err)
		}
		out = append(out, tools.Tool{
			Name:        s.name,
			Description: s.description,
			Parameters:  params,
			Handler:     s.handler,
		})
	}
	return out, nil
}

// Register adds the DOL tools to r.
func Register(r *tools.Registry, c *dol.Client) error {
	ts, err := Tools(c)
	if err != nil {
		return err
	}
	return r.RegisterAll(ts...)
}

// decode copies validated tool input into a typed struct.
func decode(input map[string]any, out any) error {
	data, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func queryData(c *dol.Client) tools.HandlerFunc {
	return func(ctx context.Context, input map[string]any) tools.Result {
		var in QueryDataInput
		if err := decode(input, &in); err != nil {
			return tools.Failf("invalid input: %v", err)
		}
		if in.FilterObject != "" {
			if err := ValidateFilter(in.FilterObject); err != nil {
				return tools.Failf("invalid filter_object: %v", err)
			}
		}

		out, err := c.Query(ctx, dol.QueryParams{
			Agency:       in.Agency,
			Endpoint:     in.Endpoint,
			Format:       in.Format,
			Limit:        in.Limit,
			Offset:       in.Offset,
			Fields:       in.Fields,
			Sort:         in.Sort,
			SortBy:       in.SortBy,
			FilterObject: in.FilterObject,
		})
		if err != nil {
			return tools.Fail(err)
		}
		return tools.OK(out)
	}
}

func getMetadata(c *dol.Client) tools.HandlerFunc {
	return func(ctx context.Context, input map[string]any) tools.Result {
		var in MetadataInput
		if err := decode(input, &in); err != nil {
			return tools.Failf("invalid input: %v", err)
		}
		out, err := c.Metadata(ctx, in.Agency, in.Endpoint, in.Format)
		if err != nil {
			return tools.Fail(err)
		}
		return tools.OK(out)
	}
}

func listDatasets(c *dol.Client) tools.HandlerFunc {
	return func(ctx context.Context, input map[string]any) tools.Result {
		var in ListDatasetsInput
		if err := decode(input, &in); err != nil {
			return tools.Failf("invalid input: %v", err)
		}
		page, err := c.ListDatasets(ctx, in.Page)
		if err != nil {
			return tools.Fail(err)
		}
		return tools.OK(page)
	}
}
