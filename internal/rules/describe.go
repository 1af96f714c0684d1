package rules

import "sort"

// TemplateField describes one placeholder in a name template.
type TemplateField struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	VariantOf string `json:"variantOf,omitempty"`
}

// SegmentMapping explains where one segment's value comes from.
type SegmentMapping struct {
	Segment     string   `json:"segment"`
	Source      string   `json:"source"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description,omitempty"`
}

// PayloadInputs lists the request fields a rule consumes.
type PayloadInputs struct {
	Required []string `json:"required"`
	Optional []string `json:"optional"`
}

// Description is the read-only introspection view of a rule, served by
// the discovery endpoint.
type Description struct {
	ResourceType     string           `json:"resourceType"`
	MaxLength        int              `json:"maxLength"`
	RequireOrgPrefix bool             `json:"requireOrgPrefix"`
	Segments         []string         `json:"segments"`
	OptionalSegments []string         `json:"optionalSegments"`
	DisplayFields    []DisplayField   `json:"displayFields"`
	NameTemplate     string           `json:"nameTemplate,omitempty"`
	SummaryTemplate  string           `json:"summaryTemplate,omitempty"`
	TemplateFields   []TemplateField  `json:"templateFields,omitempty"`
	SegmentMappings  []SegmentMapping `json:"segmentMappings"`
	PayloadInputs    PayloadInputs    `json:"payloadInputs"`
}

// Describe builds the introspection view for a resource type. Unlike
// Rule it does not fall back to the default rule for unknown types:
// discovery only reports types that actually exist.
func (t *Table) Describe(resourceType string) (Description, error) {
	key := NormalizeResourceType(resourceType)
	if key != "default" && !t.HasExplicitRule(key) {
		return Description{}, ErrNotFound
	}
	rule, err := t.Rule(key)
	if err != nil {
		return Description{}, err
	}

	mappings := segmentMappings(rule)
	optionalAliases := make(map[string]struct{})
	for _, m := range mappings {
		if m.Source != "payload" || m.Segment == "region" || m.Segment == "environment" {
			continue
		}
		for _, alias := range m.Aliases {
			optionalAliases[alias] = struct{}{}
		}
	}
	optional := make([]string, 0, len(optionalAliases))
	for alias := range optionalAliases {
		optional = append(optional, alias)
	}
	sort.Strings(optional)

	var templateFields []TemplateField
	if rule.NameTemplate != "" {
		templateFields = describeTemplateFields(rule.NameTemplate)
	}

	optionalSegments := rule.OptionalSegments()
	if optionalSegments == nil {
		optionalSegments = []string{}
	}

	return Description{
		ResourceType:     key,
		MaxLength:        rule.MaxLength,
		RequireOrgPrefix: rule.RequireOrgPrefix,
		Segments:         rule.Segments,
		OptionalSegments: optionalSegments,
		DisplayFields:    rule.DisplayFields,
		NameTemplate:     rule.NameTemplate,
		SummaryTemplate:  rule.SummaryTemplate,
		TemplateFields:   templateFields,
		SegmentMappings:  mappings,
		PayloadInputs: PayloadInputs{
			Required: []string{"resourceType", "region", "environment"},
			Optional: optional,
		},
	}, nil
}

func describeTemplateFields(template string) []TemplateField {
	var fields []TemplateField
	for _, name := range TemplateFields(template) {
		entry := TemplateField{Name: name}
		switch {
		case len(name) > len("_segment") && name[len(name)-len("_segment"):] == "_segment":
			entry.Type = "optionalSegment"
			entry.VariantOf = name[:len(name)-len("_segment")]
		case name == "region" || name == "environment" || name == "slug":
			entry.Type = "coreInput"
		default:
			entry.Type = "context"
		}
		fields = append(fields, entry)
	}
	return fields
}

func segmentMappings(rule Rule) []SegmentMapping {
	var mappings []SegmentMapping
	for _, segment := range rule.Segments {
		entry := SegmentMapping{Segment: segment}
		switch segment {
		case "slug":
			entry.Source = "derived"
			entry.Description = "Short code resolved from the resource type via slug providers."
		case "region", "environment":
			entry.Source = "payload"
			entry.Aliases = []string{segment}
		default:
			entry.Source = "payload"
			entry.Aliases = segmentAliases(segment)
		}
		mappings = append(mappings, entry)
	}
	return mappings
}

// segmentAliases maps a segment to the payload keys that can feed it.
func segmentAliases(segment string) []string {
	switch segment {
	case "system_short":
		return []string{"system", "system_short"}
	default:
		return []string{segment}
	}
}
