package catalog

// The field catalogue declares the record fields rules may reference,
// their types, and the legal value sets for enum fields. Authoring
// validation consults it; evaluation never does, so unknown fields in a
// record are simply ignored.

type FieldType string

const (
	FieldTypeEnum   FieldType = "enum"
	FieldTypeText   FieldType = "text"
	FieldTypeNumber FieldType = "number"
)

type Field struct {
	Name    string    `json:"name"`
	Label   string    `json:"label"`
	Type    FieldType `json:"type"`
	Options []string  `json:"options,omitempty"`
}

func (f Field) HasOption(value string) bool {
	for _, opt := range f.Options {
		if opt == value {
			return true
		}
	}
	return false
}

type Catalog struct {
	fields map[string]Field
	order  []string
}

func New(fields ...Field) *Catalog {
	c := &Catalog{
		fields: make(map[string]Field, len(fields)),
		order:  make([]string, 0, len(fields)),
	}
	for _, f := range fields {
		if _, exists := c.fields[f.Name]; !exists {
			c.order = append(c.order, f.Name)
		}
		c.fields[f.Name] = f
	}
	return c
}

func (c *Catalog) Field(name string) (Field, bool) {
	f, ok := c.fields[name]
	return f, ok
}

// Fields returns the field definitions in declaration order.
func (c *Catalog) Fields() []Field {
	out := make([]Field, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.fields[name])
	}
	return out
}

// Default is the catalogue for maintenance request records.
func Default() *Catalog {
	return New(
		Field{Name: "priority", Label: "Priority", Type: FieldTypeEnum,
			Options: []string{"emergency", "high", "normal", "low"}},
		Field{Name: "category", Label: "Category", Type: FieldTypeEnum,
			Options: []string{"Plumbing", "Electrical", "HVAC", "Appliance", "General", "Safety"}},
		Field{Name: "description", Label: "Description", Type: FieldTypeText},
		Field{Name: "property_id", Label: "Property", Type: FieldTypeEnum,
			Options: []string{"prop-001", "prop-002", "prop-003", "prop-004"}},
		Field{Name: "tenant_type", Label: "Tenant Type", Type: FieldTypeEnum,
			Options: []string{"section_8", "market_rate", "commercial"}},
		Field{Name: "age_days", Label: "Request Age (days)", Type: FieldTypeNumber},
		Field{Name: "estimated_cost", Label: "Estimated Cost", Type: FieldTypeNumber},
		Field{Name: "source", Label: "Request Source", Type: FieldTypeEnum,
			Options: []string{"phone", "email", "portal", "voice", "walk-in"}},
	)
}
