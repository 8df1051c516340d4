package model

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// FieldType constrains how the persister coerces values for a field.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeNumber FieldType = "number"
	FieldTypeDate   FieldType = "date"
)

// CatalogField describes one canonical field of the target schema.
type CatalogField struct {
	Name        string    `yaml:"name" json:"name"`
	Type        FieldType `yaml:"type" json:"type"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	NaturalKey  bool      `yaml:"natural_key,omitempty" json:"natural_key,omitempty"`
}

// FieldCatalog is an indexed collection of canonical fields.
type FieldCatalog struct {
	Fields []CatalogField
	byName map[string]*CatalogField
}

// NewFieldCatalog builds an indexed catalog.
func NewFieldCatalog(fields []CatalogField) *FieldCatalog {
	c := &FieldCatalog{
		Fields: fields,
		byName: make(map[string]*CatalogField, len(fields)),
	}
	for i := range c.Fields {
		c.byName[c.Fields[i].Name] = &c.Fields[i]
	}
	return c
}

// ByName returns the catalog field with the given name, or nil.
func (c *FieldCatalog) ByName(name string) *CatalogField {
	return c.byName[name]
}

// Has reports whether the catalog defines the field.
func (c *FieldCatalog) Has(name string) bool {
	return c.byName[name] != nil
}

// Names returns every canonical field name in catalog order.
func (c *FieldCatalog) Names() []string {
	names := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		names[i] = f.Name
	}
	return names
}

// NaturalKey returns the natural-key field name ("" when undefined).
func (c *FieldCatalog) NaturalKey() string {
	for _, f := range c.Fields {
		if f.NaturalKey {
			return f.Name
		}
	}
	return ""
}

// LoadCatalog reads a catalog definition from a YAML file.
func LoadCatalog(path string) (*FieldCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read catalog %s", path)
	}
	var doc struct {
		Fields []CatalogField `yaml:"fields"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "model: parse catalog yaml")
	}
	if len(doc.Fields) == 0 {
		return nil, eris.New("model: catalog defines no fields")
	}
	return NewFieldCatalog(doc.Fields), nil
}

// DefaultCatalog returns the built-in shipment schema.
func DefaultCatalog() *FieldCatalog {
	return NewFieldCatalog([]CatalogField{
		{Name: FieldContainerNumber, Type: FieldTypeString, NaturalKey: true, Description: "ISO 6346 container identifier, e.g. MSKU1234567"},
		{Name: FieldBillOfLading, Type: FieldTypeString, Description: "master or house bill of lading number"},
		{Name: FieldBookingNumber, Type: FieldTypeString, Description: "carrier booking reference"},
		{Name: FieldCarrier, Type: FieldTypeString, Description: "ocean carrier / steamship line"},
		{Name: FieldVessel, Type: FieldTypeString, Description: "vessel name"},
		{Name: FieldVoyage, Type: FieldTypeString, Description: "voyage number"},
		{Name: FieldPortOfLoading, Type: FieldTypeString, Description: "origin port (POL)"},
		{Name: FieldPortOfDischarge, Type: FieldTypeString, Description: "destination port (POD)"},
		{Name: FieldETD, Type: FieldTypeDate, Description: "estimated time of departure"},
		{Name: FieldETA, Type: FieldTypeDate, Description: "estimated time of arrival"},
		{Name: FieldLastFreeDay, Type: FieldTypeDate, Description: "last free day before demurrage accrues (LFD)"},
		{Name: FieldDischargeDate, Type: FieldTypeDate, Description: "date the container was discharged from the vessel"},
		{Name: FieldGateOutDate, Type: FieldTypeDate, Description: "date the container left the terminal"},
		{Name: FieldEmptyReturnDate, Type: FieldTypeDate, Description: "date the empty container was returned"},
		{Name: FieldStatus, Type: FieldTypeString, Description: "freeform shipment status text"},
		{Name: FieldForwarder, Type: FieldTypeString, Description: "freight forwarder name"},
		{Name: FieldSealNumber, Type: FieldTypeString, Description: "container seal number"},
		{Name: FieldWeightKG, Type: FieldTypeNumber, Description: "gross weight in kilograms"},
	})
}
