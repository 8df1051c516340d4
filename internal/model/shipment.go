package model

import "time"

// Canonical field names for the normalized shipment schema. These are the
// targets the translator maps arbitrary manifest headers onto.
const (
	FieldContainerNumber = "containerNumber"
	FieldBillOfLading    = "billOfLading"
	FieldBookingNumber   = "bookingNumber"
	FieldCarrier         = "carrier"
	FieldVessel          = "vessel"
	FieldVoyage          = "voyage"
	FieldPortOfLoading   = "portOfLoading"
	FieldPortOfDischarge = "portOfDischarge"
	FieldETD             = "etd"
	FieldETA             = "eta"
	FieldLastFreeDay     = "lastFreeDay"
	FieldDischargeDate   = "dischargeDate"
	FieldGateOutDate     = "gateOutDate"
	FieldEmptyReturnDate = "emptyReturnDate"
	FieldStatus          = "status"
	FieldForwarder       = "forwarder"
	FieldSealNumber      = "sealNumber"
	FieldWeightKG        = "weightKg"
)

// Lineage links a persisted shipment back to the raw row that produced it.
// UnmappedFields preserves every leftover source cell verbatim so no
// ingested data is ever silently dropped.
type Lineage struct {
	RawRowID          string              `json:"raw_row_id"`
	UnmappedFields    map[string]RawValue `json:"unmapped_fields"`
	MappingConfidence float64             `json:"mapping_confidence"`
}

// Shipment is the canonical record produced from one raw manifest row,
// keyed by container number.
type Shipment struct {
	ContainerNumber string              `json:"container_number"`
	Fields          map[string]RawValue `json:"fields"`
	Lineage         Lineage             `json:"lineage"`
	BatchID         string              `json:"batch_id"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Field returns the typed value stored under a canonical field name.
func (s *Shipment) Field(name string) RawValue {
	if v, ok := s.Fields[name]; ok {
		return v
	}
	return NullValue()
}

// EventStage names a recognized lifecycle milestone.
type EventStage string

const (
	EventDeparted      EventStage = "DEPARTED"
	EventArrivalETA    EventStage = "ARRIVAL_ETA"
	EventDischarged    EventStage = "DISCHARGED"
	EventGateOut       EventStage = "GATE_OUT"
	EventEmptyReturned EventStage = "EMPTY_RETURNED"
)

// milestoneFields maps date-typed canonical fields to the lifecycle stage
// they evidence. LastFreeDay is a deadline, not a milestone, and is
// deliberately absent.
var milestoneFields = map[string]EventStage{
	FieldETD:             EventDeparted,
	FieldETA:             EventArrivalETA,
	FieldDischargeDate:   EventDischarged,
	FieldGateOutDate:     EventGateOut,
	FieldEmptyReturnDate: EventEmptyReturned,
}

// MilestoneFor returns the lifecycle stage evidenced by a canonical date
// field, if any.
func MilestoneFor(field string) (EventStage, bool) {
	stage, ok := milestoneFields[field]
	return stage, ok
}

// ShipmentEvent is a derived timeline milestone, keyed (container, stage)
// so repeated persistence upserts rather than duplicates.
type ShipmentEvent struct {
	ContainerNumber string     `json:"container_number"`
	Stage           EventStage `json:"stage"`
	OccursAt        time.Time  `json:"occurs_at"`
	SourceField     string     `json:"source_field"`
}
