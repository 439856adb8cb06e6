package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// MetadataKind tags the concrete variant of a Metadata value.
type MetadataKind string

const (
	MetadataWebhook   MetadataKind = "webhook"
	MetadataComplaint MetadataKind = "complaint"
	MetadataManual    MetadataKind = "manual"
	MetadataInternal  MetadataKind = "internal"
)

// Metadata is the closed set of per-signal payloads. Only the variants in
// this package implement it.
type Metadata interface {
	Kind() MetadataKind
	isMetadata()
}

// WebhookMetadata describes a signal raised from a provider status callback.
type WebhookMetadata struct {
	Provider  string `json:"provider"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// ComplaintMetadata carries the complaint dimensions of a complaint signal.
type ComplaintMetadata struct {
	ComplaintType        ComplaintType `json:"complaint_type"`
	Severity             Severity      `json:"severity"`
	Provider             string        `json:"provider,omitempty"`
	RecipientFingerprint string        `json:"recipient_fingerprint"`
}

// ManualMetadata describes a signal raised by a person (support, admin).
type ManualMetadata struct {
	ReportedBy string `json:"reported_by"`
	Note       string `json:"note,omitempty"`
}

// InternalMetadata describes a signal raised by an internal detector.
type InternalMetadata struct {
	Detector string  `json:"detector"`
	Detail   string  `json:"detail,omitempty"`
	Value    float64 `json:"value,omitempty"`
}

func (WebhookMetadata) Kind() MetadataKind   { return MetadataWebhook }
func (ComplaintMetadata) Kind() MetadataKind { return MetadataComplaint }
func (ManualMetadata) Kind() MetadataKind    { return MetadataManual }
func (InternalMetadata) Kind() MetadataKind  { return MetadataInternal }

func (WebhookMetadata) isMetadata()   {}
func (ComplaintMetadata) isMetadata() {}
func (ManualMetadata) isMetadata()    {}
func (InternalMetadata) isMetadata()  {}

type metadataEnvelope struct {
	Kind MetadataKind    `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeMetadata serializes m as a {kind, data} envelope. A nil value encodes
// to nil.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s metadata: %w", m.Kind(), err)
	}
	return json.Marshal(metadataEnvelope{Kind: m.Kind(), Data: data})
}

// DecodeMetadata parses an envelope produced by EncodeMetadata. Empty input
// decodes to nil.
func DecodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode metadata envelope: %w", err)
	}

	var (
		m   Metadata
		err error
	)
	switch env.Kind {
	case MetadataWebhook:
		var v WebhookMetadata
		err = json.Unmarshal(env.Data, &v)
		m = v
	case MetadataComplaint:
		var v ComplaintMetadata
		err = json.Unmarshal(env.Data, &v)
		m = v
	case MetadataManual:
		var v ManualMetadata
		err = json.Unmarshal(env.Data, &v)
		m = v
	case MetadataInternal:
		var v InternalMetadata
		err = json.Unmarshal(env.Data, &v)
		m = v
	default:
		return nil, fmt.Errorf("unknown metadata kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", env.Kind, err)
	}
	return m, nil
}

type abuseEventJSON struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	SignalType      SignalType      `json:"signal_type"`
	RawWeight       int             `json:"raw_weight"`
	EffectiveWeight int             `json:"effective_weight"`
	Source          Source          `json:"source"`
	OccurredAt      json.RawMessage `json:"occurred_at"`
	RecordedAt      time.Time       `json:"recorded_at"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	DedupKey        string          `json:"dedup_key,omitempty"`
	Dismissed       bool            `json:"dismissed"`
	DismissReason   string          `json:"dismiss_reason,omitempty"`
}

// MarshalJSON writes the metadata through its tagged envelope so events
// round-trip without losing the variant.
func (e AbuseEvent) MarshalJSON() ([]byte, error) {
	meta, err := EncodeMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}
	occurred, err := json.Marshal(e.OccurredAt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(abuseEventJSON{
		ID:              e.ID,
		TenantID:        e.TenantID,
		SignalType:      e.SignalType,
		RawWeight:       e.RawWeight,
		EffectiveWeight: e.EffectiveWeight,
		Source:          e.Source,
		OccurredAt:      occurred,
		RecordedAt:      e.RecordedAt,
		Metadata:        meta,
		DedupKey:        e.DedupKey,
		Dismissed:       e.Dismissed,
		DismissReason:   e.DismissReason,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *AbuseEvent) UnmarshalJSON(b []byte) error {
	var raw abuseEventJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	meta, err := DecodeMetadata(raw.Metadata)
	if err != nil {
		return err
	}
	out := AbuseEvent{
		ID:              raw.ID,
		TenantID:        raw.TenantID,
		SignalType:      raw.SignalType,
		RawWeight:       raw.RawWeight,
		EffectiveWeight: raw.EffectiveWeight,
		Source:          raw.Source,
		RecordedAt:      raw.RecordedAt,
		Metadata:        meta,
		DedupKey:        raw.DedupKey,
		Dismissed:       raw.Dismissed,
		DismissReason:   raw.DismissReason,
	}
	if len(raw.OccurredAt) > 0 {
		if err := json.Unmarshal(raw.OccurredAt, &out.OccurredAt); err != nil {
			return fmt.Errorf("decode occurred_at: %w", err)
		}
	}
	*e = out
	return nil
}
