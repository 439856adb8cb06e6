package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ComplaintType enumerates recipient complaint categories.
type ComplaintType string

const (
	ComplaintSpam          ComplaintType = "spam"
	ComplaintAbuse         ComplaintType = "abuse"
	ComplaintPhishing      ComplaintType = "phishing"
	ComplaintInappropriate ComplaintType = "inappropriate"
	ComplaintFrequency     ComplaintType = "frequency"
	ComplaintOther         ComplaintType = "other"
)

// ComplaintTypes lists every complaint type.
var ComplaintTypes = []ComplaintType{
	ComplaintSpam, ComplaintAbuse, ComplaintPhishing,
	ComplaintInappropriate, ComplaintFrequency, ComplaintOther,
}

// Valid reports whether t is a known complaint type.
func (t ComplaintType) Valid() bool {
	for _, known := range ComplaintTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity grades how serious a complaint is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every complaint severity.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	for _, known := range Severities {
		if s == known {
			return true
		}
	}
	return false
}

// ComplaintRecord is a recipient-originated signal with type, severity and
// source dimensions.
type ComplaintRecord struct {
	TenantID             string        `json:"tenant_id"`
	ComplaintType        ComplaintType `json:"complaint_type"`
	Severity             Severity      `json:"severity"`
	Source               Source        `json:"source"`
	Provider             string        `json:"provider,omitempty"`
	RecipientFingerprint string        `json:"recipient_fingerprint"`
	ReceivedAt           time.Time     `json:"received_at"`
}

// Validate checks the enumerated fields and the identity fields.
func (c ComplaintRecord) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if strings.TrimSpace(c.RecipientFingerprint) == "" {
		return fmt.Errorf("recipient_fingerprint is required")
	}
	if !c.ComplaintType.Valid() {
		return fmt.Errorf("unknown complaint_type %q", c.ComplaintType)
	}
	if !c.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", c.Severity)
	}
	if !c.Source.Valid() {
		return fmt.Errorf("unknown source %q", c.Source)
	}
	return nil
}

// DedupKey returns hex(sha256(tenant|recipient|complaint_type)). Two
// complaints with the same key inside the dedup window are the same complaint.
func (c ComplaintRecord) DedupKey() string {
	composite := fmt.Sprintf("%s|%s|%s",
		strings.TrimSpace(c.TenantID),
		strings.ToLower(strings.TrimSpace(c.RecipientFingerprint)),
		c.ComplaintType)
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}

// Metadata returns the complaint dimensions as event metadata.
func (c ComplaintRecord) Metadata() ComplaintMetadata {
	return ComplaintMetadata{
		ComplaintType:        c.ComplaintType,
		Severity:             c.Severity,
		Provider:             c.Provider,
		RecipientFingerprint: c.RecipientFingerprint,
	}
}

// ComplaintStats summarizes a tenant's complaints inside an escalation window.
type ComplaintStats struct {
	Total           int `json:"total"`
	MaxPerRecipient int `json:"max_per_recipient"`
	MaxPerType      int `json:"max_per_type"`
	DistinctSources int `json:"distinct_sources"`
}
