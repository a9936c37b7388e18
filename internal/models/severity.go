package models

// Severity tiers an out-of-range deviation can be classified into,
// ordered from least to most severe.
type Severity string

const (
	SeverityLow          Severity = "low"
	SeverityMedium       Severity = "medium"
	SeverityHigh         Severity = "high"
	SeverityCritical     Severity = "critical"
	SeverityCatastrophic Severity = "catastrophic"
)

// Severities lists all tiers from most to least severe. Aggregation
// results and sort cascades follow this order.
var Severities = []Severity{
	SeverityCatastrophic,
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
}

// IsValid checks if the severity tier is known
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical, SeverityCatastrophic:
		return true
	default:
		return false
	}
}

// Weight returns the ordering weight of the tier, higher is more severe.
func (s Severity) Weight() int {
	switch s {
	case SeverityCatastrophic:
		return 5
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Channel is a notification channel attached to a severity threshold.
type Channel string

const (
	ChannelInApp Channel = "in-app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// IsValid checks if the channel is known
func (c Channel) IsValid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelSMS:
		return true
	default:
		return false
	}
}

// DeviationType records which side of the optimal range a value escaped.
type DeviationType string

const (
	DeviationAboveMax DeviationType = "above_max"
	DeviationBelowMin DeviationType = "below_min"
)
