package approval

import "time"

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// AtMost reports whether r is at or below the given ceiling. Unknown
// levels are treated as critical so a typo never loosens a safety bound.
func (r RiskLevel) AtMost(ceiling RiskLevel) bool {
	rr, ok := riskRank[r]
	if !ok {
		rr = riskRank[RiskCritical]
	}
	cr, ok := riskRank[ceiling]
	if !ok {
		cr = -1
	}
	return rr <= cr
}

type Status string

const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusExpired      Status = "expired"
	StatusCancelled    Status = "cancelled"
	StatusAcknowledged Status = "acknowledged"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// ExpiryPolicy controls what happens to a pending approval once its
// deadline passes with no human decision.
type ExpiryPolicy string

const (
	ExpiryAutoReject  ExpiryPolicy = "auto_reject"
	ExpiryAutoApprove ExpiryPolicy = "auto_approve"
	ExpiryEscalate    ExpiryPolicy = "escalate"
	ExpiryStayPending ExpiryPolicy = "stay_pending"
)

// Decision is the immutable record of a human decision.
type Decision struct {
	Decision        Status    `yaml:"decision" json:"decision"`
	Comment         string    `yaml:"comment,omitempty" json:"comment,omitempty"`
	Reasoning       string    `yaml:"reasoning,omitempty" json:"reasoning,omitempty"`
	ConfidenceLevel string    `yaml:"confidence_level,omitempty" json:"confidenceLevel,omitempty"`
	DecidedBy       string    `yaml:"decided_by" json:"decidedBy"`
	DecidedAt       time.Time `yaml:"decided_at" json:"decidedAt"`
}

// Approval is a human-decision checkpoint blocking a step.
type Approval struct {
	ID             string     `yaml:"id" json:"id"`
	ThreadID       string     `yaml:"thread_id" json:"threadId"`
	StepID         string     `yaml:"step_id" json:"stepId"`
	ProjectID      string     `yaml:"project_id,omitempty" json:"projectId,omitempty"`
	Prompt         string     `yaml:"prompt" json:"prompt"`
	RiskLevel      RiskLevel  `yaml:"risk_level" json:"riskLevel"`
	RequestedAt    time.Time  `yaml:"requested_at" json:"requestedAt"`
	TimeoutSeconds int        `yaml:"timeout_seconds" json:"timeoutSeconds"`
	ExpiresAt      time.Time  `yaml:"expires_at" json:"expiresAt"`
	Status         Status     `yaml:"status" json:"status"`
	ResolvedBy     string     `yaml:"resolved_by,omitempty" json:"resolvedBy,omitempty"`
	Decision       *Decision  `yaml:"decision,omitempty" json:"decision,omitempty"`
	EscalatedAt    *time.Time `yaml:"escalated_at,omitempty" json:"escalatedAt,omitempty"`
}

// Granted reports whether the approval lets the gated step proceed.
// Acknowledged counts: the human saw it and waved it through.
func (a *Approval) Granted() bool {
	return a.Status == StatusApproved || a.Status == StatusAcknowledged
}
