package domain

import "strings"

// ChangeReason explains why a history row was written. The set is closed.
type ChangeReason string

const (
	ReasonSystemAuto        ChangeReason = "SYSTEM_AUTO"
	ReasonRuleChange        ChangeReason = "RULE_CHANGE"
	ReasonInfoUpdate        ChangeReason = "INFO_UPDATE"
	ReasonManualAdjustment  ChangeReason = "MANUAL_ADJUSTMENT"
	ReasonAuditAdjustment   ChangeReason = "AUDIT_ADJUSTMENT"
	ReasonQualityFeedback   ChangeReason = "QUALITY_FEEDBACK"
	ReasonDataCorrection    ChangeReason = "DATA_CORRECTION"
	ReasonBatchRerating     ChangeReason = "BATCH_RERATING"
	ReasonSystemUpgrade     ChangeReason = "SYSTEM_UPGRADE"
	ReasonComplaintHandling ChangeReason = "COMPLAINT_HANDLING"
	ReasonPeriodicReview    ChangeReason = "PERIODIC_REVIEW"
	ReasonRollback          ChangeReason = "ROLLBACK"
)

var changeReasons = map[ChangeReason]string{
	ReasonSystemAuto:        "System auto rating",
	ReasonRuleChange:        "Rating rule change",
	ReasonInfoUpdate:        "Lead information update",
	ReasonManualAdjustment:  "Manual adjustment",
	ReasonAuditAdjustment:   "Audit adjustment",
	ReasonQualityFeedback:   "Quality feedback",
	ReasonDataCorrection:    "Data correction",
	ReasonBatchRerating:     "Batch re-rating",
	ReasonSystemUpgrade:     "System upgrade",
	ReasonComplaintHandling: "Complaint handling",
	ReasonPeriodicReview:    "Periodic review",
	ReasonRollback:          "Rollback",
}

func ParseChangeReason(s string) (ChangeReason, bool) {
	r := ChangeReason(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Valid()
}

func (r ChangeReason) Valid() bool {
	_, ok := changeReasons[r]
	return ok
}

func (r ChangeReason) DisplayName() string {
	if name, ok := changeReasons[r]; ok {
		return name
	}
	return string(r)
}

// IsAutomatic reports whether the reason is triggered by the system.
func (r ChangeReason) IsAutomatic() bool {
	switch r {
	case ReasonSystemAuto, ReasonRuleChange, ReasonBatchRerating, ReasonSystemUpgrade, ReasonPeriodicReview:
		return true
	}
	return false
}

// IsManual reports whether an operator is expected to be attributed.
func (r ChangeReason) IsManual() bool {
	return r.Valid() && !r.IsAutomatic()
}
