package claims

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Fields a hospital must fill before a claim enters QC.
var submissionRequired = []string{
	"patient_name", "age", "gender", "id_card_type", "beneficiary_type", "relationship",
	"payer_patient_id", "authorization_number", "total_authorized_amount", "payer_type", "payer_name",
	"patient_registration_number", "specialty", "doctor", "treatment_line", "claim_type",
	"service_start_date", "service_end_date", "inpatient_number", "admission_type",
	"hospitalization_type", "ward_type", "final_diagnosis", "treatment_done",
	"bill_number", "bill_date", "total_bill_amount", "claimed_amount",
}

// Drafts additionally need policy_type and accept date_of_birth in place of age.
var draftSubmissionRequired = func() []string {
	out := make([]string, 0, len(submissionRequired))
	for _, f := range submissionRequired {
		if f == "age" {
			continue
		}
		out = append(out, f)
		if f == "treatment_line" {
			out = append(out, "policy_type")
		}
	}
	return out
}()

var ageUnits = map[string]bool{"DAYS": true, "MONTHS": true, "YRS": true}

const claimTypeDialysis = "DIALYSIS"

func missingFields(f FormData, required []string) []string {
	var missing []string
	for _, k := range required {
		if !f.Present(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// ValidateSubmission checks a form for direct submission. Dialysis amounts
// are derived in place before the required-field check.
func ValidateSubmission(f FormData) error {
	if err := applyDialysis(f); err != nil {
		return err
	}
	if missing := missingFields(f, submissionRequired); len(missing) > 0 {
		return validationf("Missing required fields: %s", strings.Join(missing, ", "))
	}
	return validateBusinessRules(f)
}

// ValidateDraftSubmission checks a draft's form before conversion.
func ValidateDraftSubmission(f FormData) error {
	if err := applyDialysis(f); err != nil {
		return err
	}
	if missing := missingFields(f, draftSubmissionRequired); len(missing) > 0 {
		return validationf("Missing required fields to submit: %s", strings.Join(missing, ", "))
	}
	hasDOB := f.Present("date_of_birth")
	// An age of 0 is valid for newborns, so Present is too strict here.
	hasAge := f.String("age") != ""
	if !hasDOB && !hasAge {
		return validationf("Either date_of_birth or age must be provided before submitting a draft")
	}
	if hasAge && !ageUnits[f.String("age_unit")] {
		return validationf("Age unit must be one of DAYS, MONTHS, or YRS when age is provided")
	}
	return validateBusinessRules(f)
}

// ValidateDraft applies the minimal rule for saving a draft.
func ValidateDraft(f FormData) error {
	if !f.Present("patient_name") {
		return validationf("patient_name is required to save a draft")
	}
	return nil
}

func validateBusinessRules(f FormData) error {
	authorized, _, err := f.Decimal("total_authorized_amount")
	if err != nil {
		return validationf("total_authorized_amount must be a number")
	}
	claimed, _, err := f.Decimal("claimed_amount")
	if err != nil {
		return validationf("claimed_amount must be a number")
	}
	if claimed.IsNegative() || authorized.IsNegative() {
		return validationf("amounts must not be negative")
	}
	if claimed.GreaterThan(authorized) {
		return validationf("Claimed Amount (%s) cannot exceed Total Authorized Amount (%s)",
			claimed.StringFixed(2), authorized.StringFixed(2))
	}

	if strings.EqualFold(f.String("payer_type"), "TPA") && !f.Present("insurer_name") {
		return validationf("insurer_name is required when payer_type is TPA")
	}

	start, err := parseDate(f.String("service_start_date"))
	if err != nil {
		return validationf("service_start_date is not a valid date")
	}
	end, err := parseDate(f.String("service_end_date"))
	if err != nil {
		return validationf("service_end_date is not a valid date")
	}
	if start.After(end) {
		return validationf("service_start_date must be on or before service_end_date")
	}
	return nil
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04", "2006-01-02T15:04:05"}

func parseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, strings.TrimSpace(s))
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// DialysisTotals are the amounts derived from a dialysis bill list.
type DialysisTotals struct {
	TotalBillAmount      decimal.Decimal
	TotalPatientPaid     decimal.Decimal
	AmountChargedToPayer decimal.Decimal
	ClaimedAmount        decimal.Decimal
}

// DeriveDialysis computes the dialysis amounts. Each bill needs a number, a
// date and a positive amount.
func DeriveDialysis(f FormData) (DialysisTotals, error) {
	var t DialysisTotals
	raw, _ := f["dialysis_bills"].([]any)
	if len(raw) == 0 {
		return t, validationf("Add at least one dialysis bill entry")
	}
	for i, item := range raw {
		bill, ok := item.(map[string]any)
		if !ok {
			return t, validationf("dialysis bill %d is malformed", i+1)
		}
		bf := FormData(bill)
		if bf.String("bill_number") == "" {
			return t, validationf("dialysis bill %d: bill number is required", i+1)
		}
		if _, err := parseDate(bf.String("bill_date")); err != nil {
			return t, validationf("dialysis bill %d: bill date is invalid", i+1)
		}
		key := "bill_amount"
		if _, ok := bill[key]; !ok {
			key = "amount"
		}
		amt, ok, err := bf.Decimal(key)
		if err != nil || !ok || !amt.IsPositive() {
			return t, validationf("dialysis bill %d: amount must be positive", i+1)
		}
		t.TotalBillAmount = t.TotalBillAmount.Add(amt)
	}
	if !t.TotalBillAmount.IsPositive() {
		return t, validationf("dialysis bills must sum to a positive total")
	}

	discount, err := optionalAmount(f, "patient_discount_amount")
	if err != nil {
		return t, err
	}
	paid, err := optionalAmount(f, "amount_paid_by_patient")
	if err != nil {
		return t, err
	}
	mou, err := optionalAmount(f, "mou_discount_amount")
	if err != nil {
		return t, err
	}

	t.TotalPatientPaid = discount.Add(paid)
	t.AmountChargedToPayer = decimal.Max(t.TotalBillAmount.Sub(t.TotalPatientPaid), decimal.Zero)
	t.ClaimedAmount = decimal.Max(t.AmountChargedToPayer.Sub(mou), decimal.Zero)
	return t, nil
}

func optionalAmount(f FormData, key string) (decimal.Decimal, error) {
	d, ok, err := f.Decimal(key)
	if err != nil {
		return decimal.Zero, validationf("%s must be a number", key)
	}
	if ok && d.IsNegative() {
		return decimal.Zero, validationf("%s must be 0 or greater", key)
	}
	return d, nil
}

// applyDialysis overwrites the user-supplied totals on dialysis claims.
func applyDialysis(f FormData) error {
	if !strings.EqualFold(f.String("claim_type"), claimTypeDialysis) {
		return nil
	}
	t, err := DeriveDialysis(f)
	if err != nil {
		return err
	}
	f["total_bill_amount"] = json.Number(t.TotalBillAmount.String())
	f["total_patient_paid_amount"] = json.Number(t.TotalPatientPaid.String())
	f["amount_charged_to_payer"] = json.Number(t.AmountChargedToPayer.String())
	f["claimed_amount"] = json.Number(t.ClaimedAmount.String())

	// The generic bill fields mirror the first dialysis bill when left blank.
	first, _ := f["dialysis_bills"].([]any)[0].(map[string]any)
	if !f.Present("bill_number") {
		f["bill_number"] = FormData(first).String("bill_number")
	}
	if !f.Present("bill_date") {
		f["bill_date"] = FormData(first).String("bill_date")
	}
	return nil
}
