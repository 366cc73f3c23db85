package claims

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/medclaims/claims/internal/platform/auth"
	"github.com/medclaims/claims/internal/platform/notification"
)

// submitAttempts bounds retries when two submits race for the same id.
const submitAttempts = 5

func hospitalCaller(p *auth.Principal) error {
	if err := requireRole(p, auth.HospitalRoles); err != nil {
		return err
	}
	if p.Scope.HospitalID == "" {
		return forbiddenf("no hospital is assigned to this user")
	}
	return nil
}

// SubmitInput is a new claim form plus any already uploaded documents.
type SubmitInput struct {
	Form      FormData
	Documents []string
}

// SubmitClaim validates a form and creates a qc_pending claim bound to the
// caller's hospital.
func (e *Engine) SubmitClaim(ctx context.Context, p *auth.Principal, in SubmitInput) (*Claim, error) {
	if err := hospitalCaller(p); err != nil {
		return nil, err
	}
	if len(in.Form) == 0 {
		return nil, validationf("form_data is required")
	}
	form := in.Form.Clone()
	if err := ValidateSubmission(form); err != nil {
		return nil, err
	}
	if err := e.verifyDocuments(ctx, in.Documents); err != nil {
		return nil, err
	}

	now := e.now()
	c := e.newClaim(p, form, now)
	c.linkDocuments(in.Documents, p.UserID, now)
	ch := change{Type: TxCreated, Remarks: "Claim submitted", Event: notification.EventPending}
	err := e.createClaim(ctx, c, func(ctx context.Context, c *Claim) error {
		_, err := e.txlog.Record(ctx, TxEntry{
			ClaimID:   c.ClaimID,
			Type:      ch.Type,
			Actor:     ActorFrom(p),
			NewStatus: c.Status,
			Remarks:   ch.Remarks,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.committed(ctx, p, c, ch)
	return c, nil
}

func (e *Engine) newClaim(p *auth.Principal, form FormData, now time.Time) *Claim {
	c := &Claim{
		Status:       StatusQCPending,
		HospitalID:   p.Scope.HospitalID,
		HospitalName: p.Scope.HospitalName,
		FormData:     form,
		CreatedBy:    p.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if c.HospitalName == "" {
		c.HospitalName = form.String("hospital_name")
	}
	c.syncFromForm()
	return c
}

// createClaim allocates the day's next id and inserts c. When a concurrent
// submit took the same id the whole transaction is retried.
func (e *Engine) createClaim(ctx context.Context, c *Claim, inTx func(ctx context.Context, c *Claim) error) error {
	for attempt := 1; ; attempt++ {
		err := e.store.InTx(ctx, func(ctx context.Context) error {
			seq, err := e.store.Claims().NextSequence(ctx, c.CreatedAt)
			if err != nil {
				return err
			}
			c.ClaimID = FormatClaimID(c.CreatedAt, seq)
			if err := e.store.Claims().Create(ctx, c); err != nil {
				return err
			}
			return inTx(ctx, c)
		})
		if !errors.Is(err, errDuplicateID) {
			return err
		}
		if attempt == submitAttempts {
			return conflictf("could not allocate a claim id, please retry")
		}
		e.logger.Debug().Str("claim_id", c.ClaimID).Int("attempt", attempt).Msg("claim id taken, retrying")
	}
}

func (e *Engine) draftFor(ctx context.Context, p *auth.Principal, draftID string) (*Draft, error) {
	if err := hospitalCaller(p); err != nil {
		return nil, err
	}
	d, err := e.store.Drafts().Get(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if d.HospitalID != p.Scope.HospitalID {
		return nil, forbiddenf("draft belongs to a different hospital")
	}
	return d, nil
}

func (e *Engine) SaveDraft(ctx context.Context, p *auth.Principal, form FormData) (*Draft, error) {
	if err := hospitalCaller(p); err != nil {
		return nil, err
	}
	if err := ValidateDraft(form); err != nil {
		return nil, err
	}
	now := e.now()
	d := &Draft{
		DraftID:      NewDraftID(),
		Status:       StatusDraft,
		HospitalID:   p.Scope.HospitalID,
		HospitalName: p.Scope.HospitalName,
		FormData:     form.Clone(),
		CreatedBy:    p.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.Drafts().Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateDraft layers form onto the stored draft form.
func (e *Engine) UpdateDraft(ctx context.Context, p *auth.Principal, draftID string, form FormData) (*Draft, error) {
	d, err := e.draftFor(ctx, p, draftID)
	if err != nil {
		return nil, err
	}
	merged := d.FormData.Clone()
	for k, v := range form {
		merged[k] = v
	}
	if err := ValidateDraft(merged); err != nil {
		return nil, err
	}
	d.FormData = merged
	d.UpdatedAt = e.now()
	if err := e.store.Drafts().Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (e *Engine) GetDraft(ctx context.Context, p *auth.Principal, draftID string) (*Draft, error) {
	return e.draftFor(ctx, p, draftID)
}

func (e *Engine) ListDrafts(ctx context.Context, p *auth.Principal, page Page) ([]*Draft, int, error) {
	if err := hospitalCaller(p); err != nil {
		return nil, 0, err
	}
	return e.store.Drafts().ListByHospital(ctx, p.Scope.HospitalID, page.Limit, page.Offset)
}

func (e *Engine) DeleteDraft(ctx context.Context, p *auth.Principal, draftID string) error {
	if _, err := e.draftFor(ctx, p, draftID); err != nil {
		return err
	}
	return e.store.Drafts().Delete(ctx, draftID)
}

// SubmitDraft converts a draft into a qc_pending claim and deletes the draft
// in the same transaction.
func (e *Engine) SubmitDraft(ctx context.Context, p *auth.Principal, draftID string) (*Claim, error) {
	d, err := e.draftFor(ctx, p, draftID)
	if err != nil {
		return nil, err
	}
	if d.Status != "" && d.Status != StatusDraft {
		return nil, validationf("Only drafts can be submitted (current status: %s)", d.Status)
	}
	form := d.FormData.Clone()
	if err := ValidateDraftSubmission(form); err != nil {
		return nil, err
	}

	c := e.newClaim(p, form, e.now())
	ch := change{
		Type:     TxSubmitted,
		Remarks:  "Draft submitted",
		Metadata: map[string]any{"draft_id": d.DraftID},
		Event:    notification.EventPending,
	}
	err = e.createClaim(ctx, c, func(ctx context.Context, c *Claim) error {
		if _, err := e.txlog.Record(ctx, TxEntry{
			ClaimID:        c.ClaimID,
			Type:           ch.Type,
			Actor:          ActorFrom(p),
			PreviousStatus: StatusDraft,
			NewStatus:      c.Status,
			Remarks:        ch.Remarks,
			Metadata:       ch.Metadata,
		}); err != nil {
			return err
		}
		return e.store.Drafts().Delete(ctx, d.DraftID)
	})
	if err != nil {
		return nil, err
	}
	e.committed(ctx, p, c, ch)
	return c, nil
}

// AnswerInput is a hospital's reply to a processor query.
type AnswerInput struct {
	Response  string
	Documents []string
}

func (e *Engine) AnswerQuery(ctx context.Context, p *auth.Principal, claimID string, in AnswerInput) (*Claim, error) {
	if err := hospitalCaller(p); err != nil {
		return nil, err
	}
	in.Response = strings.TrimSpace(in.Response)
	if in.Response == "" && len(in.Documents) == 0 {
		return nil, validationf("Provide a query response or upload at least one document")
	}
	if err := e.verifyDocuments(ctx, in.Documents); err != nil {
		return nil, err
	}
	return e.mutate(ctx, p, claimID, func(_ context.Context, c *Claim, now time.Time) (change, error) {
		if c.Status != StatusQCQuery && c.Status != StatusNeedMoreInfo {
			return change{}, validationf("Claim is not awaiting a query response (current status: %s)", c.Status)
		}
		c.Status = StatusQCAnswered
		c.QueryResponse = &QueryResponse{
			Response:   in.Response,
			Documents:  in.Documents,
			AnsweredBy: ActorFrom(p),
			AnsweredAt: now,
		}
		c.linkDocuments(in.Documents, p.UserID, now)
		return change{
			Type:     TxAnswered,
			Remarks:  in.Response,
			Metadata: map[string]any{"uploaded_files": in.Documents},
			Event:    notification.EventQCAnswered,
		}, nil
	})
}

const (
	DispatchOnline  = "online"
	DispatchCourier = "courier"
	DispatchDirect  = "direct"
)

// DispatchInput carries the physical dispatch details. Which fields are
// required depends on Mode.
type DispatchInput struct {
	Mode                 string
	Date                 string
	Remarks              string
	AcknowledgmentNumber string
	CourierName          string
	DocketNumber         string
	ContactPersonName    string
	ContactPersonPhone   string
}

func (in *DispatchInput) validate() error {
	in.Mode = strings.ToLower(strings.TrimSpace(in.Mode))
	if in.Mode == "" {
		in.Mode = DispatchOnline
	}
	if strings.TrimSpace(in.Date) == "" {
		return validationf("dispatch_date is required")
	}
	if _, err := parseDate(in.Date); err != nil {
		return validationf("dispatch_date is not a valid date")
	}
	var missing []string
	need := func(field, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, field)
		}
	}
	switch in.Mode {
	case DispatchOnline:
		need("acknowledgment_number", in.AcknowledgmentNumber)
	case DispatchCourier:
		need("courier_name", in.CourierName)
		need("docket_number", in.DocketNumber)
	case DispatchDirect:
		need("contact_person_name", in.ContactPersonName)
		need("contact_person_phone", in.ContactPersonPhone)
	default:
		return validationf("dispatch_mode must be one of online, courier, direct")
	}
	if len(missing) > 0 {
		return validationf("Missing required fields for %s dispatch: %s", in.Mode, strings.Join(missing, ", "))
	}
	return nil
}

// Dispatch records the physical dispatch of a cleared claim and opens its
// review track.
func (e *Engine) Dispatch(ctx context.Context, p *auth.Principal, claimID string, in DispatchInput) (*Claim, error) {
	if err := hospitalCaller(p); err != nil {
		return nil, err
	}
	return e.mutate(ctx, p, claimID, func(_ context.Context, c *Claim, now time.Time) (change, error) {
		if c.Status != StatusQCClear {
			return change{}, validationf("This claim is not cleared for dispatch (current status: %s)", c.Status)
		}
		if err := in.validate(); err != nil {
			return change{}, err
		}
		c.Status = StatusDispatched
		c.ReviewStatus = ReviewPending
		c.Dispatch = &Dispatch{
			Mode:                 in.Mode,
			Date:                 in.Date,
			Remarks:              in.Remarks,
			AcknowledgmentNumber: in.AcknowledgmentNumber,
			CourierName:          in.CourierName,
			DocketNumber:         in.DocketNumber,
			ContactPersonName:    in.ContactPersonName,
			ContactPersonPhone:   in.ContactPersonPhone,
			DispatchedBy:         ActorFrom(p),
			DispatchedAt:         now,
		}
		return change{
			Type:     TxDispatched,
			Remarks:  in.Remarks,
			Metadata: map[string]any{"dispatch_mode": in.Mode, "dispatch_date": in.Date},
			Event:    notification.EventDispatched,
		}, nil
	})
}

// ContestInput is a hospital's challenge to a denial.
type ContestInput struct {
	Reason    string
	Documents []string
}

func (e *Engine) Contest(ctx context.Context, p *auth.Principal, claimID string, in ContestInput) (*Claim, error) {
	if err := hospitalCaller(p); err != nil {
		return nil, err
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" && len(in.Documents) == 0 {
		return nil, validationf("Provide a contest reason or upload at least one document")
	}
	if err := e.verifyDocuments(ctx, in.Documents); err != nil {
		return nil, err
	}
	return e.mutate(ctx, p, claimID, func(_ context.Context, c *Claim, now time.Time) (change, error) {
		if c.Status != StatusClaimDenial {
			return change{}, validationf("Only denied claims can be contested (current status: %s)", c.Status)
		}
		c.Status = StatusClaimContested
		c.Contest = &Contest{
			Reason:      in.Reason,
			Documents:   in.Documents,
			ContestedBy: ActorFrom(p),
			ContestedAt: now,
		}
		c.linkDocuments(in.Documents, p.UserID, now)
		return change{
			Type:     TxContested,
			Remarks:  in.Reason,
			Metadata: map[string]any{"uploaded_files": in.Documents},
			Event:    notification.EventContested,
		}, nil
	})
}

// ClaimQuery filters a hospital's own claim listing.
type ClaimQuery struct {
	Status Status
	DateRange
	Page
}

func (e *Engine) ListMyClaims(ctx context.Context, p *auth.Principal, q ClaimQuery) ([]*Claim, int, error) {
	if err := hospitalCaller(p); err != nil {
		return nil, 0, err
	}
	f := ClaimFilter{Limit: q.Limit, Offset: q.Offset}
	if q.Status != "" {
		f.Statuses = []Status{q.Status}
	}
	q.DateRange.apply(&f)
	scopeFilter(p, &f)
	return e.store.Claims().List(ctx, f)
}
