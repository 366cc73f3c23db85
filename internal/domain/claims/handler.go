package claims

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medclaims/claims/internal/platform/auth"
	"github.com/medclaims/claims/pkg/pagination"
)

type Handler struct {
	engine *Engine
	logger zerolog.Logger
}

func NewHandler(engine *Engine, logger zerolog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// RegisterRoutes mounts the claims API on an authenticated group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	hospitalOnly := auth.RequireRole(auth.HospitalRoles...)
	claimRoutes := api.Group("/claims", auth.RequireRole(auth.ClaimsRoles...))

	// Hospital endpoints (hospital_user)
	claimRoutes.POST("/submit-claim", h.SubmitClaim, hospitalOnly)
	claimRoutes.GET("/my-claims", h.ListMyClaims, hospitalOnly)
	claimRoutes.POST("/:id/answer-query", h.AnswerQuery, hospitalOnly)
	claimRoutes.POST("/:id/dispatch", h.Dispatch, hospitalOnly)
	claimRoutes.POST("/:id/contest", h.Contest, hospitalOnly)

	drafts := api.Group("/drafts", hospitalOnly)
	drafts.POST("", h.SaveDraft)
	drafts.GET("", h.ListDrafts)
	drafts.GET("/:id", h.GetDraft)
	drafts.PUT("/:id", h.UpdateDraft)
	drafts.DELETE("/:id", h.DeleteDraft)
	drafts.POST("/:id/submit", h.SubmitDraft)

	// Shared reads; scope is checked in the engine
	claimRoutes.GET("/:id", h.GetClaim)
	claimRoutes.GET("/:id/transactions", h.ListTransactions)

	proc := api.Group("/processor", auth.RequireRole(auth.ProcessorRoles...))
	proc.GET("/claims", h.ProcessorInbox)
	proc.POST("/claims/bulk-process", h.BulkProcess)
	proc.POST("/claims/:id/process", h.Process)
	proc.GET("/claims/:id/lock", h.CheckLock)
	proc.POST("/claims/:id/lock", h.LockClaim)
	proc.DELETE("/claims/:id/lock", h.UnlockClaim)
	proc.GET("/stats", h.ProcessorStats)

	review := api.Group("/review", auth.RequireRole(auth.ReviewRoles...))
	review.GET("/claims", h.ReviewInbox)
	review.POST("/claims/:id/review", h.Review)
	review.POST("/claims/:id/escalate", h.Escalate)
	review.GET("/stats", h.ReviewStats)

	rm := api.Group("/rm", auth.RequireRole(auth.RMRoles...))
	rm.GET("/claims", h.RMInbox)
	rm.POST("/claims/:id/update", h.UpdateRM)
	rm.POST("/claims/:id/reevaluate", h.Reevaluate)
	rm.GET("/stats", h.RMStats)
}

func principal(c echo.Context) *auth.Principal {
	return auth.PrincipalFromContext(c.Request().Context())
}

// toHTTP maps engine errors onto status codes. Anything unexpected is logged
// and hidden from the client.
func (h *Handler) toHTTP(c echo.Context, err error) error {
	var lc *LockConflictError
	if errors.As(err, &lc) {
		return echo.NewHTTPError(http.StatusConflict, map[string]any{
			"message":         lc.Error(),
			"locked_by":       lc.HolderID,
			"locked_by_email": lc.HolderEmail,
			"locked_by_name":  lc.HolderName,
			"locked_at":       lc.LockedAt,
			"lock_expires_at": lc.ExpiresAt,
		})
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case ErrValidation:
			return echo.NewHTTPError(http.StatusBadRequest, e.Msg)
		case ErrUnauthenticated:
			return echo.NewHTTPError(http.StatusUnauthorized, e.Msg)
		case ErrForbidden:
			return echo.NewHTTPError(http.StatusForbidden, e.Msg)
		case ErrNotFound:
			return echo.NewHTTPError(http.StatusNotFound, e.Msg)
		case ErrConflict:
			return echo.NewHTTPError(http.StatusConflict, e.Msg)
		}
	}
	h.logger.Error().Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Str("claim_id", c.Param("id")).
		Msg("claims request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// decodeBody reads a JSON object keeping numbers exact. Errors raised by the
// body reader itself, such as the size limit, pass through unchanged.
func decodeBody(c echo.Context, v any) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	return nil
}

// formBody accepts either {"form_data": {...}} or the form fields at the top
// level.
func formBody(c echo.Context) (FormData, []string, error) {
	var raw map[string]any
	if err := decodeBody(c, &raw); err != nil {
		return nil, nil, err
	}
	docs := stringList(raw["uploaded_files"])
	if inner, ok := raw["form_data"].(map[string]any); ok {
		return FormData(inner), docs, nil
	}
	delete(raw, "uploaded_files")
	return FormData(raw), docs, nil
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// dateRange reads from/to as dates; to is inclusive of the whole day.
func dateRange(c echo.Context) (DateRange, error) {
	var r DateRange
	if s := c.QueryParam("from"); s != "" {
		t, err := parseDate(s)
		if err != nil {
			return r, echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
		}
		r.From = &t
	}
	if s := c.QueryParam("to"); s != "" {
		t, err := parseDate(s)
		if err != nil {
			return r, echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
		}
		end := t.Truncate(24 * time.Hour).Add(24 * time.Hour)
		r.To = &end
	}
	if r.From != nil && r.To != nil && !r.From.Before(*r.To) {
		return r, echo.NewHTTPError(http.StatusBadRequest, "from must be on or before to")
	}
	return r, nil
}

func page(c echo.Context) (Page, pagination.Params) {
	pg := pagination.FromContext(c)
	return Page{Limit: pg.Limit, Offset: pg.Offset}, pg
}

// -- Hospital --

func (h *Handler) SubmitClaim(c echo.Context) error {
	form, docs, err := formBody(c)
	if err != nil {
		return err
	}
	claim, err := h.engine.SubmitClaim(c.Request().Context(), principal(c), SubmitInput{Form: form, Documents: docs})
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusCreated, claim)
}

func (h *Handler) ListMyClaims(c echo.Context) error {
	r, err := dateRange(c)
	if err != nil {
		return err
	}
	p, pg := page(c)
	q := ClaimQuery{DateRange: r, Page: p}
	if s := c.QueryParam("status"); s != "" {
		q.Status = Normalize(s)
	}
	items, total, err := h.engine.ListMyClaims(c.Request().Context(), principal(c), q)
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type answerRequest struct {
	QueryResponse string   `json:"query_response"`
	UploadedFiles []string `json:"uploaded_files"`
}

func (h *Handler) AnswerQuery(c echo.Context) error {
	var req answerRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	claim, err := h.engine.AnswerQuery(c.Request().Context(), principal(c), c.Param("id"),
		AnswerInput{Response: req.QueryResponse, Documents: req.UploadedFiles})
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, claim)
}

type dispatchRequest struct {
	Mode                 string `json:"dispatch_mode"`
	Date                 string `json:"dispatch_date"`
	Remarks              string `json:"dispatch_remarks"`
	AcknowledgmentNumber string `json:"acknowledgment_number"`
	CourierName          string `json:"courier_name"`
	DocketNumber         string `json:"docket_number"`
	ContactPersonName    string `json:"contact_person_name"`
	ContactPersonPhone   string `json:"contact_person_phone"`
}

func (h *Handler) Dispatch(c echo.Context) error {
	var req dispatchRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	claim, err := h.engine.Dispatch(c.Request().Context(), principal(c), c.Param("id"), DispatchInput(req))
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, claim)
}

type contestRequest struct {
	Reason        string   `json:"contest_reason"`
	UploadedFiles []string `json:"uploaded_files"`
}

func (h *Handler) Contest(c echo.Context) error {
	var req contestRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	claim, err := h.engine.Contest(c.Request().Context(), principal(c), c.Param("id"),
		ContestInput{Reason: req.Reason, Documents: req.UploadedFiles})
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, claim)
}

// -- Drafts --

func (h *Handler) SaveDraft(c echo.Context) error {
	form, _, err := formBody(c)
	if err != nil {
		return err
	}
	d, err := h.engine.SaveDraft(c.Request().Context(), principal(c), form)
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListDrafts(c echo.Context) error {
	p, pg := page(c)
	items, total, err := h.engine.ListDrafts(c.Request().Context(), principal(c), p)
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetDraft(c echo.Context) error {
	d, err := h.engine.GetDraft(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateDraft(c echo.Context) error {
	form, _, err := formBody(c)
	if err != nil {
		return err
	}
	d, err := h.engine.UpdateDraft(c.Request().Context(), principal(c), c.Param("id"), form)
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteDraft(c echo.Context) error {
	if err := h.engine.DeleteDraft(c.Request().Context(), principal(c), c.Param("id")); err != nil {
		return h.toHTTP(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SubmitDraft(c echo.Context) error {
	claim, err := h.engine.SubmitDraft(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusCreated, claim)
}

// -- Shared --

func (h *Handler) GetClaim(c echo.Context) error {
	claim, err := h.engine.GetClaim(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) ListTransactions(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.engine.ListTransactions(c.Request().Context(), principal(c), c.Param("id"), limit)
	if err != nil {
		return h.toHTTP(c, err)
	}
	if items == nil {
		items = []*Transaction{}
	}
	return c.JSON(http.StatusOK, map[string]any{"claim_id": c.Param("id"), "transactions": items})
}

// -- Processor --

type processRequest struct {
	Status  string `json:"status"`
	Remarks string `json:"remarks"`
}

func (h *Handler) Process(c echo.Context) error {
	var req processRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	claim, err := h.engine.Process(c.Request().Context(), principal(c), c.Param("id"),
		ProcessInput{Status: Normalize(req.Status), Remarks: req.Remarks})
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, claim)
}

type bulkProcessRequest struct {
	ClaimIDs []string `json:"claim_ids"`
	processRequest
}

func (h *Handler) BulkProcess(c echo.Context) error {
	var req bulkProcessRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	res, err := h.engine.BulkProcess(c.Request().Context(), principal(c), req.ClaimIDs,
		ProcessInput{Status: Normalize(req.Status), Remarks: req.Remarks})
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) inboxQuery(c echo.Context) (InboxQuery, pagination.Params, error) {
	r, err := dateRange(c)
	if err != nil {
		return InboxQuery{}, pagination.Params{}, err
	}
	p, pg := page(c)
	return InboxQuery{Tab: c.QueryParam("tab"), Payer: c.QueryParam("payer_name"), DateRange: r, Page: p}, pg, nil
}

func (h *Handler) ProcessorInbox(c echo.Context) error {
	q, pg, err := h.inboxQuery(c)
	if err != nil {
		return err
	}
	items, total, err := h.engine.ProcessorInbox(c.Request().Context(), principal(c), q)
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ProcessorStats(c echo.Context) error {
	r, err := dateRange(c)
	if err != nil {
		return err
	}
	stats, err := h.engine.ProcessorStats(c.Request().Context(), principal(c), r)
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) CheckLock(c echo.Context) error {
	st, err := h.engine.CheckLock(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) LockClaim(c echo.Context) error {
	st, err := h.engine.LockClaim(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) UnlockClaim(c echo.Context) error {
	st, err := h.engine.UnlockClaim(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// -- Review --

type reviewRequest struct {
	ReviewAction   string `json:"review_action"`
	ReviewDecision string `json:"review_decision"`
	ReviewRemarks  string `json:"review_remarks"`
	Remarks        string `json:"remarks"`
	ReasonByPayer  string `json:"reason_by_payer"`

	TotalBillAmount     *decimal.Decimal `json:"total_bill_amount"`
	ClaimedAmount       *decimal.Decimal `json:"claimed_amount"`
	ApprovedAmount      *decimal.Decimal `json:"approved_amount"`
	DisallowedAmount    *decimal.Decimal `json:"disallowed_amount"`
	ReviewRequestAmount *decimal.Decimal `json:"review_request_amount"`
	PatientPaidAmount   *decimal.Decimal `json:"patient_paid_amount"`
	DiscountAmount      *decimal.Decimal `json:"discount_amount"`
}

func (h *Handler) Review(c echo.Context) error {
	var req reviewRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	in := ReviewInput{
		Action:              firstSet(req.ReviewAction, req.ReviewDecision),
		Remarks:             firstSet(req.ReviewRemarks, req.Remarks),
		ReasonByPayer:       req.ReasonByPayer,
		TotalBillAmount:     req.TotalBillAmount,
		ClaimedAmount:       req.ClaimedAmount,
		ApprovedAmount:      req.ApprovedAmount,
		DisallowedAmount:    req.DisallowedAmount,
		ReviewRequestAmount: req.ReviewRequestAmount,
		PatientPaidAmount:   req.PatientPaidAmount,
		DiscountAmount:      req.DiscountAmount,
	}
	if in.Action == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "review_action is required")
	}
	claim, err := h.engine.Review(c.Request().Context(), principal(c), c.Param("id"), in)
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, claim)
}

type escalateRequest struct {
	Reason        string `json:"escalation_reason"`
	EscalatedTo   string `json:"escalated_to"`
	ReviewRemarks string `json:"review_remarks"`
	Remarks       string `json:"remarks"`
}

func (h *Handler) Escalate(c echo.Context) error {
	var req escalateRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	claim, err := h.engine.Escalate(c.Request().Context(), principal(c), c.Param("id"), EscalateInput{
		Reason:      req.Reason,
		EscalatedTo: req.EscalatedTo,
		Remarks:     firstSet(req.ReviewRemarks, req.Remarks),
	})
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) ReviewInbox(c echo.Context) error {
	r, err := dateRange(c)
	if err != nil {
		return err
	}
	p, pg := page(c)
	q := ReviewQuery{Group: c.QueryParam("review_status"), Payer: c.QueryParam("payer_name"), DateRange: r, Page: p}
	items, total, err := h.engine.ReviewInbox(c.Request().Context(), principal(c), q)
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ReviewStats(c echo.Context) error {
	r, err := dateRange(c)
	if err != nil {
		return err
	}
	stats, err := h.engine.ReviewStats(c.Request().Context(), principal(c), r)
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// -- RM --

type rmUpdateRequest struct {
	ClaimStatus         string         `json:"claim_status"`
	RMStatus            string         `json:"rm_status"`
	StatusRaisedDate    string         `json:"status_raised_date"`
	StatusRaisedRemarks string         `json:"status_raised_remarks"`
	RMData              map[string]any `json:"rm_data"`
}

func (h *Handler) UpdateRM(c echo.Context) error {
	var req rmUpdateRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	claim, err := h.engine.UpdateRM(c.Request().Context(), principal(c), c.Param("id"), RMUpdateInput{
		Status:              NormalizeRM(firstSet(req.ClaimStatus, req.RMStatus)),
		StatusRaisedDate:    req.StatusRaisedDate,
		StatusRaisedRemarks: req.StatusRaisedRemarks,
		Data:                req.RMData,
	})
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, RMItem{Claim: claim, StatusLabel: claim.Status.Label()})
}

type reevaluateRequest struct {
	Remarks             string `json:"remarks"`
	ReevaluationRemarks string `json:"reevaluation_remarks"`
}

func (h *Handler) Reevaluate(c echo.Context) error {
	var req reevaluateRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	claim, err := h.engine.Reevaluate(c.Request().Context(), principal(c), c.Param("id"),
		firstSet(req.Remarks, req.ReevaluationRemarks))
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, RMItem{Claim: claim, StatusLabel: claim.Status.Label()})
}

func (h *Handler) RMInbox(c echo.Context) error {
	q, pg, err := h.inboxQuery(c)
	if err != nil {
		return err
	}
	items, total, err := h.engine.RMInbox(c.Request().Context(), principal(c), q)
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RMStats(c echo.Context) error {
	r, err := dateRange(c)
	if err != nil {
		return err
	}
	stats, err := h.engine.RMStats(c.Request().Context(), principal(c), r)
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
