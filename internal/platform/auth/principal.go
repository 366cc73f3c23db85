package auth

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type principalKey struct{}

// Entity is a hospital or payer assignment on a user profile.
type Entity struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Scope is the set of entities a principal may act on. Empty hospital or
// payer lists mean unrestricted for assignment-scoped roles.
type Scope struct {
	HospitalID   string           `json:"hospital_id,omitempty"`
	HospitalName string           `json:"hospital_name,omitempty"`
	Hospitals    []Entity         `json:"hospitals,omitempty"`
	Payers       []Entity         `json:"payers,omitempty"`
	Ceiling      *decimal.Decimal `json:"approval_ceiling,omitempty"`
}

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Scope     Scope     `json:"scope"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// BuildScope derives the entity scope for a role from its profile. Hospital
// users are bound to their first assigned hospital only.
func BuildScope(role string, a EntityAssignments) Scope {
	var s Scope
	if NormalizeRole(role) == RoleHospitalUser {
		if len(a.Hospitals) > 0 {
			s.HospitalID = a.Hospitals[0].ID
			s.HospitalName = a.Hospitals[0].Name
		}
		return s
	}
	s.Hospitals = a.Hospitals
	s.Payers = a.Payers
	if c, ok := ApprovalCeiling(NormalizeRole(role)); ok {
		s.Ceiling = &c
	}
	return s
}

// HospitalIDs lists the assigned hospital ids; nil means unrestricted.
func (s Scope) HospitalIDs() []string {
	var ids []string
	for _, h := range s.Hospitals {
		if h.ID != "" {
			ids = append(ids, h.ID)
		}
	}
	return ids
}

// PayerNames lists the assigned payer names; nil means unrestricted.
func (s Scope) PayerNames() []string {
	var names []string
	for _, p := range s.Payers {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return names
}

// AllowsHospital matches a claim's hospital against the assignment list by id
// or by name.
func (s Scope) AllowsHospital(id, name string) bool {
	if len(s.Hospitals) == 0 {
		return true
	}
	for _, h := range s.Hospitals {
		if h.ID != "" && h.ID == id {
			return true
		}
		if h.Name != "" && strings.EqualFold(h.Name, name) {
			return true
		}
	}
	return false
}

// AllowsPayer does a case-insensitive substring match on the claim's payer name.
func (s Scope) AllowsPayer(payerName string) bool {
	if len(s.Payers) == 0 {
		return true
	}
	lp := strings.ToLower(payerName)
	for _, p := range s.Payers {
		if p.Name != "" && strings.Contains(lp, strings.ToLower(p.Name)) {
			return true
		}
	}
	return false
}

func (s Scope) WithinCeiling(amount decimal.Decimal) bool {
	return s.Ceiling == nil || amount.LessThanOrEqual(*s.Ceiling)
}
