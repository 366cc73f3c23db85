package auth

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	RoleHospitalUser     = "hospital_user"
	RoleClaimProcessor   = "claim_processor"
	RoleClaimProcessorL1 = "claim_processor_l1"
	RoleClaimProcessorL2 = "claim_processor_l2"
	RoleClaimProcessorL3 = "claim_processor_l3"
	RoleClaimProcessorL4 = "claim_processor_l4"
	RoleReconciler       = "reconciler"
	RoleRM               = "rm"
	RoleReviewRequest    = "review_request"
)

// BlockedRoles never reach the claims module, whatever else they match.
var BlockedRoles = map[string]bool{
	"admin":          true,
	"super_admin":    true,
	"system_admin":   true,
	"hospital_admin": true,
	"rp":             true,
	"employee":       true,
}

var (
	ProcessorRoles = []string{
		RoleClaimProcessor, RoleClaimProcessorL1, RoleClaimProcessorL2,
		RoleClaimProcessorL3, RoleClaimProcessorL4,
	}
	HospitalRoles = []string{RoleHospitalUser}
	ReviewRoles   = []string{RoleReviewRequest}
	RMRoles       = []string{RoleRM, RoleReconciler}
	ClaimsRoles   = append(append(append(append([]string{}, HospitalRoles...), ProcessorRoles...), RMRoles...), ReviewRoles...)
)

// approvalCeilings holds the highest claimed amount each processor level may
// act on. Levels absent here are unlimited.
var approvalCeilings = map[string]decimal.Decimal{
	RoleClaimProcessorL1: decimal.NewFromInt(50000),
	RoleClaimProcessorL2: decimal.NewFromInt(100000),
	RoleClaimProcessorL3: decimal.NewFromInt(200000),
}

// ApprovalCeiling returns the role's ceiling and false when the role is unlimited.
func ApprovalCeiling(role string) (decimal.Decimal, bool) {
	c, ok := approvalCeilings[role]
	return c, ok
}

func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func IsBlocked(role string) bool {
	return BlockedRoles[NormalizeRole(role)]
}

func IsProcessor(role string) bool {
	return hasRole(ProcessorRoles, role)
}

func hasRole(set []string, role string) bool {
	role = NormalizeRole(role)
	for _, r := range set {
		if r == role {
			return true
		}
	}
	return false
}

// InGroup reports whether role belongs to one of the role groups above.
func InGroup(role string, group []string) bool {
	return hasRole(group, role)
}
