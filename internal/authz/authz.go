// Package authz decides which intents an actor role may run.
// Guards are pure functions that evaluate preconditions without side effects.
package authz

import (
	"fmt"
	"strings"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
)

// Role is the mode an actor talks to the assistant in.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleDriver   Role = "driver"
	RoleCustomer Role = "customer"
	RoleWhatsApp Role = "whatsapp"
)

// ParseRole maps free text onto a role. Unknown values fall back to owner.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleDriver:
		return RoleDriver
	case RoleCustomer:
		return RoleCustomer
	case RoleWhatsApp:
		return RoleWhatsApp
	default:
		return RoleOwner
	}
}

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Error converts the guard result to an error if not allowed.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%s", r.Reason)
}

var always = []intent.Label{intent.Chat, intent.Greeting, intent.Cancel, intent.Unknown}

var allowed = map[Role][]intent.Label{
	RoleCustomer: {
		intent.CreateLoad, intent.UpdateRecord, intent.LoadDetails, intent.UserDetails,
		intent.RegisterUser,
	},
	RoleDriver: {
		intent.RegisterUser, intent.DriverDetails, intent.UserDetails, intent.TripDetails,
		intent.TripExpenses, intent.DriverExpenses, intent.AddExpense, intent.UpdateRecord,
		intent.AddLocationUpdate, intent.LoadDetails,
	},
}

// selfRegistration restricts register_user to the actor's own role.
var selfRegistration = map[Role]string{
	RoleCustomer: "customer",
	RoleDriver:   "driver",
}

// CanRun evaluates whether role may run label with the given entities.
// Rules:
// - owner and whatsapp may run everything
// - driver and customer are limited to their allowlist
// - driver and customer may only register users of their own role
func CanRun(role Role, label intent.Label, entities map[string]any) GuardResult {
	for _, l := range always {
		if l == label {
			return GuardResult{Allowed: true}
		}
	}
	if role == RoleOwner || role == RoleWhatsApp || role == "" {
		return GuardResult{Allowed: true}
	}

	list, ok := allowed[role]
	permitted := false
	for _, l := range list {
		if ok && l == label {
			permitted = true
			break
		}
	}
	if !permitted {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("Access denied: '%s' is not available in %s mode.", label, role),
		}
	}

	if label == intent.RegisterUser {
		want := selfRegistration[role]
		if got, _ := entities["role"].(string); got != "" && !strings.EqualFold(got, want) {
			return GuardResult{
				Allowed: false,
				Reason:  fmt.Sprintf("Access denied: %s mode can only register a %s.", role, want),
			}
		}
	}
	return GuardResult{Allowed: true}
}

// Constrain fills fields a role implies, such as the role of a self-registration.
func Constrain(role Role, label intent.Label, entities map[string]any) {
	if label != intent.RegisterUser {
		return
	}
	if want, ok := selfRegistration[role]; ok {
		if _, set := entities["role"]; !set {
			entities["role"] = want
		}
	}
}
