package governor

import (
	"github.com/stayward/stayward/internal/apperr"
	"github.com/stayward/stayward/internal/auditledger"
)

// Verb is the kind of operation a caller performs on an entity.
type Verb string

const (
	VerbView   Verb = "view"
	VerbCreate Verb = "create"
	VerbUpdate Verb = "update"
	VerbDelete Verb = "delete"
	VerbLogin  Verb = "login"
	VerbLogout Verb = "logout"
)

var verbActions = map[Verb]auditledger.Action{
	VerbView:   auditledger.ActionView,
	VerbCreate: auditledger.ActionCreate,
	VerbUpdate: auditledger.ActionUpdate,
	VerbDelete: auditledger.ActionDelete,
	VerbLogin:  auditledger.ActionLogin,
	VerbLogout: auditledger.ActionLogout,
}

// Action returns the audit action recorded for v.
func (v Verb) Action() (auditledger.Action, error) {
	a, ok := verbActions[v]
	if !ok {
		return "", apperr.Validation("unknown verb %q", v)
	}
	return a, nil
}

// Mutating reports whether v changes state and is therefore subject to the
// record lock.
func (v Verb) Mutating() bool {
	return v == VerbCreate || v == VerbUpdate || v == VerbDelete
}

// VerbForMethod maps an HTTP method to the verb it performs.
func VerbForMethod(method string) Verb {
	switch method {
	case "POST":
		return VerbCreate
	case "PUT", "PATCH":
		return VerbUpdate
	case "DELETE":
		return VerbDelete
	default:
		return VerbView
	}
}
