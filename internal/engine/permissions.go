package engine

import (
	"fmt"

	"github.com/istefan/ahoi-api/internal/metadata"
)

// Operation identifies one CRUD action on a structure.
type Operation string

const (
	OpList   Operation = "list"
	OpGet    Operation = "get"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Authorization policies.
const (
	PolicyOwnership  = "ownership"
	PolicyCapability = "capability"
)

// capabilityForOp maps an operation to the capability template it
// requires under the capability policy. Only create is scoped per
// structure; the rest fall back to plain API access.
var capabilityForOp = map[Operation]string{
	OpList:   "use_api",
	OpGet:    "use_api",
	OpCreate: "create_%s",
	OpUpdate: "use_api",
	OpDelete: "use_api",
}

// RequiredCapability returns the capability a principal needs for the
// given operation on the given structure.
func RequiredCapability(op Operation, slug string) string {
	tmpl, ok := capabilityForOp[op]
	if !ok {
		return "use_api"
	}
	if tmpl == "create_%s" {
		return fmt.Sprintf(tmpl, slug)
	}
	return tmpl
}

// Authorize checks whether the principal may perform op on the
// structure under the given policy. Record-level ownership is enforced
// separately through query scoping.
func Authorize(p *metadata.Principal, op Operation, slug, policy string) error {
	if p == nil {
		return UnauthorizedError("Authentication required")
	}
	if p.IsAdministrator() {
		return nil
	}

	switch policy {
	case PolicyCapability:
		capability := RequiredCapability(op, slug)
		if !p.Can(capability) {
			return ForbiddenError(fmt.Sprintf("Missing capability %s for %s on %s", capability, op, slug))
		}
		return nil
	default:
		if !p.Can("use_api") {
			return ForbiddenError("API access is not enabled for this account")
		}
		return nil
	}
}

// OwnerScope returns the owner id that read and write queries must be
// restricted to, or nil when the principal may see every record.
func OwnerScope(p *metadata.Principal, policy string) *int64 {
	if policy != PolicyOwnership {
		return nil
	}
	if p.IsAdministrator() || p.Can("manage_ahoi_api_all_data") {
		return nil
	}
	id := p.ID
	return &id
}
