package metadata

// Roles known to the engine.
const (
	RoleAdministrator = "administrator"
	RoleManager       = "manager"
	RoleMember        = "member"
)

// Capabilities granted by each role. Administrators pass every check
// regardless of this table.
var RoleCapabilities = map[string][]string{
	RoleManager: {"use_api", "manage_api_users", "manage_ahoi_api_all_data", "send_api_emails", "upload_files"},
	RoleMember:  {"use_api"},
}

// Principal represents the authenticated user, set by auth middleware.
type Principal struct {
	ID           int64    `json:"id"`
	Username     string   `json:"username"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"` // extra grants beyond the role
}

// Can checks whether the principal holds a capability, either through
// its role or through a per-user grant.
func (p *Principal) Can(capability string) bool {
	if p.IsAdministrator() {
		return true
	}
	for _, c := range RoleCapabilities[p.Role] {
		if c == capability {
			return true
		}
	}
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// IsAdministrator checks whether the principal has the administrator role.
func (p *Principal) IsAdministrator() bool {
	return p.Role == RoleAdministrator
}
