package auth

// Authorize reports whether p may use capability c. Session users pass every check; API keys
// need c itself or admin.
func Authorize(p *Principal, c Capability) bool {
	if p == nil {
		return false
	}
	switch p.Kind {
	case CredentialSession:
		return true
	case CredentialAPIKey:
		for _, granted := range p.Permissions {
			if granted == CapabilityAdmin || granted == c {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Require is Authorize returning ErrForbidden on failure.
func Require(p *Principal, c Capability) error {
	if !Authorize(p, c) {
		return ErrForbidden
	}
	return nil
}
