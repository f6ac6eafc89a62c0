package models

// Principal is the authenticated user as seen by the portal. Claims are keyed by the
// local claim name, which is the provider's wire name unless inbound mapping is enabled.
type Principal struct {
	Subject string            `json:"subject"`
	Claims  map[string]string `json:"claims"`
}

func (p *Principal) Claim(name string) (string, bool) {
	if p == nil || p.Claims == nil {
		return "", false
	}
	value, found := p.Claims[name]
	return value, found
}

func (p *Principal) IsAuthenticated() bool {
	return p != nil && p.Subject != ""
}
