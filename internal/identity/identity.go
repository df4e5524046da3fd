package identity

import "fmt"

// Context identifies the authenticated user on whose behalf a capture
// runs. Both fields are opaque to the pipeline; it only requires them
// to be present.
type Context struct {
	OwnerID  string
	TenantID string
}

// Validate fails fast when either identifier is missing.
func (c Context) Validate() error {
	if c.OwnerID == "" {
		return fmt.Errorf("identity: owner id is required")
	}
	if c.TenantID == "" {
		return fmt.Errorf("identity: tenant id is required")
	}
	return nil
}
