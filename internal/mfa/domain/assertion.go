package domain

// Assertion is the WebAuthn assertion payload submitted to verify a FIDO2
// challenge. All fields except UserHandle must be present; the client
// rejects malformed assertions before any network call.
type Assertion struct {
	ID                string `json:"id"`
	RawID             string `json:"rawId"`
	ClientDataJSON    string `json:"clientDataJSON"`
	AuthenticatorData string `json:"authenticatorData"`
	Signature         string `json:"signature"`
	UserHandle        string `json:"userHandle,omitempty"`
}

// Validate checks the assertion is structurally complete.
func (a Assertion) Validate() error {
	switch {
	case a.ID == "":
		return &ValidationError{Field: "assertion.id", Reason: "required"}
	case a.RawID == "":
		return &ValidationError{Field: "assertion.rawId", Reason: "required"}
	case a.ClientDataJSON == "":
		return &ValidationError{Field: "assertion.clientDataJSON", Reason: "required"}
	case a.AuthenticatorData == "":
		return &ValidationError{Field: "assertion.authenticatorData", Reason: "required"}
	case a.Signature == "":
		return &ValidationError{Field: "assertion.signature", Reason: "required"}
	}
	return nil
}

// OriginContext carries the browser origin the assertion was produced in.
// The provider verifies the signed client data against it.
type OriginContext struct {
	Origin string `json:"origin"`
	RPID   string `json:"rpId,omitempty"`
}
