package types

const (
	HeaderRequestID      = "X-Request-ID"
	HeaderOrganizationID = "X-Organization-ID"
)
