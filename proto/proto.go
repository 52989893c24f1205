// Package proto holds the domain and wire types shared by the verification client: the shapes
// exchanged with the remote verification service and the state carried by a verification session.
package proto

// DefaultServiceName is sent to the verification service when the caller leaves the service blank.
const DefaultServiceName = "General Access"

// MinTokenLength is the trimmed length an access token must reach before it is validated.
const MinTokenLength = 10
