// Package clientid generates default MQTT client identifiers.
package clientid

import "github.com/google/uuid"

// Prefix is prepended to every generated client ID, making generated
// IDs recognizable in broker logs.
const Prefix = "mqttcore-"

// Generate returns a new client identifier suitable for CONNECT's
// ClientID field: Prefix followed by a random UUIDv4. Callers that need
// a client ID under MaxClientIDLength (23 bytes, the MQTT 3.1.1
// recommended maximum) should rely on server assignment instead, since
// a UUID-based ID will exceed that bound.
func Generate() string {
	return Prefix + uuid.NewString()
}
