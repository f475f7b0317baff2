// Package cloud transmits cycle readings to the metering cloud and to a
// user-configured HTTP endpoint.
//
// The cloud sender authenticates with the device key and email headers
// and hands the response body back to the caller, because the cloud may
// embed a configuration document in its acknowledgement. The generic
// HTTP sender is fire-and-forget.
package cloud
