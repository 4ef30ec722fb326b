package admission

import "strings"

const maxCallerKeyLength = 256

// KeyForCaller builds the admission key for a caller identity. It returns an
// empty string when the identity is blank.
func KeyForCaller(callerID string) string {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return ""
	}
	if len(callerID) > maxCallerKeyLength {
		callerID = callerID[:maxCallerKeyLength]
	}
	return "c:" + callerID
}
