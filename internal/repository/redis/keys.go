package redis

import "fmt"

const ns = "tablebook:v1"

func KeyEventAvailability(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:availability", ns, eventID)
}

func PrefixRateLimit(scope string) string {
	return fmt.Sprintf("%s:rl:%s", ns, scope)
}

func KeyIdemHold(unitID int64, idemKey string) string {
	return fmt.Sprintf("%s:idem:holds:%d:%s", ns, unitID, idemKey)
}

func ChannelAvailability() string {
	return ns + ":availability:changed"
}
