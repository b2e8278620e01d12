package mqtt

import "fmt"

// DefaultTopicPrefix is used when MQTT_TOPIC_PREFIX is empty.
const DefaultTopicPrefix = "kefhub"

// Topics builds the hub's topic names under a prefix.
//
//	Topics{Prefix: "kefhub"}.State("192.168.1.20")
//	// Returns: "kefhub/state/192.168.1.20"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// State is the retained full-snapshot topic for one speaker.
func (t Topics) State(ip string) string {
	return fmt.Sprintf("%s/state/%s", t.prefix(), ip)
}

// Event carries each change as it is detected. Not retained.
func (t Topics) Event(ip string) string {
	return fmt.Sprintf("%s/event/%s", t.prefix(), ip)
}

// SystemStatus is the retained hub online/offline topic, also used for the LWT.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}
