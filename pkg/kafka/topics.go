package kafka

// TopicPrefix namespaces every topic this system writes.
const TopicPrefix = "optica"

// Topic builds "<prefix>.<domain>.<action>", e.g. optica.order.paid.
func Topic(domain, action string) string {
	return TopicPrefix + "." + domain + "." + action
}
