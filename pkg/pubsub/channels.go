package pubsub

import "strings"

// ChannelBackplane carries every cross-instance fan-out operation. A single
// channel keeps membership changes and deliveries from one publisher in
// order for every subscriber.
const ChannelBackplane = "chat:backplane"

// Event types carried on the backplane channel.
const (
	EventPublish    = "publish"
	EventForceJoin  = "force_join"
	EventForceLeave = "force_leave"
)

// channelToTopic maps a colon separated channel onto a Kafka topic name.
//
//	"chat:backplane" → "chat-backplane"
func channelToTopic(channel string) string {
	return strings.ReplaceAll(channel, ":", "-")
}
