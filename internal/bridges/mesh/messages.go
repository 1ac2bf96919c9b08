package mesh

import (
	"strconv"
	"strings"
)

// TopicPrefix is prepended to the node id to form a reading's topic.
const TopicPrefix = "Sensor/temp/"

// Topic returns the MQTT topic for a reading: TopicPrefix followed by the
// decimal node id.
func Topic(r SensorRecord) string {
	var b strings.Builder
	b.Grow(len(TopicPrefix) + 20)
	b.WriteString(TopicPrefix)
	b.WriteString(strconv.FormatUint(r.NodeID, 10))
	return b.String()
}

// Body returns the JSON message body for a reading. The byte layout is
// fixed: a space after each colon and none after the comma.
//
//	{"temperature": 72,"nodeID": 5}
func Body(r SensorRecord) []byte {
	b := make([]byte, 0, 64)
	b = append(b, `{"temperature": `...)
	b = strconv.AppendUint(b, r.Temperature, 10)
	b = append(b, `,"nodeID": `...)
	b = strconv.AppendUint(b, r.NodeID, 10)
	return append(b, '}')
}

// Translate returns the topic and body for a reading.
func Translate(r SensorRecord) (topic string, body []byte) {
	return Topic(r), Body(r)
}

// SubscribePattern returns the single-level wildcard covering every
// reading topic.
func SubscribePattern() string {
	return TopicPrefix + "+"
}

// InboundLogger returns a message handler that logs each message the
// bridge receives on its subscription.
func InboundLogger(logger Logger) func(topic string, payload []byte) error {
	return func(topic string, payload []byte) error {
		if logger != nil {
			logger.Info("subscribe callback", "topic", topic, "payload", string(payload))
		}
		return nil
	}
}
