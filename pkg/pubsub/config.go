package pubsub

// KafkaConfig holds Kafka-specific configuration.
type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"`
	GroupID    string `mapstructure:"group_id"`
	Partitions int    `mapstructure:"partitions"`
	// InstanceID makes the consumer group unique per instance so every
	// instance receives every backplane event.
	InstanceID string `mapstructure:"instance_id"`
}
