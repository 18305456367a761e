package models

// Push topics delivered to every connected client
const (
	TopicSensorUpdate     = "sensor_update"
	TopicNewAlert         = "new_alert"
	TopicConfigUpdate     = "irrigation_config_update"
	TopicPumpStatusUpdate = "pump_status_update"
	TopicPumpAutoOff      = "pump_auto_off"
	TopicGeneratorStatus  = "generator_status"
)

// Room-scoped and connection-level topics
const (
	TopicNewMessage = "new_message"
	TopicConnection = "connection"
	TopicPong       = "pong"
	TopicError      = "error"
)
