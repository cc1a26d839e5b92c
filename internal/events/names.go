package events

// Event names shared across components. Keeping them in one place avoids
// import cycles between the packages that publish and the ones that listen.
const (
	// Connected and Disconnected track the broker session. Connected carries
	// no arguments; Disconnected carries the error that ended the session.
	Connected    = "on_connect"
	Disconnected = "on_disconnect"

	// Message carries (topic string, payload []byte) for an inbound broker
	// message.
	Message = "on_message"

	// Publish carries (topic string, payload []byte, retain bool) for an
	// outbound broker message.
	Publish = "publish"

	// SettingsWrite fires after a dynamic setting has been persisted.
	SettingsWrite = "write"

	// Shutdown fires when the battery has drained with no external power.
	// It may fire on every poll tick while the condition holds; listeners
	// must tolerate refires.
	Shutdown = "shutdown"
)
