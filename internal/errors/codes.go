package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Application errors
	ErrInitApp     ErrorCode = "init_app_failed"
	ErrMainLoop    ErrorCode = "main_loop_failed"
	ErrInitSensor  ErrorCode = "init_power_sensor_failed"
	ErrReadSensor  ErrorCode = "read_power_sensor_failed"
	ErrSensorRange ErrorCode = "power_sensor_range_exceeded"

	// Storage errors
	ErrInvalidDBPath  ErrorCode = "invalid_db_path"
	ErrStorageInit    ErrorCode = "storage_init_failed"
	ErrStorageAccess  ErrorCode = "storage_access_failed"
	ErrStorageClose   ErrorCode = "storage_close_failed"
	ErrInvalidSetting ErrorCode = "invalid_setting"

	// Transport errors
	ErrConnectBroker ErrorCode = "broker_connect_failed"
	ErrPublish       ErrorCode = "broker_publish_failed"
	ErrSubscribe     ErrorCode = "broker_subscribe_failed"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrUnavailable:      "Service unavailable",
	ErrAlreadyRunning:   "Another instance is already running",
	ErrInvalidConfig:    "Invalid configuration",
	ErrMissingConfig:    "Missing configuration",
	ErrBindFlags:        "Failed to bind flags",
	ErrReadConfig:       "Failed to read configuration",
	ErrInvalidInterval:  "Invalid interval value",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrInitApp:          "Failed to initialize application",
	ErrMainLoop:         "Error in main loop",
	ErrInitSensor:       "Failed to initialize power sensor",
	ErrReadSensor:       "Failed to read power sensor",
	ErrSensorRange:      "Power sensor reading out of range",
	ErrInvalidDBPath:    "Invalid database path",
	ErrStorageInit:      "Failed to initialize storage",
	ErrStorageAccess:    "Failed to access storage",
	ErrStorageClose:     "Failed to close storage",
	ErrInvalidSetting:   "Invalid setting value",
	ErrConnectBroker:    "Failed to connect to broker",
	ErrPublish:          "Failed to publish message",
	ErrSubscribe:        "Failed to subscribe to topic",
	ErrOperationFailed:  "Operation failed",
	ErrTimeout:          "Operation timed out",
	ErrInvalidOperation: "Invalid operation",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
