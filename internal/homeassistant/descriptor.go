package homeassistant

// Discovery descriptors. One concrete type per device class, composed from
// the shared Base by explicit field overlay; the registry reads whatever
// fields the concrete type carries.

type Availability struct {
	Topic               string `json:"topic"`
	PayloadAvailable    string `json:"payload_available,omitempty"`
	PayloadNotAvailable string `json:"payload_not_available,omitempty"`
}

// Device groups all entities under one registry device.
type Device struct {
	Identifiers  string `json:"identifiers,omitempty"`
	Name         string `json:"name,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	HWVersion    string `json:"hw_version,omitempty"`
	SWVersion    string `json:"sw_version,omitempty"`
}

// Base carries the options common to every entity type.
type Base struct {
	Name             string         `json:"name,omitempty"`
	DeviceClass      string         `json:"device_class,omitempty"`
	StateClass       string         `json:"state_class,omitempty"`
	EntityCategory   string         `json:"entity_category,omitempty"`
	ExpireAfter      int            `json:"expire_after,omitempty"`
	Icon             string         `json:"icon,omitempty"`
	UniqueID         string         `json:"unique_id,omitempty"`
	StateTopic       string         `json:"state_topic,omitempty"`
	ValueTemplate    string         `json:"value_template,omitempty"`
	Availability     []Availability `json:"availability,omitempty"`
	AvailabilityMode string         `json:"availability_mode,omitempty"`
	Device           *Device        `json:"device,omitempty"`
}

type Sensor struct {
	Base
	UnitOfMeasurement         string `json:"unit_of_measurement,omitempty"`
	SuggestedDisplayPrecision int    `json:"suggested_display_precision,omitempty"`
}

type BinarySensor struct {
	Base
	PayloadOn  string `json:"payload_on,omitempty"`
	PayloadOff string `json:"payload_off,omitempty"`
}

type Number struct {
	Base
	CommandTopic    string `json:"command_topic,omitempty"`
	CommandTemplate string `json:"command_template,omitempty"`

	// Range fields are always emitted: a zero minimum is meaningful and the
	// registry default differs from it.
	Min               float64 `json:"min"`
	Max               float64 `json:"max"`
	Step              float64 `json:"step"`
	Mode              string  `json:"mode,omitempty"`
	UnitOfMeasurement string  `json:"unit_of_measurement,omitempty"`
}

type Button struct {
	Base
	CommandTopic    string `json:"command_topic,omitempty"`
	CommandTemplate string `json:"command_template,omitempty"`
	PayloadPress    string `json:"payload_press,omitempty"`
}

// entity pairs a retained discovery topic with its marshalable descriptor.
type entity struct {
	topic      string
	descriptor any
}
