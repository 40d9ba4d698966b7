package models

import (
	"fmt"
	"strings"
	"unicode"
)

// DeviceIdentity is supplied once by the setup layer and never changes
type DeviceIdentity struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Version      string `json:"sw_version"`
	UniqueID     string `json:"unique_id"`
}

// Slug is the device name lower-cased with spaces replaced by underscores
func (d DeviceIdentity) Slug() string {
	return strings.ReplaceAll(strings.ToLower(d.Name), " ", "_")
}

// EntityKind maps to the host platform's entity domain
type EntityKind string

const (
	KindSensor       EntityKind = "sensor"
	KindBinarySensor EntityKind = "binary_sensor"
	KindCalendar     EntityKind = "calendar"
)

// Entity is what downstream sinks register and publish
type Entity interface {
	UniqueID() string
	Name() string
	Kind() EntityKind
	State() string
	Attributes() map[string]any
	Device() DeviceIdentity
}

// MeasurementEntity is one live reading keyed by its field name
type MeasurementEntity struct {
	Field  string
	Value  Value
	device DeviceIdentity
}

func NewMeasurementEntity(field string, value Value, device DeviceIdentity) *MeasurementEntity {
	return &MeasurementEntity{Field: field, Value: value, device: device}
}

func (m *MeasurementEntity) UniqueID() string {
	return fmt.Sprintf("%s_%s", m.device.Slug(), m.Field)
}

func (m *MeasurementEntity) Name() string {
	return fmt.Sprintf("%s %s", m.device.Name, TitleCase(strings.ReplaceAll(m.Field, "_", " ")))
}

func (m *MeasurementEntity) Kind() EntityKind { return KindSensor }
func (m *MeasurementEntity) State() string { return m.Value.String() }
func (m *MeasurementEntity) Device() DeviceIdentity { return m.device }
func (m *MeasurementEntity) Attributes() map[string]any {
	return map[string]any{"field": m.Field}
}

// ConnectivityEntity is the binary indicator of the device connection
type ConnectivityEntity struct {
	Connected bool
	device    DeviceIdentity
}

func NewConnectivityEntity(device DeviceIdentity) *ConnectivityEntity {
	return &ConnectivityEntity{device: device}
}

func (c *ConnectivityEntity) UniqueID() string {
	return fmt.Sprintf("%s_server_connection", c.device.Slug())
}

func (c *ConnectivityEntity) Name() string {
	return fmt.Sprintf("%s Server Connection", c.device.Name)
}

func (c *ConnectivityEntity) Kind() EntityKind { return KindBinarySensor }
func (c *ConnectivityEntity) Device() DeviceIdentity { return c.device }

func (c *ConnectivityEntity) State() string {
	if c.Connected {
		return "on"
	}
	return "off"
}

func (c *ConnectivityEntity) Attributes() map[string]any {
	return map[string]any{"device_class": "connectivity"}
}

// TitleCase upper-cases the first letter of every letter run and lower-cases the rest,
// so "flush a" becomes "Flush A" and "o2_level" becomes "O2_Level".
func TitleCase(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				sb.WriteRune(unicode.ToLower(r))
			} else {
				sb.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		prevLetter = false
		sb.WriteRune(r)
	}
	return sb.String()
}
