package models

import (
	"time"
)

// ConnectionState is the supervisor's view of the device socket
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// DeviceHealthStatus is what the connectivity monitor reports to notifiers
type DeviceHealthStatus string

const (
	DeviceOnline    DeviceHealthStatus = "online"
	DeviceOffline   DeviceHealthStatus = "offline"
	DeviceRecovered DeviceHealthStatus = "recovered"
)

// DeviceHealth tracks connectivity transitions of the chair
type DeviceHealth struct {
	Device        DeviceIdentity
	Status        DeviceHealthStatus
	Connected     bool
	EverConnected bool
	LastChange    time.Time
	DownSince     time.Time // zero while connected
	AlertSent     bool      // an offline alert went out for the current outage
	Reconnects    int
}

// ConnectivityAlert is the payload handed to notifiers
type ConnectivityAlert struct {
	Device    DeviceIdentity     `json:"device"`
	Status    DeviceHealthStatus `json:"status"`
	DownSince time.Time          `json:"down_since"`
	Downtime  time.Duration      `json:"downtime_ns"`
	Timestamp time.Time          `json:"timestamp"`
}
