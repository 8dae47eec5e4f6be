package models

import (
	"encoding/json"
	"time"
)

const (
	FillEmpty    = "empty"
	FillLow      = "low"
	FillMedium   = "medium"
	FillHigh     = "high"
	FillFull     = "full"
	FillOverflow = "overflow"
)

const (
	WasteGeneral    = "general"
	WasteRecyclable = "recyclable"
	WasteOrganic    = "organic"
	WasteHazardous  = "hazardous"
	WasteElectronic = "electronic"
	WastePlastic    = "plastic"
	WastePaper      = "paper"
	WasteGlass      = "glass"
	WasteMetal      = "metal"
)

const (
	LocationResidential = "residential"
	LocationCommercial  = "commercial"
	LocationIndustrial  = "industrial"
	LocationPublic      = "public"
)

type SmartBin struct {
	ID                      string     `json:"id" db:"id"`
	BinNumber               string     `json:"bin_number" db:"bin_number"`
	OwnerID                 string     `json:"owner_id" db:"owner_id"`
	SensorID                *string    `json:"sensor_id,omitempty" db:"sensor_id"`
	WasteType               string     `json:"waste_type" db:"waste_type"`
	LocationType            string     `json:"location_type" db:"location_type"`
	Latitude                float64    `json:"latitude" db:"latitude"`
	Longitude               float64    `json:"longitude" db:"longitude"`
	FillLevel               float64    `json:"fill_level" db:"fill_level"`
	FillStatus              string     `json:"fill_status" db:"fill_status"`
	CurrentWeightKg         float64    `json:"current_weight_kg" db:"current_weight_kg"`
	BatteryLevel            *float64   `json:"battery_level,omitempty" db:"battery_level"`
	SignalStrength          *float64   `json:"signal_strength,omitempty" db:"signal_strength"`
	Temperature             *float64   `json:"temperature,omitempty" db:"temperature"`
	Humidity                *float64   `json:"humidity,omitempty" db:"humidity"`
	LidOpen                 bool       `json:"lid_open" db:"lid_open"`
	LidOpenedAt             *time.Time `json:"lid_opened_at,omitempty" db:"lid_opened_at"`
	LastMotionAt            *time.Time `json:"last_motion_at,omitempty" db:"last_motion_at"`
	Online                  bool       `json:"online" db:"online"`
	LastSeenAt              *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
	LastCollectionAt        *time.Time `json:"last_collection_at,omitempty" db:"last_collection_at"`
	LastMaintenanceAt       *time.Time `json:"last_maintenance_at,omitempty" db:"last_maintenance_at"`
	MaintenanceIntervalDays int        `json:"maintenance_interval_days" db:"maintenance_interval_days"`
	CreatedAt               time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at" db:"updated_at"`
}

// SensorReading is append-only. Optional channels are nil when the sensor did not report them.
type SensorReading struct {
	ID             string    `json:"id" db:"id"`
	BinID          string    `json:"bin_id" db:"bin_id"`
	SensorID       *string   `json:"sensor_id,omitempty" db:"sensor_id"`
	FillLevel      float64   `json:"fill_level" db:"fill_level"`
	BatteryLevel   *float64  `json:"battery_level,omitempty" db:"battery_level"`
	SignalStrength *float64  `json:"signal_strength,omitempty" db:"signal_strength"`
	Temperature    *float64  `json:"temperature,omitempty" db:"temperature"`
	Humidity       *float64  `json:"humidity,omitempty" db:"humidity"`
	MotionDetected bool      `json:"motion_detected" db:"motion_detected"`
	LidOpen        bool      `json:"lid_open" db:"lid_open"`
	WeightKg       *float64  `json:"weight_kg,omitempty" db:"weight_kg"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

const (
	AlertFullBin           = "full_bin"
	AlertLowBattery        = "low_battery"
	AlertWeakSignal        = "weak_signal"
	AlertHighTemperature   = "high_temperature"
	AlertOverflow          = "overflow"
	AlertStuckLid          = "stuck_lid"
	AlertDamage            = "damage"
	AlertVandalism         = "vandalism"
	AlertMaintenanceDue    = "maintenance_due"
	AlertCollectionOverdue = "collection_overdue"
)

const (
	AlertPriorityLow      = "low"
	AlertPriorityMedium   = "medium"
	AlertPriorityHigh     = "high"
	AlertPriorityCritical = "critical"
)

// AlertPriorityRank orders alert priorities for escalation
func AlertPriorityRank(p string) int {
	switch p {
	case AlertPriorityLow:
		return 1
	case AlertPriorityMedium:
		return 2
	case AlertPriorityHigh:
		return 3
	case AlertPriorityCritical:
		return 4
	}
	return 0
}

type BinAlert struct {
	ID         string          `json:"id" db:"id"`
	BinID      string          `json:"bin_id" db:"bin_id"`
	AlertType  string          `json:"alert_type" db:"alert_type"`
	Priority   string          `json:"priority" db:"priority"`
	Message    string          `json:"message" db:"message"`
	Metadata   json.RawMessage `json:"metadata" db:"metadata"`
	IsResolved bool            `json:"is_resolved" db:"is_resolved"`
	ResolvedBy *string         `json:"resolved_by,omitempty" db:"resolved_by"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}
