package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"wastelink-backend/internal/events"
	"wastelink-backend/internal/models"
)

const readingsQueue = "telemetry-ingest"

// SubscribeReadings feeds readings published by device gateways on bins.readings
// into the ingestor. Invalid readings are logged and dropped.
func SubscribeReadings(bus events.Bus, ingestor *Ingestor) error {
	return bus.Subscribe(events.SubjectBinReadings, readingsQueue, func(ctx context.Context, data []byte) error {
		var reading models.SensorReading
		if err := json.Unmarshal(data, &reading); err != nil {
			return fmt.Errorf("malformed reading: %w", err)
		}
		res, err := ingestor.Ingest(ctx, reading)
		if err != nil {
			return fmt.Errorf("reading for bin %s rejected: %w", reading.BinID, err)
		}
		if len(res.Alerts) > 0 {
			log.Printf("📡 [INGEST] Reading for bin %s raised %d alerts", res.Bin.BinNumber, len(res.Alerts))
		}
		return nil
	})
}
