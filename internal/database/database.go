package database

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func Connect(dbURL string) (*sqlx.DB, error) {
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Println("🔌 DATABASE CONNECTION ATTEMPT")
	log.Printf("   📍 Database URL length: %d characters", len(dbURL))
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Printf("❌ DATABASE CONNECTION FAILED: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		log.Printf("❌ DATABASE PING FAILED: %v", err)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	log.Println("✅ DATABASE CONNECTION SUCCESSFUL")
	return db, nil
}

// Migrate applies the schema. Every statement is idempotent so it runs on each start.
func Migrate(db *sqlx.DB) error {
	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,

		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			password TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('customer', 'provider', 'driver', 'admin')),
			fcm_token TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email))`,
		`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)`,

		// Pricing catalog; at most one configuration is active
		`CREATE TABLE IF NOT EXISTS pricing_configurations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			base_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			min_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			max_price_multiplier NUMERIC(8,4) NOT NULL DEFAULT 1,
			platform_fee_percentage NUMERIC(6,2),
			fuel_surcharge_percentage NUMERIC(6,2) NOT NULL DEFAULT 0,
			carbon_offset_rate NUMERIC(8,4) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_pricing_configurations_one_active
			ON pricing_configurations((is_active)) WHERE is_active`,

		`ALTER TABLE pricing_configurations ALTER COLUMN platform_fee_percentage DROP NOT NULL`,
		`ALTER TABLE pricing_configurations ALTER COLUMN platform_fee_percentage DROP DEFAULT`,

		`CREATE TABLE IF NOT EXISTS pricing_factors (
			id TEXT PRIMARY KEY,
			configuration_id TEXT NOT NULL REFERENCES pricing_configurations(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			params JSONB NOT NULL DEFAULT '{}',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pricing_factors_config_kind ON pricing_factors(configuration_id, kind)`,

		// Smart bins and telemetry
		`CREATE TABLE IF NOT EXISTS smart_bins (
			id TEXT PRIMARY KEY,
			bin_number TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL,
			sensor_id TEXT,
			waste_type TEXT NOT NULL,
			location_type TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			location GEOGRAPHY(Point, 4326) GENERATED ALWAYS AS
				(ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)::geography) STORED,
			fill_level DOUBLE PRECISION NOT NULL DEFAULT 0,
			fill_status TEXT NOT NULL DEFAULT 'empty',
			current_weight_kg DOUBLE PRECISION NOT NULL DEFAULT 0,
			battery_level DOUBLE PRECISION,
			signal_strength DOUBLE PRECISION,
			temperature DOUBLE PRECISION,
			humidity DOUBLE PRECISION,
			lid_open BOOLEAN NOT NULL DEFAULT FALSE,
			lid_opened_at TIMESTAMPTZ,
			last_motion_at TIMESTAMPTZ,
			online BOOLEAN NOT NULL DEFAULT FALSE,
			last_seen_at TIMESTAMPTZ,
			last_collection_at TIMESTAMPTZ,
			last_maintenance_at TIMESTAMPTZ,
			maintenance_interval_days INTEGER NOT NULL DEFAULT 90,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_smart_bins_fill_status ON smart_bins(fill_status)`,
		`CREATE INDEX IF NOT EXISTS idx_smart_bins_owner ON smart_bins(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_smart_bins_location ON smart_bins USING GIST(location)`,

		`CREATE TABLE IF NOT EXISTS sensor_readings (
			id TEXT PRIMARY KEY,
			bin_id TEXT NOT NULL REFERENCES smart_bins(id) ON DELETE CASCADE,
			sensor_id TEXT,
			fill_level DOUBLE PRECISION NOT NULL,
			battery_level DOUBLE PRECISION,
			signal_strength DOUBLE PRECISION,
			temperature DOUBLE PRECISION,
			humidity DOUBLE PRECISION,
			motion_detected BOOLEAN NOT NULL DEFAULT FALSE,
			lid_open BOOLEAN NOT NULL DEFAULT FALSE,
			weight_kg DOUBLE PRECISION,
			timestamp TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_readings_bin_ts ON sensor_readings(bin_id, timestamp DESC)`,

		// One unresolved alert per (bin, type)
		`CREATE TABLE IF NOT EXISTS bin_alerts (
			id TEXT PRIMARY KEY,
			bin_id TEXT NOT NULL REFERENCES smart_bins(id) ON DELETE CASCADE,
			alert_type TEXT NOT NULL,
			priority TEXT NOT NULL CHECK(priority IN ('low', 'medium', 'high', 'critical')),
			message TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			is_resolved BOOLEAN NOT NULL DEFAULT FALSE,
			resolved_by TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bin_alerts_one_open
			ON bin_alerts(bin_id, alert_type) WHERE NOT is_resolved`,
		`CREATE INDEX IF NOT EXISTS idx_bin_alerts_created ON bin_alerts(created_at DESC)`,

		// Marketplace
		`CREATE TABLE IF NOT EXISTS providers (
			id TEXT PRIMARY KEY,
			user_id TEXT REFERENCES users(id) ON DELETE SET NULL,
			name TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			location GEOGRAPHY(Point, 4326) GENERATED ALWAYS AS
				(ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)::geography) STORED,
			waste_types_handled TEXT[] NOT NULL DEFAULT '{}',
			rating DOUBLE PRECISION NOT NULL DEFAULT 0,
			service_radius_km DOUBLE PRECISION NOT NULL DEFAULT 25,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_providers_user ON providers(user_id) WHERE user_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_providers_location ON providers USING GIST(location)`,

		// At most one non-terminal request per smart bin
		`CREATE TABLE IF NOT EXISTS service_requests (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			assigned_provider_id TEXT REFERENCES providers(id) ON DELETE SET NULL,
			smart_bin_id TEXT REFERENCES smart_bins(id) ON DELETE SET NULL,
			service_type TEXT NOT NULL,
			waste_type TEXT,
			priority TEXT NOT NULL DEFAULT 'normal',
			status TEXT NOT NULL DEFAULT 'draft'
				CHECK(status IN ('draft', 'pending', 'accepted', 'en_route', 'in_progress', 'completed', 'cancelled')),
			payment_status TEXT NOT NULL DEFAULT 'pending',
			is_instant BOOLEAN NOT NULL DEFAULT FALSE,
			is_recurring BOOLEAN NOT NULL DEFAULT FALSE,
			recurrence_pattern TEXT,
			requires_special_handling BOOLEAN NOT NULL DEFAULT FALSE,
			estimated_distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
			estimated_weight_kg DOUBLE PRECISION NOT NULL DEFAULT 0,
			staff_required INTEGER NOT NULL DEFAULT 1,
			insurance_required BOOLEAN NOT NULL DEFAULT FALSE,
			insurance_value NUMERIC(12,2) NOT NULL DEFAULT 0,
			base_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			final_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			collection_priority DOUBLE PRECISION,
			scheduled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_service_requests_one_active_per_bin
			ON service_requests(smart_bin_id)
			WHERE smart_bin_id IS NOT NULL AND status NOT IN ('completed', 'cancelled')`,
		`CREATE INDEX IF NOT EXISTS idx_service_requests_status ON service_requests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_service_requests_customer ON service_requests(customer_id)`,

		`CREATE TABLE IF NOT EXISTS journey_stops (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL REFERENCES service_requests(id) ON DELETE CASCADE,
			sequence INTEGER NOT NULL,
			stop_type TEXT NOT NULL CHECK(stop_type IN ('pickup', 'dropoff', 'intermediate')),
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			location GEOGRAPHY(Point, 4326) GENERATED ALWAYS AS
				(ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)::geography) STORED,
			address TEXT NOT NULL DEFAULT '',
			UNIQUE(request_id, sequence)
		)`,

		`CREATE TABLE IF NOT EXISTS request_timeline (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL REFERENCES service_requests(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			actor_id TEXT,
			data JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_timeline_request ON request_timeline(request_id, created_at)`,

		// One pending bid per provider per request
		`CREATE TABLE IF NOT EXISTS bids (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL REFERENCES service_requests(id) ON DELETE CASCADE,
			provider_id TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
			amount NUMERIC(12,2) NOT NULL CHECK(amount > 0),
			counter_offer NUMERIC(12,2),
			message TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'accepted', 'rejected', 'expired')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bids_one_pending
			ON bids(request_id, provider_id) WHERE status = 'pending'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bids_one_accepted
			ON bids(request_id) WHERE status = 'accepted'`,

		// One job per request
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL UNIQUE REFERENCES service_requests(id) ON DELETE CASCADE,
			provider_id TEXT REFERENCES providers(id) ON DELETE SET NULL,
			payment_id TEXT NOT NULL,
			price NUMERIC(12,2) NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'in_progress', 'completed', 'cancelled')),
			is_instant BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL REFERENCES service_requests(id) ON DELETE CASCADE,
			amount NUMERIC(12,2) NOT NULL CHECK(amount > 0),
			refunded_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK(status IN ('pending', 'processing', 'success', 'failed', 'cancelled', 'refunded', 'partially_refunded')),
			payment_type TEXT NOT NULL,
			reference TEXT NOT NULL UNIQUE,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_request ON payments(request_id)`,

		`CREATE TABLE IF NOT EXISTS payment_events (
			id TEXT PRIMARY KEY,
			reference TEXT NOT NULL,
			event TEXT NOT NULL,
			payload JSONB NOT NULL,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMPTZ,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_error TEXT,
			failed_at TIMESTAMPTZ
		)`,
		`ALTER TABLE payment_events ADD COLUMN IF NOT EXISTS attempts INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE payment_events ADD COLUMN IF NOT EXISTS next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`,
		`ALTER TABLE payment_events ADD COLUMN IF NOT EXISTS last_error TEXT`,
		`ALTER TABLE payment_events ADD COLUMN IF NOT EXISTS failed_at TIMESTAMPTZ`,
		`DROP INDEX IF EXISTS idx_payment_events_unprocessed`,
		`CREATE INDEX IF NOT EXISTS idx_payment_events_replay ON payment_events(next_attempt_at) WHERE processed_at IS NULL AND failed_at IS NULL`,

		// Push notification outbox
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			data JSONB NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'sent', 'failed')),
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			sent_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications(next_attempt_at) WHERE status = 'pending'`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Println("✓ Database migrations completed")
	return nil
}
