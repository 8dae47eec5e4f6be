package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/geo"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/collection"
	"wastelink-backend/internal/services/telemetry"
	"wastelink-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

const maxReadingsBody = 4 << 20

// SmartBinView adds the live collection policy verdict to a bin
type SmartBinView struct {
	models.SmartBin
	NeedsCollection    bool    `json:"needs_collection"`
	CollectionPriority float64 `json:"collection_priority"`
}

func viewOf(bin models.SmartBin) SmartBinView {
	now := nowFunc()
	return SmartBinView{
		SmartBin:           bin,
		NeedsCollection:    collection.NeedsCollection(&bin, now),
		CollectionPriority: collection.CollectionPriority(&bin, now),
	}
}

// ListSmartBins returns bins, optionally filtered by ?status (fill status).
// Customers only see bins they own.
func ListSmartBins(bins database.BinStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pagination(r)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		filter := database.BinFilter{
			FillStatus: r.URL.Query().Get("status"),
			Limit:      limit,
			Offset:     offset,
		}
		if claims, _ := actor(r); claims.Role == models.RoleCustomer {
			filter.OwnerID = claims.UserID
		}

		list, err := bins.ListBins(r.Context(), filter)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		views := make([]SmartBinView, 0, len(list))
		for _, b := range list {
			views = append(views, viewOf(b))
		}
		utils.RespondJSON(w, http.StatusOK, views)
	}
}

// binFor loads a bin for the caller. Customers only reach bins they own; the
// response has been written when ok is false.
func binFor(w http.ResponseWriter, r *http.Request, bins database.BinStore, id string) (*models.SmartBin, bool) {
	bin, err := bins.GetBin(r.Context(), id)
	if err != nil {
		utils.RespondAppError(w, r, err)
		return nil, false
	}
	if claims, _ := actor(r); claims.Role == models.RoleCustomer && bin.OwnerID != claims.UserID {
		utils.RespondError(w, http.StatusForbidden, "Forbidden")
		return nil, false
	}
	return bin, true
}

func GetSmartBin(bins database.BinStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bin, ok := binFor(w, r, bins, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		utils.RespondJSON(w, http.StatusOK, viewOf(*bin))
	}
}

var (
	knownWasteTypes = map[string]bool{
		models.WasteGeneral: true, models.WasteRecyclable: true, models.WasteOrganic: true,
		models.WasteHazardous: true, models.WasteElectronic: true, models.WastePlastic: true,
		models.WastePaper: true, models.WasteGlass: true, models.WasteMetal: true,
	}
	knownLocationTypes = map[string]bool{
		models.LocationResidential: true, models.LocationCommercial: true,
		models.LocationIndustrial: true, models.LocationPublic: true,
	}
)

// CreateSmartBin registers a bin. Admins only.
func CreateSmartBin(bins database.BinStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var bin models.SmartBin
		if err := decodeBody(r, &bin); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}

		switch {
		case bin.BinNumber == "" || bin.OwnerID == "":
			utils.RespondError(w, http.StatusBadRequest, "bin_number and owner_id are required")
			return
		case !knownWasteTypes[bin.WasteType]:
			utils.RespondError(w, http.StatusBadRequest, "unknown waste_type")
			return
		case !knownLocationTypes[bin.LocationType]:
			utils.RespondError(w, http.StatusBadRequest, "unknown location_type")
			return
		case !(geo.Point{Latitude: bin.Latitude, Longitude: bin.Longitude}).Valid():
			utils.RespondError(w, http.StatusBadRequest, "invalid coordinates")
			return
		case bin.FillLevel < 0 || bin.FillLevel > 100 || bin.MaintenanceIntervalDays < 0:
			utils.RespondError(w, http.StatusBadRequest, "fill_level must be 0-100 and maintenance_interval_days >= 0")
			return
		}

		bin.ID = ""
		bin.FillStatus = telemetry.FillStatusFor(bin.FillLevel)
		if bin.MaintenanceIntervalDays == 0 {
			bin.MaintenanceIntervalDays = telemetry.DefaultMaintenanceIntervalDays
		}
		if bin.LastCollectionAt == nil {
			now := nowFunc()
			bin.LastCollectionAt = &now
		}
		if err := bins.CreateBin(r.Context(), &bin); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		log.Printf("✅ Smart bin %s registered (%s, %s)", bin.BinNumber, bin.WasteType, bin.LocationType)
		utils.RespondJSON(w, http.StatusCreated, bin)
	}
}

// ReadingOutcome is one entry of a batch ingest response
type ReadingOutcome struct {
	Result *telemetry.Result `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
	Kind   apperr.Kind       `json:"kind,omitempty"`
}

// PostReadings ingests a single reading object or an array of readings for the
// bin in the path. A batch reports each reading's outcome separately. Admins
// and the owning customer may post.
func PostReadings(bins database.BinStore, ingestor *telemetry.Ingestor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if claims, _ := actor(r); claims.Role != models.RoleAdmin && claims.Role != models.RoleCustomer {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}
		binID := chi.URLParam(r, "id")
		if _, ok := binFor(w, r, bins, binID); !ok {
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxReadingsBody))
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		trimmed := bytes.TrimSpace(body)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var readings []models.SensorReading
			if err := json.Unmarshal(trimmed, &readings); err != nil {
				utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}
			for n := range readings {
				readings[n].BinID = binID
			}

			results, errs := ingestor.IngestBatch(r.Context(), readings)
			outcomes := make([]ReadingOutcome, len(readings))
			failed := 0
			for n := range readings {
				if errs[n] != nil {
					failed++
					kind := apperr.KindOf(errs[n])
					msg := errs[n].Error()
					if kind == apperr.KindInternal {
						log.Printf("❌ [INGEST] Reading %d for bin %s: %v", n, binID, errs[n])
						msg = "internal server error"
					}
					outcomes[n] = ReadingOutcome{Error: msg, Kind: kind}
					continue
				}
				outcomes[n] = ReadingOutcome{Result: results[n]}
			}
			log.Printf("📡 [INGEST] Batch of %d readings for bin %s, %d failed", len(readings), binID, failed)
			utils.RespondJSON(w, http.StatusOK, outcomes)
			return
		}

		var reading models.SensorReading
		if err := json.Unmarshal(trimmed, &reading); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		reading.BinID = binID

		result, err := ingestor.Ingest(r.Context(), reading)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusCreated, result)
	}
}

// ListReadings returns the most recent readings for a bin, newest first
func ListReadings(bins database.BinStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _, err := pagination(r)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		if _, ok := binFor(w, r, bins, id); !ok {
			return
		}
		readings, err := bins.ListReadings(r.Context(), id, limit)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, readings)
	}
}
