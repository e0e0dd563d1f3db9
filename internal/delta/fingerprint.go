package delta

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"fleet-route-planner/internal/materialize"
	"fleet-route-planner/internal/models"
)

// Fingerprint identifies one vehicle's materialization inputs: the ordered
// (stop_id, lon, lat) tuples — depot first, scenario overrides applied —
// plus every provider-facing parameter. Coordinates hash at full float64
// precision, so two positions compare equal only when their stored values
// are bit-equal.
func Fingerprint(stops []materialize.WaypointSpec, params models.MaterializeParams) string {
	h := sha256.New()
	for _, s := range stops {
		h.Write([]byte(s.ID))
		h.Write([]byte{0x1f})
		h.Write([]byte(models.FormatCoord(s.Lon)))
		h.Write([]byte{0x1f})
		h.Write([]byte(models.FormatCoord(s.Lat)))
		h.Write([]byte{0x1e})
	}

	h.Write([]byte{0x1d})
	h.Write([]byte(params.SearchOption))
	h.Write([]byte{0x1f})
	h.Write([]byte(params.VehicleClass))
	h.Write([]byte{0x1f})
	h.Write([]byte(params.DepartAt.UTC().Format("200601021504")))
	h.Write([]byte{0x1f})
	h.Write([]byte(strconv.Itoa(params.ViaDwellSecs)))
	h.Write([]byte{0x1f})
	h.Write([]byte(params.RouteMode))

	return hex.EncodeToString(h.Sum(nil))
}
