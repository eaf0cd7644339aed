package selector

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

// Defaults for fields missing from a raw satellite record.
const (
	unknownID         = "unknown"
	defaultSignal     = -120.0
	defaultLoad       = 0.5
	defaultDistance   = 1000.0
	defaultVisibility = 600.0
)

// ConvertRaw maps a raw satellite record onto a validated Candidate. The id
// is taken from satellite_id, id or norad_id, in that order.
func ConvertRaw(raw models.RawSatellite) (models.Candidate, error) {
	c := models.Candidate{SatelliteID: unknownID}
	for _, key := range []string{"satellite_id", "id", "norad_id"} {
		if v, ok := raw[key]; ok && v != nil {
			id, err := idString(v)
			if err != nil {
				return models.Candidate{}, &models.ValidationError{Field: key, Reason: err.Error()}
			}
			if id == "" {
				return models.Candidate{}, &models.ValidationError{Field: key, Reason: "must not be empty"}
			}
			c.SatelliteID = id
			break
		}
	}

	fields := []struct {
		key string
		dst *float64
		def float64
	}{
		{"elevation", &c.Elevation, 0},
		{"signal_strength", &c.SignalStrength, defaultSignal},
		{"load_factor", &c.LoadFactor, defaultLoad},
		{"distance", &c.Distance, defaultDistance},
		{"azimuth", &c.Azimuth, 0},
		{"doppler_shift", &c.DopplerShift, 0},
		{"visibility_time", &c.VisibilityTime, defaultVisibility},
	}
	for _, f := range fields {
		v, err := number(raw, f.key, f.def)
		if err != nil {
			return models.Candidate{}, err
		}
		*f.dst = v
	}

	if pos, ok := raw["position"]; ok && pos != nil {
		m, err := vector(pos, "position")
		if err != nil {
			return models.Candidate{}, err
		}
		if c.Position.X, err = number(m, "x", 0); err != nil {
			return models.Candidate{}, err
		}
		if c.Position.Y, err = number(m, "y", 0); err != nil {
			return models.Candidate{}, err
		}
		if c.Position.Z, err = number(m, "z", 0); err != nil {
			return models.Candidate{}, err
		}
	}
	if vel, ok := raw["velocity"]; ok && vel != nil {
		m, err := vector(vel, "velocity")
		if err != nil {
			return models.Candidate{}, err
		}
		if c.Velocity.VX, err = number(m, "vx", 0); err != nil {
			return models.Candidate{}, err
		}
		if c.Velocity.VY, err = number(m, "vy", 0); err != nil {
			return models.Candidate{}, err
		}
		if c.Velocity.VZ, err = number(m, "vz", 0); err != nil {
			return models.Candidate{}, err
		}
	}
	return models.NewCandidate(c)
}

// ToRaw is the inverse of ConvertRaw for every documented field.
func ToRaw(c models.Candidate) models.RawSatellite {
	return models.RawSatellite{
		"satellite_id":    c.SatelliteID,
		"elevation":       c.Elevation,
		"signal_strength": c.SignalStrength,
		"load_factor":     c.LoadFactor,
		"distance":        c.Distance,
		"azimuth":         c.Azimuth,
		"doppler_shift":   c.DopplerShift,
		"visibility_time": c.VisibilityTime,
		"position":        map[string]interface{}{"x": c.Position.X, "y": c.Position.Y, "z": c.Position.Z},
		"velocity":        map[string]interface{}{"vx": c.Velocity.VX, "vy": c.Velocity.VY, "vz": c.Velocity.VZ},
	}
}

func number(m map[string]interface{}, key string, def float64) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, &models.ValidationError{Field: key, Reason: err.Error()}
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, &models.ValidationError{Field: key, Reason: fmt.Sprintf("not a number: %q", n)}
		}
		return f, nil
	}
	return 0, &models.ValidationError{Field: key, Reason: fmt.Sprintf("unsupported type %T", v)}
}

func vector(v interface{}, field string) (map[string]interface{}, error) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, nil
	case models.RawSatellite:
		return m, nil
	case map[string]float64:
		out := make(map[string]interface{}, len(m))
		for k, f := range m {
			out[k] = f
		}
		return out, nil
	}
	return nil, &models.ValidationError{Field: field, Reason: fmt.Sprintf("unsupported type %T", v)}
}

func idString(v interface{}) (string, error) {
	switch id := v.(type) {
	case string:
		return id, nil
	case int:
		return strconv.Itoa(id), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case json.Number:
		return id.String(), nil
	}
	return "", fmt.Errorf("unsupported id type %T", v)
}
