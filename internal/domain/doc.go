// Package domain models wildfire evidence and the fire events fused from it.
//
// # Data Sources
//
// Satellite hotspots come from NASA FIRMS area exports
// (https://firms.modaps.eosdis.nasa.gov/). The upstream collector polls the
// area CSV endpoint for each configured region, and publishes every row as
// flat JSON to the Kafka source topic with a "source: satellite" header and a
// "region" header naming the geographic partition. Citizen reports and
// weather samples arrive on the same topic with "source: user_report" and
// "source: weather".
//
// When a collector cannot reach its upstream it publishes a marker message
// with an "upstream_error" header instead of data. The cycle that sees it is
// flagged degraded.
//
// # FIRMS Conventions
//
// Acquisition time:
//
//	acq_date is YYYY-MM-DD, acq_time is HHMM UTC.
//	Three-digit values are zero-padded: "930" → "0930".
//
// Confidence (normalized to 0..1, monotonic):
//
//	VIIRS reports a category: l → 0.15, n → 0.55, h → 0.90.
//	MODIS reports a percentage: 0–100 → value/100.
//	Anything else rejects the observation.
//
// Brightness is bright_ti4 for VIIRS and brightness for MODIS (Kelvin).
// FRP is fire radiative power in megawatts.
//
// # Fire Intensity
//
// Derived from the maximum FRP seen for a cluster or event:
//
//	<20 MW low | <50 MW moderate | <100 MW high | ≥100 MW extreme
//
// # ID Generation
//
// Observation IDs are deterministic SHA-256 hashes of source-specific key
// fields with a source prefix (sat-, rpt-, wx-), so redelivered messages
// collapse onto the same observation. See [generateObservationID]. Fire event
// IDs are random UUIDs assigned by the event store and never change.
package domain
