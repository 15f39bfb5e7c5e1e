// Package domain models the messages exchanged with the ensemble decoder
// upstream and the contouring consumer downstream.
//
// # Data Source
//
// Member fields come from GEFS 0.5° GRIB2 files, decoded upstream into one
// FieldMessage per (run, quantity, member, forecast hour). A run is identified
// by its cycle, e.g. "2024042600" for 00 UTC on 26 April 2024.
//
// # GEFS Conventions
//
// Members:
//
//	c00 is the control run, p01..p30 are the perturbed members. Member order
//	is fixed by configuration, not by arrival order.
//
// Forecast hours:
//
//	Output is 3-hourly from f000. Step s covers forecast hour s*STEP_HOURS.
//
// Precipitation (APCP):
//
//	Reported as a bucket total since the last 6-hourly reset, carried in
//	interval_start/interval_end. f003 holds 0-3 h, f006 holds 0-6 h, f009
//	holds 6-9 h and so on. Units are kg m**-2, numerically equal to mm.
//
// Snow depth (SNOD) is in metres; 10 m wind and gust are in m s**-1.
//
// # Units
//
// Products are emitted in US units: inches for precipitation and snow, knots
// for wind. See [ConvertUnits].
//
// # ID Generation
//
// Product ids are UUIDv5 over run|product|forecast_hour. Replays of the same
// run produce the same ids, so the consumer can upsert idempotently. See
// [ProductID].
package domain
