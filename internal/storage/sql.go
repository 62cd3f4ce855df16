package storage

import (
	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

const (
	insertSessionSQL = `
INSERT INTO sessions (run_id,
                      start_time,
                      source,
                      ops_info,
                      config)
VALUES (?, CURRENT_TIMESTAMP, ?, ?, ?)`

	selectSessionSQL = `
SELECT id,
       run_id,
       start_time,
       source,
       ops_info,
       config
FROM sessions
WHERE id = ?`

	selectSessionsSQL = `
SELECT id,
       run_id,
       start_time,
       source,
       ops_info,
       config
FROM sessions
ORDER BY id`

	insertPulseSQL = `
INSERT INTO pulses (session_id,
                    seq_num,
                    time_ns,
                    azimuth,
                    elevation,
                    fixed_azimuth,
                    fixed_elevation,
                    prt,
                    pulse_width_us,
                    n_gates,
                    polarization,
                    scan_mode,
                    sweep_num,
                    volume_num,
                    dwell_seq_num,
                    beam_num,
                    end_of_sweep,
                    end_of_volume,
                    n_channels,
                    iq0,
                    iq1)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectPulsesSQL = `
SELECT seq_num,
       time_ns,
       azimuth,
       elevation,
       fixed_azimuth,
       fixed_elevation,
       prt,
       pulse_width_us,
       n_gates,
       polarization,
       scan_mode,
       sweep_num,
       volume_num,
       dwell_seq_num,
       beam_num,
       end_of_sweep,
       end_of_volume,
       n_channels,
       iq0,
       iq1
FROM pulses
WHERE session_id = ?`

	countPulsesSQL = `
SELECT COUNT(*)
FROM pulses
WHERE session_id = ?`

	insertBeamSQL = `
INSERT INTO beams (session_id,
                   seq_num,
                   time_ns,
                   elevation,
                   azimuth,
                   mode,
                   n_samples,
                   n_gates,
                   n_gates_out,
                   prt,
                   prt_long,
                   nyquist,
                   sweep_num,
                   volume_num,
                   end_of_sweep,
                   end_of_volume,
                   mean_dbz,
                   max_dbz,
                   mean_vel)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectBeamsSQL = `
SELECT session_id,
       seq_num,
       time_ns,
       elevation,
       azimuth,
       mode,
       n_samples,
       n_gates,
       n_gates_out,
       prt,
       prt_long,
       nyquist,
       sweep_num,
       volume_num,
       end_of_sweep,
       end_of_volume,
       mean_dbz,
       max_dbz,
       mean_vel
FROM beams
WHERE session_id = ?
ORDER BY seq_num`
)
