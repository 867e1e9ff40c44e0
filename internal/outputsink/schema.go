package outputsink

// aggRow is one row of the append-only agg_results.parquet aggregate
// table (spec.md §4.8, §6.3): one row per completed window, whether a
// simulation result or a calibration-epoch summary.
type aggRow struct {
	RunID               string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	WindowID            int64   `parquet:"name=window_id, type=INT64"`
	WindowStart         int64   `parquet:"name=window_start, type=INT64"`
	WindowEnd           int64   `parquet:"name=window_end, type=INT64"`
	TaskCount           int32   `parquet:"name=task_count, type=INT32"`
	TopologyFingerprint string  `parquet:"name=topology_fingerprint, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status              string  `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	EnergyKWh           float64 `parquet:"name=energy_kwh, type=DOUBLE"`
	MeanCPUUtil         float64 `parquet:"name=mean_cpu_util, type=DOUBLE"`
	MaxPowerW           float64 `parquet:"name=max_power_w, type=DOUBLE"`
	RuntimeHours        float64 `parquet:"name=runtime_hours, type=DOUBLE"`
	ErrorMsg            string  `parquet:"name=error_msg, type=BYTE_ARRAY, convertedtype=UTF8"`
	// Calibration-epoch fields (zero-valued on plain simulation rows).
	ParamPath      string  `parquet:"name=param_path, type=BYTE_ARRAY, convertedtype=UTF8"`
	WinnerValue    float64 `parquet:"name=winner_value, type=DOUBLE"`
	WinnerMAPE     float64 `parquet:"name=winner_mape, type=DOUBLE"`
	CandidateCount int32   `parquet:"name=candidate_count, type=INT32"`
	Published      bool    `parquet:"name=published, type=BOOLEAN"`
}
