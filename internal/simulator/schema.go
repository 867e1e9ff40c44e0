package simulator

// taskRow is the flat columnar row written to tasks.parquet (§6.3).
type taskRow struct {
	ID             int32   `parquet:"name=id, type=INT32"`
	SubmissionTime int64   `parquet:"name=submission_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Duration       int64   `parquet:"name=duration, type=INT64"`
	CPUCount       int32   `parquet:"name=cpu_count, type=INT32"`
	CPUCapacity    float64 `parquet:"name=cpu_capacity, type=DOUBLE"`
	MemCapacity    int64   `parquet:"name=mem_capacity, type=INT64"`
}

// fragmentRow is the flat columnar row written to fragments.parquet (§6.3).
type fragmentRow struct {
	ID       int32   `parquet:"name=id, type=INT32"`
	TaskID   int32   `parquet:"name=task_id, type=INT32"`
	Duration int64   `parquet:"name=duration, type=INT64"`
	CPUCount int32   `parquet:"name=cpu_count, type=INT32"`
	CPUUsage float64 `parquet:"name=cpu_usage, type=DOUBLE"`
}

// powerSourceRow is read back from the simulator's output/powerSource.parquet.
type powerSourceRow struct {
	Timestamp   int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	PowerDraw   float64 `parquet:"name=power_draw, type=DOUBLE"`
	EnergyUsage float64 `parquet:"name=energy_usage, type=DOUBLE"`
}

// hostRow is read back from the simulator's output/host.parquet.
type hostRow struct {
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	CPUUsage  float64 `parquet:"name=cpu_usage, type=DOUBLE"`
}
