// Package dsconfig models the optimizer and mixed-precision configuration
// handed to the DeepSpeed-style training backend as a JSON string.
package dsconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Config is the optimizer configuration object. Field names and JSON keys
// match what the training backend parses; the same keys are used for the
// [deepspeed] table of the launch TOML file.
type Config struct {
	TrainMicroBatchSizePerGPU int   `json:"train_micro_batch_size_per_gpu" toml:"train_micro_batch_size_per_gpu"`
	TrainBatchSize            int   `json:"train_batch_size" toml:"train_batch_size"`
	GradientAccumulationSteps int   `json:"gradient_accumulation_steps" toml:"gradient_accumulation_steps"`
	StepsPerPrint             int   `json:"steps_per_print" toml:"steps_per_print"`
	GradientClipping          Float `json:"gradient_clipping" toml:"gradient_clipping"`

	ZeroOptimization ZeroOptimization `json:"zero_optimization" toml:"zero_optimization"`
	FP16             FP16             `json:"fp16" toml:"fp16"`

	WallClockBreakdown bool `json:"wall_clock_breakdown" toml:"wall_clock_breakdown"`
}

// ZeroOptimization holds the gradient partitioning options.
type ZeroOptimization struct {
	Stage               int  `json:"stage" toml:"stage"`
	AllgatherPartitions bool `json:"allgather_partitions" toml:"allgather_partitions"`
	AllgatherBucketSize int  `json:"allgather_bucket_size" toml:"allgather_bucket_size"`
	OverlapComm         bool `json:"overlap_comm" toml:"overlap_comm"`
	ReduceScatter       bool `json:"reduce_scatter" toml:"reduce_scatter"`
	ReduceBucketSize    int  `json:"reduce_bucket_size" toml:"reduce_bucket_size"`
	ContiguousGradients bool `json:"contiguous_gradients" toml:"contiguous_gradients"`
	CPUOffload          bool `json:"cpu_offload" toml:"cpu_offload"`
}

// FP16 holds the mixed precision and dynamic loss scaling options.
// A LossScale of 0 selects dynamic loss scaling.
type FP16 struct {
	Enabled         bool  `json:"enabled" toml:"enabled"`
	LossScale       Float `json:"loss_scale" toml:"loss_scale"`
	LossScaleWindow int   `json:"loss_scale_window" toml:"loss_scale_window"`
	Hysteresis      int   `json:"hysteresis" toml:"hysteresis"`
	MinLossScale    Float `json:"min_loss_scale" toml:"min_loss_scale"`
}

// Default returns the configuration used by the reference GPT-2 345M
// pretraining script.
func Default() Config {
	return Config{
		TrainMicroBatchSizePerGPU: 4,
		TrainBatchSize:            64,
		GradientAccumulationSteps: 16,
		StepsPerPrint:             1,
		GradientClipping:          1.0,
		ZeroOptimization: ZeroOptimization{
			Stage:               0,
			AllgatherPartitions: true,
			AllgatherBucketSize: 500000000,
			OverlapComm:         true,
			ReduceScatter:       true,
			ReduceBucketSize:    500000000,
			ContiguousGradients: true,
			CPUOffload:          false,
		},
		FP16: FP16{
			Enabled:         true,
			LossScale:       0,
			LossScaleWindow: 1000,
			Hysteresis:      2,
			MinLossScale:    1,
		},
		WallClockBreakdown: true,
	}
}

// FieldError reports an invalid optimizer field by its JSON path.
type FieldError struct {
	Field  string
	Value  any
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Validate checks field ranges. It does not check batch consistency, which
// depends on the data-parallel width of the launch.
func (c *Config) Validate() error {
	checks := []struct {
		ok     bool
		field  string
		value  any
		reason string
	}{
		{c.TrainMicroBatchSizePerGPU > 0, "train_micro_batch_size_per_gpu", c.TrainMicroBatchSizePerGPU, "must be positive"},
		{c.TrainBatchSize > 0, "train_batch_size", c.TrainBatchSize, "must be positive"},
		{c.GradientAccumulationSteps > 0, "gradient_accumulation_steps", c.GradientAccumulationSteps, "must be positive"},
		{c.StepsPerPrint > 0, "steps_per_print", c.StepsPerPrint, "must be positive"},
		{c.GradientClipping >= 0, "gradient_clipping", c.GradientClipping, "must not be negative"},
		{c.ZeroOptimization.Stage >= 0 && c.ZeroOptimization.Stage <= 3, "zero_optimization.stage", c.ZeroOptimization.Stage, "must be between 0 and 3"},
		{c.ZeroOptimization.AllgatherBucketSize >= 0, "zero_optimization.allgather_bucket_size", c.ZeroOptimization.AllgatherBucketSize, "must not be negative"},
		{c.ZeroOptimization.ReduceBucketSize >= 0, "zero_optimization.reduce_bucket_size", c.ZeroOptimization.ReduceBucketSize, "must not be negative"},
		{c.FP16.LossScale >= 0, "fp16.loss_scale", c.FP16.LossScale, "must not be negative"},
		{c.FP16.LossScaleWindow > 0, "fp16.loss_scale_window", c.FP16.LossScaleWindow, "must be positive"},
		{c.FP16.Hysteresis >= 0, "fp16.hysteresis", c.FP16.Hysteresis, "must not be negative"},
		{c.FP16.MinLossScale > 0, "fp16.min_loss_scale", c.FP16.MinLossScale, "must be positive"},
	}

	for _, check := range checks {
		if !check.ok {
			return &FieldError{Field: check.field, Value: check.value, Reason: check.reason}
		}
	}
	return nil
}

// Marshal encodes the configuration as compact JSON suitable for a single
// command-line argument.
func (c *Config) Marshal() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("could not marshal optimizer config: %w", err)
	}
	return string(data), nil
}

// Parse decodes a configuration blob. Unknown fields are rejected.
func Parse(blob string) (Config, error) {
	var c Config
	dec := json.NewDecoder(bytes.NewReader([]byte(blob)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("could not parse optimizer config: %w", err)
	}
	return c, nil
}
