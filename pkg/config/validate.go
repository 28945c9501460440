package config

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// LRDecayStyles are the schedules the trainer understands.
var LRDecayStyles = []string{"constant", "linear", "cosine", "exponential"}

// Validate checks every value needed to compose a launch. The first
// problem found is returned, naming its TOML key.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateTopology,
		c.validatePaths,
		c.validateModel,
		c.validateTraining,
		c.validateEnv,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}

	if err := c.DeepSpeed.Validate(); err != nil {
		return fmt.Errorf("deepspeed: %w", err)
	}
	return nil
}

func (c *Config) validateTopology() error {
	t := c.Topology

	if t.Host == "" {
		return missing("topology.host")
	}
	if strings.ContainsAny(t.Host, " \t/") {
		return invalid("topology.host", t.Host, "not a host name or address")
	}
	if t.NodeHost != "" && strings.ContainsAny(t.NodeHost, " \t/") {
		return invalid("topology.node_host", t.NodeHost, "not a host name or address")
	}
	if t.Port == 0 {
		return missing("topology.port")
	}
	if t.Port < 1 || t.Port > 65535 {
		return invalid("topology.port", t.Port, "must be between 1 and 65535")
	}
	if mp := t.MasterPort(); mp < 1 || mp > 65535 {
		return invalid("topology.master_port_offset", t.MasterPortOffset,
			fmt.Sprintf("master port %d out of range", mp))
	}
	if t.Workers == 0 {
		return missing("topology.workers")
	}
	if t.Workers < 0 {
		return invalid("topology.workers", t.Workers, "must be positive")
	}
	if t.GPUsPerWorker == 0 {
		return missing("topology.gpus_per_worker")
	}
	if t.GPUsPerWorker < 0 {
		return invalid("topology.gpus_per_worker", t.GPUsPerWorker, "must be positive")
	}
	if t.Rank < 0 || t.Rank >= t.Workers {
		return invalid("topology.rank", t.Rank, fmt.Sprintf("must be in [0, %d)", t.Workers))
	}
	if len(t.VisibleDevices) > 0 && len(t.VisibleDevices) != t.GPUsPerWorker {
		return invalid("topology.visible_devices", t.VisibleDevices,
			fmt.Sprintf("lists %d devices for %d GPUs per worker", len(t.VisibleDevices), t.GPUsPerWorker))
	}
	for _, d := range t.VisibleDevices {
		if d < 0 {
			return invalid("topology.visible_devices", t.VisibleDevices, "device ids must not be negative")
		}
	}
	if len(t.Launcher) == 0 || t.Launcher[0] == "" {
		return missing("topology.launcher")
	}
	return nil
}

func (c *Config) validatePaths() error {
	p := c.Paths
	required := []struct {
		key   string
		value string
	}{
		{"paths.base_dir", p.BaseDir},
		{"paths.entry_point", p.EntryPoint},
		{"paths.data", p.Data},
		{"paths.vocab", p.Vocab},
		{"paths.merge", p.Merge},
		{"paths.checkpoint", p.Checkpoint},
	}
	for _, r := range required {
		if r.value == "" {
			return missing(r.key)
		}
	}
	return nil
}

func (c *Config) validateModel() error {
	m := c.Model
	positive := []struct {
		key   string
		value int
	}{
		{"model.num_layers", m.NumLayers},
		{"model.hidden_size", m.HiddenSize},
		{"model.num_attention_heads", m.NumAttentionHeads},
		{"model.seq_length", m.SeqLength},
		{"model.max_position_embeddings", m.MaxPositionEmbeddings},
		{"model.model_parallel_size", m.ModelParallelSize},
		{"model.num_stages", m.NumStages},
	}
	for _, p := range positive {
		if p.value == 0 {
			return missing(p.key)
		}
		if p.value < 0 {
			return invalid(p.key, p.value, "must be positive")
		}
	}

	if m.HiddenSize%m.NumAttentionHeads != 0 {
		return invalid("model.hidden_size", m.HiddenSize,
			fmt.Sprintf("not divisible by num_attention_heads=%d", m.NumAttentionHeads))
	}
	if m.SeqLength > m.MaxPositionEmbeddings {
		return invalid("model.seq_length", m.SeqLength,
			fmt.Sprintf("exceeds max_position_embeddings=%d", m.MaxPositionEmbeddings))
	}
	if m.NumStages > m.NumLayers {
		return invalid("model.num_stages", m.NumStages,
			fmt.Sprintf("more pipeline stages than num_layers=%d", m.NumLayers))
	}
	return nil
}

func (c *Config) validateTraining() error {
	t := c.Training

	if t.TrainIters == 0 {
		return missing("training.train_iters")
	}
	if t.TrainIters < 0 {
		return invalid("training.train_iters", t.TrainIters, "must be positive")
	}
	if t.LRDecayIters < 0 {
		return invalid("training.lr_decay_iters", t.LRDecayIters, "must not be negative")
	}
	if t.LR == 0 {
		return missing("training.lr")
	}
	if t.LR < 0 {
		return invalid("training.lr", t.LR, "must be positive")
	}
	if t.MinLR < 0 || t.MinLR > t.LR {
		return invalid("training.min_lr", t.MinLR, fmt.Sprintf("must be in [0, lr=%g]", t.LR))
	}
	if t.WeightDecay < 0 {
		return invalid("training.weight_decay", t.WeightDecay, "must not be negative")
	}
	if t.Warmup < 0 || t.Warmup > 1 {
		return invalid("training.warmup", t.Warmup, "must be a fraction in [0, 1]")
	}
	if t.LRDecayStyle == "" {
		return missing("training.lr_decay_style")
	}
	if !slices.Contains(LRDecayStyles, t.LRDecayStyle) {
		return invalid("training.lr_decay_style", t.LRDecayStyle,
			"must be one of "+strings.Join(LRDecayStyles, ", "))
	}

	intervals := []struct {
		key   string
		value int
	}{
		{"training.log_interval", t.LogInterval},
		{"training.save_interval", t.SaveInterval},
		{"training.eval_interval", t.EvalInterval},
		{"training.eval_iters", t.EvalIters},
	}
	for _, i := range intervals {
		if i.value <= 0 {
			return invalid(i.key, i.value, "must be positive")
		}
	}

	if t.Split == "" {
		return missing("training.split")
	}
	if err := validateSplit(t.Split); err != nil {
		return err
	}

	strs := []struct {
		key   string
		value string
	}{
		{"training.data_impl", t.DataImpl},
		{"training.distributed_backend", t.DistributedBackend},
		{"training.ddp_impl", t.DDPImpl},
	}
	for _, s := range strs {
		if s.value == "" {
			return missing(s.key)
		}
	}
	return nil
}

func validateSplit(split string) error {
	parts := strings.Split(split, ",")
	if len(parts) != 3 {
		return invalid("training.split", split, "must be three comma-separated weights")
	}

	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return invalid("training.split", split, "weights must be non-negative integers")
		}
		total += n
	}
	if total == 0 {
		return invalid("training.split", split, "weights must not all be zero")
	}
	return nil
}

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidEnvName reports whether name is a portable POSIX variable name,
// safe to export unquoted.
func ValidEnvName(name string) bool {
	return envName.MatchString(name)
}

func (c *Config) validateEnv() error {
	for k := range c.Env {
		if !ValidEnvName(k) {
			return invalid("env."+k, c.Env[k], "not a valid variable name")
		}
		if slices.Contains(ReservedEnv, k) {
			return invalid("env."+k, c.Env[k], "set by the launcher")
		}
	}
	return nil
}

// ReservedEnv are the variables the launcher always sets itself.
var ReservedEnv = []string{
	"CUDA_VISIBLE_DEVICES",
	EnvWorkerHost,
	EnvWorkerPort,
	EnvDMLCNodeHost,
	EnvNumWorker,
	EnvWorkerRank,
	EnvGPUPerWorker,
	"BYTEPS_WITH_UCX",
	"DMLC_ENABLE_UCX",
	"DMLC_ENABLE_RDMA",
	"DMLC_NUM_WORKER",
}
