// Package config holds the launch configuration of a distributed
// pretraining job and loads it from TOML.
package config

import (
	"path/filepath"

	"github.com/papercomputeco/gptlaunch/pkg/dsconfig"
)

// Config is the complete set of inputs to one launch.
type Config struct {
	Topology  Topology        `toml:"topology"`
	Transport Transport       `toml:"transport"`
	Paths     Paths           `toml:"paths"`
	Model     Model           `toml:"model"`
	Training  Training        `toml:"training"`
	DeepSpeed dsconfig.Config `toml:"deepspeed"`

	// Env holds extra environment variables exported after the fixed set.
	Env map[string]string `toml:"env"`

	// AllowBatchMismatch downgrades the batch consistency check to a warning.
	AllowBatchMismatch bool `toml:"allow_batch_mismatch"`

	// Ledger is the SQLite file launches are recorded in. Empty disables it.
	Ledger string `toml:"ledger"`
}

// Topology describes the cluster and this worker's place in it.
type Topology struct {
	// Host of worker 0, used as the rendezvous master address.
	Host string `toml:"host"`

	// NodeHost is this node's own address. Defaults to Host.
	NodeHost string `toml:"node_host"`

	// Port is the base RPC port. The master listens on Port+MasterPortOffset.
	Port             int `toml:"port"`
	MasterPortOffset int `toml:"master_port_offset"`

	Workers       int `toml:"workers"`
	Rank          int `toml:"rank"`
	GPUsPerWorker int `toml:"gpus_per_worker"`

	// VisibleDevices overrides the CUDA device ids, 0..GPUsPerWorker-1 by default.
	VisibleDevices []int `toml:"visible_devices"`

	// Launcher is the distributed launch wrapper command prefix.
	Launcher []string `toml:"launcher"`
}

// Transport toggles the RDMA/UCX features of the communication backend.
type Transport struct {
	EnableRDMA    bool `toml:"enable_rdma"`
	EnableUCX     bool `toml:"enable_ucx"`
	BytePSWithUCX bool `toml:"byteps_with_ucx"`
}

// Paths locates the training script and its data. Relative paths are
// resolved against BaseDir.
type Paths struct {
	BaseDir    string `toml:"base_dir"`
	EntryPoint string `toml:"entry_point"`
	Data       string `toml:"data"`
	Vocab      string `toml:"vocab"`
	Merge      string `toml:"merge"`
	Checkpoint string `toml:"checkpoint"`
}

// Model is the transformer shape and its parallel split.
type Model struct {
	NumLayers             int `toml:"num_layers"`
	HiddenSize            int `toml:"hidden_size"`
	NumAttentionHeads     int `toml:"num_attention_heads"`
	SeqLength             int `toml:"seq_length"`
	MaxPositionEmbeddings int `toml:"max_position_embeddings"`
	ModelParallelSize     int `toml:"model_parallel_size"`
	NumStages             int `toml:"num_stages"`
}

// Training holds the schedule and run-time switches.
type Training struct {
	TrainIters         int     `toml:"train_iters"`
	LRDecayIters       int     `toml:"lr_decay_iters"`
	LR                 float64 `toml:"lr"`
	LRDecayStyle       string  `toml:"lr_decay_style"`
	MinLR              float64 `toml:"min_lr"`
	WeightDecay        float64 `toml:"weight_decay"`
	Warmup             float64 `toml:"warmup"`
	LogInterval        int     `toml:"log_interval"`
	SaveInterval       int     `toml:"save_interval"`
	EvalInterval       int     `toml:"eval_interval"`
	EvalIters          int     `toml:"eval_iters"`
	Split              string  `toml:"split"`
	DataImpl           string  `toml:"data_impl"`
	DistributedBackend string  `toml:"distributed_backend"`
	DDPImpl            string  `toml:"ddp_impl"`
	FP16               bool    `toml:"fp16"`
	DeepSpeedPipeline  bool    `toml:"deepspeed_pipeline"`
}

// Default returns the GPT-2 345M single node, two GPU configuration.
func Default() *Config {
	return &Config{
		Topology: Topology{
			Host:             "127.0.0.1",
			Port:             6000,
			MasterPortOffset: 2,
			Workers:          1,
			Rank:             0,
			GPUsPerWorker:    2,
			Launcher:         []string{"python", "-m", "torch.distributed.launch"},
		},
		Paths: Paths{
			BaseDir:    ".",
			EntryPoint: "pretrain_gpt2.py",
			Data:       "gpt_data/my-gpt2_text_document",
			Vocab:      "gpt_data/gpt2-vocab.json",
			Merge:      "gpt_data/gpt2-merges.txt",
			Checkpoint: "checkpoints/gpt2_345m",
		},
		Model: Model{
			NumLayers:             24,
			HiddenSize:            1024,
			NumAttentionHeads:     16,
			SeqLength:             1024,
			MaxPositionEmbeddings: 1024,
			ModelParallelSize:     1,
			NumStages:             2,
		},
		Training: Training{
			TrainIters:         500000,
			LRDecayIters:       450000,
			LR:                 0.00025,
			LRDecayStyle:       "cosine",
			MinLR:              1.0e-5,
			WeightDecay:        1e-2,
			Warmup:             0.01,
			LogInterval:        1,
			SaveInterval:       100000,
			EvalInterval:       100000,
			EvalIters:          10,
			Split:              "949,50,1",
			DataImpl:           "mmap",
			DistributedBackend: "nccl",
			DDPImpl:            "torch",
			FP16:               true,
			DeepSpeedPipeline:  true,
		},
		DeepSpeed: dsconfig.Default(),
	}
}

// WorldSize is the total number of training processes.
func (t Topology) WorldSize() int {
	return t.GPUsPerWorker * t.Workers
}

// MasterPort is the rendezvous port handed to the launcher.
func (t Topology) MasterPort() int {
	return t.Port + t.MasterPortOffset
}

// NodeAddr returns NodeHost, falling back to Host.
func (t Topology) NodeAddr() string {
	if t.NodeHost != "" {
		return t.NodeHost
	}
	return t.Host
}

// Devices returns the device ids exposed to the workers of this node.
func (t Topology) Devices() []int {
	if len(t.VisibleDevices) > 0 {
		return append([]int(nil), t.VisibleDevices...)
	}
	devices := make([]int, t.GPUsPerWorker)
	for i := range devices {
		devices[i] = i
	}
	return devices
}

// Resolve joins path to BaseDir unless it is already absolute.
func (p Paths) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.BaseDir, path)
}
