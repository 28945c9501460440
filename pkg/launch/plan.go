// Package launch composes the environment and command line of a
// distributed pretraining job and runs it.
package launch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/gptlaunch/pkg/config"
	"github.com/papercomputeco/gptlaunch/pkg/topology"
)

// ConfigParamFlag carries the optimizer configuration blob.
const ConfigParamFlag = "--config_param"

// EnvVar is one environment assignment. Order matters for rendering, so a
// Plan keeps a slice rather than a map.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (e EnvVar) String() string {
	return e.Name + "=" + e.Value
}

// Plan is a fully composed launch: everything needed to start the
// distributed launcher, and nothing that depends on running it.
type Plan struct {
	WorldSize    int    `json:"world_size"`
	Nodes        int    `json:"nodes"`
	NodeRank     int    `json:"node_rank"`
	GPUsPerNode  int    `json:"gpus_per_node"`
	MasterAddr   string `json:"master_addr"`
	MasterPort   int    `json:"master_port"`
	DataParallel int    `json:"data_parallel"`

	Env  []EnvVar `json:"env"`
	Argv []string `json:"argv"`

	// EntryPointIndex is the position of the training script in Argv.
	EntryPointIndex int `json:"entry_point_index"`

	// ConfigBlob is the JSON optimizer configuration passed under --config_param.
	ConfigBlob string `json:"config_blob"`

	// Passthrough are the caller's extra arguments, the tail of Argv.
	Passthrough []string `json:"passthrough,omitempty"`

	Grid *topology.Grid `json:"-"`
}

// LauncherArgs is the distributed launch wrapper's own segment of Argv,
// without the wrapper command itself.
func (p *Plan) LauncherArgs() []string {
	start := p.EntryPointIndex - len(launcherFlagNames)*2
	if start < 0 || p.EntryPointIndex > len(p.Argv) {
		return nil
	}
	return p.Argv[start:p.EntryPointIndex]
}

// TrainingArgs is everything after the entry point, passthrough included.
func (p *Plan) TrainingArgs() []string {
	if p.EntryPointIndex >= len(p.Argv) {
		return nil
	}
	return p.Argv[p.EntryPointIndex+1:]
}

// EnvMap returns the environment as a map.
func (p *Plan) EnvMap() map[string]string {
	m := make(map[string]string, len(p.Env))
	for _, e := range p.Env {
		m[e.Name] = e.Value
	}
	return m
}

// Environ renders the environment as KEY=value strings.
func (p *Plan) Environ() []string {
	out := make([]string, len(p.Env))
	for i, e := range p.Env {
		out[i] = e.String()
	}
	return out
}

// LocalRanks returns the global ranks run on this node.
func (p *Plan) LocalRanks() []int {
	ranks := make([]int, p.GPUsPerNode)
	for i := range ranks {
		ranks[i] = p.NodeRank*p.GPUsPerNode + i
	}
	return ranks
}

// BatchMismatchError is returned when the global batch size disagrees with
// micro batch × accumulation steps × data-parallel width.
type BatchMismatchError struct {
	TrainBatchSize int
	MicroBatch     int
	Accumulation   int
	DataParallel   int
}

func (e *BatchMismatchError) Error() string {
	return fmt.Sprintf("train_batch_size %d != train_micro_batch_size_per_gpu %d * gradient_accumulation_steps %d * data parallel width %d (= %d)",
		e.TrainBatchSize, e.MicroBatch, e.Accumulation, e.DataParallel, e.Expected())
}

// Expected is the batch size implied by the other factors.
func (e *BatchMismatchError) Expected() int {
	return e.MicroBatch * e.Accumulation * e.DataParallel
}

// Composer builds plans. The zero value is usable and logs nothing.
type Composer struct {
	Logger *zap.Logger
}

// Compose validates cfg and builds the launch plan. Passthrough arguments
// are appended verbatim after every generated flag.
func Compose(cfg *config.Config, passthrough []string) (*Plan, error) {
	return (&Composer{}).Compose(cfg, passthrough)
}

// Compose validates cfg and builds the launch plan.
func (c *Composer) Compose(cfg *config.Config, passthrough []string) (*Plan, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg == nil {
		return nil, fmt.Errorf("no launch configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := cfg.Topology
	worldSize := t.WorldSize()

	grid, err := buildGrid(cfg, worldSize)
	if err != nil {
		return nil, err
	}

	if err := checkBatch(cfg, grid.DataParallelSize); err != nil {
		if !cfg.AllowBatchMismatch {
			return nil, err
		}
		logger.Warn("batch size mismatch allowed by configuration", zap.Error(err))
	}

	blob, err := cfg.DeepSpeed.Marshal()
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		WorldSize:    worldSize,
		Nodes:        t.Workers,
		NodeRank:     t.Rank,
		GPUsPerNode:  t.GPUsPerWorker,
		MasterAddr:   t.Host,
		MasterPort:   t.MasterPort(),
		DataParallel: grid.DataParallelSize,
		ConfigBlob:   blob,
		Passthrough:  append([]string(nil), passthrough...),
		Grid:         grid,
	}
	plan.Env = buildEnv(cfg, worldSize)

	argv := append([]string(nil), t.Launcher...)
	argv = append(argv, launcherArgs(plan)...)
	plan.EntryPointIndex = len(argv)
	argv = append(argv, cfg.Paths.Resolve(cfg.Paths.EntryPoint))
	argv = append(argv, trainingArgs(cfg)...)
	argv = append(argv, ConfigParamFlag, blob)
	argv = append(argv, passthrough...)
	plan.Argv = argv

	logger.Debug("composed launch plan",
		zap.Int("world_size", plan.WorldSize),
		zap.Int("nodes", plan.Nodes),
		zap.Int("node_rank", plan.NodeRank),
		zap.Int("data_parallel", plan.DataParallel),
		zap.Int("argc", len(plan.Argv)),
	)

	return plan, nil
}

func buildGrid(cfg *config.Config, worldSize int) (*topology.Grid, error) {
	m := cfg.Model
	perReplica := m.NumStages * m.ModelParallelSize
	if worldSize%perReplica != 0 {
		return nil, &config.InvalidValueError{
			Key:    "model.num_stages",
			Value:  m.NumStages,
			Reason: fmt.Sprintf("num_stages %d * model_parallel_size %d does not divide world size %d", m.NumStages, m.ModelParallelSize, worldSize),
		}
	}

	topo, err := topology.NewPipeModelData(m.NumStages, worldSize/perReplica, m.ModelParallelSize)
	if err != nil {
		return nil, fmt.Errorf("could not build process topology: %w", err)
	}

	grid := topology.NewGrid(topo)
	if err := grid.Validate(worldSize); err != nil {
		return nil, err
	}
	return grid, nil
}

func checkBatch(cfg *config.Config, dataParallel int) error {
	ds := cfg.DeepSpeed
	mismatch := &BatchMismatchError{
		TrainBatchSize: ds.TrainBatchSize,
		MicroBatch:     ds.TrainMicroBatchSizePerGPU,
		Accumulation:   ds.GradientAccumulationSteps,
		DataParallel:   dataParallel,
	}
	if mismatch.Expected() != ds.TrainBatchSize {
		return mismatch
	}
	return nil
}

var launcherFlagNames = []string{
	"--nproc_per_node",
	"--nnodes",
	"--node_rank",
	"--master_addr",
	"--master_port",
}

func launcherArgs(p *Plan) []string {
	values := []string{
		strconv.Itoa(p.GPUsPerNode),
		strconv.Itoa(p.Nodes),
		strconv.Itoa(p.NodeRank),
		p.MasterAddr,
		strconv.Itoa(p.MasterPort),
	}

	args := make([]string, 0, len(values)*2)
	for i, name := range launcherFlagNames {
		args = append(args, name, values[i])
	}
	return args
}

func buildEnv(cfg *config.Config, worldSize int) []EnvVar {
	t := cfg.Topology

	devices := make([]string, 0, t.GPUsPerWorker)
	for _, d := range t.Devices() {
		devices = append(devices, strconv.Itoa(d))
	}

	env := []EnvVar{
		{"CUDA_VISIBLE_DEVICES", strings.Join(devices, ",")},
		{config.EnvWorkerHost, t.Host},
		{config.EnvWorkerPort, strconv.Itoa(t.Port)},
		{config.EnvDMLCNodeHost, t.NodeAddr()},
		{config.EnvNumWorker, strconv.Itoa(t.Workers)},
		{config.EnvWorkerRank, strconv.Itoa(t.Rank)},
		{config.EnvGPUPerWorker, strconv.Itoa(t.GPUsPerWorker)},
		{"BYTEPS_WITH_UCX", boolEnv(cfg.Transport.BytePSWithUCX)},
		{"DMLC_ENABLE_UCX", boolEnv(cfg.Transport.EnableUCX)},
		{"DMLC_ENABLE_RDMA", boolEnv(cfg.Transport.EnableRDMA)},
		{"DMLC_NUM_WORKER", strconv.Itoa(worldSize)},
	}

	extra := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		env = append(env, EnvVar{k, cfg.Env[k]})
	}
	return env
}

func boolEnv(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
