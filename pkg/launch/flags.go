package launch

import (
	"strconv"

	"github.com/papercomputeco/gptlaunch/pkg/config"
	"github.com/papercomputeco/gptlaunch/pkg/dsconfig"
)

// flag is one training argument. A bool flag is emitted bare when set and
// omitted otherwise.
type flag struct {
	name  string
	value string
	isSet *bool
}

func intFlag(name string, v int) flag {
	return flag{name: name, value: strconv.Itoa(v)}
}

func floatFlag(name string, v float64) flag {
	return flag{name: name, value: strconv.FormatFloat(v, 'g', -1, 64)}
}

func strFlag(name, v string) flag {
	return flag{name: name, value: v}
}

func boolFlag(name string, v bool) flag {
	return flag{name: name, isSet: &v}
}

// trainingArgs renders the hyperparameters in the order the reference
// launch script passes them. Names keep the trainer's mix of kebab and
// snake case. Batch sizes and clipping come from the optimizer record so
// the two never disagree.
func trainingArgs(cfg *config.Config) []string {
	m, t, p, ds := cfg.Model, cfg.Training, cfg.Paths, cfg.DeepSpeed
	checkpoint := p.Resolve(p.Checkpoint)

	flags := []flag{
		intFlag("--model-parallel-size", m.ModelParallelSize),
		intFlag("--num-stages", m.NumStages),
		intFlag("--num-layers", m.NumLayers),
		intFlag("--hidden-size", m.HiddenSize),
		intFlag("--train-batch-size", ds.TrainBatchSize),
		intFlag("--gradient_accumulation_steps", ds.GradientAccumulationSteps),
		intFlag("--num-attention-heads", m.NumAttentionHeads),
		intFlag("--batch-size", ds.TrainMicroBatchSizePerGPU),
		intFlag("--seq-length", m.SeqLength),
		intFlag("--max-position-embeddings", m.MaxPositionEmbeddings),
		intFlag("--train-iters", t.TrainIters),
		intFlag("--lr-decay-iters", t.LRDecayIters),
		strFlag("--save", checkpoint),
		strFlag("--load", checkpoint),
		strFlag("--data-path", p.Resolve(p.Data)),
		strFlag("--vocab-file", p.Resolve(p.Vocab)),
		strFlag("--merge-file", p.Resolve(p.Merge)),
		strFlag("--data-impl", t.DataImpl),
		strFlag("--split", t.Split),
		strFlag("--distributed-backend", t.DistributedBackend),
		floatFlag("--lr", t.LR),
		strFlag("--lr-decay-style", t.LRDecayStyle),
		floatFlag("--min-lr", t.MinLR),
		floatFlag("--weight-decay", t.WeightDecay),
		strFlag("--clip-grad", dsconfig.FormatFloat(float64(ds.GradientClipping))),
		floatFlag("--warmup", t.Warmup),
		intFlag("--log-interval", t.LogInterval),
		intFlag("--save-interval", t.SaveInterval),
		intFlag("--eval-interval", t.EvalInterval),
		intFlag("--eval-iters", t.EvalIters),
		boolFlag("--fp16", t.FP16),
		strFlag("--DDP-impl", t.DDPImpl),
		boolFlag("--deepspeed-pipeline", t.DeepSpeedPipeline),
	}

	args := make([]string, 0, len(flags)*2)
	for _, f := range flags {
		if f.isSet != nil {
			if *f.isSet {
				args = append(args, f.name)
			}
			continue
		}
		args = append(args, f.name, f.value)
	}
	return args
}
