package dsconfig_test

import (
	"encoding/json"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/gptlaunch/pkg/dsconfig"
)

var _ = Describe("Config", func() {
	Describe("Marshal", func() {
		It("round-trips through Parse", func() {
			cfg := dsconfig.Default()
			cfg.FP16.LossScale = 65536
			cfg.GradientClipping = 0.1

			blob, err := cfg.Marshal()
			Expect(err).NotTo(HaveOccurred())

			parsed, err := dsconfig.Parse(blob)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(cfg))
		})

		It("emits the nested schema field names", func() {
			cfg := dsconfig.Default()
			blob, err := cfg.Marshal()
			Expect(err).NotTo(HaveOccurred())

			var generic map[string]any
			Expect(json.Unmarshal([]byte(blob), &generic)).To(Succeed())
			Expect(generic).To(HaveKey("train_micro_batch_size_per_gpu"))
			Expect(generic).To(HaveKey("wall_clock_breakdown"))

			zero, ok := generic["zero_optimization"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(zero).To(HaveKeyWithValue("stage", BeNumerically("==", 0)))
			Expect(zero).To(HaveKeyWithValue("cpu_offload", false))
			Expect(zero).To(HaveKeyWithValue("allgather_bucket_size", BeNumerically("==", 500000000)))

			fp16, ok := generic["fp16"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(fp16).To(HaveKeyWithValue("loss_scale_window", BeNumerically("==", 1000)))
			Expect(fp16).To(HaveKeyWithValue("enabled", true))
		})

		It("keeps float fields as float literals", func() {
			cfg := dsconfig.Default()
			blob, err := cfg.Marshal()
			Expect(err).NotTo(HaveOccurred())

			Expect(blob).To(ContainSubstring(`"gradient_clipping":1.0`))
			Expect(blob).To(ContainSubstring(`"loss_scale":0.0`))
			Expect(blob).To(ContainSubstring(`"min_loss_scale":1.0`))
			Expect(blob).To(ContainSubstring(`"loss_scale_window":1000,`))
		})

		It("produces a single line", func() {
			cfg := dsconfig.Default()
			blob, err := cfg.Marshal()
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.ContainsAny(blob, "\n\t")).To(BeFalse())
		})
	})

	Describe("Parse", func() {
		It("rejects unknown fields", func() {
			_, err := dsconfig.Parse(`{"train_batch_size": 8, "bogus": 1}`)
			Expect(err).To(HaveOccurred())
		})

		It("accepts integer literals for float fields", func() {
			cfg, err := dsconfig.Parse(`{"gradient_clipping": 2, "fp16": {"min_loss_scale": 1}}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.GradientClipping).To(Equal(dsconfig.Float(2)))
			Expect(cfg.FP16.MinLossScale).To(Equal(dsconfig.Float(1)))
		})
	})

	Describe("Validate", func() {
		It("accepts the defaults", func() {
			cfg := dsconfig.Default()
			Expect(cfg.Validate()).To(Succeed())
		})

		DescribeTable("rejects out of range fields",
			func(mutate func(*dsconfig.Config), field string) {
				cfg := dsconfig.Default()
				mutate(&cfg)

				err := cfg.Validate()
				Expect(err).To(HaveOccurred())

				var fieldErr *dsconfig.FieldError
				Expect(err).To(BeAssignableToTypeOf(fieldErr))
				Expect(err.(*dsconfig.FieldError).Field).To(Equal(field))
			},
			Entry("micro batch", func(c *dsconfig.Config) { c.TrainMicroBatchSizePerGPU = 0 }, "train_micro_batch_size_per_gpu"),
			Entry("accumulation", func(c *dsconfig.Config) { c.GradientAccumulationSteps = -1 }, "gradient_accumulation_steps"),
			Entry("zero stage", func(c *dsconfig.Config) { c.ZeroOptimization.Stage = 4 }, "zero_optimization.stage"),
			Entry("bucket size", func(c *dsconfig.Config) { c.ZeroOptimization.ReduceBucketSize = -1 }, "zero_optimization.reduce_bucket_size"),
			Entry("loss scale", func(c *dsconfig.Config) { c.FP16.LossScale = -1 }, "fp16.loss_scale"),
			Entry("scale window", func(c *dsconfig.Config) { c.FP16.LossScaleWindow = 0 }, "fp16.loss_scale_window"),
			Entry("min loss scale", func(c *dsconfig.Config) { c.FP16.MinLossScale = 0 }, "fp16.min_loss_scale"),
		)
	})
})

var _ = Describe("FormatFloat", func() {
	DescribeTable("formats losslessly",
		func(in float64, want string) {
			Expect(dsconfig.FormatFloat(in)).To(Equal(want))
		},
		Entry("zero", 0.0, "0.0"),
		Entry("integral", 1000.0, "1000.0"),
		Entry("fraction", 0.00025, "0.00025"),
		Entry("small", 1.0e-5, "1e-05"),
		Entry("large", 5e8, "5e+08"),
	)
})
