package rootcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"

	"github.com/papercomputeco/gptlaunch/pkg/ledger"
)

var _ = Describe("gptlaunch", func() {
	var (
		tmpDir     string
		configPath string
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		configPath = filepath.Join(tmpDir, "gpt2.toml")
		Expect(os.WriteFile(configPath, []byte("[topology]\nport = 6100\n"), 0o644)).To(Succeed())
	})

	execute := func(args ...string) (string, error) {
		var out bytes.Buffer
		cmd := NewRootCmd()
		cmd.SetOut(&out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		err := cmd.ExecuteContext(context.Background())
		return out.String(), err
	}

	It("registers every subcommand", func() {
		cmd := NewRootCmd()
		names := []string{}
		for _, c := range cmd.Commands() {
			names = append(names, c.Name())
		}
		Expect(names).To(ContainElements("launch", "render", "topo", "history", "merge"))
	})

	It("rejects unknown config keys", func() {
		Expect(os.WriteFile(configPath, []byte("[topology]\nprot = 1\n"), 0o644)).To(Succeed())

		_, err := execute("-c", configPath, "render")
		Expect(err).To(MatchError(ContainSubstring("unknown config keys: topology.prot")))
	})

	Describe("render", func() {
		It("prints the plan as JSON", func() {
			out, err := execute("-c", configPath, "render", "--format", "json")
			Expect(err).NotTo(HaveOccurred())

			var plan map[string]any
			Expect(json.Unmarshal([]byte(out), &plan)).To(Succeed())
			Expect(plan["master_port"]).To(BeNumerically("==", 6102))
			Expect(plan["world_size"]).To(BeNumerically("==", 2))
		})

		It("prints a shell script", func() {
			out, err := execute("-c", configPath, "render", "-f", "shell", "--", "--seed", "1")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HavePrefix("#!/bin/sh\n"))
			Expect(out).To(ContainSubstring("export WORKER_0_PORT=6100\n"))
			Expect(out).To(HaveSuffix("--seed 1\n"))
		})

		It("rejects unknown formats", func() {
			_, err := execute("render", "--format", "yaml")
			Expect(err).To(MatchError(ContainSubstring(`unknown format "yaml"`)))
		})

		It("needs a config file to watch", func() {
			_, err := execute("render", "--watch")
			Expect(err).To(MatchError(ContainSubstring("--watch needs a config file")))
		})

		It("re-renders when the config file changes", func() {
			out := gbytes.NewBuffer()
			cmd := NewRootCmd()
			cmd.SetOut(out)
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs([]string{"-c", configPath, "render", "--format", "json", "--watch"})

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				done <- cmd.ExecuteContext(ctx)
			}()
			defer func() {
				cancel()
				Eventually(done, 5*time.Second).Should(Receive(BeNil()))
			}()

			Eventually(out).Should(gbytes.Say(`"master_port": 6102`))

			// The watcher may not be registered yet, so keep rewriting.
			Eventually(func() *gbytes.Buffer {
				Expect(os.WriteFile(configPath, []byte("[topology]\nport = 7000\n"), 0o644)).To(Succeed())
				return out
			}, 5*time.Second, 100*time.Millisecond).Should(gbytes.Say(`"master_port": 7002`))
		})
	})

	Describe("topo", func() {
		It("prints the configured grid", func() {
			out, err := execute("-c", configPath, "topo")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("pipe_01-data_00-model_00"))
			Expect(out).To(ContainSubstring("axes  pipe=2 data=1 model=1"))
		})

		It("prints the default factorization of a world size", func() {
			out, err := execute("topo", "--world", "12")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("axes  pipe=6 data=2\n"))
		})

		It("prints ranks as JSON", func() {
			out, err := execute("topo", "--json")
			Expect(err).NotTo(HaveOccurred())

			var ranks []map[string]any
			Expect(json.Unmarshal([]byte(out), &ranks)).To(Succeed())
			Expect(ranks).To(HaveLen(2))
			Expect(ranks[0]["p2p_peer"]).To(BeNumerically("==", 1))
			Expect(ranks[1]["last_stage"]).To(BeTrue())
		})

		It("rejects a non-positive world size", func() {
			_, err := execute("topo", "--world", "0")
			Expect(err).To(MatchError(ContainSubstring("strictly positive")))
		})
	})

	Describe("history", func() {
		var (
			dbPath string
			first  *ledger.Record
			second *ledger.Record
		)

		BeforeEach(func() {
			dbPath = filepath.Join(tmpDir, "runs.db")
			store, err := ledger.NewSQLiteStorer(dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer store.Close()

			ctx := context.Background()
			first, _, err = ledger.Append(ctx, store, ledger.Content{Argv: []string{"python", "a.py"}, WorldSize: 2})
			Expect(err).NotTo(HaveOccurred())
			second, _, err = ledger.Append(ctx, store, ledger.Content{Argv: []string{"python", "b.py"}, Env: []string{"DMLC_NUM_WORKER=2"}, WorldSize: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(store.AddRun(ctx, ledger.Run{Hash: second.Hash, StartedAt: time.Now(), Duration: time.Minute, ExitCode: 3})).To(Succeed())
		})

		It("lists every record with its runs", func() {
			out, err := execute("history", "--ledger", dbPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(first.ShortHash()))
			Expect(out).To(ContainSubstring(second.ShortHash()))
			Expect(out).To(MatchRegexp(second.ShortHash() + `\s+` + first.ShortHash() + `.*\s1\s+3\n`))
		})

		It("reads the ledger path from the config", func() {
			data := "ledger = \"" + dbPath + "\"\n"
			Expect(os.WriteFile(configPath, []byte(data), 0o644)).To(Succeed())

			out, err := execute("-c", configPath, "history")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(second.ShortHash()))
		})

		It("shows one record and its ancestors", func() {
			out, err := execute("history", "--ledger", dbPath, second.Hash[:8])
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Record " + second.Hash))
			Expect(out).To(ContainSubstring("python b.py"))
			Expect(out).To(ContainSubstring("DMLC_NUM_WORKER=2"))
			Expect(out).To(ContainSubstring("exit 3"))
			Expect(out).To(ContainSubstring(first.ShortHash()))
		})

		It("reports unknown hashes", func() {
			_, err := execute("history", "--ledger", dbPath, "zzzz")
			Expect(err).To(MatchError(ContainSubstring("record not found: zzzz")))
		})

		It("does not create a missing ledger", func() {
			missing := filepath.Join(tmpDir, "rnus.db")

			_, err := execute("history", "--ledger", missing)
			Expect(err).To(MatchError(ContainSubstring(missing)))

			_, statErr := os.Stat(missing)
			Expect(os.IsNotExist(statErr)).To(BeTrue())
		})

		It("needs a ledger", func() {
			_, err := execute("history")
			Expect(err).To(MatchError(ContainSubstring("no ledger configured")))
		})
	})
})
