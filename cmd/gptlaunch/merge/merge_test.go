package mergecmder

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/gptlaunch/pkg/ledger"
)

var _ = Describe("Merge Command", func() {
	var (
		ctx     context.Context
		tmpDir  string
		srcPath string
		dstPath string
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		srcPath = filepath.Join(tmpDir, "worker0.db")
		dstPath = filepath.Join(tmpDir, "job.db")
	})

	// seed appends one launch per argv to the ledger at path, each with a run.
	seed := func(path string, scripts ...string) []*ledger.Record {
		store, err := ledger.NewSQLiteStorer(path)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		var records []*ledger.Record
		for i, script := range scripts {
			r, _, err := ledger.Append(ctx, store, ledger.Content{Argv: []string{"python", script}, WorldSize: 2})
			Expect(err).NotTo(HaveOccurred())
			started := time.Date(2026, 10, 17, i, 0, 0, 0, time.UTC)
			Expect(store.AddRun(ctx, ledger.Run{Hash: r.Hash, StartedAt: started, Duration: time.Minute})).To(Succeed())
			records = append(records, r)
		}
		return records
	}

	count := func(path string) (int, int) {
		store, err := ledger.NewSQLiteStorer(path)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		records, err := store.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		runs := 0
		for _, r := range records {
			rs, err := store.Runs(ctx, r.Hash)
			Expect(err).NotTo(HaveOccurred())
			runs += len(rs)
		}
		return len(records), runs
	}

	merge := func(args ...string) (string, error) {
		var out bytes.Buffer
		cmd := NewMergeCmd()
		cmd.SetOut(&out)
		cmd.SetArgs(args)
		err := cmd.ExecuteContext(ctx)
		return out.String(), err
	}

	It("merges records and runs from source into target", func() {
		seed(srcPath, "a.py", "b.py")
		seed(dstPath, "c.py")

		out, err := merge("--ledger", dstPath, srcPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("2 new records, 0 already existed, 2 new runs"))

		records, runs := count(dstPath)
		Expect(records).To(Equal(3))
		Expect(runs).To(Equal(3))
	})

	It("deduplicates when merging the same source twice", func() {
		seed(srcPath, "a.py")

		_, err := merge("--ledger", dstPath, srcPath)
		Expect(err).NotTo(HaveOccurred())
		out, err := merge("--ledger", dstPath, srcPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("0 new records, 1 already existed, 0 new runs"))

		records, runs := count(dstPath)
		Expect(records).To(Equal(1))
		Expect(runs).To(Equal(1))
	})

	It("merges multiple sources", func() {
		src2Path := filepath.Join(tmpDir, "worker1.db")
		seed(srcPath, "a.py")
		seed(src2Path, "b.py")

		out, err := merge("--ledger", dstPath, srcPath, src2Path)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Merged 2 new records and 2 runs from 2 sources"))

		records, _ := count(dstPath)
		Expect(records).To(Equal(2))
	})

	It("fails on a source ledger that does not exist", func() {
		seed(srcPath, "a.py")
		missing := filepath.Join(tmpDir, "wroker1.db")

		_, err := merge("--ledger", dstPath, srcPath, missing)
		Expect(err).To(MatchError(ContainSubstring(missing)))
		Expect(errors.Is(err, fs.ErrNotExist)).To(BeTrue())

		_, statErr := os.Stat(missing)
		Expect(errors.Is(statErr, fs.ErrNotExist)).To(BeTrue())
	})

	It("requires a target ledger", func() {
		seed(srcPath, "a.py")

		_, err := merge(srcPath)
		Expect(err).To(MatchError(ContainSubstring("no target ledger")))
	})

	It("requires at least one source", func() {
		_, err := merge("--ledger", dstPath)
		Expect(err).To(HaveOccurred())
	})
})
