package ledger_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/gptlaunch/pkg/ledger"
)

func content(argv ...string) ledger.Content {
	return ledger.Content{
		Argv:      argv,
		Env:       []string{"DMLC_NUM_WORKER=2"},
		WorldSize: 2,
		NodeRank:  0,
	}
}

var _ = Describe("Record", func() {
	It("produces consistent hashes for the same content", func() {
		a := ledger.NewRecord(content("python", "train.py"), nil)
		b := ledger.NewRecord(content("python", "train.py"), nil)
		Expect(a.Hash).To(Equal(b.Hash))
		Expect(a.Hash).To(HaveLen(64))
	})

	It("produces different hashes for different content", func() {
		a := ledger.NewRecord(content("python", "a.py"), nil)
		b := ledger.NewRecord(content("python", "b.py"), nil)
		Expect(a.Hash).NotTo(Equal(b.Hash))
	})

	It("includes the parent in the hash", func() {
		parent := ledger.NewRecord(content("python", "a.py"), nil)
		root := ledger.NewRecord(content("python", "b.py"), nil)
		child := ledger.NewRecord(content("python", "b.py"), parent)

		Expect(child.ParentHash).NotTo(BeNil())
		Expect(*child.ParentHash).To(Equal(parent.Hash))
		Expect(child.Hash).NotTo(Equal(root.Hash))
	})

	It("verifies untampered records only", func() {
		r := ledger.NewRecord(content("python", "a.py"), nil)
		Expect(r.Verify()).To(BeTrue())

		r.Content.Argv = append(r.Content.Argv, "--extra")
		Expect(r.Verify()).To(BeFalse())
	})

	It("shortens hashes for display", func() {
		r := ledger.NewRecord(content("python"), nil)
		Expect(r.ShortHash()).To(Equal(r.Hash[:12]))
	})
})

// storerBehaviour runs the same specs against every Storer implementation.
func storerBehaviour(name string, open func() ledger.Storer) {
	Describe(name, func() {
		var (
			storer ledger.Storer
			ctx    context.Context
		)

		BeforeEach(func() {
			ctx = context.Background()
			storer = open()
		})

		AfterEach(func() {
			if storer != nil {
				storer.Close()
			}
		})

		Describe("Put and Get", func() {
			It("stores and retrieves a record", func() {
				r := ledger.NewRecord(content("python", "a.py"), nil)

				isNew, err := storer.Put(ctx, r)
				Expect(err).NotTo(HaveOccurred())
				Expect(isNew).To(BeTrue())

				got, err := storer.Get(ctx, r.Hash)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Hash).To(Equal(r.Hash))
				Expect(got.Content).To(Equal(r.Content))
				Expect(got.ParentHash).To(BeNil())
				Expect(got.CreatedAt).To(BeTemporally("~", r.CreatedAt, time.Millisecond))
				Expect(got.Verify()).To(BeTrue())
			})

			It("returns ErrNotFound for an unknown hash", func() {
				_, err := storer.Get(ctx, "nonexistent")

				var notFound ledger.ErrNotFound
				Expect(err).To(BeAssignableToTypeOf(notFound))
			})

			It("is idempotent for duplicate puts", func() {
				r := ledger.NewRecord(content("python", "a.py"), nil)

				_, err := storer.Put(ctx, r)
				Expect(err).NotTo(HaveOccurred())
				isNew, err := storer.Put(ctx, r)
				Expect(err).NotTo(HaveOccurred())
				Expect(isNew).To(BeFalse())

				records, err := storer.List(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(1))
			})

			It("rejects nil records", func() {
				_, err := storer.Put(ctx, nil)
				Expect(err).To(MatchError(ContainSubstring("nil record")))
			})
		})

		Describe("Has", func() {
			It("reports existing and unknown hashes", func() {
				r := ledger.NewRecord(content("python"), nil)
				_, err := storer.Put(ctx, r)
				Expect(err).NotTo(HaveOccurred())

				Expect(storer.Has(ctx, r.Hash)).To(BeTrue())
				Expect(storer.Has(ctx, "nonexistent")).To(BeFalse())
			})
		})

		Describe("Head and List", func() {
			It("returns ErrNotFound on an empty ledger", func() {
				_, err := storer.Head(ctx)
				Expect(err).To(BeAssignableToTypeOf(ledger.ErrNotFound{}))

				records, err := storer.List(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(BeEmpty())
			})

			It("keeps insertion order", func() {
				a := ledger.NewRecord(content("a"), nil)
				b := ledger.NewRecord(content("b"), a)
				c := ledger.NewRecord(content("c"), b)
				for _, r := range []*ledger.Record{a, b, c} {
					_, err := storer.Put(ctx, r)
					Expect(err).NotTo(HaveOccurred())
				}

				head, err := storer.Head(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(head.Hash).To(Equal(c.Hash))

				records, err := storer.List(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(3))
				Expect(records[0].Hash).To(Equal(a.Hash))
				Expect(records[2].Hash).To(Equal(c.Hash))
			})
		})

		Describe("Ancestry", func() {
			It("walks back to the first launch", func() {
				a := ledger.NewRecord(content("a"), nil)
				b := ledger.NewRecord(content("b"), a)
				c := ledger.NewRecord(content("c"), b)
				for _, r := range []*ledger.Record{a, b, c} {
					_, err := storer.Put(ctx, r)
					Expect(err).NotTo(HaveOccurred())
				}

				path, err := storer.Ancestry(ctx, c.Hash)
				Expect(err).NotTo(HaveOccurred())
				Expect(path).To(HaveLen(3))
				Expect(path[0].Content.Argv).To(Equal([]string{"c"}))
				Expect(path[1].Content.Argv).To(Equal([]string{"b"}))
				Expect(path[2].Content.Argv).To(Equal([]string{"a"}))
			})
		})

		Describe("Runs", func() {
			It("records executions of a record", func() {
				r := ledger.NewRecord(content("python"), nil)
				_, err := storer.Put(ctx, r)
				Expect(err).NotTo(HaveOccurred())

				started := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
				Expect(storer.AddRun(ctx, ledger.Run{Hash: r.Hash, StartedAt: started, Duration: time.Minute, ExitCode: 1})).To(Succeed())
				Expect(storer.AddRun(ctx, ledger.Run{Hash: r.Hash, StartedAt: started.Add(time.Hour), Duration: time.Hour, ExitCode: 0})).To(Succeed())

				runs, err := storer.Runs(ctx, r.Hash)
				Expect(err).NotTo(HaveOccurred())
				Expect(runs).To(HaveLen(2))
				Expect(runs[0].ExitCode).To(Equal(1))
				Expect(runs[0].StartedAt).To(BeTemporally("==", started))
				Expect(runs[0].Duration).To(Equal(time.Minute))
				Expect(runs[1].ExitCode).To(Equal(0))
			})

			It("refuses runs of unknown records", func() {
				err := storer.AddRun(ctx, ledger.Run{Hash: "nonexistent"})
				Expect(err).To(BeAssignableToTypeOf(ledger.ErrNotFound{}))

				_, err = storer.Runs(ctx, "nonexistent")
				Expect(err).To(BeAssignableToTypeOf(ledger.ErrNotFound{}))
			})
		})

		Describe("Append", func() {
			It("starts the ledger with a root record", func() {
				r, isNew, err := ledger.Append(ctx, storer, content("a"))
				Expect(err).NotTo(HaveOccurred())
				Expect(isNew).To(BeTrue())
				Expect(r.ParentHash).To(BeNil())
			})

			It("reuses the head for an unchanged plan", func() {
				first, _, err := ledger.Append(ctx, storer, content("a"))
				Expect(err).NotTo(HaveOccurred())

				again, isNew, err := ledger.Append(ctx, storer, content("a"))
				Expect(err).NotTo(HaveOccurred())
				Expect(isNew).To(BeFalse())
				Expect(again.Hash).To(Equal(first.Hash))

				records, err := storer.List(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(1))
			})

			It("chains a changed plan onto the head", func() {
				first, _, err := ledger.Append(ctx, storer, content("a"))
				Expect(err).NotTo(HaveOccurred())

				second, isNew, err := ledger.Append(ctx, storer, content("b"))
				Expect(err).NotTo(HaveOccurred())
				Expect(isNew).To(BeTrue())
				Expect(second.ParentHash).NotTo(BeNil())
				Expect(*second.ParentHash).To(Equal(first.Hash))

				head, err := storer.Head(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(head.Hash).To(Equal(second.Hash))
			})
		})
	})
}

var _ = Describe("Storers", func() {
	storerBehaviour("MemoryStorer", func() ledger.Storer {
		return ledger.NewMemoryStorer()
	})

	storerBehaviour("SQLiteStorer", func() ledger.Storer {
		s, err := ledger.NewSQLiteStorer(":memory:")
		Expect(err).NotTo(HaveOccurred())
		return s
	})
})

var _ = Describe("NewSQLiteStorer", func() {
	It("creates the database file and reopens it", func() {
		path := filepath.Join(GinkgoT().TempDir(), "ledger.db")

		s, err := ledger.NewSQLiteStorer(path)
		Expect(err).NotTo(HaveOccurred())
		r, _, err := ledger.Append(context.Background(), s, content("a"))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Close()).To(Succeed())

		_, err = os.Stat(path)
		Expect(err).NotTo(HaveOccurred())

		s, err = ledger.NewSQLiteStorer(path)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()

		head, err := s.Head(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(head.Hash).To(Equal(r.Hash))
	})
})
