package queue

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MemoryQueue", func() {
	var (
		q   *MemoryQueue
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		q = NewMemoryQueue(50 * time.Millisecond)
	})

	It("delivers jobs in order", func() {
		Expect(q.Enqueue(ctx, testJob("a"))).To(Succeed())
		Expect(q.Enqueue(ctx, testJob("b"))).To(Succeed())

		first, err := q.Receive(ctx)
		Expect(err).NotTo(HaveOccurred())
		second, err := q.Receive(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(first.Job.JobID).To(Equal("a"))
		Expect(second.Job.JobID).To(Equal("b"))
		Expect(first.Redelivered).To(BeFalse())
	})

	When("a delivery is acknowledged", func() {
		It("is never delivered again", func() {
			Expect(q.Enqueue(ctx, testJob("a"))).To(Succeed())
			d, err := q.Receive(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(q.Ack(ctx, d)).To(Succeed())

			Consistently(q.Len, 150*time.Millisecond).Should(BeZero())
			Expect(q.InFlight()).To(BeZero())
		})
	})

	When("a delivery is not acknowledged", func() {
		It("is redelivered after the visibility timeout", func() {
			Expect(q.Enqueue(ctx, testJob("a"))).To(Succeed())
			_, err := q.Receive(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(q.Len()).To(BeZero())

			recvCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			again, err := q.Receive(recvCtx)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Job.JobID).To(Equal("a"))
			Expect(again.Redelivered).To(BeTrue())
		})
	})

	When("an expired delivery is acknowledged late", func() {
		var (
			clock time.Time
			first *Delivery
		)

		BeforeEach(func() {
			clock = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
			q.now = func() time.Time { return clock }
			Expect(q.Enqueue(ctx, testJob("a"))).To(Succeed())
			var err error
			first, err = q.Receive(ctx)
			Expect(err).NotTo(HaveOccurred())
			clock = clock.Add(time.Minute)
		})

		It("does not drop the newer delivery", func() {
			second, err := q.Receive(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Redelivered).To(BeTrue())

			Expect(q.Ack(ctx, first)).To(Succeed())
			Expect(q.InFlight()).To(Equal(1))

			clock = clock.Add(time.Minute)
			third, err := q.Receive(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(third.Job.JobID).To(Equal("a"))

			Expect(q.Ack(ctx, second)).To(Succeed())
			Expect(q.InFlight()).To(Equal(1))
			Expect(q.Ack(ctx, third)).To(Succeed())
			Expect(q.InFlight()).To(BeZero())
			Expect(q.Len()).To(BeZero())
		})

		It("removes a message that was not handed out again", func() {
			Expect(q.Len()).To(Equal(1))
			Expect(q.Ack(ctx, first)).To(Succeed())
			Expect(q.Len()).To(BeZero())
			Expect(q.InFlight()).To(BeZero())
		})
	})

	When("the queue is empty", func() {
		It("blocks until the context ends", func() {
			recvCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err := q.Receive(recvCtx)
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})

		It("wakes up when a job arrives", func() {
			got := make(chan *Delivery, 1)
			go func() {
				defer GinkgoRecover()
				d, err := q.Receive(ctx)
				Expect(err).NotTo(HaveOccurred())
				got <- d
			}()
			Expect(q.Enqueue(ctx, testJob("late"))).To(Succeed())
			Eventually(got).Should(Receive(HaveField("Job.JobID", "late")))
		})
	})
})
