package resilience_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/jp-go-newyear/internal/resilience"
)

var errUnavailable = errors.New("service unavailable")

var _ = Describe("Retry", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		calls  atomic.Int32
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		calls.Store(0)
	})

	AfterEach(func() {
		cancel()
	})

	failing := func(err error) resilience.Operation[string] {
		return func(ctx context.Context) (string, error) {
			calls.Add(1)
			return "", err
		}
	}

	Describe("defaults", func() {
		It("allows three retries starting at one second", func() {
			config := resilience.DefaultRetryConfig()
			Expect(config.MaxRetries).To(Equal(3))
			Expect(config.InitialDelay).To(Equal(time.Second))
			Expect(config.ErrorClassifier).To(Equal(resilience.RetryAllClassifier{}))
		})
	})

	Context("successful operation", func() {
		It("attempts exactly once and returns the value unchanged", func() {
			value := &struct{ n int }{n: 7}
			got, err := resilience.Retry(ctx, func(ctx context.Context) (*struct{ n int }, error) {
				calls.Add(1)
				return value, nil
			}, resilience.WithInitialDelay(time.Millisecond), resilience.WithRetryLogger(quietLogger()))

			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeIdenticalTo(value))
			Expect(calls.Load()).To(Equal(int32(1)))
		})
	})

	Context("permanently failing operation", func() {
		DescribeTable("makes maxRetries+1 attempts and returns the original error",
			func(maxRetries int) {
				_, err := resilience.Retry(ctx, failing(errUnavailable),
					resilience.WithMaxRetries(maxRetries),
					resilience.WithInitialDelay(time.Millisecond),
					resilience.WithRetryLogger(quietLogger()),
				)

				Expect(err).To(BeIdenticalTo(errUnavailable))
				Expect(calls.Load()).To(Equal(int32(maxRetries + 1)))
			},
			Entry("no retries", 0),
			Entry("one retry", 1),
			Entry("default budget", 3),
			Entry("five retries", 5),
		)

		It("does not wrap the error when there are no retries", func() {
			original := resilience.NewStatusCodeError(500, errors.New("boom"))

			_, err := resilience.Retry(ctx, failing(original),
				resilience.WithMaxRetries(0),
				resilience.WithRetryLogger(quietLogger()),
			)

			Expect(err).To(BeIdenticalTo(original))
			Expect(calls.Load()).To(Equal(int32(1)))
		})
	})

	Context("operation that recovers", func() {
		It("succeeds on the fourth attempt with three retries", func() {
			got, err := resilience.Retry(ctx, func(ctx context.Context) (string, error) {
				if calls.Add(1) < 4 {
					return "", errUnavailable
				}
				return "happy new year", nil
			},
				resilience.WithMaxRetries(3),
				resilience.WithInitialDelay(time.Millisecond),
				resilience.WithRetryLogger(quietLogger()),
			)

			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal("happy new year"))
			Expect(calls.Load()).To(Equal(int32(4)))
		})
	})

	Describe("backoff", func() {
		It("doubles the delay before every retry without jitter", func() {
			var (
				mu      sync.Mutex
				delays  []time.Duration
				retries []int
			)
			initial := 2 * time.Millisecond

			_, _ = resilience.Retry(ctx, failing(errUnavailable),
				resilience.WithMaxRetries(4),
				resilience.WithInitialDelay(initial),
				resilience.WithRetryLogger(quietLogger()),
				resilience.WithDelayObserver(func(retry int, delay time.Duration) {
					mu.Lock()
					defer mu.Unlock()
					retries = append(retries, retry)
					delays = append(delays, delay)
				}),
			)

			Expect(retries).To(Equal([]int{1, 2, 3, 4}))
			for k, delay := range delays {
				Expect(delay).To(Equal(initial * time.Duration(1<<k)))
			}
		})

		It("actually waits between attempts", func() {
			start := time.Now()
			_, _ = resilience.Retry(ctx, failing(errUnavailable),
				resilience.WithMaxRetries(2),
				resilience.WithInitialDelay(20*time.Millisecond),
				resilience.WithRetryLogger(quietLogger()),
			)

			// 20ms + 40ms
			Expect(time.Since(start)).To(BeNumerically(">=", 60*time.Millisecond))
		})

		It("starts a fresh budget for every call", func() {
			var observed []int
			opts := []resilience.RetryOption{
				resilience.WithMaxRetries(1),
				resilience.WithInitialDelay(time.Millisecond),
				resilience.WithRetryLogger(quietLogger()),
				resilience.WithDelayObserver(func(retry int, _ time.Duration) {
					observed = append(observed, retry)
				}),
			}

			_, _ = resilience.Retry(ctx, failing(errUnavailable), opts...)
			_, _ = resilience.Retry(ctx, failing(errUnavailable), opts...)

			Expect(calls.Load()).To(Equal(int32(4)))
			Expect(observed).To(Equal([]int{1, 1}))
		})
	})

	Context("non-retryable errors", func() {
		It("gives up after the first attempt", func() {
			original := resilience.NewStatusCodeError(400, errors.New("bad request"))

			_, err := resilience.Retry(ctx, failing(original),
				resilience.WithMaxRetries(3),
				resilience.WithInitialDelay(time.Millisecond),
				resilience.WithErrorClassifier(resilience.NewHTTPStatusClassifier()),
				resilience.WithRetryLogger(quietLogger()),
			)

			Expect(err).To(BeIdenticalTo(original))
			Expect(calls.Load()).To(Equal(int32(1)))
		})
	})

	Context("invalid configuration", func() {
		It("rejects a negative retry budget without calling the operation", func() {
			_, err := resilience.Retry(ctx, failing(errUnavailable),
				resilience.WithMaxRetries(-1),
				resilience.WithRetryLogger(quietLogger()),
			)

			Expect(err).To(MatchError(resilience.ErrInvalidRetryConfig))
			Expect(calls.Load()).To(BeZero())
		})

		It("rejects a non-positive initial delay", func() {
			_, err := resilience.Retry(ctx, failing(errUnavailable),
				resilience.WithInitialDelay(0),
				resilience.WithRetryLogger(quietLogger()),
			)

			Expect(err).To(MatchError(resilience.ErrInvalidRetryConfig))
			Expect(calls.Load()).To(BeZero())
		})
	})

	Context("context cancellation", func() {
		It("returns immediately when the context is already done", func() {
			canceled, cancelNow := context.WithCancel(context.Background())
			cancelNow()

			_, err := resilience.Retry(canceled, failing(errUnavailable),
				resilience.WithRetryLogger(quietLogger()),
			)

			Expect(err).To(Equal(context.Canceled))
			Expect(calls.Load()).To(BeZero())
		})

		It("stops waiting when the context is canceled during backoff", func() {
			short, shortCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer shortCancel()

			_, err := resilience.Retry(short, failing(errUnavailable),
				resilience.WithMaxRetries(3),
				resilience.WithInitialDelay(time.Second),
				resilience.WithRetryLogger(quietLogger()),
			)

			Expect(err).To(Equal(context.DeadlineExceeded))
			Expect(calls.Load()).To(Equal(int32(1)))
		})
	})
})

var _ = Describe("RetryWrapper", func() {
	var (
		ctx    context.Context
		client *stubService
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &stubService{}
	})

	It("tracks statistics across calls", func() {
		attempt := 0
		client.respond = func(ctx context.Context, req string) (string, error) {
			attempt++
			if attempt < 3 {
				return "", errUnavailable
			}
			return "ok:" + req, nil
		}

		wrapper := resilience.NewRetryWrapper[string, string](
			client,
			resilience.WithMaxRetries(3),
			resilience.WithInitialDelay(time.Millisecond),
			resilience.WithRetryLogger(quietLogger()),
		)

		resp, err := wrapper.Execute(ctx, "poster")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp).To(Equal("ok:poster"))
		Expect(client.Calls()).To(Equal(3))

		stats := wrapper.GetRetryStats()
		Expect(stats.TotalAttempts).To(Equal(int64(3)))
		Expect(stats.TotalRetries).To(Equal(int64(2)))
		Expect(stats.TotalSuccesses).To(Equal(int64(1)))
		Expect(stats.TotalFailures).To(BeZero())
		Expect(stats.LastAttemptTime).NotTo(BeZero())
	})

	It("records the propagated error on exhaustion", func() {
		client.respond = func(ctx context.Context, req string) (string, error) {
			return "", errUnavailable
		}

		wrapper := resilience.NewRetryWrapper[string, string](
			client,
			resilience.WithMaxRetries(1),
			resilience.WithInitialDelay(time.Millisecond),
			resilience.WithRetryLogger(quietLogger()),
		)

		_, err := wrapper.Execute(ctx, "speech")
		Expect(err).To(BeIdenticalTo(errUnavailable))

		stats := wrapper.GetRetryStats()
		Expect(stats.TotalAttempts).To(Equal(int64(2)))
		Expect(stats.TotalFailures).To(Equal(int64(1)))
		Expect(stats.LastError).To(BeIdenticalTo(errUnavailable))
	})

	It("accepts a plain function through ClientFunc", func() {
		wrapper := resilience.NewRetryWrapper[int, int](
			resilience.ClientFunc[int, int](func(ctx context.Context, n int) (int, error) {
				return n * 2, nil
			}),
			resilience.WithRetryLogger(quietLogger()),
		)

		got, err := wrapper.Execute(ctx, 21)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(42))
	})
})
