package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/jp-go-newyear/internal/resilience"
)

var _ = Describe("Error classification", func() {
	Describe("RetryAllClassifier", func() {
		classifier := resilience.RetryAllClassifier{}

		It("retries arbitrary service failures", func() {
			Expect(classifier.IsRetryable(errors.New("anything"))).To(BeTrue())
			Expect(classifier.IsRetryable(resilience.NewStatusCodeError(400, errors.New("bad")))).To(BeTrue())
		})

		It("does not retry circuit breaker refusals", func() {
			refusal := fmt.Errorf("%w: circuit open", resilience.ErrCircuitOpen)
			Expect(classifier.IsRetryable(refusal)).To(BeFalse())
			Expect(resilience.NewHTTPStatusClassifier().IsRetryable(refusal)).To(BeFalse())
		})

		It("does not retry finished contexts", func() {
			Expect(classifier.IsRetryable(context.Canceled)).To(BeFalse())
			Expect(classifier.IsRetryable(fmt.Errorf("call: %w", context.DeadlineExceeded))).To(BeFalse())
		})

		It("ignores nil", func() {
			Expect(classifier.IsRetryable(nil)).To(BeFalse())
		})
	})

	Describe("HTTPStatusClassifier", func() {
		var classifier *resilience.HTTPStatusClassifier

		BeforeEach(func() {
			classifier = resilience.NewHTTPStatusClassifier()
		})

		DescribeTable("IsRetryable by status",
			func(code int, expected bool) {
				err := resilience.NewStatusCodeError(code, errors.New("status"))
				Expect(classifier.IsRetryable(err)).To(Equal(expected))
			},
			Entry("429 rate limit", 429, true),
			Entry("500", 500, true),
			Entry("503", 503, true),
			Entry("400", 400, false),
			Entry("401", 401, false),
			Entry("404", 404, false),
		)

		It("retries rate-limit and timeout errors", func() {
			Expect(classifier.IsRetryable(pkgerrors.ErrRateLimited)).To(BeTrue())
			Expect(classifier.IsRetryable(
				pkgerrors.NewTimeoutError("generate content timed out", "generateContent", 5*time.Second),
			)).To(BeTrue())
		})

		It("retries network errors without a status", func() {
			Expect(classifier.IsRetryable(errors.New("connection reset"))).To(BeTrue())
		})

		It("never retries context errors", func() {
			Expect(classifier.IsRetryable(context.DeadlineExceeded)).To(BeFalse())
		})

		DescribeTable("ShouldTripCircuit",
			func(err error, expected bool) {
				Expect(classifier.ShouldTripCircuit(err)).To(Equal(expected))
			},
			Entry("auth failure", resilience.NewStatusCodeError(403, errors.New("forbidden")), true),
			Entry("server failure", resilience.NewStatusCodeError(502, errors.New("bad gateway")), true),
			Entry("rate limit", fmt.Errorf("quota: %w", pkgerrors.ErrRateLimited), false),
			Entry("client error", resilience.NewStatusCodeError(400, errors.New("bad")), false),
			Entry("unknown", errors.New("???"), true),
			Entry("nil", nil, false),
		)
	})

	Describe("ClassifierByName", func() {
		It("resolves the known names", func() {
			all, err := resilience.ClassifierByName("all")
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(Equal(resilience.RetryAllClassifier{}))

			byDefault, err := resilience.ClassifierByName("")
			Expect(err).NotTo(HaveOccurred())
			Expect(byDefault).To(Equal(resilience.RetryAllClassifier{}))

			http, err := resilience.ClassifierByName("http")
			Expect(err).NotTo(HaveOccurred())
			Expect(http).To(BeAssignableToTypeOf(&resilience.HTTPStatusClassifier{}))
		})

		It("rejects anything else", func() {
			_, err := resilience.ClassifierByName("fibonacci")
			Expect(err).To(MatchError(ContainSubstring("unknown retry classifier")))
		})
	})

	Describe("StatusCodeError", func() {
		It("exposes the status and unwraps to the cause", func() {
			cause := errors.New("quota exhausted")
			err := resilience.NewStatusCodeError(429, cause)

			var httpErr resilience.HTTPError
			Expect(errors.As(err, &httpErr)).To(BeTrue())
			Expect(httpErr.StatusCode()).To(Equal(429))
			Expect(errors.Is(err, cause)).To(BeTrue())
			Expect(err.Error()).To(Equal("quota exhausted"))
		})
	})
})
