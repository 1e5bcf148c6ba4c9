package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JohnPlummer/jp-go-newyear/internal/gemini"
	"github.com/JohnPlummer/jp-go-newyear/internal/geo"
	"github.com/JohnPlummer/jp-go-newyear/internal/metrics"
	"github.com/JohnPlummer/jp-go-newyear/internal/resilience"
	"github.com/JohnPlummer/jp-go-newyear/internal/server"
)

var lastSecond = time.Date(2026, time.December, 31, 23, 59, 59, 0, time.UTC)

func post(url, body string) *http.Response {
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func get(url string) *http.Response {
	resp, err := http.Get(url)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func decode(resp *http.Response) map[string]any {
	defer resp.Body.Close()
	out := map[string]any{}
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return out
}

func expectError(resp *http.Response, status int, msg string) {
	Expect(resp.StatusCode).To(Equal(status))
	Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
	Expect(decode(resp)).To(Equal(map[string]any{"error": msg}))
}

var _ = Describe("Server", func() {
	var (
		ai  *fakeAI
		m   *metrics.Metrics
		srv *server.Server
		ts  *httptest.Server
	)

	BeforeEach(func() {
		ai = newFakeAI()
		m = metrics.New(prometheus.NewRegistry())
		srv = server.New(ai, server.Config{
			Host:              "JAPS",
			Location:          time.UTC,
			CountdownInterval: 10 * time.Millisecond,
		},
			server.WithLogger(quietLogger()),
			server.WithMetrics(m),
			server.WithClock(func() time.Time { return lastSecond }),
		)
		ts = httptest.NewServer(srv.Handler())
	})

	AfterEach(func() {
		srv.Close()
		ts.Close()
	})

	Describe("request IDs", func() {
		It("generates one when the client sends none", func() {
			resp := get(ts.URL + "/api/countdown")
			defer resp.Body.Close()

			_, err := uuid.Parse(resp.Header.Get(server.RequestIDHeader))
			Expect(err).NotTo(HaveOccurred())
		})

		It("echoes the client's ID", func() {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
			req.Header.Set(server.RequestIDHeader, "abc-123")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.Header.Get(server.RequestIDHeader)).To(Equal("abc-123"))
		})
	})

	Describe("POST /api/greeting", func() {
		It("returns the generated message", func() {
			ai.greeting = func(recipient string, tone gemini.Tone) (string, error) {
				Expect(recipient).To(Equal("Ana"))
				Expect(tone).To(Equal(gemini.TonePoetic))
				return "Stars for Ana ✨", nil
			}

			resp := post(ts.URL+"/api/greeting", `{"recipient":" Ana ","tone":"Poetic"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)).To(Equal(map[string]any{"message": "Stars for Ana ✨"}))
		})

		DescribeTable("rejects bad input without calling the service",
			func(body, msg string) {
				expectError(post(ts.URL+"/api/greeting", body), http.StatusBadRequest, msg)
				Expect(ai.Calls()).To(BeEmpty())
			},
			Entry("malformed JSON", `{"recipient":`, server.MsgInvalidBody),
			Entry("missing recipient", `{"tone":"bold"}`, server.MsgMissingRecipient),
			Entry("unknown tone", `{"recipient":"Ana","tone":"grumpy"}`, "Tone must be one of inspiring, funny, poetic, bold."),
		)

		It("answers 502 with a readable message when the service gives up", func() {
			ai.greeting = func(string, gemini.Tone) (string, error) {
				return "", resilience.NewStatusCodeError(http.StatusServiceUnavailable, errors.New("overloaded"))
			}

			expectError(post(ts.URL+"/api/greeting", `{"recipient":"Ana"}`), http.StatusBadGateway, server.MsgGreetingFailed)
		})

		It("answers 400 when the client rejects the input", func() {
			ai.greeting = func(string, gemini.Tone) (string, error) {
				return "", gemini.ErrEmptyRecipient
			}

			expectError(post(ts.URL+"/api/greeting", `{"recipient":"Ana"}`), http.StatusBadRequest, server.MsgGreetingFailed)
		})
	})

	Describe("POST /api/poster", func() {
		It("builds the poster prompt for the coming year", func() {
			ai.image = func(prompt string) (string, bool, error) {
				Expect(prompt).To(Equal("A stunning New Year 2027 celebration poster for Ana, tone: bold"))
				return "data:image/png;base64,AAAA", true, nil
			}

			resp := post(ts.URL+"/api/poster", `{"recipient":"Ana","tone":"bold"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)).To(HaveKeyWithValue("image", "data:image/png;base64,AAAA"))
		})

		It("treats a missing image as a failure the user can see", func() {
			ai.image = func(string) (string, bool, error) { return "", false, nil }

			expectError(post(ts.URL+"/api/poster", `{"recipient":"Ana"}`), http.StatusBadGateway, server.MsgPosterFailed)
		})

		It("reports service errors", func() {
			ai.image = func(string) (string, bool, error) { return "", false, errors.New("down") }

			expectError(post(ts.URL+"/api/poster", `{"recipient":"Ana"}`), http.StatusBadGateway, server.MsgPosterFailed)
		})
	})

	Describe("POST /api/speech", func() {
		It("returns a WAV file", func() {
			pcm := make([]byte, 4800)
			ai.speech = func(text, voice string) ([]byte, bool, error) {
				Expect(text).To(Equal("Happy New Year"))
				Expect(voice).To(Equal("Puck"))
				return pcm, true, nil
			}

			resp := post(ts.URL+"/api/speech", `{"text":"Happy New Year","voice":"Puck"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("audio/wav"))
			Expect(resp.Header.Get("X-Audio-Duration")).To(Equal("0.100"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(HaveLen(44 + len(pcm)))
			Expect(bytes.HasPrefix(body, []byte("RIFF"))).To(BeTrue())
		})

		It("answers 204 when nothing was synthesised", func() {
			ai.speech = func(string, string) ([]byte, bool, error) { return nil, false, nil }

			resp := post(ts.URL+"/api/speech", `{"text":"Hi"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})

		It("rejects empty text", func() {
			expectError(post(ts.URL+"/api/speech", `{"text":"  "}`), http.StatusBadRequest, server.MsgMissingText)
		})

		It("reports a payload that is not whole samples", func() {
			ai.speech = func(string, string) ([]byte, bool, error) { return []byte{1, 2, 3}, true, nil }

			expectError(post(ts.URL+"/api/speech", `{"text":"Hi"}`), http.StatusBadGateway, server.MsgSpeechFailed)
		})
	})

	Describe("POST /api/events", func() {
		It("reports geolocation failures without calling the service", func() {
			resp := post(ts.URL+"/api/events", `{"error_code":1}`)
			expectError(resp, http.StatusUnprocessableEntity, geo.Message(geo.ErrDenied))
			Expect(ai.Calls()).To(BeEmpty())
		})

		It("returns grounded events", func() {
			ai.events = func(lat, lng float64) (gemini.EventsResult, error) {
				Expect(lat).To(Equal(38.72))
				Expect(lng).To(Equal(-9.14))
				return gemini.EventsResult{
					Text:  "Fireworks by the river.",
					Links: []gemini.GroundingLink{{URI: "https://maps.example/a", Title: "Riverside"}},
				}, nil
			}

			resp := post(ts.URL+"/api/events", `{"latitude":38.72,"longitude":-9.14}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body := decode(resp)
			Expect(body).To(HaveKeyWithValue("text", "Fireworks by the river."))
			Expect(body["links"]).To(HaveLen(1))
		})

		It("always returns a links array", func() {
			ai.events = func(float64, float64) (gemini.EventsResult, error) { return gemini.EventsResult{}, nil }

			resp := post(ts.URL+"/api/events", `{"latitude":1,"longitude":2}`)
			Expect(decode(resp)).To(HaveKeyWithValue("links", BeEmpty()))
		})

		It("reports service failures", func() {
			ai.events = func(float64, float64) (gemini.EventsResult, error) {
				return gemini.EventsResult{}, errors.New("restricted")
			}

			expectError(post(ts.URL+"/api/events", `{"latitude":1,"longitude":2}`), http.StatusBadGateway, server.MsgEventsFailed)
		})
	})

	Describe("GET /api/countdown", func() {
		It("reports the remaining time", func() {
			body := decode(get(ts.URL + "/api/countdown"))
			Expect(body).To(HaveKeyWithValue("days", BeNumerically("==", 0)))
			Expect(body).To(HaveKeyWithValue("hours", BeNumerically("==", 0)))
			Expect(body).To(HaveKeyWithValue("minutes", BeNumerically("==", 0)))
			Expect(body).To(HaveKeyWithValue("seconds", BeNumerically("==", 1)))
			Expect(body).To(HaveKeyWithValue("state", "counting"))
			Expect(body).To(HaveKeyWithValue("target", "2027-01-01T00:00:00Z"))
		})
	})

	Describe("GET /api/calendar", func() {
		It("links the celebration on December 31", func() {
			body := decode(get(ts.URL + "/api/calendar"))
			Expect(body).To(HaveKeyWithValue("title", "New Year Countdown 2027 Celebration"))
			Expect(body["url"]).To(ContainSubstring("dates=20261231T200000Z%2F20270101T040000Z"))
		})
	})

	Describe("GET /healthz", func() {
		It("includes the breaker status", func() {
			body := decode(get(ts.URL + "/healthz"))
			Expect(body).To(HaveKeyWithValue("status", "ok"))
			Expect(body["breaker"]).To(HaveKeyWithValue("status", "disabled"))
		})

		It("is degraded while the breaker is open", func() {
			ai.health = resilience.HealthStatus{Healthy: false, Status: "open"}

			body := decode(get(ts.URL + "/healthz"))
			Expect(body).To(HaveKeyWithValue("status", "degraded"))
		})
	})

	Describe("GET /metrics", func() {
		It("counts requests by route and status", func() {
			get(ts.URL + "/healthz").Body.Close()

			resp := get(ts.URL + "/metrics")
			defer resp.Body.Close()
			out, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(out)).To(ContainSubstring(`newyear_http_requests_total{code="200",route="GET /healthz"} 1`))
		})
	})

	Describe("GET /ws/countdown", func() {
		wsURL := func() string {
			return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/countdown"
		}

		It("streams snapshots until the server closes", func() {
			Expect(srv.StartCountdown(context.Background())).To(Succeed())

			conn, _, err := websocket.DefaultDialer.Dial(wsURL(), nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			for range 3 {
				var snap map[string]any
				Expect(conn.ReadJSON(&snap)).To(Succeed())
				Expect(snap).To(HaveKeyWithValue("seconds", BeNumerically("==", 1)))
			}
			Eventually(func() map[string]any {
				return decode(get(ts.URL + "/healthz"))
			}).Should(HaveKeyWithValue("subscribers", BeNumerically("==", 1)))

			srv.Close()

			Eventually(func() error {
				_, _, err := conn.ReadMessage()
				return err
			}).Should(HaveOccurred())
		})

		It("refuses new streams after Close", func() {
			srv.Close()

			_, resp, err := websocket.DefaultDialer.Dial(wsURL(), nil)
			Expect(err).To(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
		})
	})
})

var _ = Describe("Server with the generative AI client", func() {
	It("turns an exhausted retry budget into a 502", func() {
		upstream := ghttp.NewServer()
		defer upstream.Close()
		for range 4 {
			upstream.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, `{"error":{"message":"busy"}}`))
		}

		client, err := gemini.New(gemini.Config{APIKey: "k", BaseURL: upstream.URL()},
			gemini.WithLogger(quietLogger()),
			gemini.WithRetryOptions(resilience.WithInitialDelay(time.Millisecond)),
		)
		Expect(err).NotTo(HaveOccurred())

		srv := server.New(client, server.Config{}, server.WithLogger(quietLogger()))
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()
		defer srv.Close()

		expectError(post(ts.URL+"/api/greeting", `{"recipient":"JAPS"}`), http.StatusBadGateway, server.MsgGreetingFailed)
		Expect(upstream.ReceivedRequests()).To(HaveLen(4))
	})
})

var _ = Describe("write timeout", func() {
	const writeTimeout = 200 * time.Millisecond

	var (
		ai  *fakeAI
		srv *server.Server
		ts  *httptest.Server
	)

	BeforeEach(func() {
		ai = newFakeAI()
		ai.greeting = func(string, gemini.Tone) (string, error) {
			return "", resilience.NewStatusCodeError(http.StatusServiceUnavailable, errors.New("overloaded"))
		}
		srv = server.New(ai, server.Config{
			Host:         "JAPS",
			Location:     time.UTC,
			WriteTimeout: writeTimeout,
		}, server.WithLogger(quietLogger()))

		ts = httptest.NewUnstartedServer(srv.Handler())
		ts.Config.WriteTimeout = writeTimeout
		ts.Start()
	})

	AfterEach(func() {
		srv.Close()
		ts.Close()
	})

	It("still writes the error body when the service outlasts the timeout", func() {
		ai.stall = 2 * writeTimeout

		expectError(post(ts.URL+"/api/greeting", `{"recipient":"Ana"}`), http.StatusBadGateway, server.MsgGreetingFailed)
		Expect(ai.Calls()).To(Equal([]string{gemini.OpGreeting}))
	})

	It("leaves quick answers alone", func() {
		ai.greeting = func(string, gemini.Tone) (string, error) {
			return "Cheers!", nil
		}

		resp := post(ts.URL+"/api/greeting", `{"recipient":"Ana"}`)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(decode(resp)).To(Equal(map[string]any{"message": "Cheers!"}))
	})
})
