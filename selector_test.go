package feedtines

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("Engine.Resolve", func() {
	var (
		ctx     context.Context
		logger  *log.Logger
		handler *memory.Handler
	)

	newEngine := func(doc string, opts ...Option) *Engine {
		return New(mustParseConfig(doc), append([]Option{WithLogger(logger)}, opts...)...)
	}

	providersYAML := func(urls ...string) string {
		var b strings.Builder
		b.WriteString("timeout: 2000\nproviders:\n")
		for _, u := range urls {
			fmt.Fprintf(&b, "  - %s\n", u)
		}
		return b.String()
	}

	BeforeEach(func() {
		ctx = context.Background()
		logger, handler = newTestLogger()
	})

	When("first provider succeeds", func() {
		It("does not contact later providers", func() {
			first := mockHTTPServer("first")
			defer first.Close()
			second := mockHTTPServer("second")
			defer second.Close()

			engine := newEngine(providersYAML(first.URL, second.URL))
			body, err := engine.Resolve(ctx, "cctv/xwlb")

			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("first"))
			Expect(first.requested()).To(Equal([]string{"/cctv/xwlb"}))
			Expect(second.hits.Load()).To(BeZero())
		})
	})

	When("providers 1..k-1 fail", func() {
		It("makes exactly k attempts in order", func() {
			var order []string
			track := func(name string, code int, body string) *mockServer {
				return newMockServer(func(w http.ResponseWriter, _ *http.Request) {
					order = append(order, name)
					w.WriteHeader(code)
					w.Write([]byte(body))
				})
			}

			p1 := track("p1", http.StatusInternalServerError, "")
			defer p1.Close()
			p2 := track("p2", http.StatusNotFound, "")
			defer p2.Close()
			p3 := track("p3", http.StatusOK, "third")
			defer p3.Close()
			p4 := track("p4", http.StatusOK, "fourth")
			defer p4.Close()

			engine := newEngine(providersYAML(refusedURL(), p1.URL, p2.URL, p3.URL, p4.URL))
			body, err := engine.Resolve(ctx, "feed")

			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("third"))
			Expect(order).To(Equal([]string{"p1", "p2", "p3"}))
			Expect(logEntries(handler, log.InfoLevel, "trying provider")).To(HaveLen(4))
			Expect(logEntries(handler, log.ErrorLevel, "failed to fetch from provider")).To(HaveLen(3))
			Expect(logEntries(handler, log.InfoLevel, "fetched from provider")).To(HaveLen(1))
		})
	})

	When("every provider fails", func() {
		It("returns AllProvidersFailedError", func() {
			bad := mockStatusServer(http.StatusBadGateway)
			defer bad.Close()

			engine := newEngine(providersYAML(refusedURL(), bad.URL))
			_, err := engine.Resolve(ctx, "feed")

			var af *AllProvidersFailedError
			Expect(errors.As(err, &af)).To(BeTrue())
			Expect(af.Attempts).To(Equal(2))
			Expect(af.Path).To(Equal("feed"))
			Expect(logEntries(handler, log.ErrorLevel, "all enabled providers failed")).To(HaveLen(1))
		})
	})

	When("no provider is enabled", func() {
		It("returns ErrNoEnabledProviders without network attempts", func() {
			s := mockHTTPServer("never")
			defer s.Close()

			engine := newEngine(fmt.Sprintf("providers:\n  - url: %s\n    enabled: false\n", s.URL))
			_, err := engine.Resolve(ctx, "feed")

			Expect(err).To(MatchError(ErrNoEnabledProviders))
			Expect(s.hits.Load()).To(BeZero())
		})

		It("refuses an empty provider list", func() {
			engine := newEngine("providers: []\n")
			_, err := engine.Resolve(ctx, "feed")
			Expect(err).To(MatchError(ErrNoEnabledProviders))
		})
	})

	Describe("tunneling decision", func() {
		var (
			proxy  *mockProxy
			secure *mockServer
		)

		BeforeEach(func() {
			proxy = newMockProxy()
			secure = mockTLSServer("secure")
		})

		AfterEach(func() {
			secure.Close()
			proxy.Close()
		})

		It("applies the global setting to bare providers", func() {
			engine := newEngine(proxyYAML(proxy, true)+"providers:\n  - "+secure.URL+"\n", WithTLSConfig(trustingTLS(secure)))

			_, err := engine.Resolve(ctx, "feed")
			Expect(err).NotTo(HaveOccurred())
			Expect(proxy.connects.Load()).To(Equal(int32(1)))
		})

		It("lets a structured provider turn tunneling on", func() {
			doc := proxyYAML(proxy, false) + fmt.Sprintf("providers:\n  - url: %s\n    useProxy: true\n", secure.URL)
			engine := newEngine(doc, WithTLSConfig(trustingTLS(secure)))

			_, err := engine.Resolve(ctx, "feed")
			Expect(err).NotTo(HaveOccurred())
			Expect(proxy.connects.Load()).To(Equal(int32(1)))
		})

		It("lets a structured provider turn tunneling off", func() {
			doc := proxyYAML(proxy, true) + fmt.Sprintf("providers:\n  - url: %s\n    useProxy: false\n", secure.URL)
			engine := newEngine(doc, WithTLSConfig(trustingTLS(secure)))

			_, err := engine.Resolve(ctx, "feed")
			Expect(err).NotTo(HaveOccurred())
			Expect(proxy.connects.Load()).To(BeZero())
		})

		It("never tunnels a plaintext provider", func() {
			plain := mockHTTPServer("plain")
			defer plain.Close()

			doc := proxyYAML(proxy, false) + fmt.Sprintf("providers:\n  - url: %s\n    useProxy: true\n", plain.URL)
			engine := newEngine(doc)

			body, err := engine.Resolve(ctx, "feed")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("plain"))
			Expect(proxy.connects.Load()).To(BeZero())
		})

		It("fails over when the proxy refuses the tunnel", func() {
			refusing := newRefusingProxy(http.StatusBadGateway)
			defer refusing.Close()

			fallback := mockHTTPServer("fallback")
			defer fallback.Close()

			doc := proxyYAML(refusing, true) + "providers:\n  - " + secure.URL + "\n  - " + fallback.URL + "\n"
			engine := newEngine(doc, WithTLSConfig(trustingTLS(secure)))

			body, err := engine.Resolve(ctx, "feed")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("fallback"))
			Expect(refusing.connects.Load()).To(Equal(int32(1)))
			Expect(secure.hits.Load()).To(BeZero())
		})
	})

	It("records provider statistics", func() {
		s := mockHTTPServer("ok")
		defer s.Close()
		failing := refusedURL()

		engine := newEngine(providersYAML(failing, s.URL))
		_, err := engine.Resolve(ctx, "feed")
		Expect(err).NotTo(HaveOccurred())

		Expect(engine.stat.provider(failing).negative).To(Equal(1))
		Expect(engine.stat.provider(s.URL).positive).To(Equal(1))
	})
})
