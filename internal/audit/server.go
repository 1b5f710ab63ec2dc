package audit

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

// pageServer serves the original and rewritten variants of one page on a
// loopback listener so headless Chrome can load them over plain HTTP.
type pageServer struct {
	srv *http.Server
	ln  net.Listener
}

// newPageServer binds a loopback port and serves /original and /rewritten.
// baseURL is injected as a <base> element so relative image URLs in the page
// resolve against the real origin.
func newPageServer(original, rewritten, baseURL string, logger *log.Entry) (*pageServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	mux := http.NewServeMux()
	serve := func(markup string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, withBase(markup, baseURL))
		}
	}
	mux.HandleFunc("/original", serve(original))
	mux.HandleFunc("/rewritten", serve(rewritten))

	ps := &pageServer{
		srv: &http.Server{Handler: withLogging(logger, mux)},
		ln:  ln,
	}
	go ps.srv.Serve(ln)
	return ps, nil
}

func (p *pageServer) url(path string) string {
	return "http://" + p.ln.Addr().String() + path
}

func (p *pageServer) close() {
	p.srv.Close()
}

// withBase ensures the document resolves relative references against baseURL.
func withBase(markup, baseURL string) string {
	if baseURL == "" {
		return markup
	}
	base := `<base href="` + baseURL + `">`
	lower := strings.ToLower(markup)
	if i := strings.Index(lower, "<head>"); i >= 0 {
		return markup[:i+len("<head>")] + base + markup[i+len("<head>"):]
	}
	return "<html><head>" + base + "</head><body>" + markup + "</body></html>"
}

func withLogging(logger *log.Entry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"from":   r.RemoteAddr,
		}).Debug("page request")
		next.ServeHTTP(w, r)
	})
}
