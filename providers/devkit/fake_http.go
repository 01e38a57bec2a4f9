package devkit

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// HTTPScript is one canned reply. Err short-circuits the round trip.
type HTTPScript struct {
	Status int
	Body   string
	Header map[string]string
	Err    error
}

func JSON(status int, body string) HTTPScript {
	return HTTPScript{Status: status, Body: body, Header: map[string]string{"Content-Type": "application/json"}}
}

type RecordedRequest struct {
	Method string
	URL    string
	Path   string
	Query  url.Values
	Header http.Header
	Body   string
}

// FakeHTTP is a scripted http.RoundTripper. Routes match on method and the
// request URL without its query string. Each route replays its scripts in
// order and repeats the last one once exhausted. Unmatched requests get 404.
type FakeHTTP struct {
	mu       sync.Mutex
	routes   map[string][]HTTPScript
	served   map[string]int
	requests []RecordedRequest
}

func NewFakeHTTP() *FakeHTTP {
	return &FakeHTTP{
		routes: map[string][]HTTPScript{},
		served: map[string]int{},
	}
}

func (f *FakeHTTP) Handle(method string, target string, scripts ...HTTPScript) *FakeHTTP {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := routeKey(method, target)
	f.routes[key] = append(f.routes[key], scripts...)
	return f
}

func (f *FakeHTTP) Client() *http.Client {
	return &http.Client{Transport: f}
}

func (f *FakeHTTP) RoundTrip(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
		body = string(raw)
	}

	base := *req.URL
	base.RawQuery = ""
	key := routeKey(req.Method, base.String())

	f.mu.Lock()
	f.requests = append(f.requests, RecordedRequest{
		Method: req.Method,
		URL:    req.URL.String(),
		Path:   req.URL.Path,
		Query:  req.URL.Query(),
		Header: req.Header.Clone(),
		Body:   body,
	})
	scripts := f.routes[key]
	var script HTTPScript
	matched := len(scripts) > 0
	if matched {
		index := f.served[key]
		if index >= len(scripts) {
			index = len(scripts) - 1
		}
		script = scripts[index]
		f.served[key]++
	}
	f.mu.Unlock()

	if !matched {
		script = HTTPScript{Status: http.StatusNotFound, Body: `{"error":"devkit: no route for ` + key + `"}`}
	}
	if script.Err != nil {
		return nil, script.Err
	}
	status := script.Status
	if status == 0 {
		status = http.StatusOK
	}
	header := http.Header{}
	for name, value := range script.Header {
		header.Set(name, value)
	}
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(script.Body)),
		ContentLength: int64(len(script.Body)),
		Request:       req,
	}, nil
}

func (f *FakeHTTP) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

// RequestsTo filters recorded requests by path.
func (f *FakeHTTP) RequestsTo(path string) []RecordedRequest {
	out := []RecordedRequest{}
	for _, req := range f.Requests() {
		if req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

func routeKey(method string, target string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + strings.TrimSpace(target)
}

var _ http.RoundTripper = (*FakeHTTP)(nil)
