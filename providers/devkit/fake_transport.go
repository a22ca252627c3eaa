package devkit

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
)

type HTTPScript struct {
	StatusCode int
	Body       string
	Err        error
}

// FakeHTTPDoer replays scripted responses in order and repeats the last one
// once the script runs out.
type FakeHTTPDoer struct {
	mu       sync.Mutex
	scripts  []HTTPScript
	requests []*http.Request
}

func NewFakeHTTPDoer(scripts ...HTTPScript) *FakeHTTPDoer {
	return &FakeHTTPDoer{scripts: append([]HTTPScript(nil), scripts...)}
}

func (d *FakeHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	if d == nil {
		return nil, fmt.Errorf("devkit: fake http doer is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, req.Clone(req.Context()))
	script := HTTPScript{StatusCode: http.StatusOK, Body: "{}"}
	if index := len(d.requests) - 1; index < len(d.scripts) {
		script = d.scripts[index]
	} else if len(d.scripts) > 0 {
		script = d.scripts[len(d.scripts)-1]
	}
	if script.Err != nil {
		return nil, script.Err
	}
	status := script.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewBufferString(script.Body)),
		Request:    req,
	}, nil
}

func (d *FakeHTTPDoer) Requests() []*http.Request {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*http.Request(nil), d.requests...)
}
