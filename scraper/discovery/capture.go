package discovery

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"rental-ingest/utils"
)

type capturedRequest struct {
	url     string
	method  string
	headers map[string]string
	body    string
	json    bool
}

// capture follows the network events of one tab and keeps the JSON
// responses that contain listings. Event handlers never block: bodies are
// fetched on their own goroutines.
type capture struct {
	fetchBody func(id network.RequestID) ([]byte, error)
	maxBody   int
	logger    utils.Logger

	mu         sync.Mutex
	requests   map[network.RequestID]*capturedRequest
	candidates []Candidate
	responses  int
	wg         sync.WaitGroup
}

func newCapture(fetchBody func(network.RequestID) ([]byte, error), maxBody int, logger utils.Logger) *capture {
	return &capture{
		fetchBody: fetchBody,
		maxBody:   maxBody,
		logger:    logger,
		requests:  make(map[network.RequestID]*capturedRequest),
	}
}

func (c *capture) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		c.mu.Lock()
		c.requests[e.RequestID] = &capturedRequest{
			url:     e.Request.URL,
			method:  e.Request.Method,
			headers: headerMap(e.Request.Headers),
			body:    postData(e.Request.PostDataEntries),
		}
		c.mu.Unlock()

	case *network.EventResponseReceived:
		if e.Response == nil || !isJSONMime(e.Response.MimeType) {
			return
		}
		c.mu.Lock()
		if req, ok := c.requests[e.RequestID]; ok && e.Response.Status < 400 {
			req.json = true
		}
		c.mu.Unlock()

	case *network.EventLoadingFinished:
		c.mu.Lock()
		req, ok := c.requests[e.RequestID]
		delete(c.requests, e.RequestID)
		c.mu.Unlock()
		if !ok || !req.json {
			return
		}
		c.wg.Add(1)
		go c.inspect(e.RequestID, req)

	case *network.EventLoadingFailed:
		c.mu.Lock()
		delete(c.requests, e.RequestID)
		c.mu.Unlock()
	}
}

func (c *capture) inspect(id network.RequestID, req *capturedRequest) {
	defer c.wg.Done()

	body, err := c.fetchBody(id)
	if err != nil {
		c.logger.Debug("response body unavailable", zap.String("url", req.url), zap.Error(err))
		return
	}
	if c.maxBody > 0 && len(body) > c.maxBody {
		c.logger.Debug("response body too large", zap.String("url", req.url), zap.Int("bytes", len(body)))
		return
	}

	cand, ok := Analyze(req.url, req.method, req.headers, req.body, body)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses++
	if ok {
		c.candidates = append(c.candidates, cand)
		c.logger.Debug("listings endpoint captured",
			zap.String("url", cand.URL),
			zap.String("path", cand.ListingsPath),
			zap.Int("count", cand.Count))
	}
}

// results waits for outstanding body reads and returns the candidates in
// capture order.
func (c *capture) results() ([]Candidate, int) {
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Candidate(nil), c.candidates...), c.responses
}

func isJSONMime(mime string) bool {
	return strings.Contains(strings.ToLower(mime), "json")
}

func headerMap(h network.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// postData joins the request body entries, which the protocol sends base64
// encoded.
func postData(entries []*network.PostDataEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		if e == nil {
			continue
		}
		if b, err := base64.StdEncoding.DecodeString(e.Bytes); err == nil {
			sb.Write(b)
		} else {
			sb.WriteString(e.Bytes)
		}
	}
	return sb.String()
}
