package strategy

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dentalnet/offline-edge/internal/cache"
	"github.com/dentalnet/offline-edge/internal/fallback"
	"github.com/dentalnet/offline-edge/internal/fetch"
)

var errOffline = errors.New("network unreachable")

// fakeNetwork 模拟上游：按路径返回预设响应，offline 时所有请求失败。
type fakeNetwork struct {
	mu        sync.Mutex
	responses map[string]*fetch.Response
	failure   error
	offline   atomic.Bool
	calls     atomic.Int32
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{responses: make(map[string]*fetch.Response)}
}

func (n *fakeNetwork) set(path string, status int, body string) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	n.mu.Lock()
	n.responses[path] = &fetch.Response{Status: status, Header: header, Body: []byte(body), Source: fetch.SourceNetwork}
	n.mu.Unlock()
}

func (n *fakeNetwork) Fetch(_ context.Context, req *fetch.Request) (*fetch.Response, error) {
	n.calls.Add(1)
	if n.offline.Load() {
		return nil, errOffline
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failure != nil {
		return nil, n.failure
	}
	resp, ok := n.responses[req.Path()]
	if !ok {
		return &fetch.Response{Status: http.StatusNotFound, Header: http.Header{}, Body: []byte("not found"), Source: fetch.SourceNetwork}, nil
	}
	return resp.Clone(), nil
}

func (n *fakeNetwork) failWith(err error) {
	n.mu.Lock()
	n.failure = err
	n.mu.Unlock()
}

// brokenPartition 的读写都可以注入 I/O 错误；getErr 为 nil 时按未命中处理。
type brokenPartition struct {
	getErr error
	putErr error
	puts   atomic.Int32
}

func (p *brokenPartition) Name() string { return "broken" }

func (p *brokenPartition) Get(context.Context, cache.Key) (cache.CapturedResponse, error) {
	if p.getErr != nil {
		return cache.CapturedResponse{}, p.getErr
	}
	return cache.CapturedResponse{}, cache.ErrNotFound
}

func (p *brokenPartition) Put(context.Context, cache.Key, cache.CapturedResponse) error {
	p.puts.Add(1)
	return p.putErr
}

type testEnv struct {
	network *fakeNetwork
	static  *cache.Partition
	api     *cache.Partition
	deps    Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	manager, err := cache.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	set := cache.NewPartitionSet("dentalnet", "1.0.0")
	ctx := context.Background()
	static, err := manager.OpenPartition(ctx, set.Static)
	if err != nil {
		t.Fatalf("open static: %v", err)
	}
	api, err := manager.OpenPartition(ctx, set.API)
	if err != nil {
		t.Fatalf("open api: %v", err)
	}
	network := newFakeNetwork()
	return &testEnv{
		network: network,
		static:  static,
		api:     api,
		deps: Deps{
			Network:    network,
			Static:     static,
			API:        api,
			Fallback:   fallback.Provider{Message: "offline", ListingKeywords: []string{"clinics", "locations"}},
			Background: NewBackground(nil),
		},
	}
}

func mustRequest(t *testing.T, method, rawURL string) *fetch.Request {
	t.Helper()
	req, err := fetch.NewRequest(method, rawURL)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}
