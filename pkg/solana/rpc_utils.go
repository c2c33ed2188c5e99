package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

const DefaultProbeTimeout = 2 * time.Second

var ErrNoHealthyEndpoint = errors.New("no healthy RPC endpoint")

// Shared HTTP client with connection pooling for health probes
var (
	rpcCheckClient *http.Client
	clientOnce     sync.Once
)

func getRPCClient() *http.Client {
	clientOnce.Do(func() {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
		rpcCheckClient = &http.Client{
			Transport: transport,
			Timeout:   DefaultProbeTimeout,
		}
	})
	return rpcCheckClient
}

// RPCRequest represents a JSON-RPC request
type RPCRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// RPCResponse represents a JSON-RPC response
type RPCResponse struct {
	Jsonrpc string           `json:"jsonrpc"`
	Result  interface{}      `json:"result"`
	Error   *json.RawMessage `json:"error"`
	ID      int              `json:"id"`
}

// RPCCheckResult represents the result of checking an RPC endpoint
type RPCCheckResult struct {
	URL     string        `json:"url"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckRPC sends getHealth to url and reports whether it answered cleanly.
func CheckRPC(ctx context.Context, url string, timeout time.Duration) RPCCheckResult {
	start := time.Now()
	fail := func(msg string) RPCCheckResult {
		return RPCCheckResult{URL: url, OK: false, Latency: time.Since(start), Error: msg}
	}

	body, _ := json.Marshal(RPCRequest{
		Jsonrpc: "2.0",
		ID:      1,
		Method:  "getHealth",
		Params:  []interface{}{},
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fail(err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	requestClient := &http.Client{
		Transport: getRPCClient().Transport,
		Timeout:   timeout,
	}
	resp, err := requestClient.Do(httpReq)
	if err != nil {
		return fail(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Sprintf("status code: %d", resp.StatusCode))
	}

	var result RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fail(err.Error())
	}
	if result.Error != nil {
		return fail(fmt.Sprintf("rpc error: %s", string(*result.Error)))
	}
	if s, ok := result.Result.(string); ok && !strings.EqualFold(s, "ok") {
		return fail(fmt.Sprintf("unhealthy: %s", s))
	}

	return RPCCheckResult{URL: url, OK: true, Latency: time.Since(start)}
}

// CheckRPCListAsync probes every endpoint concurrently. Results keep the
// order of rpcList.
func CheckRPCListAsync(ctx context.Context, rpcList []string, timeout time.Duration) []RPCCheckResult {
	results := make([]RPCCheckResult, len(rpcList))
	var wg sync.WaitGroup
	for i, url := range rpcList {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			results[i] = CheckRPC(ctx, url, timeout)
		}(i, url)
	}
	wg.Wait()
	return results
}

// ChainClient is the subset of *rpc.Client used to submit and track
// transactions.
type ChainClient interface {
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Prober checks a single endpoint.
type Prober func(ctx context.Context, url string) error

// Dialer builds a ChainClient for a healthy endpoint.
type Dialer func(url string) ChainClient

// EndpointPool hands out a connection to the first healthy endpoint, primary
// first and then the fallbacks in order.
type EndpointPool struct {
	endpoints []string
	probe     Prober
	dial      Dialer
}

// NewEndpointPool builds a pool probing with getHealth and dialing *rpc.Client.
func NewEndpointPool(primary string, fallbacks []string) *EndpointPool {
	return NewEndpointPoolWith(primary, fallbacks, HealthProbe(DefaultProbeTimeout), func(url string) ChainClient {
		return rpc.New(url)
	})
}

func NewEndpointPoolWith(primary string, fallbacks []string, probe Prober, dial Dialer) *EndpointPool {
	var endpoints []string
	seen := map[string]bool{}
	for _, e := range append([]string{primary}, fallbacks...) {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		endpoints = append(endpoints, e)
	}
	return &EndpointPool{endpoints: endpoints, probe: probe, dial: dial}
}

// HealthProbe adapts CheckRPC to a Prober.
func HealthProbe(timeout time.Duration) Prober {
	return func(ctx context.Context, url string) error {
		res := CheckRPC(ctx, url, timeout)
		if !res.OK {
			return errors.New(res.Error)
		}
		return nil
	}
}

func (p *EndpointPool) Endpoints() []string {
	return append([]string(nil), p.endpoints...)
}

// Connect returns a client for the first endpoint passing the probe. It
// fails with ErrNoHealthyEndpoint only when every endpoint fails.
func (p *EndpointPool) Connect(ctx context.Context) (ChainClient, string, error) {
	var failures []string
	for _, url := range p.endpoints {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		if err := p.probe(ctx, url); err != nil {
			log.WithFields(log.Fields{"endpoint": url, "error": err}).Warn("RPC endpoint failed health probe")
			failures = append(failures, fmt.Sprintf("%s: %v", url, err))
			continue
		}
		return p.dial(url), url, nil
	}
	if len(failures) == 0 {
		return nil, "", fmt.Errorf("%w: none configured", ErrNoHealthyEndpoint)
	}
	return nil, "", fmt.Errorf("%w: %s", ErrNoHealthyEndpoint, strings.Join(failures, "; "))
}
