package sdk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/zirconvm/zircon/log"
	"github.com/zirconvm/zircon/runtime"
	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/wrap"
)

// Network errors.
var (
	ErrNoEndpoint    = errors.New("sdk: network backend needs an endpoint")
	ErrRemoteFailure = errors.New("sdk: remote prover failed")
)

const rlpContentType = "application/x-zircon-rlp"

// retryBaseDelay is the backoff unit between identical-input retries.
const retryBaseDelay = 200 * time.Millisecond

// NetworkProver delegates proving to a remote service. Requests carry the
// full program and input, so a transient failure can be retried with
// byte-identical inputs; a failed stage is surfaced as an error, never
// silently re-proven with different inputs.
type NetworkProver struct {
	cfg    Config
	client *http.Client
	store  *wrap.ArtifactStore
	log    *log.Logger
}

// NewNetworkProver creates a remote prover client.
func NewNetworkProver(cfg Config) (*NetworkProver, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = defaultArtifactDir()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &NetworkProver{
		cfg:    cfg,
		client: client,
		store:  wrap.NewArtifactStore(cfg.ArtifactDir),
		log:    log.Default().Module("sdk.network"),
	}, nil
}

// wire request and response bodies.
type wireDeferred struct {
	Proof stark.ShardProof
	Vk    stark.VerifyingKey
}

type executeRequest struct {
	Code      []byte
	StartPC   uint64
	Input     []byte
	Deferred  []wireDeferred
	MaxCycles uint64
}

type executeResponse struct {
	Output         []byte
	TotalCycles    uint64
	Shards         uint64
	DeferredProofs uint64
}

type proveRequest struct {
	Code      []byte
	StartPC   uint64
	Input     []byte
	Deferred  []wireDeferred
	Mode      uint8
	MaxCycles uint64
}

// Setup derives the program keys. Key derivation is deterministic, so it
// runs locally.
func (p *NetworkProver) Setup(code []byte, startPC uint64) (*stark.ProvingKey, *stark.VerifyingKey) {
	return stark.Setup(code, startPC)
}

// Execute runs the program on the remote service.
func (p *NetworkProver) Execute(ctx context.Context, program *runtime.Program, stdin *runtime.Stdin) ([]byte, *runtime.Report, error) {
	req := executeRequest{
		Code:      program.Code,
		StartPC:   program.StartPC,
		Input:     stdin.Input,
		Deferred:  toWireDeferred(stdin.DeferredProofs),
		MaxCycles: p.cfg.MaxCycles,
	}
	body, err := rlp.EncodeToBytes(&req)
	if err != nil {
		return nil, nil, err
	}
	respBody, err := p.post(ctx, "/v1/execute", body)
	if err != nil {
		return nil, nil, err
	}
	var resp executeResponse
	if err := rlp.DecodeBytes(respBody, &resp); err != nil {
		return nil, nil, fmt.Errorf("sdk: decode execute response: %w", err)
	}
	return resp.Output, &runtime.Report{
		TotalCycles:    resp.TotalCycles,
		Shards:         int(resp.Shards),
		DeferredProofs: int(resp.DeferredProofs),
	}, nil
}

// Prove runs the pipeline on the remote service. The remote performs every
// stage server side and returns the finished bundle; it is bit-compatible
// with a local run on the same inputs.
func (p *NetworkProver) Prove(ctx context.Context, pk *stark.ProvingKey, stdin *runtime.Stdin, mode ProofMode) (*ProofBundle, error) {
	req := proveRequest{
		Code:      pk.Program,
		StartPC:   pk.Vk.StartPC,
		Input:     stdin.Input,
		Deferred:  toWireDeferred(stdin.DeferredProofs),
		Mode:      uint8(mode),
		MaxCycles: p.cfg.MaxCycles,
	}
	body, err := rlp.EncodeToBytes(&req)
	if err != nil {
		return nil, err
	}
	respBody, err := p.post(ctx, "/v1/prove", body)
	if err != nil {
		return nil, err
	}
	return DeserializeBundle(respBody)
}

// Verify checks a bundle locally.
func (p *NetworkProver) Verify(bundle *ProofBundle, vk *stark.VerifyingKey) error {
	return verifyBundle(bundle, vk, p.store)
}

// Version returns the pipeline version.
func (p *NetworkProver) Version() string { return Version }

// post sends a request, retrying with identical inputs on transient
// failures only. Cancellation of ctx aborts immediately, including between
// retries.
func (p *NetworkProver) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.Retries; attempt++ {
		if attempt > 0 {
			p.log.Warn("retrying remote request", "path", path, "attempt", attempt, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBaseDelay):
			}
		}
		respBody, transient, err := p.postOnce(ctx, path, body)
		if err == nil {
			return respBody, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !transient {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *NetworkProver) postOnce(ctx context.Context, path string, body []byte) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", rlpContentType)

	resp, err := p.client.Do(req)
	if err != nil {
		// Transport-level failures are transient.
		return nil, true, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return respBody, false, nil
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: status %d: %s", ErrRemoteFailure, resp.StatusCode, respBody)
	default:
		return nil, false, fmt.Errorf("%w: status %d: %s", ErrRemoteFailure, resp.StatusCode, respBody)
	}
}

func toWireDeferred(deferred []runtime.DeferredProof) []wireDeferred {
	out := make([]wireDeferred, len(deferred))
	for i := range deferred {
		out[i] = wireDeferred{Proof: *deferred[i].Proof, Vk: deferred[i].Vk}
	}
	return out
}

func fromWireDeferred(deferred []wireDeferred) []runtime.DeferredProof {
	out := make([]runtime.DeferredProof, len(deferred))
	for i := range deferred {
		proof := deferred[i].Proof
		out[i] = runtime.DeferredProof{Proof: &proof, Vk: deferred[i].Vk}
	}
	return out
}

// ProverServer adapts a backend prover into the remote service handler the
// NetworkProver talks to.
type ProverServer struct {
	backend Prover
	log     *log.Logger
}

// NewProverServer creates the handler around a backend.
func NewProverServer(backend Prover) *ProverServer {
	return &ProverServer{backend: backend, log: log.Default().Module("sdk.server")}
}

// ServeHTTP implements http.Handler.
func (s *ProverServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/v1/execute":
		s.handleExecute(w, r)
	case "/v1/prove":
		s.handleProve(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *ProverServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	program := runtime.NewProgram(req.Code, req.StartPC)
	stdin := &runtime.Stdin{Input: req.Input, DeferredProofs: fromWireDeferred(req.Deferred)}
	output, report, err := s.backend.Execute(r.Context(), program, stdin)
	if err != nil {
		s.fail(w, "execute", err)
		return
	}
	resp := executeResponse{
		Output:         output,
		TotalCycles:    report.TotalCycles,
		Shards:         uint64(report.Shards),
		DeferredProofs: uint64(report.DeferredProofs),
	}
	s.reply(w, &resp)
}

func (s *ProverServer) handleProve(w http.ResponseWriter, r *http.Request) {
	var req proveRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pk, _ := s.backend.Setup(req.Code, req.StartPC)
	stdin := &runtime.Stdin{Input: req.Input, DeferredProofs: fromWireDeferred(req.Deferred)}
	bundle, err := s.backend.Prove(r.Context(), pk, stdin, ProofMode(req.Mode))
	if err != nil {
		s.fail(w, "prove", err)
		return
	}
	data, err := bundle.Serialize()
	if err != nil {
		s.fail(w, "prove", err)
		return
	}
	w.Header().Set("Content-Type", rlpContentType)
	w.Write(data)
}

func (s *ProverServer) reply(w http.ResponseWriter, v any) {
	data, err := rlp.EncodeToBytes(v)
	if err != nil {
		s.fail(w, "encode", err)
		return
	}
	w.Header().Set("Content-Type", rlpContentType)
	w.Write(data)
}

func (s *ProverServer) fail(w http.ResponseWriter, op string, err error) {
	s.log.Error("remote request failed", "op", op, "err", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return rlp.DecodeBytes(body, v)
}
