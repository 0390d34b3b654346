package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/airchains-network/stateless-verifier/types"
)

var (
	// ErrRejected is returned when the backend refuses the request outright.
	ErrRejected = errors.New("prover: request rejected")
	// ErrPublicValuesMismatch is returned when the proof commits to a
	// different header than the one verified locally.
	ErrPublicValuesMismatch = errors.New("prover: public values do not match header")
)

// maxBackoffSteps caps the linear backoff at 60 steps.
const maxBackoffSteps = 60

type ProverClient struct {
	client      *http.Client
	endpoint    string
	maxAttempts int
	backoff     time.Duration
	log         *logrus.Logger
}

// NewProverClient returns a client for the backend at endpoint. Failed
// attempts are retried up to maxAttempts in total, sleeping backoff times
// the number of previous attempts.
func NewProverClient(endpoint string, timeout time.Duration, maxAttempts int, backoff time.Duration, log *logrus.Logger) *ProverClient {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &ProverClient{
		client:      &http.Client{Timeout: timeout},
		endpoint:    endpoint,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		log:         log,
	}
}

func (p *ProverClient) proverRequest(ctx context.Context, uri string, body any) ([]byte, int, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("error encoding JSON body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, 0, fmt.Errorf("error creating POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("error making HTTP request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("error reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return bodyBytes, resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(bodyBytes))
	}
	return bodyBytes, resp.StatusCode, nil
}

// Prove submits a bundle whose block has been verified locally as header and
// returns the proof. The proof's public values must equal the header hash.
func (p *ProverClient) Prove(ctx context.Context, in *types.ClientExecutorInput, header *ethtypes.Header) (*ProofData, error) {
	input, err := in.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode bundle: %w", err)
	}
	body := ProveRequest{
		BlockNumber:     header.Number.Uint64(),
		BlockHash:       header.Hash(),
		ParentStateRoot: in.ParentHeader().Root,
		StateRoot:       header.Root,
		Input:           input,
	}
	uri := fmt.Sprintf("%s/api/v1/proof/generate", p.endpoint)
	log := p.log.WithField("block", body.BlockNumber)

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := p.backoff * time.Duration(min(attempt-1, maxBackoffSteps))
			log.Warnf("Attempt %d: %v, retrying in %s", attempt-1, lastErr, wait)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("prover generate cancelled: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("prover generate cancelled: %w", err)
		}

		res, statusCode, err := p.proverRequest(ctx, uri, body)
		if err != nil {
			if statusCode >= 400 && statusCode < 500 {
				return nil, fmt.Errorf("%w: non-retryable error (HTTP %d): %w", ErrRejected, statusCode, err)
			}
			lastErr = err
			continue
		}

		var bodyRes ProofResponse
		if err := json.Unmarshal(res, &bodyRes); err != nil {
			lastErr = fmt.Errorf("error unmarshalling response: %w", err)
			continue
		}
		if !bodyRes.Success {
			lastErr = fmt.Errorf("proof generation failed: %s", bodyRes.Description)
			continue
		}
		if !bytes.Equal(bodyRes.Data.PublicValues, body.BlockHash[:]) {
			return nil, fmt.Errorf("%w: got %x, want %s", ErrPublicValuesMismatch, bodyRes.Data.PublicValues, body.BlockHash)
		}
		log.Infof("Received proof of %d bytes", len(bodyRes.Data.Proof))
		return &bodyRes.Data, nil
	}
	return nil, fmt.Errorf("prover generate failed after %d attempts: %w", p.maxAttempts, lastErr)
}
