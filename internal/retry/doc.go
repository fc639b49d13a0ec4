// Package retry provides the single retry-with-backoff utility shared by the
// embedding and reranking clients.
//
// Failures are classified before a retry decision is made:
//
//   - ClassNetwork: connection refused, DNS failure, per-attempt timeout.
//     Retried with exponential backoff.
//   - ClassAPI: rate limits (429), server errors (5xx) and unrecognised
//     failures. Retried with a shorter linear backoff.
//   - ClassPermanent: authentication and validation errors (other 4xx),
//     cancellation of the caller's context, and errors wrapped with Permanent.
//     Returned immediately.
//
// Usage:
//
//	vecs, err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) ([][]float32, error) {
//	    return backend.Embed(ctx, texts, inputType)
//	})
package retry
