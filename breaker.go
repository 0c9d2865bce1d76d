package perfcore

import "context"

// executeWithResilience runs f behind the remote-tier circuit breaker with
// retries inside the breaker's accounting.
func (c *CacheEngine) executeWithResilience(ctx context.Context, f func() error) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.retr.Run(ctx, f)
	})
	return err
}
