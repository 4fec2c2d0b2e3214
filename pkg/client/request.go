package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// Request sends a single-response call and decodes the response into type T.
func Request[T any](ctx context.Context, c *Client, service string, payload interface{}, opts ...CallOption) (*T, error) {
	raw, err := c.Call(ctx, service, payload, opts...)
	if err != nil {
		return nil, err
	}
	var resp T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("wsmux: failed to decode response for service '%s': %w", service, err)
		}
	}
	return &resp, nil
}
