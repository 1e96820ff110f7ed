package sdk

import "time"

// SetHTTPTimeoutForTest lets external test packages shorten the underlying
// HTTP client timeout without exporting the field.
func (c *Client) SetHTTPTimeoutForTest(d time.Duration) {
	c.httpClient.Timeout = d
}
