package webhook

import "fmt"

// UnsupportedHookError reports a hook ref whose blob does not start with the
// webhook marker. Hook content is never executed.
type UnsupportedHookError struct {
	Ref       string
	FirstLine string
}

func (e *UnsupportedHookError) Error() string {
	return fmt.Sprintf("unsupported hook type in %s: first line %q is not %q", e.Ref, e.FirstLine, Marker)
}

// WebhookDeliveryError reports a failed POST to one webhook URL.
type WebhookDeliveryError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *WebhookDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook delivery to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("webhook delivery to %s failed: unexpected status %d", e.URL, e.StatusCode)
}

func (e *WebhookDeliveryError) Unwrap() error {
	return e.Err
}
