package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nomis52/capexec/config"
	"github.com/tidwall/gjson"
)

func (b *Builder) httpTask(t *config.HTTPTask) (func() (runner, error), error) {
	if t.URL == "" {
		return nil, fmt.Errorf("http: url is required")
	}
	method := strings.ToUpper(t.Method)
	if method == "" {
		method = http.MethodGet
	}

	run := func(ctx context.Context, logger *slog.Logger) (string, any, error) {
		req := b.http.R().SetContext(ctx).SetHeaders(t.Headers)
		if t.Body != "" {
			req.SetBody(t.Body)
		}
		resp, err := req.Execute(method, t.URL)
		if err != nil {
			return "", nil, fmt.Errorf("%s %s: %w", method, t.URL, err)
		}
		body := string(resp.Body())
		logger.Debug("http response", "status", resp.StatusCode(), "bytes", len(body))

		if !statusOK(resp.StatusCode(), t.ExpectStatus) {
			return body, nil, fmt.Errorf("%s %s: unexpected status %s", method, t.URL, resp.Status())
		}
		if t.Extract == "" {
			return body, nil, nil
		}
		if !gjson.Valid(body) {
			return body, nil, fmt.Errorf("%s %s: response is not JSON", method, t.URL)
		}
		field := gjson.Get(body, t.Extract)
		if !field.Exists() {
			return body, nil, fmt.Errorf("%s %s: %q not found in response", method, t.URL, t.Extract)
		}
		return body, field.Value(), nil
	}
	return func() (runner, error) { return run, nil }, nil
}

func statusOK(got, want int) bool {
	if want != 0 {
		return got == want
	}
	return got >= 200 && got < 300
}
