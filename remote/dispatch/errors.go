package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/remote_connector/remote/transport"
)

var (
	// ErrUnknownOperation is returned for names the model does not expose.
	ErrUnknownOperation = errors.New("unknown remote operation")
	// ErrMissingID is returned when an instance operation has no id to address.
	ErrMissingID = errors.New("id is required")
)

// TransportError is a failure to reach the remote side at all.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: transport error calling %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteStatusError is a non-2xx response, decoded from the remote error
// envelope when one is present.
type RemoteStatusError struct {
	Op         string
	StatusCode int
	Name       string
	Code       string
	Message    string
	Details    any
}

func (e *RemoteStatusError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: remote status %d", e.Op, e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// NotFound reports whether the remote side answered 404.
func (e *RemoteStatusError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// ValidationError is a RemoteStatusError raised by the remote model layer's
// validation, with per-property codes and messages when the body has them.
type ValidationError struct {
	*RemoteStatusError
	Codes    map[string][]string
	Messages map[string][]string
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return e.RemoteStatusError.Error()
	}
	fields := make([]string, 0, len(e.Messages))
	for f := range e.Messages {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, strings.Join(e.Messages[f], ", ")))
	}
	return fmt.Sprintf("%s [%s]", e.RemoteStatusError.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return e.RemoteStatusError
}

// decodeError turns a non-2xx response into a typed error.
func decodeError(op string, resp *transport.Response) error {
	e := &RemoteStatusError{Op: op, StatusCode: resp.StatusCode}

	env := gjson.GetBytes(resp.Body, "error")
	if env.IsObject() {
		e.Name = env.Get("name").String()
		e.Code = env.Get("code").String()
		e.Message = env.Get("message").String()
		if d := env.Get("details"); d.Exists() {
			e.Details = d.Value()
		}
	} else if msg := strings.TrimSpace(string(resp.Body)); msg != "" && len(msg) <= 512 {
		e.Message = msg
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode != http.StatusUnprocessableEntity && e.Name != "ValidationError" {
		return e
	}
	return &ValidationError{
		RemoteStatusError: e,
		Codes:             stringLists(env.Get("details.codes")),
		Messages:          stringLists(env.Get("details.messages")),
	}
}

func stringLists(r gjson.Result) map[string][]string {
	if !r.IsObject() {
		return nil
	}
	out := make(map[string][]string)
	r.ForEach(func(key, value gjson.Result) bool {
		var list []string
		if value.IsArray() {
			for _, v := range value.Array() {
				list = append(list, v.String())
			}
		} else {
			list = append(list, value.String())
		}
		out[key.String()] = list
		return true
	})
	return out
}
