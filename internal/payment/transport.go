package payment

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

const maxResponseBody = 1 << 20

// StatusError is returned when a gateway answers with a non-2xx status.
type StatusError struct {
	Gateway Method
	Code    int
	Detail  string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return string(e.Gateway) + ": unexpected status " + strconv.Itoa(e.Code)
	}
	return string(e.Gateway) + ": unexpected status " + strconv.Itoa(e.Code) + ": " + e.Detail
}

// send executes req and returns the body of a 2xx response.
func send(client *http.Client, method Method, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s request", method)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, errors.Wrapf(err, "%s read response", method)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Gateway: method, Code: resp.StatusCode, Detail: errorDetail(body)}
	}
	return body, nil
}

// errorDetail extracts a human readable message from a gateway error body.
func errorDetail(body []byte) string {
	fields, err := decodeFlat(body)
	if err != nil {
		return ""
	}
	for _, key := range []string{"detail", "error_message", "message", "error_key"} {
		if v := fields[key]; v != "" {
			return v
		}
	}
	return ""
}

// decodeFlat reads a JSON object and returns its scalar members as strings.
// Nested values and nulls are skipped.
func decodeFlat(data []byte) (map[string]string, error) {
	out := make(map[string]string)
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch d.Next() {
		case jx.String:
			v, err := d.Str()
			if err != nil {
				return err
			}
			out[string(key)] = v
		case jx.Number:
			v, err := d.Num()
			if err != nil {
				return err
			}
			out[string(key)] = v.String()
		case jx.Bool:
			v, err := d.Bool()
			if err != nil {
				return err
			}
			out[string(key)] = strconv.FormatBool(v)
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode json object")
	}
	return out, nil
}
