package rowan

import (
	"github.com/evergreen-ci/rowan/bson"
)

// Ack is the acknowledgment of an insert or remove. Raw carries the
// server's reply only when the caller asked for a non-default write
// concern; under the default concern failure is reported as an error
// instead and Ok is the whole answer.
type Ack struct {
	Ok  bool
	Raw bson.D
}

// WriteResult is the canonical shape of an update acknowledgment,
// normalized across the bulk-flavored and command-flavored replies
// servers produce.
type WriteResult struct {
	Ok              bool
	N               int
	NModified       int
	UpdatedExisting bool
	UpsertedID      any
	Err             bson.A
	ErrMsg          []string
	Raw             bson.D
}

// newWriteResult reshapes a server update reply. Matched counts favor
// the bulk "nMatched" field and fall back to the command "n", which
// counts upserts; upserted documents are subtracted back out so
// UpdatedExisting reflects matches alone. Err and ErrMsg are never
// nil.
func newWriteResult(resp bson.D) *WriteResult {
	res := &WriteResult{
		Ok:     responseOK(resp),
		Err:    bson.A{},
		ErrMsg: []string{},
		Raw:    resp,
	}

	matched, found := lookupInt(resp, "nMatched")
	if !found {
		matched, _ = lookupInt(resp, "n")
	}
	res.NModified, _ = lookupInt(resp, "nModified")

	if upserted, found := resp.Lookup("upserted"); found {
		if arr, ok := upserted.(bson.A); ok && len(arr) > 0 {
			matched -= len(arr)
			if first, ok := arr[0].(bson.D); ok {
				res.UpsertedID, _ = first.Lookup("_id")
			}
		}
	}
	if matched < 0 {
		matched = 0
	}
	res.N = matched
	res.UpdatedExisting = matched > 0

	if raw, found := resp.Lookup("writeErrors"); found {
		if arr, ok := raw.(bson.A); ok {
			res.Err = arr
			for _, item := range arr {
				doc, ok := item.(bson.D)
				if !ok {
					continue
				}
				if msg, found := doc.Lookup("errmsg"); found {
					if s, ok := msg.(string); ok {
						res.ErrMsg = append(res.ErrMsg, s)
					}
				}
			}
		}
	}
	if !res.Ok {
		if msg, found := resp.Lookup("errmsg"); found {
			if s, ok := msg.(string); ok {
				res.ErrMsg = append(res.ErrMsg, s)
			}
		}
	}

	return res
}

// responseOK interprets the numeric ok field of a server reply.
func responseOK(resp bson.D) bool {
	v, found := resp.Lookup("ok")
	if !found {
		return false
	}
	n, ok := asInt(v)
	return ok && n == 1
}

// commandFailure converts a not-ok reply into a CommandError, or nil
// for a healthy reply.
func commandFailure(command string, resp bson.D) error {
	if responseOK(resp) {
		return nil
	}
	return newCommandError(command, resp)
}

// newCommandError extracts the failure fields of a not-ok reply.
func newCommandError(command string, resp bson.D) *CommandError {
	cmdErr := &CommandError{Command: command, Message: "command failed"}
	if msg, found := resp.Lookup("errmsg"); found {
		if s, ok := msg.(string); ok && s != "" {
			cmdErr.Message = s
		}
	}
	if code, found := resp.Lookup("code"); found {
		if n, ok := asInt(code); ok {
			cmdErr.Code = n
		}
	}
	return cmdErr
}

// asInt coerces the numeric shapes servers use interchangeably.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func lookupInt(doc bson.D, key string) (int, bool) {
	v, found := doc.Lookup(key)
	if !found {
		return 0, false
	}
	return asInt(v)
}
