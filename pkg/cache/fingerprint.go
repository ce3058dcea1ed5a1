package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/pario-ai/aigate/pkg/models"
)

// messagesOption is the option key under which chat messages join the
// fingerprint. The leading underscore keeps it out of the caller's namespace.
const messagesOption = "_messages"

// Fingerprint returns the cache key for a prompt and its options.
//
// The canonical form is the JSON object {"prompt": p, k1: v1, ...} where p is
// the trimmed, lower-cased prompt and options follow in the order the caller
// supplied them. An option named "prompt" is kept as a second key, so it
// still distinguishes requests.
func Fingerprint(prompt string, options models.Options) models.Fingerprint {
	sum := sha256.Sum256(canonical(prompt, options))
	return models.Fingerprint(hex.EncodeToString(sum[:]))
}

// FingerprintRequest fingerprints a request, folding chat messages in as a
// trailing option so message-only requests do not collide.
func FingerprintRequest(req *models.Request) models.Fingerprint {
	opts := req.Options
	if len(req.Messages) > 0 {
		opts = make(models.Options, 0, len(req.Options)+1)
		opts = append(opts, req.Options...)
		opts = append(opts, models.NewOption(messagesOption, req.Messages))
	}
	return Fingerprint(req.Prompt, opts)
}

func canonical(prompt string, options models.Options) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"prompt":`)
	writeString(&buf, strings.ToLower(strings.TrimSpace(prompt)))
	for _, opt := range options {
		buf.WriteByte(',')
		writeString(&buf, opt.Key)
		buf.WriteByte(':')
		writeValue(&buf, opt.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// writeValue writes v in compact form. Bytes that are not valid JSON are
// encoded as a string so they still contribute to the digest.
func writeValue(buf *bytes.Buffer, v []byte) {
	if len(v) == 0 {
		buf.WriteString("null")
		return
	}
	mark := buf.Len()
	if err := json.Compact(buf, v); err != nil {
		buf.Truncate(mark)
		writeString(buf, string(v))
	}
}
