package messagelog

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/secgw/messagelog/pkg/records"
)

// SignatureData is the signature produced for one message. For batch
// signatures HashChainResult is what was signed and HashChain links the
// message into it.
type SignatureData struct {
	Signature       []byte
	HashChainResult []byte
	HashChain       []byte
	CertRef         string
}

// IsBatchSignature reports whether the message was signed as part of a
// batch.
func (s SignatureData) IsBatchSignature() bool { return len(s.HashChainResult) > 0 }

// RestMeta describes a REST request or response line and its headers.
type RestMeta struct {
	Method  string
	Path    string
	Status  int
	Headers http.Header
}

// SignedMessage is what the transport layer hands over for logging. Exactly
// one of Message (SOAP) and Rest must be set.
type SignedMessage struct {
	QueryID    string
	Client     records.ClientID
	ServiceID  string
	Response   bool
	XRequestID string

	// Message is the SOAP envelope.
	Message     []byte
	Attachments [][]byte

	Rest *RestMeta
	Body []byte

	Signature SignatureData
}

func (m *SignedMessage) kind() records.RecordKind {
	if m.Rest != nil {
		return records.KindRest
	}
	return records.KindMessage
}

// restText renders the logged text of a REST message: the request or
// status line followed by the headers sorted by name.
func restText(r *RestMeta) (line string, headers string) {
	if r.Status != 0 {
		line = strings.TrimSpace("HTTP/1.1 " + strconv.Itoa(r.Status) + " " + http.StatusText(r.Status))
	} else {
		line = r.Method + " " + r.Path
	}

	names := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, k := range names {
		for _, v := range r.Headers[k] {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
	return line, b.String()
}
