package mailparse

import (
	"hash/fnv"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/encoding/charmap"
)

func init() {
	// Apple Mail and older mail clients still emit these legacy charsets;
	// go-message's default registry doesn't recognize them by name.
	charset.RegisterEncoding("windows-1252", charmap.Windows1252)
	charset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	charset.RegisterEncoding("iso-8859-15", charmap.ISO8859_15)
}

// Message is what the parser hands the synchronizer: the fields needed to
// build a store.NewEmail plus whatever raw Message-ID header was present
// (used only as a last-resort message_id source).
type Message struct {
	MessageID       int64
	HeaderMessageID string
	Subject         string
	Sender          string
	Recipients      string
	Date            time.Time
	Body            string
	Flags           int64
	Attachments     []AttachmentMeta
}

// AttachmentMeta describes one attachment part.
type AttachmentMeta struct {
	Filename  string
	MimeType  string
	FileSize  int64
	ContentID string
}

var stripHTML = bluemonday.StrictPolicy()

// parseRFC822 parses r as an RFC 822 message. A malformed header or body
// yields a degraded, non-nil *Message (empty subject/sender/body as
// applicable) alongside the error, rather than failing outright: the
// caller indexes what it has and logs the error, it doesn't drop the
// message. No count of such errors is kept.
func parseRFC822(r io.Reader) (*Message, error) {
	msg := &Message{}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return msg, err
	}

	header := mr.Header

	if id, err := header.MessageID(); err == nil {
		msg.HeaderMessageID = id
	}
	if subject, err := header.Subject(); err == nil {
		msg.Subject = decodeWord(subject)
	}
	if from, err := header.AddressList("From"); err == nil {
		msg.Sender = addressListString(from)
	}
	var recipients []string
	for _, field := range []string{"To", "Cc", "Bcc"} {
		if addrs, err := header.AddressList(field); err == nil && len(addrs) > 0 {
			recipients = append(recipients, addressListString(addrs))
		}
	}
	msg.Recipients = strings.Join(recipients, ", ")

	if date, err := header.Date(); err == nil {
		msg.Date = date
	} else {
		msg.Date = time.Now().UTC()
	}

	var bodyParts []string
	var htmlParts []string
	var partErr error
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			partErr = err
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			data, _ := io.ReadAll(part.Body)
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				bodyParts = append(bodyParts, string(data))
			case strings.HasPrefix(contentType, "text/html"):
				htmlParts = append(htmlParts, string(data))
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			data, _ := io.ReadAll(part.Body)
			msg.Attachments = append(msg.Attachments, AttachmentMeta{
				Filename:  filename,
				MimeType:  contentType,
				FileSize:  int64(len(data)),
				ContentID: h.Get("Content-Id"),
			})
		}
	}

	if len(bodyParts) > 0 {
		msg.Body = strings.Join(bodyParts, "\n")
	} else if len(htmlParts) > 0 {
		msg.Body = stripHTML.Sanitize(strings.Join(htmlParts, "\n"))
	}

	return msg, partErr
}

func addressListString(addrs []*mail.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			parts = append(parts, a.Name+" <"+a.Address+">")
		} else {
			parts = append(parts, a.Address)
		}
	}
	return strings.Join(parts, ", ")
}

func decodeWord(s string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// fallbackMessageID derives a stable int64 id from a Message-ID header
// when the filename doesn't carry one (non-Apple-Mail fixtures in tests).
func fallbackMessageID(headerMessageID string) int64 {
	if headerMessageID == "" {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(headerMessageID))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}
